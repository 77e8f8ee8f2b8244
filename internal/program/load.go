package program

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/hollis-dev/tempest/internal/graph"
)

// LoadFile reads a CUE topology file and compiles the program definition at
// its top-level "program" field.
func LoadFile(path string) (*graph.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topology: %w", err)
	}
	return LoadBytes(data, path)
}

// LoadBytes compiles CUE source. The filename is used for error positions
// only.
func LoadBytes(src []byte, filename string) (*graph.Program, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	progVal := v.LookupPath(cue.ParsePath("program"))
	if !progVal.Exists() {
		return nil, &CompileError{
			Field:   "program",
			Message: "no top-level program field",
			Pos:     v.Pos(),
		}
	}
	return Compile(progVal)
}
