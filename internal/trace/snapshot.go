package trace

import (
	"github.com/hollis-dev/tempest/internal/engine"
)

// Snapshot converts a program name plus its dispatch stream into the
// canonical map form used for digests and golden comparison. Tags are
// flattened to integer fields so the encoding never touches floats.
func Snapshot(program string, dispatches []engine.Dispatch) map[string]any {
	rows := make([]any, 0, len(dispatches))
	for _, d := range dispatches {
		rows = append(rows, map[string]any{
			"time_ns":   d.Tag.Time,
			"microstep": d.Tag.Microstep,
			"reactor":   d.Reactor,
			"reaction":  d.Reaction,
			"outcome":   string(d.Outcome),
		})
	}
	return map[string]any{
		"program":    program,
		"dispatches": rows,
	}
}

// SnapshotDigest is the hex SHA-256 of the canonical snapshot. Two runs of
// the same program are replay-identical iff their digests match.
func SnapshotDigest(program string, dispatches []engine.Dispatch) (string, error) {
	return Digest(Snapshot(program, dispatches))
}
