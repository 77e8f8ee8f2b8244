package demo

import (
	"sync"
	"time"

	"github.com/hollis-dev/tempest/internal/engine"
	"github.com/hollis-dev/tempest/internal/graph"
)

// lookupCap is how many lookups the cache can have in flight.
const lookupCap = 1

// CacheRequest is a client query keyed by sequence number.
type CacheRequest struct {
	ID int
}

// CacheResponse is the cache's answer. OK is false when the request was
// rejected because a lookup was already in flight.
type CacheResponse struct {
	ID int
	OK bool
}

// CacheStats is the observable state of the cache demo.
type CacheStats struct {
	mu        sync.Mutex
	Sent      int
	Completed int
	Rejected  int
	Received  []CacheResponse
}

// Snapshot returns a copy of the stats without the lock.
func (s *CacheStats) Snapshot() CacheStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CacheStats{
		Sent:      s.Sent,
		Completed: s.Completed,
		Rejected:  s.Rejected,
		Received:  append([]CacheResponse(nil), s.Received...),
	}
}

// NewCachePipeline builds the cache program.
//
// A client fires requests every 2ms. The cache simulates a 5ms lookup with a
// logical action carrying a minimum delay and holds at most one lookup in
// flight. A request arriving while a lookup is pending is answered
// negatively within its own tag and counted as a capacity error; it is
// never queued for a later success.
func NewCachePipeline() (*graph.Program, engine.Handlers, *CacheStats) {
	prog := &graph.Program{
		Name: "cache",
		Reactors: []graph.Reactor{
			{
				Name:    "Client",
				Timers:  []graph.Timer{{Name: "tick", Period: 2 * time.Millisecond}},
				Inputs:  []string{"reply"},
				Outputs: []string{"query"},
				Reactions: []graph.Reaction{
					{Label: "send", Triggers: []string{"tick"}, Effects: []string{"query"}},
					{Label: "recv", Triggers: []string{"reply"}},
				},
			},
			{
				Name:    "Cache",
				Inputs:  []string{"request"},
				Outputs: []string{"resp"},
				Actions: []graph.Action{{Name: "done", MinDelay: 5 * time.Millisecond}},
				Reactions: []graph.Reaction{
					{Label: "lookup", Triggers: []string{"request"}, Effects: []string{"done", "resp"}},
					{Label: "complete", Triggers: []string{"done"}, Effects: []string{"resp"}},
				},
			},
		},
		Connections: []graph.Connection{
			{From: graph.Endpoint{Reactor: "Client", Port: "query"}, To: graph.Endpoint{Reactor: "Cache", Port: "request"}},
			{From: graph.Endpoint{Reactor: "Cache", Port: "resp"}, To: graph.Endpoint{Reactor: "Client", Port: "reply"}},
		},
	}

	stats := &CacheStats{}
	var pending bool

	handlers := engine.Handlers{
		"Client.send": {Body: func(c *engine.Context) error {
			stats.mu.Lock()
			stats.Sent++
			n := stats.Sent
			stats.mu.Unlock()

			if err := c.Set("query", CacheRequest{ID: n}); err != nil {
				return err
			}
			if n >= 5 {
				c.RequestStop()
			}
			return nil
		}},
		"Client.recv": {Body: func(c *engine.Context) error {
			v, ok := c.Get("reply")
			if !ok {
				return nil
			}
			resp := v.(CacheResponse)
			stats.mu.Lock()
			stats.Received = append(stats.Received, resp)
			stats.mu.Unlock()
			return nil
		}},
		"Cache.lookup": {Body: func(c *engine.Context) error {
			v, ok := c.Get("request")
			if !ok {
				return nil
			}
			req := v.(CacheRequest)

			if !pending {
				pending = true
				return c.Schedule("done", 0, req)
			}

			// A lookup is already in flight: answer negatively within the
			// requesting tag and surface the overload as a capacity error.
			// Queueing here would turn the rejection into a late success.
			stats.mu.Lock()
			stats.Rejected++
			stats.mu.Unlock()
			if err := c.Set("resp", CacheResponse{ID: req.ID, OK: false}); err != nil {
				return err
			}
			return engine.NewCapacityError("lookups in flight", lookupCap)
		}},
		"Cache.complete": {Body: func(c *engine.Context) error {
			v, ok := c.Get("done")
			if !ok {
				return nil
			}
			req := v.(CacheRequest)

			stats.mu.Lock()
			stats.Completed++
			stats.mu.Unlock()
			pending = false
			return c.Set("resp", CacheResponse{ID: req.ID, OK: true})
		}},
	}

	return prog, handlers, stats
}
