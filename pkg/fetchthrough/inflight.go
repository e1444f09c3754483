package fetchthrough

import (
	"errors"
	"sync"
)

// ErrPageAborted is recorded on pages that never reached the upstream because
// an earlier page of the same call failed.
var ErrPageAborted = errors.New("page aborted after an earlier page failed")

// keyed pairs a fetched record with the request identifier it answers.
type keyed[T any] struct {
	requestID string
	record    T
}

// flight is one upstream page owned by a single call. Other calls that need
// any of its ids wait on done and read records and err afterwards.
type flight[T any] struct {
	ids     []string
	done    chan struct{}
	records []keyed[T]
	err     error

	// Owner-only: ids still to fetch and those found in the store after the
	// claim.
	fetch []string
	hits  []keyed[T]
}

// flightGroup is the per-identifier in-flight registry.
type flightGroup[T any] struct {
	mu       sync.Mutex
	inflight map[string]*flight[T]
}

func newFlightGroup[T any]() *flightGroup[T] {
	return &flightGroup[T]{inflight: make(map[string]*flight[T])}
}

// claim splits ids into pages this call now owns and ids already being
// fetched by someone else, grouped by the flight that will answer them.
func (g *flightGroup[T]) claim(ids []string, pageSize int) ([]*flight[T], map[*flight[T]][]string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var owned []*flight[T]
	var waits map[*flight[T]][]string
	var cur *flight[T]
	for _, id := range ids {
		if f, ok := g.inflight[id]; ok {
			if waits == nil {
				waits = make(map[*flight[T]][]string)
			}
			waits[f] = append(waits[f], id)
			continue
		}
		if cur == nil || len(cur.ids) == pageSize {
			cur = &flight[T]{done: make(chan struct{})}
			owned = append(owned, cur)
		}
		cur.ids = append(cur.ids, id)
		g.inflight[id] = cur
	}
	return owned, waits
}

// finish publishes the outcome of f and releases its ids. It must be called
// exactly once per owned flight.
func (g *flightGroup[T]) finish(f *flight[T], records []keyed[T], err error) {
	f.records = records
	f.err = err

	g.mu.Lock()
	for _, id := range f.ids {
		if g.inflight[id] == f {
			delete(g.inflight, id)
		}
	}
	g.mu.Unlock()

	close(f.done)
}

// pending reports how many identifiers are currently in flight.
func (g *flightGroup[T]) pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inflight)
}
