package engine

import "sync"

// attemptLimit bounds how many opportunity ids the guard remembers. Oldest
// entries are evicted first; by then the opportunity is long expired anyway.
const attemptLimit = 4096

// attemptGuard enforces the one-attempt-per-opportunity rule. An id that was
// ever begun, regardless of outcome, is never begun again.
type attemptGuard struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
}

func newAttemptGuard() *attemptGuard {
	return &attemptGuard{seen: make(map[string]struct{})}
}

// begin marks the id as attempted. It returns false when the id was already
// attempted.
func (g *attemptGuard) begin(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.seen[id]; ok {
		return false
	}

	g.seen[id] = struct{}{}
	g.order = append(g.order, id)
	if len(g.order) > attemptLimit {
		evict := g.order[0]
		g.order = g.order[1:]
		delete(g.seen, evict)
	}
	return true
}

// forget releases an id whose attempt was abandoned before submission, so the
// guard does not hold entries for work that never reached the chain.
func (g *attemptGuard) forget(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.seen[id]; !ok {
		return
	}
	delete(g.seen, id)
	for i, v := range g.order {
		if v == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
}
