package ap

import (
	"context"
	"sync"
)

// requestGuard hands out a monotonic token per resource. Only the holder of
// the latest token may apply its response; beginning a newer request cancels
// the older one.
type requestGuard struct {
	mu     sync.Mutex
	seq    map[Resource]uint64
	cancel map[Resource]context.CancelFunc
}

func (g *requestGuard) begin(ctx context.Context, r Resource) (context.Context, uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seq == nil {
		g.seq = make(map[Resource]uint64)
		g.cancel = make(map[Resource]context.CancelFunc)
	}
	if cancel, ok := g.cancel[r]; ok {
		cancel()
	}
	g.seq[r]++
	ctx, cancel := context.WithCancel(ctx)
	g.cancel[r] = cancel
	return ctx, g.seq[r]
}

func (g *requestGuard) current(r Resource, token uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seq[r] == token
}

func (g *requestGuard) finish(r Resource, token uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seq[r] != token {
		return
	}
	if cancel, ok := g.cancel[r]; ok {
		cancel()
		delete(g.cancel, r)
	}
}

// supersede invalidates every in-flight request for the resources.
func (g *requestGuard) supersede(resources ...Resource) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seq == nil {
		g.seq = make(map[Resource]uint64)
		g.cancel = make(map[Resource]context.CancelFunc)
	}
	for _, r := range resources {
		if cancel, ok := g.cancel[r]; ok {
			cancel()
			delete(g.cancel, r)
		}
		g.seq[r]++
	}
}
