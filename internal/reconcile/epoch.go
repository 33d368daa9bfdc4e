package reconcile

import (
	"context"
	"sync"
)

// epochGuard hands out one generation number per reconciliation pass and per
// client. A pass may only commit while its generation is still the latest.
type epochGuard struct {
	mu    sync.Mutex
	seq   uint64
	slots map[string]*epochSlot
}

type epochSlot struct {
	mu    sync.Mutex
	epoch uint64
	// signedOut is the generation of the client's last sign-out
	signedOut uint64
}

func newEpochGuard() *epochGuard {
	return &epochGuard{slots: make(map[string]*epochSlot)}
}

func (g *epochGuard) slot(clientID string) *epochSlot {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.slots[clientID]
	if !ok {
		s = &epochSlot{}
		g.slots[clientID] = s
	}
	return s
}

func (g *epochGuard) nextSeq() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return g.seq
}

// begin starts a new generation for clientID, invalidating any pass in flight
func (g *epochGuard) begin(clientID string) uint64 {
	s := g.slot(clientID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch = g.nextSeq()
	return s.epoch
}

// current returns the latest generation of clientID
func (g *epochGuard) current(clientID string) uint64 {
	s := g.slot(clientID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// commit runs fn only if epoch is still current. fn runs with the client's
// slot held, so no other generation can start or commit until it returns.
func (g *epochGuard) commit(clientID string, epoch uint64, fn func() error) (bool, error) {
	s := g.slot(clientID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return false, nil
	}
	return true, fn()
}

// advance starts a new generation and runs fn under it
func (g *epochGuard) advance(clientID string, fn func() error) error {
	s := g.slot(clientID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch = g.nextSeq()
	return fn()
}

// signOut is advance for a sign-out. Sessions obtained by operations that
// began before it can no longer be adopted.
func (g *epochGuard) signOut(clientID string, fn func() error) error {
	s := g.slot(clientID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch = g.nextSeq()
	s.signedOut = s.epoch
	return fn()
}

// adopt runs fn under a new generation unless the client signed out after
// since began. Passes still in flight yield to the adoption. It returns the
// new generation and whether fn ran.
func (g *epochGuard) adopt(clientID string, since uint64, fn func(gen uint64) error) (uint64, bool, error) {
	s := g.slot(clientID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.signedOut > since {
		return 0, false, nil
	}
	s.epoch = g.nextSeq()
	return s.epoch, true, fn(s.epoch)
}

type passKey struct{}

// withPass marks ctx as belonging to an engine operation. Provider session
// changes made under such a ctx are folded in by the operation itself.
func withPass(ctx context.Context) context.Context {
	return context.WithValue(ctx, passKey{}, true)
}

func inPass(ctx context.Context) bool {
	v, _ := ctx.Value(passKey{}).(bool)
	return v
}
