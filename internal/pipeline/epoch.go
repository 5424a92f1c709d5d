package pipeline

import "sync/atomic"

// EpochGuard is the session generation counter. Every reset or end of
// session bumps it; a result whose launch epoch no longer matches is stale.
type EpochGuard struct {
	v atomic.Uint64
}

func (g *EpochGuard) Current() uint64 {
	return g.v.Load()
}

// Bump advances the epoch and returns the new value.
func (g *EpochGuard) Bump() uint64 {
	return g.v.Add(1)
}

func (g *EpochGuard) Stale(epoch uint64) bool {
	return g.v.Load() != epoch
}
