package espconn

import "sync/atomic"

// seqGenerator hands out command sequence ids. Every session starts a new
// generator, so ids begin at 1 and only grow; a response carrying an older
// id is recognisable as stale.
type seqGenerator struct {
	id atomic.Uint32
}

func (g *seqGenerator) next() uint32 {
	return g.id.Add(1)
}
