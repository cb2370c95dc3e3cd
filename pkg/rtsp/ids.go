package rtsp

import (
	"math/rand"
	"sync/atomic"
)

// IDSource issues session identifiers. Identifiers never repeat for the
// lifetime of the source.
type IDSource interface {
	Next() uint64
}

type counterIDs struct {
	last atomic.Uint64
}

// NewIDSource returns a counter starting at a random six digit value
func NewIDSource() IDSource {
	ids := &counterIDs{}
	ids.last.Store(uint64(100000 + rand.Intn(900000)))
	return ids
}

func (c *counterIDs) Next() uint64 {
	return c.last.Add(1)
}
