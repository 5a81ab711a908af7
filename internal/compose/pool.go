package compose

import (
	"context"
	"errors"
	"time"

	"github.com/zsiec/stereo/media"
)

// ErrPoolExhausted is returned when no surface came back from the sink
// within the bounded wait. The pipeline recovers by dropping the oldest
// undelivered surface rather than allocating new memory.
var ErrPoolExhausted = errors.New("compose: surface pool exhausted")

// Default pool sizing. The pool bounds steady-state memory: one surface per
// slot, recycled on sink acknowledgment.
const (
	DefaultPoolSize = 6
	DefaultPoolWait = 50 * time.Millisecond
)

// Pool is a fixed-size recyclable surface pool. Surfaces hand their backing
// buffer back on Release; the buffer is grown in place when the output
// geometry grows, so steady-state composition allocates nothing.
type Pool struct {
	free chan *media.Surface
	wait time.Duration
}

// NewPool creates a pool of size surfaces with the given acquisition wait.
func NewPool(size int, wait time.Duration) *Pool {
	if size < 1 {
		size = DefaultPoolSize
	}
	if wait <= 0 {
		wait = DefaultPoolWait
	}
	p := &Pool{
		free: make(chan *media.Surface, size),
		wait: wait,
	}
	for i := 0; i < size; i++ {
		s := &media.Surface{}
		s.SetReleaser(p.put)
		p.free <- s
	}
	return p
}

// Get acquires a surface sized for byteLen, blocking up to the configured
// wait. It returns ErrPoolExhausted when the wait elapses with every
// surface still held downstream.
func (p *Pool) Get(ctx context.Context, byteLen int) (*media.Surface, error) {
	var s *media.Surface
	select {
	case s = <-p.free:
	default:
		t := time.NewTimer(p.wait)
		defer t.Stop()
		select {
		case s = <-p.free:
		case <-t.C:
			return nil, ErrPoolExhausted
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if cap(s.Data) < byteLen {
		s.Data = make([]byte, byteLen)
	} else {
		s.Data = s.Data[:byteLen]
	}
	return s, nil
}

// Free reports how many surfaces are currently available.
func (p *Pool) Free() int { return len(p.free) }

func (p *Pool) put(s *media.Surface) {
	select {
	case p.free <- s:
	default:
		// Double release or a stale surface from a replaced pool; drop.
	}
}
