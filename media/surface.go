package media

// Surface is one composed output frame in packed YUYV (4:2:2) order, ready
// for handoff to the presentation sink. Surfaces are pool-backed: the sink
// must call Release once it has consumed the frame, returning the buffer to
// the compositor's pool.
type Surface struct {
	Data          []byte // packed YUYV, Stride bytes per row
	Width, Height int
	Stride        int // bytes per row, Width*2
	PTS           int64

	release func(*Surface)
}

// SetReleaser installs the pool return hook. Owned by the surface pool.
func (s *Surface) SetReleaser(f func(*Surface)) { s.release = f }

// Release returns the surface to its pool. Safe to call on nil.
func (s *Surface) Release() {
	if s == nil || s.release == nil {
		return
	}
	s.release(s)
}
