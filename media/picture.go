package media

import (
	"fmt"
	"image"
	"sync"
	"sync/atomic"
)

// planeBufs recycles picture backing arrays. One buffer carries all three
// planes of a picture, so a recycled buffer always fits a same-geometry
// successor regardless of which plane it once backed.
var planeBufs = sync.Pool{}

func getPictureBuf(n int) []byte {
	if v := planeBufs.Get(); v != nil {
		buf := v.([]byte)
		if cap(buf) >= n {
			return buf[:n]
		}
	}
	return make([]byte, n)
}

// Picture is one decoded view component: I420 planes at native per-eye
// resolution, tagged with the view it came from and its presentation
// timestamp. A Picture is shared between the reference set, the base
// decoder's picture store, and downstream consumers; each holder owns one
// reference count and must call Release exactly once.
type Picture struct {
	Y, Cb, Cr        []byte
	YStride, CStride int
	Width, Height    int

	ViewID      int
	PTS         int64
	DecodeOrder int64
	Reference   bool

	buf  []byte // backing array shared by the three planes
	refs atomic.Int32
}

// NewPicture allocates a picture with I420 geometry for the given even
// dimensions. The returned picture has a reference count of one.
func NewPicture(width, height int) (*Picture, error) {
	if width <= 0 || height <= 0 || width%2 != 0 || height%2 != 0 {
		return nil, fmt.Errorf("media: invalid picture geometry %dx%d", width, height)
	}
	lumaLen := width * height
	chromaLen := lumaLen / 4
	buf := getPictureBuf(lumaLen + 2*chromaLen)
	p := &Picture{
		Y:       buf[:lumaLen:lumaLen],
		Cb:      buf[lumaLen : lumaLen+chromaLen : lumaLen+chromaLen],
		Cr:      buf[lumaLen+chromaLen : lumaLen+2*chromaLen],
		YStride: width,
		CStride: width / 2,
		Width:   width,
		Height:  height,
		buf:     buf,
	}
	p.refs.Store(1)
	return p, nil
}

// Retain adds a reference for a new holder of the picture.
func (p *Picture) Retain() *Picture {
	p.refs.Add(1)
	return p
}

// Release drops one reference. When the last holder releases, the backing
// buffer returns to the shared pool and the picture must not be touched again.
func (p *Picture) Release() {
	if p == nil {
		return
	}
	n := p.refs.Add(-1)
	if n > 0 {
		return
	}
	if n < 0 {
		panic("media: picture released more times than retained")
	}
	planeBufs.Put(p.buf)
	p.buf = nil
	p.Y, p.Cb, p.Cr = nil, nil, nil
}

// Refs reports the current reference count. Intended for tests and debug logs.
func (p *Picture) Refs() int32 { return p.refs.Load() }

// Image wraps the planes in an image.YCbCr without copying. The returned
// image aliases the picture and is only valid while a reference is held.
func (p *Picture) Image() *image.YCbCr {
	return &image.YCbCr{
		Y:              p.Y,
		Cb:             p.Cb,
		Cr:             p.Cr,
		YStride:        p.YStride,
		CStride:        p.CStride,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, p.Width, p.Height),
	}
}

// StereoPair is one base picture plus the dependent picture sharing its
// presentation timestamp. Dependent is nil for a monoscopic fallback pair;
// the compositor then duplicates the base view into both eye positions.
type StereoPair struct {
	Base      *Picture
	Dependent *Picture
	PTS       int64
}

// Monoscopic reports whether the dependent slot is empty.
func (sp *StereoPair) Monoscopic() bool { return sp.Dependent == nil }

// Release drops the pair's references on both pictures.
func (sp *StereoPair) Release() {
	if sp == nil {
		return
	}
	sp.Base.Release()
	sp.Dependent.Release()
	sp.Base, sp.Dependent = nil, nil
}
