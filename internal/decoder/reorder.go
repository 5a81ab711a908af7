package decoder

import "github.com/zsiec/stereo/media"

// reorderBuffer holds decoded pictures until they can be emitted in
// presentation order. Pictures may decode out of presentation order; the
// buffer releases the smallest PTS (decode order breaking ties) once its
// window is full, so output is presentation-ordered for any stream whose
// reordering depth fits the window.
type reorderBuffer struct {
	depth int
	pics  []*media.Picture
}

func newReorderBuffer(depth int) *reorderBuffer {
	if depth < 1 {
		depth = 1
	}
	return &reorderBuffer{depth: depth}
}

// push adds a decoded picture and returns any pictures that are now safe to
// emit in presentation order.
func (rb *reorderBuffer) push(pic *media.Picture) []*media.Picture {
	rb.pics = append(rb.pics, pic)
	var out []*media.Picture
	for len(rb.pics) > rb.depth {
		out = append(out, rb.popMin())
	}
	return out
}

// flush drains the buffer in presentation order. Used at end of stream.
func (rb *reorderBuffer) flush() []*media.Picture {
	var out []*media.Picture
	for len(rb.pics) > 0 {
		out = append(out, rb.popMin())
	}
	return out
}

// discard releases everything without emitting. Used on seek.
func (rb *reorderBuffer) discard() {
	for _, p := range rb.pics {
		p.Release()
	}
	rb.pics = rb.pics[:0]
}

// dropBelow releases buffered pictures older than pts. Used when the
// synchronizer resets the expected-order cursor after a desync fault.
func (rb *reorderBuffer) dropBelow(pts int64) {
	kept := rb.pics[:0]
	for _, p := range rb.pics {
		if p.PTS < pts {
			p.Release()
		} else {
			kept = append(kept, p)
		}
	}
	rb.pics = kept
}

func (rb *reorderBuffer) popMin() *media.Picture {
	min := 0
	for i := 1; i < len(rb.pics); i++ {
		p, q := rb.pics[i], rb.pics[min]
		if p.PTS < q.PTS || (p.PTS == q.PTS && p.DecodeOrder < q.DecodeOrder) {
			min = i
		}
	}
	pic := rb.pics[min]
	rb.pics = append(rb.pics[:min], rb.pics[min+1:]...)
	return pic
}
