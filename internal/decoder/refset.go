package decoder

import (
	"fmt"

	"github.com/zsiec/stereo/media"
)

// Marking directive opcodes carried in a reference slice header. These are
// the explicit eviction controls for the reference set; when a slice carries
// none, the set falls back to sliding-window eviction.
const (
	MarkEnd      = 0 // terminates the directive list
	MarkUnmark   = 1 // evict the picture in the named slot
	MarkLongTerm = 2 // pin the named slot: exempt from sliding-window eviction
)

// MarkingOp is one explicit reference-marking directive.
type MarkingOp struct {
	Op   uint
	Slot int
}

type slotClass uint8

const (
	slotEmpty slotClass = iota
	slotShortTerm
	slotLongTerm
)

type refSlot struct {
	pic   *media.Picture
	class slotClass
	order int64 // decode order, for sliding-window eviction
}

// ReferenceSet is the per-decoder arena of retained decoded pictures,
// addressed by stable slot indices. Slices name their prediction sources by
// slot index; an index that holds no picture is a decode-fatal condition
// for that access unit. Each occupied slot holds one reference count on its
// picture.
type ReferenceSet struct {
	slots []refSlot
}

// NewReferenceSet creates an arena bounded by the stream's declared maximum
// reference count.
func NewReferenceSet(maxRefFrames int) *ReferenceSet {
	if maxRefFrames < 1 {
		maxRefFrames = 1
	}
	return &ReferenceSet{slots: make([]refSlot, maxRefFrames)}
}

// Get resolves a prediction source by slot index. The picture stays owned
// by the set; the caller must not hold it past the current access unit.
func (rs *ReferenceSet) Get(idx int) (*media.Picture, error) {
	if idx < 0 || idx >= len(rs.slots) {
		return nil, fmt.Errorf("%w: slot %d out of range [0,%d)", ErrMissingReference, idx, len(rs.slots))
	}
	s := rs.slots[idx]
	if s.class == slotEmpty {
		return nil, fmt.Errorf("%w: slot %d is empty", ErrMissingReference, idx)
	}
	return s.pic, nil
}

// Apply executes the slice's explicit marking directives. Directives naming
// empty or out-of-range slots are reported as corrupt rather than ignored,
// since a directive drift here is exactly the incorrect-eviction hazard
// that later turns into a missing reference.
func (rs *ReferenceSet) Apply(ops []MarkingOp) error {
	for _, op := range ops {
		if op.Slot < 0 || op.Slot >= len(rs.slots) || rs.slots[op.Slot].class == slotEmpty {
			return fmt.Errorf("%w: marking op %d names invalid slot %d", ErrCorruptSlice, op.Op, op.Slot)
		}
		switch op.Op {
		case MarkUnmark:
			rs.evict(op.Slot)
		case MarkLongTerm:
			rs.slots[op.Slot].class = slotLongTerm
		default:
			return fmt.Errorf("%w: unknown marking op %d", ErrCorruptSlice, op.Op)
		}
	}
	return nil
}

// Insert retains pic in a free slot and returns the slot index. With no
// free slot it evicts the oldest short-term reference (sliding window); if
// every slot is pinned long-term the stream's own marking directives are
// inconsistent and the insert fails.
func (rs *ReferenceSet) Insert(pic *media.Picture, order int64) (int, error) {
	idx := -1
	for i := range rs.slots {
		if rs.slots[i].class == slotEmpty {
			idx = i
			break
		}
	}
	if idx < 0 {
		oldest := -1
		for i := range rs.slots {
			if rs.slots[i].class != slotShortTerm {
				continue
			}
			if oldest < 0 || rs.slots[i].order < rs.slots[oldest].order {
				oldest = i
			}
		}
		if oldest < 0 {
			return 0, fmt.Errorf("%w: reference set full of long-term pictures", ErrCorruptSlice)
		}
		rs.evict(oldest)
		idx = oldest
	}
	rs.slots[idx] = refSlot{pic: pic.Retain(), class: slotShortTerm, order: order}
	return idx, nil
}

// Len returns the number of occupied slots.
func (rs *ReferenceSet) Len() int {
	n := 0
	for i := range rs.slots {
		if rs.slots[i].class != slotEmpty {
			n++
		}
	}
	return n
}

// Reset evicts every slot, releasing the retained pictures.
func (rs *ReferenceSet) Reset() {
	for i := range rs.slots {
		if rs.slots[i].class != slotEmpty {
			rs.evict(i)
		}
	}
}

func (rs *ReferenceSet) evict(idx int) {
	rs.slots[idx].pic.Release()
	rs.slots[idx] = refSlot{}
}
