package mvcgen

import "github.com/zsiec/stereo/media"

// StreamOpts configures the synthetic stream generator.
type StreamOpts struct {
	Width, Height int
	MaxRef        int
	KeyInterval   int   // IDR every N frames
	StartPTS      int64 // PTS of frame 0
	PTSStep       int64 // per-frame PTS increment
	BaseOnly      bool  // omit the dependent view entirely
	DepViewID     int   // dependent view_id; default 1
}

func (o StreamOpts) withDefaults() StreamOpts {
	if o.Width == 0 {
		o.Width = 64
	}
	if o.Height == 0 {
		o.Height = 64
	}
	if o.MaxRef == 0 {
		o.MaxRef = 4
	}
	if o.KeyInterval == 0 {
		o.KeyInterval = 8
	}
	if o.PTSStep == 0 {
		o.PTSStep = 3600 // 25 fps at 90 kHz
	}
	if o.DepViewID == 0 {
		o.DepViewID = 1
	}
	return o
}

// Encoder generates a deterministic stereo stream: an IDR pair (preceded by
// parameter sets) every KeyInterval frames, predicted base frames coded
// against the last base key frame (reference-set slot 0), and dependent
// frames coded inter-view against the base picture of the same instant.
// Frame i of view v reconstructs to exactly TestFrame(w, h, i, v).
type Encoder struct {
	opts    StreamOpts
	idx     int
	baseKey *Frame
}

// NewEncoder creates an Encoder.
func NewEncoder(opts StreamOpts) *Encoder {
	return &Encoder{opts: opts.withDefaults()}
}

// Opts returns the effective options after defaulting.
func (e *Encoder) Opts() StreamOpts { return e.opts }

// FrameIndexPTS returns the PTS of frame i.
func (e *Encoder) FrameIndexPTS(i int) int64 {
	return e.opts.StartPTS + int64(i)*e.opts.PTSStep
}

// SeekTo repositions the encoder at a key-frame index so the generated
// stream resumes decodable, mirroring what a demuxer does after a seek.
func (e *Encoder) SeekTo(frame int) {
	e.idx = frame - frame%e.opts.KeyInterval
	e.baseKey = nil
}

// NextAU generates the next access unit.
func (e *Encoder) NextAU() *media.AccessUnit {
	o := e.opts
	i := e.idx
	e.idx++
	pts := e.FrameIndexPTS(i)

	base := TestFrame(o.Width, o.Height, i, 0)
	frameNum := uint(i % (1 << 4))

	var nals [][]byte
	if i%o.KeyInterval == 0 {
		nals = append(nals, SPS(o.Width, o.Height, o.MaxRef), PPS())
		if !o.BaseOnly {
			nals = append(nals, SubsetSPS(o.Width, o.Height, o.MaxRef, o.DepViewID))
		}
		nals = append(nals,
			Prefix(false),
			Slice(SliceSpec{Intra: true, Reference: true, FrameNum: frameNum, Payload: base.Payload()}),
		)
		e.baseKey = base
	} else {
		nals = append(nals,
			Prefix(true),
			Slice(SliceSpec{FrameNum: frameNum, RefSlot: 0, Payload: base.Delta(e.baseKey)}),
		)
	}

	if !o.BaseOnly {
		dep := TestFrame(o.Width, o.Height, i, o.DepViewID)
		if i%o.KeyInterval == 0 {
			nals = append(nals, Slice(SliceSpec{
				ViewID: o.DepViewID, Intra: true, Reference: true,
				FrameNum: frameNum, Payload: dep.Payload(),
			}))
		} else {
			nals = append(nals, Slice(SliceSpec{
				ViewID: o.DepViewID, InterView: true, RefDelta: 0,
				FrameNum: frameNum, Payload: dep.Delta(base),
			}))
		}
	}
	return AccessUnit(pts, pts, nals...)
}

// GenerateAUs produces n access units from frame 0.
func GenerateAUs(opts StreamOpts, n int) []*media.AccessUnit {
	e := NewEncoder(opts)
	out := make([]*media.AccessUnit, n)
	for i := range out {
		out[i] = e.NextAU()
	}
	return out
}

// CorruptFirstSlice returns a copy of the access unit with the first slice
// NAL's forbidden_zero_bit set, making its header unparseable.
func CorruptFirstSlice(au *media.AccessUnit) *media.AccessUnit {
	data := append([]byte(nil), au.Data...)
	for i := 0; i+4 < len(data); i++ {
		if data[i] == 0 && data[i+1] == 0 && ((data[i+2] == 0 && data[i+3] == 1) || data[i+2] == 1) {
			off := i + 3
			if data[i+2] == 0 {
				off = i + 4
			}
			t := data[off] & 0x1F
			if t == 1 || t == 5 || t == 20 {
				data[off] |= 0x80
				break
			}
		}
	}
	return &media.AccessUnit{PTS: au.PTS, DTS: au.DTS, Data: data}
}
