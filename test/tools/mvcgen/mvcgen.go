// Package mvcgen builds synthetic stereo (MVC) elementary streams for tests
// and the gen-mvc tool: real NAL/SPS/MVC-extension syntax around the compact
// slice reconstruction payload the decoders consume.
package mvcgen

import (
	"github.com/zsiec/stereo/internal/bits"
	"github.com/zsiec/stereo/media"
)

// Marking directive opcodes, matching the slice-layer syntax.
const (
	markEnd      = 0
	MarkUnmark   = 1
	MarkLongTerm = 2
)

// MarkingOp is one explicit reference-marking directive for a slice header.
type MarkingOp struct {
	Op   uint
	Slot int
}

// Frame is one view component's raw I420 sample data.
type Frame struct {
	Y, Cb, Cr     []byte
	Width, Height int
}

// NewFrame allocates a zeroed frame.
func NewFrame(w, h int) *Frame {
	return &Frame{
		Y:      make([]byte, w*h),
		Cb:     make([]byte, w*h/4),
		Cr:     make([]byte, w*h/4),
		Width:  w,
		Height: h,
	}
}

// FlatFrame fills every plane with constant samples.
func FlatFrame(w, h int, y, cb, cr byte) *Frame {
	f := NewFrame(w, h)
	fill(f.Y, y)
	fill(f.Cb, cb)
	fill(f.Cr, cr)
	return f
}

func fill(p []byte, v byte) {
	for i := range p {
		p[i] = v
	}
}

// TestFrame generates the deterministic pattern for frame index i of the
// given view, so tests can recompute expected pixels without sharing state
// with the encoder.
func TestFrame(w, h, i, viewID int) *Frame {
	f := NewFrame(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			f.Y[y*w+x] = byte(x + y + 13*i + 37*viewID)
		}
	}
	for y := 0; y < h/2; y++ {
		for x := 0; x < w/2; x++ {
			f.Cb[y*(w/2)+x] = byte(x + 7*i + 11*viewID)
			f.Cr[y*(w/2)+x] = byte(y + 5*i + 23*viewID)
		}
	}
	return f
}

// Payload flattens the planes in I420 order, the intra slice body that
// reconstructs this frame.
func (f *Frame) Payload() []byte {
	out := make([]byte, 0, len(f.Y)+len(f.Cb)+len(f.Cr))
	out = append(out, f.Y...)
	out = append(out, f.Cb...)
	out = append(out, f.Cr...)
	return out
}

// Delta computes the mod-256 sample difference f - ref, the predicted-slice
// payload that reconstructs f from ref.
func (f *Frame) Delta(ref *Frame) []byte {
	fp := f.Payload()
	rp := ref.Payload()
	out := make([]byte, len(fp))
	for i := range fp {
		out[i] = fp[i] - rp[i]
	}
	return out
}

func nalHeader(refIDC, nalType int) byte {
	return byte(refIDC<<5 | nalType)
}

func mvcExtension(nonIDR bool, viewID int, anchor, interView bool) []byte {
	w := bits.NewWriter()
	w.WriteBit(false) // svc_extension_flag
	w.WriteBit(nonIDR)
	w.WriteBits(0, 6) // priority_id
	w.WriteBits(uint(viewID), 10)
	w.WriteBits(0, 3) // temporal_id
	w.WriteBit(anchor)
	w.WriteBit(interView)
	w.WriteBit(true) // reserved_one_bit
	return w.Bytes()
}

// SPS builds a base-view sequence parameter set (NAL type 7) declaring the
// given geometry and reference bound. Non-multiple-of-16 dimensions are
// expressed through frame cropping, as a real encoder would.
func SPS(w, h, maxRef int) []byte {
	return buildSPS(7, 66, w, h, maxRef, nil)
}

// SubsetSPS builds the dependent view's subset SPS (NAL type 15) with an
// MVC extension declaring views {0, viewID}.
func SubsetSPS(w, h, maxRef, viewID int) []byte {
	return buildSPS(15, 118, w, h, maxRef, []int{0, viewID})
}

// PPS builds a minimal picture parameter set (NAL type 8).
func PPS() []byte {
	w := bits.NewWriter()
	w.WriteUE(0) // pic_parameter_set_id
	w.WriteUE(0) // seq_parameter_set_id
	w.WriteBit(true)
	return append([]byte{nalHeader(3, 8)}, bits.InsertEmulationPrevention(w.Bytes())...)
}

// Prefix builds the MVC prefix NAL (type 14) that precedes a base-view
// slice, carrying its multiview metadata.
func Prefix(nonIDR bool) []byte {
	out := []byte{nalHeader(3, 14)}
	return append(out, mvcExtension(nonIDR, 0, !nonIDR, true)...)
}

func buildSPS(nalType, profile, width, height, maxRef int, viewIDs []int) []byte {
	widthMBs := (width + 15) / 16
	heightUnits := (height + 15) / 16
	cropRight := (widthMBs*16 - width) / 2
	cropBottom := (heightUnits*16 - height) / 2

	w := bits.NewWriter()
	w.WriteBits(uint(profile), 8)
	w.WriteBits(0xC0, 8) // constraint flags
	w.WriteBits(40, 8)   // level 4.0
	w.WriteUE(0)         // seq_parameter_set_id
	if profile == 118 {
		w.WriteUE(1)      // chroma_format_idc: 4:2:0
		w.WriteUE(0)      // bit_depth_luma_minus8
		w.WriteUE(0)      // bit_depth_chroma_minus8
		w.WriteBit(false) // qpprime_y_zero_transform_bypass_flag
		w.WriteBit(false) // seq_scaling_matrix_present_flag
	}
	w.WriteUE(0)              // log2_max_frame_num_minus4
	w.WriteUE(2)              // pic_order_cnt_type
	w.WriteUE(uint(maxRef))   // max_num_ref_frames
	w.WriteBit(false)         // gaps_in_frame_num_value_allowed_flag
	w.WriteUE(uint(widthMBs - 1))
	w.WriteUE(uint(heightUnits - 1))
	w.WriteBit(true)  // frame_mbs_only_flag
	w.WriteBit(false) // direct_8x8_inference_flag
	if cropRight > 0 || cropBottom > 0 {
		w.WriteBit(true)
		w.WriteUE(0)
		w.WriteUE(uint(cropRight))
		w.WriteUE(0)
		w.WriteUE(uint(cropBottom))
	} else {
		w.WriteBit(false)
	}
	w.WriteBit(false) // vui_parameters_present_flag
	if nalType == 15 {
		w.WriteBit(true) // bit_equal_to_one
		w.WriteUE(uint(len(viewIDs) - 1))
		for _, v := range viewIDs {
			w.WriteUE(uint(v))
		}
	}
	w.WriteBit(true) // rbsp stop bit
	return append([]byte{nalHeader(3, nalType)}, bits.InsertEmulationPrevention(w.Bytes())...)
}

// SliceSpec describes one coded slice for Slice.
type SliceSpec struct {
	ViewID    int  // 0: base view (NAL 1/5), nonzero: slice extension (NAL 20)
	Intra     bool // key frame
	Reference bool
	FrameNum  uint
	InterView bool  // dependent only: reference the base view
	RefSlot   int   // own-view reference-set slot
	RefDelta  int64 // inter-view: referenced base PTS minus this slice's PTS
	Marking   []MarkingOp
	Payload   []byte // raw planes (intra) or deltas (predicted)
}

// Slice builds one coded slice NAL.
func Slice(s SliceSpec) []byte {
	w := bits.NewWriter()
	w.WriteUE(s.FrameNum)
	if !s.Intra {
		w.WriteBit(s.InterView)
		if s.InterView {
			w.WriteSE(int(s.RefDelta))
		} else {
			w.WriteUE(uint(s.RefSlot))
		}
	}
	if s.Reference {
		w.WriteBit(len(s.Marking) > 0)
		if len(s.Marking) > 0 {
			for _, op := range s.Marking {
				w.WriteUE(op.Op)
				w.WriteUE(uint(op.Slot))
			}
			w.WriteUE(markEnd)
		}
	}
	w.Align()
	w.WriteBytes(s.Payload)
	body := bits.InsertEmulationPrevention(w.Bytes())

	refIDC := 0
	if s.Reference {
		refIDC = 3
	}
	if s.ViewID == 0 {
		nalType := 1
		if s.Intra {
			nalType = 5
		}
		return append([]byte{nalHeader(refIDC, nalType)}, body...)
	}
	hdr := append([]byte{nalHeader(refIDC, 20)}, mvcExtension(!s.Intra, s.ViewID, s.Intra, false)...)
	return append(hdr, body...)
}

var startCode = []byte{0, 0, 0, 1}

// AccessUnit concatenates NAL units into one Annex B access unit payload.
func AccessUnit(pts, dts int64, nals ...[]byte) *media.AccessUnit {
	var data []byte
	for _, nal := range nals {
		data = append(data, startCode...)
		data = append(data, nal...)
	}
	return &media.AccessUnit{PTS: pts, DTS: dts, Data: data}
}
