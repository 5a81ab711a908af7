package decoder

import (
	"fmt"

	"github.com/zsiec/stereo/internal/bits"
	"github.com/zsiec/stereo/media"
)

// Slice layer syntax.
//
// A full multi-profile slice decode is out of scope for this core: the NAL
// layer, parameter sets, MVC extension, reference marking, and reorder rules
// follow the real bitstream syntax, while the slice body below the header
// uses a compact reconstruction payload. After the NAL header (plus the
// 3-byte MVC extension on type-20 units) the RBSP is:
//
//	frame_num                            ue(v)
//	if not intra:
//	    inter_view_flag                  u(1)
//	    if inter_view_flag:
//	        ref_pts_delta                se(v)   // referenced base PTS - this PTS
//	    else:
//	        ref_slot                     ue(v)   // own reference-set slot index
//	if nal_ref_idc != 0:
//	    adaptive_marking_flag            u(1)
//	    while adaptive_marking_flag:
//	        marking_op                   ue(v)   // 0 end, 1 unmark, 2 long-term
//	        if marking_op != 0: slot     ue(v)
//	byte_align
//	plane_payload                        // I420 samples (intra) or mod-256 deltas
//
// Intra payloads carry the raw planes; predicted payloads carry per-sample
// deltas added mod 256 to the resolved reference picture, which keeps the
// reconstruction lossless and pixel-exact.

// sliceHeader is the parsed fixed part of a slice.
type sliceHeader struct {
	frameNum  uint
	intra     bool
	interView bool
	refSlot   int
	refDelta  int64 // referenced base PTS relative to the slice's own PTS
	marking   []MarkingOp
	payload   []byte
}

// maxMarkingOps bounds the directive list so a corrupt header cannot spin
// the parser.
const maxMarkingOps = 32

func parseSlice(frag media.Fragment, hdrLen int) (sliceHeader, error) {
	if len(frag.Data) <= hdrLen {
		return sliceHeader{}, fmt.Errorf("%w: truncated at %d bytes", ErrCorruptSlice, len(frag.Data))
	}
	rbsp := bits.StripEmulationPrevention(frag.Data[hdrLen:])
	r := bits.NewReader(rbsp)

	h := sliceHeader{
		frameNum: r.ReadUE(),
		intra:    frag.Type == media.FragmentIDR,
	}
	if !h.intra {
		h.interView = r.ReadBit()
		if h.interView {
			h.refDelta = int64(r.ReadSE())
		} else {
			h.refSlot = int(r.ReadUE())
		}
	}
	if frag.Reference {
		if r.ReadBit() {
			for {
				op := r.ReadUE()
				if op == MarkEnd {
					break
				}
				slot := int(r.ReadUE())
				h.marking = append(h.marking, MarkingOp{Op: op, Slot: slot})
				if len(h.marking) > maxMarkingOps {
					return sliceHeader{}, fmt.Errorf("%w: marking directive list too long", ErrCorruptSlice)
				}
				if r.Err() != nil {
					break
				}
			}
		}
	}
	if err := r.Err(); err != nil {
		return sliceHeader{}, fmt.Errorf("%w: header overran slice data", ErrCorruptSlice)
	}
	h.payload = r.Rest()
	return h, nil
}

// reconstructIntra builds a picture directly from the raw plane payload.
func reconstructIntra(params *StreamParams, payload []byte) (*media.Picture, error) {
	if len(payload) < params.PlaneBytes() {
		return nil, fmt.Errorf("%w: intra payload %d bytes, want %d", ErrCorruptSlice, len(payload), params.PlaneBytes())
	}
	pic, err := media.NewPicture(params.Width, params.Height)
	if err != nil {
		return nil, err
	}
	ySize := params.Width * params.Height
	cSize := ySize / 4
	copy(pic.Y, payload[:ySize])
	copy(pic.Cb, payload[ySize:ySize+cSize])
	copy(pic.Cr, payload[ySize+cSize:ySize+2*cSize])
	return pic, nil
}

// reconstructPredicted builds a picture by applying the delta payload to the
// resolved reference picture, sample by sample mod 256.
func reconstructPredicted(params *StreamParams, payload []byte, ref *media.Picture) (*media.Picture, error) {
	if len(payload) < params.PlaneBytes() {
		return nil, fmt.Errorf("%w: predicted payload %d bytes, want %d", ErrCorruptSlice, len(payload), params.PlaneBytes())
	}
	if ref.Width != params.Width || ref.Height != params.Height {
		return nil, fmt.Errorf("%w: reference geometry %dx%d does not match stream %dx%d",
			ErrCorruptSlice, ref.Width, ref.Height, params.Width, params.Height)
	}
	pic, err := media.NewPicture(params.Width, params.Height)
	if err != nil {
		return nil, err
	}
	ySize := params.Width * params.Height
	cSize := ySize / 4
	addPlane(pic.Y, ref.Y, payload[:ySize])
	addPlane(pic.Cb, ref.Cb, payload[ySize:ySize+cSize])
	addPlane(pic.Cr, ref.Cr, payload[ySize+cSize:ySize+2*cSize])
	return pic, nil
}

func addPlane(dst, ref, delta []byte) {
	for i := range dst {
		dst[i] = ref[i] + delta[i]
	}
}
