package decoder

import (
	"errors"
	"fmt"

	"github.com/zsiec/stereo/internal/bits"
)

// StreamParams holds the fields a view decoder needs from its sequence
// parameter set: picture geometry, the declared reference-set bound, and
// identifiers kept for logging.
type StreamParams struct {
	Width           int
	Height          int
	MaxRefFrames    int
	ProfileIDC      byte
	ConstraintFlags byte
	LevelIDC        byte
	Log2MaxFrameNum int

	// ViewIDs lists the coded view order from a subset SPS MVC extension.
	// Empty for a plain base-view SPS.
	ViewIDs []int
}

// CodecString returns the RFC 6381 codec parameter string for logging and
// stream descriptions.
func (p StreamParams) CodecString() string {
	return fmt.Sprintf("avc1.%02X%02X%02X", p.ProfileIDC, p.ConstraintFlags, p.LevelIDC)
}

// PlaneBytes returns the payload size of one I420 picture at this geometry.
func (p StreamParams) PlaneBytes() int {
	return p.Width*p.Height + p.Width*p.Height/2
}

var errSPSTooShort = errors.New("decoder: SPS data too short")

// highProfile reports whether profile_idc selects the extended SPS syntax
// with chroma format and scaling list fields.
func highProfile(profileIDC uint) bool {
	switch profileIDC {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134:
		return true
	}
	return false
}

// ParseSPS parses an H.264 sequence parameter set NAL unit (type 7). The
// input is the raw NAL including the header byte, without a start code.
func ParseSPS(nalu []byte) (StreamParams, error) {
	if len(nalu) < 4 {
		return StreamParams{}, errSPSTooShort
	}
	r := bits.NewReader(bits.StripEmulationPrevention(nalu[1:]))
	p, _, err := parseSPSFields(r)
	return p, err
}

// ParseSubsetSPS parses a subset SPS NAL unit (type 15): the core SPS walk
// followed by the seq_parameter_set_mvc_extension, which declares the coded
// view identifiers.
func ParseSubsetSPS(nalu []byte) (StreamParams, error) {
	if len(nalu) < 4 {
		return StreamParams{}, errSPSTooShort
	}
	r := bits.NewReader(bits.StripEmulationPrevention(nalu[1:]))
	p, vuiPresent, err := parseSPSFields(r)
	if err != nil {
		return StreamParams{}, err
	}
	if vuiPresent {
		// VUI skipping is not implemented for subset SPS; the view list
		// defaults to {0, 1} which is correct for plain stereo.
		p.ViewIDs = []int{0, 1}
		return p, nil
	}
	if !highProfile(uint(p.ProfileIDC)) {
		p.ViewIDs = []int{0, 1}
		return p, nil
	}
	r.ReadBit() // bit_equal_to_one
	numViews := int(r.ReadUE()) + 1
	if numViews < 1 || numViews > 16 {
		return StreamParams{}, fmt.Errorf("decoder: implausible view count %d", numViews)
	}
	views := make([]int, numViews)
	for i := range views {
		views[i] = int(r.ReadUE())
	}
	if err := r.Err(); err != nil {
		return StreamParams{}, err
	}
	p.ViewIDs = views
	return p, nil
}

// parseSPSFields walks seq_parameter_set_data, returning the extracted
// parameters and whether a VUI block follows the fixed fields.
func parseSPSFields(r *bits.Reader) (StreamParams, bool, error) {
	profileIDC := r.ReadBits(8)
	constraintFlags := r.ReadBits(8)
	levelIDC := r.ReadBits(8)
	r.ReadUE() // seq_parameter_set_id

	chromaFormatIDC := uint(1)
	separateColourPlane := false
	if highProfile(profileIDC) {
		chromaFormatIDC = r.ReadUE()
		if chromaFormatIDC == 3 {
			separateColourPlane = r.ReadBit()
		}
		r.ReadUE() // bit_depth_luma_minus8
		r.ReadUE() // bit_depth_chroma_minus8
		r.ReadBit() // qpprime_y_zero_transform_bypass_flag
		if r.ReadBit() { // seq_scaling_matrix_present_flag
			limit := 8
			if chromaFormatIDC == 3 {
				limit = 12
			}
			for i := 0; i < limit; i++ {
				if r.ReadBit() {
					size := 16
					if i >= 6 {
						size = 64
					}
					if err := skipScalingList(r, size); err != nil {
						return StreamParams{}, false, err
					}
				}
			}
		}
	}

	log2MaxFrameNum := int(r.ReadUE()) + 4
	picOrderCntType := r.ReadUE()
	switch picOrderCntType {
	case 0:
		r.ReadUE() // log2_max_pic_order_cnt_lsb_minus4
	case 1:
		r.ReadBit() // delta_pic_order_always_zero_flag
		r.ReadSE()  // offset_for_non_ref_pic
		r.ReadSE()  // offset_for_top_to_bottom_field
		n := r.ReadUE()
		for i := uint(0); i < n; i++ {
			r.ReadSE()
		}
	}

	maxRefFrames := r.ReadUE()
	r.ReadBit() // gaps_in_frame_num_value_allowed_flag

	picWidthMbs := r.ReadUE()
	picHeightMapUnits := r.ReadUE()
	frameMbsOnly := r.ReadBit()
	if !frameMbsOnly {
		r.ReadBit() // mb_adaptive_frame_field_flag
	}
	r.ReadBit() // direct_8x8_inference_flag

	var cropLeft, cropRight, cropTop, cropBottom uint
	if r.ReadBit() { // frame_cropping_flag
		cropLeft = r.ReadUE()
		cropRight = r.ReadUE()
		cropTop = r.ReadUE()
		cropBottom = r.ReadUE()
	}

	chromaArrayType := chromaFormatIDC
	if separateColourPlane {
		chromaArrayType = 0
	}
	var subWidthC, subHeightC uint
	switch chromaArrayType {
	case 0, 3:
		subWidthC, subHeightC = 1, 1
	case 2:
		subWidthC, subHeightC = 2, 1
	default:
		subWidthC, subHeightC = 2, 2
	}

	heightMul := uint(2)
	if frameMbsOnly {
		heightMul = 1
	}
	cropUnitX := subWidthC
	cropUnitY := subHeightC * heightMul

	width := int((picWidthMbs+1)*16 - cropUnitX*(cropLeft+cropRight))
	height := int((picHeightMapUnits+1)*16*heightMul - cropUnitY*(cropTop+cropBottom))

	vuiPresent := r.ReadBit()
	if err := r.Err(); err != nil {
		return StreamParams{}, false, err
	}
	if width <= 0 || height <= 0 || width%2 != 0 || height%2 != 0 {
		return StreamParams{}, false, fmt.Errorf("decoder: implausible SPS geometry %dx%d", width, height)
	}

	return StreamParams{
		Width:           width,
		Height:          height,
		MaxRefFrames:    int(maxRefFrames),
		ProfileIDC:      byte(profileIDC),
		ConstraintFlags: byte(constraintFlags),
		LevelIDC:        byte(levelIDC),
		Log2MaxFrameNum: log2MaxFrameNum,
	}, vuiPresent, nil
}

func skipScalingList(r *bits.Reader, size int) error {
	lastScale := 8
	nextScale := 8
	for j := 0; j < size; j++ {
		if nextScale != 0 {
			delta := r.ReadSE()
			nextScale = (lastScale + delta + 256) % 256
		}
		if nextScale != 0 {
			lastScale = nextScale
		}
	}
	return r.Err()
}
