// Package splitter parses a coded access unit's Annex B payload into ordered
// coded-picture fragments and classifies each as base-view or dependent-view
// using the view identifier carried in the MVC NAL header extension.
package splitter

import (
	"fmt"

	"github.com/zsiec/stereo/internal/bits"
	"github.com/zsiec/stereo/media"
)

// H.264 NAL unit types used by the splitter (ITU-T H.264 Table 7-1 plus the
// Annex H multiview additions).
const (
	NALTypeSlice      = 1
	NALTypeIDR        = 5
	NALTypeSEI        = 6
	NALTypeSPS        = 7
	NALTypePPS        = 8
	NALTypeAUD        = 9
	NALTypeFillerData = 12
	NALTypePrefix     = 14 // prefix NAL: view metadata for the next base slice
	NALTypeSubsetSPS  = 15 // parameter set for the dependent view
	NALTypeSliceExt   = 20 // coded slice extension: dependent-view slice
)

// MVCExtension holds the NAL unit header multiview extension fields
// (H.264 §H.7.3.1.1) carried by prefix and slice-extension units.
type MVCExtension struct {
	NonIDR        bool
	PriorityID    uint8
	ViewID        int
	TemporalID    uint8
	AnchorPic     bool
	InterViewFlag bool
}

// CorruptFragmentError describes a fragment whose header could not be
// parsed. The splitter drops the fragment and keeps going; the error is
// surfaced so the caller can account for the loss.
type CorruptFragmentError struct {
	Index  int // fragment position within the access unit
	Reason string
}

func (e *CorruptFragmentError) Error() string {
	return fmt.Sprintf("splitter: corrupt fragment %d: %s", e.Index, e.Reason)
}

// Result carries the two ordered fragment sequences produced from one
// access unit, plus any per-fragment corruption errors encountered.
type Result struct {
	Base      []media.Fragment
	Dependent []media.Fragment
	Corrupt   []error
}

// Split scans the access unit for Annex B start codes and classifies every
// NAL unit. Fragment order within each view sequence matches bitstream
// order. Units without a recognizable view identifier are treated as
// base-view, degrading gracefully to monoscopic. Split holds no state
// across access units.
func Split(au *media.AccessUnit) Result {
	var res Result
	idx := 0
	for _, nal := range scanAnnexB(au.Data) {
		frag, viewID, err := classify(nal, au)
		idx++
		if err != nil {
			res.Corrupt = append(res.Corrupt, &CorruptFragmentError{Index: idx - 1, Reason: err.Error()})
			continue
		}
		if viewID == media.BaseViewID {
			res.Base = append(res.Base, frag)
		} else {
			res.Dependent = append(res.Dependent, frag)
		}
	}
	return res
}

// classify parses the NAL header (and MVC extension where present) and maps
// the unit to a Fragment plus the view it belongs to.
func classify(nal []byte, au *media.AccessUnit) (media.Fragment, int, error) {
	if len(nal) < 1 {
		return media.Fragment{}, 0, fmt.Errorf("empty NAL unit")
	}
	hdr := nal[0]
	if hdr&0x80 != 0 {
		return media.Fragment{}, 0, fmt.Errorf("forbidden_zero_bit set (0x%02x)", hdr)
	}
	refIDC := (hdr >> 5) & 0x3
	nalType := int(hdr & 0x1F)

	frag := media.Fragment{
		ViewID:    media.BaseViewID,
		Reference: refIDC != 0,
		PTS:       au.PTS,
		DTS:       au.DTS,
		Data:      nal,
	}

	switch nalType {
	case NALTypeSPS, NALTypePPS:
		frag.Type = media.FragmentParameterSet
		return frag, media.BaseViewID, nil

	case NALTypeSubsetSPS:
		// Parameter set for the dependent view. The subset SPS does not
		// carry a view_id in its NAL header; route it by type.
		frag.Type = media.FragmentParameterSet
		frag.ViewID = 1
		return frag, frag.ViewID, nil

	case NALTypeIDR:
		frag.Type = media.FragmentIDR
		return frag, media.BaseViewID, nil

	case NALTypeSlice:
		frag.Type = media.FragmentPredicted
		return frag, media.BaseViewID, nil

	case NALTypePrefix:
		ext, err := parseExtension(nal)
		if err != nil {
			return media.Fragment{}, 0, err
		}
		// A prefix unit annotates the base slice that follows it; it
		// stays in the base sequence so order is preserved.
		frag.Type = media.FragmentPrefix
		frag.ViewID = ext.ViewID
		return frag, media.BaseViewID, nil

	case NALTypeSliceExt:
		ext, err := parseExtension(nal)
		if err != nil {
			return media.Fragment{}, 0, err
		}
		frag.ViewID = ext.ViewID
		if ext.NonIDR {
			frag.Type = media.FragmentPredicted
		} else {
			frag.Type = media.FragmentIDR
		}
		if frag.ViewID == media.BaseViewID {
			// A slice extension claiming the base view is not a valid
			// stream shape, but the fragment itself is intact: degrade
			// it to base-view predicted data.
			frag.Type = media.FragmentPredicted
		}
		return frag, frag.ViewID, nil

	default:
		// SEI, AUD, filler: no view identifier, defaults to base view.
		frag.Type = media.FragmentOther
		return frag, media.BaseViewID, nil
	}
}

// parseExtension reads the 3-byte MVC extension that follows the NAL header
// on prefix and slice-extension units.
func parseExtension(nal []byte) (MVCExtension, error) {
	if len(nal) < 4 {
		return MVCExtension{}, fmt.Errorf("NAL too short for MVC extension (%d bytes)", len(nal))
	}
	r := bits.NewReader(nal[1:4])
	svcFlag := r.ReadBit()
	if svcFlag {
		return MVCExtension{}, fmt.Errorf("SVC extension not supported in stereo stream")
	}
	ext := MVCExtension{
		NonIDR:        r.ReadBit(),
		PriorityID:    uint8(r.ReadBits(6)),
		ViewID:        int(r.ReadBits(10)),
		TemporalID:    uint8(r.ReadBits(3)),
		AnchorPic:     r.ReadBit(),
		InterViewFlag: r.ReadBit(),
	}
	r.ReadBit() // reserved_one_bit
	if err := r.Err(); err != nil {
		return MVCExtension{}, err
	}
	return ext, nil
}

// scanAnnexB finds NAL unit boundaries, recognizing both 3-byte and 4-byte
// start codes, and returns the raw units without their start codes.
func scanAnnexB(data []byte) [][]byte {
	n := len(data)
	if n < 4 {
		return nil
	}

	type pos struct{ scStart, dataStart int }
	var positions []pos
	i := 0
	for i < n-2 {
		if data[i] == 0 && data[i+1] == 0 {
			if i < n-3 && data[i+2] == 0 && data[i+3] == 1 {
				positions = append(positions, pos{i, i + 4})
				i += 4
				continue
			}
			if data[i+2] == 1 {
				positions = append(positions, pos{i, i + 3})
				i += 3
				continue
			}
		}
		i++
	}

	var units [][]byte
	for idx, p := range positions {
		end := n
		if idx+1 < len(positions) {
			end = positions[idx+1].scStart
		}
		if p.dataStart >= end {
			continue
		}
		units = append(units, data[p.dataStart:end])
	}
	return units
}
