// Package media defines the core types that flow through the stereo decode
// pipeline, from access-unit splitting through composition.
package media

// Channel buffer sizes used between pipeline stages. Sized to cover the
// decoder's maximum reference-reordering depth plus a safety margin, so a
// stalled consumer applies backpressure instead of growing memory.
const (
	FragmentBufferSize = 16
	PictureBufferSize  = 8
	SurfaceBufferSize  = 4
)

// BaseViewID is the view identifier of the independently decodable view
// (conventionally the left eye). Dependent views carry a nonzero view_id.
const BaseViewID = 0

// AccessUnit is one time-stamped unit of coded data covering a single
// presentation instant across both views. Data holds the raw Annex B
// payload as handed over by the external demux toolkit.
type AccessUnit struct {
	PTS  int64 // presentation timestamp, 90 kHz ticks
	DTS  int64 // decode timestamp; differs from PTS under reordering
	Data []byte
}

// FragmentType classifies a coded-picture fragment within an access unit.
type FragmentType int

const (
	// FragmentParameterSet is an SPS, PPS, or subset SPS.
	FragmentParameterSet FragmentType = iota
	// FragmentIDR is a key-frame slice that starts a decodable sequence.
	FragmentIDR
	// FragmentPredicted is a slice predicted from prior pictures.
	FragmentPredicted
	// FragmentPrefix is an MVC prefix unit carrying view metadata for the
	// base-view slice that follows it.
	FragmentPrefix
	// FragmentOther covers units the decoders pass over (SEI, AUD, filler).
	FragmentOther
)

// String returns a short name for logging.
func (t FragmentType) String() string {
	switch t {
	case FragmentParameterSet:
		return "parameter-set"
	case FragmentIDR:
		return "idr"
	case FragmentPredicted:
		return "predicted"
	case FragmentPrefix:
		return "prefix"
	default:
		return "other"
	}
}

// Fragment is a contiguous chunk of coded bitstream tagged with the view it
// belongs to. Fragments are immutable once produced by the splitter; Data is
// the raw NAL unit (header included, start code stripped).
type Fragment struct {
	ViewID    int
	Type      FragmentType
	Reference bool // nal_ref_idc != 0: later pictures may predict from this one
	PTS       int64
	DTS       int64
	Data      []byte
}

// StreamDescriptor carries the stream-level facts the surrounding
// application knows before decode starts. TimeScale defaults to 90000.
type StreamDescriptor struct {
	Name         string
	TimeScale    int64
	FrameRateNum int
	FrameRateDen int
}

// FrameDuration returns the nominal per-frame PTS increment, or 0 when the
// descriptor carries no frame rate.
func (d StreamDescriptor) FrameDuration() int64 {
	if d.FrameRateNum <= 0 || d.FrameRateDen <= 0 {
		return 0
	}
	scale := d.TimeScale
	if scale == 0 {
		scale = 90000
	}
	return scale * int64(d.FrameRateDen) / int64(d.FrameRateNum)
}
