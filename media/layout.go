package media

import "fmt"

// Layout selects how the compositor packs a stereo pair into one surface.
type Layout int

const (
	// LayoutSideBySide halves each eye horizontally and places them left/right.
	LayoutSideBySide Layout = iota
	// LayoutTopAndBottom halves each eye vertically and stacks them.
	LayoutTopAndBottom
	// LayoutPackedDualField keeps both eyes at full resolution in one tall
	// canvas separated by an inactive blanking band, signalling native
	// hardware 3D to the display.
	LayoutPackedDualField
)

// Blanking band heights mandated by HDMI 1.4a frame-packing signal timing.
// The value must match the display's expected timing exactly, so it is
// configuration, never computed from the source.
const (
	BlankingLines1080 = 45 // 1080-line source, 2205-line canvas
	BlankingLines720  = 30 // 720-line source, 1470-line canvas
)

func (l Layout) String() string {
	switch l {
	case LayoutSideBySide:
		return "side-by-side"
	case LayoutTopAndBottom:
		return "top-and-bottom"
	case LayoutPackedDualField:
		return "packed-dual-field"
	default:
		return fmt.Sprintf("layout(%d)", int(l))
	}
}

// ParseLayout maps the configuration spellings to a Layout.
func ParseLayout(s string) (Layout, error) {
	switch s {
	case "sbs", "side-by-side":
		return LayoutSideBySide, nil
	case "tab", "top-and-bottom":
		return LayoutTopAndBottom, nil
	case "packed", "packed-dual-field", "frame-packing":
		return LayoutPackedDualField, nil
	}
	return 0, fmt.Errorf("media: unknown layout %q", s)
}
