// Package compose assembles synchronized stereo pairs into single output
// surfaces: side-by-side, top-and-bottom, or the packed dual-field layout
// that places both full-resolution eyes in one tall canvas separated by an
// inactive blanking band for hardware 3D detection.
package compose

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"sync"
	"time"

	"github.com/nfnt/resize"

	"github.com/zsiec/stereo/media"
)

// Blanking band neutral sample values: video-range black.
const (
	blankY = 16
	blankC = 128
)

// Config carries the compositor's wiring and initial output settings.
type Config struct {
	Log    *slog.Logger
	Events media.EventFunc

	Layout media.Layout

	// BlankingLines is the packed-dual-field band height. It must match
	// the display's expected signal timing exactly, so it is pure
	// configuration; zero selects media.BlankingLines1080.
	BlankingLines int

	PoolSize int
	PoolWait time.Duration
}

// Compositor converts stereo pairs into pool-backed packed-YUYV surfaces.
// Layout and blanking height may be changed between frames from another
// goroutine.
type Compositor struct {
	log    *slog.Logger
	events media.EventFunc
	pool   *Pool

	mu       sync.Mutex
	layout   media.Layout
	blanking int
}

// New creates a Compositor with its surface pool.
func New(cfg Config) *Compositor {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	blanking := cfg.BlankingLines
	if blanking == 0 {
		blanking = media.BlankingLines1080
	}
	return &Compositor{
		log:      log.With("component", "compositor"),
		events:   cfg.Events,
		pool:     NewPool(cfg.PoolSize, cfg.PoolWait),
		layout:   cfg.Layout,
		blanking: blanking,
	}
}

// SetLayout switches the output layout for subsequent frames.
func (c *Compositor) SetLayout(l media.Layout) {
	c.mu.Lock()
	c.layout = l
	c.mu.Unlock()
	c.log.Info("layout changed", "layout", l.String())
}

// Layout returns the active layout.
func (c *Compositor) Layout() media.Layout {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.layout
}

// SetBlankingLines changes the packed-layout band height.
func (c *Compositor) SetBlankingLines(lines int) {
	c.mu.Lock()
	c.blanking = lines
	c.mu.Unlock()
	c.log.Info("blanking height changed", "lines", lines)
}

// BlankingLines returns the configured band height.
func (c *Compositor) BlankingLines() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blanking
}

// Pool exposes the surface pool for recovery paths and tests.
func (c *Compositor) Pool() *Pool { return c.pool }

// Compose produces one output surface from the pair. An empty dependent
// slot duplicates the base view into both eye positions. The pair's
// references are not consumed; the caller still owns them.
func (c *Compositor) Compose(ctx context.Context, pair *media.StereoPair) (*media.Surface, error) {
	left := pair.Base
	right := pair.Dependent
	if right == nil {
		right = pair.Base
	}
	if left.Width != right.Width || left.Height != right.Height {
		return nil, fmt.Errorf("compose: eye geometry mismatch %dx%d vs %dx%d",
			left.Width, left.Height, right.Width, right.Height)
	}

	c.mu.Lock()
	layout := c.layout
	blanking := c.blanking
	c.mu.Unlock()

	w, h := left.Width, left.Height
	var sw, sh int
	switch layout {
	case media.LayoutSideBySide, media.LayoutTopAndBottom:
		sw, sh = w, h
	case media.LayoutPackedDualField:
		sw, sh = w, 2*h+blanking
	default:
		return nil, fmt.Errorf("compose: unknown layout %v", layout)
	}

	s, err := c.pool.Get(ctx, sw*sh*2)
	if err != nil {
		return nil, err
	}
	s.Width, s.Height, s.Stride = sw, sh, sw*2
	s.PTS = pair.PTS

	switch layout {
	case media.LayoutSideBySide:
		// Eye width rounded down to keep YUYV pixel pairs aligned; any
		// remainder column is blanked rather than left stale.
		ew := (w / 2) &^ 1
		packRegion(s, 0, 0, scaleEye(left, ew, h))
		packRegion(s, ew, 0, scaleEye(right, ew, h))
		if 2*ew < sw {
			fillColumns(s, 2*ew, sw-2*ew)
		}
	case media.LayoutTopAndBottom:
		eh := (h / 2) &^ 1
		packRegion(s, 0, 0, scaleEye(left, w, eh))
		packRegion(s, 0, eh, scaleEye(right, w, eh))
		if 2*eh < sh {
			fillBlanking(s, 2*eh, sh-2*eh)
		}
	case media.LayoutPackedDualField:
		packRegion(s, 0, 0, eyePlanes(left))
		fillBlanking(s, h, blanking)
		packRegion(s, 0, h+blanking, eyePlanes(right))
	}
	return s, nil
}

// planes is one eye view's (possibly scaled) I420 sample data.
type planes struct {
	y, cb, cr []byte
	ys, cs    int
	w, h      int
}

func eyePlanes(p *media.Picture) planes {
	return planes{y: p.Y, cb: p.Cb, cr: p.Cr, ys: p.YStride, cs: p.CStride, w: p.Width, h: p.Height}
}

// scaleEye resamples one eye to tw x th, returning the source planes
// untouched when no scaling is needed. Each plane is resampled
// independently so the data stays planar until the single packing pass.
func scaleEye(p *media.Picture, tw, th int) planes {
	if tw == p.Width && th == p.Height {
		return eyePlanes(p)
	}
	y, ys := resamplePlane(p.Y, p.YStride, p.Width, p.Height, tw, th)
	cb, cs := resamplePlane(p.Cb, p.CStride, p.Width/2, p.Height/2, tw/2, th/2)
	cr, _ := resamplePlane(p.Cr, p.CStride, p.Width/2, p.Height/2, tw/2, th/2)
	return planes{y: y, cb: cb, cr: cr, ys: ys, cs: cs, w: tw, h: th}
}

func resamplePlane(src []byte, stride, w, h, tw, th int) ([]byte, int) {
	img := &image.Gray{Pix: src, Stride: stride, Rect: image.Rect(0, 0, w, h)}
	out := resize.Resize(uint(tw), uint(th), img, resize.Bilinear)
	if g, ok := out.(*image.Gray); ok {
		return g.Pix, g.Stride
	}
	// resize preserves *image.Gray for gray input; this path only runs if
	// that ever changes upstream.
	g := image.NewGray(image.Rect(0, 0, tw, th))
	for y := 0; y < th; y++ {
		for x := 0; x < tw; x++ {
			g.Pix[y*g.Stride+x] = color.GrayModel.Convert(out.At(x, y)).(color.Gray).Y
		}
	}
	return g.Pix, g.Stride
}

// fillColumns blanks a vertical strip starting at pixel column x0. x0 must
// be pair-aligned.
func fillColumns(s *media.Surface, x0, cols int) {
	for row := 0; row < s.Height; row++ {
		dst := s.Data[row*s.Stride+x0*2 : row*s.Stride+(x0+cols)*2]
		for i := 0; i+3 < len(dst); i += 4 {
			dst[i] = blankY
			dst[i+1] = blankC
			dst[i+2] = blankY
			dst[i+3] = blankC
		}
	}
}

// packRegion converts one eye's I420 planes to packed YUYV directly into
// the destination rectangle. This is the single per-frame format
// conversion; there is no intermediate planar canvas.
func packRegion(s *media.Surface, x0, y0 int, pl planes) {
	for row := 0; row < pl.h; row++ {
		yRow := pl.y[row*pl.ys:]
		cRow := (row / 2) * pl.cs
		cbRow := pl.cb[cRow:]
		crRow := pl.cr[cRow:]
		dst := s.Data[(y0+row)*s.Stride+x0*2:]
		di := 0
		for col := 0; col+1 < pl.w; col += 2 {
			ci := col / 2
			dst[di] = yRow[col]
			dst[di+1] = cbRow[ci]
			dst[di+2] = yRow[col+1]
			dst[di+3] = crRow[ci]
			di += 4
		}
	}
}

// fillBlanking writes the inactive band: uniform neutral samples, never
// sampled from either eye.
func fillBlanking(s *media.Surface, y0, rows int) {
	for row := 0; row < rows; row++ {
		dst := s.Data[(y0+row)*s.Stride : (y0+row+1)*s.Stride]
		for i := 0; i+3 < len(dst); i += 4 {
			dst[i] = blankY
			dst[i+1] = blankC
			dst[i+2] = blankY
			dst[i+3] = blankC
		}
	}
}
