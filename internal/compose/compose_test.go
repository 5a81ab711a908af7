package compose

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zsiec/stereo/media"
)

func flatPic(t *testing.T, w, h int, y, cb, cr byte) *media.Picture {
	t.Helper()
	p, err := media.NewPicture(w, h)
	if err != nil {
		t.Fatalf("NewPicture: %v", err)
	}
	for i := range p.Y {
		p.Y[i] = y
	}
	for i := range p.Cb {
		p.Cb[i] = cb
	}
	for i := range p.Cr {
		p.Cr[i] = cr
	}
	return p
}

func patternPic(t *testing.T, w, h int) *media.Picture {
	t.Helper()
	p, err := media.NewPicture(w, h)
	if err != nil {
		t.Fatalf("NewPicture: %v", err)
	}
	for i := range p.Y {
		p.Y[i] = byte(i)
	}
	for i := range p.Cb {
		p.Cb[i] = byte(i + 101)
	}
	for i := range p.Cr {
		p.Cr[i] = byte(i + 201)
	}
	return p
}

// yuyvAt returns the luma and interleaved chroma sample pair at pixel (x, y).
func yuyvAt(s *media.Surface, x, y int) (luma, chroma byte) {
	base := y*s.Stride + (x&^1)*2
	chromaOff := 1
	if x%2 == 1 {
		chromaOff = 3
	}
	return s.Data[y*s.Stride+x*2], s.Data[base+chromaOff]
}

func TestComposeSideBySide(t *testing.T) {
	t.Parallel()
	c := New(Config{Layout: media.LayoutSideBySide})
	left := flatPic(t, 32, 16, 50, 60, 70)
	right := flatPic(t, 32, 16, 150, 160, 170)
	defer left.Release()
	defer right.Release()

	s, err := c.Compose(context.Background(), &media.StereoPair{Base: left, Dependent: right, PTS: 900})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	defer s.Release()

	if s.Width != 32 || s.Height != 16 || s.Stride != 64 {
		t.Fatalf("surface: %dx%d stride %d", s.Width, s.Height, s.Stride)
	}
	if s.PTS != 900 {
		t.Errorf("pts: got %d, want 900", s.PTS)
	}
	// Flat input stays flat through bilinear scaling, so each half must be
	// uniformly its eye's value.
	for _, probe := range []struct {
		x, y int
		luma byte
	}{{0, 0, 50}, {15, 15, 50}, {16, 0, 150}, {31, 15, 150}} {
		if luma, _ := yuyvAt(s, probe.x, probe.y); luma != probe.luma {
			t.Errorf("pixel (%d,%d): luma %d, want %d", probe.x, probe.y, luma, probe.luma)
		}
	}
	if _, chroma := yuyvAt(s, 0, 0); chroma != 60 {
		t.Errorf("left Cb: got %d, want 60", chroma)
	}
	if _, chroma := yuyvAt(s, 17, 0); chroma != 170 {
		t.Errorf("right Cr: got %d, want 170", chroma)
	}
}

func TestComposeTopAndBottom(t *testing.T) {
	t.Parallel()
	c := New(Config{Layout: media.LayoutTopAndBottom})
	left := flatPic(t, 32, 32, 40, 128, 128)
	right := flatPic(t, 32, 32, 200, 128, 128)
	defer left.Release()
	defer right.Release()

	s, err := c.Compose(context.Background(), &media.StereoPair{Base: left, Dependent: right})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	defer s.Release()

	if s.Width != 32 || s.Height != 32 {
		t.Fatalf("surface: %dx%d", s.Width, s.Height)
	}
	if luma, _ := yuyvAt(s, 10, 0); luma != 40 {
		t.Errorf("top half luma: got %d, want 40", luma)
	}
	if luma, _ := yuyvAt(s, 10, 15); luma != 40 {
		t.Errorf("top half last row luma: got %d, want 40", luma)
	}
	if luma, _ := yuyvAt(s, 10, 16); luma != 200 {
		t.Errorf("bottom half luma: got %d, want 200", luma)
	}
	if luma, _ := yuyvAt(s, 10, 31); luma != 200 {
		t.Errorf("bottom half last row luma: got %d, want 200", luma)
	}
}

func TestComposePackedDualField(t *testing.T) {
	t.Parallel()
	const w, h, blanking = 32, 16, 6
	c := New(Config{Layout: media.LayoutPackedDualField, BlankingLines: blanking})
	left := patternPic(t, w, h)
	right := flatPic(t, w, h, 99, 88, 77)
	defer left.Release()
	defer right.Release()

	s, err := c.Compose(context.Background(), &media.StereoPair{Base: left, Dependent: right})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	defer s.Release()

	if s.Height != 2*h+blanking {
		t.Fatalf("height: got %d, want %d", s.Height, 2*h+blanking)
	}

	// Top field: left eye at full resolution, exact sample placement.
	for _, probe := range []struct{ x, y int }{{0, 0}, {31, 0}, {5, 7}, {30, 15}} {
		luma, _ := yuyvAt(s, probe.x, probe.y)
		if want := left.Y[probe.y*left.YStride+probe.x]; luma != want {
			t.Errorf("top field (%d,%d): luma %d, want %d", probe.x, probe.y, luma, want)
		}
	}
	cb, cr := s.Data[1], s.Data[3]
	if cb != left.Cb[0] || cr != left.Cr[0] {
		t.Errorf("top field chroma: got %d/%d, want %d/%d", cb, cr, left.Cb[0], left.Cr[0])
	}

	// Blanking band: uniform neutral samples on every row.
	for row := h; row < h+blanking; row++ {
		for i := 0; i < s.Stride; i += 4 {
			off := row*s.Stride + i
			if s.Data[off] != blankY || s.Data[off+1] != blankC ||
				s.Data[off+2] != blankY || s.Data[off+3] != blankC {
				t.Fatalf("blanking row %d not neutral at %d", row, i)
			}
		}
	}

	// Bottom field: right eye at full resolution.
	for _, y := range []int{h + blanking, s.Height - 1} {
		if luma, _ := yuyvAt(s, 8, y); luma != 99 {
			t.Errorf("bottom field row %d: luma %d, want 99", y, luma)
		}
	}
}

func TestComposePacked1080Canvas(t *testing.T) {
	t.Parallel()
	// Default blanking for a 1080-line source yields the 2205-line canvas
	// frame-packed signaling requires.
	c := New(Config{Layout: media.LayoutPackedDualField})
	left := flatPic(t, 16, 1080, 60, 128, 128)
	defer left.Release()

	s, err := c.Compose(context.Background(), &media.StereoPair{Base: left})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	defer s.Release()
	if s.Height != 2205 {
		t.Fatalf("canvas height: got %d, want 2205", s.Height)
	}
}

func TestComposeMonoscopicDuplicates(t *testing.T) {
	t.Parallel()
	for _, layout := range []media.Layout{media.LayoutSideBySide, media.LayoutTopAndBottom, media.LayoutPackedDualField} {
		c := New(Config{Layout: layout, BlankingLines: 4})
		base := flatPic(t, 32, 16, 77, 128, 128)

		s, err := c.Compose(context.Background(), &media.StereoPair{Base: base})
		if err != nil {
			t.Fatalf("%v: Compose: %v", layout, err)
		}
		// Both eye regions must carry the base view.
		var probes [][2]int
		switch layout {
		case media.LayoutSideBySide:
			probes = [][2]int{{2, 3}, {20, 3}}
		case media.LayoutTopAndBottom:
			probes = [][2]int{{3, 2}, {3, 12}}
		case media.LayoutPackedDualField:
			probes = [][2]int{{3, 2}, {3, 16 + 4 + 2}}
		}
		for _, pr := range probes {
			if luma, _ := yuyvAt(s, pr[0], pr[1]); luma != 77 {
				t.Errorf("%v: probe (%d,%d): luma %d, want 77", layout, pr[0], pr[1], luma)
			}
		}
		s.Release()
		base.Release()
	}
}

func TestComposeGeometryMismatch(t *testing.T) {
	t.Parallel()
	c := New(Config{Layout: media.LayoutSideBySide})
	left := flatPic(t, 32, 16, 0, 0, 0)
	right := flatPic(t, 16, 16, 0, 0, 0)
	defer left.Release()
	defer right.Release()
	if _, err := c.Compose(context.Background(), &media.StereoPair{Base: left, Dependent: right}); err == nil {
		t.Fatal("expected geometry mismatch error")
	}
}

func TestComposeLayoutSwitch(t *testing.T) {
	t.Parallel()
	c := New(Config{Layout: media.LayoutSideBySide, BlankingLines: 8})
	base := flatPic(t, 32, 16, 10, 128, 128)
	defer base.Release()

	s1, err := c.Compose(context.Background(), &media.StereoPair{Base: base})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if s1.Height != 16 {
		t.Errorf("sbs height: got %d", s1.Height)
	}
	s1.Release()

	c.SetLayout(media.LayoutPackedDualField)
	if c.Layout() != media.LayoutPackedDualField {
		t.Fatal("layout did not switch")
	}
	s2, err := c.Compose(context.Background(), &media.StereoPair{Base: base})
	if err != nil {
		t.Fatalf("Compose after switch: %v", err)
	}
	if s2.Height != 2*16+8 {
		t.Errorf("packed height: got %d, want 40", s2.Height)
	}
	s2.Release()
}

func TestPoolExhaustionAndRecycle(t *testing.T) {
	t.Parallel()
	c := New(Config{Layout: media.LayoutSideBySide, PoolSize: 1, PoolWait: 10 * time.Millisecond})
	base := flatPic(t, 32, 16, 10, 128, 128)
	defer base.Release()
	pair := &media.StereoPair{Base: base}

	s1, err := c.Compose(context.Background(), pair)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if c.Pool().Free() != 0 {
		t.Fatalf("free: got %d, want 0", c.Pool().Free())
	}

	if _, err := c.Compose(context.Background(), pair); !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("exhausted pool: got %v, want ErrPoolExhausted", err)
	}

	s1.Release()
	if c.Pool().Free() != 1 {
		t.Fatalf("free after release: got %d, want 1", c.Pool().Free())
	}
	s2, err := c.Compose(context.Background(), pair)
	if err != nil {
		t.Fatalf("Compose after recycle: %v", err)
	}
	s2.Release()
}

func TestPoolGetHonorsContext(t *testing.T) {
	t.Parallel()
	p := NewPool(1, time.Second)
	s, err := p.Get(context.Background(), 64)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := p.Get(ctx, 64); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Get with cancelled context: got %v", err)
	}
	s.Release()
}
