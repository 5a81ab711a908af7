package mvcgen

import (
	"bytes"
	"testing"
)

func TestEncoderKeyFrameCadence(t *testing.T) {
	t.Parallel()
	e := NewEncoder(StreamOpts{Width: 32, Height: 32, KeyInterval: 4})
	for i := 0; i < 8; i++ {
		au := e.NextAU()
		hasSPS := bytes.Contains(au.Data, append([]byte{0, 0, 0, 1}, SPS(32, 32, 4)...))
		if want := i%4 == 0; hasSPS != want {
			t.Errorf("frame %d: parameter sets present %v, want %v", i, hasSPS, want)
		}
		if au.PTS != int64(i)*3600 {
			t.Errorf("frame %d: pts %d, want %d", i, au.PTS, int64(i)*3600)
		}
	}
}

func TestEncoderSeekToSnapsToKeyFrame(t *testing.T) {
	t.Parallel()
	e := NewEncoder(StreamOpts{Width: 32, Height: 32, KeyInterval: 4})
	e.SeekTo(6)
	au := e.NextAU()
	if au.PTS != 4*3600 {
		t.Errorf("pts after seek: got %d, want %d", au.PTS, 4*3600)
	}
	if !bytes.Contains(au.Data, append([]byte{0, 0, 0, 1}, SPS(32, 32, 4)...)) {
		t.Error("stream after seek does not resume at a key frame")
	}
}

func TestBaseOnlyOmitsDependentView(t *testing.T) {
	t.Parallel()
	aus := GenerateAUs(StreamOpts{Width: 32, Height: 32, KeyInterval: 4, BaseOnly: true}, 4)
	for i, au := range aus {
		for j := 0; j+4 < len(au.Data); j++ {
			if au.Data[j] == 0 && au.Data[j+1] == 0 && au.Data[j+2] == 0 && au.Data[j+3] == 1 {
				if au.Data[j+4]&0x1F == 20 || au.Data[j+4]&0x1F == 15 {
					t.Fatalf("frame %d: dependent-view NAL in base-only stream", i)
				}
			}
		}
	}
}

func TestDeltaReconstructs(t *testing.T) {
	t.Parallel()
	a := TestFrame(16, 16, 0, 0)
	b := TestFrame(16, 16, 1, 0)
	delta := b.Delta(a)
	ap := a.Payload()
	bp := b.Payload()
	for i := range delta {
		if ap[i]+delta[i] != bp[i] {
			t.Fatalf("sample %d does not reconstruct", i)
		}
	}
}
