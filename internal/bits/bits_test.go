package bits

import (
	"bytes"
	"testing"
)

func TestReaderSingleBits(t *testing.T) {
	t.Parallel()
	r := NewReader([]byte{0xA5}) // 10100101
	expected := []bool{true, false, true, false, false, true, false, true}
	for i, want := range expected {
		if got := r.ReadBit(); got != want {
			t.Errorf("bit %d: got %v, want %v", i, got, want)
		}
	}
	if r.BitsLeft() != 0 {
		t.Errorf("BitsLeft: got %d, want 0", r.BitsLeft())
	}
	if r.Err() != nil {
		t.Errorf("Err: got %v, want nil", r.Err())
	}
}

func TestReaderBits(t *testing.T) {
	t.Parallel()
	r := NewReader([]byte{0xAB, 0xCD})
	if got := r.ReadBits(12); got != 0xABC {
		t.Errorf("ReadBits(12): got 0x%X, want 0xABC", got)
	}
	if got := r.ReadBits(4); got != 0xD {
		t.Errorf("ReadBits(4): got 0x%X, want 0xD", got)
	}
}

func TestReaderOverflowLatches(t *testing.T) {
	t.Parallel()
	r := NewReader([]byte{0xFF})
	r.Skip(8)
	r.ReadBit()
	if r.Err() != ErrOverflow {
		t.Fatalf("Err after overrun: got %v, want ErrOverflow", r.Err())
	}
	// Latched: stays in error even though no further reads happen.
	if r.Err() != ErrOverflow {
		t.Fatal("overflow did not latch")
	}
}

func TestExpGolombRoundTrip(t *testing.T) {
	t.Parallel()
	values := []uint{0, 1, 2, 3, 7, 8, 254, 255, 256, 65535}
	w := NewWriter()
	for _, v := range values {
		w.WriteUE(v)
	}
	r := NewReader(w.Bytes())
	for _, want := range values {
		if got := r.ReadUE(); got != want {
			t.Errorf("ReadUE: got %d, want %d", got, want)
		}
	}
	if r.Err() != nil {
		t.Errorf("Err: got %v", r.Err())
	}
}

func TestExpGolombKnownCodes(t *testing.T) {
	t.Parallel()
	// ue(0)=1, ue(1)=010, ue(2)=011, ue(3)=00100.
	r := NewReader([]byte{0b10100110, 0b01000000})
	for i, want := range []uint{0, 1, 2, 3} {
		if got := r.ReadUE(); got != want {
			t.Errorf("code %d: got %d, want %d", i, got, want)
		}
	}
}

func TestSignedExpGolombRoundTrip(t *testing.T) {
	t.Parallel()
	values := []int{0, 1, -1, 2, -2, 100, -100, 32767, -32768}
	w := NewWriter()
	for _, v := range values {
		w.WriteSE(v)
	}
	r := NewReader(w.Bytes())
	for _, want := range values {
		if got := r.ReadSE(); got != want {
			t.Errorf("ReadSE: got %d, want %d", got, want)
		}
	}
	if r.Err() != nil {
		t.Errorf("Err: got %v", r.Err())
	}
}

func TestReaderUEOverflowOnGarbage(t *testing.T) {
	t.Parallel()
	// All zeros never terminates a ue(v) prefix; must latch overflow, not spin.
	r := NewReader([]byte{0x00, 0x00, 0x00})
	r.ReadUE()
	if r.Err() != ErrOverflow {
		t.Fatalf("Err: got %v, want ErrOverflow", r.Err())
	}
}

func TestReaderAlignAndRest(t *testing.T) {
	t.Parallel()
	r := NewReader([]byte{0xFF, 0x01, 0x02, 0x03})
	r.ReadBits(3)
	rest := r.Rest()
	if !bytes.Equal(rest, []byte{0x01, 0x02, 0x03}) {
		t.Errorf("Rest: got %v, want [1 2 3]", rest)
	}
}

func TestReaderRestAtEnd(t *testing.T) {
	t.Parallel()
	r := NewReader([]byte{0xAA})
	r.Skip(8)
	if rest := r.Rest(); rest != nil {
		t.Errorf("Rest at end: got %v, want nil", rest)
	}
}

func TestWriterBitsAndAlign(t *testing.T) {
	t.Parallel()
	w := NewWriter()
	w.WriteBits(0xABC, 12)
	w.Align()
	w.WriteBytes([]byte{0xEF})
	got := w.Bytes()
	want := []byte{0xAB, 0xC0, 0xEF}
	if !bytes.Equal(got, want) {
		t.Errorf("got %X, want %X", got, want)
	}
}

func TestWriteBytesUnalignedPanics(t *testing.T) {
	t.Parallel()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on unaligned WriteBytes")
		}
	}()
	w := NewWriter()
	w.WriteBit(true)
	w.WriteBytes([]byte{0x00})
}

func TestEmulationPreventionRoundTrip(t *testing.T) {
	t.Parallel()
	cases := [][]byte{
		{},
		{0x00},
		{0x00, 0x00},
		{0x00, 0x00, 0x00},
		{0x00, 0x00, 0x01},
		{0x00, 0x00, 0x02},
		{0x00, 0x00, 0x03},
		{0x00, 0x00, 0x04}, // no escaping needed
		{0xAA, 0x00, 0x00, 0x00, 0x00, 0x01, 0xBB},
		{0x00, 0x00, 0x03, 0x00, 0x00, 0x03},
	}
	for _, in := range cases {
		escaped := InsertEmulationPrevention(in)
		for i := 0; i+2 < len(escaped); i++ {
			if escaped[i] == 0 && escaped[i+1] == 0 && escaped[i+2] <= 2 {
				t.Errorf("input %X: escaped form %X still contains start-code pattern", in, escaped)
			}
		}
		got := StripEmulationPrevention(escaped)
		if !bytes.Equal(got, in) {
			t.Errorf("round trip of %X: got %X via %X", in, got, escaped)
		}
	}
}

func TestInsertEmulationPreventionPassThrough(t *testing.T) {
	t.Parallel()
	in := []byte{0x01, 0x02, 0x00, 0xFF, 0x00, 0x04}
	if got := InsertEmulationPrevention(in); !bytes.Equal(got, in) {
		t.Errorf("got %X, want unchanged %X", got, in)
	}
}
