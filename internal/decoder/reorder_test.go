package decoder

import (
	"testing"
)

func TestReorderEmitsPresentationOrder(t *testing.T) {
	t.Parallel()
	rb := newReorderBuffer(2)

	// Decode order 30, 10, 20: presentation order must come out sorted.
	var got []int64
	for i, pts := range []int64{30, 10, 20} {
		pic := newTestPicture(t, pts)
		pic.DecodeOrder = int64(i)
		for _, p := range rb.push(pic) {
			got = append(got, p.PTS)
			p.Release()
		}
	}
	for _, p := range rb.flush() {
		got = append(got, p.PTS)
		p.Release()
	}

	want := []int64{10, 20, 30}
	if len(got) != len(want) {
		t.Fatalf("emitted %d pictures, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: got pts %d, want %d", i, got[i], want[i])
		}
	}
}

func TestReorderHoldsUpToDepth(t *testing.T) {
	t.Parallel()
	rb := newReorderBuffer(3)
	for pts := int64(0); pts < 3; pts++ {
		if out := rb.push(newTestPicture(t, pts)); len(out) != 0 {
			t.Fatalf("premature emit at pts %d", pts)
		}
	}
	out := rb.push(newTestPicture(t, 3))
	if len(out) != 1 || out[0].PTS != 0 {
		t.Fatalf("got %d pictures, want exactly pts 0", len(out))
	}
	out[0].Release()
	for _, p := range rb.flush() {
		p.Release()
	}
}

func TestReorderDecodeOrderBreaksTies(t *testing.T) {
	t.Parallel()
	rb := newReorderBuffer(1)
	a := newTestPicture(t, 100)
	a.DecodeOrder = 2
	b := newTestPicture(t, 100)
	b.DecodeOrder = 1

	rb.push(a)
	out := rb.push(b)
	if len(out) != 1 || out[0] != b {
		t.Fatal("tie not broken by decode order")
	}
	out[0].Release()
	for _, p := range rb.flush() {
		p.Release()
	}
}

func TestReorderDiscardReleases(t *testing.T) {
	t.Parallel()
	rb := newReorderBuffer(4)
	a := newTestPicture(t, 1)
	b := newTestPicture(t, 2)
	rb.push(a)
	rb.push(b)
	rb.discard()
	if a.Refs() != 0 || b.Refs() != 0 {
		t.Errorf("refs after discard: got %d/%d, want 0/0", a.Refs(), b.Refs())
	}
	if out := rb.flush(); len(out) != 0 {
		t.Errorf("flush after discard emitted %d pictures", len(out))
	}
}

func TestReorderDropBelow(t *testing.T) {
	t.Parallel()
	rb := newReorderBuffer(4)
	for _, pts := range []int64{10, 20, 30} {
		rb.push(newTestPicture(t, pts))
	}
	rb.dropBelow(25)
	out := rb.flush()
	if len(out) != 1 || out[0].PTS != 30 {
		t.Fatalf("got %d pictures, want exactly pts 30", len(out))
	}
	out[0].Release()
}
