package splitter

import (
	"errors"
	"testing"

	"github.com/zsiec/stereo/media"
	"github.com/zsiec/stereo/test/tools/mvcgen"
)

// au builds an access unit from raw NAL units with 4-byte start codes.
func au(pts int64, nals ...[]byte) *media.AccessUnit {
	return mvcgen.AccessUnit(pts, pts, nals...)
}

func TestSplitStereoKeyFrame(t *testing.T) {
	t.Parallel()
	base := mvcgen.TestFrame(64, 64, 0, 0)
	dep := mvcgen.TestFrame(64, 64, 0, 1)
	unit := au(9000,
		mvcgen.SPS(64, 64, 4),
		mvcgen.PPS(),
		mvcgen.SubsetSPS(64, 64, 4, 1),
		mvcgen.Prefix(false),
		mvcgen.Slice(mvcgen.SliceSpec{Intra: true, Reference: true, Payload: base.Payload()}),
		mvcgen.Slice(mvcgen.SliceSpec{ViewID: 1, Intra: true, Reference: true, Payload: dep.Payload()}),
	)

	res := Split(unit)
	if len(res.Corrupt) != 0 {
		t.Fatalf("unexpected corrupt fragments: %v", res.Corrupt)
	}
	if len(res.Base) != 4 {
		t.Fatalf("base fragments: got %d, want 4", len(res.Base))
	}
	if len(res.Dependent) != 2 {
		t.Fatalf("dependent fragments: got %d, want 2", len(res.Dependent))
	}

	wantBase := []media.FragmentType{
		media.FragmentParameterSet, // SPS
		media.FragmentParameterSet, // PPS
		media.FragmentPrefix,
		media.FragmentIDR,
	}
	for i, want := range wantBase {
		if res.Base[i].Type != want {
			t.Errorf("base[%d].Type: got %v, want %v", i, res.Base[i].Type, want)
		}
		if res.Base[i].PTS != 9000 {
			t.Errorf("base[%d].PTS: got %d, want 9000", i, res.Base[i].PTS)
		}
	}
	if res.Dependent[0].Type != media.FragmentParameterSet {
		t.Errorf("dependent[0].Type: got %v, want parameter-set", res.Dependent[0].Type)
	}
	if res.Dependent[1].Type != media.FragmentIDR {
		t.Errorf("dependent[1].Type: got %v, want idr", res.Dependent[1].Type)
	}
	if res.Dependent[1].ViewID != 1 {
		t.Errorf("dependent[1].ViewID: got %d, want 1", res.Dependent[1].ViewID)
	}
	if !res.Dependent[1].Reference {
		t.Error("dependent IDR should be a reference fragment")
	}
}

func TestSplitPredictedFrame(t *testing.T) {
	t.Parallel()
	unit := au(12600,
		mvcgen.Prefix(true),
		mvcgen.Slice(mvcgen.SliceSpec{RefSlot: 0, Payload: []byte{1, 2, 3}}),
		mvcgen.Slice(mvcgen.SliceSpec{ViewID: 1, InterView: true, Payload: []byte{4, 5, 6}}),
	)

	res := Split(unit)
	if len(res.Base) != 2 || len(res.Dependent) != 1 {
		t.Fatalf("got %d base / %d dependent, want 2 / 1", len(res.Base), len(res.Dependent))
	}
	if res.Base[1].Type != media.FragmentPredicted {
		t.Errorf("base slice type: got %v, want predicted", res.Base[1].Type)
	}
	if res.Base[1].Reference {
		t.Error("non-reference base slice marked as reference")
	}
	if res.Dependent[0].Type != media.FragmentPredicted {
		t.Errorf("dependent slice type: got %v, want predicted", res.Dependent[0].Type)
	}
}

func TestSplitForbiddenBitDropsFragmentOnly(t *testing.T) {
	t.Parallel()
	good := mvcgen.Slice(mvcgen.SliceSpec{Intra: true, Reference: true, Payload: []byte{9}})
	bad := mvcgen.Slice(mvcgen.SliceSpec{RefSlot: 0, Payload: []byte{8}})
	bad[0] |= 0x80

	res := Split(au(0, good, bad))
	if len(res.Corrupt) != 1 {
		t.Fatalf("corrupt: got %d, want 1", len(res.Corrupt))
	}
	if len(res.Base) != 1 {
		t.Fatalf("base: got %d, want 1 (good fragment preserved)", len(res.Base))
	}
	var ce *CorruptFragmentError
	if !errors.As(res.Corrupt[0], &ce) {
		t.Fatalf("corrupt error type: got %T", res.Corrupt[0])
	}
	if ce.Index != 1 {
		t.Errorf("corrupt index: got %d, want 1", ce.Index)
	}
}

func TestSplitTruncatedExtensionDropped(t *testing.T) {
	t.Parallel()
	// Prefix NAL cut off before its 3-byte extension.
	res := Split(au(0, []byte{0x6E, 0x40}))
	if len(res.Corrupt) != 1 {
		t.Fatalf("corrupt: got %d, want 1", len(res.Corrupt))
	}
	if len(res.Base)+len(res.Dependent) != 0 {
		t.Fatal("truncated fragment must not be classified")
	}
}

func TestSplitSEIDefaultsToBase(t *testing.T) {
	t.Parallel()
	sei := []byte{0x06, 0x05, 0x04, 0x00, 0x80}
	res := Split(au(0, sei))
	if len(res.Base) != 1 {
		t.Fatalf("base: got %d, want 1", len(res.Base))
	}
	if res.Base[0].Type != media.FragmentOther {
		t.Errorf("type: got %v, want other", res.Base[0].Type)
	}
	if res.Base[0].ViewID != media.BaseViewID {
		t.Errorf("view: got %d, want base", res.Base[0].ViewID)
	}
}

func TestSplitThreeByteStartCodes(t *testing.T) {
	t.Parallel()
	nal := mvcgen.Slice(mvcgen.SliceSpec{Intra: true, Reference: true, Payload: []byte{7, 7}})
	data := append([]byte{0, 0, 1}, nal...)
	data = append(data, 0, 0, 1)
	data = append(data, mvcgen.PPS()...)

	res := Split(&media.AccessUnit{PTS: 100, DTS: 100, Data: data})
	if len(res.Base) != 2 {
		t.Fatalf("base: got %d, want 2", len(res.Base))
	}
	if res.Base[0].Type != media.FragmentIDR || res.Base[1].Type != media.FragmentParameterSet {
		t.Errorf("types: got %v, %v", res.Base[0].Type, res.Base[1].Type)
	}
}

func TestSplitEmptyAndGarbage(t *testing.T) {
	t.Parallel()
	for _, data := range [][]byte{nil, {0, 0}, {1, 2, 3, 4, 5}} {
		res := Split(&media.AccessUnit{Data: data})
		if len(res.Base)+len(res.Dependent)+len(res.Corrupt) != 0 {
			t.Errorf("data %v: expected empty result, got %+v", data, res)
		}
	}
}

func TestParseExtensionFields(t *testing.T) {
	t.Parallel()
	nal := mvcgen.Slice(mvcgen.SliceSpec{ViewID: 1, Intra: true, Reference: true, Payload: []byte{1}})
	ext, err := parseExtension(nal)
	if err != nil {
		t.Fatalf("parseExtension: %v", err)
	}
	if ext.ViewID != 1 {
		t.Errorf("ViewID: got %d, want 1", ext.ViewID)
	}
	if ext.NonIDR {
		t.Error("NonIDR set on anchor slice")
	}
	if !ext.AnchorPic {
		t.Error("AnchorPic not set on anchor slice")
	}
}

func TestParseExtensionRejectsSVC(t *testing.T) {
	t.Parallel()
	nal := []byte{0x6E, 0x80, 0x00, 0x00}
	if _, err := parseExtension(nal); err == nil {
		t.Fatal("expected error for svc_extension_flag")
	}
}
