// Package decoder implements the base-view and dependent-view picture
// decoders: parameter-set tracking, the per-view reference picture set with
// explicit marking, presentation reordering, and the dependent view's
// inter-view prediction against the base decoder's published pictures.
package decoder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zsiec/stereo/media"
)

// State tracks where a view decoder is in its lifecycle.
type State int

const (
	// StateAwaitingParameters: no valid parameter set yet.
	StateAwaitingParameters State = iota
	// StateReady: parameters known; decode starts at the next key frame.
	StateReady
	// StateDecoding: steady state.
	StateDecoding
	// StateError: unrecoverable bitstream violation; caller must reset.
	StateError
)

func (s State) String() string {
	switch s {
	case StateAwaitingParameters:
		return "awaiting-parameters"
	case StateReady:
		return "ready"
	case StateDecoding:
		return "decoding"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// maxSPSRetries is how many consecutive parameter-set parse failures are
// tolerated before the stream is declared unusable.
const maxSPSRetries = 3

// DefaultInterViewWait bounds the dependent decoder's wait for a base
// picture. Generous relative to a frame interval so it only fires when the
// base picture genuinely never materializes.
const DefaultInterViewWait = 250 * time.Millisecond

// DefaultReorderDepth is the presentation-reorder window in pictures.
const DefaultReorderDepth = 4

// Config carries a view decoder's wiring.
type Config struct {
	Log    *slog.Logger
	Events media.EventFunc

	// ReorderDepth is the presentation-reorder window; zero selects
	// DefaultReorderDepth.
	ReorderDepth int

	// Store receives every decoded picture (base decoder only), making
	// them available for inter-view prediction.
	Store *PictureStore

	// InterView is the base decoder's store (dependent decoder only).
	InterView *PictureStore

	// InterViewWait bounds the wait for an inter-view reference; zero
	// selects DefaultInterViewWait.
	InterViewWait time.Duration
}

// Decoder decodes one view's coded pictures into presentation-ordered
// decoded pictures. It is not safe for concurrent use; each view runs its
// decoder on its own goroutine.
type Decoder struct {
	log    *slog.Logger
	events media.EventFunc

	dependent bool
	state     State
	params    *StreamParams
	refs      *ReferenceSet
	reorder   *reorderBuffer

	store         *PictureStore
	interView     *PictureStore
	interViewWait time.Duration

	decodeOrder int64
	spsFailures int
}

// NewBase creates the base-view decoder. Decoded pictures are published to
// cfg.Store for the dependent decoder when one is configured.
func NewBase(cfg Config) *Decoder {
	return newDecoder(cfg, false)
}

// NewDependent creates the dependent-view decoder, resolving inter-view
// references against cfg.InterView.
func NewDependent(cfg Config) *Decoder {
	return newDecoder(cfg, true)
}

func newDecoder(cfg Config, dependent bool) *Decoder {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	view := "base"
	if dependent {
		view = "dependent"
	}
	depth := cfg.ReorderDepth
	if depth == 0 {
		depth = DefaultReorderDepth
	}
	wait := cfg.InterViewWait
	if wait == 0 {
		wait = DefaultInterViewWait
	}
	return &Decoder{
		log:           log.With("component", "decoder", "view", view),
		events:        cfg.Events,
		dependent:     dependent,
		state:         StateAwaitingParameters,
		reorder:       newReorderBuffer(depth),
		store:         cfg.Store,
		interView:     cfg.InterView,
		interViewWait: wait,
	}
}

// State returns the decoder's current state.
func (d *Decoder) State() State { return d.state }

// Params returns the active stream parameters, or nil before the first
// parameter set.
func (d *Decoder) Params() *StreamParams { return d.params }

// DecodeAccessUnit decodes one view's fragment sequence for a single access
// unit and returns any pictures that cleared the reorder window, in
// presentation order. Per-access-unit failures are absorbed per the error
// policy (drop, report, continue); the returned error is non-nil only for
// context cancellation or an unusable stream.
func (d *Decoder) DecodeAccessUnit(ctx context.Context, frags []media.Fragment) ([]*media.Picture, error) {
	if d.state == StateError {
		return nil, ErrStreamUnusable
	}

	var out []*media.Picture
	decoded := false
	for _, frag := range frags {
		switch frag.Type {
		case media.FragmentParameterSet:
			if err := d.handleParameterSet(frag); err != nil {
				return out, err
			}

		case media.FragmentIDR, media.FragmentPredicted:
			if decoded {
				d.log.Debug("extra slice in access unit ignored", "pts", frag.PTS)
				continue
			}
			pic, err := d.decodeSlice(ctx, frag)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, ErrStoreReset) {
					return out, err
				}
				d.reportSliceError(frag, &SliceError{PTS: frag.PTS, Err: err})
				continue
			}
			if pic == nil {
				continue
			}
			decoded = true
			if d.store != nil {
				d.store.Publish(pic)
			}
			out = append(out, d.reorder.push(pic)...)

		case media.FragmentPrefix, media.FragmentOther:
			// Prefix metadata was already consumed by the splitter's
			// classification; SEI/AUD carry nothing this core needs.
		}
	}
	return out, nil
}

// Flush drains the reorder window in presentation order (end of stream).
func (d *Decoder) Flush() []*media.Picture {
	return d.reorder.flush()
}

// Reset returns the decoder to AwaitingParameters, discarding the reference
// set, the reorder window, and (for the base decoder) the published store.
// Called on seek.
func (d *Decoder) Reset() {
	if d.refs != nil {
		d.refs.Reset()
	}
	d.reorder.discard()
	if d.store != nil {
		d.store.Reset()
	}
	d.params = nil
	d.spsFailures = 0
	d.state = StateAwaitingParameters
	d.log.Debug("decoder reset")
}

// ResyncTo drops reorder-buffered pictures older than pts. Invoked by the
// synchronizer's desync recovery.
func (d *Decoder) ResyncTo(pts int64) {
	d.reorder.dropBelow(pts)
}

func (d *Decoder) handleParameterSet(frag media.Fragment) error {
	if len(frag.Data) == 0 {
		return nil
	}
	nalType := int(frag.Data[0] & 0x1F)

	var (
		params StreamParams
		err    error
	)
	switch {
	case nalType == 7 && !d.dependent:
		params, err = ParseSPS(frag.Data)
	case nalType == 15 && d.dependent:
		params, err = ParseSubsetSPS(frag.Data)
	default:
		// PPS and cross-view parameter sets carry nothing the
		// reconstruction model needs.
		return nil
	}

	if err != nil {
		d.spsFailures++
		d.log.Warn("parameter set parse failed", "error", err, "attempt", d.spsFailures)
		if d.spsFailures >= maxSPSRetries {
			d.state = StateError
			return fmt.Errorf("%w: %d consecutive parse failures: %v", ErrStreamUnusable, d.spsFailures, err)
		}
		return nil
	}

	d.spsFailures = 0
	reinit := d.params == nil ||
		d.params.Width != params.Width ||
		d.params.Height != params.Height ||
		d.params.MaxRefFrames != params.MaxRefFrames
	if reinit {
		if d.refs != nil {
			d.refs.Reset()
		}
		d.refs = NewReferenceSet(params.MaxRefFrames)
	}
	p := params
	d.params = &p
	if d.state == StateAwaitingParameters {
		d.state = StateReady
		d.log.Info("parameter set accepted",
			"codec", params.CodecString(),
			"width", params.Width,
			"height", params.Height,
			"max_ref_frames", params.MaxRefFrames,
		)
	}
	return nil
}

func (d *Decoder) decodeSlice(ctx context.Context, frag media.Fragment) (*media.Picture, error) {
	switch d.state {
	case StateAwaitingParameters:
		return nil, ErrParameterSetMissing
	case StateReady:
		if frag.Type != media.FragmentIDR {
			return nil, ErrParameterSetMissing
		}
	}

	hdrLen := 1
	if int(frag.Data[0]&0x1F) == 20 {
		hdrLen = 4 // NAL header plus MVC extension
	}
	h, err := parseSlice(frag, hdrLen)
	if err != nil {
		return nil, err
	}

	var pic *media.Picture
	if h.intra {
		// A key frame starts a fresh decodable sequence: the reference
		// set's history is invalid beyond it.
		d.refs.Reset()
		pic, err = reconstructIntra(d.params, h.payload)
		if err != nil {
			return nil, err
		}
		d.state = StateDecoding
	} else {
		ref, release, err := d.resolveReference(ctx, frag, h)
		if err != nil {
			return nil, err
		}
		pic, err = reconstructPredicted(d.params, h.payload, ref)
		release()
		if err != nil {
			return nil, err
		}
	}

	d.decodeOrder++
	pic.PTS = frag.PTS
	pic.DecodeOrder = d.decodeOrder
	pic.Reference = frag.Reference
	pic.ViewID = frag.ViewID

	if frag.Reference {
		if err := d.refs.Apply(h.marking); err != nil {
			pic.Release()
			return nil, err
		}
		if _, err := d.refs.Insert(pic, d.decodeOrder); err != nil {
			pic.Release()
			return nil, err
		}
	}
	return pic, nil
}

// resolveReference locates the slice's prediction source: a slot in this
// decoder's own reference set, or for the dependent view an entry in the
// base decoder's published output. The returned release func ends the
// borrow; for own-view references it is a no-op since the arena keeps the
// picture alive through the current access unit.
func (d *Decoder) resolveReference(ctx context.Context, frag media.Fragment, h sliceHeader) (*media.Picture, func(), error) {
	if !h.interView {
		ref, err := d.refs.Get(h.refSlot)
		if err != nil {
			return nil, nil, err
		}
		return ref, func() {}, nil
	}

	if !d.dependent || d.interView == nil {
		return nil, nil, fmt.Errorf("%w: inter-view reference in base-view slice", ErrCorruptSlice)
	}

	refPTS := frag.PTS + h.refDelta
	waitCtx, cancel := context.WithTimeout(ctx, d.interViewWait)
	defer cancel()
	ref, err := d.interView.WaitFor(waitCtx, refPTS)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, nil, fmt.Errorf("%w: base picture for pts %d", ErrInterViewTimeout, refPTS)
		}
		return nil, nil, err
	}
	return ref, func() { ref.Release() }, nil
}

func (d *Decoder) reportSliceError(frag media.Fragment, err error) {
	switch {
	case errors.Is(err, ErrParameterSetMissing):
		d.events.Emit(media.EventParameterSetMissing, frag.PTS, err.Error())
		d.log.Debug("slice skipped before key frame", "pts", frag.PTS, "state", d.state.String())
	case errors.Is(err, ErrMissingReference):
		d.events.Emit(media.EventMissingReference, frag.PTS, err.Error())
		d.log.Warn("access unit dropped, missing reference", "pts", frag.PTS, "error", err)
	case errors.Is(err, ErrInterViewTimeout):
		d.events.Emit(media.EventInterViewTimeout, frag.PTS, err.Error())
		d.log.Warn("dependent access unit dropped, inter-view wait expired", "pts", frag.PTS)
	default:
		d.events.Emit(media.EventCorruptFragment, frag.PTS, err.Error())
		d.log.Warn("access unit dropped, corrupt slice", "pts", frag.PTS, "error", err)
	}
}
