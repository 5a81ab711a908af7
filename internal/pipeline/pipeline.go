// Package pipeline orchestrates the stereo decode flow: access-unit
// splitting, the two view decoders on their own goroutines, the picture
// synchronizer, and the compositor, connected by bounded channels that
// apply backpressure instead of growing memory.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/stereo/internal/compose"
	"github.com/zsiec/stereo/internal/decoder"
	"github.com/zsiec/stereo/internal/pair"
	"github.com/zsiec/stereo/internal/splitter"
	"github.com/zsiec/stereo/media"
)

var (
	// ErrNotRunning is returned by Feed and control calls before Start.
	ErrNotRunning = errors.New("pipeline: not running")
	// ErrAlreadyRunning is returned by Start on a running pipeline.
	ErrAlreadyRunning = errors.New("pipeline: already running")
)

// Sink receives composed surfaces. Deliver blocks until the sink accepts
// the surface; the sink must Release each surface once consumed, returning
// it to the compositor's pool. The sink owns presentation pacing.
type Sink interface {
	Deliver(s *media.Surface)
}

// Config carries pipeline construction options. Zero values select the
// package defaults noted on each field's type.
type Config struct {
	Log    *slog.Logger
	Events media.EventFunc
	Sink   Sink

	Layout        media.Layout
	BlankingLines int
	PairHorizonAU int
	InterViewWait time.Duration
	ReorderDepth  int
	PoolSize      int
	PoolWait      time.Duration
}

type msgKind int

const (
	msgData msgKind = iota
	msgReset
	msgFlush
)

// fragMsg travels from Feed to a decode stage.
type fragMsg struct {
	kind   msgKind
	epoch  uint64
	target int64 // reset: minimum admissible PTS afterwards
	frags  []media.Fragment
}

// picMsg travels from a decode stage to the sync stage.
type picMsg struct {
	kind   msgKind
	epoch  uint64
	target int64
	pic    *media.Picture
}

// surfaceMsg travels from the sync stage to delivery, stamped with the
// epoch of the pictures it was composed from so a seek can void it.
type surfaceMsg struct {
	epoch uint64
	s     *media.Surface
}

// Pipeline is the stereo decode-and-compose core. One Pipeline serves one
// stream; create a fresh one per stream.
type Pipeline struct {
	log    *slog.Logger
	events media.EventFunc
	sink   Sink

	comp    *compose.Compositor
	store   *decoder.PictureStore
	baseDec *decoder.Decoder
	depDec  *decoder.Decoder
	syncr   *pair.Synchronizer

	baseCh    chan fragMsg
	depCh     chan fragMsg
	baseOut   chan picMsg
	depOut    chan picMsg
	deliverCh chan surfaceMsg

	epoch      atomic.Uint64
	resyncBase atomic.Int64
	resyncDep  atomic.Int64

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	g       *errgroup.Group
	desc    media.StreamDescriptor
}

// New creates a Pipeline. cfg.Sink must be set.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Sink == nil {
		return nil, errors.New("pipeline: config requires a sink")
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "pipeline")

	p := &Pipeline{
		log:    log,
		events: cfg.Events,
		sink:   cfg.Sink,
	}
	p.resyncBase.Store(-1)
	p.resyncDep.Store(-1)

	p.comp = compose.New(compose.Config{
		Log:           log,
		Events:        cfg.Events,
		Layout:        cfg.Layout,
		BlankingLines: cfg.BlankingLines,
		PoolSize:      cfg.PoolSize,
		PoolWait:      cfg.PoolWait,
	})

	reorderDepth := cfg.ReorderDepth
	if reorderDepth == 0 {
		reorderDepth = decoder.DefaultReorderDepth
	}
	horizon := cfg.PairHorizonAU
	if horizon <= 0 {
		horizon = pair.DefaultHorizonAU
	}
	// The store window must cover the reorder depth plus the sync horizon
	// so inter-view references stay resolvable while the dependent view
	// lags behind the base.
	p.store = decoder.NewPictureStore(reorderDepth + horizon + 4)

	p.baseDec = decoder.NewBase(decoder.Config{
		Log:          log,
		Events:       cfg.Events,
		ReorderDepth: reorderDepth,
		Store:        p.store,
	})
	p.depDec = decoder.NewDependent(decoder.Config{
		Log:           log,
		Events:        cfg.Events,
		ReorderDepth:  reorderDepth,
		InterView:     p.store,
		InterViewWait: cfg.InterViewWait,
	})
	p.syncr = pair.New(pair.Config{
		Log:       log,
		Events:    cfg.Events,
		HorizonAU: horizon,
		Resync: func(pts int64) {
			p.resyncBase.Store(pts)
			p.resyncDep.Store(pts)
		},
	})

	p.baseCh = make(chan fragMsg, media.FragmentBufferSize)
	p.depCh = make(chan fragMsg, media.FragmentBufferSize)
	p.baseOut = make(chan picMsg, media.PictureBufferSize)
	p.depOut = make(chan picMsg, media.PictureBufferSize)
	p.deliverCh = make(chan surfaceMsg, media.SurfaceBufferSize)

	return p, nil
}

// Start launches the decode, sync/compose, and delivery goroutines for the
// described stream. It returns immediately; Wait reports the terminal error.
func (p *Pipeline) Start(ctx context.Context, desc media.StreamDescriptor) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return ErrAlreadyRunning
	}
	p.desc = desc

	ctx, cancel := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)
	p.cancel = cancel
	p.g = g
	p.running = true

	g.Go(func() error { return p.decodeStage(ctx, p.baseDec, p.baseCh, p.baseOut, &p.resyncBase) })
	g.Go(func() error { return p.decodeStage(ctx, p.depDec, p.depCh, p.depOut, &p.resyncDep) })
	g.Go(func() error { return p.syncStage(ctx) })
	g.Go(func() error { return p.deliverStage(ctx) })

	p.log.Info("pipeline started",
		"stream", desc.Name,
		"layout", p.comp.Layout().String(),
		"blanking_lines", p.comp.BlankingLines(),
	)
	return nil
}

// Feed submits one access unit. It blocks when the decode queues are full,
// applying backpressure to the caller, and returns once both view fragment
// sequences are queued.
func (p *Pipeline) Feed(ctx context.Context, au *media.AccessUnit) error {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if !running {
		return ErrNotRunning
	}

	res := splitter.Split(au)
	for _, cerr := range res.Corrupt {
		p.events.Emit(media.EventCorruptFragment, au.PTS, cerr.Error())
		p.log.Warn("corrupt fragment dropped", "pts", au.PTS, "error", cerr)
	}

	epoch := p.epoch.Load()
	if len(res.Base) > 0 {
		select {
		case p.baseCh <- fragMsg{epoch: epoch, frags: res.Base}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if len(res.Dependent) > 0 {
		select {
		case p.depCh <- fragMsg{epoch: epoch, frags: res.Dependent}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Seek discards all in-flight work and re-arms the pipeline at target.
// Both decoders return to awaiting-parameters, so the caller must feed the
// stream's parameter sets and a key frame after seeking. No pair with a
// pre-seek timestamp is emitted once the reset propagates; surfaces that
// were already composed are released back to the pool undelivered.
func (p *Pipeline) Seek(ctx context.Context, target int64) error {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if !running {
		return ErrNotRunning
	}

	epoch := p.epoch.Add(1)
	// Unblock a dependent decoder waiting on a pre-seek base picture.
	p.store.Reset()

	reset := fragMsg{kind: msgReset, epoch: epoch, target: target}
	for _, ch := range []chan fragMsg{p.baseCh, p.depCh} {
		select {
		case ch <- reset:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.log.Info("seek issued", "target", target, "epoch", epoch)
	return nil
}

// Finish flushes both decoders' reorder windows and the synchronizer so
// the tail of the stream is emitted. Call after the last Feed.
func (p *Pipeline) Finish(ctx context.Context) error {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if !running {
		return ErrNotRunning
	}
	flush := fragMsg{kind: msgFlush, epoch: p.epoch.Load()}
	for _, ch := range []chan fragMsg{p.baseCh, p.depCh} {
		select {
		case ch <- flush:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Stop cancels all stages and waits for them to exit. The terminal error,
// if any, is returned; plain cancellation is not an error.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	cancel := p.cancel
	g := p.g
	p.mu.Unlock()

	cancel()
	err := g.Wait()
	p.drainQueues()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Wait blocks until the pipeline's goroutines exit and returns the hard
// failure that stopped them, if any.
func (p *Pipeline) Wait() error {
	p.mu.Lock()
	g := p.g
	p.mu.Unlock()
	if g == nil {
		return ErrNotRunning
	}
	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// SetLayout switches the compositor layout for subsequent frames.
func (p *Pipeline) SetLayout(l media.Layout) { p.comp.SetLayout(l) }

// SetBlankingHeight sets the packed dual-field band height in lines.
func (p *Pipeline) SetBlankingHeight(lines int) { p.comp.SetBlankingLines(lines) }

// decodeStage runs one view decoder over its fragment queue.
func (p *Pipeline) decodeStage(ctx context.Context, dec *decoder.Decoder, in <-chan fragMsg, out chan<- picMsg, resync *atomic.Int64) error {
	for {
		var msg fragMsg
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg = <-in:
		}

		switch msg.kind {
		case msgReset:
			dec.Reset()
			if !p.forwardPic(ctx, out, picMsg{kind: msgReset, epoch: msg.epoch, target: msg.target}) {
				return ctx.Err()
			}
			continue
		case msgFlush:
			for _, pic := range dec.Flush() {
				if !p.forwardPic(ctx, out, picMsg{epoch: msg.epoch, pic: pic}) {
					return ctx.Err()
				}
			}
			if !p.forwardPic(ctx, out, picMsg{kind: msgFlush, epoch: msg.epoch}) {
				return ctx.Err()
			}
			continue
		}

		if msg.epoch < p.epoch.Load() {
			continue // stale pre-seek access unit
		}
		if target := resync.Swap(-1); target >= 0 {
			dec.ResyncTo(target)
		}

		pics, err := dec.DecodeAccessUnit(ctx, msg.frags)
		for _, pic := range pics {
			if !p.forwardPic(ctx, out, picMsg{epoch: msg.epoch, pic: pic}) {
				return ctx.Err()
			}
		}
		if err != nil {
			if errors.Is(err, decoder.ErrStoreReset) {
				continue // seek raced the inter-view wait
			}
			if !errors.Is(err, context.Canceled) {
				p.log.Error("decoder failed", "error", err)
			}
			return err
		}
	}
}

func (p *Pipeline) forwardPic(ctx context.Context, out chan<- picMsg, msg picMsg) bool {
	select {
	case out <- msg:
		return true
	case <-ctx.Done():
		msg.pic.Release()
		return false
	}
}

// syncStage pairs the two decoded streams and composes each emitted pair.
func (p *Pipeline) syncStage(ctx context.Context) error {
	var lastReset uint64
	flushed := 0
	handle := func(msg picMsg, dependent bool) error {
		switch msg.kind {
		case msgReset:
			if msg.epoch > lastReset {
				lastReset = msg.epoch
				p.syncr.Reset(msg.target)
			}
			return nil
		case msgFlush:
			flushed++
			if flushed == 2 {
				flushed = 0
				return p.emitPairs(ctx, msg.epoch, p.syncr.Flush())
			}
			return nil
		}
		if msg.epoch < p.epoch.Load() {
			msg.pic.Release()
			return nil
		}
		if dependent {
			return p.emitPairs(ctx, msg.epoch, p.syncr.OnDependent(msg.pic))
		}
		return p.emitPairs(ctx, msg.epoch, p.syncr.OnBase(msg.pic))
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-p.baseOut:
			if err := handle(msg, false); err != nil {
				return err
			}
		case msg := <-p.depOut:
			if err := handle(msg, true); err != nil {
				return err
			}
		}
	}
}

func (p *Pipeline) emitPairs(ctx context.Context, epoch uint64, pairs []*media.StereoPair) error {
	for _, sp := range pairs {
		if err := p.composeAndQueue(ctx, epoch, sp); err != nil {
			return err
		}
	}
	return nil
}

// composeAndQueue converts one pair to a surface and queues it for the
// sink. Pool starvation is recovered by dropping the oldest undelivered
// surface; if the sink itself holds every surface, composition waits for
// one to come back.
func (p *Pipeline) composeAndQueue(ctx context.Context, epoch uint64, sp *media.StereoPair) error {
	defer sp.Release()
	for {
		s, err := p.comp.Compose(ctx, sp)
		if err == nil {
			select {
			case p.deliverCh <- surfaceMsg{epoch: epoch, s: s}:
				return nil
			case <-ctx.Done():
				s.Release()
				return ctx.Err()
			}
		}
		if !errors.Is(err, compose.ErrPoolExhausted) {
			p.log.Error("composition failed", "pts", sp.PTS, "error", err)
			return err
		}

		select {
		case old := <-p.deliverCh:
			p.events.Emit(media.EventPoolExhausted, old.s.PTS, "dropped oldest undelivered surface")
			p.log.Warn("surface pool starved, dropping oldest undelivered",
				"dropped_pts", old.s.PTS, "pts", sp.PTS)
			old.s.Release()
		default:
			// Every surface is held by the sink; keep waiting.
			p.log.Warn("surface pool starved, waiting on sink", "pts", sp.PTS)
		}
	}
}

// deliverStage pushes composed surfaces to the sink, which paces itself.
// A surface composed before the latest seek is returned to its pool
// instead of delivered.
func (p *Pipeline) deliverStage(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-p.deliverCh:
			if msg.epoch < p.epoch.Load() {
				p.log.Debug("discarding pre-seek surface", "pts", msg.s.PTS)
				msg.s.Release()
				continue
			}
			p.sink.Deliver(msg.s)
		}
	}
}

// drainQueues releases whatever was still queued when the stages exited.
func (p *Pipeline) drainQueues() {
	for {
		select {
		case msg := <-p.baseOut:
			msg.pic.Release()
		case msg := <-p.depOut:
			msg.pic.Release()
		case msg := <-p.deliverCh:
			msg.s.Release()
		case <-p.baseCh:
		case <-p.depCh:
		default:
			return
		}
	}
}
