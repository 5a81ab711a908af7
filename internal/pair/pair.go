// Package pair implements the picture synchronizer: it consumes the two
// view decoders' presentation-ordered outputs and emits stereo pairs in
// strictly increasing timestamp order, degrading individual frames to
// monoscopic when the dependent view fails to show up within the horizon.
package pair

import (
	"log/slog"

	"github.com/zsiec/stereo/media"
)

// DefaultHorizonAU is how many subsequent base pictures may arrive before a
// frame still waiting on its dependent view is emitted monoscopic. Counted
// in access units rather than wall clock so the horizon adapts to playback
// speed.
const DefaultHorizonAU = 4

// Config carries the synchronizer's wiring.
type Config struct {
	Log    *slog.Logger
	Events media.EventFunc

	// HorizonAU overrides DefaultHorizonAU when positive.
	HorizonAU int

	// Resync, when set, is invoked with the offending timestamp after a
	// desync fault so the decoders can drop their stale buffered output.
	Resync func(pts int64)
}

// pendingBase is a base picture waiting for its dependent partner. age
// counts base pictures that arrived after it.
type pendingBase struct {
	pic *media.Picture
	age int
}

// Synchronizer pairs base and dependent pictures by presentation timestamp.
// It is a passive state machine: the pipeline feeds it pictures from either
// decoder and forwards whatever pairs fall out. Not safe for concurrent use.
type Synchronizer struct {
	log     *slog.Logger
	events  media.EventFunc
	horizon int
	resync  func(int64)

	base []pendingBase
	dep  map[int64]*media.Picture

	lastPTS int64
	started bool
	floor   int64 // minimum admissible PTS after a seek
}

// New creates a Synchronizer.
func New(cfg Config) *Synchronizer {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	horizon := cfg.HorizonAU
	if horizon <= 0 {
		horizon = DefaultHorizonAU
	}
	return &Synchronizer{
		log:     log.With("component", "synchronizer"),
		events:  cfg.Events,
		horizon: horizon,
		resync:  cfg.Resync,
		dep:     make(map[int64]*media.Picture),
	}
}

// OnBase accepts the next base-view picture and returns any pairs now ready
// for composition, in strictly increasing PTS order.
func (s *Synchronizer) OnBase(pic *media.Picture) []*media.StereoPair {
	if pic.PTS < s.floor {
		pic.Release()
		return nil
	}
	if s.started && pic.PTS <= s.lastPTS {
		s.faultDesync(pic.PTS)
	}
	for i := range s.base {
		s.base[i].age++
	}
	s.base = append(s.base, pendingBase{pic: pic})
	return s.drain()
}

// OnDependent accepts the next dependent-view picture.
func (s *Synchronizer) OnDependent(pic *media.Picture) []*media.StereoPair {
	if pic.PTS < s.floor || (s.started && pic.PTS <= s.lastPTS) {
		// Too late: its frame was already emitted (or predates a seek).
		pic.Release()
		return s.drain()
	}
	if old, ok := s.dep[pic.PTS]; ok {
		old.Release()
	}
	// Every stashed timestamp is ahead of the emission cursor, so its base
	// picture can still legally arrive; drain purges whatever the cursor
	// passes, which bounds the stash by the base decoder's lag.
	s.dep[pic.PTS] = pic
	return s.drain()
}

// Reset clears all pending state and re-arms the cursor at floor. No pair
// with PTS below floor will be emitted afterwards. Called on seek.
func (s *Synchronizer) Reset(floor int64) {
	for _, pb := range s.base {
		pb.pic.Release()
	}
	s.base = nil
	for pts, p := range s.dep {
		p.Release()
		delete(s.dep, pts)
	}
	s.started = false
	s.lastPTS = 0
	s.floor = floor
}

// Pending returns the number of base pictures awaiting pairing. Used by
// tests and debug logging.
func (s *Synchronizer) Pending() int { return len(s.base) }

// Flush emits every pending frame immediately, matched where the dependent
// picture already arrived and monoscopic otherwise. Called at end of
// stream; unmatched dependent pictures are released.
func (s *Synchronizer) Flush() []*media.StereoPair {
	var out []*media.StereoPair
	for _, pb := range s.base {
		pts := pb.pic.PTS
		dep := s.dep[pts]
		if dep != nil {
			delete(s.dep, pts)
		}
		s.started = true
		s.lastPTS = pts
		out = append(out, &media.StereoPair{Base: pb.pic, Dependent: dep, PTS: pts})
	}
	s.base = nil
	for pts, p := range s.dep {
		p.Release()
		delete(s.dep, pts)
	}
	return out
}

// drain emits from the head of the base queue: a matched pair as soon as
// the dependent picture exists, a monoscopic fallback once the horizon has
// elapsed. Pairs never reorder once emitted.
func (s *Synchronizer) drain() []*media.StereoPair {
	var out []*media.StereoPair
	for len(s.base) > 0 {
		head := s.base[0]
		pts := head.pic.PTS
		dep, matched := s.dep[pts]
		if !matched && head.age < s.horizon {
			break
		}
		s.base = s.base[1:]
		if matched {
			delete(s.dep, pts)
		} else {
			dep = nil
			s.log.Debug("pair horizon elapsed, emitting monoscopic", "pts", pts, "age", head.age)
		}
		s.started = true
		s.lastPTS = pts
		out = append(out, &media.StereoPair{Base: head.pic, Dependent: dep, PTS: pts})
	}
	if len(out) > 0 {
		// Stash entries the cursor has now passed can never match.
		for pts, p := range s.dep {
			if pts <= s.lastPTS {
				p.Release()
				delete(s.dep, pts)
			}
		}
	}
	return out
}

// faultDesync handles an out-of-order timestamp from a decoder: reset the
// cursors to the offending timestamp and keep going rather than crash.
func (s *Synchronizer) faultDesync(pts int64) {
	s.log.Warn("out-of-order timestamp, resynchronizing", "pts", pts, "last_pts", s.lastPTS)
	s.events.Emit(media.EventDesync, pts, "out-of-order presentation timestamp")

	// Pending pictures older than the offending timestamp can no longer
	// be emitted in order; release them and restart the cursor.
	kept := s.base[:0]
	for _, pb := range s.base {
		if pb.pic.PTS < pts {
			pb.pic.Release()
		} else {
			kept = append(kept, pb)
		}
	}
	s.base = kept
	for t, p := range s.dep {
		if t < pts {
			p.Release()
			delete(s.dep, t)
		}
	}
	s.started = false
	s.lastPTS = 0
	if s.floor < pts {
		s.floor = pts
	}
	if s.resync != nil {
		s.resync(pts)
	}
}

