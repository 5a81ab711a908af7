package media

// EventKind names a quality-degradation or recovery event raised by the
// pipeline. None of these are fatal; they exist so the surrounding
// application can surface decode health to the user.
type EventKind int

const (
	// EventCorruptFragment: malformed fragment header, fragment dropped.
	EventCorruptFragment EventKind = iota
	// EventMissingReference: a referenced picture was absent from the
	// reference set; the access unit was dropped.
	EventMissingReference
	// EventParameterSetMissing: predicted fragment before any key frame.
	EventParameterSetMissing
	// EventInterViewTimeout: the dependent decoder's wait for a base
	// picture expired; the frame degraded to monoscopic.
	EventInterViewTimeout
	// EventDesync: out-of-order timestamp at the synchronizer; cursors
	// were reset to the offending timestamp.
	EventDesync
	// EventPoolExhausted: surface pool starved; the oldest undelivered
	// surface was dropped to recover.
	EventPoolExhausted
)

func (k EventKind) String() string {
	switch k {
	case EventCorruptFragment:
		return "corrupt-fragment"
	case EventMissingReference:
		return "missing-reference"
	case EventParameterSetMissing:
		return "parameter-set-missing"
	case EventInterViewTimeout:
		return "inter-view-timeout"
	case EventDesync:
		return "desync"
	case EventPoolExhausted:
		return "pool-exhausted"
	default:
		return "unknown"
	}
}

// Event is one quality event, tagged with the presentation timestamp it
// affected where one applies.
type Event struct {
	Kind   EventKind
	PTS    int64
	Detail string
}

// EventFunc receives quality events. Implementations must not block.
type EventFunc func(Event)

// Emit calls f if it is non-nil.
func (f EventFunc) Emit(kind EventKind, pts int64, detail string) {
	if f != nil {
		f(Event{Kind: kind, PTS: pts, Detail: detail})
	}
}
