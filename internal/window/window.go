package window

import (
	"errors"
	"time"
)

// Errors surfaced by the per-window state machine. Late data is routed to a
// side channel by the caller, never folded into a closed candle.
var (
	// ErrLateData marks a tick or snapshot that arrived after its window
	// was finalized.
	ErrLateData = errors.New("late data for closed window")
	// ErrNoData marks a finalize attempt on a window that never saw a
	// trade print.
	ErrNoData = errors.New("no trade data in window")
	// ErrWrongWindow marks a tick routed to a state for another minute.
	ErrWrongWindow = errors.New("tick belongs to another window")
)

// Phase is the lifecycle tag of one minute window.
type Phase int

const (
	// PhaseOpen accepts ticks and book snapshots.
	PhaseOpen Phase = iota
	// PhaseFinalizing no longer accepts data while the candle is computed.
	PhaseFinalizing
	// PhaseClosed holds the immutable finalized record.
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseOpen:
		return "open"
	case PhaseFinalizing:
		return "finalizing"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Start derives the minute window start for a tick timestamp. The window is
// the half-open interval [Start, Start+1m).
func Start(ts time.Time) time.Time {
	return ts.UTC().Truncate(time.Minute)
}

// End returns the exclusive end of the window beginning at start.
func End(start time.Time) time.Time {
	return start.Add(time.Minute)
}

// UntilNext returns the duration from now until the next minute boundary.
// Used to align finalize timers with wall-clock minutes.
func UntilNext(now time.Time) time.Duration {
	next := Start(now).Add(time.Minute)
	return next.Sub(now)
}
