// Package reconcile turns a local player's progress samples into state
// changes worth telling the session about, and drives the player toward
// states imposed by the session.
//
// An Engine is either reconciling (a server-imposed state is pending) or
// free-running. Only a free-running engine emits, so a client never echoes a
// state it is still applying.
package reconcile

import "github.com/sharetube/watchsync/internal/protocol"

// DefaultThreshold is how far, in seconds, an observed position may run
// ahead of a reference and still count as natural progress.
const DefaultThreshold = 1.3

type Player interface {
	SetPlaying(playing bool)
	SeekTo(seconds float64)
	// Duration returns the media length in seconds, or 0 when unknown.
	Duration() float64
}

// Observed is one progress sample of the local player.
type Observed struct {
	Playing  bool
	Position float64
}

// WithinThreshold reports whether cur is at or after prev by at most delta
// seconds.
func WithinThreshold(prev, cur, delta float64) bool {
	return prev <= cur && cur-prev <= delta
}

type Engine struct {
	player    Player
	threshold float64

	desired      *protocol.PlayerState
	lastObserved Observed
	ended        bool
}

// New returns an engine driving player. A non-positive threshold falls back
// to DefaultThreshold.
func New(player Player, threshold float64) *Engine {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	return &Engine{
		player:    player,
		threshold: threshold,
	}
}

// Apply makes s the pending target and commands the player toward it.
func (e *Engine) Apply(s protocol.PlayerState) {
	if s.Position != nil {
		pos := *s.Position
		if d := e.player.Duration(); d > 0 && pos > d {
			pos = d
		}
		s.Position = &pos
	}

	e.desired = &s
	e.ended = false
	e.issue()
}

func (e *Engine) issue() {
	e.player.SetPlaying(e.desired.Playing)
	if e.desired.Position != nil {
		e.player.SeekTo(*e.desired.Position)
	}
}

// ColdStart starts local playback as the session's first member. Nothing is
// pending afterwards, so the first samples are reported to the session.
func (e *Engine) ColdStart() {
	e.desired = nil
	e.player.SetPlaying(true)
}

// Observe feeds one progress sample. It returns the state change to send, if
// the sample shows a local seek or play/pause toggle.
func (e *Engine) Observe(o Observed) (protocol.PlayerState, bool) {
	if e.ended {
		o.Position = e.player.Duration()
	}
	defer func() {
		e.lastObserved = o
	}()

	if e.desired != nil {
		if e.converged(o) {
			e.desired = nil
		} else {
			e.issue()
		}
		return protocol.PlayerState{}, false
	}

	if !WithinThreshold(e.lastObserved.Position, o.Position, e.threshold) {
		return protocol.PlayerState{
			Playing:  o.Playing,
			Position: protocol.Float(o.Position),
		}, true
	}

	if o.Playing != e.lastObserved.Playing {
		return protocol.PlayerState{Playing: o.Playing}, true
	}

	return protocol.PlayerState{}, false
}

func (e *Engine) converged(o Observed) bool {
	if o.Playing != e.desired.Playing {
		return false
	}

	return e.desired.Position == nil || WithinThreshold(*e.desired.Position, o.Position, e.threshold)
}

// OnEnded records that the player reached the end of the media. Until the
// next play or pause, samples report the duration as their position because
// players keep reporting a stale time after the end.
func (e *Engine) OnEnded() {
	e.ended = true
}

// OnPlayPause records a local play or pause command.
func (e *Engine) OnPlayPause() {
	e.ended = false
}

// Reset forgets everything learnt about the current session. Call it when
// leaving or switching sessions so stale corrections are never applied.
func (e *Engine) Reset() {
	e.desired = nil
	e.lastObserved = Observed{}
	e.ended = false
}

// Desired returns the pending target, if any.
func (e *Engine) Desired() (protocol.PlayerState, bool) {
	if e.desired == nil {
		return protocol.PlayerState{}, false
	}

	return *e.desired, true
}
