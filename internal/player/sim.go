// Package player provides a simulated media player whose timeline advances
// with a clock.
package player

import (
	"github.com/jonboulle/clockwork"
	"github.com/sharetube/watchsync/internal/position"
	"github.com/sharetube/watchsync/internal/reconcile"
)

// Sim is not safe for concurrent use.
type Sim struct {
	clock    clockwork.Clock
	duration float64
	mediaRef string
	ref      position.Reference
}

// NewSim returns a paused player. A zero duration means the media never ends.
func NewSim(clock clockwork.Clock, duration float64) *Sim {
	return &Sim{
		clock:    clock,
		duration: duration,
		ref:      position.Reference{WallTime: clock.Now()},
	}
}

// Load replaces the media and rewinds to a paused zero.
func (s *Sim) Load(mediaRef string) {
	s.mediaRef = mediaRef
	s.ref = position.Reference{WallTime: s.clock.Now()}
}

func (s *Sim) MediaRef() string {
	return s.mediaRef
}

func (s *Sim) SetPlaying(playing bool) {
	s.rebase(s.CurrentTime(), playing)
}

func (s *Sim) SeekTo(seconds float64) {
	s.rebase(s.clamp(seconds), s.ref.Playing)
}

func (s *Sim) rebase(pos float64, playing bool) {
	s.ref = position.Reference{
		Position: pos,
		WallTime: s.clock.Now(),
		Playing:  playing,
	}
}

func (s *Sim) clamp(pos float64) float64 {
	if pos < 0 {
		return 0
	}
	if s.duration > 0 && pos > s.duration {
		return s.duration
	}

	return pos
}

func (s *Sim) Playing() bool {
	return s.ref.Playing
}

func (s *Sim) CurrentTime() float64 {
	return s.clamp(position.Extrapolate(s.ref, s.clock.Now()))
}

func (s *Sim) Duration() float64 {
	return s.duration
}

func (s *Sim) Ended() bool {
	return s.duration > 0 && s.CurrentTime() >= s.duration
}

// Sample reports the player state the way a progress callback would.
func (s *Sim) Sample() reconcile.Observed {
	return reconcile.Observed{
		Playing:  s.Playing(),
		Position: s.CurrentTime(),
	}
}
