package session

import (
	"time"

	"github.com/sharetube/watchsync/internal/position"
)

type Session struct {
	Id                string
	MediaRef          string
	Playing           bool
	ReferenceWallTime time.Time
	ReferencePosition float64
	Started           bool
}

func (s Session) Reference() position.Reference {
	return position.Reference{
		Position: s.ReferencePosition,
		WallTime: s.ReferenceWallTime,
		Playing:  s.Playing,
	}
}

// PositionAt extrapolates the current logical position of the session.
func (s Session) PositionAt(now time.Time) float64 {
	return position.Extrapolate(s.Reference(), now)
}

// New returns a session in its initial state: playing from zero, not yet started.
func New(id, mediaRef string, now time.Time) Session {
	return Session{
		Id:                id,
		MediaRef:          mediaRef,
		Playing:           true,
		ReferenceWallTime: now,
		ReferencePosition: 0,
		Started:           false,
	}
}

// ApplyStateChange returns s with the new play state applied at now. A nil
// position keeps the timeline continuous by extrapolating from the previous
// reference.
func (s Session) ApplyStateChange(playing bool, pos *float64, now time.Time) Session {
	if pos != nil {
		s.ReferencePosition = *pos
	} else {
		s.ReferencePosition = s.PositionAt(now)
	}
	s.ReferenceWallTime = now
	s.Playing = playing
	s.Started = true

	return s
}
