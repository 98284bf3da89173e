package inmemory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/sharetube/watchsync/internal/repository/session"
)

type entry struct {
	mu      sync.Mutex
	session session.Session
	removed bool
}

type repo struct {
	sessions map[string]*entry
	mu       sync.RWMutex
	clock    clockwork.Clock
	logger   *slog.Logger
}

func NewRepo(clock clockwork.Clock, logger *slog.Logger) *repo {
	return &repo{
		sessions: make(map[string]*entry),
		clock:    clock,
		logger:   logger,
	}
}

func (r *repo) getEntry(sessionId string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.sessions[sessionId]
	return e, ok
}

// update runs fn under the session's own lock. Sessions never share a lock.
func (r *repo) update(sessionId string, fn func(*session.Session) error) (session.Session, error) {
	e, ok := r.getEntry(sessionId)
	if !ok {
		return session.Session{}, session.ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.removed {
		return session.Session{}, session.ErrNotFound
	}

	if err := fn(&e.session); err != nil {
		return session.Session{}, err
	}

	return e.session, nil
}

func (r *repo) Create(ctx context.Context, params *session.CreateParams) error {
	r.logger.DebugContext(ctx, "called", "params", params)
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[params.SessionId]; ok {
		r.logger.DebugContext(ctx, "returned", "error", session.ErrAlreadyExists)
		return session.ErrAlreadyExists
	}

	r.sessions[params.SessionId] = &entry{
		session: session.New(params.SessionId, params.MediaRef, r.clock.Now()),
	}

	return nil
}

func (r *repo) Get(ctx context.Context, sessionId string) (session.Session, error) {
	r.logger.DebugContext(ctx, "called", "session_id", sessionId)
	s, err := r.update(sessionId, func(*session.Session) error { return nil })
	if err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return session.Session{}, err
	}

	return s, nil
}

func (r *repo) ApplyStateChange(ctx context.Context, params *session.ApplyStateChangeParams) (session.Session, error) {
	r.logger.DebugContext(ctx, "called", "params", params)
	s, err := r.update(params.SessionId, func(s *session.Session) error {
		*s = s.ApplyStateChange(params.Playing, params.Position, r.clock.Now())
		return nil
	})
	if err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return session.Session{}, err
	}

	return s, nil
}

func (r *repo) MarkBootstrapped(ctx context.Context, sessionId string) (bool, error) {
	r.logger.DebugContext(ctx, "called", "session_id", sessionId)
	var bootstrapped bool
	if _, err := r.update(sessionId, func(s *session.Session) error {
		if s.Started {
			return nil
		}

		s.ReferenceWallTime = r.clock.Now()
		s.Started = true
		bootstrapped = true
		return nil
	}); err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return false, err
	}

	return bootstrapped, nil
}

func (r *repo) SwitchMedia(ctx context.Context, params *session.SwitchMediaParams) (session.Session, error) {
	r.logger.DebugContext(ctx, "called", "params", params)
	s, err := r.update(params.SessionId, func(s *session.Session) error {
		*s = session.New(params.SessionId, params.MediaRef, r.clock.Now())
		return nil
	})
	if err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return session.Session{}, err
	}

	return s, nil
}

func (r *repo) Remove(ctx context.Context, sessionId string) error {
	r.logger.DebugContext(ctx, "called", "session_id", sessionId)
	r.mu.Lock()
	e, ok := r.sessions[sessionId]
	delete(r.sessions, sessionId)
	r.mu.Unlock()

	if !ok {
		return nil
	}

	e.mu.Lock()
	e.removed = true
	e.mu.Unlock()

	return nil
}
