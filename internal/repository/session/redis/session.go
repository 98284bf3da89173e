package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sharetube/watchsync/internal/repository/session"
)

type record struct {
	MediaRef          string  `redis:"media_ref"`
	Playing           bool    `redis:"playing"`
	ReferencePosition float64 `redis:"reference_position"`
	ReferenceWallTime int64   `redis:"reference_wall_time"`
	Started           bool    `redis:"started"`
}

func (rec record) toSession(sessionId string) session.Session {
	return session.Session{
		Id:                sessionId,
		MediaRef:          rec.MediaRef,
		Playing:           rec.Playing,
		ReferencePosition: rec.ReferencePosition,
		ReferenceWallTime: time.UnixMilli(rec.ReferenceWallTime).UTC(),
		Started:           rec.Started,
	}
}

func (r repo) setSession(ctx context.Context, pipe redis.Pipeliner, s session.Session) {
	key := r.getSessionKey(s.Id)
	pipe.HSet(ctx, key,
		"media_ref", s.MediaRef,
		"playing", s.Playing,
		"reference_position", s.ReferencePosition,
		"reference_wall_time", s.ReferenceWallTime.UnixMilli(),
		"started", s.Started,
	)
	pipe.Expire(ctx, key, r.expireDuration)
}

type hashGetter interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

func (r repo) scanSession(ctx context.Context, c hashGetter, sessionId string) (session.Session, error) {
	cmd := c.HGetAll(ctx, r.getSessionKey(sessionId))
	if err := cmd.Err(); err != nil {
		return session.Session{}, err
	}

	if len(cmd.Val()) == 0 {
		return session.Session{}, session.ErrNotFound
	}

	var rec record
	if err := cmd.Scan(&rec); err != nil {
		return session.Session{}, err
	}

	return rec.toSession(sessionId), nil
}

// update reads the session, lets fn mutate it and writes it back inside one
// WATCH/MULTI transaction. fn returns false to skip the write.
func (r repo) update(ctx context.Context, sessionId string, fn func(*session.Session) bool) (session.Session, error) {
	var result session.Session
	err := r.watch(ctx, r.getSessionKey(sessionId), func(tx *redis.Tx) error {
		s, err := r.scanSession(ctx, tx, sessionId)
		if err != nil {
			return err
		}

		if !fn(&s) {
			result = s
			return nil
		}

		if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			r.setSession(ctx, pipe, s)
			return nil
		}); err != nil {
			return err
		}

		result = s
		return nil
	})
	if err != nil {
		return session.Session{}, err
	}

	return result, nil
}

func (r repo) Create(ctx context.Context, params *session.CreateParams) error {
	r.logger.DebugContext(ctx, "called", "params", params)
	key := r.getSessionKey(params.SessionId)
	err := r.watch(ctx, key, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}

		if exists > 0 {
			return session.ErrAlreadyExists
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			r.setSession(ctx, pipe, session.New(params.SessionId, params.MediaRef, r.clock.Now()))
			return nil
		})
		return err
	})
	if err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return err
	}

	return nil
}

func (r repo) Get(ctx context.Context, sessionId string) (session.Session, error) {
	r.logger.DebugContext(ctx, "called", "session_id", sessionId)
	s, err := r.scanSession(ctx, r.rc, sessionId)
	if err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return session.Session{}, err
	}

	r.rc.Expire(ctx, r.getSessionKey(sessionId), r.expireDuration)

	return s, nil
}

func (r repo) ApplyStateChange(ctx context.Context, params *session.ApplyStateChangeParams) (session.Session, error) {
	r.logger.DebugContext(ctx, "called", "params", params)
	s, err := r.update(ctx, params.SessionId, func(s *session.Session) bool {
		*s = s.ApplyStateChange(params.Playing, params.Position, r.clock.Now())
		return true
	})
	if err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return session.Session{}, err
	}

	return s, nil
}

func (r repo) MarkBootstrapped(ctx context.Context, sessionId string) (bool, error) {
	r.logger.DebugContext(ctx, "called", "session_id", sessionId)
	var bootstrapped bool
	if _, err := r.update(ctx, sessionId, func(s *session.Session) bool {
		// reset on every attempt, a conflicting retry re-reads the session
		bootstrapped = false
		if s.Started {
			return false
		}

		s.ReferenceWallTime = r.clock.Now()
		s.Started = true
		bootstrapped = true
		return true
	}); err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return false, err
	}

	return bootstrapped, nil
}

func (r repo) SwitchMedia(ctx context.Context, params *session.SwitchMediaParams) (session.Session, error) {
	r.logger.DebugContext(ctx, "called", "params", params)
	s, err := r.update(ctx, params.SessionId, func(s *session.Session) bool {
		*s = session.New(params.SessionId, params.MediaRef, r.clock.Now())
		return true
	})
	if err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return session.Session{}, err
	}

	return s, nil
}

func (r repo) Remove(ctx context.Context, sessionId string) error {
	r.logger.DebugContext(ctx, "called", "session_id", sessionId)
	if err := r.rc.Del(ctx, r.getSessionKey(sessionId)).Err(); err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return err
	}

	return nil
}
