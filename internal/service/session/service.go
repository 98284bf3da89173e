// Package session coordinates shared watch sessions: it applies client
// events to the session registry and fans the results out to room members.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sharetube/watchsync/internal/protocol"
	"github.com/sharetube/watchsync/internal/repository/connection"
	repository "github.com/sharetube/watchsync/internal/repository/session"
	"github.com/sharetube/watchsync/internal/service/broadcast"
	"github.com/sharetube/watchsync/pkg/ctxlogger"
	"github.com/sharetube/watchsync/pkg/keylock"
)

type iSessionRepo interface {
	Create(context.Context, *repository.CreateParams) error
	Get(context.Context, string) (repository.Session, error)
	ApplyStateChange(context.Context, *repository.ApplyStateChangeParams) (repository.Session, error)
	MarkBootstrapped(context.Context, string) (bool, error)
	SwitchMedia(context.Context, *repository.SwitchMediaParams) (repository.Session, error)
	Remove(context.Context, string) error
}

type iBroadcaster interface {
	Register(context.Context, connection.Conn) error
	Join(ctx context.Context, roomId, connId string)
	Leave(ctx context.Context, roomId, connId string)
	Unregister(ctx context.Context, connId string)
	Rooms(ctx context.Context, connId string) []string
	Count(ctx context.Context, roomId string) int
	BroadcastAll(ctx context.Context, roomId string, out *protocol.Output)
	BroadcastExcludingSelf(ctx context.Context, roomId, senderId string, out *protocol.Output)
	Reply(ctx context.Context, connId string, out *protocol.Output) error
	OnRoomEmpty(broadcast.RoomEmptyHandler)
}

type Config struct {
	// OrphanSessionTTL is how long a session nobody joined survives. Zero
	// keeps such sessions until the registry expires them.
	OrphanSessionTTL time.Duration
}

type service struct {
	sessionRepo iSessionRepo
	broadcaster iBroadcaster
	clock       clockwork.Clock
	locks       *keylock.KeyLock
	logger      *slog.Logger
	cfg         Config

	mu           sync.Mutex
	orphanTimers map[string]clockwork.Timer
}

func NewService(sessionRepo iSessionRepo, broadcaster iBroadcaster, clock clockwork.Clock, logger *slog.Logger, cfg Config) *service {
	s := &service{
		sessionRepo:  sessionRepo,
		broadcaster:  broadcaster,
		clock:        clock,
		locks:        keylock.New(),
		logger:       logger,
		cfg:          cfg,
		orphanTimers: make(map[string]clockwork.Timer),
	}

	broadcaster.OnRoomEmpty(s.handleRoomEmpty)

	return s
}

func withSessionId(ctx context.Context, sessionId string) context.Context {
	return ctxlogger.AppendCtx(ctx, slog.String("session_id", sessionId))
}

// lock serializes every registry update and the messages it produces for one
// session, so all members observe the same order.
func (s *service) lock(sessionId string) func() {
	return s.locks.Lock(sessionId)
}

func (s *service) armOrphanTimer(sessionId string) {
	if s.cfg.OrphanSessionTTL <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.orphanTimers[sessionId]; ok {
		t.Stop()
	}

	s.orphanTimers[sessionId] = s.clock.AfterFunc(s.cfg.OrphanSessionTTL, func() {
		ctx := withSessionId(context.Background(), sessionId)
		s.logger.InfoContext(ctx, "orphan session expired")
		s.handleRoomEmpty(ctx, sessionId)
	})
}

func (s *service) disarmOrphanTimer(sessionId string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.orphanTimers[sessionId]; ok {
		t.Stop()
		delete(s.orphanTimers, sessionId)
	}
}

// handleRoomEmpty removes the session unless someone joined its room after it
// emptied.
func (s *service) handleRoomEmpty(ctx context.Context, sessionId string) {
	ctx = withSessionId(ctx, sessionId)

	unlock := s.lock(sessionId)
	defer unlock()

	if n := s.broadcaster.Count(ctx, sessionId); n > 0 {
		s.logger.DebugContext(ctx, "room repopulated, keeping session", "members", n)
		return
	}

	s.disarmOrphanTimer(sessionId)

	if err := s.sessionRepo.Remove(ctx, sessionId); err != nil {
		s.logger.WarnContext(ctx, "failed to remove session", "error", err)
		return
	}

	s.logger.InfoContext(ctx, "session removed")
}
