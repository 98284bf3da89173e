// Package broadcast tracks which connections are in which room and delivers
// server messages to them.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sharetube/watchsync/internal/protocol"
	"github.com/sharetube/watchsync/internal/repository/connection"
	"github.com/sharetube/watchsync/internal/repository/room"
)

type iRoomRepo interface {
	Join(ctx context.Context, roomId, connId string) bool
	Leave(ctx context.Context, roomId, connId string) (bool, error)
	LeaveAll(ctx context.Context, connId string) []string
	Rooms(ctx context.Context, connId string) []string
	Members(ctx context.Context, roomId string) []string
	Count(ctx context.Context, roomId string) int
}

type iConnRepo interface {
	Add(context.Context, connection.Conn) error
	Remove(ctx context.Context, connId string) error
	Get(ctx context.Context, connId string) (connection.Conn, error)
	GetMany(ctx context.Context, connIds []string) []connection.Conn
}

type RoomEmptyHandler func(ctx context.Context, roomId string)

type service struct {
	roomRepo iRoomRepo
	connRepo iConnRepo
	logger   *slog.Logger

	mu          sync.RWMutex
	onRoomEmpty []RoomEmptyHandler
}

func NewService(roomRepo iRoomRepo, connRepo iConnRepo, logger *slog.Logger) *service {
	return &service{
		roomRepo: roomRepo,
		connRepo: connRepo,
		logger:   logger,
	}
}

// OnRoomEmpty registers h to run whenever a room loses its last member. It
// runs on the goroutine that caused the room to empty, after membership locks
// are released.
func (s *service) OnRoomEmpty(h RoomEmptyHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.onRoomEmpty = append(s.onRoomEmpty, h)
}

func (s *service) roomEmptied(ctx context.Context, roomId string) {
	s.mu.RLock()
	handlers := make([]RoomEmptyHandler, len(s.onRoomEmpty))
	copy(handlers, s.onRoomEmpty)
	s.mu.RUnlock()

	s.logger.InfoContext(ctx, "room is empty", "room_id", roomId)
	for _, h := range handlers {
		h(ctx, roomId)
	}
}

// Register makes conn reachable by Reply and room broadcasts.
func (s *service) Register(ctx context.Context, conn connection.Conn) error {
	if err := s.connRepo.Add(ctx, conn); err != nil {
		return fmt.Errorf("failed to register connection: %w", err)
	}

	return nil
}

// Unregister removes connId from every room and forgets it.
func (s *service) Unregister(ctx context.Context, connId string) {
	s.LeaveAll(ctx, connId)

	if err := s.connRepo.Remove(ctx, connId); err != nil && !errors.Is(err, connection.ErrNotFound) {
		s.logger.WarnContext(ctx, "failed to remove connection", "error", err)
	}
}

func (s *service) Join(ctx context.Context, roomId, connId string) {
	s.roomRepo.Join(ctx, roomId, connId)
}

// Leave removes connId from roomId. Leaving a room the connection is not in
// is a no-op.
func (s *service) Leave(ctx context.Context, roomId, connId string) {
	emptied, err := s.roomRepo.Leave(ctx, roomId, connId)
	if err != nil {
		if errors.Is(err, room.ErrNotMember) {
			return
		}
		s.logger.WarnContext(ctx, "failed to leave room", "error", err)
		return
	}

	if emptied {
		s.roomEmptied(ctx, roomId)
	}
}

func (s *service) LeaveAll(ctx context.Context, connId string) {
	for _, roomId := range s.roomRepo.LeaveAll(ctx, connId) {
		s.roomEmptied(ctx, roomId)
	}
}

func (s *service) Rooms(ctx context.Context, connId string) []string {
	return s.roomRepo.Rooms(ctx, connId)
}

func (s *service) Members(ctx context.Context, roomId string) []string {
	return s.roomRepo.Members(ctx, roomId)
}

func (s *service) Count(ctx context.Context, roomId string) int {
	return s.roomRepo.Count(ctx, roomId)
}

// BroadcastAll enqueues out for every member of roomId.
func (s *service) BroadcastAll(ctx context.Context, roomId string, out *protocol.Output) {
	s.broadcast(ctx, roomId, "", out)
}

// BroadcastExcludingSelf enqueues out for every member of roomId but senderId.
func (s *service) BroadcastExcludingSelf(ctx context.Context, roomId, senderId string, out *protocol.Output) {
	s.broadcast(ctx, roomId, senderId, out)
}

func (s *service) broadcast(ctx context.Context, roomId, excludeId string, out *protocol.Output) {
	conns := s.connRepo.GetMany(ctx, s.roomRepo.Members(ctx, roomId))

	sent := 0
	for _, conn := range conns {
		if conn.ID() == excludeId {
			continue
		}

		if err := conn.WriteJSON(out); err != nil {
			s.logger.WarnContext(ctx, "failed to write to conn", "conn_id", conn.ID(), "error", err)
			continue
		}
		sent++
	}

	s.logger.DebugContext(ctx, "broadcasted", "room_id", roomId, "type", out.Type, "recipients", sent)
}

// Reply enqueues out for connId only.
func (s *service) Reply(ctx context.Context, connId string, out *protocol.Output) error {
	conn, err := s.connRepo.Get(ctx, connId)
	if err != nil {
		return fmt.Errorf("failed to get conn: %w", err)
	}

	if err := conn.WriteJSON(out); err != nil {
		return fmt.Errorf("failed to write to conn: %w", err)
	}

	return nil
}
