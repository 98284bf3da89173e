package inmemory

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/sharetube/watchsync/internal/repository/room"
	"golang.org/x/exp/maps"
)

type set map[string]struct{}

// repo maps rooms to member connections and connections back to rooms.
type repo struct {
	members map[string]set
	rooms   map[string]set
	mu      sync.RWMutex
	logger  *slog.Logger
}

func NewRepo(logger *slog.Logger) *repo {
	return &repo{
		members: make(map[string]set),
		rooms:   make(map[string]set),
		logger:  logger,
	}
}

// Join adds connId to roomId. It reports false when connId was already a
// member.
func (r *repo) Join(ctx context.Context, roomId, connId string) bool {
	r.logger.DebugContext(ctx, "called", "room_id", roomId, "conn_id", connId)
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[roomId][connId]; ok {
		r.logger.DebugContext(ctx, "returned", "joined", false)
		return false
	}

	if r.members[roomId] == nil {
		r.members[roomId] = make(set)
	}
	r.members[roomId][connId] = struct{}{}

	if r.rooms[connId] == nil {
		r.rooms[connId] = make(set)
	}
	r.rooms[connId][roomId] = struct{}{}

	return true
}

// Leave removes connId from roomId and reports whether the room is now empty.
func (r *repo) Leave(ctx context.Context, roomId, connId string) (bool, error) {
	r.logger.DebugContext(ctx, "called", "room_id", roomId, "conn_id", connId)
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[roomId][connId]; !ok {
		r.logger.DebugContext(ctx, "returned", "error", room.ErrNotMember)
		return false, room.ErrNotMember
	}

	emptied := r.leave(roomId, connId)

	r.logger.DebugContext(ctx, "returned", "emptied", emptied)
	return emptied, nil
}

func (r *repo) leave(roomId, connId string) bool {
	delete(r.rooms[connId], roomId)
	if len(r.rooms[connId]) == 0 {
		delete(r.rooms, connId)
	}

	delete(r.members[roomId], connId)
	if len(r.members[roomId]) == 0 {
		delete(r.members, roomId)
		return true
	}

	return false
}

// LeaveAll removes connId from every room and returns the rooms left empty.
func (r *repo) LeaveAll(ctx context.Context, connId string) []string {
	r.logger.DebugContext(ctx, "called", "conn_id", connId)
	r.mu.Lock()
	defer r.mu.Unlock()

	var emptied []string
	for _, roomId := range maps.Keys(r.rooms[connId]) {
		if r.leave(roomId, connId) {
			emptied = append(emptied, roomId)
		}
	}
	sort.Strings(emptied)

	r.logger.DebugContext(ctx, "returned", "emptied", emptied)
	return emptied
}

// Rooms returns the rooms connId belongs to, sorted.
func (r *repo) Rooms(ctx context.Context, connId string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := maps.Keys(r.rooms[connId])
	sort.Strings(rooms)

	return rooms
}

// Members returns the connections in roomId, sorted.
func (r *repo) Members(ctx context.Context, roomId string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := maps.Keys(r.members[roomId])
	sort.Strings(members)

	return members
}

func (r *repo) Count(ctx context.Context, roomId string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.members[roomId])
}
