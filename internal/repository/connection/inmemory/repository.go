package inmemory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sharetube/watchsync/internal/repository/connection"
)

type repo struct {
	conns  map[string]connection.Conn
	mu     sync.RWMutex
	logger *slog.Logger
}

func NewRepo(logger *slog.Logger) *repo {
	return &repo{
		conns:  make(map[string]connection.Conn),
		logger: logger,
	}
}

func (r *repo) Add(ctx context.Context, conn connection.Conn) error {
	r.logger.DebugContext(ctx, "called", "conn_id", conn.ID())
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[conn.ID()]; ok {
		r.logger.DebugContext(ctx, "returned", "error", connection.ErrAlreadyExists)
		return connection.ErrAlreadyExists
	}

	r.conns[conn.ID()] = conn

	return nil
}

func (r *repo) Remove(ctx context.Context, connId string) error {
	r.logger.DebugContext(ctx, "called", "conn_id", connId)
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[connId]; !ok {
		r.logger.DebugContext(ctx, "returned", "error", connection.ErrNotFound)
		return connection.ErrNotFound
	}

	delete(r.conns, connId)

	return nil
}

func (r *repo) Get(ctx context.Context, connId string) (connection.Conn, error) {
	r.logger.DebugContext(ctx, "called", "conn_id", connId)
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[connId]
	if !ok {
		r.logger.DebugContext(ctx, "returned", "error", connection.ErrNotFound)
		return nil, connection.ErrNotFound
	}

	return conn, nil
}

// GetMany returns the connections that are still registered, in the order of
// connIds. Unknown ids are skipped.
func (r *repo) GetMany(ctx context.Context, connIds []string) []connection.Conn {
	r.logger.DebugContext(ctx, "called", "conn_ids", connIds)
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]connection.Conn, 0, len(connIds))
	for _, id := range connIds {
		if conn, ok := r.conns[id]; ok {
			conns = append(conns, conn)
		}
	}

	r.logger.DebugContext(ctx, "returned", "count", len(conns))
	return conns
}
