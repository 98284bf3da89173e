package controller

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sharetube/watchsync/pkg/ctxlogger"
	"github.com/sharetube/watchsync/pkg/wsconn"
	"golang.org/x/sync/errgroup"
)

// serveWS upgrades the request and serves the connection until either side
// goes away. Disconnecting is an implicit leave of every session.
func (c controller) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.WarnContext(r.Context(), "failed to upgrade to websocket", "error", err)
		return
	}

	conn := wsconn.New(ws, c.connCfg)
	ctx := ctxlogger.AppendCtx(r.Context(), slog.String("conn_id", conn.ID()))

	if err := c.sessionService.Connect(ctx, conn); err != nil {
		c.logger.WarnContext(ctx, "failed to connect", "error", err)
		ws.Close()
		return
	}
	defer c.sessionService.Disconnect(context.WithoutCancel(ctx), conn.ID())

	c.logger.InfoContext(ctx, "connection opened", "remote_addr", r.RemoteAddr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return conn.WritePump(gctx)
	})
	g.Go(func() error {
		defer conn.Close()
		return c.wsmux.ServeConn(gctx, conn)
	})

	err = g.Wait()
	c.logger.InfoContext(ctx, "connection closed", "reason", err)
}
