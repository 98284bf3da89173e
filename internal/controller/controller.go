package controller

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/sharetube/watchsync/internal/repository/connection"
	"github.com/sharetube/watchsync/internal/service/session"
	"github.com/sharetube/watchsync/pkg/validator"
	"github.com/sharetube/watchsync/pkg/wsconn"
	"github.com/sharetube/watchsync/pkg/wsrouter"
)

type iSessionService interface {
	Connect(context.Context, connection.Conn) error
	Disconnect(ctx context.Context, connId string)
	CreateSession(context.Context, *session.CreateSessionParams) (session.CreateSessionResponse, error)
	JoinSession(context.Context, *session.JoinSessionParams) error
	LeaveSession(context.Context, *session.LeaveSessionParams) error
	SwitchMedia(context.Context, *session.SwitchMediaParams) error
	InitPlaybackSync(context.Context, *session.InitPlaybackSyncParams) error
	ChangePlayerState(context.Context, *session.ChangePlayerStateParams) error
	Describe(ctx context.Context, sessionId string) (session.DescribeResponse, error)
}

type controller struct {
	sessionService iSessionService
	upgrader       websocket.Upgrader
	validate       *validator.Validator
	logger         *slog.Logger
	wsmux          *wsrouter.WSRouter
	connCfg        wsconn.Config
}

func NewController(sessionService iSessionService, connCfg wsconn.Config, logger *slog.Logger) *controller {
	c := &controller{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		sessionService: sessionService,
		validate:       validator.NewValidator(),
		logger:         logger,
		connCfg:        connCfg,
	}
	c.wsmux = c.getWSRouter()

	return c
}
