package controller

import (
	"github.com/sharetube/watchsync/internal/protocol"
	"github.com/sharetube/watchsync/pkg/wsrouter"
)

func (c controller) getWSRouter() *wsrouter.WSRouter {
	mux := wsrouter.New()
	mux.Use(c.wsRequestIdWSMw(), c.loggerWSMw())
	mux.SetErrorHandler(c.handleWSError)

	wsrouter.Handle(mux, protocol.TypeAlive, c.handleAlive)

	// session
	wsrouter.Handle(mux, protocol.TypeCreateSession, c.handleCreateSession)
	wsrouter.Handle(mux, protocol.TypeJoinSession, c.handleJoinSession)
	wsrouter.Handle(mux, protocol.TypeLeaveSession, c.handleLeaveSession)
	wsrouter.Handle(mux, protocol.TypeSwitchURL, c.handleSwitchURL)

	// player
	wsrouter.Handle(mux, protocol.TypePlayerStateInit, c.handlePlayerStateInit)
	wsrouter.Handle(mux, protocol.TypePlayerStateChanged, c.handlePlayerStateChanged)

	return mux
}
