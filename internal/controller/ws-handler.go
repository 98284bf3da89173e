package controller

import (
	"context"
	"fmt"

	"github.com/sharetube/watchsync/internal/protocol"
	"github.com/sharetube/watchsync/internal/service/session"
	"github.com/sharetube/watchsync/pkg/wsconn"
	"github.com/sharetube/watchsync/pkg/wsrouter"
)

const (
	sessionIdRules = "required,max=128,printascii"
	mediaRefRules  = "required,max=2048"
)

// EmptyInput accepts any payload.
type EmptyInput struct{}

func (es *EmptyInput) UnmarshalJSON([]byte) error {
	return nil
}

func (c controller) handleAlive(_ context.Context, _ *wsconn.Conn, _ EmptyInput) error {
	return nil
}

func (c controller) handleCreateSession(ctx context.Context, conn *wsconn.Conn, input protocol.CreateSessionPayload) error {
	if validationErrors, ok := c.validate.Validate(input); !ok {
		return newValidationError(validationErrors)
	}

	createSessionResp, err := c.sessionService.CreateSession(ctx, &session.CreateSessionParams{
		SessionId: input.SessionId,
		MediaRef:  input.MediaRef,
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	if err := conn.WriteJSON(&protocol.Output{
		Type:      protocol.TypeSessionCreated,
		RequestId: wsrouter.GetRequestIdFromCtx(ctx),
		Payload: protocol.SessionCreatedPayload{
			SessionId: createSessionResp.SessionId,
		},
	}); err != nil {
		return fmt.Errorf("failed to write to conn: %w", err)
	}

	return nil
}

func (c controller) handleJoinSession(ctx context.Context, conn *wsconn.Conn, sessionId string) error {
	if validationErrors, ok := c.validate.ValidateVar("session_id", sessionId, sessionIdRules); !ok {
		return newValidationError(validationErrors)
	}

	if err := c.sessionService.JoinSession(ctx, &session.JoinSessionParams{
		ConnId:    conn.ID(),
		RequestId: wsrouter.GetRequestIdFromCtx(ctx),
		SessionId: sessionId,
	}); err != nil {
		return fmt.Errorf("failed to join session: %w", err)
	}

	return nil
}

func (c controller) handleLeaveSession(ctx context.Context, conn *wsconn.Conn, sessionId string) error {
	if validationErrors, ok := c.validate.ValidateVar("session_id", sessionId, sessionIdRules); !ok {
		return newValidationError(validationErrors)
	}

	if err := c.sessionService.LeaveSession(ctx, &session.LeaveSessionParams{
		ConnId:    conn.ID(),
		SessionId: sessionId,
	}); err != nil {
		return fmt.Errorf("failed to leave session: %w", err)
	}

	return nil
}

func (c controller) handleSwitchURL(ctx context.Context, conn *wsconn.Conn, mediaRef string) error {
	if validationErrors, ok := c.validate.ValidateVar("media_ref", mediaRef, mediaRefRules); !ok {
		return newValidationError(validationErrors)
	}

	if err := c.sessionService.SwitchMedia(ctx, &session.SwitchMediaParams{
		ConnId:   conn.ID(),
		MediaRef: mediaRef,
	}); err != nil {
		return fmt.Errorf("failed to switch media: %w", err)
	}

	return nil
}

func (c controller) handlePlayerStateInit(ctx context.Context, conn *wsconn.Conn, _ EmptyInput) error {
	if err := c.sessionService.InitPlaybackSync(ctx, &session.InitPlaybackSyncParams{
		ConnId:    conn.ID(),
		RequestId: wsrouter.GetRequestIdFromCtx(ctx),
	}); err != nil {
		return fmt.Errorf("failed to init playback sync: %w", err)
	}

	return nil
}

func (c controller) handlePlayerStateChanged(ctx context.Context, conn *wsconn.Conn, input protocol.StateChangedPayload) error {
	if validationErrors, ok := c.validate.Validate(input); !ok {
		return newValidationError(validationErrors)
	}

	if err := c.sessionService.ChangePlayerState(ctx, &session.ChangePlayerStateParams{
		ConnId:   conn.ID(),
		Playing:  *input.Playing,
		Position: input.Position,
	}); err != nil {
		return fmt.Errorf("failed to change player state: %w", err)
	}

	return nil
}
