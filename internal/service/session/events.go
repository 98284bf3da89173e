package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/sharetube/watchsync/internal/protocol"
	"github.com/sharetube/watchsync/internal/repository/connection"
	repository "github.com/sharetube/watchsync/internal/repository/session"
)

// CreateSession registers a new session. Nobody is in its room until someone
// joins; a session that stays unjoined is dropped after OrphanSessionTTL.
func (s *service) CreateSession(ctx context.Context, params *CreateSessionParams) (CreateSessionResponse, error) {
	ctx = withSessionId(ctx, params.SessionId)

	unlock := s.lock(params.SessionId)
	defer unlock()

	if err := s.sessionRepo.Create(ctx, &repository.CreateParams{
		SessionId: params.SessionId,
		MediaRef:  params.MediaRef,
	}); err != nil {
		return CreateSessionResponse{}, fmt.Errorf("failed to create session: %w", err)
	}

	s.armOrphanTimer(params.SessionId)
	s.logger.InfoContext(ctx, "session created", "media_ref", params.MediaRef)

	return CreateSessionResponse{SessionId: params.SessionId}, nil
}

// JoinSession adds the connection to the session's room and tells it which
// media to load. An unknown session is reported to the caller only.
func (s *service) JoinSession(ctx context.Context, params *JoinSessionParams) error {
	ctx = withSessionId(ctx, params.SessionId)

	unlock := s.lock(params.SessionId)
	defer unlock()

	sess, err := s.sessionRepo.Get(ctx, params.SessionId)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return s.broadcaster.Reply(ctx, params.ConnId, &protocol.Output{
				Type:      protocol.TypeSessionNotFound,
				RequestId: params.RequestId,
				Payload:   nil,
			})
		}
		return fmt.Errorf("failed to get session: %w", err)
	}

	s.broadcaster.Join(ctx, params.SessionId, params.ConnId)
	s.disarmOrphanTimer(params.SessionId)

	if err := s.broadcaster.Reply(ctx, params.ConnId, &protocol.Output{
		Type:      protocol.TypeUpdateURL,
		RequestId: params.RequestId,
		Payload:   sess.MediaRef,
	}); err != nil {
		return fmt.Errorf("failed to reply: %w", err)
	}

	s.logger.InfoContext(ctx, "member joined")
	return nil
}

// LeaveSession removes the connection from the session's room. The session is
// dropped if the room is left empty.
func (s *service) LeaveSession(ctx context.Context, params *LeaveSessionParams) error {
	s.broadcaster.Leave(withSessionId(ctx, params.SessionId), params.SessionId, params.ConnId)
	return nil
}

// Connect makes conn addressable for replies and room broadcasts.
func (s *service) Connect(ctx context.Context, conn connection.Conn) error {
	return s.broadcaster.Register(ctx, conn)
}

// Disconnect is an implicit leave of every room the connection is in.
func (s *service) Disconnect(ctx context.Context, connId string) {
	s.broadcaster.Unregister(ctx, connId)
}

// SwitchMedia restarts every session the connection is in with a new media
// reference and tells all members, the caller included.
func (s *service) SwitchMedia(ctx context.Context, params *SwitchMediaParams) error {
	for _, sessionId := range s.broadcaster.Rooms(ctx, params.ConnId) {
		if err := s.switchMedia(withSessionId(ctx, sessionId), sessionId, params.MediaRef); err != nil {
			return err
		}
	}

	return nil
}

func (s *service) switchMedia(ctx context.Context, sessionId, mediaRef string) error {
	unlock := s.lock(sessionId)
	defer unlock()

	if _, err := s.sessionRepo.SwitchMedia(ctx, &repository.SwitchMediaParams{
		SessionId: sessionId,
		MediaRef:  mediaRef,
	}); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.DebugContext(ctx, "ignoring switch for unknown session")
			return nil
		}
		return fmt.Errorf("failed to switch media: %w", err)
	}

	s.broadcaster.BroadcastAll(ctx, sessionId, &protocol.Output{
		Type:    protocol.TypeUpdateURL,
		Payload: mediaRef,
	})

	s.logger.InfoContext(ctx, "media switched", "media_ref", mediaRef)
	return nil
}

// InitPlaybackSync answers a member whose player is ready. The first member
// to ask for a session is told to start from the beginning; everyone after
// gets the extrapolated session state.
func (s *service) InitPlaybackSync(ctx context.Context, params *InitPlaybackSyncParams) error {
	for _, sessionId := range s.broadcaster.Rooms(ctx, params.ConnId) {
		if err := s.initPlaybackSync(withSessionId(ctx, sessionId), sessionId, params); err != nil {
			return err
		}
	}

	return nil
}

func (s *service) initPlaybackSync(ctx context.Context, sessionId string, params *InitPlaybackSyncParams) error {
	unlock := s.lock(sessionId)
	defer unlock()

	bootstrapped, err := s.sessionRepo.MarkBootstrapped(ctx, sessionId)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.DebugContext(ctx, "ignoring init for unknown session")
			return nil
		}
		return fmt.Errorf("failed to mark session bootstrapped: %w", err)
	}

	if bootstrapped {
		s.logger.InfoContext(ctx, "cold start")
		return s.broadcaster.Reply(ctx, params.ConnId, &protocol.Output{
			Type:      protocol.TypeStartPlayback,
			RequestId: params.RequestId,
			Payload:   nil,
		})
	}

	sess, err := s.sessionRepo.Get(ctx, sessionId)
	if err != nil {
		return fmt.Errorf("failed to get session: %w", err)
	}

	return s.broadcaster.Reply(ctx, params.ConnId, &protocol.Output{
		Type:      protocol.TypeSetPlayerState,
		RequestId: params.RequestId,
		Payload: protocol.PlayerState{
			Playing:  sess.Playing,
			Position: protocol.Float(sess.PositionAt(s.clock.Now())),
		},
	})
}

// ChangePlayerState records a member's play, pause or seek and relays the
// payload unchanged to the other members.
func (s *service) ChangePlayerState(ctx context.Context, params *ChangePlayerStateParams) error {
	for _, sessionId := range s.broadcaster.Rooms(ctx, params.ConnId) {
		if err := s.changePlayerState(withSessionId(ctx, sessionId), sessionId, params); err != nil {
			return err
		}
	}

	return nil
}

func (s *service) changePlayerState(ctx context.Context, sessionId string, params *ChangePlayerStateParams) error {
	unlock := s.lock(sessionId)
	defer unlock()

	if _, err := s.sessionRepo.ApplyStateChange(ctx, &repository.ApplyStateChangeParams{
		SessionId: sessionId,
		Playing:   params.Playing,
		Position:  params.Position,
	}); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.DebugContext(ctx, "ignoring state change for unknown session")
			return nil
		}
		return fmt.Errorf("failed to apply state change: %w", err)
	}

	s.broadcaster.BroadcastExcludingSelf(ctx, sessionId, params.ConnId, &protocol.Output{
		Type: protocol.TypeSetPlayerState,
		Payload: protocol.PlayerState{
			Playing:  params.Playing,
			Position: params.Position,
		},
	})

	return nil
}

// Describe returns the session as it stands now.
func (s *service) Describe(ctx context.Context, sessionId string) (DescribeResponse, error) {
	sess, err := s.sessionRepo.Get(ctx, sessionId)
	if err != nil {
		return DescribeResponse{}, fmt.Errorf("failed to get session: %w", err)
	}

	return DescribeResponse{
		SessionId: sess.Id,
		MediaRef:  sess.MediaRef,
		Playing:   sess.Playing,
		Position:  sess.PositionAt(s.clock.Now()),
		Started:   sess.Started,
		Members:   s.broadcaster.Count(ctx, sessionId),
	}, nil
}
