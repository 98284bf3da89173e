package controller

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sharetube/watchsync/internal/protocol"
	repository "github.com/sharetube/watchsync/internal/repository/session"
	"github.com/sharetube/watchsync/pkg/validator"
	"github.com/sharetube/watchsync/pkg/wsconn"
	"github.com/sharetube/watchsync/pkg/wsrouter"
)

var ErrValidationError = errors.New("validation error")

type validationError struct {
	errs []validator.ValidationError
}

func (e *validationError) Error() string {
	if len(e.errs) == 0 {
		return ErrValidationError.Error()
	}

	return ErrValidationError.Error() + ": " + e.errs[0].Message
}

func (e *validationError) Unwrap() error {
	return ErrValidationError
}

func newValidationError(errs []validator.ValidationError) error {
	return &validationError{errs: errs}
}

func errorPayload(err error) protocol.ErrorPayload {
	var vErr *validationError
	switch {
	case errors.As(err, &vErr):
		return protocol.ErrorPayload{Code: protocol.CodeInvalidPayload, Message: vErr.Error(), Errors: vErr.errs}
	case errors.Is(err, wsrouter.ErrInvalidMessage), errors.Is(err, wsrouter.ErrInvalidPayload):
		return protocol.ErrorPayload{Code: protocol.CodeInvalidPayload, Message: err.Error()}
	case errors.Is(err, wsrouter.ErrUnknownType):
		return protocol.ErrorPayload{Code: protocol.CodeUnknownType, Message: err.Error()}
	case errors.Is(err, repository.ErrAlreadyExists):
		return protocol.ErrorPayload{Code: protocol.CodeAlreadyExists, Message: repository.ErrAlreadyExists.Error()}
	case errors.Is(err, repository.ErrNotFound):
		return protocol.ErrorPayload{Code: protocol.CodeNotFound, Message: repository.ErrNotFound.Error()}
	default:
		return protocol.ErrorPayload{Code: protocol.CodeInternal, Message: "internal error"}
	}
}

// handleWSError reports a failed message to its sender only.
func (c controller) handleWSError(ctx context.Context, conn *wsconn.Conn, err error) {
	payload := errorPayload(err)

	level := slog.LevelInfo
	if payload.Code == protocol.CodeInternal {
		level = slog.LevelError
	}
	c.logger.Log(ctx, level, "failed to handle websocket message", "error", err, "code", payload.Code)

	if err := conn.WriteJSON(&protocol.Output{
		Type:      protocol.TypeError,
		RequestId: wsrouter.GetRequestIdFromCtx(ctx),
		Payload:   payload,
	}); err != nil {
		c.logger.WarnContext(ctx, "failed to write error", "error", err)
	}
}
