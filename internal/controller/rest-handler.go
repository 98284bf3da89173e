package controller

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	repository "github.com/sharetube/watchsync/internal/repository/session"
	"github.com/sharetube/watchsync/internal/service/session"
	"github.com/sharetube/watchsync/pkg/rest"
)

type createSessionRequest struct {
	SessionId string `json:"session_id" validate:"omitempty,max=128,printascii"`
	MediaRef  string `json:"media_ref" validate:"required,max=2048"`
}

type createSessionResponse struct {
	SessionId string `json:"session_id"`
}

// createSession lets a client set up a session before opening a websocket.
// An omitted session id is generated.
func (c controller) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest

	if err := rest.ReadJSON(r, &req); err != nil {
		c.logger.InfoContext(r.Context(), "failed to read json", "error", err)
		rest.WriteJSON(w, http.StatusUnprocessableEntity, rest.Envelope{"error": err.Error()})
		return
	}

	if validationErrors, ok := c.validate.Validate(req); !ok {
		c.logger.InfoContext(r.Context(), "validation failed", "errors", validationErrors)
		rest.WriteJSON(w, http.StatusBadRequest, rest.Envelope{"errors": validationErrors})
		return
	}

	if req.SessionId == "" {
		req.SessionId = uuid.NewString()
	}

	createSessionResp, err := c.sessionService.CreateSession(r.Context(), &session.CreateSessionParams{
		SessionId: req.SessionId,
		MediaRef:  req.MediaRef,
	})
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			rest.WriteJSON(w, http.StatusConflict, rest.Envelope{"error": repository.ErrAlreadyExists.Error()})
			return
		}
		c.logger.ErrorContext(r.Context(), "failed to create session", "error", err)
		rest.WriteJSON(w, http.StatusInternalServerError, rest.Envelope{"error": "internal error"})
		return
	}

	rest.WriteJSON(w, http.StatusCreated, rest.Envelope{"data": createSessionResponse{
		SessionId: createSessionResp.SessionId,
	}})
}

func (c controller) getSession(w http.ResponseWriter, r *http.Request) {
	sessionId := chi.URLParam(r, "session-id")

	describeResp, err := c.sessionService.Describe(r.Context(), sessionId)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			rest.WriteJSON(w, http.StatusNotFound, rest.Envelope{"error": repository.ErrNotFound.Error()})
			return
		}
		c.logger.ErrorContext(r.Context(), "failed to describe session", "error", err)
		rest.WriteJSON(w, http.StatusInternalServerError, rest.Envelope{"error": "internal error"})
		return
	}

	rest.WriteJSON(w, http.StatusOK, rest.Envelope{"data": describeResp})
}
