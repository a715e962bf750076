package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jun/refhub/internal/registry"
	"github.com/jun/refhub/internal/session"
)

// SessionHandler exposes the session snapshot and resumes persisted sessions
// when a recycled process has lost its in-memory state.
type SessionHandler struct {
	sessions  *session.Manager
	registry  *registry.Registry
	jwtSecret string
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(sessions *session.Manager, reg *registry.Registry, jwtSecret string) *SessionHandler {
	return &SessionHandler{sessions: sessions, registry: reg, jwtSecret: jwtSecret}
}

// Get returns the user's session snapshot. If the orchestrator is logged out
// but a persisted session record exists, the session is resumed first.
func (h *SessionHandler) Get(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return events.APIGatewayProxyResponse{StatusCode: http.StatusUnauthorized, Body: "Unauthorized"}, nil
	}

	orchestrator := h.sessions.Get(userID)
	if orchestrator.Snapshot().AuthState == session.StateLoggedOut {
		if token, err := h.registry.AccessToken(ctx, userID); err == nil {
			orchestrator.LoginSucceeded(ctx, token)
			orchestrator.Wait()
		} else if !errors.Is(err, registry.ErrNotFound) {
			fmt.Printf("Session resume error: %v\n", err)
		}
	}

	return jsonResponse(http.StatusOK, orchestrator.Snapshot()), nil
}
