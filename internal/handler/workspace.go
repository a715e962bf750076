package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jun/refhub/internal/session"
)

// WorkspaceHandler exposes the workspace commands: the reference index,
// folder provisioning, file creation, sharing, and resource lookup.
type WorkspaceHandler struct {
	sessions  *session.Manager
	jwtSecret string
}

// NewWorkspaceHandler creates a WorkspaceHandler.
func NewWorkspaceHandler(sessions *session.Manager, jwtSecret string) *WorkspaceHandler {
	return &WorkspaceHandler{sessions: sessions, jwtSecret: jwtSecret}
}

func (h *WorkspaceHandler) orchestrator(req events.APIGatewayProxyRequest) (*session.Orchestrator, *events.APIGatewayProxyResponse) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		resp := events.APIGatewayProxyResponse{StatusCode: http.StatusUnauthorized, Body: "Unauthorized"}
		return nil, &resp
	}
	return h.sessions.Get(userID), nil
}

// ListReferences re-reads the project reference list from the remote store.
func (h *WorkspaceHandler) ListReferences(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	orchestrator, unauthorized := h.orchestrator(req)
	if unauthorized != nil {
		return *unauthorized, nil
	}

	entries, err := orchestrator.RefreshReferences(ctx)
	if err != nil {
		return errorResponse(err), nil
	}
	return jsonResponse(http.StatusOK, entries), nil
}

// CreateReference attaches a picked folder to the workspace as a project
// reference and returns the refreshed session snapshot.
func (h *WorkspaceHandler) CreateReference(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	orchestrator, unauthorized := h.orchestrator(req)
	if unauthorized != nil {
		return *unauthorized, nil
	}

	var body struct {
		TargetID string `json:"targetId"`
	}
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return events.APIGatewayProxyResponse{StatusCode: http.StatusBadRequest, Body: "Invalid request body"}, nil
	}

	created, err := orchestrator.AttachReference(ctx, body.TargetID)
	if err != nil {
		return errorResponse(err), nil
	}
	return jsonResponse(http.StatusCreated, created), nil
}

// CreateFolder idempotently ensures a named folder.
func (h *WorkspaceHandler) CreateFolder(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	orchestrator, unauthorized := h.orchestrator(req)
	if unauthorized != nil {
		return *unauthorized, nil
	}

	var body struct {
		Name     string `json:"name"`
		ParentID string `json:"parentId"`
	}
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return events.APIGatewayProxyResponse{StatusCode: http.StatusBadRequest, Body: "Invalid request body"}, nil
	}

	folder, err := orchestrator.EnsureFolder(ctx, body.Name, body.ParentID)
	if err != nil {
		return errorResponse(err), nil
	}
	return jsonResponse(http.StatusOK, folder), nil
}

// CreateFile creates a typed app file in the workspace.
func (h *WorkspaceHandler) CreateFile(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	orchestrator, unauthorized := h.orchestrator(req)
	if unauthorized != nil {
		return *unauthorized, nil
	}

	var body struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return events.APIGatewayProxyResponse{StatusCode: http.StatusBadRequest, Body: "Invalid request body"}, nil
	}

	created, err := orchestrator.CreateFile(ctx, body.Name)
	if err != nil {
		return errorResponse(err), nil
	}
	return jsonResponse(http.StatusCreated, created), nil
}

// ShareFile grants the grantee writer access to the file.
func (h *WorkspaceHandler) ShareFile(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	orchestrator, unauthorized := h.orchestrator(req)
	if unauthorized != nil {
		return *unauthorized, nil
	}

	var body struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return events.APIGatewayProxyResponse{StatusCode: http.StatusBadRequest, Body: "Invalid request body"}, nil
	}

	if err := orchestrator.GrantPermission(ctx, req.PathParameters["id"], body.Email); err != nil {
		return errorResponse(err), nil
	}
	return jsonResponse(http.StatusOK, map[string]bool{"success": true}), nil
}

// GetResource fetches a resource's metadata by id, including shared and
// cross-drive resources the account cannot list.
func (h *WorkspaceHandler) GetResource(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	orchestrator, unauthorized := h.orchestrator(req)
	if unauthorized != nil {
		return *unauthorized, nil
	}

	r, err := orchestrator.GetResource(ctx, req.PathParameters["id"])
	if err != nil {
		return errorResponse(err), nil
	}
	return jsonResponse(http.StatusOK, r), nil
}
