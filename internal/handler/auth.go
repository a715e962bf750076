package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/jun/refhub/internal/identity"
	"github.com/jun/refhub/internal/registry"
	"github.com/jun/refhub/internal/session"
	"github.com/jun/refhub/internal/store"
	"github.com/jun/refhub/internal/store/memory"
)

const (
	sessionTTL     = 24 * time.Hour
	demoSessionTTL = 1 * time.Hour
	stateCookie    = "oauth_state"
)

// AuthHandler handles the login surfaces: the OAuth code flow, the
// implicit-flow token hand-off, One Tap identity, demo sessions, and logout.
type AuthHandler struct {
	oauthConfig *oauth2.Config
	sessions    *session.Manager
	registry    *registry.Registry
	fetcher     identity.Fetcher
	demoStore   *memory.Store
	jwtSecret   string
}

// NewAuthHandler creates an AuthHandler. demoStore may be nil to disable the
// demo login surface.
func NewAuthHandler(cfg *oauth2.Config, sessions *session.Manager, reg *registry.Registry, fetcher identity.Fetcher, demoStore *memory.Store, jwtSecret string) *AuthHandler {
	return &AuthHandler{
		oauthConfig: cfg,
		sessions:    sessions,
		registry:    reg,
		fetcher:     fetcher,
		demoStore:   demoStore,
		jwtSecret:   jwtSecret,
	}
}

// Login starts the OAuth2 code flow. The random state is pinned in a
// short-lived cookie so the callback can reject forged redirects.
func (h *AuthHandler) Login(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	state := uuid.New().String()
	url := h.oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOnline)

	cookie := fmt.Sprintf("%s=%s; HttpOnly; Path=/; Max-Age=600; SameSite=Lax; Secure", stateCookie, state)
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusFound,
		Headers: map[string]string{
			"Location": url,
		},
		MultiValueHeaders: map[string][]string{
			"Set-Cookie": {cookie},
		},
	}, nil
}

// Callback completes the OAuth2 code flow: verifies state, exchanges the
// code, starts the session, and redirects back to the frontend.
func (h *AuthHandler) Callback(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if errParam := req.QueryStringParameters["error"]; errParam != "" {
		fmt.Printf("OAuth callback error: %s\n", errParam)
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusFound,
			Headers:    map[string]string{"Location": frontendURL() + "/?login=failed"},
		}, nil
	}

	code := req.QueryStringParameters["code"]
	if code == "" {
		return events.APIGatewayProxyResponse{StatusCode: http.StatusBadRequest, Body: "Missing code"}, nil
	}
	if state := req.QueryStringParameters["state"]; state == "" || state != cookieValue(req, stateCookie) {
		return events.APIGatewayProxyResponse{StatusCode: http.StatusBadRequest, Body: "State mismatch"}, nil
	}

	token, err := h.oauthConfig.Exchange(ctx, code)
	if err != nil {
		fmt.Printf("Exchange error: %v\n", err)
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError, Body: "Failed to exchange code"}, nil
	}

	resp, err := h.startSession(ctx, token.AccessToken)
	if err != nil {
		fmt.Printf("Callback startSession error: %v\n", err)
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError, Body: "Failed to start session"}, nil
	}

	clearState := fmt.Sprintf("%s=; HttpOnly; Path=/; Max-Age=0; SameSite=Lax; Secure", stateCookie)
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusFound,
		Headers: map[string]string{
			"Location": frontendURL() + "/?success=true",
		},
		MultiValueHeaders: map[string][]string{
			"Set-Cookie": {resp.cookie, clearState},
		},
	}, nil
}

// TokenLogin accepts an access token obtained by the frontend through the
// implicit flow and starts the session with it.
func (h *AuthHandler) TokenLogin(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	var body struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil || body.AccessToken == "" {
		return events.APIGatewayProxyResponse{StatusCode: http.StatusBadRequest, Body: "Missing access token"}, nil
	}

	resp, err := h.startSession(ctx, body.AccessToken)
	if err != nil {
		fmt.Printf("TokenLogin startSession error: %v\n", err)
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError, Body: "Failed to start session"}, nil
	}

	out := jsonResponse(http.StatusOK, resp.snapshot)
	out.MultiValueHeaders = map[string][]string{"Set-Cookie": {resp.cookie}}
	return out, nil
}

// OneTap records the passive identity credential. It never grants storage
// access, so the session it issues is identity-only until a real login.
func (h *AuthHandler) OneTap(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	var body struct {
		Credential string `json:"credential"`
	}
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil || body.Credential == "" {
		return events.APIGatewayProxyResponse{StatusCode: http.StatusBadRequest, Body: "Missing credential"}, nil
	}

	profile, err := identity.ParseCredential(body.Credential)
	if err != nil {
		return events.APIGatewayProxyResponse{StatusCode: http.StatusBadRequest, Body: "Invalid credential"}, nil
	}

	orchestrator := h.sessions.Get(profile.ID)
	orchestrator.OneTapSucceeded(body.Credential)

	signed, err := issueSessionToken(h.jwtSecret, profile.ID, profile.Email, profile.Name, sessionTTL)
	if err != nil {
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError, Body: "Failed to sign token"}, nil
	}

	out := jsonResponse(http.StatusOK, orchestrator.Snapshot())
	out.MultiValueHeaders = map[string][]string{"Set-Cookie": {sessionCookie(signed, int(sessionTTL.Seconds()))}}
	return out, nil
}

// ReportLoginError records a login failure reported by the frontend, so the
// failure shows up in the session's error list like any other.
func (h *AuthHandler) ReportLoginError(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return events.APIGatewayProxyResponse{StatusCode: http.StatusUnauthorized, Body: "Unauthorized"}, nil
	}

	var body struct {
		Source string `json:"source"`
	}
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return events.APIGatewayProxyResponse{StatusCode: http.StatusBadRequest, Body: "Invalid request body"}, nil
	}

	orchestrator := h.sessions.Get(userID)
	switch body.Source {
	case "onetap":
		orchestrator.OneTapFailed()
	default:
		orchestrator.LoginFailed()
	}
	return jsonResponse(http.StatusOK, orchestrator.Snapshot()), nil
}

// DemoLogin issues a temporary session against the in-memory store, seeded
// with resources that exercise every context label.
func (h *AuthHandler) DemoLogin(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if h.demoStore == nil {
		return events.APIGatewayProxyResponse{StatusCode: http.StatusNotFound, Body: "Demo login is disabled"}, nil
	}

	userID := fmt.Sprintf("demo-user-%s", uuid.New().String())
	accessToken := "demo:" + userID
	email := "demo@refhub.local"

	h.seedDemoAccount(accessToken)

	if err := h.registry.Save(ctx, userID, email, accessToken); err != nil {
		fmt.Printf("DemoLogin Save error: %v\n", err)
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError, Body: "Failed to save demo session"}, nil
	}

	orchestrator := h.sessions.Get(userID)
	orchestrator.LoginSucceeded(ctx, accessToken)
	orchestrator.Wait()

	signed, err := issueSessionToken(h.jwtSecret, userID, email, "Demo User", demoSessionTTL)
	if err != nil {
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError, Body: "Failed to sign token"}, nil
	}

	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusFound,
		Headers: map[string]string{
			"Location": fmt.Sprintf("%s/?token=%s", frontendURL(), signed),
		},
		MultiValueHeaders: map[string][]string{
			"Set-Cookie": {sessionCookie(signed, int(demoSessionTTL.Seconds()))},
		},
	}, nil
}

// Logout ends the session: the orchestrator resets, the persisted record and
// its token are deleted, and the cookie is cleared.
func (h *AuthHandler) Logout(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if userID, err := GetUserID(req, h.jwtSecret); err == nil {
		h.sessions.Drop(userID)
		if err := h.registry.Delete(ctx, userID); err != nil {
			fmt.Printf("Logout Delete error: %v\n", err)
		}
	}

	out := jsonResponse(http.StatusOK, map[string]bool{"success": true})
	out.MultiValueHeaders = map[string][]string{"Set-Cookie": {sessionCookie("", 0)}}
	return out, nil
}

type sessionStart struct {
	snapshot session.Snapshot
	cookie   string
}

// startSession resolves the token's owner, persists the session record, runs
// the post-login operations to completion, and issues the session cookie.
func (h *AuthHandler) startSession(ctx context.Context, accessToken string) (*sessionStart, error) {
	profile, err := h.fetcher.FetchProfile(ctx, accessToken)
	if err != nil {
		return nil, fmt.Errorf("resolve token owner: %w", err)
	}

	if err := h.registry.Save(ctx, profile.ID, profile.Email, accessToken); err != nil {
		// Session still works for this process lifetime; resume after a
		// restart will not.
		fmt.Printf("Save session record error: %v\n", err)
	}

	orchestrator := h.sessions.Get(profile.ID)
	orchestrator.LoginSucceeded(ctx, accessToken)
	orchestrator.Wait()

	signed, err := issueSessionToken(h.jwtSecret, profile.ID, profile.Email, profile.Name, sessionTTL)
	if err != nil {
		return nil, fmt.Errorf("sign session token: %w", err)
	}

	return &sessionStart{
		snapshot: orchestrator.Snapshot(),
		cookie:   sessionCookie(signed, int(sessionTTL.Seconds())),
	}, nil
}

// seedDemoAccount stages resources covering each ownership and drive context
// so the demo index is not empty.
func (h *AuthHandler) seedDemoAccount(token string) {
	h.demoStore.Put(token, store.Resource{
		Name:      "Team Handbook",
		Kind:      store.KindFolder,
		Ownership: store.OwnershipSharedWithMe,
		CreatedAt: time.Now(),
	})
	h.demoStore.Put(token, store.Resource{
		Name:      "Quarterly Planning",
		Kind:      store.KindFolder,
		Ownership: store.OwnershipOwned,
		DriveID:   "demo-shared-drive",
		CreatedAt: time.Now(),
	})
	h.demoStore.Put(token, store.Resource{
		Name:      "My Research",
		Kind:      store.KindFolder,
		Ownership: store.OwnershipOwned,
		CreatedAt: time.Now(),
	})
}

// cookieValue extracts a single cookie from the request.
func cookieValue(req events.APIGatewayProxyRequest, name string) string {
	for _, part := range strings.Split(header(req, "Cookie"), ";") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, name+"=") {
			return strings.TrimPrefix(part, name+"=")
		}
	}
	return ""
}
