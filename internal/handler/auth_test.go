package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/jun/refhub/internal/handler"
	"github.com/jun/refhub/internal/session"
)

func testOAuthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:    "test-client-id",
		RedirectURL: "http://localhost:8080/auth/callback",
		Scopes:      []string{"https://www.googleapis.com/auth/drive.file"},
		Endpoint:    google.Endpoint,
	}
}

func newAuthHandler(env *testEnv) *handler.AuthHandler {
	return handler.NewAuthHandler(testOAuthConfig(), env.sessions, env.registry, env.fetcher, env.store, testJWTSecret)
}

func TestAuthHandler_Login_RedirectsWithState(t *testing.T) {
	env := newTestEnv()
	h := newAuthHandler(env)

	resp, err := h.Login(context.Background(), events.APIGatewayProxyRequest{})
	if err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("Expected 302, got %d", resp.StatusCode)
	}

	location := resp.Headers["Location"]
	if !strings.Contains(location, "client_id=test-client-id") || !strings.Contains(location, "state=") {
		t.Errorf("Expected auth URL with client id and state, got %q", location)
	}

	cookies := resp.MultiValueHeaders["Set-Cookie"]
	if len(cookies) != 1 || !strings.HasPrefix(cookies[0], "oauth_state=") {
		t.Errorf("Expected state cookie, got %v", cookies)
	}
}

func TestAuthHandler_Callback_RejectsStateMismatch(t *testing.T) {
	env := newTestEnv()
	h := newAuthHandler(env)

	req := events.APIGatewayProxyRequest{
		QueryStringParameters: map[string]string{"code": "auth-code", "state": "forged"},
		Headers:               map[string]string{"Cookie": "oauth_state=genuine"},
	}
	resp, _ := h.Callback(context.Background(), req)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for state mismatch, got %d", resp.StatusCode)
	}
}

func TestAuthHandler_Callback_MissingCode(t *testing.T) {
	env := newTestEnv()
	h := newAuthHandler(env)

	req := events.APIGatewayProxyRequest{QueryStringParameters: map[string]string{}}
	resp, _ := h.Callback(context.Background(), req)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing code, got %d", resp.StatusCode)
	}
}

func TestAuthHandler_Callback_ProviderError(t *testing.T) {
	env := newTestEnv()
	h := newAuthHandler(env)

	req := events.APIGatewayProxyRequest{
		QueryStringParameters: map[string]string{"error": "access_denied"},
	}
	resp, _ := h.Callback(context.Background(), req)
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("Expected redirect for provider error, got %d", resp.StatusCode)
	}
	if !strings.Contains(resp.Headers["Location"], "login=failed") {
		t.Errorf("Expected failure redirect, got %q", resp.Headers["Location"])
	}
}

func TestAuthHandler_TokenLogin_StartsSession(t *testing.T) {
	env := newTestEnv()
	h := newAuthHandler(env)

	req := makeRequest("POST", "/auth/token", `{"accessToken":"tok-1"}`)
	resp, err := h.TokenLogin(context.Background(), req)
	if err != nil {
		t.Fatalf("TokenLogin returned error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", resp.StatusCode, resp.Body)
	}

	var snap session.Snapshot
	json.Unmarshal([]byte(resp.Body), &snap)
	if snap.AuthState != session.StateReady {
		t.Errorf("Expected ready session, got %q (errors: %v)", snap.AuthState, snap.Errors)
	}
	if snap.AppRootID == "" {
		t.Error("Expected workspace root in snapshot")
	}

	cookies := resp.MultiValueHeaders["Set-Cookie"]
	if len(cookies) != 1 || !strings.HasPrefix(cookies[0], "session_token=") {
		t.Errorf("Expected session cookie, got %v", cookies)
	}

	// The raw access token must be recoverable for session resume.
	token, err := env.registry.AccessToken(context.Background(), testUserID)
	if err != nil || token != "tok-1" {
		t.Errorf("Expected persisted token 'tok-1', got %q (err %v)", token, err)
	}
}

func TestAuthHandler_TokenLogin_MissingToken(t *testing.T) {
	env := newTestEnv()
	h := newAuthHandler(env)

	resp, _ := h.TokenLogin(context.Background(), makeRequest("POST", "/auth/token", `{}`))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing token, got %d", resp.StatusCode)
	}
}

func TestAuthHandler_OneTap_RecordsIdentity(t *testing.T) {
	env := newTestEnv()
	h := newAuthHandler(env)

	credential, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   testUserID,
		"email": "user1@example.com",
		"name":  "User One",
	}).SignedString([]byte("any-key"))

	body, _ := json.Marshal(map[string]string{"credential": credential})
	resp, err := h.OneTap(context.Background(), makeRequest("POST", "/auth/onetap", string(body)))
	if err != nil {
		t.Fatalf("OneTap returned error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", resp.StatusCode, resp.Body)
	}

	var snap session.Snapshot
	json.Unmarshal([]byte(resp.Body), &snap)
	if !snap.IdentityKnown {
		t.Error("Expected identity to be known")
	}
	if snap.AuthState != session.StateLoggedOut {
		t.Errorf("One Tap must not grant storage access, got state %q", snap.AuthState)
	}
}

func TestAuthHandler_OneTap_InvalidCredential(t *testing.T) {
	env := newTestEnv()
	h := newAuthHandler(env)

	resp, _ := h.OneTap(context.Background(), makeRequest("POST", "/auth/onetap", `{"credential":"garbage"}`))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid credential, got %d", resp.StatusCode)
	}
}

func TestAuthHandler_ReportLoginError(t *testing.T) {
	env := newTestEnv()
	h := newAuthHandler(env)

	resp, _ := h.ReportLoginError(context.Background(), makeRequest("POST", "/auth/error", `{"source":"drive"}`))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var snap session.Snapshot
	json.Unmarshal([]byte(resp.Body), &snap)
	if len(snap.Errors) != 1 || !strings.Contains(snap.Errors[0], "Drive login failed") {
		t.Errorf("Expected drive login note, got %v", snap.Errors)
	}
}

func TestAuthHandler_DemoLogin(t *testing.T) {
	env := newTestEnv()
	h := newAuthHandler(env)

	resp, err := h.DemoLogin(context.Background(), events.APIGatewayProxyRequest{})
	if err != nil {
		t.Fatalf("DemoLogin returned error: %v", err)
	}
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("Expected 302, got %d: %s", resp.StatusCode, resp.Body)
	}
	if !strings.Contains(resp.Headers["Location"], "token=") {
		t.Errorf("Expected token in redirect, got %q", resp.Headers["Location"])
	}
	if cookies := resp.MultiValueHeaders["Set-Cookie"]; len(cookies) != 1 {
		t.Errorf("Expected session cookie, got %v", cookies)
	}
}

func TestAuthHandler_Logout_DropsSessionAndRecord(t *testing.T) {
	env := newTestEnv()
	h := newAuthHandler(env)
	ctx := context.Background()

	env.registry.Save(ctx, testUserID, "user1@example.com", "tok-1")
	env.login(t, "tok-1")

	resp, err := h.Logout(ctx, makeRequest("POST", "/auth/logout", ""))
	if err != nil {
		t.Fatalf("Logout returned error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	if _, err := env.registry.AccessToken(ctx, testUserID); err == nil {
		t.Error("Expected persisted session record to be deleted")
	}
	if snap := env.sessions.Get(testUserID).Snapshot(); snap.AuthState != session.StateLoggedOut {
		t.Errorf("Expected fresh logged-out session, got %q", snap.AuthState)
	}

	cookies := resp.MultiValueHeaders["Set-Cookie"]
	if len(cookies) != 1 || !strings.Contains(cookies[0], "Max-Age=0") {
		t.Errorf("Expected expired session cookie, got %v", cookies)
	}
}
