// Package app wires the application together and routes API Gateway requests.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/jun/refhub/internal/crypto"
	"github.com/jun/refhub/internal/handler"
	"github.com/jun/refhub/internal/identity"
	"github.com/jun/refhub/internal/registry"
	"github.com/jun/refhub/internal/secret"
	"github.com/jun/refhub/internal/session"
	"github.com/jun/refhub/internal/store"
	"github.com/jun/refhub/internal/store/googledrive"
	"github.com/jun/refhub/internal/store/memory"
)

// appFileMIME is the MIME type stamped on files the app creates, so they are
// recognizable as app content in the remote store.
const appFileMIME = "application/vnd.refhub"

// demoTokenPrefix marks access tokens issued by the demo login. Demo tokens
// route to the in-memory store instead of Google Drive.
const demoTokenPrefix = "demo:"

// ConfigurationError reports missing required configuration at startup.
type ConfigurationError struct {
	Field string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("missing required configuration: %s", e.Field)
}

// hybridStore routes demo tokens to the in-memory store and everything else
// to Google Drive.
type hybridStore struct {
	drive *googledrive.Client
	demo  *memory.Store
}

func (h *hybridStore) pick(token string) store.RemoteStore {
	if strings.HasPrefix(token, demoTokenPrefix) {
		return h.demo
	}
	return h.drive
}

func (h *hybridStore) Find(ctx context.Context, token string, q store.Query) ([]store.Resource, error) {
	return h.pick(token).Find(ctx, token, q)
}

func (h *hybridStore) Create(ctx context.Context, token string, spec store.CreateSpec) (*store.Resource, error) {
	return h.pick(token).Create(ctx, token, spec)
}

func (h *hybridStore) GetByID(ctx context.Context, token, id string) (*store.Resource, error) {
	return h.pick(token).GetByID(ctx, token, id)
}

func (h *hybridStore) GrantPermission(ctx context.Context, token, id, granteeEmail, role string) error {
	return h.pick(token).GrantPermission(ctx, token, id, granteeEmail, role)
}

// hybridFetcher synthesizes profiles for demo tokens and defers to the
// userinfo endpoint for real ones.
type hybridFetcher struct {
	google *identity.GoogleFetcher
}

func (h *hybridFetcher) FetchProfile(ctx context.Context, token string) (*identity.Profile, error) {
	if strings.HasPrefix(token, demoTokenPrefix) {
		return &identity.Profile{
			ID:    strings.TrimPrefix(token, demoTokenPrefix),
			Email: "demo@refhub.local",
			Name:  "Demo User",
		}, nil
	}
	return h.google.FetchProfile(ctx, token)
}

// App holds the dependencies for the Lambda function.
type App struct {
	authHandler      *handler.AuthHandler
	sessionHandler   *handler.SessionHandler
	workspaceHandler *handler.WorkspaceHandler
	apiGatewaySecret string
}

// NewApp initializes the application dependencies.
func NewApp(ctx context.Context) (*App, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	devMode := os.Getenv("DEV_MODE") == "true"

	// Session registry (encrypted tokens at rest). In DEV_MODE everything
	// stays in process memory.
	var dynamoClient *dynamodb.Client
	var encryptor crypto.Encryptor
	if devMode {
		encryptor = crypto.NewMockEncryptor()
		fmt.Println("Using in-memory registry with MockEncryptor (DEV_MODE=true)")
	} else {
		dynamoClient = dynamodb.NewFromConfig(cfg)
		kmsKeyID := os.Getenv("KMS_KEY_ID")
		if kmsKeyID == "" {
			kmsKeyID = "alias/refhub-session-key"
		}
		encryptor = crypto.NewKMSService(kms.NewFromConfig(cfg), kmsKeyID)
	}

	sessionsTable := os.Getenv("SESSIONS_TABLE")
	if sessionsTable == "" {
		sessionsTable = "RefHubSessions"
	}
	reg := registry.New(dynamoClient, sessionsTable, encryptor)

	// ---------- Secret Resolver ----------
	var resolver secret.Resolver
	if devMode {
		resolver = secret.NewEnvResolver()
		fmt.Println("Using EnvResolver (DEV_MODE=true)")
	} else {
		resolver = secret.NewSSMResolver(ssm.NewFromConfig(cfg))
	}

	googleClientSecretParam := os.Getenv("GOOGLE_CLIENT_SECRET_PARAM")
	if googleClientSecretParam == "" {
		googleClientSecretParam = "/refhub/google-client-secret"
	}
	googleClientSecret, err := resolver.GetSecret(ctx, googleClientSecretParam)
	if err != nil {
		log.Printf("WARNING: failed to resolve GOOGLE_CLIENT_SECRET: %v", err)
	}

	jwtSecretParam := os.Getenv("JWT_SECRET_PARAM")
	if jwtSecretParam == "" {
		jwtSecretParam = "/refhub/jwt-secret"
	}
	jwtSecret, err := resolver.GetSecret(ctx, jwtSecretParam)
	if err != nil {
		if !devMode {
			return nil, fmt.Errorf("resolve JWT secret: %w", err)
		}
		log.Printf("WARNING: failed to resolve JWT_SECRET: %v", err)
		jwtSecret = "default-dev-secret"
	}

	apiGatewaySecretParam := os.Getenv("API_GATEWAY_SECRET_PARAM")
	if apiGatewaySecretParam == "" {
		apiGatewaySecretParam = "/refhub/api-gateway-secret"
	}
	apiGatewaySecret, err := resolver.GetSecret(ctx, apiGatewaySecretParam)
	if err != nil && !devMode {
		log.Printf("WARNING: failed to resolve API_GATEWAY_SECRET: %v", err)
	}

	// ---------- OAuth2 Config ----------
	googleClientID := os.Getenv("GOOGLE_CLIENT_ID")
	if !devMode {
		if googleClientID == "" {
			return nil, &ConfigurationError{Field: "GOOGLE_CLIENT_ID"}
		}
		if googleClientSecret == "" {
			return nil, &ConfigurationError{Field: "GOOGLE_CLIENT_SECRET"}
		}
	}

	redirectURL := os.Getenv("GOOGLE_REDIRECT_URL")
	if redirectURL == "" {
		if devMode {
			redirectURL = "http://localhost:8080/auth/callback"
		} else {
			redirectURL = frontendURL() + "/api/auth/callback"
		}
	}

	driveScope := os.Getenv("DRIVE_SCOPE")
	if driveScope == "" {
		// Per-file scope: the app only ever sees what it created or what
		// the user explicitly picked.
		driveScope = "https://www.googleapis.com/auth/drive.file"
	}

	oauthConfig := &oauth2.Config{
		ClientID:     googleClientID,
		ClientSecret: googleClientSecret,
		RedirectURL:  redirectURL,
		Scopes: []string{
			driveScope,
			"https://www.googleapis.com/auth/userinfo.email",
			"https://www.googleapis.com/auth/userinfo.profile",
		},
		Endpoint: google.Endpoint,
	}

	// ---------- Stores and Sessions ----------
	rootFolderName := os.Getenv("ROOT_FOLDER_NAME")
	if rootFolderName == "" {
		rootFolderName = "RefHub Workspace"
	}

	demoStore := memory.NewStore()
	remote := &hybridStore{
		drive: googledrive.NewClient(appFileMIME),
		demo:  demoStore,
	}
	fetcher := &hybridFetcher{google: identity.NewGoogleFetcher()}

	sessions := session.NewManager(func() *session.Orchestrator {
		return session.NewOrchestrator(remote, fetcher, rootFolderName)
	})

	return &App{
		authHandler:      handler.NewAuthHandler(oauthConfig, sessions, reg, fetcher, demoStore, jwtSecret),
		sessionHandler:   handler.NewSessionHandler(sessions, reg, jwtSecret),
		workspaceHandler: handler.NewWorkspaceHandler(sessions, jwtSecret),
		apiGatewaySecret: apiGatewaySecret,
	}, nil
}

// HandleRequest routes API Gateway requests to the appropriate handler.
func (app *App) HandleRequest(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	path := req.Path
	method := req.HTTPMethod

	fmt.Printf("Request: %s %s\n", method, path)

	// CORS Preflight
	if method == "OPTIONS" {
		return corsResponse(events.APIGatewayProxyResponse{StatusCode: 204}), nil
	}

	// Only CloudFront knows the origin-verify secret.
	if os.Getenv("DEV_MODE") != "true" {
		if req.Headers["X-Origin-Verify"] != app.apiGatewaySecret && req.Headers["x-origin-verify"] != app.apiGatewaySecret {
			fmt.Printf("Security Block: Missing or invalid X-Origin-Verify header\n")
			return events.APIGatewayProxyResponse{
				StatusCode: http.StatusForbidden,
				Body:       "Forbidden: Access denied",
			}, nil
		}
	}

	// Strip /api prefix if present (for CloudFront proxying)
	if strings.HasPrefix(path, "/api") {
		path = strings.TrimPrefix(path, "/api")
	}
	if req.PathParameters == nil {
		req.PathParameters = make(map[string]string)
	}

	// /auth
	if strings.HasPrefix(path, "/auth") {
		if path == "/auth/login" && method == "GET" {
			return corsResponse(must(app.authHandler.Login(ctx, req))), nil
		}
		if path == "/auth/callback" && method == "GET" {
			return corsResponse(must(app.authHandler.Callback(ctx, req))), nil
		}
		if path == "/auth/token" && method == "POST" {
			return corsResponse(must(app.authHandler.TokenLogin(ctx, req))), nil
		}
		if path == "/auth/onetap" && method == "POST" {
			return corsResponse(must(app.authHandler.OneTap(ctx, req))), nil
		}
		if path == "/auth/error" && method == "POST" {
			return corsResponse(must(app.authHandler.ReportLoginError(ctx, req))), nil
		}
		if path == "/auth/demo-login" && method == "GET" {
			return corsResponse(must(app.authHandler.DemoLogin(ctx, req))), nil
		}
		if path == "/auth/logout" && method == "POST" {
			return corsResponse(must(app.authHandler.Logout(ctx, req))), nil
		}
	}

	// /session
	if path == "/session" && method == "GET" {
		return corsResponse(must(app.sessionHandler.Get(ctx, req))), nil
	}

	// /references
	if path == "/references" && method == "GET" {
		return corsResponse(must(app.workspaceHandler.ListReferences(ctx, req))), nil
	}
	if path == "/references" && method == "POST" {
		return corsResponse(must(app.workspaceHandler.CreateReference(ctx, req))), nil
	}

	// /folders
	if path == "/folders" && method == "POST" {
		return corsResponse(must(app.workspaceHandler.CreateFolder(ctx, req))), nil
	}

	// /files
	if path == "/files" && method == "POST" {
		return corsResponse(must(app.workspaceHandler.CreateFile(ctx, req))), nil
	}
	if strings.HasPrefix(path, "/files/") && strings.HasSuffix(path, "/share") && method == "POST" {
		parts := strings.Split(strings.Trim(path, "/"), "/")
		if len(parts) == 3 {
			req.PathParameters["id"] = parts[1]
			return corsResponse(must(app.workspaceHandler.ShareFile(ctx, req))), nil
		}
	}

	// /resources/{id}
	if strings.HasPrefix(path, "/resources/") && method == "GET" {
		req.PathParameters["id"] = strings.TrimPrefix(path, "/resources/")
		return corsResponse(must(app.workspaceHandler.GetResource(ctx, req))), nil
	}

	return corsResponse(events.APIGatewayProxyResponse{
		StatusCode: http.StatusNotFound,
		Body:       fmt.Sprintf("Not Found: %s %s", method, path),
	}), nil
}

// corsResponse adds CORS headers to an API Gateway response.
func corsResponse(resp events.APIGatewayProxyResponse) events.APIGatewayProxyResponse {
	if resp.Headers == nil {
		resp.Headers = make(map[string]string)
	}
	resp.Headers["Access-Control-Allow-Origin"] = frontendURL()
	resp.Headers["Access-Control-Allow-Credentials"] = "true"
	resp.Headers["Access-Control-Allow-Methods"] = "GET,POST,PUT,DELETE,OPTIONS,PATCH"
	resp.Headers["Access-Control-Allow-Headers"] = "Content-Type,Authorization"
	return resp
}

// must unwraps a handler response, converting the error into a 500.
func must(resp events.APIGatewayProxyResponse, err error) events.APIGatewayProxyResponse {
	if err != nil {
		fmt.Printf("Handler error: %v\n", err)
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError, Body: "Internal Server Error"}
	}
	return resp
}

func frontendURL() string {
	if u := os.Getenv("FRONTEND_URL"); u != "" {
		return u
	}
	return "http://localhost:3000"
}
