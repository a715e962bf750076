package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/golang-jwt/jwt/v5"

	"github.com/jun/refhub/internal/session"
	"github.com/jun/refhub/internal/store"
)

const sessionCookieName = "session_token"

// header returns a request header value, case-insensitively. API Gateway does
// not normalize header casing.
func header(req events.APIGatewayProxyRequest, name string) string {
	for k, v := range req.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// GetUserID extracts and verifies the session JWT from the Authorization
// header or the session cookie and returns its subject.
func GetUserID(req events.APIGatewayProxyRequest, jwtSecret string) (string, error) {
	tokenString := ""
	if auth := header(req, "Authorization"); strings.HasPrefix(auth, "Bearer ") {
		tokenString = strings.TrimPrefix(auth, "Bearer ")
	}
	if tokenString == "" {
		for _, part := range strings.Split(header(req, "Cookie"), ";") {
			part = strings.TrimSpace(part)
			if strings.HasPrefix(part, sessionCookieName+"=") {
				tokenString = strings.TrimPrefix(part, sessionCookieName+"=")
				break
			}
		}
	}
	if tokenString == "" {
		return "", fmt.Errorf("no authorization token found")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(jwtSecret), nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid token: %v", err)
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		if sub, ok := claims["sub"].(string); ok && sub != "" {
			return sub, nil
		}
	}
	return "", fmt.Errorf("invalid token claims")
}

// issueSessionToken signs a session JWT for the user.
func issueSessionToken(jwtSecret, userID, email, name string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub":   userID,
		"email": email,
		"name":  name,
		"exp":   time.Now().Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtSecret))
}

// sessionCookie formats the Set-Cookie value for the session token. SameSite
// must match across login and logout or browsers keep the stale cookie.
func sessionCookie(token string, maxAge int) string {
	sameSite := "Lax"
	if os.Getenv("DEV_MODE") != "true" {
		sameSite = "None"
	}
	return fmt.Sprintf("%s=%s; HttpOnly; Path=/; Max-Age=%d; SameSite=%s; Secure",
		sessionCookieName, token, maxAge, sameSite)
}

func frontendURL() string {
	if u := os.Getenv("FRONTEND_URL"); u != "" {
		return u
	}
	return "http://localhost:3000"
}

// jsonResponse marshals v into a 200-family API Gateway response.
func jsonResponse(status int, v interface{}) events.APIGatewayProxyResponse {
	body, _ := json.Marshal(v)
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Body:       string(body),
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}

// errorResponse maps a command error onto an HTTP status: validation input
// errors are the caller's fault, missing resources are 404, remote store
// rejections keep their status, everything else is a 500.
func errorResponse(err error) events.APIGatewayProxyResponse {
	var verr *session.ValidationError
	var rerr *store.RequestError

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrNoSession):
		status = http.StatusUnauthorized
	case errors.As(err, &verr):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.As(err, &rerr):
		status = rerr.StatusCode
	}
	return jsonResponse(status, map[string]string{"error": err.Error()})
}
