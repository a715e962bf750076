// Package identity resolves who the user is: an active profile fetch against
// the provider's userinfo endpoint, and a passive decode of the One Tap
// identity credential.
package identity

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

// Profile is the user profile exposed to the presentation layer.
type Profile struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture,omitempty"`
}

// Fetcher resolves a profile from a bearer access token.
type Fetcher interface {
	FetchProfile(ctx context.Context, token string) (*Profile, error)
}

// GoogleFetcher fetches the profile from Google's userinfo endpoint.
type GoogleFetcher struct{}

// NewGoogleFetcher creates a GoogleFetcher.
func NewGoogleFetcher() *GoogleFetcher {
	return &GoogleFetcher{}
}

// FetchProfile calls the userinfo endpoint with the given access token.
func (g *GoogleFetcher) FetchProfile(ctx context.Context, token string) (*Profile, error) {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	svc, err := oauth2api.NewService(ctx, option.WithTokenSource(src))
	if err != nil {
		return nil, fmt.Errorf("unable to create oauth2 service: %v", err)
	}

	info, err := svc.Userinfo.Get().Do()
	if err != nil {
		return nil, fmt.Errorf("unable to fetch user info: %w", err)
	}

	return &Profile{
		ID:      info.Id,
		Email:   info.Email,
		Name:    info.Name,
		Picture: info.Picture,
	}, nil
}

// StaticFetcher returns a fixed profile. Used for demo sessions and tests.
type StaticFetcher struct {
	Profile Profile
}

// FetchProfile returns the configured profile.
func (s *StaticFetcher) FetchProfile(_ context.Context, _ string) (*Profile, error) {
	p := s.Profile
	return &p, nil
}

// ParseCredential decodes the One Tap identity credential (an ID token) and
// returns the profile claims it carries. The signature is not verified: the
// credential carries no storage permission scope and only ever feeds the
// presentational "identity known" flag.
func ParseCredential(credential string) (*Profile, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(credential, claims); err != nil {
		return nil, fmt.Errorf("invalid identity credential: %v", err)
	}

	p := &Profile{}
	if sub, ok := claims["sub"].(string); ok {
		p.ID = sub
	}
	if email, ok := claims["email"].(string); ok {
		p.Email = email
	}
	if name, ok := claims["name"].(string); ok {
		p.Name = name
	}
	if picture, ok := claims["picture"].(string); ok {
		p.Picture = picture
	}
	if p.ID == "" {
		return nil, fmt.Errorf("identity credential has no subject")
	}
	return p, nil
}
