package pool

import (
	"context"
	"os"
	"strings"

	"golang.org/x/oauth2"
	googleOAuth "golang.org/x/oauth2/google"
)

// Refresher exchanges a refresh token for a fresh credential.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// Scopes required for the assist backend.
var Scopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/userinfo.email",
}

// OAuthRefresher refreshes identity credentials through the standard OAuth
// token endpoint.
type OAuthRefresher struct {
	config *oauth2.Config
}

// NewOAuthRefresher builds a refresher from the POOLGATE_CLIENT_ID /
// POOLGATE_CLIENT_SECRET environment. Returns nil when no client is
// configured so the pool simply uses stored tokens as-is.
func NewOAuthRefresher() *OAuthRefresher {
	clientID := os.Getenv("POOLGATE_CLIENT_ID")
	clientSecret := os.Getenv("POOLGATE_CLIENT_SECRET")
	if clientID == "" || clientSecret == "" {
		return nil
	}
	return &OAuthRefresher{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Scopes:       Scopes,
			Endpoint:     googleOAuth.Endpoint,
		},
	}
}

func (r *OAuthRefresher) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	source := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	return source.Token()
}

// IsPermanentAuthError reports whether a refresh failure means the grant is
// gone for good (revoked, expired) rather than a transient outage.
func IsPermanentAuthError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"invalid_grant",
		"invalid_client",
		"unauthorized_client",
		"token has been expired or revoked",
		"revoked",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
