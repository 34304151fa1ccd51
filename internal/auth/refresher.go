package auth

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
)

// DefaultScopes are the delegated Graph permissions the mail operations
// need. offline_access makes the provider issue a refresh token.
var DefaultScopes = []string{
	"https://graph.microsoft.com/Mail.Read",
	"https://graph.microsoft.com/User.Read",
	"offline_access",
}

// OAuthConfig builds the oauth2 configuration for the Microsoft identity
// platform for the given app registration and tenant.
func OAuthConfig(clientID, tenantID string) *oauth2.Config {
	authority := "https://login.microsoftonline.com/" + tenantID
	return &oauth2.Config{
		ClientID: clientID,
		Endpoint: oauth2.Endpoint{
			AuthURL:       authority + "/oauth2/v2.0/authorize",
			TokenURL:      authority + "/oauth2/v2.0/token",
			DeviceAuthURL: authority + "/oauth2/v2.0/devicecode",
		},
		Scopes: DefaultScopes,
	}
}

// OAuthRefresher refreshes tokens through the OAuth2 refresh-token grant.
type OAuthRefresher struct {
	conf *oauth2.Config
}

// NewOAuthRefresher creates a refresher for the given app registration.
func NewOAuthRefresher(clientID, tenantID string) *OAuthRefresher {
	return &OAuthRefresher{conf: OAuthConfig(clientID, tenantID)}
}

// Refresh implements Refresher.
func (r *OAuthRefresher) Refresh(ctx context.Context, refreshToken string) (Token, error) {
	src := r.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	fresh, err := src.Token()
	if err != nil {
		return Token{}, fmt.Errorf("refresh grant: %w", err)
	}
	return fromOAuth2(fresh), nil
}

func fromOAuth2(t *oauth2.Token) Token {
	return Token{
		AccessToken:  t.AccessToken,
		Expiry:       t.Expiry,
		RefreshToken: t.RefreshToken,
	}
}
