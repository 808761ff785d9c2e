// Package idp implements the outbound OIDC authorization-code exchange
// that backs the Auth Coordinator's coordinator.IdPClient boundary.
// Grounded on the teacher's OAuthProviderService (oauth2.Config-based
// exchange + userinfo fetch), generalized from Google/GitHub-specific
// endpoints to a single configurable OIDC authority, since the
// governing specification treats the identity provider as one external
// collaborator rather than a provider registry.
package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"

	appErrors "authz/pkg/errors"

	"authz/internal/config"
	"authz/internal/core/services/coordinator"
)

// Client exchanges an authorization code against a single OIDC
// authority's token and userinfo endpoints.
type Client struct {
	oauthConfig *oauth2.Config
	userInfoURL string
}

// New constructs a Client from IdPConfig. The authority is expected to
// expose standard OIDC discovery-shaped endpoints at
// <authority>/oauth/token and <authority>/userinfo.
func New(cfg config.IdPConfig) *Client {
	return &Client{
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       []string{cfg.Scope},
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.Authority + "/authorize",
				TokenURL: cfg.Authority + "/oauth/token",
			},
		},
		userInfoURL: cfg.Authority + "/userinfo",
	}
}

// AuthCodeURL returns the authorization URL a caller redirects a user to,
// carrying an opaque CSRF state.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange implements coordinator.IdPClient: trades an authorization
// code for a token, then fetches the standard OIDC userinfo claims.
func (c *Client) Exchange(ctx context.Context, code string) (*coordinator.IdPProfile, error) {
	token, err := c.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return nil, appErrors.NewExternalError("idp token exchange failed", err)
	}

	client := c.oauthConfig.Client(ctx, token)
	resp, err := client.Get(c.userInfoURL)
	if err != nil {
		return nil, appErrors.NewExternalError("idp userinfo request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, appErrors.NewExternalError(fmt.Sprintf("idp userinfo returned status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, appErrors.NewExternalError("idp userinfo read failed", err)
	}

	var claims struct {
		Subject       string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
		GivenName     string `json:"given_name"`
		FamilyName    string `json:"family_name"`
	}
	if err := json.Unmarshal(body, &claims); err != nil {
		return nil, appErrors.NewExternalError("idp userinfo parse failed", err)
	}
	if claims.Subject == "" {
		return nil, appErrors.NewExternalError("idp userinfo missing sub claim", nil)
	}

	return &coordinator.IdPProfile{
		ExternalSubject: claims.Subject,
		Email:           claims.Email,
		DisplayName:     claims.Name,
		FirstName:       claims.GivenName,
		LastName:        claims.FamilyName,
	}, nil
}
