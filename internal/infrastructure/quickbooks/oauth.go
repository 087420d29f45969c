package quickbooks

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/Amaz3n/strata-sub010/internal/domain/accounting"
	"github.com/Amaz3n/strata-sub010/internal/infrastructure/config"
)

// OAuthClient implements the TokenEndpoint port against the provider's
// OAuth 2.0 token service
type OAuthClient struct {
	config *oauth2.Config
}

// NewOAuthClient creates a new OAuth client for the configured app
func NewOAuthClient(cfg config.QuickBooksConfig) *OAuthClient {
	return &OAuthClient{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
	}
}

// AuthCodeURL builds the provider consent URL for the connect flow
func (c *OAuthClient) AuthCodeURL(state string) string {
	return c.config.AuthCodeURL(state)
}

// Exchange trades an authorization code for the initial token pair
func (c *OAuthClient) Exchange(ctx context.Context, code string) (accounting.TokenPair, error) {
	token, err := c.config.Exchange(ctx, code)
	if err != nil {
		return accounting.TokenPair{}, classifyTokenError(err)
	}
	return tokenPairFrom(token), nil
}

// Refresh trades a refresh token for a fresh token pair. Providers rotate
// refresh tokens, so the returned pair may carry a new one.
func (c *OAuthClient) Refresh(ctx context.Context, refreshToken string) (accounting.TokenPair, error) {
	source := c.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return accounting.TokenPair{}, classifyTokenError(err)
	}
	return tokenPairFrom(token), nil
}

func tokenPairFrom(token *oauth2.Token) accounting.TokenPair {
	return accounting.TokenPair{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}
}

// classifyTokenError maps token endpoint failures into the sync taxonomy.
// invalid_grant means the refresh token was revoked or expired and only the
// user reconnecting can fix it; everything else at the token endpoint is
// worth retrying.
func classifyTokenError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.ErrorCode == "invalid_grant" {
			return accounting.NewReauthorizationRequiredError("refresh token revoked or expired")
		}
		if retrieveErr.Response != nil && retrieveErr.Response.StatusCode < 500 {
			return accounting.NewValidationRejectedError(fmt.Sprintf("token endpoint rejected request: %s", retrieveErr.ErrorCode))
		}
	}
	return accounting.NewTransientError("token endpoint unavailable", err)
}

// Ensure OAuthClient implements TokenEndpoint
var _ accounting.TokenEndpoint = (*OAuthClient)(nil)
