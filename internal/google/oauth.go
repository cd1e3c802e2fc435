package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/teemow/inboxrelay/internal/credstore"
	"github.com/teemow/inboxrelay/internal/relayerr"
)

// DefaultTimeout bounds a single call to the token endpoint.
const DefaultTimeout = 15 * time.Second

// Config holds the OAuth client registration.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Endpoint defaults to google.Endpoint.
	Endpoint oauth2.Endpoint

	// Scopes default to DefaultOAuthScopes.
	Scopes []string

	// HTTPClient is used for token endpoint calls. Defaults to http.DefaultClient.
	HTTPClient *http.Client

	// Timeout bounds each token endpoint call. Defaults to DefaultTimeout.
	Timeout time.Duration
}

// OAuth talks to Google's authorization and token endpoints.
type OAuth struct {
	conf       *oauth2.Config
	httpClient *http.Client
	timeout    time.Duration
}

// NewOAuth creates an OAuth client. Client id, secret and redirect URL are required.
func NewOAuth(cfg Config) (*OAuth, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RedirectURL == "" {
		return nil, fmt.Errorf("google oauth: client id, client secret and redirect URL are required")
	}

	endpoint := cfg.Endpoint
	if endpoint.AuthURL == "" && endpoint.TokenURL == "" {
		endpoint = google.Endpoint
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultOAuthScopes
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &OAuth{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       scopes,
		},
		httpClient: cfg.HTTPClient,
		timeout:    timeout,
	}, nil
}

// AuthURL returns the consent page URL. Offline access and a forced consent
// prompt are requested so that Google issues a refresh token every time.
// An empty state is omitted from the URL.
func (o *OAuth) AuthURL(state string) string {
	return o.conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for a token set.
func (o *OAuth) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if code == "" {
		return nil, relayerr.Newf(relayerr.KindValidation, "oauth.exchange", "missing authorization code")
	}

	ctx, cancel := o.callContext(ctx)
	defer cancel()

	tok, err := o.conf.Exchange(ctx, code)
	if err != nil {
		return nil, relayerr.New(relayerr.KindAuthExchange, "oauth.exchange", err)
	}
	return tok, nil
}

// Refresh obtains a new access token for refreshToken. When the provider
// does not rotate the refresh token, the input token is carried over.
func (o *OAuth) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, relayerr.Newf(relayerr.KindRefresh, "oauth.refresh", "no refresh token available")
	}

	ctx, cancel := o.callContext(ctx)
	defer cancel()

	tok, err := o.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, relayerr.New(relayerr.KindRefresh, "oauth.refresh", err)
	}
	if tok.AccessToken == "" {
		return nil, relayerr.Newf(relayerr.KindRefresh, "oauth.refresh", "token response has no access token")
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	return tok, nil
}

func (o *OAuth) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, o.httpClient)
	}
	return context.WithTimeout(ctx, o.timeout)
}

// IsProviderRejection reports whether err carries an OAuth error response
// from the token endpoint, as opposed to a transport failure.
func IsProviderRejection(err error) bool {
	var re *oauth2.RetrieveError
	return errors.As(err, &re)
}

// RecordFromToken converts a token set into a credential record saved at savedAt.
func RecordFromToken(tok *oauth2.Token, savedAt time.Time) credstore.Record {
	rec := credstore.Record{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresIn:    tok.ExpiresIn,
		SavedAt:      savedAt.UTC(),
	}
	if rec.ExpiresIn == 0 && !tok.Expiry.IsZero() {
		if secs := int64(tok.Expiry.Sub(savedAt).Seconds()); secs > 0 {
			rec.ExpiresIn = secs
		}
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		rec.Scope = scope
	}
	return rec
}
