// Copyright 2023 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/googleapis/google-auth-library-go/internal"
)

// AuthorizationHandlerOptions configures an authorization handler for 3LO
// (three-legged OAuth) flows. Interactive consent is out of scope for this
// library; this type exists only so that client-credentials JSON files can
// be parsed and rejected with a clear error rather than silently mishandled.
type AuthorizationHandlerOptions struct {
	// Handler is the function that will be called to obtain an
	// authorization code. Not implemented.
	Handler func(authCodeURL string) (code string, state string, err error)
	// State is the anti-CSRF token sent with the authorization request.
	State string
	// PKCEOpts holds PKCE challenge/verifier settings.
	PKCEOpts *PKCEOptions
}

// PKCEOptions holds parameters to support PKCE.
type PKCEOptions struct {
	Challenge       string
	ChallengeMethod string
	Verifier        string
}

// Options3LO configures the three-legged OAuth client-credential flow and,
// more commonly in this library, the simpler refresh-token grant used by
// authorized-user ("UserRefresh") credentials.
type Options3LO struct {
	// ClientID is the application's ID.
	ClientID string
	// ClientSecret is the application's secret.
	ClientSecret string
	// RedirectURL is the URL to redirect users to after authorization.
	// Only used for the interactive flow, which this library does not
	// implement. Optional.
	RedirectURL string
	// Scopes specifies requested permissions for the token. Optional.
	Scopes []string
	// AuthURL is the URL for the authorization server's authorization
	// endpoint. Only used for the interactive flow. Optional.
	AuthURL string
	// TokenURL is the URL for the authorization server's token endpoint.
	TokenURL string
	// AuthStyle specifies how the endpoint wants the client ID and secret
	// sent.
	AuthStyle Style
	// EarlyTokenExpiry configures the eager-refresh window attached to the
	// resulting token provider's cache.
	EarlyTokenExpiry time.Duration
	// RefreshToken, if set, causes [Options3LO.TokenProvider] to build a
	// TokenProvider that performs the refresh_token grant rather than the
	// interactive authorization-code grant.
	RefreshToken string
	// Client configures the underlying client used to make network
	// requests when fetching tokens. Optional.
	Client *http.Client
	// AuthHandlerOpts configures the interactive authorization flow. Not
	// implemented; present only to mirror the shape of client-credential
	// JSON files encountered during ADC file dispatch.
	AuthHandlerOpts *AuthorizationHandlerOptions
}

func (o *Options3LO) client() *http.Client {
	if o.Client != nil {
		return o.Client
	}
	return internal.DefaultClient()
}

// New3LOTokenProvider returns a [TokenProvider] based on the fields set on
// [Options3LO]. Only the refresh-token grant is implemented; interactive
// authorization-code exchange is a non-goal of this library.
func New3LOTokenProvider(o *Options3LO) (TokenProvider, error) {
	if o == nil {
		return nil, fmt.Errorf("auth: Options3LO must be provided")
	}
	if o.RefreshToken == "" {
		return nil, fmt.Errorf("auth: interactive authorization-code exchange is not supported; a refresh_token must be provided")
	}
	return tokenProvider3LO{o: o, client: o.client()}, nil
}

type tokenProvider3LO struct {
	o      *Options3LO
	client *http.Client
}

func (tp tokenProvider3LO) Token(ctx context.Context) (*Token, error) {
	return tp.tokenWithParams(ctx, nil)
}

// TokenWithTargetAudience requests an ID token instead of an access token by
// adding the target_audience form parameter. Nothing in this module calls
// it; googleauth's GetIDTokenClient rejects authorized-user credentials.
func (tp tokenProvider3LO) TokenWithTargetAudience(ctx context.Context, audience string) (*Token, error) {
	return tp.tokenWithParams(ctx, url.Values{"target_audience": {audience}})
}

func (tp tokenProvider3LO) tokenWithParams(ctx context.Context, extra url.Values) (*Token, error) {
	v := url.Values{}
	v.Set("client_id", tp.o.ClientID)
	v.Set("client_secret", tp.o.ClientSecret)
	v.Set("grant_type", "refresh_token")
	v.Set("refresh_token", tp.o.RefreshToken)
	for k, vals := range extra {
		v[k] = vals
	}

	req, err := http.NewRequestWithContext(ctx, "POST", tp.o.TokenURL, strings.NewReader(v.Encode()))
	if err != nil {
		return nil, fmt.Errorf("auth: cannot fetch token: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if tp.o.AuthStyle == StyleInHeader {
		req.SetBasicAuth(tp.o.ClientID, tp.o.ClientSecret)
	}

	resp, err := tp.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: cannot fetch token: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("auth: cannot fetch token: %w", err)
	}
	if c := resp.StatusCode; c < 200 || c > 299 {
		return nil, &Error{Response: resp, Body: body}
	}

	var tokenRes struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		IDToken     string `json:"id_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tokenRes); err != nil {
		return nil, fmt.Errorf("auth: cannot fetch token: %w", err)
	}

	token := &Token{
		Value: tokenRes.AccessToken,
		Type:  tokenRes.TokenType,
	}
	if token.Type == "" {
		token.Type = "Bearer"
	}
	if len(extra["target_audience"]) > 0 {
		if tokenRes.IDToken == "" {
			return nil, fmt.Errorf("auth: response doesn't have an id_token")
		}
		token.Value = tokenRes.IDToken
	}
	token.Metadata = make(map[string]interface{})
	json.Unmarshal(body, &token.Metadata)
	if secs := tokenRes.ExpiresIn; secs > 0 {
		token.Expiry = time.Now().Add(time.Duration(secs) * time.Second)
	}
	return token, nil
}
