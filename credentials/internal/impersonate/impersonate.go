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

// Package impersonate builds a [cloud.google.com/go/auth]-style TokenProvider
// that exchanges a base credential's token for a short-lived access token on
// behalf of another service account, via the IAM Credentials
// generateAccessToken RPC. It is used internally by the external account and
// ADC file handling in the parent credentials package and is not meant to be
// imported directly by applications; see the top-level impersonate package
// for a public API.
package impersonate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/googleapis/google-auth-library-go"
	"github.com/googleapis/google-auth-library-go/internal"
)

var iamCredentialsEndpoint = "https://iamcredentials.googleapis.com"

// Options for [NewTokenProvider].
type Options struct {
	// URL is the endpoint for the IAM generateAccessToken RPC for the target
	// service account, e.g.
	// "https://iamcredentials.googleapis.com/v1/projects/-/serviceAccounts/foo@bar.iam.gserviceaccount.com:generateAccessToken".
	URL string
	// Scopes that the impersonated token should have.
	Scopes []string
	// Tp is the base credential used to authenticate the generateAccessToken
	// request itself. Required.
	Tp auth.TokenProvider
	// Delegates are the service accounts, if any, in a delegation chain
	// leading to the target service account. Optional.
	Delegates []string
	// TokenLifetimeSeconds is the requested lifetime of the impersonated
	// token, in seconds. If zero, IAM defaults to one hour.
	TokenLifetimeSeconds int
	// Client is the underlying HTTP client used to make the request. If nil,
	// a clone of [internal.DefaultClient] is used.
	Client *http.Client
}

func (o *Options) validate() error {
	if o == nil {
		return errors.New("impersonate: options must be provided")
	}
	if o.Tp == nil {
		return errors.New("impersonate: source credentials must be provided")
	}
	if o.URL == "" {
		return errors.New("impersonate: url must be provided")
	}
	return nil
}

// NewTokenProvider returns a [auth.TokenProvider] that authenticates as the
// service account targeted by opts.URL, using opts.Tp to authorize the
// impersonation request itself.
func NewTokenProvider(opts *Options) (auth.TokenProvider, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	client := opts.Client
	if client == nil {
		client = internal.CloneDefaultClient()
	}
	return tokenProvider{
		client:    client,
		tp:        opts.Tp,
		url:       opts.URL,
		scopes:    append([]string(nil), opts.Scopes...),
		delegates: append([]string(nil), opts.Delegates...),
		lifetime:  formatLifetime(opts.TokenLifetimeSeconds),
	}, nil
}

func formatLifetime(seconds int) string {
	if seconds == 0 {
		return ""
	}
	return fmt.Sprintf("%ds", seconds)
}

type generateAccessTokenRequest struct {
	Delegates []string `json:"delegates,omitempty"`
	Lifetime  string   `json:"lifetime,omitempty"`
	Scope     []string `json:"scope,omitempty"`
}

type generateAccessTokenResponse struct {
	AccessToken string `json:"accessToken"`
	ExpireTime  string `json:"expireTime"`
}

// tokenProvider calls the IAM generateAccessToken RPC to mint an
// impersonated token.
type tokenProvider struct {
	client *http.Client

	tp        auth.TokenProvider
	url       string
	scopes    []string
	delegates []string
	lifetime  string
}

func (tp tokenProvider) Token(ctx context.Context) (*auth.Token, error) {
	baseTok, err := tp.tp.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("impersonate: unable to obtain base token: %w", err)
	}

	reqBody := generateAccessTokenRequest{
		Delegates: tp.delegates,
		Lifetime:  tp.lifetime,
		Scope:     tp.scopes,
	}
	b, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("impersonate: unable to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", tp.url, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("impersonate: unable to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	typ := baseTok.Type
	if typ == "" {
		typ = "Bearer"
	}
	req.Header.Set("Authorization", typ+" "+baseTok.Value)

	resp, err := tp.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("impersonate: unable to generate access token: %w", err)
	}
	defer resp.Body.Close()
	body, err := internal.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("impersonate: unable to read body: %w", err)
	}
	if c := resp.StatusCode; c < 200 || c > 299 {
		return nil, fmt.Errorf("impersonate: status code %d: %s", c, body)
	}

	var accessTokenResp generateAccessTokenResponse
	if err := json.Unmarshal(body, &accessTokenResp); err != nil {
		return nil, fmt.Errorf("impersonate: unable to parse response: %w", err)
	}
	expiry, err := time.Parse(time.RFC3339, accessTokenResp.ExpireTime)
	if err != nil {
		return nil, fmt.Errorf("impersonate: unable to parse expiry: %w", err)
	}
	return &auth.Token{
		Value:  accessTokenResp.AccessToken,
		Type:   "Bearer",
		Expiry: expiry,
	}, nil
}
