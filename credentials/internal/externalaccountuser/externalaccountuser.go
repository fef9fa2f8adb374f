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

// Package externalaccountuser refreshes a workforce pool's
// external_account_authorized_user credential: a long-lived OAuth2 refresh
// token issued by the Security Token Service that is exchanged for a
// short-lived Google access token.
package externalaccountuser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/googleapis/google-auth-library-go"
	"github.com/googleapis/google-auth-library-go/internal"
)

// Options for [NewTokenProvider].
type Options struct {
	// Audience is the Secure Token Service (STS) audience, containing the
	// resource name for the workforce pool and the provider identifier in
	// that pool.
	Audience string
	// RefreshToken is the OAuth2.0 refresh token.
	RefreshToken string
	// TokenURL is the STS token exchange endpoint used to refresh the token.
	TokenURL string
	// TokenInfoURL is the STS endpoint URL for token introspection.
	// Optional.
	TokenInfoURL string
	// ClientID is only required in conjunction with ClientSecret, as
	// described below.
	ClientID string
	// ClientSecret is required: STS is called with basic authentication
	// using ClientID as username and ClientSecret as password.
	ClientSecret string
	// Scopes contains the desired scopes for the returned access token.
	Scopes []string
	// Client is the HTTP client used for the refresh request.
	Client *http.Client
}

func (o *Options) validate() bool {
	return o.ClientID != "" && o.ClientSecret != "" && o.RefreshToken != "" && o.TokenURL != ""
}

// NewTokenProvider returns a [auth.TokenProvider] that refreshes opts'
// configured refresh token against the STS token endpoint.
func NewTokenProvider(opts *Options) (auth.TokenProvider, error) {
	if !opts.validate() {
		return nil, errors.New("externalaccountuser: invalid external_account_authorized_user configuration")
	}
	tp := &tokenProvider{
		o:            opts,
		refreshToken: opts.RefreshToken,
	}
	return auth.NewCachedTokenProvider(tp, nil), nil
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// tokenProvider refreshes a workforce pool authorized-user credential. It is
// not safe for concurrent use on its own; [auth.NewCachedTokenProvider]
// serializes all calls to Token.
type tokenProvider struct {
	o            *Options
	refreshToken string
}

func (tp *tokenProvider) Token(ctx context.Context) (*auth.Token, error) {
	opts := tp.o

	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", tp.refreshToken)

	req, err := http.NewRequestWithContext(ctx, "POST", opts.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("externalaccountuser: failed to properly build http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	plainHeader := opts.ClientID + ":" + opts.ClientSecret
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(plainHeader)))

	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("externalaccountuser: invalid response from Secure Token Server: %w", err)
	}
	defer resp.Body.Close()

	body, err := internal.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if c := resp.StatusCode; c < http.StatusOK || c >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("externalaccountuser: status code %d: %s", c, body)
	}
	var refreshResp refreshResponse
	if err := json.Unmarshal(body, &refreshResp); err != nil {
		return nil, fmt.Errorf("externalaccountuser: failed to unmarshal response body from Secure Token Server: %w", err)
	}
	if refreshResp.ExpiresIn < 0 {
		return nil, errors.New("externalaccountuser: invalid expiry from security token service")
	}
	if refreshResp.RefreshToken != "" {
		tp.refreshToken = refreshResp.RefreshToken
	}

	typ := refreshResp.TokenType
	if typ == "" {
		typ = "Bearer"
	}
	return &auth.Token{
		Value:  refreshResp.AccessToken,
		Type:   typ,
		Expiry: time.Now().UTC().Add(time.Duration(refreshResp.ExpiresIn) * time.Second),
	}, nil
}
