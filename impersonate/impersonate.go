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

// Package impersonate provides the public entry point for acquiring an
// access token or ID token for a service account other than the caller's
// own, via the IAM Credentials API.
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
	"github.com/googleapis/google-auth-library-go/httptransport"
	"github.com/googleapis/google-auth-library-go/internal"
)

var (
	iamCredentialsEndpoint = "https://iamcredentials.googleapis.com"
	defaultScope           = "https://www.googleapis.com/auth/cloud-platform"
)

const defaultAud = "https://iamcredentials.googleapis.com/"

// CredentialOptions configures [NewCredentialTokenProvider].
type CredentialOptions struct {
	// TargetPrincipal is the email address of the service account to
	// impersonate. Required.
	TargetPrincipal string
	// Scopes the impersonated credential should have. Required.
	Scopes []string
	// Delegates are the service account email addresses in a delegation
	// chain; each must be granted roles/iam.serviceAccountTokenCreator on
	// the next service account in the chain. Optional.
	Delegates []string
	// Lifetime is how long the impersonated token should be valid for. If
	// unset, the token's lifetime is one hour and it is automatically
	// refreshed. If set, the token has a max lifetime of one hour (12 hours
	// for accounts enrolled in the credential lifetime extension org
	// policy) and is not refreshed. Optional.
	Lifetime time.Duration
	// Subject is the sub field of a JWT, for impersonating a user via
	// domain-wide delegation. Not supported: [NewCredentialTokenProvider]
	// returns an error if it is set. Optional.
	Subject string

	// TokenProvider authorizes the impersonation request itself. If unset
	// and Client is also unset, credentials are detected from the
	// environment. Optional.
	TokenProvider auth.TokenProvider
	// Client is used to make the impersonation request directly; if
	// provided it must already be configured to authenticate its own
	// requests. Optional.
	Client *http.Client
}

func (o *CredentialOptions) validate() error {
	if o == nil {
		return errors.New("impersonate: options must be provided")
	}
	if o.TargetPrincipal == "" {
		return errors.New("impersonate: target service account must be provided")
	}
	if len(o.Scopes) == 0 {
		return errors.New("impersonate: scopes must be provided")
	}
	if o.Lifetime.Hours() > 12 {
		return errors.New("impersonate: max lifetime is 12 hours")
	}
	if o.Subject != "" {
		return errors.New("impersonate: subject-based (domain-wide delegation) impersonation is not supported")
	}
	return nil
}

// NewCredentialTokenProvider returns an impersonated [auth.TokenProvider]
// configured per opts, using Application Default Credentials as the base
// credential if opts.Client and opts.TokenProvider are both unset.
func NewCredentialTokenProvider(opts *CredentialOptions) (auth.TokenProvider, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	var isStaticToken bool
	lifetime := time.Hour
	if opts.Lifetime != 0 {
		lifetime = opts.Lifetime
		isStaticToken = true
	}

	client, err := buildImpersonationClient(opts.Client, opts.TokenProvider)
	if err != nil {
		return nil, err
	}

	its := impersonatedTokenProvider{
		client:          client,
		targetPrincipal: opts.TargetPrincipal,
		lifetime:        fmt.Sprintf("%.fs", lifetime.Seconds()),
	}
	for _, v := range opts.Delegates {
		its.delegates = append(its.delegates, formatIAMServiceAccountName(v))
	}
	its.scopes = append([]string(nil), opts.Scopes...)

	var tpo *auth.CachedTokenProviderOptions
	if isStaticToken {
		tpo = &auth.CachedTokenProviderOptions{DisableAutoRefresh: true}
	}
	return auth.NewCachedTokenProvider(its, tpo), nil
}

func formatIAMServiceAccountName(name string) string {
	return fmt.Sprintf("projects/-/serviceAccounts/%s", name)
}

// buildImpersonationClient resolves the HTTP client used to call the IAM
// Credentials API. If client is non-nil it is used as the base, so that
// callers supplying both a custom client (for testing, or custom transport
// behavior) and a tp still get tp's Authorization header layered on top. If
// neither is provided, Application Default Credentials are detected.
func buildImpersonationClient(client *http.Client, tp auth.TokenProvider) (*http.Client, error) {
	switch {
	case client != nil && tp != nil:
		if err := httptransport.AddAuthorizationMiddleware(client, tp); err != nil {
			return nil, err
		}
		return client, nil
	case client != nil:
		return client, nil
	case tp != nil:
		c := internal.CloneDefaultClient()
		if err := httptransport.AddAuthorizationMiddleware(c, tp); err != nil {
			return nil, err
		}
		return c, nil
	default:
		return httptransport.NewClient(&httptransport.Options{
			InternalOptions: &httptransport.InternalOptions{
				DefaultAudience: defaultAud,
				DefaultScopes:   []string{defaultScope},
			},
		})
	}
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

type impersonatedTokenProvider struct {
	client *http.Client

	targetPrincipal string
	lifetime        string
	scopes          []string
	delegates       []string
}

// Token returns an impersonated access token.
func (i impersonatedTokenProvider) Token(ctx context.Context) (*auth.Token, error) {
	reqBody := generateAccessTokenRequest{
		Delegates: i.delegates,
		Lifetime:  i.lifetime,
		Scope:     i.scopes,
	}
	b, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("impersonate: unable to marshal request: %w", err)
	}
	url := fmt.Sprintf("%s/v1/%s:generateAccessToken", iamCredentialsEndpoint, formatIAMServiceAccountName(i.targetPrincipal))
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("impersonate: unable to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := i.client.Do(req)
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
