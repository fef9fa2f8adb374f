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

// Package httptransport builds an *http.Client whose RoundTripper
// authenticates every outgoing request using a [cloud.google.com/go/auth]-style
// credential, attaching the bearer token, quota project header, and
// universe domain mismatch detection used throughout this module.
package httptransport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/googleapis/google-auth-library-go"
	"github.com/googleapis/google-auth-library-go/credentials"
	"github.com/googleapis/google-auth-library-go/internal"
)

const quotaProjectHeaderKey = "X-Goog-User-Project"

// InternalOptions are options used internally by generated clients to
// configure default behaviors that aren't meant to be directly exposed to
// end users. Not for direct use.
type InternalOptions struct {
	// DefaultAudience is the default audience to use for self-signed JWTs
	// if no audience is provided.
	DefaultAudience string
	// DefaultScopes are the default scopes to use for a detected
	// credential, if no scopes are explicitly provided.
	DefaultScopes []string
	// DefaultEndpointTemplate is used as the base URL for requests when no
	// other endpoint is provided by the caller, mostly useful in tests.
	DefaultEndpointTemplate string
	// EnableJWTWithScope forces the use of a self-signed JWT with scopes
	// rather than an audience, for service account credentials.
	EnableJWTWithScope bool
	// SkipValidation skips validation on Options. It should only be used
	// when Options is known to be valid, for instance when it was already
	// validated by a different codepath.
	SkipValidation bool
}

// Options used to configure a [net/http.Client] from [NewClient].
type Options struct {
	// Credentials used to add an Authorization header to every outgoing
	// request. If set, DetectOpts is ignored. Optional.
	Credentials *auth.Credentials
	// DetectOpts configures credential detection via
	// [credentials.DetectDefault]. Used only if Credentials is unset.
	// Optional.
	DetectOpts *credentials.DetectOptions
	// APIKey configures the client to send requests with the "key" query
	// parameter set to this value. Mutually exclusive with Credentials and
	// DetectOpts in most real usage, but not enforced here. Optional.
	APIKey string
	// Headers to be added to every outgoing request. Optional.
	Headers http.Header
	// BaseRoundTripper to wrap. If unset, http.DefaultTransport is used (or
	// a clone of it, if it supports cloning). Optional.
	BaseRoundTripper http.RoundTripper
	// DisableAuthentication disables authentication bootstrapping
	// altogether. If set, Credentials and DetectOpts must be unset.
	// Optional.
	DisableAuthentication bool
	// InternalOptions are used internally by generated clients. Optional.
	InternalOptions *InternalOptions
}

func (o *Options) validate() error {
	if o == nil {
		return errors.New("httptransport: opts must be provided")
	}
	if o.InternalOptions != nil && o.InternalOptions.SkipValidation {
		return nil
	}
	if o.DisableAuthentication && (o.Credentials != nil || (o.DetectOpts != nil && (o.DetectOpts.CredentialsFile != "" || len(o.DetectOpts.CredentialsJSON) > 0))) {
		return errors.New("httptransport: DisableAuthentication is incompatible with Credentials/DetectOpts")
	}
	return nil
}

// resolveDetectOptions applies the InternalOptions default scope/audience
// fallbacks, and the self-signed-JWT heuristic (use a self-signed JWT when
// only an audience, not scopes, is available) to o.DetectOpts.
func (o *Options) resolveDetectOptions() *credentials.DetectOptions {
	io := o.InternalOptions
	var do credentials.DetectOptions
	if o.DetectOpts != nil {
		do = *o.DetectOpts
	}
	if io != nil {
		if len(do.Scopes) == 0 && do.Audience == "" {
			if len(io.DefaultScopes) > 0 {
				do.Scopes = io.DefaultScopes
			} else if io.DefaultAudience != "" {
				do.Audience = io.DefaultAudience
			}
		}
		if io.EnableJWTWithScope {
			do.UseSelfSignedJWT = true
		}
	}
	if do.Audience != "" && len(do.Scopes) == 0 {
		do.UseSelfSignedJWT = true
	}
	return &do
}

// NewClient returns an [net/http.Client] that authenticates requests per
// opts, applying opts.Headers, opts.APIKey, and opts.BaseRoundTripper as
// configured.
func NewClient(opts *Options) (*http.Client, error) {
	if opts == nil {
		opts = &Options{}
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	trans := opts.BaseRoundTripper
	if trans == nil {
		trans = internal.DefaultClient().Transport
	}
	trans = &headerTransport{base: trans, headers: opts.Headers}
	if opts.APIKey != "" {
		trans = &apiKeyTransport{base: trans, key: opts.APIKey}
	}

	client := &http.Client{Transport: trans}

	if opts.DisableAuthentication {
		return client, nil
	}

	creds := opts.Credentials
	if creds == nil {
		var err error
		creds, err = credentials.DetectDefault(opts.resolveDetectOptions())
		if err != nil {
			return nil, err
		}
	}
	if err := AddAuthorizationMiddleware(client, creds); err != nil {
		return nil, err
	}
	return client, nil
}

// AddAuthorizationMiddleware wraps client's Transport so that every request
// made with it has an Authorization header, and the associated quota
// project header, set using the token and metadata produced by tp.
func AddAuthorizationMiddleware(client *http.Client, tp auth.TokenProvider) error {
	if client == nil || tp == nil {
		return errors.New("httptransport: client and tp must not be nil")
	}
	base := client.Transport
	if base == nil {
		base = internal.DefaultClient().Transport
	}
	at := &authTransport{base: base, tp: tp}
	if creds, ok := tp.(*auth.Credentials); ok {
		at.creds = creds
		at.clientUniverseDomain = internal.StaticCredentialsProperty("")
	}
	client.Transport = at
	return nil
}

type headerTransport struct {
	base    http.RoundTripper
	headers http.Header
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req2 := req.Clone(req.Context())
	for k, v := range t.headers {
		req2.Header[k] = v
	}
	return t.base.RoundTrip(req2)
}

type apiKeyTransport struct {
	base http.RoundTripper
	key  string
}

func (t *apiKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req2 := req.Clone(req.Context())
	q := req2.URL.Query()
	q.Set("key", t.key)
	req2.URL.RawQuery = q.Encode()
	return t.base.RoundTrip(req2)
}

// authTransport attaches an Authorization header and quota project header
// derived from a TokenProvider (typically [auth.Credentials]) to every
// outgoing request, and errors out if the client- and credential-configured
// universe domains disagree.
type authTransport struct {
	base                 http.RoundTripper
	tp                   auth.TokenProvider
	creds                *auth.Credentials
	clientUniverseDomain auth.CredentialsPropertyProvider
}

func (t *authTransport) getClientUniverseDomain(ctx context.Context) (string, error) {
	if ud := os.Getenv(internal.UniverseDomainEnvVar); ud != "" {
		return ud, nil
	}
	if t.clientUniverseDomain != nil {
		ud, err := t.clientUniverseDomain.GetProperty(ctx)
		if err != nil {
			return "", err
		}
		if ud != "" {
			return ud, nil
		}
	}
	return internal.DefaultUniverseDomain, nil
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	tok, err := t.tp.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("httptransport: failed to get token: %w", err)
	}
	if !tok.IsValid() {
		return nil, errors.New("httptransport: static token is no longer valid")
	}

	if t.creds != nil {
		credsUD, err := t.creds.UniverseDomain(ctx)
		if err != nil {
			return nil, err
		}
		clientUD, err := t.getClientUniverseDomain(ctx)
		if err != nil {
			return nil, err
		}
		if credsUD != clientUD {
			return nil, fmt.Errorf("httptransport: mismatched universe domains: credentials %q, client %q", credsUD, clientUD)
		}
		if qp, err := t.creds.QuotaProjectID(ctx); err == nil && qp != "" {
			req = req.Clone(ctx)
			req.Header.Set(quotaProjectHeaderKey, qp)
		}
	}
	if override := os.Getenv(internal.QuotaProjectEnvVar); override != "" {
		req = req.Clone(ctx)
		req.Header.Set(quotaProjectHeaderKey, override)
	}

	typ := tok.Type
	if typ == "" {
		typ = "Bearer"
	}
	req = req.Clone(ctx)
	req.Header.Set("Authorization", typ+" "+tok.Value)

	base := t.base
	if base == nil {
		base = internal.DefaultClient().Transport
	}
	return base.RoundTrip(req)
}
