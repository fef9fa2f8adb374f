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

// Package googleauth is the single user-facing entry point for this
// module: construct an [Auth] once per application and use it to fetch
// access tokens, authorize an [*http.Client] or [*http.Request], sign
// arbitrary bytes, and resolve the effective project id and universe
// domain, without the caller needing to know which of the credential
// variants in [github.com/googleapis/google-auth-library-go/credentials]
// was actually selected.
package googleauth

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/googleapis/google-auth-library-go"
	"github.com/googleapis/google-auth-library-go/credentials"
	"github.com/googleapis/google-auth-library-go/httptransport"
	"github.com/googleapis/google-auth-library-go/internal"
)

// Kind classifies an error returned by this package, mirroring the error
// taxonomy a caller may need to branch on.
type Kind int

const (
	// KindUnknown is the zero value; never returned by this package.
	KindUnknown Kind = iota
	// KindConfigConflict means mutually exclusive options were both set.
	KindConfigConflict
	// KindADCNotFound means no ADC discovery strategy produced credentials.
	KindADCNotFound
	// KindProjectIDUndetectable means every project id source was exhausted.
	KindProjectIDUndetectable
	// KindIDTokenUnsupported means the resolved credential variant cannot
	// mint ID tokens.
	KindIDTokenUnsupported
	// KindSignUnsupported means the resolved credential variant can
	// neither sign locally nor reach an impersonation target to sign
	// remotely.
	KindSignUnsupported
	// KindUniverseMismatch means a credential pinned to one universe
	// domain was used against a client or request assuming another.
	KindUniverseMismatch
)

// Error reports a failure specific to Facade-level operations, as opposed
// to a bare wire/transport error (which is returned unwrapped).
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return "googleauth: " + e.Msg }

func newErr(k Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

// ClientOptions configures details normally threaded through to the
// eventual credential client, mirroring the "clientOptions" bag of
// spec.md's Facade.
type ClientOptions struct {
	// APIKey, if set here instead of on [Options], still configures an
	// API-key credential. Options.APIKey takes precedence when both are
	// set.
	APIKey string
	// Subject impersonates a user via domain-wide delegation. Only
	// honored by service-account credentials; see
	// [github.com/googleapis/google-auth-library-go/credentials.DetectOptions.Subject].
	Subject string
	// UniverseDomain overrides the universe domain otherwise derived from
	// the credential. Options.UniverseDomain, if set, takes precedence
	// over this field.
	UniverseDomain string
	// EagerRefreshThresholdMillis configures how long before expiry a
	// cached token is proactively refreshed. Zero uses the refresh
	// engine's own default.
	EagerRefreshThresholdMillis int64
	// ForceRefreshOnFailure makes the resolved credential return its last
	// cached token, even if stale, when a refresh attempt fails.
	ForceRefreshOnFailure bool
}

// Options configures [New].
type Options struct {
	// CredentialsJSON supplies credential content directly, bypassing ADC
	// discovery. Mutually exclusive with CredentialsFile.
	CredentialsJSON []byte
	// CredentialsFile is a path to a credentials file, bypassing ADC
	// discovery. Mutually exclusive with CredentialsJSON.
	CredentialsFile string
	// Scopes requested for the resulting token.
	Scopes []string
	// ProjectID, if set, is returned directly by GetProjectID with no
	// further lookup and no network I/O.
	ProjectID string
	// ClientOptions carries secondary configuration normally passed
	// through to the eventual credential client.
	ClientOptions *ClientOptions
	// APIKey configures an ApiKey credential directly. Mutually exclusive
	// with CredentialsJSON/CredentialsFile: setting both is a
	// configuration error.
	APIKey string
	// AuthClient, if set, is returned as-is by GetClient, which then
	// performs no ADC discovery. The other methods (GetAccessToken,
	// GetRequestHeaders, GetProjectID, Sign and so on) do not use it and
	// still resolve credentials through ADC.
	AuthClient *http.Client
	// UniverseDomain, if set, takes precedence over
	// ClientOptions.UniverseDomain and over any value derived from the
	// credential.
	UniverseDomain string
	// HTTPClient is the client used to make any network request this
	// package issues itself (token refresh, impersonation, signing,
	// project id lookups). Optional.
	HTTPClient *http.Client
}

func (o *Options) clientOptions() *ClientOptions {
	if o.ClientOptions != nil {
		return o.ClientOptions
	}
	return &ClientOptions{}
}

func (o *Options) apiKey() string {
	if o.APIKey != "" {
		return o.APIKey
	}
	return o.clientOptions().APIKey
}

func (o *Options) universeDomainOverride() string {
	if o.UniverseDomain != "" {
		return o.UniverseDomain
	}
	return o.clientOptions().UniverseDomain
}

func (o *Options) validate() error {
	if o == nil {
		return newErr(KindConfigConflict, "options must be provided")
	}
	if o.apiKey() != "" && (len(o.CredentialsJSON) > 0 || o.CredentialsFile != "") {
		return newErr(KindConfigConflict, "APIKey and CredentialsJSON/CredentialsFile must not both be set")
	}
	if len(o.CredentialsJSON) > 0 && o.CredentialsFile != "" {
		return newErr(KindConfigConflict, "CredentialsJSON and CredentialsFile must not both be set")
	}
	return nil
}

// Auth is the process-lifetime Facade described by spec.md §4.1: it owns
// at most one resolved credential, lazily created and cached, plus a
// permanently-cached project id once one is found. Safe for concurrent
// use; GetClient and GetProjectID each resolve at most once even under
// concurrent first calls.
type Auth struct {
	opts *Options

	clientOnce sync.Once
	client     *http.Client
	clientErr  error

	credsOnce sync.Once
	creds     *auth.Credentials
	credsErr  error

	projectOnce sync.Once
	projectID   string
	projectErr  error
}

// New validates opts and returns an [Auth] bound to it. No network I/O or
// ADC discovery happens until the first call to one of Auth's methods.
func New(opts *Options) (*Auth, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Auth{opts: opts}, nil
}

func (a *Auth) httpClient() *http.Client {
	if a.opts.HTTPClient != nil {
		return a.opts.HTTPClient
	}
	return internal.DefaultClient()
}

// resolveCredentials resolves the underlying [auth.Credentials] exactly
// once, regardless of how many goroutines call it concurrently
// (invariant 2). An APIKey option short-circuits ADC discovery entirely;
// AuthClient is not consulted here.
func (a *Auth) resolveCredentials(ctx context.Context) (*auth.Credentials, error) {
	a.credsOnce.Do(func() {
		if key := a.opts.apiKey(); key != "" {
			a.creds = credentials.NewAPIKeyCredentials(key)
			return
		}
		co := a.opts.clientOptions()
		do := &credentials.DetectOptions{
			Scopes:                a.opts.Scopes,
			Subject:               co.Subject,
			CredentialsFile:       a.opts.CredentialsFile,
			CredentialsJSON:       a.opts.CredentialsJSON,
			Client:                a.httpClient(),
			ForceRefreshOnFailure: co.ForceRefreshOnFailure,
		}
		if ms := co.EagerRefreshThresholdMillis; ms > 0 {
			do.EarlyTokenRefresh = time.Duration(ms) * time.Millisecond
		}
		creds, err := credentials.DetectDefault(do)
		if err != nil {
			a.credsErr = newErr(KindADCNotFound, "%v", err)
			return
		}
		a.creds = creds
	})
	return a.creds, a.credsErr
}

// GetClient returns the cached, fully-authorized [*http.Client],
// resolving and constructing it on first call. Concurrent callers
// observe the same client and trigger at most one resolution.
func (a *Auth) GetClient(ctx context.Context) (*http.Client, error) {
	a.clientOnce.Do(func() {
		if a.opts.AuthClient != nil {
			a.client = a.opts.AuthClient
			return
		}
		creds, err := a.resolveCredentials(ctx)
		if err != nil {
			a.clientErr = err
			return
		}
		client, err := httptransport.NewClient(&httptransport.Options{Credentials: creds})
		if err != nil {
			a.clientErr = err
			return
		}
		a.client = client
	})
	return a.client, a.clientErr
}

// GetAccessToken returns the current access (or API key) token value,
// refreshing it if necessary.
func (a *Auth) GetAccessToken(ctx context.Context) (string, error) {
	creds, err := a.resolveCredentials(ctx)
	if err != nil {
		return "", err
	}
	tok, err := creds.Token(ctx)
	if err != nil {
		return "", err
	}
	return tok.Value, nil
}

// GetRequestHeaders returns the headers this credential would attach to
// a request, including the quota-project and API-key headers per
// spec.md §4.1/§4.3's precedence rules. url is currently unused (no
// per-host header is produced by any variant in this module) but is
// accepted to mirror the Facade contract.
func (a *Auth) GetRequestHeaders(ctx context.Context, url string) (http.Header, error) {
	creds, err := a.resolveCredentials(ctx)
	if err != nil {
		return nil, err
	}
	h := make(http.Header)
	if key, ok := apiKeyOf(creds); ok {
		h.Set("X-Goog-Api-Key", key)
	} else {
		tok, err := creds.Token(ctx)
		if err != nil {
			return nil, err
		}
		typ := tok.Type
		if typ == "" {
			typ = "Bearer"
		}
		h.Set("Authorization", typ+" "+tok.Value)
	}
	qp, err := creds.QuotaProjectID(ctx)
	if override := os.Getenv(internal.QuotaProjectEnvVar); override != "" {
		qp, err = override, nil
	}
	if err == nil && qp != "" {
		h.Set("x-goog-user-project", qp)
	}
	return h, nil
}

// AuthorizeRequest merges this credential's headers into req, overwriting
// only the auth-related header names (Authorization, X-Goog-Api-Key,
// x-goog-user-project) on collision; every other header on req is left
// untouched.
func (a *Auth) AuthorizeRequest(ctx context.Context, req *http.Request) error {
	h, err := a.GetRequestHeaders(ctx, req.URL.String())
	if err != nil {
		return err
	}
	for k, v := range h {
		req.Header[k] = v
	}
	return nil
}

// Do authorizes req via AuthorizeRequest and sends it using the HTTP
// capability configured on a.
func (a *Auth) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := a.AuthorizeRequest(ctx, req); err != nil {
		return nil, err
	}
	return a.httpClient().Do(req.WithContext(ctx))
}

func apiKeyOf(tp auth.TokenProvider) (string, bool) {
	type apiKeyer interface{ APIKey() string }
	if creds, ok := tp.(*auth.Credentials); ok {
		if ak, ok := creds.TokenProvider.(apiKeyer); ok {
			return ak.APIKey(), true
		}
		return "", false
	}
	ak, ok := tp.(apiKeyer)
	if !ok {
		return "", false
	}
	return ak.APIKey(), true
}

