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

// Package idtoken mints OIDC ID tokens — rather than OAuth2 access tokens —
// for a given audience, from the same family of credential sources as
// [github.com/googleapis/google-auth-library-go/credentials]. Service
// account keys sign the ID token themselves; impersonated service account
// and external account configurations instead call the IAM Credentials
// generateIdToken RPC on behalf of a detected base credential.
package idtoken

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/googleapis/google-auth-library-go"
	"github.com/googleapis/google-auth-library-go/credentials"
	"github.com/googleapis/google-auth-library-go/impersonate"
	"github.com/googleapis/google-auth-library-go/internal"
	"github.com/googleapis/google-auth-library-go/internal/credsfile"
)

const (
	jwtTokenURL = "https://oauth2.googleapis.com/token"
	adcEnvVar   = "GOOGLE_APPLICATION_CREDENTIALS"
)

var defaultScopes = []string{
	"https://iamcredentials.googleapis.com/",
	"https://www.googleapis.com/auth/cloud-platform",
}

var (
	errMissingOpts     = errors.New("idtoken: opts must be provided")
	errMissingAudience = errors.New("idtoken: audience must be provided")
	errBothFileAndJSON = errors.New("idtoken: CredentialsFile and CredentialsJSON must not both be provided")
)

// Options configures [NewCredentials] and [NewTokenProvider].
type Options struct {
	// Audience is the `aud` claim the minted ID token should carry. Required.
	Audience string
	// CredentialsFile is the path to a credentials file to load, in place
	// of Application Default Credentials. Optional.
	CredentialsFile string
	// CredentialsJSON is used in place of CredentialsFile when the
	// credential content is already in memory. Mutually exclusive with
	// CredentialsFile.
	CredentialsJSON []byte
	// CustomClaims allows specifying any custom claims for a self-signed
	// service account JWT. Optional.
	CustomClaims map[string]interface{}
	// Client is the HTTP client used for token and impersonation requests.
	// Optional.
	Client *http.Client
}

func (o *Options) validate() error {
	if o == nil {
		return errMissingOpts
	}
	if o.Audience == "" {
		return errMissingAudience
	}
	if o.CredentialsFile != "" && len(o.CredentialsJSON) > 0 {
		return errBothFileAndJSON
	}
	return nil
}

func (o *Options) client() *http.Client {
	if o.Client != nil {
		return o.Client
	}
	return internal.DefaultClient()
}

// NewCredentials returns Google [auth.Credentials] that mint OIDC ID tokens
// asserting opts.Audience, sourced from opts.CredentialsJSON or
// opts.CredentialsFile if set, or Application Default Credentials
// otherwise.
func NewCredentials(opts *Options) (*auth.Credentials, error) {
	tp, b, err := newTokenProvider(opts)
	if err != nil {
		return nil, err
	}
	return auth.NewCredentials(&auth.CredentialsOptions{
		TokenProvider: tp,
		JSON:          b,
	}), nil
}

// NewTokenProvider is a lower-level entry point returning just the
// [auth.TokenProvider] backing [NewCredentials].
func NewTokenProvider(opts *Options) (auth.TokenProvider, error) {
	tp, _, err := newTokenProvider(opts)
	return tp, err
}

func newTokenProvider(opts *Options) (auth.TokenProvider, []byte, error) {
	if err := opts.validate(); err != nil {
		return nil, nil, err
	}
	b, err := credentialsBytes(opts)
	if err != nil {
		return nil, nil, err
	}
	tp, err := tokenProviderFromBytes(b, opts)
	if err != nil {
		return nil, nil, err
	}
	return tp, b, nil
}

func credentialsBytes(opts *Options) ([]byte, error) {
	if len(opts.CredentialsJSON) > 0 {
		return opts.CredentialsJSON, nil
	}
	if opts.CredentialsFile != "" {
		return os.ReadFile(opts.CredentialsFile)
	}
	if fn := os.Getenv(adcEnvVar); fn != "" {
		return os.ReadFile(fn)
	}
	return nil, fmt.Errorf("idtoken: unable to find Application Default Credentials; set CredentialsFile, CredentialsJSON, or %s", adcEnvVar)
}

func tokenProviderFromBytes(b []byte, opts *Options) (auth.TokenProvider, error) {
	t, err := credsfile.ParseFileType(b)
	if err != nil {
		return nil, err
	}
	switch t {
	case credsfile.ServiceAccountKey:
		f, err := credsfile.ParseServiceAccount(b)
		if err != nil {
			return nil, err
		}
		opts2LO := &auth.Options2LO{
			Email:        f.ClientEmail,
			PrivateKey:   []byte(f.PrivateKey),
			PrivateKeyID: f.PrivateKeyID,
			TokenURL:     f.TokenURL,
			UseIDToken:   true,
			Client:       opts.client(),
		}
		if opts2LO.TokenURL == "" {
			opts2LO.TokenURL = jwtTokenURL
		}
		customClaims := opts.CustomClaims
		if customClaims == nil {
			customClaims = make(map[string]interface{})
		}
		customClaims["target_audience"] = opts.Audience
		opts2LO.PrivateClaims = customClaims

		tp, err := auth.New2LOTokenProvider(opts2LO)
		if err != nil {
			return nil, err
		}
		return auth.NewCachedTokenProvider(tp, nil), nil
	case credsfile.ImpersonatedServiceAccountKey, credsfile.ExternalAccountKey:
		var accountURL struct {
			ServiceAccountImpersonationURL string `json:"service_account_impersonation_url"`
		}
		if err := json.Unmarshal(b, &accountURL); err != nil {
			return nil, err
		}
		account := filepath.Base(accountURL.ServiceAccountImpersonationURL)
		account = strings.Split(account, ":")[0]
		if account == "" || account == "." {
			return nil, fmt.Errorf("idtoken: unable to determine impersonation target from credentials")
		}

		baseCreds, err := credentials.DetectDefault(&credentials.DetectOptions{
			Scopes:           defaultScopes,
			CredentialsJSON:  b,
			Client:           opts.client(),
			UseSelfSignedJWT: true,
		})
		if err != nil {
			return nil, err
		}

		return impersonate.NewIDTokenProvider(&impersonate.IDTokenOptions{
			Audience:        opts.Audience,
			TargetPrincipal: account,
			IncludeEmail:    true,
			Client:          opts.Client,
			TokenProvider:   baseCreds,
		})
	default:
		return nil, fmt.Errorf("idtoken: unsupported credentials type: %v", credsfile.ParseCredentialTypeString(t))
	}
}
