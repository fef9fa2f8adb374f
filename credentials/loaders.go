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

package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/googleapis/google-auth-library-go"
	"github.com/googleapis/google-auth-library-go/internal"
)

const (
	googleAuthURL  = "https://accounts.google.com/o/oauth2/auth"
	jwtTokenURL    = "https://oauth2.googleapis.com/token"
	adcEnvVar      = "GOOGLE_APPLICATION_CREDENTIALS"
	gcloudCredsEnv = "CLOUDSDK_CONFIG"
)

// TokenBindingType describes how, if at all, a compute-metadata-sourced
// access token should be bound to the channel it was requested over.
type TokenBindingType int

const (
	// NoBinding requests an ordinary, unbound access token.
	NoBinding TokenBindingType = iota
	// MTLSHardBinding requests a token hard-bound to the calling mTLS
	// channel; the token is rejected if replayed over a different channel.
	MTLSHardBinding
	// ALTSHardBinding requests a token hard-bound to the calling ALTS
	// channel.
	ALTSHardBinding
)

// DetectOptions configures how [DetectDefault] should detect and construct
// Application Default Credentials.
type DetectOptions struct {
	// Scopes that the resulting token should grant access to. Optional, but
	// typically required for service account and user credential flows.
	Scopes []string
	// Audience to request for a self-signed JWT or ID token, as an
	// alternative to Scopes. Optional.
	Audience string
	// Subject is the email address of a user to impersonate, used for
	// domain-wide delegation. Optional.
	Subject string
	// EarlyTokenRefresh configures how long before a cached token's real
	// expiry it should be proactively refreshed. Optional.
	EarlyTokenRefresh time.Duration
	// ForceRefreshOnFailure makes the resulting credential return its last
	// cached token, even if stale, when a refresh attempt fails, rather
	// than propagating the error. Optional.
	ForceRefreshOnFailure bool
	// CredentialsFile is the fully qualified path to a credentials file.
	// If set, DetectDefault reads and parses this file directly, skipping
	// the rest of the ADC search order. Optional.
	CredentialsFile string
	// CredentialsJSON is used in the same way as CredentialsFile, but
	// configures the credential content directly rather than a path to it.
	// Takes precedence over CredentialsFile. Optional.
	CredentialsJSON []byte
	// UseSelfSignedJWT forces service account credentials to mint a
	// self-signed JWT access token locally rather than exchanging it with
	// the token endpoint, provided no Subject is set. Optional.
	UseSelfSignedJWT bool
	// Client configures the underlying client used to make network
	// requests when fetching tokens and probing the metadata server.
	// Optional.
	Client *http.Client
	// STSAudience is not read by any credential type this package
	// resolves; GDCH service account files are not supported. Optional.
	STSAudience string
	// TokenBindingType configures channel binding for tokens minted from
	// the GCE metadata server. Optional.
	TokenBindingType TokenBindingType
}

func (o *DetectOptions) scopes() []string {
	if o == nil {
		return nil
	}
	s := make([]string, len(o.Scopes))
	copy(s, o.Scopes)
	return s
}

func (o *DetectOptions) tokenURL() string {
	return jwtTokenURL
}

func (o *DetectOptions) client() *http.Client {
	if o.Client != nil {
		return o.Client
	}
	return internal.DefaultClient()
}

func (o *DetectOptions) validate() error {
	if o == nil {
		return errors.New("credentials: options must be provided")
	}
	if len(o.Scopes) > 0 && o.Audience != "" {
		return errors.New("credentials: only one of Scopes or Audience may be set")
	}
	return nil
}

// DetectDefault searches for Application Default Credentials using the
// standard order of precedence:
//
//  1. opts.CredentialsJSON, if set.
//  2. The file at opts.CredentialsFile, if set.
//  3. The file named by the GOOGLE_APPLICATION_CREDENTIALS environment
//     variable, if set.
//  4. The well-known gcloud ADC file in the user's config directory.
//  5. The Google Compute Engine / GKE / Cloud Run / Cloud Functions /
//     App Engine metadata server, if reachable.
//
// It returns an error if none of these sources produce usable credentials.
func DetectDefault(opts *DetectOptions) (*auth.Credentials, error) {
	if opts == nil {
		opts = &DetectOptions{}
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	if len(opts.CredentialsJSON) > 0 {
		return fileCredentials(opts.CredentialsJSON, opts)
	}
	if opts.CredentialsFile != "" {
		b, err := os.ReadFile(opts.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("credentials: cannot read credentials file: %w", err)
		}
		return fileCredentials(b, opts)
	}
	if fn := os.Getenv(adcEnvVar); fn != "" {
		b, err := os.ReadFile(fn)
		if err != nil {
			return nil, fmt.Errorf("credentials: cannot read credentials file referenced by %s: %w", adcEnvVar, err)
		}
		return fileCredentials(b, opts)
	}
	if fn := wellKnownFile(); fn != "" {
		if b, err := os.ReadFile(fn); err == nil {
			return fileCredentials(b, opts)
		}
	}
	if metadataOnGCE() {
		return computeCredentials(opts), nil
	}
	return nil, errors.New("credentials: could not find default credentials; see https://cloud.google.com/docs/authentication/external/set-up-adc for more information")
}

// wellKnownFile returns the path to the gcloud CLI's well-known ADC file
// location, which varies by OS.
func wellKnownFile() string {
	const f = "application_default_credentials.json"
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("APPDATA"), "gcloud", f)
	}
	if cfg := os.Getenv(gcloudCredsEnv); cfg != "" {
		return filepath.Join(cfg, f)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".config", "gcloud", f)
}

// CredentialsType names a single known credential file format, used by
// [NewCredentialsFromJSON] and [NewCredentialsFromFile] to require the
// caller assert the type of the credential being loaded before using it.
type CredentialsType int

const (
	// ServiceAccount identifies a service account key file.
	ServiceAccount CredentialsType = iota
	// UserCredentials identifies a refresh-token based authorized-user
	// file.
	UserCredentials
	// ExternalAccount identifies a workload/workforce identity federation
	// config file.
	ExternalAccount
	// ExternalAccountAuthorizedUser identifies a workforce pool
	// authorized-user credential file.
	ExternalAccountAuthorizedUser
	// ImpersonatedServiceAccount identifies an impersonation config file.
	ImpersonatedServiceAccount
)

func (c CredentialsType) typeString() string {
	switch c {
	case ServiceAccount:
		return "service_account"
	case UserCredentials:
		return "authorized_user"
	case ExternalAccount:
		return "external_account"
	case ExternalAccountAuthorizedUser:
		return "external_account_authorized_user"
	case ImpersonatedServiceAccount:
		return "impersonated_service_account"
	default:
		return "unknown"
	}
}

type typeField struct {
	Type string `json:"type"`
}

// NewCredentialsFromJSON asserts that b holds a credential file of the
// given type, returning an error if it does not, and otherwise behaves like
// passing b as opts.CredentialsJSON to [DetectDefault].
func NewCredentialsFromJSON(ctx context.Context, credType CredentialsType, b []byte, opts *DetectOptions) (*auth.Credentials, error) {
	var tf typeField
	if err := json.Unmarshal(b, &tf); err != nil {
		return nil, err
	}
	if want := credType.typeString(); tf.Type != want {
		return nil, fmt.Errorf("credentials: expected type %q, found %q", want, tf.Type)
	}
	if opts == nil {
		opts = &DetectOptions{}
	}
	cp := *opts
	cp.CredentialsJSON = b
	cp.CredentialsFile = ""
	return DetectDefault(&cp)
}

// NewCredentialsFromFile reads filename and behaves like
// [NewCredentialsFromJSON] with its contents.
func NewCredentialsFromFile(ctx context.Context, credType CredentialsType, filename string, opts *DetectOptions) (*auth.Credentials, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return NewCredentialsFromJSON(ctx, credType, b, opts)
}
