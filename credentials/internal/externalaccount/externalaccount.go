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

// Package externalaccount implements workload and workforce identity
// federation: exchanging a subject token sourced from a file, URL,
// executable, or the AWS metadata service for a short-lived Google access
// token via the Security Token Service, optionally followed by service
// account impersonation.
package externalaccount

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/googleapis/google-auth-library-go"
	"github.com/googleapis/google-auth-library-go/credentials/internal/impersonate"
	"github.com/googleapis/google-auth-library-go/internal/credsfile"
)

const (
	stsGrantType = "urn:ietf:params:oauth:grant-type:token-exchange"
	stsTokenType = "urn:ietf:params:oauth:token-type:access_token"
)

var (
	// now aliases time.Now for testing.
	now = func() time.Time {
		return time.Now().UTC()
	}
	validWorkforceAudiencePattern = regexp.MustCompile(`//iam\.googleapis\.com/locations/[^/]+/workforcePools/`)
)

// Options stores the configuration for fetching tokens with external
// credentials.
type Options struct {
	// Audience is the Secure Token Service (STS) audience which contains the
	// resource name for the workload identity pool or the workforce pool and
	// the provider identifier in that pool.
	Audience string
	// SubjectTokenType is the STS token type based on the OAuth2.0 token
	// exchange spec, e.g. "urn:ietf:params:oauth:token-type:jwt".
	SubjectTokenType string
	// TokenURL is the STS token exchange endpoint.
	TokenURL string
	// TokenInfoURL is the token_info endpoint used to retrieve the account
	// related information (user attributes like account identifier, e.g.
	// email, username, uid). Needed for gcloud session account
	// identification.
	TokenInfoURL string
	// ServiceAccountImpersonationURL is the URL for the service account
	// impersonation request. Only required for workload identity pools when
	// the APIs to be accessed have not integrated with direct token minting.
	ServiceAccountImpersonationURL string
	// ServiceAccountImpersonationLifetimeSeconds is the number of seconds the
	// service account impersonation token will be valid for.
	ServiceAccountImpersonationLifetimeSeconds int
	// ClientSecret is only required if the token_info endpoint also needs to
	// be called with the generated GCP access token. When provided, STS will
	// be called with additional basic authentication using ClientID as the
	// username and ClientSecret as the password.
	ClientSecret string
	// ClientID is only required in conjunction with ClientSecret, as
	// described above.
	ClientID string
	// CredentialSource contains the necessary information to retrieve the
	// subject token itself, as well as some environmental information.
	CredentialSource *credsfile.CredentialSource
	// QuotaProjectID is injected by gcloud. If non-empty, the auth libraries
	// will set the x-goog-user-project header, overriding the project
	// associated with the credentials.
	QuotaProjectID string
	// Scopes contains the desired scopes for the returned access token.
	Scopes []string
	// WorkforcePoolUserProject is the optional workforce pool user project
	// number when the credential corresponds to a workforce pool rather
	// than a workload identity pool. The underlying principal must still
	// have the serviceusage.services.use IAM permission to use the project
	// for billing/quota.
	WorkforcePoolUserProject string
	// Client is the HTTP client used for the token exchange request.
	Client *http.Client
}

// NewTokenProvider returns a [auth.TokenProvider] that performs the STS
// token exchange described by opts, optionally wrapped in a service account
// impersonation step.
func NewTokenProvider(opts *Options) (auth.TokenProvider, error) {
	if opts.WorkforcePoolUserProject != "" {
		if !validWorkforceAudiencePattern.MatchString(opts.Audience) {
			return nil, errors.New("externalaccount: workforce_pool_user_project should not be set for non-workforce pool credentials")
		}
	}

	tp := tokenProvider{
		client: opts.Client,
		opts:   opts,
	}
	if opts.ServiceAccountImpersonationURL == "" {
		return auth.NewCachedTokenProvider(tp, nil), nil
	}

	scopes := append([]string(nil), opts.Scopes...)
	// The STS exchange itself must request cloud-platform scope when an
	// impersonation step follows; the caller's real scopes are applied to
	// the impersonated token instead.
	impersonatedOpts := *opts
	impersonatedOpts.Scopes = []string{"https://www.googleapis.com/auth/cloud-platform"}
	tp.opts = &impersonatedOpts

	imp, err := impersonate.NewTokenProvider(&impersonate.Options{
		Client:               opts.Client,
		URL:                  opts.ServiceAccountImpersonationURL,
		Scopes:               scopes,
		Tp:                   auth.NewCachedTokenProvider(tp, nil),
		TokenLifetimeSeconds: opts.ServiceAccountImpersonationLifetimeSeconds,
	})
	if err != nil {
		return nil, err
	}
	return auth.NewCachedTokenProvider(imp, nil), nil
}

// subjectTokenProvider retrieves the raw subject token to be exchanged with
// the STS endpoint.
type subjectTokenProvider interface {
	subjectToken(ctx context.Context) (string, error)
}

// newSubjectTokenProvider determines the type of credential source
// configured and returns the matching subjectTokenProvider.
func newSubjectTokenProvider(o *Options) (subjectTokenProvider, error) {
	cs := o.CredentialSource
	if cs == nil {
		return nil, errors.New("externalaccount: unable to parse credential source")
	}
	switch {
	case len(cs.EnvironmentID) > 3 && cs.EnvironmentID[:3] == "aws":
		awsVersion, err := strconv.Atoi(cs.EnvironmentID[3:])
		if err != nil {
			return nil, fmt.Errorf("externalaccount: invalid `environment_id` field %q", cs.EnvironmentID)
		}
		if awsVersion != 1 {
			return nil, fmt.Errorf("externalaccount: aws version '%d' is not supported in the current build", awsVersion)
		}
		awsProvider := &awsSubjectProvider{
			EnvironmentID:               cs.EnvironmentID,
			RegionURL:                   cs.RegionURL,
			RegionalCredVerificationURL: cs.RegionalCredVerificationURL,
			CredVerificationURL:         cs.CredVerificationURL,
			TargetResource:              o.Audience,
			Client:                      o.Client,
		}
		if cs.IMDSv2SessionTokenURL != "" {
			awsProvider.IMDSv2SessionTokenURL = cs.IMDSv2SessionTokenURL
		}
		return awsProvider, nil
	case cs.File != "":
		return &fileSubjectProvider{File: cs.File, Format: cs.Format}, nil
	case cs.URL != "":
		return &urlSubjectProvider{URL: cs.URL, Headers: cs.Headers, Format: cs.Format, Client: o.Client}, nil
	case cs.Executable != nil:
		return newExecutableSubjectProvider(o.Client, cs.Executable, o)
	}
	return nil, errors.New("externalaccount: unable to parse credential source")
}

// tokenProvider exchanges a subject token for a Google access token via STS.
type tokenProvider struct {
	client *http.Client
	opts   *Options
}

func (ts tokenProvider) Token(ctx context.Context) (*auth.Token, error) {
	stp, err := newSubjectTokenProvider(ts.opts)
	if err != nil {
		return nil, err
	}
	subjectToken, err := stp.subjectToken(ctx)
	if err != nil {
		return nil, err
	}

	stsRequest := stsTokenExchangeRequest{
		Audience:         ts.opts.Audience,
		Scope:            ts.opts.Scopes,
		SubjectToken:     subjectToken,
		SubjectTokenType: ts.opts.SubjectTokenType,
	}
	// Do not pass workforce_pool_user_project when client authentication is
	// used: the client ID is sufficient for determining the user project.
	if ts.opts.WorkforcePoolUserProject != "" && ts.opts.ClientID == "" {
		stsRequest.UserProject = ts.opts.WorkforcePoolUserProject
	}
	header := make(http.Header)
	header.Set("Content-Type", "application/x-www-form-urlencoded")
	clientAuth := clientAuthentication{
		AuthStyle:    auth.StyleInHeader,
		ClientID:     ts.opts.ClientID,
		ClientSecret: ts.opts.ClientSecret,
	}
	client := ts.client
	if client == nil {
		client = http.DefaultClient
	}
	stsResp, err := exchangeToken(ctx, client, ts.opts.TokenURL, &stsRequest, clientAuth, header)
	if err != nil {
		return nil, err
	}
	return stsResp.token(now)
}
