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
	"errors"
	"fmt"

	"github.com/googleapis/google-auth-library-go"
	"github.com/googleapis/google-auth-library-go/credentials/internal/externalaccount"
	"github.com/googleapis/google-auth-library-go/credentials/internal/externalaccountuser"
	"github.com/googleapis/google-auth-library-go/credentials/internal/impersonate"
	internalauth "github.com/googleapis/google-auth-library-go/internal"
	"github.com/googleapis/google-auth-library-go/internal/credsfile"
)

// fileIdentity is the (project, quota project, universe domain) triple a
// filetype handler extracts from its credentials document, alongside the
// token provider that refreshes the credential itself.
type fileIdentity struct {
	tp             auth.TokenProvider
	projectID      string
	quotaProjectID string
	universeDomain string
}

// fileTypeHandler builds the identity for one ADC filetype from its raw
// JSON bytes.
type fileTypeHandler func(b []byte, opts *DetectOptions) (fileIdentity, error)

// fileTypeHandlers maps every ADC filetype this library resolves to the
// handler that parses it. GDCH service account files are not in this
// table: see DESIGN.md for why that surface was dropped.
func fileTypeHandlers() map[credsfile.CredentialType]fileTypeHandler {
	return fileTypeHandlersMap
}

var fileTypeHandlersMap map[credsfile.CredentialType]fileTypeHandler

func init() {
	fileTypeHandlersMap = map[credsfile.CredentialType]fileTypeHandler{
		credsfile.ServiceAccountKey:                serviceAccountFileIdentity,
		credsfile.UserCredentialsKey:               userCredentialFileIdentity,
		credsfile.ExternalAccountKey:               externalAccountFileIdentity,
		credsfile.ExternalAccountAuthorizedUserKey: externalAccountAuthorizedUserFileIdentity,
		credsfile.ImpersonatedServiceAccountKey:    impersonatedServiceAccountFileIdentity,
	}
}

// fileCredentials dispatches on the "type" field of a credentials JSON
// document and builds the [auth.Credentials] appropriate for it.
func fileCredentials(b []byte, opts *DetectOptions) (*auth.Credentials, error) {
	fileType, err := credsfile.ParseFileType(b)
	if err != nil {
		return nil, err
	}
	handler, ok := fileTypeHandlers()[fileType]
	if !ok {
		return nil, fmt.Errorf("credentials: unsupported filetype %q", credsfile.ParseCredentialTypeString(fileType))
	}
	id, err := handler(b, opts)
	if err != nil {
		return nil, err
	}
	return auth.NewCredentials(&auth.CredentialsOptions{
		TokenProvider: auth.NewCachedTokenProvider(id.tp, &auth.CachedTokenProviderOptions{
			ExpireEarly:           opts.EarlyTokenRefresh,
			ForceRefreshOnFailure: opts.ForceRefreshOnFailure,
		}),
		JSON:                   b,
		ProjectIDProvider:      internalauth.StaticCredentialsProperty(id.projectID),
		QuotaProjectIDProvider: internalauth.StaticCredentialsProperty(id.quotaProjectID),
		UniverseDomainProvider: internalauth.StaticCredentialsProperty(id.universeDomain),
	}), nil
}

func serviceAccountFileIdentity(b []byte, opts *DetectOptions) (fileIdentity, error) {
	f, err := credsfile.ParseServiceAccount(b)
	if err != nil {
		return fileIdentity{}, err
	}
	tp, err := handleServiceAccount(f, opts)
	if err != nil {
		return fileIdentity{}, err
	}
	return fileIdentity{tp: tp, projectID: f.ProjectID, universeDomain: f.UniverseDomain}, nil
}

func userCredentialFileIdentity(b []byte, opts *DetectOptions) (fileIdentity, error) {
	f, err := credsfile.ParseUserCredentials(b)
	if err != nil {
		return fileIdentity{}, err
	}
	tp, err := handleUserCredential(f, opts)
	if err != nil {
		return fileIdentity{}, err
	}
	return fileIdentity{tp: tp, quotaProjectID: f.QuotaProjectID}, nil
}

func externalAccountFileIdentity(b []byte, opts *DetectOptions) (fileIdentity, error) {
	f, err := credsfile.ParseExternalAccount(b)
	if err != nil {
		return fileIdentity{}, err
	}
	tp, err := handleExternalAccount(f, opts)
	if err != nil {
		return fileIdentity{}, err
	}
	return fileIdentity{tp: tp, quotaProjectID: f.QuotaProjectID, universeDomain: f.UniverseDomain}, nil
}

func externalAccountAuthorizedUserFileIdentity(b []byte, opts *DetectOptions) (fileIdentity, error) {
	f, err := credsfile.ParseExternalAccountAuthorizedUser(b)
	if err != nil {
		return fileIdentity{}, err
	}
	tp, err := handleExternalAccountAuthorizedUser(f, opts)
	if err != nil {
		return fileIdentity{}, err
	}
	return fileIdentity{tp: tp, quotaProjectID: f.QuotaProjectID, universeDomain: f.UniverseDomain}, nil
}

func impersonatedServiceAccountFileIdentity(b []byte, opts *DetectOptions) (fileIdentity, error) {
	f, err := credsfile.ParseImpersonatedServiceAccount(b)
	if err != nil {
		return fileIdentity{}, err
	}
	tp, err := handleImpersonatedServiceAccount(f, opts)
	if err != nil {
		return fileIdentity{}, err
	}
	return fileIdentity{tp: tp, universeDomain: f.UniverseDomain}, nil
}

func handleServiceAccount(f *credsfile.ServiceAccountFile, opts *DetectOptions) (auth.TokenProvider, error) {
	if opts.UseSelfSignedJWT && opts.Subject == "" {
		return configureSelfSignedJWT(f, opts)
	}
	opts2LO := &auth.Options2LO{
		Email:        f.ClientEmail,
		PrivateKey:   []byte(f.PrivateKey),
		PrivateKeyID: f.PrivateKeyID,
		Scopes:       opts.scopes(),
		TokenURL:     f.TokenURL,
		Subject:      opts.Subject,
		Client:       opts.Client,
	}
	if opts2LO.TokenURL == "" {
		opts2LO.TokenURL = jwtTokenURL
	}
	return auth.New2LOTokenProvider(opts2LO)
}

func handleUserCredential(f *credsfile.UserCredentialsFile, opts *DetectOptions) (auth.TokenProvider, error) {
	opts3LO := &auth.Options3LO{
		ClientID:         f.ClientID,
		ClientSecret:     f.ClientSecret,
		Scopes:           opts.scopes(),
		AuthURL:          googleAuthURL,
		TokenURL:         opts.tokenURL(),
		AuthStyle:        auth.StyleInParams,
		EarlyTokenExpiry: opts.EarlyTokenRefresh,
		RefreshToken:     f.RefreshToken,
		Client:           opts.Client,
	}
	return auth.New3LOTokenProvider(opts3LO)
}

func handleExternalAccount(f *credsfile.ExternalAccountFile, opts *DetectOptions) (auth.TokenProvider, error) {
	externalOpts := &externalaccount.Options{
		Audience:                       f.Audience,
		SubjectTokenType:               f.SubjectTokenType,
		TokenURL:                       f.TokenURL,
		TokenInfoURL:                   f.TokenInfoURL,
		ServiceAccountImpersonationURL: f.ServiceAccountImpersonationURL,
		ServiceAccountImpersonationLifetimeSeconds: f.ServiceAccountImpersonation.TokenLifetimeSeconds,
		ClientSecret:             f.ClientSecret,
		ClientID:                 f.ClientID,
		CredentialSource:         &f.CredentialSource,
		QuotaProjectID:           f.QuotaProjectID,
		Scopes:                   opts.scopes(),
		WorkforcePoolUserProject: f.WorkforcePoolUserProject,
		Client:                   opts.client(),
	}
	return externalaccount.NewTokenProvider(externalOpts)
}

func handleExternalAccountAuthorizedUser(f *credsfile.ExternalAccountAuthorizedUserFile, opts *DetectOptions) (auth.TokenProvider, error) {
	externalOpts := &externalaccountuser.Options{
		Audience:     f.Audience,
		RefreshToken: f.RefreshToken,
		TokenURL:     f.TokenURL,
		TokenInfoURL: f.TokenInfoURL,
		ClientID:     f.ClientID,
		ClientSecret: f.ClientSecret,
		Scopes:       opts.scopes(),
		Client:       opts.client(),
	}
	return externalaccountuser.NewTokenProvider(externalOpts)
}

func handleImpersonatedServiceAccount(f *credsfile.ImpersonatedServiceAccountFile, opts *DetectOptions) (auth.TokenProvider, error) {
	if f.ServiceAccountImpersonationURL == "" || len(f.CredSource) == 0 {
		return nil, errors.New("credentials: impersonated_service_account file missing 'source_credentials' or 'service_account_impersonation_url'")
	}
	tp, err := fileCredentials(f.CredSource, opts)
	if err != nil {
		return nil, err
	}
	return impersonate.NewTokenProvider(&impersonate.Options{
		URL:       f.ServiceAccountImpersonationURL,
		Scopes:    opts.scopes(),
		Tp:        tp,
		Delegates: f.Delegates,
		Client:    opts.client(),
	})
}
