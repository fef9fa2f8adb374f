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

// Package credsfile defines the on-disk JSON shapes of every ADC credential
// file variant and parses bytes into the appropriate type.
package credsfile

import "encoding/json"

// CredentialType represents the type of credential file described by a
// file's "type" field.
type CredentialType int

const (
	// UnknownCredType is an unrecognized or unset credential file type.
	UnknownCredType CredentialType = iota
	// ServiceAccountKey is a service account key file ("service_account").
	ServiceAccountKey
	// UserCredentialsKey is a refresh-token based authorized-user file
	// ("authorized_user").
	UserCredentialsKey
	// ExternalAccountKey is a workload/workforce identity federation config
	// file ("external_account").
	ExternalAccountKey
	// ExternalAccountAuthorizedUserKey is a workforce pool authorized-user
	// credential file ("external_account_authorized_user").
	ExternalAccountAuthorizedUserKey
	// ImpersonatedServiceAccountKey is an impersonation config file
	// ("impersonated_service_account").
	ImpersonatedServiceAccountKey
	// GDCHServiceAccountKey is a GDCH service account key file
	// ("gdch_service_account").
	GDCHServiceAccountKey
)

// ServiceAccountFile represents the contents of a service account key file.
type ServiceAccountFile struct {
	Type           string `json:"type"`
	ProjectID      string `json:"project_id"`
	PrivateKeyID   string `json:"private_key_id"`
	PrivateKey     string `json:"private_key"`
	ClientEmail    string `json:"client_email"`
	ClientID       string `json:"client_id"`
	AuthURL        string `json:"auth_uri"`
	TokenURL       string `json:"token_uri"`
	UniverseDomain string `json:"universe_domain"`
	QuotaProjectID string `json:"quota_project_id"`
}

// ClientCredentialsFile represents the contents of an installed-app/client
// OAuth2 client secret file. Parsing is supported; the interactive flow it
// drives is out of scope for this library.
type ClientCredentialsFile struct {
	Web       *ClientCredentialsJSON `json:"web"`
	Installed *ClientCredentialsJSON `json:"installed"`
}

// ClientCredentialsJSON holds the OAuth2 client id/secret/endpoints shared
// by both the "web" and "installed" forms of a client secret file.
type ClientCredentialsJSON struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret"`
	RedirectURIs            []string `json:"redirect_uris"`
	AuthURI                 string   `json:"auth_uri"`
	TokenURI                string   `json:"token_uri"`
	AuthProviderX509CertURL string   `json:"auth_provider_x509_cert_url"`
}

// UserCredentialsFile represents the contents of an authorized-user
// (refresh token) ADC file.
type UserCredentialsFile struct {
	Type           string `json:"type"`
	ClientID       string `json:"client_id"`
	ClientSecret   string `json:"client_secret"`
	RefreshToken   string `json:"refresh_token"`
	QuotaProjectID string `json:"quota_project_id"`
}

// ServiceAccountImpersonationInfo holds the optional
// "service_account_impersonation" block of an external account file.
type ServiceAccountImpersonationInfo struct {
	TokenLifetimeSeconds int `json:"token_lifetime_seconds"`
}

// CredentialSource describes where an external account's subject token is
// sourced from: a local file, a URL, an executable, or (for AWS) the
// regional metadata/IMDS endpoints.
type CredentialSource struct {
	File   string `json:"file"`
	URL    string `json:"url"`
	Headers map[string]string `json:"headers"`

	Executable *ExecutableConfig `json:"executable"`

	EnvironmentID               string `json:"environment_id"`
	RegionURL                   string `json:"region_url"`
	RegionalCredVerificationURL string `json:"regional_cred_verification_url"`
	CredVerificationURL         string `json:"cred_verification_url"`
	IMDSv2SessionTokenURL       string `json:"imdsv2_session_token_url"`

	Format *Format `json:"format"`
}

// Format describes how to parse a file- or URL-sourced subject token.
type Format struct {
	Type                  string `json:"type"`
	SubjectTokenFieldName string `json:"subject_token_field_name"`
}

// ExecutableConfig describes an executable-sourced subject token.
type ExecutableConfig struct {
	Command       string `json:"command"`
	TimeoutMillis *int   `json:"timeout_millis"`
	OutputFile    string `json:"output_file"`
}

// ExternalAccountFile represents the contents of a workload/workforce
// identity federation ADC file.
type ExternalAccountFile struct {
	Type                           string                           `json:"type"`
	Audience                       string                           `json:"audience"`
	SubjectTokenType               string                           `json:"subject_token_type"`
	ServiceAccountImpersonationURL string                           `json:"service_account_impersonation_url"`
	ServiceAccountImpersonation    ServiceAccountImpersonationInfo  `json:"service_account_impersonation"`
	TokenURL                       string                           `json:"token_url"`
	TokenInfoURL                   string                           `json:"token_info_url"`
	ClientID                       string                           `json:"client_id"`
	ClientSecret                   string                           `json:"client_secret"`
	CredentialSource               CredentialSource                `json:"credential_source"`
	QuotaProjectID                 string                           `json:"quota_project_id"`
	WorkforcePoolUserProject       string                           `json:"workforce_pool_user_project"`
	UniverseDomain                 string                           `json:"universe_domain"`
}

// ExternalAccountAuthorizedUserFile represents the contents of a workforce
// pool authorized-user (refresh token) ADC file.
type ExternalAccountAuthorizedUserFile struct {
	Type           string `json:"type"`
	Audience       string `json:"audience"`
	RefreshToken   string `json:"refresh_token"`
	TokenURL       string `json:"token_url"`
	TokenInfoURL   string `json:"token_info_url"`
	ClientID       string `json:"client_id"`
	ClientSecret   string `json:"client_secret"`
	QuotaProjectID string `json:"quota_project_id"`
	UniverseDomain string `json:"universe_domain"`
}

// ImpersonatedServiceAccountFile represents the contents of an
// impersonated-service-account ADC file: a wrapped "source_credentials"
// document plus the URL of the service account to impersonate.
type ImpersonatedServiceAccountFile struct {
	Type                           string          `json:"type"`
	ServiceAccountImpersonationURL string          `json:"service_account_impersonation_url"`
	Delegates                      []string        `json:"delegates"`
	CredSource                     json.RawMessage `json:"source_credentials"`
	UniverseDomain                 string          `json:"universe_domain"`
}

// GDCHServiceAccountFile represents the contents of a Google Distributed
// Cloud Hosted (GDCH) service account key file.
type GDCHServiceAccountFile struct {
	Type           string `json:"type"`
	FormatVersion  string `json:"format_version"`
	Project        string `json:"project"`
	PrivateKeyID   string `json:"private_key_id"`
	PrivateKey     string `json:"private_key"`
	Name           string `json:"name"`
	CertPath       string `json:"ca_cert_path"`
	TokenURI       string `json:"token_uri"`
	UniverseDomain string `json:"universe_domain"`
}
