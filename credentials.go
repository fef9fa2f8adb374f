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

package auth

import "context"

// CredentialsPropertyProvider resolves a single string-valued property of a
// [Credentials], such as a project id, that may need to be derived lazily
// (for example, via a metadata server round trip) and cached once resolved.
type CredentialsPropertyProvider interface {
	GetProperty(ctx context.Context) (string, error)
}

// CredentialsPropertyFunc is an adapter to use an ordinary function as a
// [CredentialsPropertyProvider].
type CredentialsPropertyFunc func(ctx context.Context) (string, error)

// GetProperty calls f(ctx).
func (f CredentialsPropertyFunc) GetProperty(ctx context.Context) (string, error) {
	return f(ctx)
}

// Credentials holds Google credentials, including the
// TokenProvider used to refresh them, as well as the information necessary
// to derive a request's project id, quota project id, and universe domain.
type Credentials struct {
	json                   []byte
	projectIDProvider      CredentialsPropertyProvider
	quotaProjectIDProvider CredentialsPropertyProvider
	universeDomainProvider CredentialsPropertyProvider

	TokenProvider
}

// CredentialsOptions configures a [Credentials] constructed by
// [NewCredentials].
type CredentialsOptions struct {
	// TokenProvider is used to fetch and refresh the underlying token.
	// Typically wrapped by [NewCachedTokenProvider] before being set here.
	// Required.
	TokenProvider TokenProvider
	// JSON is the raw contents of the credentials file, if one was used to
	// source this Credentials. Optional.
	JSON []byte
	// ProjectIDProvider resolves the associated project id. Optional.
	ProjectIDProvider CredentialsPropertyProvider
	// QuotaProjectIDProvider resolves the associated quota project id.
	// Optional.
	QuotaProjectIDProvider CredentialsPropertyProvider
	// UniverseDomainProvider resolves the default service domain for this
	// credential's Cloud universe. If unset, or if it resolves to the empty
	// string, [Credentials.UniverseDomain] returns the default universe.
	// Optional.
	UniverseDomainProvider CredentialsPropertyProvider
}

// NewCredentials creates a new [Credentials] from the provided options.
func NewCredentials(opts *CredentialsOptions) *Credentials {
	return &Credentials{
		TokenProvider:          opts.TokenProvider,
		json:                   opts.JSON,
		projectIDProvider:      opts.ProjectIDProvider,
		quotaProjectIDProvider: opts.QuotaProjectIDProvider,
		universeDomainProvider: opts.UniverseDomainProvider,
	}
}

// JSON returns the bytes associated with the file used to source these
// credentials, if one was used.
func (c *Credentials) JSON() []byte {
	return c.json
}

// ProjectID returns the associated project ID, resolving it via the
// configured provider if necessary. Returns the empty string if no provider
// is configured.
func (c *Credentials) ProjectID(ctx context.Context) (string, error) {
	if c.projectIDProvider == nil {
		return "", nil
	}
	return c.projectIDProvider.GetProperty(ctx)
}

// QuotaProjectID returns the associated quota project ID, resolving it via
// the configured provider if necessary. Returns the empty string if no
// provider is configured.
func (c *Credentials) QuotaProjectID(ctx context.Context) (string, error) {
	if c.quotaProjectIDProvider == nil {
		return "", nil
	}
	return c.quotaProjectIDProvider.GetProperty(ctx)
}

// UniverseDomain returns the default service domain for a given Cloud
// universe. The default value is "googleapis.com".
func (c *Credentials) UniverseDomain(ctx context.Context) (string, error) {
	if c.universeDomainProvider == nil {
		return DefaultUniverseDomain, nil
	}
	domain, err := c.universeDomainProvider.GetProperty(ctx)
	if err != nil {
		return "", err
	}
	if domain == "" {
		return DefaultUniverseDomain, nil
	}
	return domain, nil
}

// DefaultUniverseDomain is the default value for UniverseDomain when one
// isn't returned by a CredentialsPropertyProvider or isn't set on a
// credentials file.
const DefaultUniverseDomain = "googleapis.com"
