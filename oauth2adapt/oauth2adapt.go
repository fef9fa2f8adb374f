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

// Package oauth2adapt converts between this module's credential types and
// the older, widely-depended-on [golang.org/x/oauth2] ecosystem, so that
// code built against either can interoperate without a rewrite.
package oauth2adapt

import (
	"context"
	"errors"

	"github.com/googleapis/google-auth-library-go"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// TokenProviderFromTokenSource returns a [auth.TokenProvider] that draws
// tokens from ts. Errors from ts are converted to [*auth.Error] when they
// are an [*oauth2.RetrieveError], so that callers written against this
// module's error taxonomy can still branch on status code/body via
// [errors.As].
func TokenProviderFromTokenSource(ts oauth2.TokenSource) auth.TokenProvider {
	return &tokenProviderAdapter{ts: ts}
}

type tokenProviderAdapter struct {
	ts oauth2.TokenSource
}

func (tp *tokenProviderAdapter) Token(context.Context) (*auth.Token, error) {
	tok, err := tp.ts.Token()
	if err != nil {
		return nil, toAuthError(err)
	}
	return &auth.Token{
		Value: tok.AccessToken,
		Type:  tok.TokenType,
	}, nil
}

func toAuthError(err error) error {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		return &auth.Error{
			Response: rErr.Response,
			Body:     rErr.Body,
			Err:      rErr,
		}
	}
	return err
}

// TokenSourceFromTokenProvider returns an [oauth2.TokenSource] that draws
// tokens from tp. Errors from tp are converted so that they remain
// [errors.As]-able to both [*auth.Error] (the original error) and
// [*oauth2.RetrieveError] (for code written against the older ecosystem).
func TokenSourceFromTokenProvider(tp auth.TokenProvider) oauth2.TokenSource {
	return &tokenSourceAdapter{tp: tp}
}

type tokenSourceAdapter struct {
	tp auth.TokenProvider
}

func (ts *tokenSourceAdapter) Token() (*oauth2.Token, error) {
	tok, err := ts.tp.Token(context.Background())
	if err != nil {
		return nil, toRetrieveError(err)
	}
	return &oauth2.Token{
		AccessToken: tok.Value,
		TokenType:   tok.Type,
		Expiry:      tok.Expiry,
	}, nil
}

func toRetrieveError(err error) error {
	var aErr *auth.Error
	if errors.As(err, &aErr) {
		return &dualError{auth: aErr}
	}
	return err
}

// dualError wraps an [*auth.Error] so that it is [errors.As]-able both as
// itself (via Unwrap, automatically) and as an [*oauth2.RetrieveError]
// (via the explicit As method below, since no real RetrieveError exists
// in the chain to unwrap to).
type dualError struct {
	auth *auth.Error
}

func (e *dualError) Error() string { return e.auth.Error() }
func (e *dualError) Unwrap() error { return e.auth }

func (e *dualError) As(target interface{}) bool {
	t, ok := target.(**oauth2.RetrieveError)
	if !ok {
		return false
	}
	*t = &oauth2.RetrieveError{
		Response: e.auth.Response,
		Body:     e.auth.Body,
	}
	return true
}

// AuthCredentialsFromOauth2Credentials converts creds into this module's
// [*auth.Credentials], so that an application using
// [golang.org/x/oauth2/google] can pass its existing credentials to code
// expecting this module's type, e.g. [github.com/googleapis/google-auth-library-go/httptransport].
func AuthCredentialsFromOauth2Credentials(creds *google.Credentials) *auth.Credentials {
	if creds == nil {
		return nil
	}
	return auth.NewCredentials(&auth.CredentialsOptions{
		TokenProvider: TokenProviderFromTokenSource(creds.TokenSource),
		JSON:          creds.JSON,
		ProjectIDProvider: auth.CredentialsPropertyFunc(func(context.Context) (string, error) {
			return creds.ProjectID, nil
		}),
		UniverseDomainProvider: auth.CredentialsPropertyFunc(func(context.Context) (string, error) {
			return creds.GetUniverseDomain()
		}),
	})
}

// Oauth2CredentialsFromAuthCredentials converts creds into a
// [*google.Credentials], for passing this module's credentials into code
// still written against [golang.org/x/oauth2/google].
func Oauth2CredentialsFromAuthCredentials(creds *auth.Credentials) *google.Credentials {
	if creds == nil {
		return nil
	}
	projectID, _ := creds.ProjectID(context.Background())
	return &google.Credentials{
		ProjectID:   projectID,
		TokenSource: TokenSourceFromTokenProvider(creds),
		JSON:        creds.JSON(),
		UniverseDomainProvider: func() (string, error) {
			return creds.UniverseDomain(context.Background())
		},
	}
}
