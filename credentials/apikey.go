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

	"github.com/googleapis/google-auth-library-go"
	"github.com/googleapis/google-auth-library-go/internal"
)

// apiKeyTokenProvider is a [auth.TokenProvider] for a static API key. Its
// "token" never expires and never needs refreshing; it exists so that an
// API key can flow through the same [auth.Credentials] plumbing as every
// other credential variant. The APIKey method lets callers that need the
// raw key (to set X-Goog-Api-Key rather than Authorization) recover it
// without re-deriving it from the Token value.
type apiKeyTokenProvider struct {
	key string
}

func (a apiKeyTokenProvider) Token(context.Context) (*auth.Token, error) {
	return &auth.Token{Value: a.key, Type: "ApiKey"}, nil
}

// APIKey returns the configured key.
func (a apiKeyTokenProvider) APIKey() string { return a.key }

// NewAPIKeyCredentials returns [auth.Credentials] backed by a static API
// key rather than a bearer token, as used by the googleauth package when an
// API key is configured instead of a credential file.
func NewAPIKeyCredentials(key string) *auth.Credentials {
	return auth.NewCredentials(&auth.CredentialsOptions{
		TokenProvider:          apiKeyTokenProvider{key: key},
		QuotaProjectIDProvider: internal.StaticCredentialsProperty(""),
	})
}
