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

package googleauth

import (
	"context"
	"fmt"
	"net/url"

	"cloud.google.com/go/compute/metadata"
	"github.com/googleapis/google-auth-library-go"
	"github.com/googleapis/google-auth-library-go/httptransport"
	"github.com/googleapis/google-auth-library-go/idtoken"
)

// GetIDTokenClient returns an [*Auth] whose GetClient/GetAccessToken/
// GetRequestHeaders methods authorize requests with an OIDC ID token
// asserting audience, rather than an OAuth2 access token, dispatching on
// the variant of the credential a would otherwise resolve:
//
//   - A service account key signs the ID token itself.
//   - An impersonated service account or external account configuration
//     calls IAM Credentials' generateIdToken RPC.
//   - A compute-metadata-sourced credential asks the metadata server's
//     own identity endpoint.
//
// Returns a [*Error] of [KindIDTokenUnsupported] for every other variant,
// including user refresh tokens and workforce-pool authorized users.
func (a *Auth) GetIDTokenClient(ctx context.Context, audience string) (*Auth, error) {
	creds, err := a.resolveCredentials(ctx)
	if err != nil {
		return nil, err
	}

	var tp auth.TokenProvider
	if b := creds.JSON(); len(b) > 0 {
		tp, err = idtoken.NewTokenProvider(&idtoken.Options{
			Audience:        audience,
			CredentialsJSON: b,
			Client:          a.httpClient(),
		})
		if err != nil {
			return nil, newErr(KindIDTokenUnsupported, "%v", err)
		}
	} else if metadata.OnGCE() {
		tp = computeIdentityTokenProvider{audience: audience, client: metadata.NewClient(a.httpClient())}
	} else {
		return nil, newErr(KindIDTokenUnsupported, "resolved credential variant cannot mint ID tokens")
	}

	idCreds := auth.NewCredentials(&auth.CredentialsOptions{TokenProvider: tp})
	client, err := httptransport.NewClient(&httptransport.Options{Credentials: idCreds})
	if err != nil {
		return nil, err
	}

	idAuth := &Auth{opts: a.opts}
	idAuth.credsOnce.Do(func() { idAuth.creds = idCreds })
	idAuth.clientOnce.Do(func() { idAuth.client = client })
	return idAuth, nil
}

// computeIdentityTokenProvider mints ID tokens from the GCE/GKE metadata
// server's per-instance identity endpoint.
type computeIdentityTokenProvider struct {
	audience string
	client   *metadata.Client
}

func (c computeIdentityTokenProvider) Token(ctx context.Context) (*auth.Token, error) {
	v := url.Values{}
	v.Set("audience", c.audience)
	v.Set("format", "full")
	path := "instance/service-accounts/default/identity?" + v.Encode()
	tok, err := c.client.GetWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("googleauth: unable to mint ID token from metadata: %w", err)
	}
	return &auth.Token{Value: tok, Type: "Bearer"}, nil
}
