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
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/compute/metadata"
	"github.com/googleapis/google-auth-library-go"
	"github.com/googleapis/google-auth-library-go/internal"
)

var (
	computeTokenMetadata = map[string]interface{}{
		"auth.google.tokenSource":    "compute-metadata",
		"auth.google.serviceAccount": "default",
	}
	computeTokenURI = "instance/service-accounts/default/token"
)

// metadataOnGCE reports whether the process is running on a GCE instance,
// or any of the environments (GKE, Cloud Run, Cloud Functions, App Engine
// standard/flex) that also expose the metadata server.
func metadataOnGCE() bool {
	return metadata.OnGCE()
}

func computeCredentials(opts *DetectOptions) *auth.Credentials {
	tp := computeTokenProvider(opts, metadata.NewClient(opts.client()))
	return auth.NewCredentials(&auth.CredentialsOptions{
		TokenProvider:          tp,
		ProjectIDProvider:      auth.CredentialsPropertyFunc(func(ctx context.Context) (string, error) { return metadata.ProjectIDWithContext(ctx) }),
		QuotaProjectIDProvider: internal.StaticCredentialsProperty(""),
		UniverseDomainProvider: &internal.ComputeUniverseDomainProvider{},
	})
}

// computeTokenProvider creates a [auth.TokenProvider] that uses the GCE
// metadata service to retrieve tokens, optionally hard-bound to the mTLS or
// ALTS channel the request is made over.
func computeTokenProvider(opts *DetectOptions, client *metadata.Client) auth.TokenProvider {
	return auth.NewCachedTokenProvider(computeProvider{scopes: opts.scopes(), binding: opts.TokenBindingType, client: client}, &auth.CachedTokenProviderOptions{
		ExpireEarly:           opts.EarlyTokenRefresh,
		ForceRefreshOnFailure: opts.ForceRefreshOnFailure,
	})
}

// computeProvider fetches tokens from the GCE metadata service.
type computeProvider struct {
	scopes  []string
	binding TokenBindingType
	client  *metadata.Client
}

type metadataTokenResp struct {
	AccessToken  string `json:"access_token"`
	ExpiresInSec int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

func (cs computeProvider) Token(ctx context.Context) (*auth.Token, error) {
	tokenURI, err := url.Parse(computeTokenURI)
	if err != nil {
		return nil, err
	}
	v := url.Values{}
	if len(cs.scopes) > 0 {
		v.Set("scopes", strings.Join(cs.scopes, ","))
	}
	switch cs.binding {
	case MTLSHardBinding:
		v.Set("transport", "mtls")
		v.Set("binding-enforcement", "on")
	case ALTSHardBinding:
		v.Set("transport", "alts")
	}
	tokenURI.RawQuery = v.Encode()

	client := cs.client
	if client == nil {
		client = metadata.NewClient(nil)
	}
	tokenJSON, err := client.GetWithContext(ctx, tokenURI.String())
	if err != nil {
		return nil, err
	}
	var res metadataTokenResp
	if err := json.NewDecoder(strings.NewReader(tokenJSON)).Decode(&res); err != nil {
		return nil, fmt.Errorf("credentials: invalid token JSON from metadata: %w", err)
	}
	if res.ExpiresInSec == 0 || res.AccessToken == "" {
		return nil, errors.New("credentials: incomplete token received from metadata")
	}
	return &auth.Token{
		Value:    res.AccessToken,
		Type:     res.TokenType,
		Expiry:   time.Now().Add(time.Duration(res.ExpiresInSec) * time.Second),
		Metadata: computeTokenMetadata,
	}, nil
}
