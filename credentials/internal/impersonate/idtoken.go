// Copyright 2024 Google LLC
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

package impersonate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/googleapis/google-auth-library-go"
	"github.com/googleapis/google-auth-library-go/internal"
)

const universeDomainPlaceholder = "UNIVERSE_DOMAIN"

var iamCredentialsUniverseDomainEndpoint = "https://iamcredentials." + universeDomainPlaceholder

// IDTokenOptions configures [IDTokenOptions.Token]. Unlike [NewTokenProvider],
// this is a non-GDU (non-googleapis.com universe) path: such universes have
// no oauth2 token endpoint, so a fully authenticated client must already be
// supplied rather than a base TokenProvider to authorize against it.
type IDTokenOptions struct {
	// Client must already be configured to authenticate its own requests.
	Client *http.Client
	// UniverseDomain supplies the universe the generateIdToken RPC should be
	// addressed to.
	UniverseDomain auth.CredentialsPropertyProvider
	// ServiceAccountEmail is the target service account.
	ServiceAccountEmail string
	GenerateIDTokenRequest
}

// GenerateIDTokenRequest holds the request body for the IAM generateIdToken
// RPC.
type GenerateIDTokenRequest struct {
	Audience     string   `json:"audience"`
	IncludeEmail bool     `json:"includeEmail"`
	Delegates    []string `json:"delegates,omitempty"`
}

// GenerateIDTokenResponse holds the response from the IAM generateIdToken
// RPC.
type GenerateIDTokenResponse struct {
	Token string `json:"token"`
}

// Token calls IAM generateIdToken with the configuration in o.
func (o IDTokenOptions) Token(ctx context.Context) (*auth.Token, error) {
	universeDomain, err := o.UniverseDomain.GetProperty(ctx)
	if err != nil {
		return nil, err
	}
	endpoint := strings.Replace(iamCredentialsUniverseDomainEndpoint, universeDomainPlaceholder, universeDomain, 1)
	url := fmt.Sprintf("%s/v1/%s:generateIdToken", endpoint, formatIAMServiceAccountName(o.ServiceAccountEmail))

	b, err := json.Marshal(o.GenerateIDTokenRequest)
	if err != nil {
		return nil, fmt.Errorf("credentials: unable to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("credentials: unable to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("credentials: unable to generate id token: %w", err)
	}
	defer resp.Body.Close()
	body, err := internal.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("credentials: unable to read body: %w", err)
	}
	if c := resp.StatusCode; c < 200 || c > 299 {
		return nil, fmt.Errorf("credentials: status code %d: %s", c, body)
	}

	var tokenResp GenerateIDTokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("credentials: unable to parse response: %w", err)
	}
	return &auth.Token{
		Value:  tokenResp.Token,
		Expiry: time.Now().Add(time.Hour),
	}, nil
}

func formatIAMServiceAccountName(name string) string {
	return fmt.Sprintf("projects/-/serviceAccounts/%s", name)
}
