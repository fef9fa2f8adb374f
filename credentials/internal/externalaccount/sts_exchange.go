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

package externalaccount

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/googleapis/google-auth-library-go"
	"github.com/googleapis/google-auth-library-go/internal"
)

// stsTokenExchangeRequest describes an RFC 8693 token exchange against a
// Security Token Service endpoint.
type stsTokenExchangeRequest struct {
	Audience         string
	Scope            []string
	SubjectToken     string
	SubjectTokenType string
	// UserProject, when set, is forwarded as the STS "options" parameter so
	// a workforce pool's billing project can be identified without a client
	// ID. Populated only when ClientID is empty; see tokenProvider.Token.
	UserProject string
}

// encode renders the request as the application/x-www-form-urlencoded body
// the STS endpoint expects and layers client authentication on top of it.
func (r *stsTokenExchangeRequest) encode(clientAuth clientAuthentication, headers http.Header) (string, error) {
	data := url.Values{}
	data.Set("audience", r.Audience)
	data.Set("grant_type", stsGrantType)
	data.Set("requested_token_type", stsTokenType)
	data.Set("subject_token_type", r.SubjectTokenType)
	data.Set("subject_token", r.SubjectToken)
	data.Set("scope", strings.Join(r.Scope, " "))
	if r.UserProject != "" {
		opts, err := json.Marshal(map[string]interface{}{"userProject": r.UserProject})
		if err != nil {
			return "", fmt.Errorf("externalaccount: failed to marshal sts request options: %w", err)
		}
		data.Set("options", string(opts))
	}
	clientAuth.InjectAuthentication(data, headers)
	return data.Encode(), nil
}

// stsTokenExchangeResponse decodes the Security Token Service's response to
// a token exchange request.
type stsTokenExchangeResponse struct {
	AccessToken     string `json:"access_token"`
	IssuedTokenType string `json:"issued_token_type"`
	TokenType       string `json:"token_type"`
	ExpiresIn       int    `json:"expires_in"`
	Scope           string `json:"scope"`
}

// token converts the exchange response into the auth.Token shape the rest
// of this package's providers return, anchoring the expiry against clock
// (normally the package's now, overridden in tests).
func (r *stsTokenExchangeResponse) token(clock func() time.Time) (*auth.Token, error) {
	if r.ExpiresIn < 0 {
		return nil, errors.New("externalaccount: security token service returned a negative expiry")
	}
	return &auth.Token{
		Value:  r.AccessToken,
		Type:   r.TokenType,
		Expiry: clock().Add(time.Duration(r.ExpiresIn) * time.Second),
	}, nil
}

// exchangeToken POSTs request to endpoint and returns the decoded STS
// response. headers carries any fixed headers the caller needs sent (e.g.
// Content-Type) in addition to whatever authentication injects.
func exchangeToken(ctx context.Context, client *http.Client, endpoint string, request *stsTokenExchangeRequest, authentication clientAuthentication, headers http.Header) (*stsTokenExchangeResponse, error) {
	body, err := request.encode(authentication, headers)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("externalaccount: failed to build sts token exchange request: %w", err)
	}
	for key, vals := range headers {
		for _, v := range vals {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Content-Length", strconv.Itoa(len(body)))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("externalaccount: sts token exchange request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := internal.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if c := resp.StatusCode; c < http.StatusOK || c >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("externalaccount: sts token exchange returned status %d: %s", c, respBody)
	}

	var stsResp stsTokenExchangeResponse
	if err := json.Unmarshal(respBody, &stsResp); err != nil {
		return nil, fmt.Errorf("externalaccount: failed to decode sts token exchange response: %w", err)
	}
	return &stsResp, nil
}
