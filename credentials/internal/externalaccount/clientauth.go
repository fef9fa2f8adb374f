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
	"encoding/base64"
	"net/http"
	"net/url"

	"github.com/googleapis/google-auth-library-go"
)

// clientAuthentication carries the OAuth2 client ID/secret pair used to
// authenticate a Security Token Service exchange request, per RFC 6749
// section 2.3.1.
type clientAuthentication struct {
	AuthStyle    auth.Style
	ClientID     string
	ClientSecret string
}

// hasCredentials reports whether both halves of the client ID/secret pair
// are present. Workload identity pool exchanges routinely supply neither,
// and a partially-set pair is never meaningful to send.
func (c clientAuthentication) hasCredentials() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// InjectAuthentication adds c's credentials to an in-flight STS exchange
// request, choosing between a Basic Authorization header (RFC 7617) and
// body parameters based on AuthStyle. It is a no-op when c holds no
// credentials or either destination is nil.
func (c clientAuthentication) InjectAuthentication(values url.Values, headers http.Header) {
	if !c.hasCredentials() || values == nil || headers == nil {
		return
	}
	if c.AuthStyle == auth.StyleInHeader {
		headers.Set("Authorization", "Basic "+basicAuthValue(c.ClientID, c.ClientSecret))
		return
	}
	values.Set("client_id", c.ClientID)
	values.Set("client_secret", c.ClientSecret)
}

func basicAuthValue(id, secret string) string {
	return base64.StdEncoding.EncodeToString([]byte(id + ":" + secret))
}
