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
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/googleapis/google-auth-library-go"
)

func TestIDTokenOptions_Token(t *testing.T) {
	var gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"token": "the-id-token"}`)
	}))
	defer ts.Close()

	opts := IDTokenOptions{
		Client: ts.Client(),
		UniverseDomain: auth.CredentialsPropertyFunc(func(context.Context) (string, error) {
			return strings.TrimPrefix(ts.URL, "http://"), nil
		}),
		ServiceAccountEmail: "target@project.iam.gserviceaccount.com",
		GenerateIDTokenRequest: GenerateIDTokenRequest{
			Audience:     "https://example.com",
			IncludeEmail: true,
		},
	}
	// iamCredentialsUniverseDomainEndpoint is built from "https://iamcredentials.<universe>",
	// which requires UniverseDomain to resolve to the test server's host for the
	// request to land on it; swap the scheme in manually since the test server is
	// plain HTTP.
	iamCredentialsUniverseDomainEndpoint = "http://" + universeDomainPlaceholder
	defer func() { iamCredentialsUniverseDomainEndpoint = "https://iamcredentials." + universeDomainPlaceholder }()

	tok, err := opts.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() = %v", err)
	}
	if tok.Value != "the-id-token" {
		t.Errorf("Token().Value = %q, want %q", tok.Value, "the-id-token")
	}
	wantPath := "/v1/projects/-/serviceAccounts/target@project.iam.gserviceaccount.com:generateIdToken"
	if gotPath != wantPath {
		t.Errorf("request path = %q, want %q", gotPath, wantPath)
	}
}

func TestIDTokenOptions_Token_ErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error": "permission denied"}`)
	}))
	defer ts.Close()

	iamCredentialsUniverseDomainEndpoint = "http://" + universeDomainPlaceholder
	defer func() { iamCredentialsUniverseDomainEndpoint = "https://iamcredentials." + universeDomainPlaceholder }()

	opts := IDTokenOptions{
		Client: ts.Client(),
		UniverseDomain: auth.CredentialsPropertyFunc(func(context.Context) (string, error) {
			return strings.TrimPrefix(ts.URL, "http://"), nil
		}),
		ServiceAccountEmail:    "target@project.iam.gserviceaccount.com",
		GenerateIDTokenRequest: GenerateIDTokenRequest{Audience: "https://example.com"},
	}
	if _, err := opts.Token(context.Background()); err == nil {
		t.Fatal("Token() = nil error, want an error for non-2xx status")
	}
}
