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

package httptransport

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/googleapis/google-auth-library-go"
	"github.com/googleapis/google-auth-library-go/credentials"
)

type roundTripFn func(*http.Request) (*http.Response, error)

func (f roundTripFn) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func okResponse(req *http.Request) (*http.Response, error) {
	return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody, Header: make(http.Header), Request: req}, nil
}

type staticTokenProvider struct{ tok *auth.Token }

func (s staticTokenProvider) Token(context.Context) (*auth.Token, error) { return s.tok, nil }

func TestOptions_Validate(t *testing.T) {
	if err := (&Options{}).validate(); err != nil {
		t.Errorf("empty Options.validate() = %v, want nil", err)
	}
	err := (&Options{DisableAuthentication: true, Credentials: auth.NewCredentials(&auth.CredentialsOptions{
		TokenProvider: staticTokenProvider{tok: &auth.Token{Value: "v"}},
	})}).validate()
	if err == nil {
		t.Error("DisableAuthentication+Credentials should fail validation")
	}
	if err := (&Options{InternalOptions: &InternalOptions{SkipValidation: true}, DisableAuthentication: true, Credentials: auth.NewCredentials(&auth.CredentialsOptions{
		TokenProvider: staticTokenProvider{tok: &auth.Token{Value: "v"}},
	})}).validate(); err != nil {
		t.Errorf("SkipValidation should bypass the conflict check, got %v", err)
	}
}

func TestNewClient_DisableAuthentication(t *testing.T) {
	client, err := NewClient(&Options{DisableAuthentication: true})
	if err != nil {
		t.Fatalf("NewClient() = %v", err)
	}
	if _, ok := client.Transport.(*authTransport); ok {
		t.Error("client.Transport is an *authTransport, want authentication disabled")
	}
}

func TestNewClient_APIKey(t *testing.T) {
	var gotQuery url.Values
	base := roundTripFn(func(req *http.Request) (*http.Response, error) {
		gotQuery = req.URL.Query()
		return okResponse(req)
	})
	client, err := NewClient(&Options{
		DisableAuthentication: true,
		APIKey:                "my-api-key",
		BaseRoundTripper:      base,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := client.Get("https://example.com/resource"); err != nil {
		t.Fatal(err)
	}
	if got := gotQuery.Get("key"); got != "my-api-key" {
		t.Errorf("request query 'key' = %q, want %q", got, "my-api-key")
	}
}

func TestNewClient_Headers(t *testing.T) {
	var gotHeader http.Header
	base := roundTripFn(func(req *http.Request) (*http.Response, error) {
		gotHeader = req.Header
		return okResponse(req)
	})
	h := http.Header{}
	h.Set("X-Custom", "value")
	client, err := NewClient(&Options{
		DisableAuthentication: true,
		Headers:               h,
		BaseRoundTripper:      base,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := client.Get("https://example.com"); err != nil {
		t.Fatal(err)
	}
	if got := gotHeader.Get("X-Custom"); got != "value" {
		t.Errorf("header X-Custom = %q, want %q", got, "value")
	}
}

func TestAddAuthorizationMiddleware(t *testing.T) {
	var gotAuth string
	base := roundTripFn(func(req *http.Request) (*http.Response, error) {
		gotAuth = req.Header.Get("Authorization")
		return okResponse(req)
	})
	client := &http.Client{Transport: base}
	tp := staticTokenProvider{tok: &auth.Token{Value: "the-token", Type: "Bearer"}}
	if err := AddAuthorizationMiddleware(client, tp); err != nil {
		t.Fatal(err)
	}
	if _, err := client.Get("https://example.com"); err != nil {
		t.Fatal(err)
	}
	if gotAuth != "Bearer the-token" {
		t.Errorf("Authorization header = %q, want %q", gotAuth, "Bearer the-token")
	}
}

func TestAddAuthorizationMiddleware_InvalidToken(t *testing.T) {
	client := &http.Client{Transport: roundTripFn(okResponse)}
	tp := staticTokenProvider{tok: &auth.Token{}}
	if err := AddAuthorizationMiddleware(client, tp); err != nil {
		t.Fatal(err)
	}
	if _, err := client.Get("https://example.com"); err == nil {
		t.Error("request with an invalid (empty-value) token should fail")
	}
}

func TestAuthTransport_UniverseMismatch(t *testing.T) {
	base := roundTripFn(okResponse)
	creds := auth.NewCredentials(&auth.CredentialsOptions{
		TokenProvider: staticTokenProvider{tok: &auth.Token{Value: "tok"}},
		UniverseDomainProvider: auth.CredentialsPropertyFunc(func(context.Context) (string, error) {
			return "creds-universe.com", nil
		}),
	})
	client := &http.Client{Transport: base}
	if err := AddAuthorizationMiddleware(client, creds); err != nil {
		t.Fatal(err)
	}
	at := client.Transport.(*authTransport)
	at.clientUniverseDomain = auth.CredentialsPropertyFunc(func(context.Context) (string, error) {
		return "client-universe.com", nil
	})
	if _, err := client.Get("https://example.com"); err == nil {
		t.Error("mismatched universe domains should produce an error")
	}
}

func TestAuthTransport_QuotaProjectHeader(t *testing.T) {
	var gotQuota string
	base := roundTripFn(func(req *http.Request) (*http.Response, error) {
		gotQuota = req.Header.Get("X-Goog-User-Project")
		return okResponse(req)
	})
	creds := auth.NewCredentials(&auth.CredentialsOptions{
		TokenProvider: staticTokenProvider{tok: &auth.Token{Value: "tok"}},
		QuotaProjectIDProvider: auth.CredentialsPropertyFunc(func(context.Context) (string, error) {
			return "my-quota-project", nil
		}),
	})
	client := &http.Client{Transport: base}
	if err := AddAuthorizationMiddleware(client, creds); err != nil {
		t.Fatal(err)
	}
	if _, err := client.Get("https://example.com"); err != nil {
		t.Fatal(err)
	}
	if gotQuota != "my-quota-project" {
		t.Errorf("X-Goog-User-Project = %q, want %q", gotQuota, "my-quota-project")
	}
}

func TestResolveDetectOptions_SelfSignedJWTHeuristic(t *testing.T) {
	o := &Options{DetectOpts: &credentials.DetectOptions{Audience: "https://example.com"}}
	do := o.resolveDetectOptions()
	if !do.UseSelfSignedJWT {
		t.Error("resolveDetectOptions() with an audience but no scopes should enable self-signed JWT")
	}
}

func TestResolveDetectOptions_InternalDefaults(t *testing.T) {
	o := &Options{
		InternalOptions: &InternalOptions{
			DefaultScopes: []string{"https://www.googleapis.com/auth/cloud-platform"},
		},
	}
	do := o.resolveDetectOptions()
	if len(do.Scopes) != 1 || do.Scopes[0] != "https://www.googleapis.com/auth/cloud-platform" {
		t.Errorf("resolveDetectOptions().Scopes = %v, want default scopes applied", do.Scopes)
	}
}
