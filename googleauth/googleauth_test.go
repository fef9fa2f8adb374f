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
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func testServiceAccountJSON(t *testing.T, tokenURL string) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	pemBlock := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	sa := map[string]string{
		"type":           "service_account",
		"client_email":   "test@project.iam.gserviceaccount.com",
		"private_key":    string(pem.EncodeToMemory(pemBlock)),
		"private_key_id": "kid-123",
		"token_uri":      tokenURL,
		"project_id":     "test-project",
	}
	b, err := json.Marshal(sa)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestNew_ConfigConflict(t *testing.T) {
	tests := []struct {
		name string
		opts *Options
	}{
		{name: "nil options", opts: nil},
		{
			name: "api key and json both set",
			opts: &Options{APIKey: "key", CredentialsJSON: []byte(`{}`)},
		},
		{
			name: "json and file both set",
			opts: &Options{CredentialsJSON: []byte(`{}`), CredentialsFile: "creds.json"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts); err == nil {
				t.Fatal("New() = nil error, want KindConfigConflict")
			} else if ge, ok := err.(*Error); !ok || ge.Kind != KindConfigConflict {
				t.Errorf("New() = %v, want KindConfigConflict", err)
			}
		})
	}
}

func TestGetAccessToken_ServiceAccount(t *testing.T) {
	const wantTok = "access-token-value"
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token": %q, "expires_in": 3600, "token_type": "Bearer"}`, wantTok)
	}))
	defer ts.Close()

	a, err := New(&Options{CredentialsJSON: testServiceAccountJSON(t, ts.URL), Scopes: []string{"https://www.googleapis.com/auth/cloud-platform"}})
	if err != nil {
		t.Fatal(err)
	}
	tok, err := a.GetAccessToken(context.Background())
	if err != nil {
		t.Fatalf("GetAccessToken() = %v", err)
	}
	if tok != wantTok {
		t.Errorf("GetAccessToken() = %q, want %q", tok, wantTok)
	}
}

func TestGetClient_ConcurrentCallsShareOneClient(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token": "tok", "expires_in": 3600, "token_type": "Bearer"}`)
	}))
	defer ts.Close()

	a, err := New(&Options{CredentialsJSON: testServiceAccountJSON(t, ts.URL)})
	if err != nil {
		t.Fatal(err)
	}

	const n = 20
	clients := make([]*http.Client, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			c, err := a.GetClient(context.Background())
			if err != nil {
				t.Error(err)
				return
			}
			clients[i] = c
		}()
	}
	wg.Wait()
	for i := 1; i < n; i++ {
		if clients[i] != clients[0] {
			t.Errorf("GetClient() call %d returned a different *http.Client than call 0", i)
		}
	}
}

func TestGetRequestHeaders_APIKey(t *testing.T) {
	a, err := New(&Options{APIKey: "my-api-key"})
	if err != nil {
		t.Fatal(err)
	}
	h, err := a.GetRequestHeaders(context.Background(), "https://example.googleapis.com")
	if err != nil {
		t.Fatal(err)
	}
	if got := h.Get("X-Goog-Api-Key"); got != "my-api-key" {
		t.Errorf("X-Goog-Api-Key = %q, want %q", got, "my-api-key")
	}
	if got := h.Get("Authorization"); got != "" {
		t.Errorf("Authorization = %q, want empty for an API-key credential", got)
	}
}

func TestGetRequestHeaders_Bearer(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token": "tok-value", "expires_in": 3600, "token_type": "Bearer"}`)
	}))
	defer ts.Close()

	a, err := New(&Options{CredentialsJSON: testServiceAccountJSON(t, ts.URL)})
	if err != nil {
		t.Fatal(err)
	}
	h, err := a.GetRequestHeaders(context.Background(), "https://example.googleapis.com")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := h.Get("Authorization"), "Bearer tok-value"; got != want {
		t.Errorf("Authorization = %q, want %q", got, want)
	}
}

func TestAuthorizeRequest_OverwritesOnlyAuthHeaders(t *testing.T) {
	a, err := New(&Options{APIKey: "my-api-key"})
	if err != nil {
		t.Fatal(err)
	}
	req, err := http.NewRequest(http.MethodGet, "https://example.googleapis.com/v1/thing", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("X-Custom-Header", "preserved")
	if err := a.AuthorizeRequest(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if got := req.Header.Get("X-Custom-Header"); got != "preserved" {
		t.Errorf("X-Custom-Header = %q, want %q", got, "preserved")
	}
	if got := req.Header.Get("X-Goog-Api-Key"); got != "my-api-key" {
		t.Errorf("X-Goog-Api-Key = %q, want %q", got, "my-api-key")
	}
}

func TestGetProjectID_ExplicitOption(t *testing.T) {
	a, err := New(&Options{APIKey: "key", ProjectID: "explicit-project"})
	if err != nil {
		t.Fatal(err)
	}
	id, err := a.GetProjectID(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if id != "explicit-project" {
		t.Errorf("GetProjectID() = %q, want %q", id, "explicit-project")
	}
}

func TestGetProjectID_FromCredentialsFile(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token": "tok", "expires_in": 3600, "token_type": "Bearer"}`)
	}))
	defer ts.Close()

	a, err := New(&Options{CredentialsJSON: testServiceAccountJSON(t, ts.URL)})
	if err != nil {
		t.Fatal(err)
	}
	id, err := a.GetProjectID(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if id != "test-project" {
		t.Errorf("GetProjectID() = %q, want %q", id, "test-project")
	}
}

func TestSign_LocalServiceAccountKey(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token": "tok", "expires_in": 3600, "token_type": "Bearer"}`)
	}))
	defer ts.Close()

	a, err := New(&Options{CredentialsJSON: testServiceAccountJSON(t, ts.URL)})
	if err != nil {
		t.Fatal(err)
	}
	sig, err := a.Sign(context.Background(), []byte("data to sign"))
	if err != nil {
		t.Fatalf("Sign() = %v", err)
	}
	if len(sig) == 0 {
		t.Error("Sign() returned an empty signature")
	}
}
