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

package idtoken

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
	"strings"
	"testing"
	"time"
)

func TestOptions_validate(t *testing.T) {
	tests := []struct {
		name    string
		opts    *Options
		wantErr error
	}{
		{
			name:    "missing opts",
			wantErr: errMissingOpts,
		},
		{
			name:    "missing audience",
			opts:    &Options{},
			wantErr: errMissingAudience,
		},
		{
			name: "both credentials",
			opts: &Options{
				Audience:        "aud",
				CredentialsFile: "creds.json",
				CredentialsJSON: []byte{0, 1},
			},
			wantErr: errBothFileAndJSON,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.validate()
			if err != tt.wantErr {
				t.Errorf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func testServiceAccountJSON(t *testing.T, tokenURL string) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	pemBlock := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	sa := map[string]string{
		"type":         "service_account",
		"client_email": "test@project.iam.gserviceaccount.com",
		"private_key":  string(pem.EncodeToMemory(pemBlock)),
		"private_key_id": "kid-123",
		"token_uri":    tokenURL,
		"project_id":   "project",
	}
	b, err := json.Marshal(sa)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestNewCredentials_ServiceAccount(t *testing.T) {
	// Payload is {"exp":4102444800}; the 2LO flow decodes it for the expiry.
	const wantTok = "eyJhbGciOiJSUzI1NiIsInR5cCI6IkpXVCJ9.eyJleHAiOjQxMDI0NDQ4MDB9.signature"
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id_token": %q}`, wantTok)
	}))
	defer ts.Close()

	b := testServiceAccountJSON(t, ts.URL)
	creds, err := NewCredentials(&Options{
		Audience:        "aud",
		CredentialsJSON: b,
		CustomClaims:    map[string]interface{}{"foo": "bar"},
	})
	if err != nil {
		t.Fatal(err)
	}
	tok, err := creds.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() = %v", err)
	}
	if tok.Value != wantTok {
		t.Errorf("got %q, want %q", tok.Value, wantTok)
	}
}

type roundTripFn func(r *http.Request) (*http.Response, error)

func (f roundTripFn) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestNewCredentials_ImpersonatedServiceAccount(t *testing.T) {
	const wantTok = "impersonated-id-token"
	client := &http.Client{
		Transport: roundTripFn(func(r *http.Request) (*http.Response, error) {
			rw := httptest.NewRecorder()
			switch {
			case strings.Contains(r.URL.Path, "generateIdToken"):
				fmt.Fprintf(rw, `{"token": %q}`, wantTok)
			case strings.Contains(r.URL.Path, "generateAccessToken"):
				fmt.Fprintf(rw, `{"accessToken": "base-tok", "expireTime": %q}`, time.Now().Add(time.Hour).Format(time.RFC3339))
			}
			return rw.Result(), nil
		}),
	}
	creds, err := NewCredentials(&Options{
		Audience:        "aud",
		CredentialsJSON: mustImpersonatedJSON(t),
		Client:          client,
	})
	if err != nil {
		t.Fatal(err)
	}
	tok, err := creds.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() = %v", err)
	}
	if tok.Value != wantTok {
		t.Errorf("got %q, want %q", tok.Value, wantTok)
	}
}

func mustImpersonatedJSON(t *testing.T) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	pemBlock := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	m := map[string]interface{}{
		"type":                               "impersonated_service_account",
		"service_account_impersonation_url":  "https://iamcredentials.googleapis.com/v1/projects/-/serviceAccounts/target@project.iam.gserviceaccount.com:generateAccessToken",
		"source_credentials": map[string]string{
			"type":         "service_account",
			"client_email": "base@project.iam.gserviceaccount.com",
			"private_key":  string(pem.EncodeToMemory(pemBlock)),
			"token_uri":    "https://oauth2.googleapis.com/token",
		},
	}
	b, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	return b
}
