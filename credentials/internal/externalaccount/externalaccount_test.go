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
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/googleapis/google-auth-library-go/internal/credsfile"
)

func TestNewTokenProvider_FileSourced(t *testing.T) {
	dir := t.TempDir()
	tokenFile := filepath.Join(dir, "subject-token.txt")
	if err := os.WriteFile(tokenFile, []byte("the-subject-token\n"), 0600); err != nil {
		t.Fatal(err)
	}

	var gotSubjectToken string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		gotSubjectToken = r.Form.Get("subject_token")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token": "sts-access-token", "token_type": "Bearer", "expires_in": 3600}`)
	}))
	defer ts.Close()

	tp, err := NewTokenProvider(&Options{
		Audience:         "//iam.googleapis.com/projects/123/locations/global/workloadIdentityPools/pool/providers/provider",
		SubjectTokenType: "urn:ietf:params:oauth:token-type:jwt",
		TokenURL:         ts.URL,
		CredentialSource: &credsfile.CredentialSource{File: tokenFile},
		Scopes:           []string{"https://www.googleapis.com/auth/cloud-platform"},
	})
	if err != nil {
		t.Fatal(err)
	}
	tok, err := tp.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() = %v", err)
	}
	if tok.Value != "sts-access-token" {
		t.Errorf("Token().Value = %q, want %q", tok.Value, "sts-access-token")
	}
	if gotSubjectToken != "the-subject-token" {
		t.Errorf("STS request's subject_token = %q, want %q (whitespace should be trimmed)", gotSubjectToken, "the-subject-token")
	}
}

func TestNewTokenProvider_ImpersonationStep(t *testing.T) {
	dir := t.TempDir()
	tokenFile := filepath.Join(dir, "subject-token.txt")
	if err := os.WriteFile(tokenFile, []byte("the-subject-token"), 0600); err != nil {
		t.Fatal(err)
	}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/token":
			fmt.Fprint(w, `{"access_token": "base-token", "token_type": "Bearer", "expires_in": 3600}`)
		default:
			fmt.Fprint(w, `{"accessToken": "impersonated-token", "expireTime": "2099-01-01T00:00:00Z"}`)
		}
	}))
	defer ts.Close()

	tp, err := NewTokenProvider(&Options{
		Audience:                       "//iam.googleapis.com/projects/123/locations/global/workloadIdentityPools/pool/providers/provider",
		SubjectTokenType:               "urn:ietf:params:oauth:token-type:jwt",
		TokenURL:                       ts.URL + "/token",
		ServiceAccountImpersonationURL: ts.URL + "/impersonate",
		CredentialSource:               &credsfile.CredentialSource{File: tokenFile},
		Scopes:                         []string{"https://www.googleapis.com/auth/devstorage.read_only"},
	})
	if err != nil {
		t.Fatal(err)
	}
	tok, err := tp.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() = %v", err)
	}
	if tok.Value != "impersonated-token" {
		t.Errorf("Token().Value = %q, want %q", tok.Value, "impersonated-token")
	}
}

func TestNewTokenProvider_RejectsWorkforceProjectOnNonWorkforceAudience(t *testing.T) {
	_, err := NewTokenProvider(&Options{
		Audience:                 "//iam.googleapis.com/projects/123/locations/global/workloadIdentityPools/pool/providers/provider",
		WorkforcePoolUserProject: "my-project",
		CredentialSource:         &credsfile.CredentialSource{File: "unused"},
	})
	if err == nil {
		t.Fatal("NewTokenProvider() = nil error, want an error for workforce_pool_user_project on a workload identity audience")
	}
}
