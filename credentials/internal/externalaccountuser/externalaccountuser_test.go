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

package externalaccountuser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewTokenProvider_Validate(t *testing.T) {
	tests := []struct {
		name    string
		opts    *Options
		wantErr bool
	}{
		{
			name: "valid",
			opts: &Options{
				ClientID:     "id",
				ClientSecret: "secret",
				RefreshToken: "refresh",
				TokenURL:     "https://sts.googleapis.com/v1/oauthtoken",
			},
		},
		{name: "missing client secret", opts: &Options{ClientID: "id", RefreshToken: "refresh", TokenURL: "url"}, wantErr: true},
		{name: "missing refresh token", opts: &Options{ClientID: "id", ClientSecret: "secret", TokenURL: "url"}, wantErr: true},
		{name: "missing token url", opts: &Options{ClientID: "id", ClientSecret: "secret", RefreshToken: "refresh"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTokenProvider(tt.opts)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewTokenProvider() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTokenProvider_Token(t *testing.T) {
	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if got := r.Form.Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q, want refresh_token", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token": "new-access-token", "refresh_token": "new-refresh-token", "token_type": "Bearer", "expires_in": 3600}`)
	}))
	defer ts.Close()

	tp, err := NewTokenProvider(&Options{
		ClientID:     "my-client-id",
		ClientSecret: "my-client-secret",
		RefreshToken: "original-refresh-token",
		TokenURL:     ts.URL,
	})
	if err != nil {
		t.Fatal(err)
	}
	tok, err := tp.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() = %v", err)
	}
	if tok.Value != "new-access-token" {
		t.Errorf("Token().Value = %q, want %q", tok.Value, "new-access-token")
	}
	if !strings.HasPrefix(gotAuth, "Basic ") {
		t.Errorf("Authorization header = %q, want Basic auth", gotAuth)
	}
}

func TestTokenProvider_Token_ErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error": "invalid_grant"}`)
	}))
	defer ts.Close()

	tp, err := NewTokenProvider(&Options{
		ClientID:     "id",
		ClientSecret: "secret",
		RefreshToken: "refresh",
		TokenURL:     ts.URL,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tp.Token(context.Background()); err == nil {
		t.Fatal("Token() = nil error, want an error for non-2xx status")
	}
}
