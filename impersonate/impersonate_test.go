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

package impersonate

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

type roundTripFn func(req *http.Request) *http.Response

func (f roundTripFn) RoundTrip(req *http.Request) (*http.Response, error) { return f(req), nil }

func TestNewCredentialTokenProvider(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name            string
		targetPrincipal string
		scopes          []string
		lifetime        time.Duration
		subject         string
		wantErr         bool
	}{
		{
			name:    "missing targetPrincipal",
			wantErr: true,
		},
		{
			name:            "missing scopes",
			targetPrincipal: "foo@project-id.iam.gserviceaccount.com",
			wantErr:         true,
		},
		{
			name:            "lifetime over max",
			targetPrincipal: "foo@project-id.iam.gserviceaccount.com",
			scopes:          []string{"scope"},
			lifetime:        13 * time.Hour,
			wantErr:         true,
		},
		{
			name:            "subject not supported",
			targetPrincipal: "foo@project-id.iam.gserviceaccount.com",
			scopes:          []string{"scope"},
			subject:         "user@example.com",
			wantErr:         true,
		},
		{
			name:            "works",
			targetPrincipal: "foo@project-id.iam.gserviceaccount.com",
			scopes:          []string{"scope"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			saTok := "sa-token"
			client := &http.Client{
				Transport: roundTripFn(func(req *http.Request) *http.Response {
					if strings.Contains(req.URL.Path, "generateAccessToken") {
						resp := generateAccessTokenResponse{
							AccessToken: saTok,
							ExpireTime:  time.Now().Format(time.RFC3339),
						}
						b, err := json.Marshal(&resp)
						if err != nil {
							t.Fatalf("unable to marshal response: %v", err)
						}
						return &http.Response{
							StatusCode: 200,
							Body:       io.NopCloser(bytes.NewReader(b)),
							Header:     http.Header{},
						}
					}
					return nil
				}),
			}
			tp, err := NewCredentialTokenProvider(&CredentialOptions{
				TargetPrincipal: tt.targetPrincipal,
				Scopes:          tt.scopes,
				Lifetime:        tt.lifetime,
				Subject:         tt.subject,
				Client:          client,
			})
			if tt.wantErr {
				if err == nil {
					t.Fatal("got nil error, want one")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			tok, err := tp.Token(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if tok.Value != saTok {
				t.Fatalf("got %q, want %q", tok.Value, saTok)
			}
		})
	}
}

func TestNewIDTokenProvider(t *testing.T) {
	ctx := context.Background()
	wantTok := "id-token"
	client := &http.Client{
		Transport: roundTripFn(func(req *http.Request) *http.Response {
			if strings.Contains(req.URL.Path, "generateIdToken") {
				b, _ := json.Marshal(&generateIDTokenResponse{Token: wantTok})
				return &http.Response{
					StatusCode: 200,
					Body:       io.NopCloser(bytes.NewReader(b)),
					Header:     http.Header{},
				}
			}
			return nil
		}),
	}
	tp, err := NewIDTokenProvider(&IDTokenOptions{
		TargetPrincipal: "foo@project-id.iam.gserviceaccount.com",
		Audience:        "https://example.com",
		Client:          client,
	})
	if err != nil {
		t.Fatal(err)
	}
	tok, err := tp.Token(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if tok.Value != wantTok {
		t.Fatalf("got %q, want %q", tok.Value, wantTok)
	}
}

func TestNewIDTokenProvider_missingFields(t *testing.T) {
	if _, err := NewIDTokenProvider(&IDTokenOptions{}); err == nil {
		t.Fatal("got nil error, want one")
	}
	if _, err := NewIDTokenProvider(&IDTokenOptions{TargetPrincipal: "foo@bar.com"}); err == nil {
		t.Fatal("got nil error, want one")
	}
}
