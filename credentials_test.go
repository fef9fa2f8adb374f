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

package auth

import (
	"context"
	"errors"
	"testing"
)

type staticTokenProvider struct{ tok *Token }

func (s staticTokenProvider) Token(context.Context) (*Token, error) { return s.tok, nil }

func TestCredentials_DefaultsWhenProvidersUnset(t *testing.T) {
	creds := NewCredentials(&CredentialsOptions{
		TokenProvider: staticTokenProvider{tok: &Token{Value: "tok"}},
		JSON:          []byte(`{"type": "service_account"}`),
	})

	ctx := context.Background()
	if got, err := creds.ProjectID(ctx); err != nil || got != "" {
		t.Errorf("ProjectID() = (%q, %v), want (\"\", nil)", got, err)
	}
	if got, err := creds.QuotaProjectID(ctx); err != nil || got != "" {
		t.Errorf("QuotaProjectID() = (%q, %v), want (\"\", nil)", got, err)
	}
	if got, err := creds.UniverseDomain(ctx); err != nil || got != DefaultUniverseDomain {
		t.Errorf("UniverseDomain() = (%q, %v), want (%q, nil)", got, err, DefaultUniverseDomain)
	}
	if got := string(creds.JSON()); got != `{"type": "service_account"}` {
		t.Errorf("JSON() = %q, want the configured bytes", got)
	}
	tok, err := creds.Token(ctx)
	if err != nil || tok.Value != "tok" {
		t.Errorf("Token() = (%v, %v), want (tok, nil)", tok, err)
	}
}

func TestCredentials_ProvidersResolved(t *testing.T) {
	creds := NewCredentials(&CredentialsOptions{
		TokenProvider: staticTokenProvider{tok: &Token{Value: "tok"}},
		ProjectIDProvider: CredentialsPropertyFunc(func(context.Context) (string, error) {
			return "my-project", nil
		}),
		QuotaProjectIDProvider: CredentialsPropertyFunc(func(context.Context) (string, error) {
			return "quota-project", nil
		}),
		UniverseDomainProvider: CredentialsPropertyFunc(func(context.Context) (string, error) {
			return "my-universe.com", nil
		}),
	})

	ctx := context.Background()
	if got, _ := creds.ProjectID(ctx); got != "my-project" {
		t.Errorf("ProjectID() = %q, want %q", got, "my-project")
	}
	if got, _ := creds.QuotaProjectID(ctx); got != "quota-project" {
		t.Errorf("QuotaProjectID() = %q, want %q", got, "quota-project")
	}
	if got, _ := creds.UniverseDomain(ctx); got != "my-universe.com" {
		t.Errorf("UniverseDomain() = %q, want %q", got, "my-universe.com")
	}
}

func TestCredentials_UniverseDomainEmptyProviderFallsBackToDefault(t *testing.T) {
	creds := NewCredentials(&CredentialsOptions{
		TokenProvider: staticTokenProvider{tok: &Token{Value: "tok"}},
		UniverseDomainProvider: CredentialsPropertyFunc(func(context.Context) (string, error) {
			return "", nil
		}),
	})
	if got, err := creds.UniverseDomain(context.Background()); err != nil || got != DefaultUniverseDomain {
		t.Errorf("UniverseDomain() = (%q, %v), want (%q, nil)", got, err, DefaultUniverseDomain)
	}
}

func TestCredentials_UniverseDomainProviderError(t *testing.T) {
	wantErr := errors.New("metadata server unreachable")
	creds := NewCredentials(&CredentialsOptions{
		TokenProvider: staticTokenProvider{tok: &Token{Value: "tok"}},
		UniverseDomainProvider: CredentialsPropertyFunc(func(context.Context) (string, error) {
			return "", wantErr
		}),
	})
	if _, err := creds.UniverseDomain(context.Background()); !errors.Is(err, wantErr) {
		t.Errorf("UniverseDomain() error = %v, want %v", err, wantErr)
	}
}
