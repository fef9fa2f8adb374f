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

package header

import (
	"strings"
	"testing"
)

func TestGoVersion(t *testing.T) {
	tests := []struct {
		name    string
		version func() string
		want    string
	}{
		{name: "release", version: func() string { return "go1.21.3" }, want: "1.21.3"},
		{name: "release no patch", version: func() string { return "go1.21" }, want: "1.21.0"},
		{name: "beta", version: func() string { return "go1.21beta1" }, want: "1.21.0-beta1"},
		{name: "devel", version: func() string { return "devel +abcdef Tue Jan 1 00:00:00 2024 +0000" }, want: "abcdef"},
		{name: "unrecognized", version: func() string { return "weird" }, want: "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orig := version
			defer func() { version = orig }()
			version = tt.version
			if got := GoVersion(); got != tt.want {
				t.Errorf("GoVersion() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetGoogHeaderToken(t *testing.T) {
	orig := version
	defer func() { version = orig }()
	version = func() string { return "go1.21.3" }

	tests := []struct {
		name string
		ct   credType
		at   tokenType
		want string
	}{
		{
			name: "user credentials omit auth-request-type",
			ct:   CredTypeUser,
			at:   TokenTypeAccess,
			want: "gl-go/1.21.3 auth/",
		},
		{
			name: "service account access token",
			ct:   CredTypeSA,
			at:   TokenTypeAccess,
			want: "auth-request-type/at cred-type/sa",
		},
		{
			name: "impersonated id token",
			ct:   CredTypeImp,
			at:   TokenTypeID,
			want: "auth-request-type/it cred-type/imp",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GetGoogHeaderToken(tt.ct, tt.at)
			if !strings.Contains(got, tt.want) {
				t.Errorf("GetGoogHeaderToken() = %q, want it to contain %q", got, tt.want)
			}
			if tt.ct == CredTypeUser && strings.Contains(got, "auth-request-type") {
				t.Errorf("GetGoogHeaderToken() = %q, user credentials should omit auth-request-type", got)
			}
		})
	}
}
