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

package credentials

import (
	"github.com/googleapis/google-auth-library-go"
	"github.com/googleapis/google-auth-library-go/internal/credsfile"
)

// configureSelfSignedJWT builds a [auth.TokenProvider] that mints a
// self-signed JWT locally rather than exchanging it with the token
// endpoint. It is used when opts.UseSelfSignedJWT is set and requires
// either an audience or scopes to be configured.
func configureSelfSignedJWT(f *credsfile.ServiceAccountFile, opts *DetectOptions) (auth.TokenProvider, error) {
	return auth.NewSelfSignedTokenProvider(&auth.Options2LO{
		Email:        f.ClientEmail,
		PrivateKey:   []byte(f.PrivateKey),
		PrivateKeyID: f.PrivateKeyID,
		Scopes:       opts.scopes(),
		Audience:     opts.Audience,
		Subject:      opts.Subject,
	})
}
