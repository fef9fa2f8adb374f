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
)

// GetUniverseDomain resolves the Cloud universe domain this credential is
// pinned to, trying, in order: an explicit Options.UniverseDomain or
// ClientOptions.UniverseDomain, then the domain reported by the resolved
// credential itself (which in turn checks the credential file's
// "universe_domain" field, the compute metadata server, or else defaults
// to [internal.DefaultUniverseDomain]).
func (a *Auth) GetUniverseDomain(ctx context.Context) (string, error) {
	if ud := a.opts.universeDomainOverride(); ud != "" {
		return ud, nil
	}
	creds, err := a.resolveCredentials(ctx)
	if err != nil {
		return "", err
	}
	return creds.UniverseDomain(ctx)
}

// checkUniverseMismatch returns a [KindUniverseMismatch] error if want
// (typically a client's configured universe domain) differs from the
// resolved credential's own universe domain. httptransport.NewClient
// already performs an equivalent check at the transport level for clients
// built via GetClient; this is for callers that authorize a request
// directly via AuthorizeRequest/GetRequestHeaders against a client built
// outside this package.
func (a *Auth) checkUniverseMismatch(ctx context.Context, want string) error {
	if want == "" {
		return nil
	}
	got, err := a.GetUniverseDomain(ctx)
	if err != nil {
		return err
	}
	if got != want {
		return newErr(KindUniverseMismatch, "client configured for universe domain %q but credential belongs to %q", want, got)
	}
	return nil
}
