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
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"cloud.google.com/go/compute/metadata"
	"github.com/googleapis/google-auth-library-go/internal"
	"github.com/googleapis/google-auth-library-go/internal/credsfile"
)

// Sign returns an RS256-over-SHA256 signature of data, computed locally
// with the resolved credential's private key when one is available, or
// else by calling IAM Credentials' signBlob RPC on the credential's
// service account, authorized with the credential's own token. Returns a
// [*Error] of [KindSignUnsupported] if neither path applies, e.g. for
// authorized-user federation with no impersonation configured.
func (a *Auth) Sign(ctx context.Context, data []byte) ([]byte, error) {
	creds, err := a.resolveCredentials(ctx)
	if err != nil {
		return nil, err
	}

	if pk, ok := privateKeyFromJSON(creds.JSON()); ok {
		h := sha256.Sum256(data)
		return rsa.SignPKCS1v15(rand.Reader, pk, crypto.SHA256, h[:])
	}

	email, universeDomain, err := serviceAccountEmailAndUniverse(ctx, creds.JSON())
	if err != nil {
		return nil, err
	}
	if email == "" {
		return nil, newErr(KindSignUnsupported, "resolved credential has no local private key and no service account to impersonate for signBlob")
	}
	tok, err := creds.Token(ctx)
	if err != nil {
		return nil, err
	}

	reqBody, err := json.Marshal(struct {
		Delegates []string `json:"delegates"`
		Payload   string   `json:"payload"`
	}{
		Delegates: []string{},
		Payload:   base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return nil, fmt.Errorf("googleauth: unable to marshal signBlob request: %w", err)
	}
	url := fmt.Sprintf("https://iamcredentials.%s/v1/%s:signBlob", universeDomain, internal.FormatIAMServiceAccountName(email))
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("googleauth: unable to create signBlob request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok.Value)

	resp, err := a.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("googleauth: signBlob request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := internal.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("googleauth: unable to read signBlob response: %w", err)
	}
	if c := resp.StatusCode; c < 200 || c > 299 {
		return nil, fmt.Errorf("googleauth: signBlob status code %d: %s", c, body)
	}

	var signResp struct {
		KeyID      string `json:"keyId"`
		SignedBlob string `json:"signedBlob"`
	}
	if err := json.Unmarshal(body, &signResp); err != nil {
		return nil, fmt.Errorf("googleauth: unable to parse signBlob response: %w", err)
	}
	return base64.StdEncoding.DecodeString(signResp.SignedBlob)
}

// privateKeyFromJSON reports whether b is a service-account credential
// file carrying a usable private key, parsing it if so.
func privateKeyFromJSON(b []byte) (*rsa.PrivateKey, bool) {
	if len(b) == 0 {
		return nil, false
	}
	t, err := credsfile.ParseFileType(b)
	if err != nil || t != credsfile.ServiceAccountKey {
		return nil, false
	}
	f, err := credsfile.ParseServiceAccount(b)
	if err != nil || f.PrivateKey == "" {
		return nil, false
	}
	pk, err := internal.ParseKey([]byte(f.PrivateKey))
	if err != nil {
		return nil, false
	}
	return pk, true
}

// serviceAccountEmailAndUniverse resolves the service account this
// credential should sign as, for the remote signBlob path: an
// impersonated-service-account file names its target directly; a
// compute-metadata-sourced credential (no JSON at all) is asked the
// metadata server; anything else has no signing-capable service account.
func serviceAccountEmailAndUniverse(ctx context.Context, b []byte) (email, universeDomain string, err error) {
	if len(b) == 0 {
		if !metadata.OnGCE() {
			return "", "", nil
		}
		c := metadata.NewClient(&http.Client{})
		email, err = c.GetWithContext(ctx, "instance/service-accounts/default/email")
		if err != nil {
			return "", "", fmt.Errorf("googleauth: unable to resolve service account email from metadata: %w", err)
		}
		return strings.TrimSpace(email), internal.DefaultUniverseDomain, nil
	}
	t, err := credsfile.ParseFileType(b)
	if err != nil {
		return "", "", err
	}
	if t != credsfile.ImpersonatedServiceAccountKey {
		return "", "", nil
	}
	f, err := credsfile.ParseImpersonatedServiceAccount(b)
	if err != nil {
		return "", "", err
	}
	account := filepath.Base(f.ServiceAccountImpersonationURL)
	account = strings.Split(account, ":")[0]
	if account == "" || account == "." {
		return "", "", newErr(KindSignUnsupported, "unable to determine impersonation target from credentials")
	}
	ud := f.UniverseDomain
	if ud == "" {
		ud = internal.DefaultUniverseDomain
	}
	return account, ud, nil
}
