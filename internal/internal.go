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

// Package internal holds code shared between the root auth package and its
// credentials/impersonate/httptransport subpackages that cannot itself
// depend on the root package, to avoid import cycles.
package internal

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/compute/metadata"
)

// Version is the current version of this library, reported in the
// x-goog-api-client header.
const Version = "0.1.0"

// DefaultUniverseDomain is the default value for universe domain when it is
// not provided by a CredentialsPropertyProvider or a credentials file.
const DefaultUniverseDomain = "googleapis.com"

// UniverseDomainEnvVar is the environment variable used to override the
// universe domain reported by a client's credentials.
const UniverseDomainEnvVar = "GOOGLE_CLOUD_UNIVERSE_DOMAIN"

// QuotaProjectEnvVar is the environment variable used to override a
// request's quota project.
const QuotaProjectEnvVar = "GOOGLE_CLOUD_QUOTA_PROJECT"

// ParseKey attempts to parse as many different PEM/PKCS encodings of an RSA
// private key as possible, returning an error only if none succeed. Service
// account JSON files contain a PKCS#1 PEM block; PKCS#8 is accepted too
// because other tooling in the ecosystem emits it.
func ParseKey(key []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(key)
	if block != nil {
		key = block.Bytes
	}
	parsedKey, err := x509.ParsePKCS1PrivateKey(key)
	if err != nil {
		parsedKey2, err2 := x509.ParsePKCS8PrivateKey(key)
		if err2 != nil {
			return nil, fmt.Errorf("auth/internal: private key should be a PEM or plain PKCS1 or PKCS8; parse error: %v, %v", err, err2)
		}
		parsed, ok := parsedKey2.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("auth/internal: private key is not an RSA key")
		}
		return parsed, nil
	}
	return parsedKey, nil
}

// clonableTransport is a transport that can be cloned. http.Transport (the
// typical concrete value of http.DefaultTransport) implements this.
type clonableTransport interface {
	Clone() *http.Transport
}

// DefaultClient returns an *http.Client using the default transport, cloned
// if possible so callers may mutate it (e.g. to add a TLS config) without
// affecting the process-wide http.DefaultTransport.
func DefaultClient() *http.Client {
	if transport, ok := http.DefaultTransport.(clonableTransport); ok {
		return &http.Client{Transport: transport.Clone()}
	}
	return &http.Client{Transport: http.DefaultTransport}
}

// CloneDefaultClient is an alias for [DefaultClient], matching the name used
// by most credential constructors in this module.
func CloneDefaultClient() *http.Client {
	return DefaultClient()
}

// ReadAll reads r up to a generous but bounded limit, to avoid credential
// clients being made to buffer an unbounded amount of memory by a malicious
// or misbehaving server.
func ReadAll(r io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, 2<<20)) // 2 MB
}

// DoJSONRequest issues an HTTP request with the given body against url and
// returns the raw response body, wrapping any non-2xx response or transport
// failure in an error prefixed by errPrefix.
func DoJSONRequest(ctx context.Context, client *http.Client, url, method string, body []byte, errPrefix string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create request: %w", errPrefix, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to send request: %w", errPrefix, err)
	}
	defer resp.Body.Close()
	respBody, err := ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to read response body: %w", errPrefix, err)
	}
	if c := resp.StatusCode; c < 200 || c > 299 {
		return nil, fmt.Errorf("%s: status code %d: %s", errPrefix, c, respBody)
	}
	return respBody, nil
}

// FormatIAMServiceAccountName formats a service account email into the
// resource name expected by the IAM Credentials API.
func FormatIAMServiceAccountName(name string) string {
	return fmt.Sprintf("projects/-/serviceAccounts/%s", name)
}

// StaticCredentialsProperty implements a property provider, such as a
// project id, that is already known and never needs to be resolved
// dynamically. It is a string type, rather than a struct wrapping one, so
// that it can satisfy the root auth package's CredentialsPropertyProvider
// interface without this package needing to import that package.
type StaticCredentialsProperty string

// GetProperty returns the static value of sp, ignoring ctx.
func (sp StaticCredentialsProperty) GetProperty(context.Context) (string, error) {
	return string(sp), nil
}

// httpGetMetadataUniverseDomain is a variable indirection over the metadata
// client call, swapped out in tests.
var httpGetMetadataUniverseDomain = func(ctx context.Context, c *metadata.Client) (string, error) {
	return c.Get("universe/universe_domain")
}

// ComputeUniverseDomainProvider resolves the universe domain for
// credentials sourced from the GCE/GKE/Cloud Run/etc metadata server,
// falling back to [DefaultUniverseDomain] if the metadata server doesn't
// support the universe/universe_domain entry (which is the case on older
// images).
type ComputeUniverseDomainProvider struct {
	universeDomainOnce sync.Once
	universeDomain     string
	universeDomainErr  error
}

// GetProperty returns the universe domain reported by the metadata server,
// or [DefaultUniverseDomain] if the server has no opinion.
func (c *ComputeUniverseDomainProvider) GetProperty(ctx context.Context) (string, error) {
	c.universeDomainOnce.Do(func() {
		client := metadata.NewClient(&http.Client{Timeout: time.Second})
		universeDomain, err := httpGetMetadataUniverseDomain(ctx, client)
		if err != nil {
			if _, ok := err.(metadata.NotDefinedError); ok {
				c.universeDomain, c.universeDomainErr = DefaultUniverseDomain, nil
				return
			}
			c.universeDomainErr = err
			return
		}
		c.universeDomain = universeDomain
	})
	if c.universeDomainErr != nil {
		return "", c.universeDomainErr
	}
	return c.universeDomain, nil
}

// GetProjectID extracts the project id from credentials JSON, preferring an
// explicit override if one is provided.
func GetProjectID(b []byte, override string) string {
	if override != "" {
		return override
	}
	var v struct {
		ProjectID string `json:"project_id"`
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return ""
	}
	return v.ProjectID
}

// GetQuotaProject extracts the quota project id from credentials JSON,
// preferring an explicit override if one is provided.
func GetQuotaProject(b []byte, override string) string {
	if override != "" {
		return override
	}
	var v struct {
		QuotaProjectID string `json:"quota_project_id"`
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return ""
	}
	return v.QuotaProjectID
}

// StripTrailingSlash normalizes a universe domain or endpoint before string
// comparisons and concatenations elsewhere in the module.
func StripTrailingSlash(s string) string {
	return strings.TrimRight(s, "/")
}
