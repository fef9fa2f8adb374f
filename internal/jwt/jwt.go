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

// Package jwt encodes, signs, verifies and decodes the compact JWS
// representation of a JWT used throughout this module's 2-legged OAuth and
// self-signed JWT flows.
package jwt

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// HeaderAlgRSA256 is the JWT header "alg" value for RSA-SHA256.
	HeaderAlgRSA256 = "RS256"
	// HeaderType is the JWT header "typ" value used by this package.
	HeaderType = "JWT"
)

// Header represents the header for the signed JWS payloads used to request
// a token.
type Header struct {
	Algorithm string `json:"alg"`
	Type      string `json:"typ"`
	KeyID     string `json:"kid,omitempty"`
}

func (h *Header) encode() (string, error) {
	b, err := json.Marshal(h)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Claims represents the claims set for a JWT.
type Claims struct {
	Iss   string `json:"iss"`
	Scope string `json:"scope,omitempty"`
	Aud   string `json:"aud"`
	Exp   int64  `json:"exp"`
	Iat   int64  `json:"iat"`
	Typ   string `json:"typ,omitempty"`
	Sub   string `json:"sub,omitempty"`

	// AdditionalClaims allows callers to add additional claims to the
	// JWT payload.
	AdditionalClaims map[string]interface{} `json:"-"`
}

func (c *Claims) encode() (string, error) {
	// Reverting time back for machines whose time is not perfectly in sync.
	// If client machine's time is in the future according to Google servers,
	// an access token will be created which is not yet valid. If client time
	// is in the past, it is more likely that the token will be created with
	// a past expiration time, thus being immediately invalid.
	now := time.Now().Add(-10 * time.Second)
	if c.Iat == 0 {
		c.Iat = now.Unix()
	}
	if c.Exp == 0 {
		c.Exp = now.Add(time.Hour).Unix()
	}
	if len(c.AdditionalClaims) == 0 {
		b, err := json.Marshal(c)
		if err != nil {
			return "", err
		}
		return base64.RawURLEncoding.EncodeToString(b), nil
	}

	// Perform a merge between the standard claims and the additional claims
	// so that the output is a single, flat JSON object.
	m := make(map[string]interface{}, len(c.AdditionalClaims)+6)
	for k, v := range c.AdditionalClaims {
		m[k] = v
	}
	m["iss"] = c.Iss
	if c.Scope != "" {
		m["scope"] = c.Scope
	}
	m["aud"] = c.Aud
	m["exp"] = c.Exp
	m["iat"] = c.Iat
	if c.Typ != "" {
		m["typ"] = c.Typ
	}
	if c.Sub != "" {
		m["sub"] = c.Sub
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// EncodeJWS encodes the header and claim set as the compact serialization of
// a JSON Web Signature, signed with privateKey.
func EncodeJWS(header *Header, c *Claims, privateKey *rsa.PrivateKey) (string, error) {
	head, err := header.encode()
	if err != nil {
		return "", err
	}
	cs, err := c.encode()
	if err != nil {
		return "", err
	}
	ss := fmt.Sprintf("%s.%s", head, cs)
	h := sha256.New()
	h.Write([]byte(ss))
	sig, err := rsa.SignPKCS1v15(rand.Reader, privateKey, crypto.SHA256, h.Sum(nil))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s.%s", ss, base64.RawURLEncoding.EncodeToString(sig)), nil
}

// VerifyJWS tests whether the provided JWT token's signature was produced by
// the private key associated with publicKey.
func VerifyJWS(token string, publicKey *rsa.PublicKey) error {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return errors.New("auth/internal/jwt: token is not a valid JWT")
	}
	signedContent := parts[0] + "." + parts[1]
	signatureString, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return err
	}
	h := sha256.New()
	h.Write([]byte(signedContent))
	return rsa.VerifyPKCS1v15(publicKey, crypto.SHA256, h.Sum(nil), signatureString)
}

// DecodeJWS decodes a claim set from a JWS payload.
func DecodeJWS(payload string) (*Claims, error) {
	parts := strings.Split(payload, ".")
	if len(parts) < 2 {
		return nil, errors.New("auth/internal/jwt: malformed JWT, expected 3 parts got " + fmt.Sprint(len(parts)))
	}
	decoded, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, err
	}
	c := &Claims{}
	if err := json.Unmarshal(decoded, c); err != nil {
		return nil, err
	}
	// AdditionalClaims is not populated by json.Unmarshal since it has a "-"
	// tag; capture any extra fields that aren't part of the known set so
	// round-tripping through DecodeJWS preserves custom claims too.
	var raw map[string]interface{}
	if err := json.Unmarshal(decoded, &raw); err == nil {
		known := map[string]bool{"iss": true, "scope": true, "aud": true, "exp": true, "iat": true, "typ": true, "sub": true}
		extra := make(map[string]interface{})
		for k, v := range raw {
			if !known[k] {
				extra[k] = v
			}
		}
		if len(extra) > 0 {
			c.AdditionalClaims = extra
		}
	}
	return c, nil
}
