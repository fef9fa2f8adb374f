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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/googleapis/google-auth-library-go/internal"
	"github.com/googleapis/google-auth-library-go/internal/jwt"
)

// defaultJWTGrantType is the grant_type used for the 2-legged JWT bearer
// flow described in https://tools.ietf.org/html/rfc7523.
const defaultJWTGrantType = "urn:ietf:params:oauth:grant-type:jwt-bearer"

var default2LOHeader = &jwt.Header{Algorithm: jwt.HeaderAlgRSA256, Type: jwt.HeaderType}

// Options2LO is the configuration settings for doing a 2-legged JWT OAuth2
// flow, as used by service account credentials to exchange a self-signed
// JWT assertion for an access (or ID) token.
type Options2LO struct {
	// Email is the OAuth2 client ID. This value is set as the "iss" in the
	// JWT.
	Email string
	// PrivateKey contains the contents of an RSA private key, or the
	// contents of a PEM file that contains a private key. It is used to
	// sign the JWT created.
	PrivateKey []byte
	// PrivateKeyID is the ID of the key used to sign the JWT. It is used as
	// the "kid" in the JWT header.
	PrivateKeyID string
	// Subject is used to impersonate a user. It is used as the "sub" in the
	// JWT and, if set, forces the token-exchange path even when
	// UseIDToken/self-signed JWT would otherwise apply. Optional.
	Subject string
	// Scopes specifies requested permissions for the token. Optional.
	Scopes []string
	// TokenURL is the URL the JWT is sent to. Defaults to
	// https://oauth2.googleapis.com/token.
	TokenURL string
	// Expires specifies the lifetime of the token. Defaults to one hour.
	Expires time.Duration
	// Audience specifies the "aud" in the JWT. Optional.
	Audience string
	// PrivateClaims allows specifying any custom claims for the JWT.
	// Optional.
	PrivateClaims map[string]interface{}

	// Client is the client used to make the underlying token requests.
	// Optional.
	Client *http.Client
	// UseIDToken requests that the token returned be an ID token if one is
	// returned from the server. Optional.
	UseIDToken bool
}

func (o *Options2LO) client() *http.Client {
	if o.Client != nil {
		return o.Client
	}
	return internal.DefaultClient()
}

func (o *Options2LO) tokenURL() string {
	if o.TokenURL != "" {
		return o.TokenURL
	}
	return "https://oauth2.googleapis.com/token"
}

// New2LOTokenProvider returns a [TokenProvider] based on the provided
// fields set on [Options2LO]. It performs the 2-legged JWT exchange on every
// call; wrap the result in [NewCachedTokenProvider] to cache it.
func New2LOTokenProvider(o *Options2LO) (TokenProvider, error) {
	if o == nil {
		return nil, fmt.Errorf("auth: Options2LO must be provided")
	}
	return tokenProvider2LO{o: o, client: o.client()}, nil
}

type tokenProvider2LO struct {
	o      *Options2LO
	client *http.Client
}

func (tp tokenProvider2LO) Token(ctx context.Context) (*Token, error) {
	pk, err := internal.ParseKey(tp.o.PrivateKey)
	if err != nil {
		return nil, err
	}
	claimSet := &jwt.Claims{
		Iss:              tp.o.Email,
		Scope:            strings.Join(tp.o.Scopes, " "),
		Aud:              tp.o.tokenURL(),
		AdditionalClaims: tp.o.PrivateClaims,
	}
	if tp.o.Subject != "" {
		claimSet.Sub = tp.o.Subject
	}
	exp := tp.o.Expires
	if exp <= 0 {
		exp = time.Hour
	}
	claimSet.Exp = time.Now().Add(exp).Unix()
	if tp.o.Audience != "" {
		claimSet.Aud = tp.o.Audience
	}
	h := *default2LOHeader
	h.KeyID = tp.o.PrivateKeyID
	payload, err := jwt.EncodeJWS(&h, claimSet, pk)
	if err != nil {
		return nil, err
	}

	v := url.Values{}
	v.Set("grant_type", defaultJWTGrantType)
	v.Set("assertion", payload)
	req, err := http.NewRequestWithContext(ctx, "POST", tp.o.tokenURL(), strings.NewReader(v.Encode()))
	if err != nil {
		return nil, fmt.Errorf("auth: cannot fetch token: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := tp.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: cannot fetch token: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("auth: cannot fetch token: %w", err)
	}
	if c := resp.StatusCode; c < 200 || c > 299 {
		return nil, &Error{Response: resp, Body: body}
	}

	var tokenRes struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		IDToken     string `json:"id_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tokenRes); err != nil {
		return nil, fmt.Errorf("auth: cannot fetch token: %w", err)
	}
	token := &Token{
		Value: tokenRes.AccessToken,
		Type:  tokenRes.TokenType,
	}
	token.Metadata = make(map[string]interface{})
	json.Unmarshal(body, &token.Metadata) // no error checks for optional fields

	if secs := tokenRes.ExpiresIn; secs > 0 {
		token.Expiry = time.Now().Add(time.Duration(secs) * time.Second)
	}
	if v := tokenRes.IDToken; v != "" {
		claims, err := jwt.DecodeJWS(v)
		if err != nil {
			return nil, fmt.Errorf("auth: error decoding JWT token: %w", err)
		}
		token.Expiry = time.Unix(claims.Exp, 0)
	}
	if tp.o.UseIDToken {
		if tokenRes.IDToken == "" {
			return nil, fmt.Errorf("auth: response doesn't have JWT token")
		}
		token.Value = tokenRes.IDToken
	}
	return token, nil
}

// selfSignedTokenProvider mints a self-signed JWT and uses it directly as
// the bearer token, without ever contacting the token endpoint. This is the
// "useJWTAccessWithScope" mode: it is only valid when no Subject delegation
// is requested, since domain-wide delegation requires the exchange.
type selfSignedTokenProvider struct {
	o  *Options2LO
	kv []byte // not populated; Token parses o.PrivateKey on every call
}

// NewSelfSignedTokenProvider returns a [TokenProvider] that signs a JWT
// locally with o.PrivateKey and uses it directly as the bearer token,
// skipping the token-endpoint round trip entirely.
func NewSelfSignedTokenProvider(o *Options2LO) (TokenProvider, error) {
	if o.Subject != "" {
		return nil, fmt.Errorf("auth: self-signed JWTs do not support subject delegation; use the token-exchange flow instead")
	}
	if _, err := internal.ParseKey(o.PrivateKey); err != nil {
		return nil, err
	}
	return selfSignedTokenProvider{o: o}, nil
}

func (tp selfSignedTokenProvider) Token(ctx context.Context) (*Token, error) {
	pk, err := internal.ParseKey(tp.o.PrivateKey)
	if err != nil {
		return nil, err
	}
	iat := time.Now()
	exp := iat.Add(time.Hour)
	claimSet := &jwt.Claims{
		Iss:              tp.o.Email,
		Sub:              tp.o.Email,
		Scope:            strings.Join(tp.o.Scopes, " "),
		Aud:              tp.o.Audience,
		Iat:              iat.Unix(),
		Exp:              exp.Unix(),
		AdditionalClaims: tp.o.PrivateClaims,
	}
	h := *default2LOHeader
	h.KeyID = tp.o.PrivateKeyID
	payload, err := jwt.EncodeJWS(&h, claimSet, pk)
	if err != nil {
		return nil, err
	}
	return &Token{
		Value:  payload,
		Type:   "Bearer",
		Expiry: exp,
	}, nil
}
