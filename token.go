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

// Package auth provides the low-level primitives shared by every credential
// client: the [Token] and [TokenProvider] types, a coalescing cache around a
// [TokenProvider], and the [Credentials] type used to carry a token provider
// alongside project id, quota project id, and universe domain metadata.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// defaultExpiryDelta is how far before the real expiry a [Token] is
// considered used up, giving callers a safety margin to finish using it.
const defaultExpiryDelta = 10 * time.Second

// for testing
var timeNow = time.Now

// TokenProvider specifies an interface for anything that can return a token.
type TokenProvider interface {
	// Token returns a Token or an error.
	// The Token returned must be safe to use concurrently.
	// The returned Token must not be modified.
	// The context provided must be sent along to any requests that are made
	// in the implementing code.
	Token(context.Context) (*Token, error)
}

// Token holds the credential token used to authorize requests. All fields
// are considered read-only.
type Token struct {
	// Value is the token used to authorize requests. It is usually an
	// access token but may be other types of tokens such as ID tokens in
	// some flows.
	Value string
	// Type is the type of token Value is. If uninitialized, it should be
	// assumed to be a "Bearer" token.
	Type string
	// Expiry is the time the token is set to expire. The zero value means
	// the token does not expire.
	Expiry time.Time
	// Metadata may include, but is not limited to, the body of the token
	// response returned by the server.
	Metadata map[string]interface{}
}

// MetadataString returns the string value of a Metadata entry, or the empty
// string if the key is absent or not a string.
func (t *Token) MetadataString(key string) string {
	if t == nil || t.Metadata == nil {
		return ""
	}
	s, _ := t.Metadata[key].(string)
	return s
}

// IsValid reports that a [Token] is non-nil, has a [Token.Value], and has
// not expired. A token is considered expired if [Token.Expiry] has passed or
// will pass in the next 10 seconds.
func (t *Token) IsValid() bool {
	return t.isValidWithEarlyExpiry(defaultExpiryDelta)
}

func (t *Token) isValidWithEarlyExpiry(earlyExpiry time.Duration) bool {
	if t == nil || t.Value == "" {
		return false
	}
	if t.Expiry.IsZero() {
		return true
	}
	return !t.Expiry.Round(0).Add(-earlyExpiry).Before(timeNow())
}

// CachedTokenProviderOptions provides options for configuring a
// [CachedTokenProvider].
type CachedTokenProviderOptions struct {
	// DisableAutoRefresh makes the TokenProvider always return the same
	// token, even if it is expired.
	DisableAutoRefresh bool
	// ExpireEarly configures the amount of time before a token expires that
	// it should be refreshed.
	ExpireEarly time.Duration
	// ForceRefreshOnFailure makes the provider return the last-cached token,
	// even if stale, when a refresh attempt fails, rather than propagating
	// the error. The refresh error itself is then not returned.
	ForceRefreshOnFailure bool
}

func (ctpo *CachedTokenProviderOptions) autoRefresh() bool {
	if ctpo == nil {
		return true
	}
	return !ctpo.DisableAutoRefresh
}

func (ctpo *CachedTokenProviderOptions) expireEarly() time.Duration {
	if ctpo == nil {
		return defaultExpiryDelta
	}
	return ctpo.ExpireEarly
}

func (ctpo *CachedTokenProviderOptions) forceRefreshOnFailure() bool {
	if ctpo == nil {
		return false
	}
	return ctpo.ForceRefreshOnFailure
}

// NewCachedTokenProvider wraps a [TokenProvider] to cache the tokens
// returned by the underlying provider, coalescing concurrent refreshes into
// a single call to the wrapped provider.
func NewCachedTokenProvider(tp TokenProvider, opts *CachedTokenProviderOptions) TokenProvider {
	if ctp, ok := tp.(*cachedTokenProvider); ok {
		return ctp
	}
	return &cachedTokenProvider{
		tp:                    tp,
		autoRefresh:           opts.autoRefresh(),
		expireEarly:           opts.expireEarly(),
		forceRefreshOnFailure: opts.forceRefreshOnFailure(),
	}
}

// cachedTokenProvider is the single-flight refresh engine shared by every
// credential client. At most one refresh of the wrapped TokenProvider is
// ever in flight; additional callers that arrive while a refresh is running
// are satisfied by that same refresh instead of starting their own.
type cachedTokenProvider struct {
	tp                    TokenProvider
	autoRefresh           bool
	expireEarly           time.Duration
	forceRefreshOnFailure bool

	mu          sync.Mutex
	cachedToken *Token
	pending     *refreshCall
}

// refreshCall represents a single in-flight call to the wrapped
// TokenProvider. Callers that join an existing call wait on done; the
// goroutine that owns the call populates token/err and closes done exactly
// once.
type refreshCall struct {
	done  chan struct{}
	token *Token
	err   error
}

func (c *cachedTokenProvider) Token(ctx context.Context) (*Token, error) {
	c.mu.Lock()
	if c.cachedToken.isValidWithEarlyExpiry(c.expireEarly) || (!c.autoRefresh && c.cachedToken != nil) {
		t := c.cachedToken
		c.mu.Unlock()
		return t, nil
	}
	call := c.pending
	staleToken := c.cachedToken
	if call == nil {
		call = &refreshCall{done: make(chan struct{})}
		c.pending = call
		c.mu.Unlock()
		go c.refresh(call, staleToken)
	} else {
		c.mu.Unlock()
	}

	select {
	case <-call.done:
		return call.token, call.err
	case <-ctx.Done():
		// Another caller may still be waiting on call.done; the refresh
		// keeps running on its own context and will populate the cache for
		// them. This caller simply stops waiting.
		return nil, ctx.Err()
	}
}

// refresh performs exactly one call to the wrapped TokenProvider on behalf
// of every caller that joined this refreshCall, irrespective of whether any
// individual caller has since given up waiting.
func (c *cachedTokenProvider) refresh(call *refreshCall, staleToken *Token) {
	t, err := c.tp.Token(context.Background())
	c.mu.Lock()
	if err != nil {
		if c.forceRefreshOnFailure && staleToken != nil {
			call.token, call.err = staleToken, nil
		} else {
			call.token, call.err = nil, err
		}
	} else {
		c.cachedToken = t
		call.token, call.err = t, nil
	}
	c.pending = nil
	c.mu.Unlock()
	close(call.done)
}

// Error is an error associated with retrieving a [Token]. It can hold useful
// additional details for debugging.
type Error struct {
	// Response is the HTTP response associated with error. The body will
	// always be already closed and consumed.
	Response *http.Response
	// Body is the HTTP response body.
	Body []byte
	// Err is the underlying wrapped error.
	Err error

	// code returned in the token response
	code string
	// description returned in the token response
	description string
	// uri returned in the token response
	uri string
}

func (r *Error) Error() string {
	if r.code != "" {
		s := fmt.Sprintf("auth: %q", r.code)
		if r.description != "" {
			s += fmt.Sprintf(" %q", r.description)
		}
		if r.uri != "" {
			s += fmt.Sprintf(" %q", r.uri)
		}
		return s
	}
	if r.Response != nil {
		return fmt.Sprintf("auth: cannot fetch token: %v\nResponse: %s", r.Response.StatusCode, r.Body)
	}
	return fmt.Sprintf("auth: %v", r.Err)
}

// Temporary returns true if the error is considered temporary and may be
// able to be retried.
func (e *Error) Temporary() bool {
	if e.Response == nil {
		return false
	}
	sc := e.Response.StatusCode
	return sc == 500 || sc == 503 || sc == 408 || sc == 429
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Style describes how the token endpoint wants to receive the ClientID and
// ClientSecret.
type Style int

const (
	// StyleUnknown means the value has not been initiated. Sending this in
	// a request will cause the token exchange to fail.
	StyleUnknown Style = 0
	// StyleInParams sends client info in the body of a POST request.
	StyleInParams Style = 1
	// StyleInHeader sends client info using a Basic Authorization header.
	StyleInHeader Style = 2
)
