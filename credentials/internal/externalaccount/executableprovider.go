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

package externalaccount

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/googleapis/google-auth-library-go/internal"
	"github.com/googleapis/google-auth-library-go/internal/credsfile"
)

const (
	executableSupportedMaxVersion = 1
	defaultExecutableTimeout      = 30 * time.Second
	executableTimeoutMinimum      = 5 * time.Second
	executableTimeoutMaximum      = 120 * time.Second
	executableSourceResponse      = "response"
	executableSourceOutputFile    = "output file"

	allowExecutablesEnvVar = "GOOGLE_EXTERNAL_ACCOUNT_ALLOW_EXECUTABLES"
)

var serviceAccountImpersonationRE = regexp.MustCompile(`https://iamcredentials\.googleapis\.com/v1/projects/-/serviceAccounts/(.*@.*):generateAccessToken`)

// nonCacheableError marks an error as one that should not be persisted to
// the executable's output file cache.
type nonCacheableError struct {
	message string
}

func (e nonCacheableError) Error() string { return e.message }

// executableEnvironment abstracts the OS so tests can substitute a fake
// process environment and clock.
type executableEnvironment interface {
	existingEnv() []string
	getenv(string) string
	run(ctx context.Context, command string, env []string) ([]byte, error)
	now() time.Time
}

type runtimeEnvironment struct{}

func (runtimeEnvironment) existingEnv() []string { return os.Environ() }
func (runtimeEnvironment) getenv(key string) string { return os.Getenv(key) }
func (runtimeEnvironment) now() time.Time { return time.Now().UTC() }

func (runtimeEnvironment) run(ctx context.Context, command string, env []string) ([]byte, error) {
	fields := strings.Fields(command)
	cmd := exec.CommandContext(ctx, fields[0], fields[1:]...)
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, context.DeadlineExceeded
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("externalaccount: executable command failed with exit code %v", exitErr.ExitCode())
		}
		return nil, fmt.Errorf("externalaccount: executable command failed: %w", err)
	}

	out := bytes.TrimSpace(stdout.Bytes())
	if len(out) > 0 {
		return out, nil
	}
	return bytes.TrimSpace(stderr.Bytes()), nil
}

// executableSubjectProvider retrieves a subject token by running a locally
// configured executable and parsing its stdout, optionally first checking a
// cached output file.
type executableSubjectProvider struct {
	Command    string
	Timeout    time.Duration
	OutputFile string

	client *http.Client
	opts   *Options
	env    executableEnvironment
}

// newExecutableSubjectProvider builds an executableSubjectProvider from an
// executable credential_source block, applying defaulting and validation.
func newExecutableSubjectProvider(client *http.Client, ec *credsfile.ExecutableConfig, opts *Options) (*executableSubjectProvider, error) {
	if ec.Command == "" {
		return nil, errors.New("externalaccount: missing `command` field — executable command must be provided")
	}
	p := &executableSubjectProvider{
		Command:    ec.Command,
		OutputFile: ec.OutputFile,
		client:     client,
		opts:       opts,
		env:        runtimeEnvironment{},
	}
	if ec.TimeoutMillis == nil {
		p.Timeout = defaultExecutableTimeout
	} else {
		p.Timeout = time.Duration(*ec.TimeoutMillis) * time.Millisecond
		if p.Timeout < executableTimeoutMinimum || p.Timeout > executableTimeoutMaximum {
			return nil, errors.New("externalaccount: invalid `timeout_millis` field — executable timeout must be between 5 and 120 seconds")
		}
	}
	return p, nil
}

type executableResponse struct {
	Version        int    `json:"version,omitempty"`
	Success        *bool  `json:"success,omitempty"`
	TokenType      string `json:"token_type,omitempty"`
	ExpirationTime int64  `json:"expiration_time,omitempty"`
	IDToken        string `json:"id_token,omitempty"`
	SamlResponse   string `json:"saml_response,omitempty"`
	Code           string `json:"code,omitempty"`
	Message        string `json:"message,omitempty"`
}

func (p *executableSubjectProvider) parseSubjectTokenFromSource(response []byte, source string, now int64) (string, error) {
	var result executableResponse
	if err := json.Unmarshal(response, &result); err != nil {
		return "", fmt.Errorf("externalaccount: unable to parse %q: %s", source, response)
	}
	if result.Version == 0 {
		return "", fmt.Errorf("externalaccount: %q missing %q field", source, "version")
	}
	if result.Success == nil {
		return "", fmt.Errorf("externalaccount: %q missing %q field", source, "success")
	}
	if !*result.Success {
		if result.Code == "" || result.Message == "" {
			return "", nonCacheableError{"externalaccount: response must include `code` and `message` fields when unsuccessful"}
		}
		return "", nonCacheableError{fmt.Sprintf("externalaccount: response contains unsuccessful response: (%v) %v", result.Code, result.Message)}
	}
	if result.Version > executableSupportedMaxVersion || result.Version < 0 {
		return "", fmt.Errorf("externalaccount: %v contains unsupported version: %v", source, result.Version)
	}
	if result.ExpirationTime == 0 && p.OutputFile != "" {
		return "", fmt.Errorf("externalaccount: %q missing %q field", source, "expiration_time")
	}
	if result.TokenType == "" {
		return "", fmt.Errorf("externalaccount: %q missing %q field", source, "token_type")
	}
	if result.ExpirationTime != 0 && result.ExpirationTime < now {
		return "", nonCacheableError{"externalaccount: the token returned by the executable is expired"}
	}

	switch result.TokenType {
	case "urn:ietf:params:oauth:token-type:jwt", "urn:ietf:params:oauth:token-type:id_token":
		if result.IDToken == "" {
			return "", fmt.Errorf("externalaccount: %q missing %q field", source, "id_token")
		}
		return result.IDToken, nil
	case "urn:ietf:params:oauth:token-type:saml2":
		if result.SamlResponse == "" {
			return "", fmt.Errorf("externalaccount: %q missing %q field", source, "saml_response")
		}
		return result.SamlResponse, nil
	default:
		return "", fmt.Errorf("externalaccount: %v contains unsupported token type", source)
	}
}

func (p *executableSubjectProvider) subjectToken(ctx context.Context) (string, error) {
	if token, err := p.tokenFromOutputFile(); token != "" || err != nil {
		return token, err
	}
	return p.tokenFromExecutable(ctx)
}

func (p *executableSubjectProvider) tokenFromOutputFile() (string, error) {
	if p.OutputFile == "" {
		return "", nil
	}
	file, err := os.Open(p.OutputFile)
	if err != nil {
		// Not created yet; fall through to running the executable.
		return "", nil
	}
	defer file.Close()

	data, err := internal.ReadAll(file)
	if err != nil || len(data) == 0 {
		return "", nil
	}

	token, err := p.parseSubjectTokenFromSource(data, executableSourceOutputFile, p.env.now().Unix())
	if err != nil {
		var nce nonCacheableError
		if errors.As(err, &nce) {
			return "", nil
		}
		return "", err
	}
	return token, nil
}

func (p *executableSubjectProvider) executableEnvironment() []string {
	env := p.env.existingEnv()
	env = append(env, fmt.Sprintf("GOOGLE_EXTERNAL_ACCOUNT_AUDIENCE=%v", p.opts.Audience))
	env = append(env, fmt.Sprintf("GOOGLE_EXTERNAL_ACCOUNT_TOKEN_TYPE=%v", p.opts.SubjectTokenType))
	env = append(env, "GOOGLE_EXTERNAL_ACCOUNT_INTERACTIVE=0")
	if p.opts.ServiceAccountImpersonationURL != "" {
		if m := serviceAccountImpersonationRE.FindStringSubmatch(p.opts.ServiceAccountImpersonationURL); m != nil {
			env = append(env, fmt.Sprintf("GOOGLE_EXTERNAL_ACCOUNT_IMPERSONATED_EMAIL=%v", m[1]))
		}
	}
	if p.OutputFile != "" {
		env = append(env, fmt.Sprintf("GOOGLE_EXTERNAL_ACCOUNT_OUTPUT_FILE=%v", p.OutputFile))
	}
	return env
}

func (p *executableSubjectProvider) tokenFromExecutable(ctx context.Context) (string, error) {
	// For security reasons, consumers must explicitly opt in to running
	// executables.
	if p.env.getenv(allowExecutablesEnvVar) != "1" {
		return "", fmt.Errorf("externalaccount: executables need to be explicitly allowed (set %s to '1') to run", allowExecutablesEnvVar)
	}

	ctx, cancel := context.WithDeadline(ctx, p.env.now().Add(p.Timeout))
	defer cancel()

	output, err := p.env.run(ctx, p.Command, p.executableEnvironment())
	if err != nil {
		return "", err
	}
	return p.parseSubjectTokenFromSource(output, executableSourceResponse, p.env.now().Unix())
}
