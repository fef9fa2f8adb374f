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
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/googleapis/google-auth-library-go/internal"
	"github.com/googleapis/google-auth-library-go/internal/credsfile"
)

// urlSubjectProvider retrieves a subject token by making an HTTP GET request
// to a configured URL, either returning the raw response body or extracting
// a field from a JSON response.
type urlSubjectProvider struct {
	URL     string
	Headers map[string]string
	Format  *credsfile.Format
	Client  *http.Client
}

func (p *urlSubjectProvider) subjectToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", p.URL, nil)
	if err != nil {
		return "", fmt.Errorf("externalaccount: failed to create credential_source url request: %w", err)
	}
	for k, v := range p.Headers {
		req.Header.Add(k, v)
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("externalaccount: invalid response when retrieving subject token: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := internal.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("externalaccount: failed to read response body: %w", err)
	}
	if c := resp.StatusCode; c < 200 || c > 299 {
		return "", fmt.Errorf("externalaccount: status code %d: %s", c, respBody)
	}

	if p.Format == nil || p.Format.Type == "" || p.Format.Type == fileTypeText {
		return string(respBody), nil
	}
	if p.Format.Type != fileTypeJSON {
		return "", fmt.Errorf("externalaccount: invalid credential_source url format %q", p.Format.Type)
	}
	if p.Format.SubjectTokenFieldName == "" {
		return "", fmt.Errorf("externalaccount: missing subject_token_field_name for JSON credential_source url")
	}
	var jsonData map[string]interface{}
	if err := json.Unmarshal(respBody, &jsonData); err != nil {
		return "", fmt.Errorf("externalaccount: failed to unmarshal subject token response: %w", err)
	}
	val, ok := jsonData[p.Format.SubjectTokenFieldName]
	if !ok {
		return "", fmt.Errorf("externalaccount: %q field not present in response", p.Format.SubjectTokenFieldName)
	}
	token, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("externalaccount: %q field in response is not a string", p.Format.SubjectTokenFieldName)
	}
	return token, nil
}
