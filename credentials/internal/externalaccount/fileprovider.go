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
	"os"
	"strings"

	"github.com/googleapis/google-auth-library-go/internal"
	"github.com/googleapis/google-auth-library-go/internal/credsfile"
)

const (
	fileTypeText = "text"
	fileTypeJSON = "json"
)

// fileSubjectProvider reads a subject token from a local file, either as raw
// text or as a field within a JSON document.
type fileSubjectProvider struct {
	File   string
	Format *credsfile.Format
}

func (p *fileSubjectProvider) subjectToken(context.Context) (string, error) {
	tokenFile, err := os.Open(p.File)
	if err != nil {
		return "", fmt.Errorf("externalaccount: failed to open credential file %q: %w", p.File, err)
	}
	defer tokenFile.Close()

	tokenBytes, err := internal.ReadAll(tokenFile)
	if err != nil {
		return "", fmt.Errorf("externalaccount: failed to read credential file: %w", err)
	}
	tokenBytes = []byte(strings.TrimSpace(string(tokenBytes)))

	if p.Format == nil || p.Format.Type == "" || p.Format.Type == fileTypeText {
		return string(tokenBytes), nil
	}
	if p.Format.Type != fileTypeJSON {
		return "", fmt.Errorf("externalaccount: invalid credential_source file format %q", p.Format.Type)
	}
	if p.Format.SubjectTokenFieldName == "" {
		return "", fmt.Errorf("externalaccount: missing subject_token_field_name for JSON credential_source file")
	}
	var jsonData map[string]interface{}
	if err := json.Unmarshal(tokenBytes, &jsonData); err != nil {
		return "", fmt.Errorf("externalaccount: failed to unmarshal credential file: %w", err)
	}
	val, ok := jsonData[p.Format.SubjectTokenFieldName]
	if !ok {
		return "", fmt.Errorf("externalaccount: %q field not present in credential file", p.Format.SubjectTokenFieldName)
	}
	token, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("externalaccount: %q field in credential file is not a string", p.Format.SubjectTokenFieldName)
	}
	return token, nil
}
