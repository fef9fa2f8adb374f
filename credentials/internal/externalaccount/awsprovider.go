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
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/googleapis/google-auth-library-go/internal"
)

const (
	awsDefaultRegionalCredVerificationURL = "https://sts.{region}.amazonaws.com?Action=GetCallerIdentity&Version=2011-06-15"
	awsDefaultIMDSv2SessionTTL             = "300"
	awsTimeFormatLong                      = "20060102T150405Z"
	awsTimeFormatShort                     = "20060102"
	awsRequestType                         = "aws4_request"
	awsAlgorithm                           = "AWS4-HMAC-SHA256"
	awsSecurityCredentialsEndpoint         = "http://169.254.169.254/latest/meta-data/iam/security-credentials"
	awsIMDSv2SessionTokenURL               = "http://169.254.169.254/latest/api/token"
	awsIMDSv2SessionTokenTTLHeader          = "X-Aws-Ec2-Metadata-Token-Ttl-Seconds"
	awsIMDSv2SessionTokenHeader             = "X-Aws-Ec2-Metadata-Token"
)

// awsSecurityCredentials models the JSON document returned by the AWS
// metadata server's role-credential endpoint.
type awsSecurityCredentials struct {
	AccessKeyID     string `json:"AccessKeyId"`
	SecretAccessKey string `json:"SecretAccessKey"`
	SecurityToken   string `json:"Token"`
}

// awsSubjectProvider retrieves a subject token by constructing a signed AWS
// "GetCallerIdentity" request and encoding it the way Google's Security
// Token Service expects for workload identity federation from AWS.
type awsSubjectProvider struct {
	EnvironmentID               string
	RegionURL                   string
	RegionalCredVerificationURL string
	CredVerificationURL         string
	IMDSv2SessionTokenURL       string
	TargetResource              string
	Client                      *http.Client

	region string
}

func (p *awsSubjectProvider) client() *http.Client {
	if p.Client != nil {
		return p.Client
	}
	return http.DefaultClient
}

func (p *awsSubjectProvider) imdsv2SessionToken(ctx context.Context) (string, error) {
	if p.IMDSv2SessionTokenURL == "" {
		return "", nil
	}
	req, err := http.NewRequestWithContext(ctx, "PUT", p.IMDSv2SessionTokenURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set(awsIMDSv2SessionTokenTTLHeader, awsDefaultIMDSv2SessionTTL)
	resp, err := p.client().Do(req)
	if err != nil {
		return "", fmt.Errorf("externalaccount: failed to retrieve AWS IMDSv2 session token: %w", err)
	}
	defer resp.Body.Close()
	body, err := internal.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("externalaccount: unable to retrieve AWS IMDSv2 session token: status %d: %s", resp.StatusCode, body)
	}
	return string(body), nil
}

// awsRegion returns the AWS region the instance is running in, preferring
// the explicit AWS_REGION/AWS_DEFAULT_REGION environment variables (set
// inside Lambda and other AWS-managed environments) over the EC2 metadata
// service.
func (p *awsSubjectProvider) awsRegion(ctx context.Context, sessionToken string) (string, error) {
	if p.region != "" {
		return p.region, nil
	}
	if region := os.Getenv("AWS_REGION"); region != "" {
		p.region = region
		return region, nil
	}
	if region := os.Getenv("AWS_DEFAULT_REGION"); region != "" {
		p.region = region
		return region, nil
	}
	if p.RegionURL == "" {
		return "", errors.New("externalaccount: unable to determine AWS region")
	}
	req, err := http.NewRequestWithContext(ctx, "GET", p.RegionURL, nil)
	if err != nil {
		return "", err
	}
	if sessionToken != "" {
		req.Header.Set(awsIMDSv2SessionTokenHeader, sessionToken)
	}
	resp, err := p.client().Do(req)
	if err != nil {
		return "", fmt.Errorf("externalaccount: failed to retrieve AWS region: %w", err)
	}
	defer resp.Body.Close()
	body, err := internal.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("externalaccount: unable to retrieve AWS region: status %d: %s", resp.StatusCode, body)
	}
	// The AZ-format response (e.g. "us-east-1a") has the availability zone
	// letter trimmed to yield the region.
	az := string(body)
	if len(az) > 0 {
		return az[:len(az)-1], nil
	}
	return az, nil
}

// awsCredentials fetches the security credentials for the role attached to
// the current EC2 instance, preferring the AWS_ACCESS_KEY_ID family of
// environment variables when present (as set by Lambda, ECS, and other AWS
// compute environments).
func (p *awsSubjectProvider) awsCredentials(ctx context.Context, sessionToken string) (*awsSecurityCredentials, error) {
	if ak := os.Getenv("AWS_ACCESS_KEY_ID"); ak != "" {
		if sk := os.Getenv("AWS_SECRET_ACCESS_KEY"); sk != "" {
			return &awsSecurityCredentials{
				AccessKeyID:     ak,
				SecretAccessKey: sk,
				SecurityToken:   os.Getenv("AWS_SESSION_TOKEN"),
			}, nil
		}
	}

	roleReq, err := http.NewRequestWithContext(ctx, "GET", awsSecurityCredentialsEndpoint, nil)
	if err != nil {
		return nil, err
	}
	if sessionToken != "" {
		roleReq.Header.Set(awsIMDSv2SessionTokenHeader, sessionToken)
	}
	roleResp, err := p.client().Do(roleReq)
	if err != nil {
		return nil, fmt.Errorf("externalaccount: failed to retrieve AWS role name: %w", err)
	}
	defer roleResp.Body.Close()
	roleBody, err := internal.ReadAll(roleResp.Body)
	if err != nil {
		return nil, err
	}
	if roleResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("externalaccount: unable to retrieve AWS role name: status %d: %s", roleResp.StatusCode, roleBody)
	}
	role := strings.TrimSpace(string(roleBody))
	if role == "" {
		return nil, errors.New("externalaccount: empty AWS role name from metadata service")
	}

	credReq, err := http.NewRequestWithContext(ctx, "GET", awsSecurityCredentialsEndpoint+"/"+role, nil)
	if err != nil {
		return nil, err
	}
	if sessionToken != "" {
		credReq.Header.Set(awsIMDSv2SessionTokenHeader, sessionToken)
	}
	credResp, err := p.client().Do(credReq)
	if err != nil {
		return nil, fmt.Errorf("externalaccount: failed to retrieve AWS security credentials: %w", err)
	}
	defer credResp.Body.Close()
	credBody, err := internal.ReadAll(credResp.Body)
	if err != nil {
		return nil, err
	}
	if credResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("externalaccount: unable to retrieve AWS security credentials: status %d: %s", credResp.StatusCode, credBody)
	}
	var creds awsSecurityCredentials
	if err := json.Unmarshal(credBody, &creds); err != nil {
		return nil, fmt.Errorf("externalaccount: unable to parse AWS security credentials: %w", err)
	}
	return &creds, nil
}

func (p *awsSubjectProvider) regionalCredVerificationURL(region string) string {
	tmpl := p.RegionalCredVerificationURL
	if tmpl == "" {
		tmpl = awsDefaultRegionalCredVerificationURL
	}
	return strings.ReplaceAll(tmpl, "{region}", region)
}

// subjectToken signs a GetCallerIdentity request and packages it into the
// JSON structure the Security Token Service expects for an AWS subject
// token.
func (p *awsSubjectProvider) subjectToken(ctx context.Context) (string, error) {
	sessionToken, err := p.imdsv2SessionToken(ctx)
	if err != nil {
		return "", err
	}
	region, err := p.awsRegion(ctx, sessionToken)
	if err != nil {
		return "", err
	}
	creds, err := p.awsCredentials(ctx, sessionToken)
	if err != nil {
		return "", err
	}

	reqURL := p.regionalCredVerificationURL(region)
	now := time.Now().UTC()
	headers, err := p.signGetCallerIdentity(reqURL, region, now, creds)
	if err != nil {
		return "", err
	}

	type awsRequestHeader struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	var headerList []awsRequestHeader
	for k, v := range headers {
		headerList = append(headerList, awsRequestHeader{Key: k, Value: v})
	}
	sort.Slice(headerList, func(i, j int) bool { return headerList[i].Key < headerList[j].Key })

	result := struct {
		URL     string             `json:"url"`
		Method  string             `json:"method"`
		Headers []awsRequestHeader `json:"headers"`
	}{
		URL:     reqURL,
		Method:  "POST",
		Headers: headerList,
	}
	b, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("externalaccount: failed to marshal AWS subject token: %w", err)
	}
	return url.QueryEscape(string(b)), nil
}

// signGetCallerIdentity computes the AWS Signature Version 4 headers for a
// POST GetCallerIdentity request to reqURL.
func (p *awsSubjectProvider) signGetCallerIdentity(reqURL, region string, now time.Time, creds *awsSecurityCredentials) (map[string]string, error) {
	parsed, err := url.Parse(reqURL)
	if err != nil {
		return nil, err
	}
	amzDate := now.Format(awsTimeFormatLong)
	dateStamp := now.Format(awsTimeFormatShort)

	headers := map[string]string{
		"host":       parsed.Host,
		"x-amz-date": amzDate,
	}
	if creds.SecurityToken != "" {
		headers["x-amz-security-token"] = creds.SecurityToken
	}
	if p.TargetResource != "" {
		headers["x-goog-cloud-target-resource"] = p.TargetResource
	}

	canonicalHeaders, signedHeaders := canonicalizeHeaders(headers)
	canonicalRequest := strings.Join([]string{
		"POST",
		parsed.Path,
		parsed.RawQuery,
		canonicalHeaders,
		signedHeaders,
		sha256Hex(nil),
	}, "\n")

	credentialScope := fmt.Sprintf("%s/%s/sts/%s", dateStamp, region, awsRequestType)
	stringToSign := strings.Join([]string{
		awsAlgorithm,
		amzDate,
		credentialScope,
		sha256Hex([]byte(canonicalRequest)),
	}, "\n")

	signingKey := awsSigningKey(creds.SecretAccessKey, dateStamp, region, "sts")
	signature := hex.EncodeToString(hmacSHA256(signingKey, stringToSign))

	authHeader := fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		awsAlgorithm, creds.AccessKeyID, credentialScope, signedHeaders, signature)

	headers["Authorization"] = authHeader
	return headers, nil
}

func canonicalizeHeaders(headers map[string]string) (canonical, signed string) {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, strings.ToLower(k))
	}
	sort.Strings(keys)

	var cb strings.Builder
	for _, k := range keys {
		cb.WriteString(k)
		cb.WriteString(":")
		cb.WriteString(strings.TrimSpace(headers[k]))
		cb.WriteString("\n")
	}
	return cb.String(), strings.Join(keys, ";")
}

func hmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return h.Sum(nil)
}

func sha256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func awsSigningKey(secret, dateStamp, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secret), dateStamp)
	kRegion := hmacSHA256(kDate, region)
	kService := hmacSHA256(kRegion, service)
	return hmacSHA256(kService, awsRequestType)
}
