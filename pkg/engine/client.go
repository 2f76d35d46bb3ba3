/*
 * Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
 *
 * WSO2 LLC. licenses this file to you under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

// Package engine is the HTTP client for the Engine data plane: single and
// batch encrypt/decrypt. The Engine's "data is not encrypted" response is a
// distinguished result, not an error, so the hot path can branch on it
// without a catch.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wso2/data-protection/crypto-agent/pkg/constants"
	"github.com/wso2/data-protection/crypto-agent/pkg/metrics"
	"github.com/wso2/data-protection/crypto-agent/pkg/transport"
	"go.uber.org/zap"
)

// Options configures a Client
type Options struct {
	// BasePath is the API prefix under the crypto URL; empty means /v1/crypto
	BasePath string

	// Timeout bounds each call end to end
	Timeout time.Duration

	// CACertPath pins outbound TLS to a single PEM bundle when set
	CACertPath string

	// HubID is sent as the tenant header when non-empty
	HubID string
}

// Client talks to the Engine. The HTTP client is shared and safe for
// concurrent use; routing fields are set once at construction and the client
// is rebuilt, never mutated, when identity or endpoints change.
type Client struct {
	baseURL string
	hubID   string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a client for the Engine at cryptoURL. Construction fails
// when the resulting base path contains the Hub control segment: the data
// plane must never point at a Hub direct-encrypt path.
func NewClient(cryptoURL string, opts Options, logger *zap.Logger) (*Client, error) {
	if cryptoURL == "" {
		return nil, fmt.Errorf("crypto URL is required")
	}

	basePath := opts.BasePath
	if basePath == "" {
		basePath = constants.CryptoAPIBasePath
	}

	parsed, err := url.Parse(cryptoURL)
	if err != nil {
		return nil, fmt.Errorf("invalid crypto URL %q: %w", cryptoURL, err)
	}
	full := strings.TrimSuffix(parsed.Path, "/") + basePath
	if strings.Contains(full, constants.HubControlSegment) {
		return nil, fmt.Errorf("crypto base path %q contains the Hub control segment %q",
			full, constants.HubControlSegment)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = constants.DefaultHTTPTimeout
	}

	httpClient, err := transport.NewHTTPClient(timeout, opts.CACertPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		baseURL: strings.TrimSuffix(cryptoURL, "/") + basePath,
		hubID:   opts.HubID,
		http:    httpClient,
		logger:  logger,
	}, nil
}

// BaseURL returns the resolved data-plane base, for diagnostics.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// DecryptOptions carries the optional policy and mask directives of a
// decrypt call.
type DecryptOptions struct {
	PolicyName     string
	MaskPolicyName string
	MaskPolicyUID  string
}

// DecryptResult is the outcome of a decrypt call. Exactly one of Data or
// NotEncrypted is meaningful: NotEncrypted means the value was never
// encrypted and the caller keeps the original bytes.
type DecryptResult struct {
	Data         string
	NotEncrypted bool
	MaskApplied  bool
}

// BatchEncryptItem is one value of an encrypt/batch request
type BatchEncryptItem struct {
	Data       string `json:"data"`
	PolicyName string `json:"policyName,omitempty"`
}

// BatchDecryptItem is one value of a decrypt/batch request
type BatchDecryptItem struct {
	Data           string `json:"data"`
	MaskPolicyName string `json:"maskPolicyName,omitempty"`
	MaskPolicyUID  string `json:"maskPolicyUid,omitempty"`
}

// BatchResult is one positional outcome of a batch call. Results align with
// request items by index.
type BatchResult struct {
	Success      bool
	Data         string
	NotEncrypted bool
}

// envelope is the Engine's response wrapper. data is either a bare string or
// an object carrying encryptedData/decryptedData.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message,omitempty"`
}

type innerData struct {
	EncryptedData string `json:"encryptedData"`
	DecryptedData string `json:"decryptedData"`
}

// innerString extracts the payload string from either envelope shape.
func (e *envelope) innerString() (string, bool) {
	if len(e.Data) == 0 {
		return "", false
	}

	var s string
	if err := json.Unmarshal(e.Data, &s); err == nil {
		return s, true
	}

	var obj innerData
	if err := json.Unmarshal(e.Data, &obj); err != nil {
		return "", false
	}
	if obj.EncryptedData != "" {
		return obj.EncryptedData, true
	}
	if obj.DecryptedData != "" {
		return obj.DecryptedData, true
	}
	return "", false
}

// Encrypt encrypts one value under the named policy. An empty policyName
// lets the Engine apply its own default.
func (c *Client) Encrypt(ctx context.Context, data, policyName string, forSearch bool) (string, error) {
	const op = "encrypt"

	body := map[string]any{"data": data}
	if policyName != "" {
		body["policyName"] = policyName
	}
	if forSearch {
		body["forSearch"] = true
	}

	raw, status, err := c.post(ctx, op, constants.CryptoPathEncrypt, body)
	if err != nil {
		return "", err
	}
	if status < 200 || status > 299 {
		return "", c.fail(op, &ConnectionError{Op: op, Err: fmt.Errorf("status %d: %s", status, truncate(raw))})
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", c.fail(op, &ConnectionError{Op: op, Err: fmt.Errorf("malformed response: %w", err)})
	}
	if !env.Success {
		return "", c.fail(op, &PolicyError{Op: op, Message: env.Message})
	}
	out, ok := env.innerString()
	if !ok {
		return "", c.fail(op, &ConnectionError{Op: op, Err: fmt.Errorf("response carries no data")})
	}

	metrics.EngineOperationsTotal.WithLabelValues(op, "success").Inc()
	return out, nil
}

// Decrypt decrypts one value. The not-encrypted sentinel is surfaced as a
// result variant independent of HTTP status.
func (c *Client) Decrypt(ctx context.Context, data string, opts DecryptOptions) (DecryptResult, error) {
	const op = "decrypt"

	body := map[string]any{"encryptedData": data}
	if opts.PolicyName != "" {
		body["policyName"] = opts.PolicyName
	}
	if opts.MaskPolicyName != "" {
		body["maskPolicyName"] = opts.MaskPolicyName
	}
	if opts.MaskPolicyUID != "" {
		body["maskPolicyUid"] = opts.MaskPolicyUID
	}

	raw, status, err := c.post(ctx, op, constants.CryptoPathDecrypt, body)
	if err != nil {
		return DecryptResult{}, err
	}

	if strings.Contains(string(raw), constants.NotEncryptedSentinel) {
		metrics.SentinelHitsTotal.Inc()
		metrics.EngineOperationsTotal.WithLabelValues(op, "success").Inc()
		return DecryptResult{NotEncrypted: true}, nil
	}

	if status < 200 || status > 299 {
		return DecryptResult{}, c.fail(op, &ConnectionError{Op: op, Err: fmt.Errorf("status %d: %s", status, truncate(raw))})
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return DecryptResult{}, c.fail(op, &ConnectionError{Op: op, Err: fmt.Errorf("malformed response: %w", err)})
	}

	out, ok := env.innerString()
	if !env.Success {
		// A failed inner envelope that still carries decryptedData is the
		// Engine's mask convention; the masked view is written back.
		if ok && out != "" {
			metrics.EngineOperationsTotal.WithLabelValues(op, "success").Inc()
			return DecryptResult{Data: out, MaskApplied: true}, nil
		}
		return DecryptResult{}, c.fail(op, &PolicyError{Op: op, Message: env.Message})
	}
	if !ok {
		return DecryptResult{}, c.fail(op, &ConnectionError{Op: op, Err: fmt.Errorf("response carries no data")})
	}

	metrics.EngineOperationsTotal.WithLabelValues(op, "success").Inc()
	return DecryptResult{Data: out}, nil
}

type batchEncryptResponse struct {
	Success bool `json:"success"`
	Results []struct {
		Success       bool   `json:"success"`
		EncryptedData string `json:"encryptedData"`
		OriginalData  string `json:"originalData"`
	} `json:"results"`
	Message string `json:"message,omitempty"`
}

// EncryptBatch encrypts the items in one round trip. The result slice
// aligns with items by index; a length mismatch fails the whole call.
func (c *Client) EncryptBatch(ctx context.Context, items []BatchEncryptItem) ([]BatchResult, error) {
	const op = "encrypt_batch"
	if len(items) == 0 {
		return nil, nil
	}

	raw, status, err := c.post(ctx, op, constants.CryptoPathEncryptAll, map[string]any{"items": items})
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, c.fail(op, &ConnectionError{Op: op, Err: fmt.Errorf("status %d: %s", status, truncate(raw))})
	}

	var resp batchEncryptResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, c.fail(op, &ConnectionError{Op: op, Err: fmt.Errorf("malformed response: %w", err)})
	}
	if len(resp.Results) != len(items) {
		return nil, c.fail(op, &ConnectionError{Op: op,
			Err: fmt.Errorf("result count %d does not match item count %d", len(resp.Results), len(items))})
	}

	out := make([]BatchResult, len(resp.Results))
	for i, r := range resp.Results {
		out[i] = BatchResult{Success: r.Success, Data: r.EncryptedData}
	}
	metrics.EngineOperationsTotal.WithLabelValues(op, "success").Inc()
	return out, nil
}

type batchDecryptResponse struct {
	Success bool `json:"success"`
	Results []struct {
		Success       bool   `json:"success"`
		DecryptedData string `json:"decryptedData"`
		OriginalData  string `json:"originalData"`
	} `json:"results"`
	Message string `json:"message,omitempty"`
}

// DecryptBatch decrypts the items in one round trip. Items the Engine could
// not decrypt come back as NotEncrypted so the caller keeps the original
// bytes; a masked item carries the masked view with Success=false.
func (c *Client) DecryptBatch(ctx context.Context, items []BatchDecryptItem) ([]BatchResult, error) {
	const op = "decrypt_batch"
	if len(items) == 0 {
		return nil, nil
	}

	raw, status, err := c.post(ctx, op, constants.CryptoPathDecryptAll, map[string]any{"items": items})
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, c.fail(op, &ConnectionError{Op: op, Err: fmt.Errorf("status %d: %s", status, truncate(raw))})
	}

	var resp batchDecryptResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, c.fail(op, &ConnectionError{Op: op, Err: fmt.Errorf("malformed response: %w", err)})
	}
	if len(resp.Results) != len(items) {
		return nil, c.fail(op, &ConnectionError{Op: op,
			Err: fmt.Errorf("result count %d does not match item count %d", len(resp.Results), len(items))})
	}

	out := make([]BatchResult, len(resp.Results))
	for i, r := range resp.Results {
		switch {
		case r.DecryptedData != "":
			out[i] = BatchResult{Success: true, Data: r.DecryptedData}
		default:
			out[i] = BatchResult{Success: r.Success, NotEncrypted: true}
			metrics.SentinelHitsTotal.Inc()
		}
	}
	metrics.EngineOperationsTotal.WithLabelValues(op, "success").Inc()
	return out, nil
}

// post issues the request and returns the raw body and status. Transport
// failures are wrapped as ConnectionError here; status interpretation is the
// caller's.
func (c *Client) post(ctx context.Context, op, path string, body any) ([]byte, int, error) {
	start := time.Now()

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, 0, &ConnectionError{Op: op, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, &ConnectionError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.hubID != "" {
		req.Header.Set(constants.HeaderTenant, c.hubID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.EngineOperationsTotal.WithLabelValues(op, "error").Inc()
		return nil, 0, &ConnectionError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.EngineOperationsTotal.WithLabelValues(op, "error").Inc()
		return nil, 0, &ConnectionError{Op: op, Err: err}
	}

	metrics.EngineOperationDurationSeconds.WithLabelValues(op).Observe(time.Since(start).Seconds())
	return raw, resp.StatusCode, nil
}

// fail records the failure against op and returns err unchanged.
func (c *Client) fail(op string, err error) error {
	metrics.EngineOperationsTotal.WithLabelValues(op, "error").Inc()
	c.logger.Debug("Engine call failed", zap.String("operation", op), zap.Error(err))
	return err
}

func truncate(b []byte) string {
	const max = 200
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}
