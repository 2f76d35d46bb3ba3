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

// Package hub is the HTTP client for the Hub control plane: instance
// registration, version-conditional mapping checks, policy snapshot pulls,
// and schema-catalog sync. Non-error control outcomes (not modified,
// re-registered, not found) are result variants so the orchestrator can
// drive its state machine without string-matching errors.
package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/wso2/data-protection/crypto-agent/pkg/constants"
	"github.com/wso2/data-protection/crypto-agent/pkg/models"
	"github.com/wso2/data-protection/crypto-agent/pkg/transport"
	"go.uber.org/zap"
)

// Options configures a Client
type Options struct {
	// BasePath is the control-plane API prefix; empty means /dadp/api/v1
	BasePath string

	// Timeout bounds each call end to end
	Timeout time.Duration

	// CACertPath pins outbound TLS to a single PEM bundle when set
	CACertPath string
}

// Client talks to the Hub control plane
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a Hub client for the control plane at hubURL.
func NewClient(hubURL string, opts Options, logger *zap.Logger) (*Client, error) {
	if hubURL == "" {
		return nil, fmt.Errorf("hub URL is required")
	}
	if _, err := url.Parse(hubURL); err != nil {
		return nil, fmt.Errorf("invalid hub URL %q: %w", hubURL, err)
	}

	basePath := opts.BasePath
	if basePath == "" {
		basePath = constants.HubAPIBasePath
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
		baseURL: strings.TrimSuffix(hubURL, "/") + basePath,
		http:    httpClient,
		logger:  logger,
	}, nil
}

// CheckOutcome classifies the Hub's answer to a mapping-change check
type CheckOutcome int

const (
	// CheckNotModified means the Hub holds the same version
	CheckNotModified CheckOutcome = iota
	// CheckChanged means a newer snapshot is available
	CheckChanged
	// CheckReregistered means the Hub dropped the old identity and issued a new one
	CheckReregistered
	// CheckNotFound means the Hub does not know this tenant
	CheckNotFound
)

// String returns the string representation of the outcome
func (o CheckOutcome) String() string {
	switch o {
	case CheckNotModified:
		return "not_modified"
	case CheckChanged:
		return "changed"
	case CheckReregistered:
		return "reregistered"
	case CheckNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// CheckResult is the outcome of a mapping-change check
type CheckResult struct {
	Outcome  CheckOutcome
	NewHubID string
}

// PolicyPull is the outcome of a snapshot pull
type PolicyPull struct {
	NotModified bool
	NotFound    bool
	Version     uint64
	Mappings    []models.Mapping
	Endpoint    *models.EndpointRouting
}

// Register announces the instance under its alias and shape. The Hub issues
// the authoritative tenant identifier.
func (c *Client) Register(ctx context.Context, alias, shape string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"instanceId": alias,
		"type":       shape,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal register request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+constants.HubPathRegister, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build register request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("register failed: %w", err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("register failed: status %d", resp.StatusCode)
	}

	var parsed struct {
		Success bool `json:"success"`
		Data    struct {
			HubID string `json:"hubId"`
		} `json:"data"`
		Message string `json:"message,omitempty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("register response malformed: %w", err)
	}
	if !parsed.Success || parsed.Data.HubID == "" {
		return "", fmt.Errorf("register rejected: %s", parsed.Message)
	}

	c.logger.Info("Instance registered with Hub", zap.String("alias", alias), zap.String("shape", shape))
	return parsed.Data.HubID, nil
}

// CheckMappingChange asks whether the Hub holds a newer policy version.
// Transient failures are returned as errors; control outcomes are variants.
func (c *Client) CheckMappingChange(ctx context.Context, hubID string, version uint64) (CheckResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+constants.HubPathMappingCheck, nil)
	if err != nil {
		return CheckResult{}, fmt.Errorf("failed to build check request: %w", err)
	}
	req.Header.Set(constants.HeaderTenant, hubID)
	req.Header.Set(constants.HeaderCurrentVersion, strconv.FormatUint(version, 10))

	resp, err := c.http.Do(req)
	if err != nil {
		return CheckResult{}, fmt.Errorf("mapping check failed: %w", err)
	}
	defer drainAndClose(resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return CheckResult{Outcome: CheckNotModified}, nil

	case resp.StatusCode == http.StatusNotFound:
		return CheckResult{Outcome: CheckNotFound}, nil

	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		var parsed struct {
			Reregistered bool   `json:"reregistered"`
			HubID        string `json:"hubId"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			// A bare 200 with no body still means "changed"
			return CheckResult{Outcome: CheckChanged}, nil
		}
		if parsed.Reregistered && parsed.HubID != "" {
			return CheckResult{Outcome: CheckReregistered, NewHubID: parsed.HubID}, nil
		}
		return CheckResult{Outcome: CheckChanged}, nil

	default:
		return CheckResult{}, fmt.Errorf("mapping check failed: status %d", resp.StatusCode)
	}
}

// PullPolicies fetches the policy snapshot for the tenant. The endpoint
// block, when present, rides along unvalidated; admission is the caller's.
func (c *Client) PullPolicies(ctx context.Context, hubID, alias string, version uint64) (*PolicyPull, error) {
	u := fmt.Sprintf("%s%s?instanceId=%s&alias=%s",
		c.baseURL, constants.HubPathPolicies, url.QueryEscape(alias), url.QueryEscape(alias))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build policies request: %w", err)
	}
	req.Header.Set(constants.HeaderTenant, hubID)
	req.Header.Set(constants.HeaderCurrentVersion, strconv.FormatUint(version, 10))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("policy pull failed: %w", err)
	}
	defer drainAndClose(resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return &PolicyPull{NotModified: true}, nil

	case resp.StatusCode == http.StatusNotFound:
		return &PolicyPull{NotFound: true}, nil

	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		var parsed struct {
			Version  uint64                  `json:"version"`
			Mappings []models.Mapping        `json:"mappings"`
			Endpoint *models.EndpointRouting `json:"endpoint"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return nil, fmt.Errorf("policy snapshot malformed: %w", err)
		}
		return &PolicyPull{
			Version:  parsed.Version,
			Mappings: parsed.Mappings,
			Endpoint: parsed.Endpoint,
		}, nil

	default:
		return nil, fmt.Errorf("policy pull failed: status %d", resp.StatusCode)
	}
}

// SyncSchemas pushes collected catalog entries to the Hub. Acceptance is
// all-or-nothing; the caller advances entry status only on success.
func (c *Client) SyncSchemas(ctx context.Context, hubID, alias string, entries []models.SchemaEntry) error {
	if len(entries) == 0 {
		return nil
	}

	type wireEntry struct {
		SchemaName string `json:"schemaName"`
		TableName  string `json:"tableName"`
		ColumnName string `json:"columnName"`
		PolicyName string `json:"policyName,omitempty"`
	}

	schemas := make([]wireEntry, len(entries))
	for i, e := range entries {
		schemas[i] = wireEntry{
			SchemaName: e.SchemaName,
			TableName:  e.TableName,
			ColumnName: e.ColumnName,
			PolicyName: e.PolicyName,
		}
	}

	body, err := json.Marshal(map[string]any{
		"instanceId": alias,
		"schemas":    schemas,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal schema sync request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+constants.HubPathSchemaSync, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build schema sync request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(constants.HeaderTenant, hubID)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("schema sync failed: %w", err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("schema sync failed: status %d", resp.StatusCode)
	}

	var parsed struct {
		Success bool   `json:"success"`
		Message string `json:"message,omitempty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("schema sync response malformed: %w", err)
	}
	if !parsed.Success {
		return fmt.Errorf("schema sync rejected: %s", parsed.Message)
	}

	c.logger.Debug("Schema catalog pushed", zap.Int("entries", len(entries)))
	return nil
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
