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

package models

import "time"

// Mapping binds one fully-qualified column to an encryption policy. Entries
// with Enabled=false or an empty PolicyName are dropped by the resolver.
type Mapping struct {
	DatasourceID string `json:"datasourceId,omitempty"`
	SchemaName   string `json:"schemaName,omitempty"`
	TableName    string `json:"tableName"`
	ColumnName   string `json:"columnName"`
	PolicyName   string `json:"policyName"`
	Enabled      bool   `json:"enabled"`
	UseIV        *bool  `json:"useIv,omitempty"`
	UsePlain     *bool  `json:"usePlain,omitempty"`
}

// PolicyAttributes carries the per-policy flags the Engine cares about.
type PolicyAttributes struct {
	UseIV    bool `json:"useIv"`
	UsePlain bool `json:"usePlain"`
}

// DefaultPolicyAttributes returns the attributes assumed for a policy the
// Hub never described: IV on, plain copy off.
func DefaultPolicyAttributes() PolicyAttributes {
	return PolicyAttributes{UseIV: true, UsePlain: false}
}

// PolicySnapshot is the version-stamped policy state pulled from the Hub.
// Snapshots are replaced atomically and never mutated in place.
type PolicySnapshot struct {
	Version    uint64                      `json:"version"`
	Mappings   []Mapping                   `json:"mappings"`
	Attributes map[string]PolicyAttributes `json:"attributes,omitempty"`
	UpdatedAt  time.Time                   `json:"updatedAt,omitempty"`
}

// StoredPolicy is the persisted form of a snapshot: the mappings collapsed
// to canonical key to policy name, plus the attribute table.
type StoredPolicy struct {
	Version    uint64                      `json:"version"`
	Mappings   map[string]string           `json:"mappings"`
	Attributes map[string]PolicyAttributes `json:"attributes,omitempty"`
}
