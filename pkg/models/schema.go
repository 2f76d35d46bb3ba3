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

import "strings"

// SchemaStatus represents the lifecycle state of a collected schema entry
type SchemaStatus string

const (
	SchemaStatusCreated    SchemaStatus = "CREATED"    // Collected locally, not yet accepted by the Hub
	SchemaStatusRegistered SchemaStatus = "REGISTERED" // Acknowledged by the Hub schema-sync endpoint
)

// SchemaEntry is one column of the locally collected schema catalog.
// Status only advances: CREATED to REGISTERED, never back.
type SchemaEntry struct {
	DatasourceID  string       `json:"datasourceId,omitempty"`
	DBVendor      string       `json:"dbVendor,omitempty"`
	DatabaseName  string       `json:"databaseName,omitempty"`
	SchemaName    string       `json:"schemaName"`
	TableName     string       `json:"tableName"`
	ColumnName    string       `json:"columnName"`
	ColumnType    string       `json:"columnType,omitempty"`
	IsNullable    *bool        `json:"isNullable,omitempty"`
	ColumnDefault string       `json:"columnDefault,omitempty"`
	PolicyName    string       `json:"policyName,omitempty"`
	Status        SchemaStatus `json:"status"`
}

// Key returns the catalog key "schema.table.column", lower-cased. Identifier
// case is folded here so collector vendor casing never leaks into keys.
func (e *SchemaEntry) Key() string {
	return strings.ToLower(e.SchemaName) + "." + strings.ToLower(e.TableName) + "." + strings.ToLower(e.ColumnName)
}

// FillDescriptiveFrom copies descriptive fields that are empty on the
// receiver from fresh. Status and PolicyName are never touched. Returns true
// when anything changed.
func (e *SchemaEntry) FillDescriptiveFrom(fresh SchemaEntry) bool {
	changed := false
	if e.DatasourceID == "" && fresh.DatasourceID != "" {
		e.DatasourceID = fresh.DatasourceID
		changed = true
	}
	if e.DBVendor == "" && fresh.DBVendor != "" {
		e.DBVendor = fresh.DBVendor
		changed = true
	}
	if e.DatabaseName == "" && fresh.DatabaseName != "" {
		e.DatabaseName = fresh.DatabaseName
		changed = true
	}
	if e.ColumnType == "" && fresh.ColumnType != "" {
		e.ColumnType = fresh.ColumnType
		changed = true
	}
	if e.IsNullable == nil && fresh.IsNullable != nil {
		v := *fresh.IsNullable
		e.IsNullable = &v
		changed = true
	}
	if e.ColumnDefault == "" && fresh.ColumnDefault != "" {
		e.ColumnDefault = fresh.ColumnDefault
		changed = true
	}
	return changed
}
