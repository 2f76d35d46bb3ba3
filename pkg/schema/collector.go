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

// Package schema collects the locally-known column catalog that the sync
// orchestrator publishes to the Hub. The AOP shape feeds the catalog from
// registered entity descriptors; the WRAPPER shape queries the database's
// own metadata. All collectors emit lower-cased identifiers so policy keys
// are vendor-portable.
package schema

import (
	"context"
	"strings"
	"sync"

	"github.com/wso2/data-protection/crypto-agent/pkg/models"
)

// Normalize lower-cases a database identifier. This is the one
// vendor-portable rule the system relies on; every key path uses it.
func Normalize(identifier string) string {
	return strings.ToLower(identifier)
}

// Collector produces the local column catalog. Ready gates the
// orchestrator's bootstrap: it blocks schema publication until the
// collector knows its catalog is complete.
type Collector interface {
	// Collect returns the current catalog; entries carry CREATED status
	Collect(ctx context.Context) ([]models.SchemaEntry, error)

	// Ready is closed once the catalog is complete enough to publish
	Ready() <-chan struct{}
}

// DescriptorCatalog is the AOP-shape collector: the host registers the
// tables and columns its entity types map to, then marks the catalog ready.
type DescriptorCatalog struct {
	mu           sync.Mutex
	datasourceID string
	entries      []models.SchemaEntry
	seen         map[string]struct{}
	ready        chan struct{}
	readyOnce    sync.Once
}

// NewDescriptorCatalog creates an empty catalog for the AOP shape
func NewDescriptorCatalog(datasourceID string) *DescriptorCatalog {
	return &DescriptorCatalog{
		datasourceID: datasourceID,
		seen:         make(map[string]struct{}),
		ready:        make(chan struct{}),
	}
}

// Register adds the columns of one table. Duplicate columns are ignored so
// re-registering a type is harmless.
func (dc *DescriptorCatalog) Register(schemaName, tableName string, columns ...string) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	for _, column := range columns {
		entry := models.SchemaEntry{
			DatasourceID: dc.datasourceID,
			SchemaName:   Normalize(schemaName),
			TableName:    Normalize(tableName),
			ColumnName:   Normalize(column),
			Status:       models.SchemaStatusCreated,
		}
		key := entry.Key()
		if _, dup := dc.seen[key]; dup {
			continue
		}
		dc.seen[key] = struct{}{}
		dc.entries = append(dc.entries, entry)
	}
}

// MarkReady signals that the host has registered all its entity types
func (dc *DescriptorCatalog) MarkReady() {
	dc.readyOnce.Do(func() { close(dc.ready) })
}

// Collect returns a copy of the registered catalog
func (dc *DescriptorCatalog) Collect(ctx context.Context) ([]models.SchemaEntry, error) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	out := make([]models.SchemaEntry, len(dc.entries))
	copy(out, dc.entries)
	return out, nil
}

// Ready is closed by MarkReady
func (dc *DescriptorCatalog) Ready() <-chan struct{} {
	return dc.ready
}
