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

// Package policy is the in-memory, versioned policy resolver: a map from
// fully-qualified column identifiers to policy names plus per-policy
// attributes. Snapshots are swapped atomically; readers see either the whole
// old snapshot or the whole new one. Refreshes are driven by the sync
// orchestrator; the resolver never calls the Hub.
package policy

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/wso2/data-protection/crypto-agent/pkg/models"
	"github.com/wso2/data-protection/crypto-agent/pkg/storage"
	"go.uber.org/zap"
)

// snapshot is one immutable generation of the resolver state
type snapshot struct {
	version    uint64
	mappings   map[string]string
	attributes map[string]models.PolicyAttributes
}

// Resolver maps canonical column keys to policy names. Safe for concurrent
// readers; Refresh is the single writer.
type Resolver struct {
	store   storage.Store
	logger  *zap.Logger
	current atomic.Pointer[snapshot]
}

// NewResolver creates an empty resolver backed by the given store
func NewResolver(store storage.Store, logger *zap.Logger) *Resolver {
	r := &Resolver{store: store, logger: logger}
	r.current.Store(&snapshot{
		mappings:   map[string]string{},
		attributes: map[string]models.PolicyAttributes{},
	})
	return r
}

// Key builds the canonical mapping key, most specific form first:
// "ds:schema.table.column", "schema.table.column", or "table.column".
// Identifiers are lower-cased so vendor casing never splits a key space.
func Key(datasourceID, schema, table, column string) string {
	key := strings.ToLower(table) + "." + strings.ToLower(column)
	if schema != "" {
		key = strings.ToLower(schema) + "." + key
	}
	if datasourceID != "" {
		key = strings.ToLower(datasourceID) + ":" + key
	}
	return key
}

// lookupKeys returns the candidate keys for a query, most specific first.
func lookupKeys(datasourceID, schema, table, column string) []string {
	keys := make([]string, 0, 3)
	if datasourceID != "" {
		keys = append(keys, Key(datasourceID, schema, table, column))
	}
	if schema != "" {
		keys = append(keys, Key("", schema, table, column))
	}
	keys = append(keys, Key("", "", table, column))
	return keys
}

// Resolve returns the policy name for the column, trying the most specific
// key first and falling back to the more general forms.
func (r *Resolver) Resolve(datasourceID, schema, table, column string) (string, bool) {
	snap := r.current.Load()
	for _, key := range lookupKeys(datasourceID, schema, table, column) {
		if name, ok := snap.mappings[key]; ok {
			return name, true
		}
	}
	return "", false
}

// GetAttributes returns the attributes of the named policy, or the defaults
// (IV on, plain copy off) when the Hub never described it.
func (r *Resolver) GetAttributes(policyName string) models.PolicyAttributes {
	snap := r.current.Load()
	if attrs, ok := snap.attributes[policyName]; ok {
		return attrs
	}
	return models.DefaultPolicyAttributes()
}

// CurrentVersion returns the version of the active snapshot; 0 means no
// snapshot has been applied yet.
func (r *Resolver) CurrentVersion() uint64 {
	return r.current.Load().version
}

// Mappings returns a copy of the active key-to-policy view for diagnostics.
func (r *Resolver) Mappings() (map[string]string, map[string]models.PolicyAttributes) {
	snap := r.current.Load()

	mappings := make(map[string]string, len(snap.mappings))
	for k, v := range snap.mappings {
		mappings[k] = v
	}
	attrs := make(map[string]models.PolicyAttributes, len(snap.attributes))
	for k, v := range snap.attributes {
		attrs[k] = v
	}
	return mappings, attrs
}

// Refresh replaces the active snapshot with the given mappings and persists
// the result synchronously. Disabled mappings and mappings without a policy
// name are dropped. When attrs is nil the attribute table is built first-seen
// per policy name from the mappings' own flags.
func (r *Resolver) Refresh(mappings []models.Mapping, attrs map[string]models.PolicyAttributes, version uint64) error {
	admitted := make(map[string]string, len(mappings))
	builtAttrs := attrs
	if builtAttrs == nil {
		builtAttrs = make(map[string]models.PolicyAttributes)
	}

	for _, m := range mappings {
		if !m.Enabled || m.PolicyName == "" {
			continue
		}
		admitted[Key(m.DatasourceID, m.SchemaName, m.TableName, m.ColumnName)] = m.PolicyName

		if attrs == nil {
			if _, seen := builtAttrs[m.PolicyName]; !seen {
				a := models.DefaultPolicyAttributes()
				if m.UseIV != nil {
					a.UseIV = *m.UseIV
				}
				if m.UsePlain != nil {
					a.UsePlain = *m.UsePlain
				}
				builtAttrs[m.PolicyName] = a
			}
		}
	}

	r.current.Store(&snapshot{
		version:    version,
		mappings:   admitted,
		attributes: builtAttrs,
	})

	if err := r.store.SavePolicy(&models.StoredPolicy{
		Version:    version,
		Mappings:   admitted,
		Attributes: builtAttrs,
	}); err != nil {
		// The in-memory swap already happened; persistence is best-effort
		r.logger.Warn("Failed to persist policy snapshot", zap.Uint64("version", version), zap.Error(err))
		return fmt.Errorf("failed to persist policy snapshot: %w", err)
	}

	r.logger.Info("Policy snapshot applied",
		zap.Uint64("version", version),
		zap.Int("mappings", len(admitted)))
	return nil
}

// ReloadFromStorage primes the resolver from the persisted snapshot. A store
// with nothing persisted leaves the resolver empty.
func (r *Resolver) ReloadFromStorage() error {
	stored, err := r.store.LoadPolicy()
	if err != nil {
		if storage.IsNotFoundError(err) {
			return nil
		}
		return fmt.Errorf("failed to load policy snapshot: %w", err)
	}

	mappings := make(map[string]string, len(stored.Mappings))
	for k, v := range stored.Mappings {
		mappings[k] = v
	}
	attrs := make(map[string]models.PolicyAttributes, len(stored.Attributes))
	for k, v := range stored.Attributes {
		attrs[k] = v
	}

	r.current.Store(&snapshot{
		version:    stored.Version,
		mappings:   mappings,
		attributes: attrs,
	})
	return nil
}
