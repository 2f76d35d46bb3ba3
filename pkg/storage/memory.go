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

package storage

import (
	"sync"

	"github.com/wso2/data-protection/crypto-agent/pkg/models"
)

// MemoryStore keeps agent state on the heap. It is the degraded mode used
// when the data directory cannot be created: the agent keeps working but
// re-registers and re-collects on every restart.
type MemoryStore struct {
	mu        sync.RWMutex
	identity  *models.InstanceIdentity
	policy    *models.StoredPolicy
	endpoints *models.EndpointRouting
	schemas   []models.SchemaEntry
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// LoadConfig retrieves the held instance identity
func (m *MemoryStore) LoadConfig() (*models.InstanceIdentity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.identity == nil {
		return nil, ErrNotFound
	}
	cp := *m.identity
	return &cp, nil
}

// SaveConfig replaces the held instance identity
func (m *MemoryStore) SaveConfig(identity *models.InstanceIdentity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *identity
	m.identity = &cp
	return nil
}

// LoadPolicy retrieves the held policy snapshot
func (m *MemoryStore) LoadPolicy() (*models.StoredPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.policy == nil {
		return nil, ErrNotFound
	}
	cp := *m.policy
	return &cp, nil
}

// SavePolicy replaces the held policy snapshot
func (m *MemoryStore) SavePolicy(policy *models.StoredPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *policy
	m.policy = &cp
	return nil
}

// LoadEndpoints retrieves the held endpoint routing record
func (m *MemoryStore) LoadEndpoints() (*models.EndpointRouting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.endpoints == nil {
		return nil, ErrNotFound
	}
	cp := *m.endpoints
	return &cp, nil
}

// SaveEndpoints replaces the held endpoint routing record
func (m *MemoryStore) SaveEndpoints(endpoints *models.EndpointRouting) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *endpoints
	m.endpoints = &cp
	return nil
}

// LoadSchemas retrieves the full schema catalog
func (m *MemoryStore) LoadSchemas() ([]models.SchemaEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.SchemaEntry, len(m.schemas))
	copy(out, m.schemas)
	return out, nil
}

// GetCreated retrieves the catalog entries still awaiting Hub acceptance
func (m *MemoryStore) GetCreated() ([]models.SchemaEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var created []models.SchemaEntry
	for _, e := range m.schemas {
		if e.Status == models.SchemaStatusCreated {
			created = append(created, e)
		}
	}
	return created, nil
}

// CompareAndUpdate unions the freshly collected catalog into the store
func (m *MemoryStore) CompareAndUpdate(fresh []models.SchemaEntry) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	merged, changed := mergeCatalog(m.schemas, fresh)
	m.schemas = merged
	return changed, nil
}

// UpdateStatus advances the status of the entries with the given keys
func (m *MemoryStore) UpdateStatus(keys []string, status models.SchemaStatus) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return applyStatus(m.schemas, keys, status), nil
}

// UpdatePolicyNames sets the policy name of the entries with the given keys
func (m *MemoryStore) UpdatePolicyNames(byKey map[string]string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return applyPolicyNames(m.schemas, byKey), nil
}
