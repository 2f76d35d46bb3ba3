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

// Package storage is the persistent store: four JSON documents under a
// per-deployment directory holding instance identity, policy mappings with
// version, endpoint routing, and the collected schema catalog. The store is
// the idempotence anchor for the sync orchestrator; when the directory
// cannot be created it degrades to an in-memory store so the agent keeps
// running without durability.
package storage

import (
	"github.com/wso2/data-protection/crypto-agent/pkg/models"
)

// Store is the interface for persisting agent state
type Store interface {
	// LoadConfig retrieves the persisted instance identity
	LoadConfig() (*models.InstanceIdentity, error)

	// SaveConfig persists the instance identity atomically
	SaveConfig(identity *models.InstanceIdentity) error

	// LoadPolicy retrieves the persisted policy snapshot
	LoadPolicy() (*models.StoredPolicy, error)

	// SavePolicy persists the policy snapshot atomically
	SavePolicy(policy *models.StoredPolicy) error

	// LoadEndpoints retrieves the persisted endpoint routing record
	LoadEndpoints() (*models.EndpointRouting, error)

	// SaveEndpoints persists the endpoint routing record atomically
	SaveEndpoints(endpoints *models.EndpointRouting) error

	// LoadSchemas retrieves the full schema catalog
	LoadSchemas() ([]models.SchemaEntry, error)

	// GetCreated retrieves the catalog entries still awaiting Hub acceptance
	GetCreated() ([]models.SchemaEntry, error)

	// CompareAndUpdate unions the freshly collected catalog into storage.
	// Fresh-only entries are inserted as CREATED; entries present in both
	// retain their stored status and policy name but pick up missing
	// descriptive fields; storage-only entries are kept untouched. Returns
	// the count of inserted plus materially modified entries.
	CompareAndUpdate(fresh []models.SchemaEntry) (int, error)

	// UpdateStatus sets the status of the entries with the given keys.
	// Status only advances; a REGISTERED entry never reverts to CREATED.
	UpdateStatus(keys []string, status models.SchemaStatus) (int, error)

	// UpdatePolicyNames sets the policy name of the entries with the given
	// keys. Returns the count of entries changed.
	UpdatePolicyNames(byKey map[string]string) (int, error)
}
