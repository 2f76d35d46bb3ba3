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
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/wso2/data-protection/crypto-agent/pkg/constants"
	"github.com/wso2/data-protection/crypto-agent/pkg/models"
	"go.uber.org/zap"
)

// FileStore persists agent state as four JSON documents under a single
// directory. Each document has its own mutex; writes are atomic via
// write-to-temp plus rename. A file that fails to parse is treated as empty
// and left in place for human inspection.
type FileStore struct {
	dir        string
	configFile string
	logger     *zap.Logger

	configMu    sync.Mutex
	policyMu    sync.Mutex
	endpointsMu sync.Mutex
	schemasMu   sync.Mutex
}

// NewFileStore creates a file store rooted at dir. The identity file name
// follows the deployment shape: aop-config.json or wrapper-config.json.
func NewFileStore(dir, shape string, logger *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
	}

	configFile := constants.ConfigFileAOP
	if shape == constants.ShapeWrapper {
		configFile = constants.ConfigFileWrapper
	}

	return &FileStore{
		dir:        dir,
		configFile: configFile,
		logger:     logger,
	}, nil
}

// DefaultDataDir returns ~/.dadp-<shape> for the given deployment shape.
func DefaultDataDir(shape string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, constants.DataDirPrefix+toLowerASCII(shape))
}

func toLowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// LoadConfig retrieves the persisted instance identity
func (s *FileStore) LoadConfig() (*models.InstanceIdentity, error) {
	s.configMu.Lock()
	defer s.configMu.Unlock()

	var identity models.InstanceIdentity
	if err := s.readJSON(s.configFile, &identity); err != nil {
		return nil, err
	}
	return &identity, nil
}

// SaveConfig persists the instance identity atomically
func (s *FileStore) SaveConfig(identity *models.InstanceIdentity) error {
	s.configMu.Lock()
	defer s.configMu.Unlock()
	return s.writeJSON(s.configFile, identity)
}

// LoadPolicy retrieves the persisted policy snapshot
func (s *FileStore) LoadPolicy() (*models.StoredPolicy, error) {
	s.policyMu.Lock()
	defer s.policyMu.Unlock()

	var policy models.StoredPolicy
	if err := s.readJSON(constants.PolicyMappingsFile, &policy); err != nil {
		return nil, err
	}
	return &policy, nil
}

// SavePolicy persists the policy snapshot atomically
func (s *FileStore) SavePolicy(policy *models.StoredPolicy) error {
	s.policyMu.Lock()
	defer s.policyMu.Unlock()
	return s.writeJSON(constants.PolicyMappingsFile, policy)
}

// LoadEndpoints retrieves the persisted endpoint routing record
func (s *FileStore) LoadEndpoints() (*models.EndpointRouting, error) {
	s.endpointsMu.Lock()
	defer s.endpointsMu.Unlock()

	var endpoints models.EndpointRouting
	if err := s.readJSON(constants.EndpointsFile, &endpoints); err != nil {
		return nil, err
	}
	return &endpoints, nil
}

// SaveEndpoints persists the endpoint routing record atomically
func (s *FileStore) SaveEndpoints(endpoints *models.EndpointRouting) error {
	s.endpointsMu.Lock()
	defer s.endpointsMu.Unlock()
	return s.writeJSON(constants.EndpointsFile, endpoints)
}

// LoadSchemas retrieves the full schema catalog
func (s *FileStore) LoadSchemas() ([]models.SchemaEntry, error) {
	s.schemasMu.Lock()
	defer s.schemasMu.Unlock()
	return s.loadSchemasLocked()
}

// GetCreated retrieves the catalog entries still awaiting Hub acceptance
func (s *FileStore) GetCreated() ([]models.SchemaEntry, error) {
	s.schemasMu.Lock()
	defer s.schemasMu.Unlock()

	entries, err := s.loadSchemasLocked()
	if err != nil {
		return nil, err
	}

	var created []models.SchemaEntry
	for _, e := range entries {
		if e.Status == models.SchemaStatusCreated {
			created = append(created, e)
		}
	}
	return created, nil
}

// CompareAndUpdate unions the freshly collected catalog into storage
func (s *FileStore) CompareAndUpdate(fresh []models.SchemaEntry) (int, error) {
	s.schemasMu.Lock()
	defer s.schemasMu.Unlock()

	stored, err := s.loadSchemasLocked()
	if err != nil {
		return 0, err
	}

	merged, changed := mergeCatalog(stored, fresh)
	if changed == 0 && len(stored) == len(merged) {
		return 0, nil
	}
	if err := s.writeJSON(constants.SchemasFile, merged); err != nil {
		return 0, err
	}
	return changed, nil
}

// UpdateStatus advances the status of the entries with the given keys
func (s *FileStore) UpdateStatus(keys []string, status models.SchemaStatus) (int, error) {
	s.schemasMu.Lock()
	defer s.schemasMu.Unlock()

	entries, err := s.loadSchemasLocked()
	if err != nil {
		return 0, err
	}

	updated := applyStatus(entries, keys, status)
	if updated == 0 {
		return 0, nil
	}
	if err := s.writeJSON(constants.SchemasFile, entries); err != nil {
		return 0, err
	}
	return updated, nil
}

// UpdatePolicyNames sets the policy name of the entries with the given keys
func (s *FileStore) UpdatePolicyNames(byKey map[string]string) (int, error) {
	s.schemasMu.Lock()
	defer s.schemasMu.Unlock()

	entries, err := s.loadSchemasLocked()
	if err != nil {
		return 0, err
	}

	updated := applyPolicyNames(entries, byKey)
	if updated == 0 {
		return 0, nil
	}
	if err := s.writeJSON(constants.SchemasFile, entries); err != nil {
		return 0, err
	}
	return updated, nil
}

func (s *FileStore) loadSchemasLocked() ([]models.SchemaEntry, error) {
	var entries []models.SchemaEntry
	if err := s.readJSON(constants.SchemasFile, &entries); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return entries, nil
}

// readJSON decodes the named document into v. A missing file is ErrNotFound;
// a corrupt file is logged, treated as ErrNotFound, and left on disk.
func (s *FileStore) readJSON(name string, v any) error {
	path := filepath.Join(s.dir, name)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to read %s: %w", name, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		s.logger.Warn("Persisted file is not valid JSON, treating as empty; file left in place",
			zap.String("file", path),
			zap.Error(err))
		return ErrNotFound
	}
	return nil
}


// writeJSON marshals v with indentation and replaces the named document via
// temp file plus rename so readers never observe a partial write.
func (s *FileStore) writeJSON(name string, v any) error {
	path := filepath.Join(s.dir, name)

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file for %s: %w", name, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}
