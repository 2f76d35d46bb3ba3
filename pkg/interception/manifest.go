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

package interception

import (
	"fmt"
	"os"
	"reflect"

	"gopkg.in/yaml.v3"
)

// Manifest declares entity metadata for host types that cannot carry struct
// tags. Manifest entries override tag-derived metadata.
type Manifest struct {
	Entities []ManifestEntity `yaml:"entities"`
}

// ManifestEntity maps one Go type to its table and protected fields. Type
// matches the bare type name ("Customer") or the package-qualified form
// ("models.Customer").
type ManifestEntity struct {
	Type   string          `yaml:"type"`
	Schema string          `yaml:"schema,omitempty"`
	Table  string          `yaml:"table,omitempty"`
	Fields []ManifestField `yaml:"fields"`
}

// ManifestField marks one struct field for transformation
type ManifestField struct {
	Name          string `yaml:"name"`
	Column        string `yaml:"column,omitempty"`
	Encrypt       bool   `yaml:"encrypt"`
	MaskPolicy    string `yaml:"mask_policy,omitempty"`
	MaskPolicyUID string `yaml:"mask_policy_uid,omitempty"`
}

// LoadManifest reads a YAML entity manifest from disk
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read entity manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest parses YAML entity manifest content
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse entity manifest: %w", err)
	}
	for i := range m.Entities {
		if m.Entities[i].Type == "" {
			return nil, fmt.Errorf("entity manifest entry %d has no type", i)
		}
	}
	return &m, nil
}

// entity finds the manifest entry for a type, matching the qualified name
// first, then the bare name.
func (m *Manifest) entity(t reflect.Type) *ManifestEntity {
	qualified := t.String()
	for i := range m.Entities {
		if m.Entities[i].Type == qualified {
			return &m.Entities[i]
		}
	}
	for i := range m.Entities {
		if m.Entities[i].Type == t.Name() {
			return &m.Entities[i]
		}
	}
	return nil
}
