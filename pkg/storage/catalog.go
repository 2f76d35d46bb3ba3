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

import "github.com/wso2/data-protection/crypto-agent/pkg/models"

// mergeCatalog unions fresh into stored by catalog key. Fresh-only entries
// are appended as CREATED; entries present in both keep their stored status
// and policy name but pick up missing descriptive fields; stored-only
// entries are left untouched. Returns the merged catalog and the count of
// inserted plus materially modified entries.
func mergeCatalog(stored, fresh []models.SchemaEntry) ([]models.SchemaEntry, int) {
	index := make(map[string]int, len(stored))
	for i := range stored {
		index[stored[i].Key()] = i
	}

	merged := make([]models.SchemaEntry, len(stored))
	copy(merged, stored)

	changed := 0
	for _, f := range fresh {
		i, ok := index[f.Key()]
		if !ok {
			f.Status = models.SchemaStatusCreated
			merged = append(merged, f)
			index[f.Key()] = len(merged) - 1
			changed++
			continue
		}
		if merged[i].FillDescriptiveFrom(f) {
			changed++
		}
	}
	return merged, changed
}

// applyStatus advances the status of the entries with the given keys.
// Status never regresses: REGISTERED stays REGISTERED.
func applyStatus(entries []models.SchemaEntry, keys []string, status models.SchemaStatus) int {
	want := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		want[k] = struct{}{}
	}

	updated := 0
	for i := range entries {
		if _, ok := want[entries[i].Key()]; !ok {
			continue
		}
		if entries[i].Status == models.SchemaStatusRegistered && status == models.SchemaStatusCreated {
			continue
		}
		if entries[i].Status != status {
			entries[i].Status = status
			updated++
		}
	}
	return updated
}

// applyPolicyNames sets the policy name of the entries with the given keys.
func applyPolicyNames(entries []models.SchemaEntry, byKey map[string]string) int {
	updated := 0
	for i := range entries {
		name, ok := byKey[entries[i].Key()]
		if !ok || entries[i].PolicyName == name {
			continue
		}
		entries[i].PolicyName = name
		updated++
	}
	return updated
}
