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
	"testing"

	"github.com/wso2/data-protection/crypto-agent/pkg/models"
	"gotest.tools/v3/assert"
)

func TestMemoryStore_EmptyLoads(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.LoadConfig()
	assert.Assert(t, IsNotFoundError(err))
	_, err = store.LoadPolicy()
	assert.Assert(t, IsNotFoundError(err))
	_, err = store.LoadEndpoints()
	assert.Assert(t, IsNotFoundError(err))

	schemas, err := store.LoadSchemas()
	assert.NilError(t, err)
	assert.Equal(t, len(schemas), 0)
}

func TestMemoryStore_SaveReturnsCopy(t *testing.T) {
	store := NewMemoryStore()

	identity := &models.InstanceIdentity{HubID: "h1", Alias: "a"}
	assert.NilError(t, store.SaveConfig(identity))

	// Mutating the caller's struct must not leak into the store
	identity.HubID = "mutated"

	loaded, err := store.LoadConfig()
	assert.NilError(t, err)
	assert.Equal(t, loaded.HubID, "h1")
}

func TestMemoryStore_SchemaLifecycle(t *testing.T) {
	store := NewMemoryStore()

	count, err := store.CompareAndUpdate([]models.SchemaEntry{
		testEntry("public", "users", "email"),
	})
	assert.NilError(t, err)
	assert.Equal(t, count, 1)

	count, err = store.UpdateStatus([]string{"public.users.email"}, models.SchemaStatusRegistered)
	assert.NilError(t, err)
	assert.Equal(t, count, 1)

	created, err := store.GetCreated()
	assert.NilError(t, err)
	assert.Equal(t, len(created), 0)
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	store := NewMemoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = store.SavePolicy(&models.StoredPolicy{Version: 1})
		}()
		go func() {
			defer wg.Done()
			_, _ = store.LoadPolicy()
		}()
	}
	wg.Wait()

	loaded, err := store.LoadPolicy()
	assert.NilError(t, err)
	assert.Equal(t, loaded.Version, uint64(1))
}
