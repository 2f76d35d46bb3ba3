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

// Package integration exercises the agent end to end against in-process Hub
// and Engine servers: first boot, policy arrival, re-registration, batch
// order preservation, the not-encrypted sentinel, and fail-open outages.
package integration

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wso2/data-protection/crypto-agent/pkg/constants"
	"github.com/wso2/data-protection/crypto-agent/pkg/engine"
	"github.com/wso2/data-protection/crypto-agent/pkg/models"
	"github.com/wso2/data-protection/crypto-agent/pkg/policy"
	"github.com/wso2/data-protection/crypto-agent/pkg/storage"
)

// User is the entity the scenarios write and read
type User struct {
	ID    int    `db:"id"`
	Email string `db:"email" dadp:"encrypt"`
}

func (User) TableName() string { return "users" }

// fakeHub is an in-process Hub control plane
type fakeHub struct {
	mu sync.Mutex

	hubID       string
	version     uint64
	mappings    []models.Mapping
	checkStatus int // overrides the version comparison when non-zero

	registerCalls int
	schemaPushes  [][]map[string]string
}

func (f *fakeHub) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	base := constants.HubAPIBasePath

	mux.HandleFunc(base+constants.HubPathRegister, func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.registerCalls++
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]string{"hubId": f.hubID},
		})
	})

	mux.HandleFunc(base+constants.HubPathMappingCheck, func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.checkStatus != 0 {
			w.WriteHeader(f.checkStatus)
			return
		}
		if r.Header.Get(constants.HeaderCurrentVersion) == strconv.FormatUint(f.version, 10) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{})
	})

	mux.HandleFunc(base+constants.HubPathPolicies, func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{
			"version":  f.version,
			"mappings": f.mappings,
		})
	})

	mux.HandleFunc(base+constants.HubPathSchemaSync, func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var payload struct {
			Schemas []map[string]string `json:"schemas"`
		}
		json.NewDecoder(r.Body).Decode(&payload)
		f.schemaPushes = append(f.schemaPushes, payload.Schemas)
		json.NewEncoder(w).Encode(map[string]any{"success": true})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func (f *fakeHub) set(mutate func(*fakeHub)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	mutate(f)
}

func (f *fakeHub) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.schemaPushes)
}

// fakeEngine round-trips values through hub envelopes
type fakeEngine struct {
	mu          sync.Mutex
	plainOf     map[string]string
	keyID       string
	singleCalls int
	batchCalls  int
	batchSizes  []int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{plainOf: make(map[string]string), keyID: uuid.NewString()}
}

func (f *fakeEngine) encrypt(plain string) string {
	payload := make([]byte, 32)
	copy(payload, plain)
	for i := 0; ; i++ {
		body := payload
		if i > 0 {
			body = append(append([]byte(nil), payload...), byte(i))
		}
		env := "hub:" + f.keyID + ":" + base64.StdEncoding.EncodeToString(body)
		if _, taken := f.plainOf[env]; !taken {
			f.plainOf[env] = plain
			return env
		}
	}
}

// seed records an envelope for plain without an HTTP round trip
func (f *fakeEngine) seed(plain string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.encrypt(plain)
}

func (f *fakeEngine) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/crypto/encrypt", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.singleCalls++
		var req struct {
			Data string `json:"data"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]string{"encryptedData": f.encrypt(req.Data)},
		})
	})

	mux.HandleFunc("/v1/crypto/decrypt", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.singleCalls++
		var req struct {
			EncryptedData string `json:"encryptedData"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		plain, ok := f.plainOf[req.EncryptedData]
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintf(w, `{"success":false,"message":"%s"}`, constants.NotEncryptedSentinel)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]string{"decryptedData": plain},
		})
	})

	mux.HandleFunc("/v1/crypto/decrypt/batch", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.batchCalls++
		var req struct {
			Items []struct {
				Data string `json:"data"`
			} `json:"items"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		f.batchSizes = append(f.batchSizes, len(req.Items))
		results := make([]map[string]any, len(req.Items))
		for i, item := range req.Items {
			plain, ok := f.plainOf[item.Data]
			if !ok {
				results[i] = map[string]any{"success": false, "originalData": item.Data}
				continue
			}
			results[i] = map[string]any{
				"success":       true,
				"decryptedData": plain,
				"originalData":  item.Data,
			}
		}
		json.NewEncoder(w).Encode(map[string]any{"success": true, "results": results})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func (f *fakeEngine) counts() (single, batch int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.singleCalls, f.batchCalls
}

func seededResolver(t *testing.T, mappings ...models.Mapping) *policy.Resolver {
	t.Helper()
	resolver := policy.NewResolver(storage.NewMemoryStore(), zap.NewNop())
	require.NoError(t, resolver.Refresh(mappings, nil, 1))
	return resolver
}

func emailMapping() models.Mapping {
	return models.Mapping{TableName: "users", ColumnName: "email", PolicyName: "p1", Enabled: true}
}

func newEngineClient(t *testing.T, baseURL string) *engine.Client {
	t.Helper()
	ec, err := engine.NewClient(baseURL, engine.Options{}, zap.NewNop())
	require.NoError(t, err)
	return ec
}
