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

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wso2/data-protection/crypto-agent/pkg/api/middleware"
	"github.com/wso2/data-protection/crypto-agent/pkg/controlplane"
	"github.com/wso2/data-protection/crypto-agent/pkg/engine"
	"github.com/wso2/data-protection/crypto-agent/pkg/models"
	"github.com/wso2/data-protection/crypto-agent/pkg/policy"
	"github.com/wso2/data-protection/crypto-agent/pkg/storage"
)

type fakeAgent struct {
	state     controlplane.State
	identity  models.InstanceIdentity
	engine    *engine.Client
	syncCalls int
}

func (f *fakeAgent) State() controlplane.State { return f.state }
func (f *fakeAgent) Identity() models.InstanceIdentity { return f.identity }
func (f *fakeAgent) ForceSync(context.Context) { f.syncCalls++ }
func (f *fakeAgent) Engine() *engine.Client { return f.engine }

func newTestRouter(t *testing.T, agent Agent, store storage.Store, resolver *policy.Resolver) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.CorrelationIDMiddleware(zap.NewNop()))
	NewAdminServer(agent, resolver, store, zap.NewNop()).Register(router)
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path string) (int, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	router.ServeHTTP(w, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestGetHealth(t *testing.T) {
	store := storage.NewMemoryStore()
	router := newTestRouter(t, &fakeAgent{}, store, policy.NewResolver(store, zap.NewNop()))

	code, body := doJSON(t, router, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestGetStatus(t *testing.T) {
	store := storage.NewMemoryStore()
	resolver := policy.NewResolver(store, zap.NewNop())
	require.NoError(t, resolver.Refresh([]models.Mapping{
		{TableName: "customers", ColumnName: "ssn", PolicyName: "pii-policy", Enabled: true},
	}, nil, 12))

	_, err := store.CompareAndUpdate([]models.SchemaEntry{
		{SchemaName: "public", TableName: "customers", ColumnName: "ssn", Status: models.SchemaStatusCreated},
		{SchemaName: "public", TableName: "customers", ColumnName: "email", Status: models.SchemaStatusCreated},
	})
	require.NoError(t, err)
	_, err = store.UpdateStatus([]string{"public.customers.ssn"}, models.SchemaStatusRegistered)
	require.NoError(t, err)

	agent := &fakeAgent{
		state: controlplane.Idle,
		identity: models.InstanceIdentity{
			HubID:     "f2a9c610-77aa-4ce2-9f84-2b1f60d0a111",
			Alias:     "orders-service",
			HubURL:    "https://hub.example.com",
			Timestamp: time.Now(),
		},
	}
	router := newTestRouter(t, agent, store, resolver)

	code, body := doJSON(t, router, http.MethodGet, "/api/v1/status")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "idle", body["state"])
	assert.Equal(t, true, body["registered"])
	assert.Equal(t, "f2a9c610...", body["hubId"])
	assert.Equal(t, "orders-service", body["alias"])
	assert.Equal(t, float64(12), body["policyVersion"])
	assert.Equal(t, false, body["engineConnected"])
	assert.Equal(t, false, body["endpointPinned"])

	schemas := body["schemas"].(map[string]any)
	assert.Equal(t, float64(2), schemas["total"])
	assert.Equal(t, float64(1), schemas["registered"])
	assert.Equal(t, float64(1), schemas["created"])
}

func TestGetStatusUnregistered(t *testing.T) {
	store := storage.NewMemoryStore()
	agent := &fakeAgent{state: controlplane.Registering}
	router := newTestRouter(t, agent, store, policy.NewResolver(store, zap.NewNop()))

	code, body := doJSON(t, router, http.MethodGet, "/api/v1/status")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["registered"])
	assert.NotContains(t, body, "hubId")
}

func TestTriggerSync(t *testing.T) {
	store := storage.NewMemoryStore()
	agent := &fakeAgent{state: controlplane.Idle}
	router := newTestRouter(t, agent, store, policy.NewResolver(store, zap.NewNop()))

	code, body := doJSON(t, router, http.MethodPost, "/api/v1/sync")
	assert.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, 1, agent.syncCalls)
}

func TestGetMappings(t *testing.T) {
	store := storage.NewMemoryStore()
	resolver := policy.NewResolver(store, zap.NewNop())
	require.NoError(t, resolver.Refresh([]models.Mapping{
		{TableName: "customers", ColumnName: "ssn", PolicyName: "pii-policy", Enabled: true},
		{TableName: "cards", ColumnName: "number", PolicyName: "card-policy", Enabled: true},
	}, nil, 3))
	router := newTestRouter(t, &fakeAgent{}, store, resolver)

	code, body := doJSON(t, router, http.MethodGet, "/api/v1/mappings")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(3), body["version"])
	assert.Equal(t, float64(2), body["count"])

	views := body["mappings"].([]any)
	require.Len(t, views, 2)
	first := views[0].(map[string]any)
	assert.Equal(t, "cards.number", first["key"])
	assert.Equal(t, "card-policy", first["policyName"])
}

func TestGetSchemas(t *testing.T) {
	store := storage.NewMemoryStore()
	_, err := store.CompareAndUpdate([]models.SchemaEntry{
		{SchemaName: "main", TableName: "customers", ColumnName: "ssn", Status: models.SchemaStatusCreated},
	})
	require.NoError(t, err)
	router := newTestRouter(t, &fakeAgent{}, store, policy.NewResolver(store, zap.NewNop()))

	code, body := doJSON(t, router, http.MethodGet, "/api/v1/schemas")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["count"])

	views := body["schemas"].([]any)
	first := views[0].(map[string]any)
	assert.Equal(t, "main.customers.ssn", first["key"])
	assert.Equal(t, "CREATED", first["status"])
}

func TestGetSchemasEmptyCatalog(t *testing.T) {
	store := storage.NewMemoryStore()
	router := newTestRouter(t, &fakeAgent{}, store, policy.NewResolver(store, zap.NewNop()))

	code, body := doJSON(t, router, http.MethodGet, "/api/v1/schemas")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(0), body["count"])
}
