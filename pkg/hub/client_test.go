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

package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wso2/data-protection/crypto-agent/pkg/constants"
	"github.com/wso2/data-protection/crypto-agent/pkg/models"
	"go.uber.org/zap"
)

func newTestHub(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(srv.URL, Options{}, zap.NewNop())
	require.NoError(t, err)
	return client
}

func TestRegister_Success(t *testing.T) {
	client := newTestHub(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, constants.HubAPIBasePath+constants.HubPathRegister, r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "orders-svc", body["instanceId"])
		assert.Equal(t, constants.ShapeAOP, body["type"])

		fmt.Fprint(w, `{"success":true,"data":{"hubId":"H1"}}`)
	}))

	hubID, err := client.Register(context.Background(), "orders-svc", constants.ShapeAOP)
	require.NoError(t, err)
	assert.Equal(t, "H1", hubID)
}

func TestRegister_RejectedWithoutHubID(t *testing.T) {
	client := newTestHub(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":false,"message":"alias in use"}`)
	}))

	_, err := client.Register(context.Background(), "orders-svc", constants.ShapeAOP)
	assert.ErrorContains(t, err, "alias in use")
}

func TestCheckMappingChange_Outcomes(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		outcome CheckOutcome
		newID   string
	}{
		{"not modified", http.StatusNotModified, "", CheckNotModified, ""},
		{"changed", http.StatusOK, `{}`, CheckChanged, ""},
		{"changed empty body", http.StatusOK, ``, CheckChanged, ""},
		{"reregistered", http.StatusOK, `{"reregistered":true,"hubId":"H2"}`, CheckReregistered, "H2"},
		{"not found", http.StatusNotFound, "", CheckNotFound, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestHub(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "H1", r.Header.Get(constants.HeaderTenant))
				assert.Equal(t, "5", r.Header.Get(constants.HeaderCurrentVersion))
				w.WriteHeader(tc.status)
				fmt.Fprint(w, tc.body)
			}))

			result, err := client.CheckMappingChange(context.Background(), "H1", 5)
			require.NoError(t, err)
			assert.Equal(t, tc.outcome, result.Outcome)
			assert.Equal(t, tc.newID, result.NewHubID)
		})
	}
}

func TestCheckMappingChange_TransientIsError(t *testing.T) {
	client := newTestHub(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := client.CheckMappingChange(context.Background(), "H1", 5)
	assert.Error(t, err)
}

func TestPullPolicies_Snapshot(t *testing.T) {
	client := newTestHub(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "orders-svc", r.URL.Query().Get("instanceId"))
		assert.Equal(t, "orders-svc", r.URL.Query().Get("alias"))
		assert.Equal(t, "H1", r.Header.Get(constants.HeaderTenant))

		fmt.Fprint(w, `{
			"version": 7,
			"mappings": [
				{"schemaName":"public","tableName":"users","columnName":"email","policyName":"p1","enabled":true}
			],
			"endpoint": {"cryptoUrl":"https://engine:8443","version":7}
		}`)
	}))

	pull, err := client.PullPolicies(context.Background(), "H1", "orders-svc", 5)
	require.NoError(t, err)
	assert.False(t, pull.NotModified)
	assert.Equal(t, uint64(7), pull.Version)
	require.Len(t, pull.Mappings, 1)
	assert.Equal(t, "p1", pull.Mappings[0].PolicyName)
	require.NotNil(t, pull.Endpoint)
	assert.Equal(t, "https://engine:8443", pull.Endpoint.CryptoURL)
}

func TestPullPolicies_NotModifiedAndNotFound(t *testing.T) {
	for _, tc := range []struct {
		status int
		check  func(*testing.T, *PolicyPull)
	}{
		{http.StatusNotModified, func(t *testing.T, p *PolicyPull) { assert.True(t, p.NotModified) }},
		{http.StatusNotFound, func(t *testing.T, p *PolicyPull) { assert.True(t, p.NotFound) }},
	} {
		client := newTestHub(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))

		pull, err := client.PullPolicies(context.Background(), "H1", "a", 5)
		require.NoError(t, err)
		tc.check(t, pull)
	}
}

func TestSyncSchemas_PushesWireEntries(t *testing.T) {
	client := newTestHub(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, constants.HubAPIBasePath+constants.HubPathSchemaSync, r.URL.Path)
		assert.Equal(t, "H1", r.Header.Get(constants.HeaderTenant))

		var body struct {
			InstanceID string `json:"instanceId"`
			Schemas    []struct {
				SchemaName string `json:"schemaName"`
				TableName  string `json:"tableName"`
				ColumnName string `json:"columnName"`
			} `json:"schemas"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "orders-svc", body.InstanceID)
		require.Len(t, body.Schemas, 1)
		assert.Equal(t, "users", body.Schemas[0].TableName)

		fmt.Fprint(w, `{"success":true}`)
	}))

	err := client.SyncSchemas(context.Background(), "H1", "orders-svc", []models.SchemaEntry{
		{SchemaName: "public", TableName: "users", ColumnName: "email"},
	})
	assert.NoError(t, err)
}

func TestSyncSchemas_EmptySetSkipsCall(t *testing.T) {
	called := false
	client := newTestHub(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	require.NoError(t, client.SyncSchemas(context.Background(), "H1", "a", nil))
	assert.False(t, called)
}

func TestSyncSchemas_RejectionIsError(t *testing.T) {
	client := newTestHub(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":false,"message":"bad catalog"}`)
	}))

	err := client.SyncSchemas(context.Background(), "H1", "a", []models.SchemaEntry{
		{TableName: "users", ColumnName: "email"},
	})
	assert.ErrorContains(t, err, "bad catalog")
}
