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

package schema

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wso2/data-protection/crypto-agent/pkg/models"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "customers", Normalize("CUSTOMERS"))
	assert.Equal(t, "ssn", Normalize("Ssn"))
	assert.Equal(t, "already_lower", Normalize("already_lower"))
}

func TestDescriptorCatalogRegister(t *testing.T) {
	catalog := NewDescriptorCatalog("ds-1")
	catalog.Register("Public", "Customers", "SSN", "Email")
	catalog.Register("public", "customers", "ssn") // duplicate, ignored
	catalog.Register("", "orders", "card_number")

	entries, err := catalog.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "public", entries[0].SchemaName)
	assert.Equal(t, "customers", entries[0].TableName)
	assert.Equal(t, "ssn", entries[0].ColumnName)
	assert.Equal(t, models.SchemaStatusCreated, entries[0].Status)
	assert.Equal(t, "ds-1", entries[0].DatasourceID)
	assert.Equal(t, "email", entries[1].ColumnName)
	assert.Equal(t, "orders", entries[2].TableName)
}

func TestDescriptorCatalogReady(t *testing.T) {
	catalog := NewDescriptorCatalog("")

	select {
	case <-catalog.Ready():
		t.Fatal("catalog reported ready before MarkReady")
	default:
	}

	catalog.MarkReady()
	catalog.MarkReady() // idempotent

	select {
	case <-catalog.Ready():
	default:
		t.Fatal("catalog not ready after MarkReady")
	}
}

func TestDescriptorCatalogCollectReturnsCopy(t *testing.T) {
	catalog := NewDescriptorCatalog("")
	catalog.Register("main", "users", "email")

	first, err := catalog.Collect(context.Background())
	require.NoError(t, err)
	first[0].ColumnName = "mutated"

	second, err := catalog.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "email", second[0].ColumnName)
}

func TestSQLiteCollector(t *testing.T) {
	collector, err := NewSQLiteCollector(":memory:", "ds-sqlite", "appdb")
	require.NoError(t, err)
	defer collector.Close()

	_, err = collector.db.Exec(`CREATE TABLE Customers (
		id INTEGER PRIMARY KEY,
		SSN TEXT NOT NULL,
		Email TEXT DEFAULT 'none'
	)`)
	require.NoError(t, err)
	_, err = collector.db.Exec(`CREATE TABLE orders (card_number TEXT)`)
	require.NoError(t, err)

	entries, err := collector.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 4)

	byKey := make(map[string]models.SchemaEntry)
	for _, e := range entries {
		byKey[e.Key()] = e
	}

	ssn, ok := byKey["main.customers.ssn"]
	require.True(t, ok, "expected lower-cased customers.ssn entry")
	assert.Equal(t, "sqlite", ssn.DBVendor)
	assert.Equal(t, "appdb", ssn.DatabaseName)
	assert.Equal(t, "TEXT", ssn.ColumnType)
	require.NotNil(t, ssn.IsNullable)
	assert.False(t, *ssn.IsNullable)
	assert.Equal(t, models.SchemaStatusCreated, ssn.Status)

	email, ok := byKey["main.customers.email"]
	require.True(t, ok)
	require.NotNil(t, email.IsNullable)
	assert.True(t, *email.IsNullable)
	assert.Equal(t, "'none'", email.ColumnDefault)

	_, ok = byKey["main.orders.card_number"]
	assert.True(t, ok)

	select {
	case <-collector.Ready():
	default:
		t.Fatal("sqlite collector should be ready at construction")
	}
}
