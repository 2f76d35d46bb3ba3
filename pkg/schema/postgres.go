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
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver
	"github.com/jmoiron/sqlx"

	"github.com/wso2/data-protection/crypto-agent/pkg/constants"
	"github.com/wso2/data-protection/crypto-agent/pkg/models"
)

// System schemas are never part of the protected catalog
const pgColumnsQuery = `
SELECT table_schema, table_name, column_name, data_type, is_nullable,
       COALESCE(column_default, '') AS column_default
FROM information_schema.columns
WHERE table_schema NOT IN ('pg_catalog', 'information_schema')
ORDER BY table_schema, table_name, ordinal_position`

type pgColumnRow struct {
	TableSchema   string `db:"table_schema"`
	TableName     string `db:"table_name"`
	ColumnName    string `db:"column_name"`
	DataType      string `db:"data_type"`
	IsNullable    string `db:"is_nullable"`
	ColumnDefault string `db:"column_default"`
}

// PostgresCollector reads the column catalog from information_schema.
// It is ready as soon as the connection is established.
type PostgresCollector struct {
	db           *sqlx.DB
	datasourceID string
	databaseName string
	ready        chan struct{}
}

// NewPostgresCollector opens a pgx-backed connection for catalog queries
func NewPostgresCollector(dsn, datasourceID, databaseName string) (*PostgresCollector, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	ready := make(chan struct{})
	close(ready)

	return &PostgresCollector{
		db:           db,
		datasourceID: datasourceID,
		databaseName: databaseName,
		ready:        ready,
	}, nil
}

// Collect queries information_schema.columns for all user schemas
func (pc *PostgresCollector) Collect(ctx context.Context) ([]models.SchemaEntry, error) {
	rows, err := pc.db.QueryxContext(ctx, pgColumnsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query information_schema: %w", err)
	}
	defer rows.Close()

	var entries []models.SchemaEntry
	for rows.Next() {
		var row pgColumnRow
		if err := rows.StructScan(&row); err != nil {
			return nil, fmt.Errorf("failed to scan column row: %w", err)
		}
		nullable := row.IsNullable == "YES"
		entries = append(entries, models.SchemaEntry{
			DatasourceID:  pc.datasourceID,
			DBVendor:      constants.VendorPostgres,
			DatabaseName:  pc.databaseName,
			SchemaName:    Normalize(row.TableSchema),
			TableName:     Normalize(row.TableName),
			ColumnName:    Normalize(row.ColumnName),
			ColumnType:    row.DataType,
			IsNullable:    &nullable,
			ColumnDefault: row.ColumnDefault,
			Status:        models.SchemaStatusCreated,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate column rows: %w", err)
	}
	return entries, nil
}

// Ready is closed at construction; the database catalog needs no warm-up
func (pc *PostgresCollector) Ready() <-chan struct{} {
	return pc.ready
}

// Close releases the underlying connection pool
func (pc *PostgresCollector) Close() error {
	return pc.db.Close()
}
