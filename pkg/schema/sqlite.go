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
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // sqlite3 database/sql driver

	"github.com/wso2/data-protection/crypto-agent/pkg/constants"
	"github.com/wso2/data-protection/crypto-agent/pkg/models"
)

// SQLiteCollector reads the column catalog from sqlite_master and
// PRAGMA table_info. SQLite has no schema level, so SchemaName is
// the fixed "main".
type SQLiteCollector struct {
	db           *sqlx.DB
	datasourceID string
	databaseName string
	ready        chan struct{}
}

// NewSQLiteCollector opens the database file (or :memory:) for catalog queries
func NewSQLiteCollector(dsn, datasourceID, databaseName string) (*SQLiteCollector, error) {
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	ready := make(chan struct{})
	close(ready)

	return &SQLiteCollector{
		db:           db,
		datasourceID: datasourceID,
		databaseName: databaseName,
		ready:        ready,
	}, nil
}

// WrapSQLiteDB builds a collector over an already-open connection. The
// caller keeps ownership of the connection.
func WrapSQLiteDB(db *sql.DB, datasourceID, databaseName string) *SQLiteCollector {
	ready := make(chan struct{})
	close(ready)
	return &SQLiteCollector{
		db:           sqlx.NewDb(db, "sqlite3"),
		datasourceID: datasourceID,
		databaseName: databaseName,
		ready:        ready,
	}
}

// Collect lists user tables and expands each via PRAGMA table_info
func (sc *SQLiteCollector) Collect(ctx context.Context) ([]models.SchemaEntry, error) {
	var tables []string
	err := sc.db.SelectContext(ctx, &tables,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sqlite tables: %w", err)
	}

	var entries []models.SchemaEntry
	for _, table := range tables {
		columns, err := sc.tableColumns(ctx, table)
		if err != nil {
			return nil, err
		}
		entries = append(entries, columns...)
	}
	return entries, nil
}

type sqliteColumnRow struct {
	CID        int            `db:"cid"`
	Name       string         `db:"name"`
	Type       string         `db:"type"`
	NotNull    int            `db:"notnull"`
	DefaultVal sql.NullString `db:"dflt_value"`
	PrimaryKey int            `db:"pk"`
}

func (sc *SQLiteCollector) tableColumns(ctx context.Context, table string) ([]models.SchemaEntry, error) {
	// PRAGMA does not take bind parameters; quote the identifier instead
	rows, err := sc.db.QueryxContext(ctx, fmt.Sprintf(`PRAGMA table_info(%q)`, table))
	if err != nil {
		return nil, fmt.Errorf("failed to read table_info for %s: %w", table, err)
	}
	defer rows.Close()

	var entries []models.SchemaEntry
	for rows.Next() {
		var row sqliteColumnRow
		if err := rows.StructScan(&row); err != nil {
			return nil, fmt.Errorf("failed to scan table_info row for %s: %w", table, err)
		}
		nullable := row.NotNull == 0
		entries = append(entries, models.SchemaEntry{
			DatasourceID:  sc.datasourceID,
			DBVendor:      constants.VendorSQLite,
			DatabaseName:  sc.databaseName,
			SchemaName:    "main",
			TableName:     Normalize(table),
			ColumnName:    Normalize(row.Name),
			ColumnType:    row.Type,
			IsNullable:    &nullable,
			ColumnDefault: row.DefaultVal.String,
			Status:        models.SchemaStatusCreated,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate table_info rows for %s: %w", table, err)
	}
	return entries, nil
}

// Ready is closed at construction
func (sc *SQLiteCollector) Ready() <-chan struct{} {
	return sc.ready
}

// Close releases the underlying connection pool
func (sc *SQLiteCollector) Close() error {
	return sc.db.Close()
}
