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

// Package sqldriver wraps a database/sql driver so that column values flow
// through the crypto Engine transparently: INSERT and UPDATE parameters on
// protected columns are encrypted before execution, SELECT results are
// decrypted before the application scans them. Statements the minimal SQL
// reader cannot classify pass through untouched.
package sqldriver

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"

	"go.uber.org/zap"

	"github.com/wso2/data-protection/crypto-agent/pkg/ciphertext"
	"github.com/wso2/data-protection/crypto-agent/pkg/constants"
	"github.com/wso2/data-protection/crypto-agent/pkg/engine"
	"github.com/wso2/data-protection/crypto-agent/pkg/policy"
)

// Options configures the wrapper
type Options struct {
	Resolver *policy.Resolver

	// Engine returns the current Engine client; called per operation so
	// endpoint swaps take effect immediately
	Engine func() *engine.Client

	// DatasourceID qualifies policy keys
	DatasourceID string

	// DefaultSchema is used for policy resolution when statements do not
	// qualify table names (e.g. "main" for SQLite, "public" for Postgres)
	DefaultSchema string

	BatchMinSize  int
	BatchMaxSize  int
	BatchDisabled bool

	// FallbackToOriginal passes original values through instead of failing
	// the statement when the Engine is unreachable
	FallbackToOriginal bool

	Logger *zap.Logger
}

// runtime is the normalized option set shared by all wrapped objects
type runtime struct {
	resolver *policy.Resolver
	engineOf func() *engine.Client
	dsID     string
	schema   string
	batchMin int
	batchMax int
	batchOff bool
	fallback bool
	logger   *zap.Logger
}

func newRuntime(opts Options) *runtime {
	batchMin := opts.BatchMinSize
	if batchMin < 1 {
		batchMin = constants.DefaultBatchMinSize
	}
	batchMax := opts.BatchMaxSize
	if batchMax < batchMin {
		batchMax = constants.DefaultBatchMaxSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &runtime{
		resolver: opts.Resolver,
		engineOf: opts.Engine,
		dsID:     opts.DatasourceID,
		schema:   opts.DefaultSchema,
		batchMin: batchMin,
		batchMax: batchMax,
		batchOff: opts.BatchDisabled,
		fallback: opts.FallbackToOriginal,
		logger:   logger,
	}
}

func (rt *runtime) engine() (*engine.Client, error) {
	if rt.engineOf != nil {
		if ec := rt.engineOf(); ec != nil {
			return ec, nil
		}
	}
	return nil, fmt.Errorf("no crypto endpoint bound")
}

// policyFor resolves the policy of a column, applying the default schema
// when the statement did not qualify the table.
func (rt *runtime) policyFor(schema, table, column string) (string, bool) {
	if schema == "" {
		schema = rt.schema
	}
	return rt.resolver.Resolve(rt.dsID, schema, table, column)
}

// encryptParams encrypts the statement parameters bound to protected
// columns, in place. Parameters beyond the classified column list (WHERE
// clause placeholders) are left alone.
func (rt *runtime) encryptParams(ctx context.Context, info *statementInfo, args []driver.NamedValue) error {
	for i := range args {
		ordinal := args[i].Ordinal - 1
		if ordinal < 0 || ordinal >= len(info.params) {
			continue
		}
		value, ok := args[i].Value.(string)
		if !ok || value == "" || ciphertext.IsCiphertext(value) {
			continue
		}
		policyName, ok := rt.policyFor(info.schema, info.table, info.params[ordinal])
		if !ok {
			continue
		}

		ec, err := rt.engine()
		if err != nil {
			return rt.recover(err)
		}
		attrs := rt.resolver.GetAttributes(policyName)
		out, err := ec.Encrypt(ctx, value, policyName, !attrs.UseIV)
		if err != nil {
			return rt.recover(err)
		}
		args[i].Value = out
	}
	return nil
}

func (rt *runtime) recover(err error) error {
	if rt.fallback {
		rt.logger.Warn("Crypto operation failed, passing original values through", zap.Error(err))
		return nil
	}
	return err
}

// wrappedDriver decorates another database/sql driver
type wrappedDriver struct {
	inner driver.Driver
	rt    *runtime
}

// Wrap decorates d so every connection transforms protected column values
func Wrap(d driver.Driver, opts Options) driver.Driver {
	return &wrappedDriver{inner: d, rt: newRuntime(opts)}
}

// Register wraps d and registers it under name with database/sql
func Register(name string, d driver.Driver, opts Options) {
	sql.Register(name, Wrap(d, opts))
}

func (d *wrappedDriver) Open(name string) (driver.Conn, error) {
	inner, err := d.inner.Open(name)
	if err != nil {
		return nil, err
	}
	return &wrappedConn{inner: inner, rt: d.rt}, nil
}
