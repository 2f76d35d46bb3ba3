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

package sqldriver

import (
	"context"
	"database/sql/driver"
)

type wrappedConn struct {
	inner driver.Conn
	rt    *runtime
}

// compile-time interface checks
var (
	_ driver.Conn               = (*wrappedConn)(nil)
	_ driver.ConnPrepareContext = (*wrappedConn)(nil)
	_ driver.ExecerContext      = (*wrappedConn)(nil)
	_ driver.QueryerContext     = (*wrappedConn)(nil)
	_ driver.NamedValueChecker  = (*wrappedConn)(nil)
	_ driver.ConnBeginTx        = (*wrappedConn)(nil)
)

func (c *wrappedConn) Prepare(query string) (driver.Stmt, error) {
	inner, err := c.inner.Prepare(query)
	if err != nil {
		return nil, err
	}
	info, ok := classify(query)
	return &wrappedStmt{inner: inner, rt: c.rt, info: info, classified: ok}, nil
}

func (c *wrappedConn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	var inner driver.Stmt
	var err error
	if pc, ok := c.inner.(driver.ConnPrepareContext); ok {
		inner, err = pc.PrepareContext(ctx, query)
	} else {
		inner, err = c.inner.Prepare(query)
	}
	if err != nil {
		return nil, err
	}
	info, ok := classify(query)
	return &wrappedStmt{inner: inner, rt: c.rt, info: info, classified: ok}, nil
}

func (c *wrappedConn) Close() error {
	return c.inner.Close()
}

func (c *wrappedConn) Begin() (driver.Tx, error) {
	return c.inner.Begin()
}

func (c *wrappedConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if bt, ok := c.inner.(driver.ConnBeginTx); ok {
		return bt.BeginTx(ctx, opts)
	}
	return c.inner.Begin()
}

func (c *wrappedConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	if info, ok := classify(query); ok && (info.verb == verbInsert || info.verb == verbUpdate) {
		if err := c.rt.encryptParams(ctx, info, args); err != nil {
			return nil, err
		}
	}

	if ec, ok := c.inner.(driver.ExecerContext); ok {
		return ec.ExecContext(ctx, query, args)
	}

	// Legacy driver: go through a prepared statement
	stmt, err := c.inner.Prepare(query)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()
	return stmt.Exec(namedToValues(args))
}

func (c *wrappedConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	info, classified := classify(query)

	var rows driver.Rows
	var err error
	if qc, ok := c.inner.(driver.QueryerContext); ok {
		rows, err = qc.QueryContext(ctx, query, args)
	} else {
		var stmt driver.Stmt
		stmt, err = c.inner.Prepare(query)
		if err != nil {
			return nil, err
		}
		rows, err = stmt.Query(namedToValues(args))
		if err != nil {
			stmt.Close()
			return nil, err
		}
		rows = &stmtClosingRows{Rows: rows, stmt: stmt}
	}
	if err != nil {
		return nil, err
	}

	if classified && info.verb == verbSelect {
		return newDecryptRows(ctx, rows, c.rt, info), nil
	}
	return rows, nil
}

func (c *wrappedConn) CheckNamedValue(nv *driver.NamedValue) error {
	if checker, ok := c.inner.(driver.NamedValueChecker); ok {
		return checker.CheckNamedValue(nv)
	}
	value, err := driver.DefaultParameterConverter.ConvertValue(nv.Value)
	if err != nil {
		return err
	}
	nv.Value = value
	return nil
}

// wrappedStmt decorates a prepared statement with the classification done
// once at prepare time.
type wrappedStmt struct {
	inner      driver.Stmt
	rt         *runtime
	info       *statementInfo
	classified bool
}

var (
	_ driver.Stmt              = (*wrappedStmt)(nil)
	_ driver.StmtExecContext   = (*wrappedStmt)(nil)
	_ driver.StmtQueryContext  = (*wrappedStmt)(nil)
	_ driver.NamedValueChecker = (*wrappedStmt)(nil)
)

func (s *wrappedStmt) Close() error {
	return s.inner.Close()
}

func (s *wrappedStmt) NumInput() int {
	return s.inner.NumInput()
}

func (s *wrappedStmt) writeInfo() *statementInfo {
	if s.classified && (s.info.verb == verbInsert || s.info.verb == verbUpdate) {
		return s.info
	}
	return nil
}

func (s *wrappedStmt) Exec(args []driver.Value) (driver.Result, error) {
	if info := s.writeInfo(); info != nil {
		named := valuesToNamed(args)
		if err := s.rt.encryptParams(context.Background(), info, named); err != nil {
			return nil, err
		}
		args = namedToValues(named)
	}
	return s.inner.Exec(args)
}

func (s *wrappedStmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	if info := s.writeInfo(); info != nil {
		if err := s.rt.encryptParams(ctx, info, args); err != nil {
			return nil, err
		}
	}
	if sc, ok := s.inner.(driver.StmtExecContext); ok {
		return sc.ExecContext(ctx, args)
	}
	return s.inner.Exec(namedToValues(args))
}

func (s *wrappedStmt) Query(args []driver.Value) (driver.Rows, error) {
	rows, err := s.inner.Query(args)
	if err != nil {
		return nil, err
	}
	if s.classified && s.info.verb == verbSelect {
		return newDecryptRows(context.Background(), rows, s.rt, s.info), nil
	}
	return rows, nil
}

func (s *wrappedStmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	var rows driver.Rows
	var err error
	if sc, ok := s.inner.(driver.StmtQueryContext); ok {
		rows, err = sc.QueryContext(ctx, args)
	} else {
		rows, err = s.inner.Query(namedToValues(args))
	}
	if err != nil {
		return nil, err
	}
	if s.classified && s.info.verb == verbSelect {
		return newDecryptRows(ctx, rows, s.rt, s.info), nil
	}
	return rows, nil
}

func (s *wrappedStmt) CheckNamedValue(nv *driver.NamedValue) error {
	if checker, ok := s.inner.(driver.NamedValueChecker); ok {
		return checker.CheckNamedValue(nv)
	}
	value, err := driver.DefaultParameterConverter.ConvertValue(nv.Value)
	if err != nil {
		return err
	}
	nv.Value = value
	return nil
}

// stmtClosingRows ties an implicitly prepared statement's lifetime to its
// result rows.
type stmtClosingRows struct {
	driver.Rows
	stmt driver.Stmt
}

func (r *stmtClosingRows) Close() error {
	err := r.Rows.Close()
	if cerr := r.stmt.Close(); err == nil {
		err = cerr
	}
	return err
}

func namedToValues(args []driver.NamedValue) []driver.Value {
	out := make([]driver.Value, len(args))
	for i, a := range args {
		out[i] = a.Value
	}
	return out
}

func valuesToNamed(args []driver.Value) []driver.NamedValue {
	out := make([]driver.NamedValue, len(args))
	for i, v := range args {
		out[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return out
}
