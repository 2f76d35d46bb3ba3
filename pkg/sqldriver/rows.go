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
	"io"

	"go.uber.org/zap"

	"github.com/wso2/data-protection/crypto-agent/pkg/ciphertext"
	"github.com/wso2/data-protection/crypto-agent/pkg/engine"
	"github.com/wso2/data-protection/crypto-agent/pkg/metrics"
)

// decryptRows decorates a result set. By default all rows are prefetched on
// the first Next so ciphertext values can be batch-decrypted in one or a few
// Engine round trips, then replayed in order. With batching disabled each
// row is transformed as it streams through.
type decryptRows struct {
	inner driver.Rows
	rt    *runtime
	info  *statementInfo
	ctx   context.Context

	perRow    bool
	fetched   bool
	buffered  [][]driver.Value
	replayIdx int
}

func newDecryptRows(ctx context.Context, inner driver.Rows, rt *runtime, info *statementInfo) driver.Rows {
	return &decryptRows{
		inner:  inner,
		rt:     rt,
		info:   info,
		ctx:    ctx,
		perRow: rt.batchOff,
	}
}

func (r *decryptRows) Columns() []string {
	return r.inner.Columns()
}

func (r *decryptRows) Close() error {
	return r.inner.Close()
}

func (r *decryptRows) Next(dest []driver.Value) error {
	if r.perRow {
		if err := r.inner.Next(dest); err != nil {
			return err
		}
		return r.decryptRow(dest)
	}

	if !r.fetched {
		if err := r.prefetch(); err != nil {
			return err
		}
	}
	if r.replayIdx >= len(r.buffered) {
		return io.EOF
	}
	copy(dest, r.buffered[r.replayIdx])
	r.replayIdx++
	return nil
}

// valueString extracts a string candidate from a driver value
func valueString(v driver.Value) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	default:
		return "", false
	}
}

// decryptRow transforms one streamed row in place (per-row mode)
func (r *decryptRows) decryptRow(dest []driver.Value) error {
	columns := r.inner.Columns()
	for i := range dest {
		value, ok := valueString(dest[i])
		if !ok || !ciphertext.IsCiphertext(value) {
			continue
		}
		policyName := ""
		if i < len(columns) {
			policyName, _ = r.rt.policyFor(r.info.schema, r.info.table, columns[i])
		}

		ec, err := r.rt.engine()
		if err != nil {
			return r.rt.recover(err)
		}
		res, err := ec.Decrypt(r.ctx, value, engine.DecryptOptions{PolicyName: policyName})
		if err != nil {
			return r.rt.recover(err)
		}
		if res.NotEncrypted {
			continue
		}
		dest[i] = res.Data
		metrics.ValuesTransformedTotal.WithLabelValues("decrypt", "single").Inc()
	}
	return nil
}

// prefetch drains the inner rows, batch-decrypts the ciphertext values it
// found, and prepares the buffer for replay. Row and value order is
// preserved end to end.
func (r *decryptRows) prefetch() error {
	r.fetched = true
	width := len(r.inner.Columns())

	for {
		row := make([]driver.Value, width)
		err := r.inner.Next(row)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		// []byte buffers are reused by drivers between Next calls
		for i, v := range row {
			if b, ok := v.([]byte); ok {
				row[i] = append([]byte(nil), b...)
			}
		}
		r.buffered = append(r.buffered, row)
	}

	type slot struct{ row, col int }
	var slots []slot
	var values []string
	for ri, row := range r.buffered {
		for ci, v := range row {
			value, ok := valueString(v)
			if !ok || !ciphertext.IsCiphertext(value) {
				continue
			}
			slots = append(slots, slot{ri, ci})
			values = append(values, value)
		}
	}
	if len(values) == 0 {
		return nil
	}

	ec, err := r.rt.engine()
	if err != nil {
		return r.rt.recover(err)
	}

	write := func(idx int, data string) {
		s := slots[idx]
		r.buffered[s.row][s.col] = data
	}

	if len(values) < r.rt.batchMin {
		columns := r.inner.Columns()
		for idx, value := range values {
			policyName := ""
			if col := slots[idx].col; col < len(columns) {
				policyName, _ = r.rt.policyFor(r.info.schema, r.info.table, columns[col])
			}
			res, err := ec.Decrypt(r.ctx, value, engine.DecryptOptions{PolicyName: policyName})
			if err != nil {
				return r.rt.recover(err)
			}
			if res.NotEncrypted {
				continue
			}
			write(idx, res.Data)
			metrics.ValuesTransformedTotal.WithLabelValues("decrypt", "single").Inc()
		}
		return nil
	}

	for start := 0; start < len(values); start += r.rt.batchMax {
		end := start + r.rt.batchMax
		if end > len(values) {
			end = len(values)
		}
		items := make([]engine.BatchDecryptItem, end-start)
		for i, value := range values[start:end] {
			items[i] = engine.BatchDecryptItem{Data: value}
		}
		results, err := ec.DecryptBatch(r.ctx, items)
		if err != nil {
			return r.rt.recover(err)
		}
		for i, res := range results {
			if res.NotEncrypted || res.Data == "" {
				continue
			}
			write(start+i, res.Data)
		}
		metrics.ValuesTransformedTotal.WithLabelValues("decrypt", "batch").Add(float64(end - start))
	}

	r.rt.logger.Debug("Result set decrypted",
		zap.Int("rows", len(r.buffered)),
		zap.Int("values", len(values)))
	return nil
}
