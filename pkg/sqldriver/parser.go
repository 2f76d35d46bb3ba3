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
	"regexp"
	"strings"
)

// verb classifies a statement
type verb int

const (
	verbOther verb = iota
	verbInsert
	verbUpdate
	verbSelect
)

// statementInfo is the minimal description the wrapper needs: which columns
// the parameters bind to on the write path, and which table the selected
// columns belong to on the read path. Anything the classifier cannot read
// with confidence is passed through untouched.
type statementInfo struct {
	verb    verb
	schema  string
	table   string
	params  []string // parameter columns, in placeholder order
	columns []string // selected columns (read path)
}

var (
	insertRe = regexp.MustCompile(`(?is)^\s*insert\s+into\s+([A-Za-z_][\w.]*)\s*\(([^)]+)\)\s*values\s*\((.+)\)\s*(?:;)?\s*$`)
	updateRe = regexp.MustCompile(`(?is)^\s*update\s+([A-Za-z_][\w.]*)\s+set\s+(.+?)(?:\s+where\s+.+)?\s*(?:;)?\s*$`)
	selectRe = regexp.MustCompile(`(?is)^\s*select\s+(.+?)\s+from\s+([A-Za-z_][\w.]*)\s*(.*)$`)

	identRe       = regexp.MustCompile(`^[A-Za-z_]\w*$`)
	placeholderRe = regexp.MustCompile(`^(\?|\$\d+|:\w+|@\w+)$`)
)

// classify extracts the statement shape. ok=false means pass-through: joins,
// subqueries, SELECT *, multi-row inserts, and expression values all land
// there deliberately.
func classify(query string) (*statementInfo, bool) {
	if m := insertRe.FindStringSubmatch(query); m != nil {
		return classifyInsert(m)
	}
	if m := updateRe.FindStringSubmatch(query); m != nil {
		return classifyUpdate(m)
	}
	if m := selectRe.FindStringSubmatch(query); m != nil {
		return classifySelect(m)
	}
	return nil, false
}

func classifyInsert(m []string) (*statementInfo, bool) {
	info := &statementInfo{verb: verbInsert}
	info.schema, info.table = splitTable(m[1])

	cols := splitList(m[2])
	values := splitList(m[3])
	if len(cols) == 0 || len(cols) != len(values) {
		return nil, false
	}
	for i, col := range cols {
		if !identRe.MatchString(col) {
			return nil, false
		}
		// Each value must be a bare placeholder or the positional binding
		// of parameters to columns breaks
		if !placeholderRe.MatchString(values[i]) {
			return nil, false
		}
		info.params = append(info.params, strings.ToLower(col))
	}
	return info, true
}

func classifyUpdate(m []string) (*statementInfo, bool) {
	info := &statementInfo{verb: verbUpdate}
	info.schema, info.table = splitTable(m[1])

	for _, assignment := range splitList(m[2]) {
		col, value, found := strings.Cut(assignment, "=")
		if !found {
			return nil, false
		}
		col = strings.TrimSpace(col)
		value = strings.TrimSpace(value)
		if !identRe.MatchString(col) || !placeholderRe.MatchString(value) {
			return nil, false
		}
		info.params = append(info.params, strings.ToLower(col))
	}
	if len(info.params) == 0 {
		return nil, false
	}
	return info, true
}

func classifySelect(m []string) (*statementInfo, bool) {
	info := &statementInfo{verb: verbSelect}
	info.schema, info.table = splitTable(m[2])

	tail := strings.ToLower(m[3])
	if strings.Contains(tail, " join ") || strings.HasPrefix(tail, "join ") ||
		strings.Contains(tail, "(select") || strings.Contains(tail, "( select") {
		return nil, false
	}

	for _, col := range splitList(m[1]) {
		if col == "*" || !identRe.MatchString(col) {
			return nil, false
		}
		info.columns = append(info.columns, strings.ToLower(col))
	}
	if len(info.columns) == 0 {
		return nil, false
	}
	return info, true
}

// splitTable splits an optionally schema-qualified table name
func splitTable(name string) (schema, table string) {
	name = strings.ToLower(strings.TrimSpace(name))
	if schema, table, found := strings.Cut(name, "."); found {
		return schema, table
	}
	return "", name
}

// splitList splits a comma-separated list at the top level, ignoring commas
// inside parentheses.
func splitList(s string) []string {
	var out []string
	depth := 0
	start := 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	out = append(out, strings.TrimSpace(s[start:]))
	return out
}
