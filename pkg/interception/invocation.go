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

// Package interception transforms entity field values transparently around
// host data-access calls: encrypting marked fields before writes, decrypting
// them after reads. Entities are detached from the host's persistence
// session before any read-path mutation so a transformed value can never be
// flushed back to the data store.
package interception

import "context"

// Kind classifies the intercepted call site
type Kind int

const (
	// KindRepository - a data-access method; plain string arguments are encrypted
	KindRepository Kind = iota
	// KindService - a business method; plain string arguments pass through
	KindService
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindRepository:
		return "repository"
	case KindService:
		return "service"
	default:
		return "unknown"
	}
}

// SessionHooks let the interceptor quarantine entities from the host's
// persistence session. Both hooks are optional; a nil hook is a no-op and
// is only safe when the call context is already detached.
type SessionHooks struct {
	// Detach removes the entity from the persistence session. Called
	// before any read-path mutation.
	Detach func(entity any)

	// MarkReadOnly marks the entity so the session never flushes it
	MarkReadOnly func(entity any)
}

func (h *SessionHooks) detach(entity any) {
	if h == nil {
		return
	}
	if h.Detach != nil {
		h.Detach(entity)
	}
	if h.MarkReadOnly != nil {
		h.MarkReadOnly(entity)
	}
}

// Paged is implemented by paged result containers. The interceptor
// transforms the content list and rebuilds the page around it.
type Paged interface {
	Content() []any
	Rebuild(content []any) any
}

// Invocation describes one intercepted call
type Invocation struct {
	// Kind of the call site
	Kind Kind

	// Argument is the outbound value on the write path: a single entity,
	// a slice of entities, or a plain string
	Argument any

	// Proceed runs the underlying call on the read path and returns its result
	Proceed func(ctx context.Context) (any, error)

	// Fields optionally restricts transformation to the named struct fields
	Fields []string

	// MaskPolicyName and MaskPolicyUID are method-level mask defaults,
	// overridden by field-level attributes
	MaskPolicyName string
	MaskPolicyUID  string

	// Hooks quarantine read-path entities from the host session
	Hooks *SessionHooks
}

// restricts reports whether the invocation limits transformation to a
// subset of fields, and whether the given field is in it.
func (inv *Invocation) allowsField(name string) bool {
	if len(inv.Fields) == 0 {
		return true
	}
	for _, f := range inv.Fields {
		if f == name {
			return true
		}
	}
	return false
}
