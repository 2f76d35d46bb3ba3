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

package interception

import (
	"reflect"
	"strings"
	"sync"
	"unicode"
)

// TagName is the struct tag the interceptor reads for field markers,
// e.g. `dadp:"encrypt"` or `dadp:"encrypt,mask=card-mask:uid-1"`.
const TagName = "dadp"

// tableNamer is the optional method entities implement to override the
// snake-cased type name as their table name.
type tableNamer interface {
	TableName() string
}

var tableNamerType = reflect.TypeOf((*tableNamer)(nil)).Elem()

// FieldDescriptor describes one string field of an entity type
type FieldDescriptor struct {
	Name           string // struct field name
	Column         string // database column, lower-cased
	Index          int    // struct field index
	Pointer        bool   // *string rather than string
	Encrypt        bool   // field carries the encrypt marker
	MaskPolicyName string
	MaskPolicyUID  string
}

// EntityDescriptor is the per-type field map, computed once and cached
type EntityDescriptor struct {
	Type   reflect.Type
	Schema string
	Table  string
	Fields []FieldDescriptor
}

// Targets returns the encrypt-eligible fields, optionally restricted to the
// invocation's field subset.
func (d *EntityDescriptor) Targets(inv *Invocation) []FieldDescriptor {
	out := make([]FieldDescriptor, 0, len(d.Fields))
	for _, fd := range d.Fields {
		if fd.Encrypt && inv.allowsField(fd.Name) {
			out = append(out, fd)
		}
	}
	return out
}

// Registry caches entity descriptors by concrete type. An optional manifest
// overrides and extends tag-derived metadata for host types that cannot
// carry tags.
type Registry struct {
	cache    sync.Map // reflect.Type -> *EntityDescriptor
	manifest *Manifest
}

// NewRegistry creates a descriptor registry. manifest may be nil.
func NewRegistry(manifest *Manifest) *Registry {
	return &Registry{manifest: manifest}
}

// Describe returns the descriptor for t, computing and caching it on first
// use. t may be a struct type or a pointer to one; anything else yields nil.
func (reg *Registry) Describe(t reflect.Type) *EntityDescriptor {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil
	}

	if cached, ok := reg.cache.Load(t); ok {
		return cached.(*EntityDescriptor)
	}

	desc := reg.describe(t)
	actual, _ := reg.cache.LoadOrStore(t, desc)
	return actual.(*EntityDescriptor)
}

func (reg *Registry) describe(t reflect.Type) *EntityDescriptor {
	desc := &EntityDescriptor{
		Type:  t,
		Table: snakeCase(t.Name()),
	}

	if t.Implements(tableNamerType) {
		desc.Table = strings.ToLower(reflect.Zero(t).Interface().(tableNamer).TableName())
	} else if reflect.PointerTo(t).Implements(tableNamerType) {
		desc.Table = strings.ToLower(reflect.New(t).Interface().(tableNamer).TableName())
	}

	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		pointer, eligible := stringKind(sf.Type)
		if !eligible {
			continue
		}

		fd := FieldDescriptor{
			Name:    sf.Name,
			Column:  columnName(sf),
			Index:   i,
			Pointer: pointer,
		}
		parseMarker(sf.Tag.Get(TagName), &fd)
		desc.Fields = append(desc.Fields, fd)
	}

	reg.applyManifest(desc)
	return desc
}

// applyManifest overlays manifest metadata onto the tag-derived descriptor
func (reg *Registry) applyManifest(desc *EntityDescriptor) {
	if reg.manifest == nil {
		return
	}
	entity := reg.manifest.entity(desc.Type)
	if entity == nil {
		return
	}

	if entity.Schema != "" {
		desc.Schema = strings.ToLower(entity.Schema)
	}
	if entity.Table != "" {
		desc.Table = strings.ToLower(entity.Table)
	}

	for _, mf := range entity.Fields {
		for i := range desc.Fields {
			if desc.Fields[i].Name != mf.Name {
				continue
			}
			if mf.Column != "" {
				desc.Fields[i].Column = strings.ToLower(mf.Column)
			}
			desc.Fields[i].Encrypt = mf.Encrypt
			desc.Fields[i].MaskPolicyName = mf.MaskPolicy
			desc.Fields[i].MaskPolicyUID = mf.MaskPolicyUID
			break
		}
	}
}

// stringKind reports whether t is string or *string
func stringKind(t reflect.Type) (pointer, eligible bool) {
	if t.Kind() == reflect.String {
		return false, true
	}
	if t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.String {
		return true, true
	}
	return false, false
}

// columnName derives the column from the sqlx db tag, falling back to the
// snake-cased field name.
func columnName(sf reflect.StructField) string {
	tag := sf.Tag.Get("db")
	if tag != "" {
		if name, _, _ := strings.Cut(tag, ","); name != "" && name != "-" {
			return strings.ToLower(name)
		}
	}
	return snakeCase(sf.Name)
}

// parseMarker parses the dadp tag: "encrypt" optionally followed by
// ",mask=<policy>[:<uid>]".
func parseMarker(tag string, fd *FieldDescriptor) {
	if tag == "" {
		return
	}
	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		switch {
		case part == "encrypt":
			fd.Encrypt = true
		case strings.HasPrefix(part, "mask="):
			policy, uid, _ := strings.Cut(strings.TrimPrefix(part, "mask="), ":")
			fd.MaskPolicyName = policy
			fd.MaskPolicyUID = uid
		}
	}
}

// snakeCase converts CamelCase identifiers to snake_case, the conventional
// column naming when no db tag is present.
func snakeCase(name string) string {
	var b strings.Builder
	runes := []rune(name)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (!unicode.IsUpper(runes[i-1]) ||
				(i+1 < len(runes) && !unicode.IsUpper(runes[i+1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
