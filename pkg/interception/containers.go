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

import "reflect"

// explodeWrite turns a write argument into addressable struct elements.
// finish produces the value to hand to the underlying call: the original
// argument when mutation happened in place, or the mutated copy for value
// arguments.
func explodeWrite(arg any) (elems []reflect.Value, finish func() any, ok bool) {
	v := reflect.ValueOf(arg)

	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() || v.Elem().Kind() != reflect.Struct {
			return nil, nil, false
		}
		return []reflect.Value{v.Elem()}, func() any { return arg }, true

	case reflect.Struct:
		copyPtr := reflect.New(v.Type())
		copyPtr.Elem().Set(v)
		return []reflect.Value{copyPtr.Elem()}, func() any { return copyPtr.Elem().Interface() }, true

	case reflect.Slice:
		elems, ok := sliceElements(v)
		if !ok {
			return nil, nil, false
		}
		return elems, func() any { return arg }, true

	case reflect.Array:
		copyPtr := reflect.New(v.Type())
		copyPtr.Elem().Set(v)
		elems, ok := sliceElements(copyPtr.Elem().Slice(0, v.Len()))
		if !ok {
			return nil, nil, false
		}
		return elems, func() any { return copyPtr.Elem().Interface() }, true

	default:
		return nil, nil, false
	}
}

// sliceElements extracts the addressable struct values of a slice of
// entities ([]T or []*T). Nil pointers are skipped.
func sliceElements(v reflect.Value) ([]reflect.Value, bool) {
	elemType := v.Type().Elem()
	isPtr := elemType.Kind() == reflect.Pointer
	if isPtr {
		elemType = elemType.Elem()
	}
	if elemType.Kind() != reflect.Struct {
		return nil, false
	}

	elems := make([]reflect.Value, 0, v.Len())
	for i := 0; i < v.Len(); i++ {
		e := v.Index(i)
		if isPtr {
			if e.IsNil() {
				continue
			}
			e = e.Elem()
		}
		elems = append(elems, e)
	}
	return elems, true
}

// normalized is a read result reduced to a uniform element list plus the
// recipe to rebuild the original container shape.
type normalized struct {
	elems    []reflect.Value // addressable struct values
	entities []any           // what session hooks receive, one per element
	rewrap   func() any
}

// normalizeRead reduces a read result to its entity elements. Supported
// shapes: *T, []T, []*T, a Paged container, and iter.Seq of either element
// form. Anything else is left alone.
func normalizeRead(result any) (*normalized, bool) {
	if paged, ok := result.(Paged); ok {
		return normalizePaged(paged)
	}

	v := reflect.ValueOf(result)
	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() || v.Elem().Kind() != reflect.Struct {
			return nil, false
		}
		return &normalized{
			elems:    []reflect.Value{v.Elem()},
			entities: []any{result},
			rewrap:   func() any { return result },
		}, true

	case reflect.Slice:
		elems, ok := sliceElements(v)
		if !ok {
			return nil, false
		}
		entities := make([]any, len(elems))
		for i := range elems {
			entities[i] = elems[i].Addr().Interface()
		}
		return &normalized{
			elems:    elems,
			entities: entities,
			rewrap:   func() any { return result },
		}, true

	case reflect.Func:
		return normalizeSeq(v)

	default:
		return nil, false
	}
}

// normalizePaged works on the page's content list. Pointer elements are
// mutated in place; value elements go through an addressable copy that the
// rebuilt page receives.
func normalizePaged(page Paged) (*normalized, bool) {
	content := page.Content()
	newContent := make([]any, len(content))
	copy(newContent, content)

	var elems []reflect.Value
	var entities []any
	var valueSlots []int          // content indexes holding struct values
	var valueCopies []reflect.Value

	for i, item := range content {
		if item == nil {
			continue
		}
		iv := reflect.ValueOf(item)
		switch {
		case iv.Kind() == reflect.Pointer && !iv.IsNil() && iv.Elem().Kind() == reflect.Struct:
			elems = append(elems, iv.Elem())
			entities = append(entities, item)
		case iv.Kind() == reflect.Struct:
			copyPtr := reflect.New(iv.Type())
			copyPtr.Elem().Set(iv)
			elems = append(elems, copyPtr.Elem())
			entities = append(entities, copyPtr.Interface())
			valueSlots = append(valueSlots, i)
			valueCopies = append(valueCopies, copyPtr)
		}
	}
	if len(elems) == 0 {
		return nil, false
	}

	return &normalized{
		elems:    elems,
		entities: entities,
		rewrap: func() any {
			for j, slot := range valueSlots {
				newContent[slot] = valueCopies[j].Elem().Interface()
			}
			return page.Rebuild(newContent)
		},
	}, true
}

// normalizeSeq materializes an iter.Seq result. Streaming is lost: the
// rewrapped sequence replays the transformed elements from memory.
func normalizeSeq(v reflect.Value) (*normalized, bool) {
	t := v.Type()
	if t.NumIn() != 1 || t.NumOut() != 0 {
		return nil, false
	}
	yieldType := t.In(0)
	if yieldType.Kind() != reflect.Func ||
		yieldType.NumIn() != 1 || yieldType.NumOut() != 1 ||
		yieldType.Out(0).Kind() != reflect.Bool {
		return nil, false
	}

	elemType := yieldType.In(0)
	baseType := elemType
	if baseType.Kind() == reflect.Pointer {
		baseType = baseType.Elem()
	}
	if baseType.Kind() != reflect.Struct {
		return nil, false
	}
	if v.IsNil() {
		return nil, false
	}

	// Materialize into an addressable backing slice
	collected := reflect.MakeSlice(reflect.SliceOf(elemType), 0, 0)
	yield := reflect.MakeFunc(yieldType, func(args []reflect.Value) []reflect.Value {
		collected = reflect.Append(collected, args[0])
		return []reflect.Value{reflect.ValueOf(true)}
	})
	v.Call([]reflect.Value{yield})

	elems, ok := sliceElements(collected)
	if !ok {
		return nil, false
	}
	entities := make([]any, len(elems))
	for i := range elems {
		entities[i] = elems[i].Addr().Interface()
	}

	rewrap := func() any {
		seq := reflect.MakeFunc(t, func(args []reflect.Value) []reflect.Value {
			yield := args[0]
			for i := 0; i < collected.Len(); i++ {
				if !yield.Call([]reflect.Value{collected.Index(i)})[0].Bool() {
					break
				}
			}
			return nil
		})
		return seq.Interface()
	}

	return &normalized{elems: elems, entities: entities, rewrap: rewrap}, true
}
