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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type taggedCustomer struct {
	ID      int     `db:"id"`
	SSN     string  `db:"ssn" dadp:"encrypt"`
	Email   *string `db:"email" dadp:"encrypt,mask=email-mask:uid-7"`
	Name    string  `db:"name"`
	private string  `dadp:"encrypt"` // unexported fields must be skipped
}

func (taggedCustomer) TableName() string { return "Customers" }

type orderLineItem struct {
	CardNumber string `dadp:"encrypt"`
	SKUCode    string
}

func TestDescribeTaggedType(t *testing.T) {
	reg := NewRegistry(nil)
	desc := reg.Describe(reflect.TypeOf(taggedCustomer{}))
	require.NotNil(t, desc)

	assert.Equal(t, "customers", desc.Table)
	assert.Empty(t, desc.Schema)
	require.Len(t, desc.Fields, 3) // ssn, email, name; int and unexported skipped

	byName := map[string]FieldDescriptor{}
	for _, fd := range desc.Fields {
		byName[fd.Name] = fd
	}

	ssn := byName["SSN"]
	assert.Equal(t, "ssn", ssn.Column)
	assert.True(t, ssn.Encrypt)
	assert.False(t, ssn.Pointer)
	assert.Empty(t, ssn.MaskPolicyName)

	email := byName["Email"]
	assert.True(t, email.Encrypt)
	assert.True(t, email.Pointer)
	assert.Equal(t, "email-mask", email.MaskPolicyName)
	assert.Equal(t, "uid-7", email.MaskPolicyUID)

	name := byName["Name"]
	assert.False(t, name.Encrypt)
}

func TestDescribeSnakeCasesDefaults(t *testing.T) {
	reg := NewRegistry(nil)
	desc := reg.Describe(reflect.TypeOf(&orderLineItem{}))
	require.NotNil(t, desc)

	assert.Equal(t, "order_line_item", desc.Table)
	assert.Equal(t, "card_number", desc.Fields[0].Column)
	assert.Equal(t, "sku_code", desc.Fields[1].Column)
}

func TestDescribeCachesByType(t *testing.T) {
	reg := NewRegistry(nil)
	a := reg.Describe(reflect.TypeOf(taggedCustomer{}))
	b := reg.Describe(reflect.TypeOf(&taggedCustomer{}))
	assert.Same(t, a, b)
}

func TestDescribeNonStruct(t *testing.T) {
	reg := NewRegistry(nil)
	assert.Nil(t, reg.Describe(reflect.TypeOf("plain")))
	assert.Nil(t, reg.Describe(reflect.TypeOf(42)))
}

func TestManifestOverridesTags(t *testing.T) {
	manifest, err := ParseManifest([]byte(`
entities:
  - type: taggedCustomer
    schema: Sales
    table: Legacy_Customers
    fields:
      - name: Name
        column: full_name
        encrypt: true
        mask_policy: name-mask
`))
	require.NoError(t, err)

	reg := NewRegistry(manifest)
	desc := reg.Describe(reflect.TypeOf(taggedCustomer{}))
	require.NotNil(t, desc)

	assert.Equal(t, "sales", desc.Schema)
	assert.Equal(t, "legacy_customers", desc.Table)

	for _, fd := range desc.Fields {
		if fd.Name == "Name" {
			assert.True(t, fd.Encrypt)
			assert.Equal(t, "full_name", fd.Column)
			assert.Equal(t, "name-mask", fd.MaskPolicyName)
		}
	}
}

func TestParseManifestRejectsMissingType(t *testing.T) {
	_, err := ParseManifest([]byte("entities:\n  - table: orders\n"))
	assert.Error(t, err)
}

func TestTargetsHonorFieldRestriction(t *testing.T) {
	reg := NewRegistry(nil)
	desc := reg.Describe(reflect.TypeOf(taggedCustomer{}))

	all := desc.Targets(&Invocation{})
	assert.Len(t, all, 2)

	restricted := desc.Targets(&Invocation{Fields: []string{"SSN"}})
	require.Len(t, restricted, 1)
	assert.Equal(t, "SSN", restricted[0].Name)
}

func TestSnakeCase(t *testing.T) {
	cases := map[string]string{
		"Customer":    "customer",
		"OrderItem":   "order_item",
		"SSNRecord":   "ssn_record",
		"APIKey":      "api_key",
		"HTTPServer":  "http_server",
		"CardNumber2": "card_number2",
	}
	for in, want := range cases {
		assert.Equal(t, want, snakeCase(in), in)
	}
}
