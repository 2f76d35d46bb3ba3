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

package constants

import "time"

const (
	// Deployment Shapes
	ShapeAOP     = "AOP"
	ShapeWrapper = "WRAPPER"

	// Control-Plane Headers
	HeaderTenant         = "X-Tenant"
	HeaderCurrentVersion = "X-Current-Version"
	HeaderCorrelationID  = "X-Correlation-ID"

	// Hub Control-Plane Paths
	HubAPIBasePath      = "/dadp/api/v1"
	HubPathRegister     = "/instances/register"
	HubPathMappingCheck = "/mappings/check"
	HubPathPolicies     = "/policies"
	HubPathSchemaSync   = "/schema/sync"

	// HubControlSegment marks Hub-internal API paths. Data-plane base paths
	// containing it are rejected at construction.
	HubControlSegment = "/hub/api"

	// Engine Data-Plane Paths
	CryptoAPIBasePath    = "/v1/crypto"
	CryptoPathEncrypt    = "/encrypt"
	CryptoPathDecrypt    = "/decrypt"
	CryptoPathEncryptAll = "/encrypt/batch"
	CryptoPathDecryptAll = "/decrypt/batch"

	// NotEncryptedSentinel is the Engine's distinguished decrypt response
	// meaning the value was never encrypted. Matched as a substring of the
	// response body, independent of HTTP status.
	NotEncryptedSentinel = "데이터가 암호화되지 않았습니다"

	// Ciphertext Envelope Markers
	EnvelopePrefixHub   = "hub:"
	EnvelopePrefixKMS   = "kms:"
	EnvelopePrefixVault = "vault:"
	MixedCipherMarker   = "::ENC::"

	// Envelope Size Constraints
	MinHubPayloadLen    = 28
	MinLegacyPayloadLen = 64
	UUIDStringLen       = 36

	// Persisted File Names
	ConfigFileAOP      = "aop-config.json"
	ConfigFileWrapper  = "wrapper-config.json"
	PolicyMappingsFile = "policy-mappings.json"
	EndpointsFile      = "crypto-endpoints.json"
	SchemasFile        = "schemas.json"

	// DataDirPrefix is joined with the lower-cased shape to form the default
	// per-deployment directory under the user home, e.g. ~/.dadp-aop.
	DataDirPrefix = ".dadp-"

	// Database Vendors
	VendorPostgres = "postgresql"
	VendorSQLite   = "sqlite"

	// Defaults
	DefaultSyncInterval      = 30 * time.Second
	DefaultHTTPTimeout       = 5 * time.Second
	DefaultSchemaWaitTimeout = 30 * time.Second
	DefaultBatchMinSize      = 100
	DefaultBatchMaxSize      = 10000
)
