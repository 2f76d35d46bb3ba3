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

// Package ciphertext recognizes the textual envelopes produced by the
// Engine. Recognition is format-level only; no key material is touched.
package ciphertext

import (
	"encoding/base64"
	"strings"

	"github.com/google/uuid"
	"github.com/wso2/data-protection/crypto-agent/pkg/constants"
)

// Kind identifies the envelope shape of an already-encrypted value.
type Kind string

const (
	KindHub    Kind = "hub"    // hub:{uuid}:{base64(IV||CT||TAG)}
	KindKMS    Kind = "kms"    // kms:{uuid}:{base64(EDK)}:{base64(IV||CT||TAG)}
	KindVault  Kind = "vault"  // vault:{alias}:v{n}:{data}
	KindLegacy Kind = "legacy" // base64 whose decoded prefix is a UUID string
)

// IsCiphertext reports whether the value is already an Engine envelope.
// Values recognized here are never re-encrypted and are eligible for
// decryption on the read path.
func IsCiphertext(value string) bool {
	_, ok := Detect(value)
	return ok
}

// Detect classifies the envelope shape of value. For the mixed form
// PLAIN::ENC::CIPHER only the suffix after the last marker is examined.
func Detect(value string) (Kind, bool) {
	if value == "" {
		return "", false
	}
	if i := strings.LastIndex(value, constants.MixedCipherMarker); i >= 0 {
		value = value[i+len(constants.MixedCipherMarker):]
	}

	switch {
	case strings.HasPrefix(value, constants.EnvelopePrefixHub):
		if isHubEnvelope(value) {
			return KindHub, true
		}
	case strings.HasPrefix(value, constants.EnvelopePrefixKMS):
		if isKMSEnvelope(value) {
			return KindKMS, true
		}
	case strings.HasPrefix(value, constants.EnvelopePrefixVault):
		if isVaultEnvelope(value) {
			return KindVault, true
		}
	default:
		if isLegacyEnvelope(value) {
			return KindLegacy, true
		}
	}
	return "", false
}

func isHubEnvelope(value string) bool {
	parts := strings.SplitN(value, ":", 3)
	if len(parts) != 3 {
		return false
	}
	if !isUUIDString(parts[1]) {
		return false
	}
	payload, ok := decodeBase64(parts[2])
	return ok && len(payload) >= constants.MinHubPayloadLen
}

func isKMSEnvelope(value string) bool {
	parts := strings.SplitN(value, ":", 4)
	if len(parts) != 4 {
		return false
	}
	if !isUUIDString(parts[1]) {
		return false
	}
	edk, ok := decodeBase64(parts[2])
	if !ok || len(edk) == 0 {
		return false
	}
	payload, ok := decodeBase64(parts[3])
	return ok && len(payload) >= constants.MinHubPayloadLen
}

func isVaultEnvelope(value string) bool {
	parts := strings.SplitN(value, ":", 4)
	if len(parts) != 4 {
		return false
	}
	alias, version, data := parts[1], parts[2], parts[3]
	if alias == "" || data == "" {
		return false
	}
	if len(version) < 2 || version[0] != 'v' {
		return false
	}
	for _, r := range version[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// isLegacyEnvelope recognizes the pre-envelope format: one base64 blob whose
// decoded bytes start with the key id as a 36-character UUID string.
func isLegacyEnvelope(value string) bool {
	decoded, ok := decodeBase64(value)
	if !ok || len(decoded) < constants.MinLegacyPayloadLen {
		return false
	}
	return isUUIDString(string(decoded[:constants.UUIDStringLen]))
}

func isUUIDString(s string) bool {
	if len(s) != constants.UUIDStringLen {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

func decodeBase64(s string) ([]byte, bool) {
	if s == "" {
		return nil, false
	}
	if decoded, err := base64.StdEncoding.DecodeString(s); err == nil {
		return decoded, true
	}
	decoded, err := base64.RawStdEncoding.DecodeString(s)
	if err != nil {
		return nil, false
	}
	return decoded, true
}
