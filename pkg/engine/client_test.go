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

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wso2/data-protection/crypto-agent/pkg/constants"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(srv.URL, Options{HubID: "hub-1"}, zap.NewNop())
	require.NoError(t, err)
	return client, srv
}

func TestNewClient_RejectsHubControlPath(t *testing.T) {
	_, err := NewClient("https://engine:8443", Options{BasePath: "/hub/api/encrypt"}, zap.NewNop())
	assert.Error(t, err)

	_, err = NewClient("https://engine:8443/hub/api", Options{}, zap.NewNop())
	assert.Error(t, err)
}

func TestNewClient_RequiresURL(t *testing.T) {
	_, err := NewClient("", Options{}, zap.NewNop())
	assert.Error(t, err)
}

func TestEncrypt_StringEnvelope(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, constants.CryptoAPIBasePath+constants.CryptoPathEncrypt, r.URL.Path)
		assert.Equal(t, "hub-1", r.Header.Get(constants.HeaderTenant))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "secret", body["data"])
		assert.Equal(t, "p1", body["policyName"])

		fmt.Fprint(w, `{"success":true,"data":"hub:cipher"}`)
	}))

	out, err := client.Encrypt(context.Background(), "secret", "p1", false)
	require.NoError(t, err)
	assert.Equal(t, "hub:cipher", out)
}

func TestEncrypt_ObjectEnvelope(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":true,"data":{"encryptedData":"hub:cipher"}}`)
	}))

	out, err := client.Encrypt(context.Background(), "secret", "p1", false)
	require.NoError(t, err)
	assert.Equal(t, "hub:cipher", out)
}

func TestEncrypt_OmitsEmptyPolicyName(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, has := body["policyName"]
		assert.False(t, has, "empty policyName must be omitted so the Engine applies its default")
		fmt.Fprint(w, `{"success":true,"data":"c"}`)
	}))

	_, err := client.Encrypt(context.Background(), "secret", "", false)
	require.NoError(t, err)
}

func TestEncrypt_PolicyError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":false,"message":"unknown policy"}`)
	}))

	_, err := client.Encrypt(context.Background(), "secret", "bad", false)
	var policyErr *PolicyError
	require.True(t, errors.As(err, &policyErr))
	assert.Contains(t, policyErr.Message, "unknown policy")
}

func TestErrorTypesUnwrap(t *testing.T) {
	cause := errors.New("boom")
	assert.ErrorIs(t, &ConnectionError{Op: "encrypt", Err: cause}, cause)
	assert.ErrorIs(t, &PolicyError{Op: "encrypt", Message: "refused", Err: cause}, cause)
	assert.Nil(t, errors.Unwrap(&PolicyError{Op: "encrypt", Message: "refused"}))
}

func TestEncrypt_ConnectionErrorOnNon2xx(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := client.Encrypt(context.Background(), "secret", "p1", false)
	var connErr *ConnectionError
	assert.True(t, errors.As(err, &connErr))
}

func TestEncrypt_ConnectionErrorOnRefusedConnection(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, err := NewClient(url, Options{}, zap.NewNop())
	require.NoError(t, err)

	_, err = client.Encrypt(context.Background(), "secret", "p1", false)
	var connErr *ConnectionError
	assert.True(t, errors.As(err, &connErr))
}

func TestDecrypt_BothEnvelopes(t *testing.T) {
	for name, payload := range map[string]string{
		"string": `{"success":true,"data":"plain"}`,
		"object": `{"success":true,"data":{"decryptedData":"plain"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, payload)
			}))

			result, err := client.Decrypt(context.Background(), "hub:cipher", DecryptOptions{})
			require.NoError(t, err)
			assert.Equal(t, "plain", result.Data)
			assert.False(t, result.NotEncrypted)
		})
	}
}

func TestDecrypt_SentinelIsNotAnError(t *testing.T) {
	// The sentinel wins regardless of HTTP status
	for _, status := range []int{http.StatusOK, http.StatusBadRequest, http.StatusInternalServerError} {
		t.Run(fmt.Sprintf("status_%d", status), func(t *testing.T) {
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
				fmt.Fprintf(w, `{"success":false,"message":"%s"}`, constants.NotEncryptedSentinel)
			}))

			result, err := client.Decrypt(context.Background(), "plaintext", DecryptOptions{})
			require.NoError(t, err)
			assert.True(t, result.NotEncrypted)
			assert.Equal(t, "", result.Data)
		})
	}
}

func TestDecrypt_MaskAppliedOnFailedEnvelopeWithData(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "mask-email", body["maskPolicyName"])

		fmt.Fprint(w, `{"success":false,"data":{"decryptedData":"b***@x.com"}}`)
	}))

	result, err := client.Decrypt(context.Background(), "hub:cipher", DecryptOptions{MaskPolicyName: "mask-email"})
	require.NoError(t, err)
	assert.True(t, result.MaskApplied)
	assert.Equal(t, "b***@x.com", result.Data)
}

func TestEncryptBatch_PreservesOrder(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Items []BatchEncryptItem `json:"items"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		fmt.Fprint(w, `{"success":true,"results":[`)
		for i, item := range body.Items {
			if i > 0 {
				fmt.Fprint(w, ",")
			}
			fmt.Fprintf(w, `{"success":true,"encryptedData":"enc(%s)"}`, item.Data)
		}
		fmt.Fprint(w, `]}`)
	}))

	items := make([]BatchEncryptItem, 250)
	for i := range items {
		items[i] = BatchEncryptItem{Data: fmt.Sprintf("v%d", i), PolicyName: "p1"}
	}

	results, err := client.EncryptBatch(context.Background(), items)
	require.NoError(t, err)
	require.Len(t, results, 250)
	for i, r := range results {
		assert.Equal(t, fmt.Sprintf("enc(v%d)", i), r.Data)
	}
}

func TestEncryptBatch_LengthMismatchFails(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":true,"results":[{"success":true,"encryptedData":"only-one"}]}`)
	}))

	_, err := client.EncryptBatch(context.Background(), []BatchEncryptItem{
		{Data: "a"}, {Data: "b"},
	})
	var connErr *ConnectionError
	assert.True(t, errors.As(err, &connErr))
}

func TestEncryptBatch_EmptyInputSkipsCall(t *testing.T) {
	called := false
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	results, err := client.EncryptBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, results)
	assert.False(t, called)
}

func TestDecryptBatch_MixedResults(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":true,"results":[
			{"success":true,"decryptedData":"plain-0"},
			{"success":false,"originalData":"never-encrypted"},
			{"success":true,"decryptedData":"plain-2"}
		]}`)
	}))

	results, err := client.DecryptBatch(context.Background(), []BatchDecryptItem{
		{Data: "c0"}, {Data: "never-encrypted"}, {Data: "c2"},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "plain-0", results[0].Data)
	assert.True(t, results[1].NotEncrypted)
	assert.Equal(t, "plain-2", results[2].Data)
}
