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

package models

import "time"

// InstanceIdentity identifies this deployment to the Hub. Alias is the
// caller-chosen stable label; HubID is Hub-issued and is the authoritative
// tenant identifier carried in the X-Tenant header. An empty HubID means the
// instance is not registered yet and only the registration endpoint may be
// called.
type InstanceIdentity struct {
	HubID     string    `json:"hubId,omitempty"`
	HubURL    string    `json:"hubUrl"`
	Alias     string    `json:"instanceId"`
	FailOpen  *bool     `json:"failOpen,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Registered reports whether the Hub has issued an identity.
func (i *InstanceIdentity) Registered() bool {
	return i != nil && i.HubID != ""
}

// RedactedHubID returns a loggable prefix of the hub identifier.
func (i *InstanceIdentity) RedactedHubID() string {
	if i == nil || i.HubID == "" {
		return ""
	}
	if len(i.HubID) <= 8 {
		return i.HubID
	}
	return i.HubID[:8] + "..."
}
