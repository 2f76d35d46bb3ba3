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

import "fmt"

// ConnectionError is a transport-class failure against the Engine: network
// errors, timeouts, and non-2xx responses without the not-encrypted
// sentinel. With fallback enabled, callers recover by returning the
// untransformed value.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("engine %s failed: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// PolicyError is a cipher- or policy-class failure: the Engine answered but
// refused the operation.
type PolicyError struct {
	Op      string
	Message string
	Err     error
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("engine %s rejected: %s", e.Op, e.Message)
}

func (e *PolicyError) Unwrap() error {
	return e.Err
}
