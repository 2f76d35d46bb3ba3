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

package storage

import (
	"go.uber.org/zap"
)

// NewStore returns a file store rooted at dir (default ~/.dadp-<shape> when
// dir is empty). When the directory cannot be created the agent must keep
// running, so this degrades to an in-memory store with a single warning.
func NewStore(dir, shape string, logger *zap.Logger) Store {
	if dir == "" {
		dir = DefaultDataDir(shape)
	}

	fileStore, err := NewFileStore(dir, shape, logger)
	if err != nil {
		logger.Warn("Persistence unavailable, continuing in memory only",
			zap.String("dir", dir),
			zap.Error(err))
		return NewMemoryStore()
	}
	return fileStore
}
