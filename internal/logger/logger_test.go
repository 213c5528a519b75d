/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// TestNewWritesToFile tests that the file core receives structured entries
// TestNewWritesToFile 测试文件 core 接收结构化日志条目
func TestNewWritesToFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "mongolaunch.log")

	log := New(Options{Level: "debug", File: logFile})
	log.Info("instance running", zap.String("port", "27017"))
	_ = log.Sync()

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "instance running")
	assert.Contains(t, string(data), "27017")
	assert.True(t, strings.HasPrefix(strings.TrimSpace(string(data)), "{"), "file entries are JSON")
}

// TestNewLevelFiltering tests that entries below the level are dropped
// TestNewLevelFiltering 测试低于级别的条目被丢弃
func TestNewLevelFiltering(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "mongolaunch.log")

	log := New(Options{Level: "warn", File: logFile})
	log.Info("too quiet to appear")
	log.Warn("loud enough")
	_ = log.Sync()

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "too quiet to appear")
	assert.Contains(t, string(data), "loud enough")
}

// TestGlobalLogger tests the global accessor round trip
// TestGlobalLogger 测试全局访问器的往返
func TestGlobalLogger(t *testing.T) {
	log := New(Options{Level: "info"})
	SetGlobal(log)
	assert.Same(t, log, L())
}
