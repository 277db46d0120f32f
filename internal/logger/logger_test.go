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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lennart-k/homecontrolctl/internal/config"
)

// TestNewLevels tests that every supported level builds a logger
// TestNewLevels 测试每个支持的级别都能构建日志器
func TestNewLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		t.Run(level, func(t *testing.T) {
			log, err := New(config.LogConfig{Level: level})
			require.NoError(t, err)
			require.NotNil(t, log)
		})
	}
}

// TestNewInvalidLevel tests rejection of unknown levels
// TestNewInvalidLevel 测试拒绝未知级别
func TestNewInvalidLevel(t *testing.T) {
	_, err := New(config.LogConfig{Level: "verbose"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

// TestNewWithFile tests that file output is created on first log write
// TestNewWithFile 测试首次写日志时创建文件输出
func TestNewWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "homecontrolctl.log")

	log, err := New(config.LogConfig{
		Level:      "info",
		File:       path,
		MaxSize:    1,
		MaxBackups: 1,
		MaxAge:     1,
	})
	require.NoError(t, err)

	log.Info("daemon status checked", zap.Int("pid", 123))
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "daemon status checked")
	assert.Contains(t, string(data), `"pid":123`)
}
