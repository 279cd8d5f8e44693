// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tappy

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cleanupSessionLog ensures session log state is clean after tests.
func cleanupSessionLog(t *testing.T) {
	t.Helper()
	_ = CloseSessionLog()
}

func TestInitSessionLog_CreatesFile(t *testing.T) {
	dir := t.TempDir()
	t.Cleanup(func() { cleanupSessionLog(t) })

	path, err := InitSessionLog(dir)
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err, "Log file should exist")
	assert.Equal(t, path, GetSessionLogPath())

	matched, err := regexp.MatchString(`^tappy_\d{8}_\d{6}\.log$`, filepath.Base(path))
	require.NoError(t, err)
	assert.True(t, matched, "Filename should match tappy_YYYYMMDD_HHMMSS.log pattern, got: %s", path)
}

func TestInitSessionLog_WritesHeaderAndFooter(t *testing.T) {
	dir := t.TempDir()
	t.Cleanup(func() { cleanupSessionLog(t) })

	path, err := InitSessionLog(dir)
	require.NoError(t, err)

	Debugf("kiosk %s ready", "lobby")
	require.NoError(t, CloseSessionLog())

	content, err := os.ReadFile(path) //nolint:gosec // path is from InitSessionLog
	require.NoError(t, err)

	contentStr := string(content)
	assert.Contains(t, contentStr, "=== Tappy Kiosk Session Log ===")
	assert.Contains(t, contentStr, "PID:")
	assert.Contains(t, contentStr, "Go Version:")
	assert.Contains(t, contentStr, "DEBUG: kiosk lobby ready")
	assert.Contains(t, contentStr, "=== Session ended ===")
	assert.Empty(t, GetSessionLogPath())
}

func TestCloseSessionLog_NoFile(t *testing.T) {
	t.Cleanup(func() { cleanupSessionLog(t) })
	assert.NoError(t, CloseSessionLog())
}

func TestInitSessionLog_BadDirectory(t *testing.T) {
	t.Cleanup(func() { cleanupSessionLog(t) })

	_, err := InitSessionLog(filepath.Join(t.TempDir(), "missing", "nested"))
	assert.Error(t, err)
}
