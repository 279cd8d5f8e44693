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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ZaparooProject/go-tappy"
	"github.com/ZaparooProject/go-tappy/kiosk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "127.0.0.1:7467", cfg.Addr())
	assert.Equal(t, kiosk.DefaultConfig(), cfg.SessionConfig())
	assert.False(t, cfg.Autolaunch.Enabled)
	assert.Equal(t, 500*time.Millisecond, cfg.Autolaunch.Throttle)
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tappy.yaml")
	data := `
server:
  port: 9090
  host: "0.0.0.0"
  mdns:
    enabled: true
heartbeat:
  error_tolerance: 5s
  send_interval: 2s
  disconnect_tolerance: 12s
autolaunch:
  enabled: true
devices:
  - id: /dev/ttyUSB0
    name: Front door
  - id: "AA:BB:CC:DD:EE:FF"
    transport: ble
debug: true
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9090", cfg.Addr())
	assert.True(t, cfg.Server.MDNS.Enabled)
	assert.Equal(t, DefaultMDNSInstance, cfg.Server.MDNS.Instance)
	assert.True(t, cfg.Debug)
	assert.True(t, cfg.Autolaunch.Enabled)
	assert.Equal(t, 500*time.Millisecond, cfg.Autolaunch.Throttle, "untouched keys keep their defaults")

	sc := cfg.SessionConfig()
	require.NotNil(t, sc.Heartbeat)
	assert.Equal(t, 5*time.Second, sc.Heartbeat.ErrorTolerance)
	assert.Equal(t, 2*time.Second, sc.Heartbeat.SendInterval)
	assert.Equal(t, 12*time.Second, sc.Heartbeat.DisconnectTolerance)

	require.Len(t, cfg.Devices, 2)
	assert.Equal(t, tappy.TransportUSB, cfg.Devices[0].Transport)
	assert.Equal(t, "Front door", cfg.Devices[0].Name)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Devices[0].PortPath())
	assert.Equal(t, tappy.TransportBLE, cfg.Devices[1].Transport)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParse_Passive(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte("heartbeat:\n  passive: true\n  error_tolerance: 0s\n"))
	require.NoError(t, err)
	assert.Nil(t, cfg.SessionConfig().Heartbeat)
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		want error
		name string
		data string
	}{
		{name: "malformed", data: "server: [", want: nil},
		{name: "port", data: "server:\n  port: 70000\n", want: ErrInvalidServer},
		{name: "mdns name", data: "server:\n  mdns:\n    enabled: true\n    instance: \"\"\n", want: ErrInvalidServer},
		{name: "tolerance order", data: "heartbeat:\n  error_tolerance: 30s\n  disconnect_tolerance: 10s\n", want: ErrInvalidHeartbeat},
		{name: "zero interval", data: "heartbeat:\n  send_interval: 0s\n", want: ErrInvalidHeartbeat},
		{name: "throttle", data: "autolaunch:\n  throttle: -1s\n", want: ErrInvalidAutolaunch},
		{name: "retry", data: "fleet:\n  retry_interval: 0s\n", want: ErrInvalidFleet},
		{name: "retry cap", data: "fleet:\n  retry_interval: 10s\n  max_retry_interval: 5s\n", want: ErrInvalidFleet},
		{name: "device id", data: "devices:\n  - name: nameless\n", want: ErrInvalidDevice},
		{name: "duplicate device", data: "devices:\n  - id: a\n  - id: a\n", want: ErrInvalidDevice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.data))
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}
