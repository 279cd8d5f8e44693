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

// Package config loads the kiosk daemon's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/ZaparooProject/go-tappy"
	"github.com/ZaparooProject/go-tappy/autolaunch"
	"github.com/ZaparooProject/go-tappy/fleet"
	"github.com/ZaparooProject/go-tappy/kiosk"
	"gopkg.in/yaml.v3"
)

// Validation errors
var (
	ErrInvalidHeartbeat  = errors.New("invalid heartbeat configuration")
	ErrInvalidServer     = errors.New("invalid server configuration")
	ErrInvalidAutolaunch = errors.New("invalid autolaunch configuration")
	ErrInvalidFleet      = errors.New("invalid fleet configuration")
	ErrInvalidDevice     = errors.New("invalid device definition")
)

// DefaultMDNSInstance is the advertised service instance name
const DefaultMDNSInstance = "Tappy Kiosk"

type Config struct {
	SessionLogDir string                   `yaml:"session_log_dir"`
	Devices       []tappy.DeviceDefinition `yaml:"devices"`
	Server        ServerConfig             `yaml:"server"`
	Autolaunch    AutolaunchConfig         `yaml:"autolaunch"`
	Heartbeat     HeartbeatConfig          `yaml:"heartbeat"`
	Fleet         FleetConfig              `yaml:"fleet"`
	Debug         bool                     `yaml:"debug"`
}

type ServerConfig struct {
	Host string     `yaml:"host"`
	MDNS MDNSConfig `yaml:"mdns"`
	Port int        `yaml:"port"`
}

type MDNSConfig struct {
	Instance string `yaml:"instance"`
	Enabled  bool   `yaml:"enabled"`
}

// HeartbeatConfig mirrors kiosk.Heartbeat. Passive disables pinging.
type HeartbeatConfig struct {
	ErrorTolerance      time.Duration `yaml:"error_tolerance"`
	SendInterval        time.Duration `yaml:"send_interval"`
	DisconnectTolerance time.Duration `yaml:"disconnect_tolerance"`
	Passive             bool          `yaml:"passive"`
}

type AutolaunchConfig struct {
	Throttle time.Duration `yaml:"throttle"`
	Enabled  bool          `yaml:"enabled"`
}

type FleetConfig struct {
	RetryInterval    time.Duration `yaml:"retry_interval"`
	MaxRetryInterval time.Duration `yaml:"max_retry_interval"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 7467,
			MDNS: MDNSConfig{Instance: DefaultMDNSInstance},
		},
		Heartbeat: HeartbeatConfig{
			ErrorTolerance:      kiosk.DefaultErrorTolerance,
			SendInterval:        kiosk.DefaultSendInterval,
			DisconnectTolerance: kiosk.DefaultDisconnectTolerance,
		},
		Autolaunch: AutolaunchConfig{
			Throttle: autolaunch.DefaultThrottle,
		},
		Fleet: FleetConfig{
			RetryInterval:    fleet.DefaultRetryInterval,
			MaxRetryInterval: fleet.DefaultMaxRetryInterval,
		},
	}
}

// Load reads and validates the file at path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	for i := range cfg.Devices {
		if cfg.Devices[i].Transport == "" {
			cfg.Devices[i].Transport = tappy.TransportUSB
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values a session cannot run with
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidServer, c.Server.Port)
	}
	if c.Server.MDNS.Enabled && c.Server.MDNS.Instance == "" {
		return fmt.Errorf("%w: mdns instance name is empty", ErrInvalidServer)
	}

	if !c.Heartbeat.Passive {
		hb := c.Heartbeat
		if hb.ErrorTolerance <= 0 || hb.SendInterval <= 0 || hb.DisconnectTolerance <= 0 {
			return fmt.Errorf("%w: intervals must be positive", ErrInvalidHeartbeat)
		}
		if hb.ErrorTolerance >= hb.DisconnectTolerance {
			return fmt.Errorf("%w: error_tolerance %s must be shorter than disconnect_tolerance %s",
				ErrInvalidHeartbeat, hb.ErrorTolerance, hb.DisconnectTolerance)
		}
	}

	if c.Autolaunch.Throttle < 0 {
		return fmt.Errorf("%w: negative throttle", ErrInvalidAutolaunch)
	}
	if c.Fleet.RetryInterval <= 0 {
		return fmt.Errorf("%w: retry_interval must be positive", ErrInvalidFleet)
	}
	if c.Fleet.MaxRetryInterval < c.Fleet.RetryInterval {
		return fmt.Errorf("%w: max_retry_interval is shorter than retry_interval", ErrInvalidFleet)
	}

	seen := make(map[string]struct{}, len(c.Devices))
	for i, def := range c.Devices {
		if def.ID == "" {
			return fmt.Errorf("%w: device %d has no id", ErrInvalidDevice, i)
		}
		if _, dup := seen[def.ID]; dup {
			return fmt.Errorf("%w: duplicate id %q", ErrInvalidDevice, def.ID)
		}
		seen[def.ID] = struct{}{}
	}
	return nil
}

// SessionConfig builds the per-session configuration
func (c *Config) SessionConfig() kiosk.Config {
	if c.Heartbeat.Passive {
		return kiosk.PassiveConfig()
	}
	return kiosk.Config{Heartbeat: &kiosk.Heartbeat{
		ErrorTolerance:      c.Heartbeat.ErrorTolerance,
		SendInterval:        c.Heartbeat.SendInterval,
		DisconnectTolerance: c.Heartbeat.DisconnectTolerance,
	}}
}

// Addr returns the HTTP listen address
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}
