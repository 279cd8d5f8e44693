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

package kiosk

import "time"

// Default heartbeat tolerances
const (
	DefaultErrorTolerance      = 10 * time.Second
	DefaultSendInterval        = 15 * time.Second
	DefaultDisconnectTolerance = 30 * time.Second
)

const (
	// initialSendDelay and initialCheckDelay arm the timers once the link is ready
	initialSendDelay  = 16 * time.Millisecond
	initialCheckDelay = 50 * time.Millisecond
	// recheckInterval is the default heartbeat check tick
	recheckInterval = 500 * time.Millisecond
)

// Heartbeat configures active liveness monitoring. ErrorTolerance must be
// shorter than DisconnectTolerance.
type Heartbeat struct {
	// ErrorTolerance is how long without a message before HeartbeatFailure
	ErrorTolerance time.Duration
	// SendInterval is the gap between pings
	SendInterval time.Duration
	// DisconnectTolerance is how long without a message before the session closes
	DisconnectTolerance time.Duration
}

// Config is the immutable configuration of a session
type Config struct {
	// Heartbeat is nil for a passive session that never pings
	Heartbeat *Heartbeat
}

// clone copies the heartbeat so the caller's value can't change under a
// running session
func (c Config) clone() Config {
	if c.Heartbeat == nil {
		return c
	}
	hb := *c.Heartbeat
	return Config{Heartbeat: &hb}
}

// DefaultHeartbeat returns the standard 10s / 15s / 30s heartbeat
func DefaultHeartbeat() Heartbeat {
	return Heartbeat{
		ErrorTolerance:      DefaultErrorTolerance,
		SendInterval:        DefaultSendInterval,
		DisconnectTolerance: DefaultDisconnectTolerance,
	}
}

// DefaultConfig returns a heartbeat-monitored configuration
func DefaultConfig() Config {
	hb := DefaultHeartbeat()
	return Config{Heartbeat: &hb}
}

// PassiveConfig returns a configuration with no heartbeat monitoring
func PassiveConfig() Config {
	return Config{}
}
