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

package fleet

import (
	"time"

	"github.com/ZaparooProject/go-tappy/kiosk"
)

// DefaultRetryInterval is how long to wait before retrying a transport that
// could not be created
const DefaultRetryInterval = 5 * time.Second

// DefaultMaxRetryInterval caps the retry delay after repeated failures
const DefaultMaxRetryInterval = 2 * time.Minute

// Option configures a Registry
type Option func(*Registry)

// WithSessionConfig sets the configuration every spawned session gets.
// The default is kiosk.DefaultConfig.
func WithSessionConfig(cfg kiosk.Config) Option {
	return func(r *Registry) {
		r.sessionCfg = cfg
	}
}

// WithEventSink adds a receiver for tag and NDEF reads from every session
func WithEventSink(sink EventSink) Option {
	return func(r *Registry) {
		r.sinks = append(r.sinks, sink)
	}
}

// WithClock sets the clock used by the registry and its sessions
func WithClock(c kiosk.Clock) Option {
	return func(r *Registry) {
		r.clock = c
	}
}

// WithRetryInterval sets the delay before retrying a failed transport
func WithRetryInterval(d time.Duration) Option {
	return func(r *Registry) {
		r.retryInterval = d
	}
}

// WithMaxRetryInterval caps how far the retry delay grows while a
// transport keeps failing
func WithMaxRetryInterval(d time.Duration) Option {
	return func(r *Registry) {
		r.maxRetry = d
	}
}

// WithDesiredCountHook is called with the new size whenever the desired
// set grows or shrinks
func WithDesiredCountHook(fn func(count int)) Option {
	return func(r *Registry) {
		r.onDesiredCount = fn
	}
}
