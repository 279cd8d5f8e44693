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

// Package autolaunch opens web links read from kiosk tags in the default
// browser.
package autolaunch

import (
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/go-tappy"
	"github.com/ZaparooProject/go-tappy/fleet"
	"github.com/ZaparooProject/go-tappy/internal/syncutil"
	"github.com/ZaparooProject/go-tappy/kiosk"
	"github.com/ZaparooProject/go-tappy/pkg/ndef"
	"github.com/pkg/browser"
)

// DefaultThrottle is the minimum gap between two launches
const DefaultThrottle = 500 * time.Millisecond

// Opener opens url somewhere the user will see it
type Opener func(url string) error

// Option configures a Launcher
type Option func(*Launcher)

// WithOpener replaces the browser opener
func WithOpener(open Opener) Option {
	return func(l *Launcher) {
		l.open = open
	}
}

// WithThrottle sets the minimum gap between launches
func WithThrottle(d time.Duration) Option {
	return func(l *Launcher) {
		l.throttle = d
	}
}

// WithClock sets the time source for throttling
func WithClock(c kiosk.Clock) Option {
	return func(l *Launcher) {
		l.clock = c
	}
}

// WithEnabled sets the initial enabled state
func WithEnabled(enabled bool) Option {
	return func(l *Launcher) {
		l.enabled.Store(enabled)
	}
}

// Launcher is a fleet.EventSink that opens the web link on a tag's first
// NDEF record while enabled
type Launcher struct {
	lastLaunch time.Time
	clock      kiosk.Clock
	open       Opener
	throttle   time.Duration
	mu         syncutil.Mutex
	enabled    atomic.Bool
}

var _ fleet.EventSink = (*Launcher)(nil)

// New creates a disabled Launcher that opens links with the system browser
func New(opts ...Option) *Launcher {
	l := &Launcher{
		clock:    kiosk.NewRealClock(),
		open:     browser.OpenURL,
		throttle: DefaultThrottle,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetEnabled turns launching on or off
func (l *Launcher) SetEnabled(enabled bool) {
	if l.enabled.Swap(enabled) != enabled {
		tappy.Debugf("autolaunch: enabled=%t", enabled)
	}
}

// Enabled reports whether launching is on
func (l *Launcher) Enabled() bool {
	return l.enabled.Load()
}

// OnTagRead implements fleet.EventSink. Bare tag reads carry no link.
func (*Launcher) OnTagRead(*fleet.Kiosk, []byte, byte) {}

// OnNdefRead implements fleet.EventSink
func (l *Launcher) OnNdefRead(_ *fleet.Kiosk, uid []byte, _ byte, msg *ndef.Message) {
	if !l.Enabled() {
		return
	}
	if url, ok := l.Launch(msg); ok {
		tappy.Debugf("autolaunch: opened %s for tag %X", url, uid)
	}
}

// Launch opens the web link in msg unless a launch happened within the
// throttle window. It reports the URL and whether it was handed to the
// opener.
func (l *Launcher) Launch(msg *ndef.Message) (string, bool) {
	url, ok := LaunchableURL(msg)
	if !ok {
		return "", false
	}

	now := l.clock.Now()
	l.mu.Lock()
	if !l.lastLaunch.IsZero() && now.Sub(l.lastLaunch) <= l.throttle {
		l.mu.Unlock()
		tappy.Debugf("autolaunch: throttled %s", url)
		return url, false
	}
	l.lastLaunch = now
	l.mu.Unlock()

	if err := l.open(url); err != nil {
		tappy.Debugf("autolaunch: open %s: %v", url, err)
		return url, false
	}
	return url, true
}

// LaunchableURL returns the URL of the first record when it is a URI record
// using one of the http(s) prefix codes 0x01 to 0x04
func LaunchableURL(msg *ndef.Message) (string, bool) {
	rec := msg.First()
	if rec == nil || !rec.IsWellKnown(ndef.URIRecordType) || len(rec.Payload) < 2 {
		return "", false
	}
	if code := rec.Payload[0]; code < 0x01 || code > 0x04 {
		return "", false
	}
	return rec.URI()
}
