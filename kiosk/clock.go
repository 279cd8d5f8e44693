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

import (
	"sort"
	"time"

	"github.com/ZaparooProject/go-tappy/internal/syncutil"
)

// Clock is the time source for heartbeat bookkeeping and timers
type Clock interface {
	// Now returns the current time
	Now() time.Time

	// AfterFunc calls f on its own goroutine once d has elapsed
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc call
type Timer interface {
	// Stop prevents the call if it has not fired yet
	Stop() bool
}

// RealClock implements Clock using the time package
type RealClock struct{}

// NewRealClock creates a new RealClock
func NewRealClock() Clock {
	return RealClock{}
}

func (RealClock) Now() time.Time {
	return time.Now()
}

func (RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// FakeClock implements Clock for tests. Time only moves on Advance, which
// runs every due callback synchronously in deadline order.
type FakeClock struct {
	now    time.Time
	timers []*fakeTimer
	mu     syncutil.Mutex
}

// NewFakeClock creates a new FakeClock starting at the given time
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (fc *FakeClock) Now() time.Time {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.now
}

func (fc *FakeClock) AfterFunc(d time.Duration, f func()) Timer {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	ft := &fakeTimer{clock: fc, deadline: fc.now.Add(d), fn: f}
	fc.timers = append(fc.timers, ft)
	return ft
}

// Advance moves the clock forward by d, firing timers as their deadlines
// are reached
func (fc *FakeClock) Advance(d time.Duration) {
	fc.mu.Lock()
	target := fc.now.Add(d)
	fc.mu.Unlock()

	for {
		fc.mu.Lock()
		next := fc.popDue(target)
		if next == nil {
			fc.now = target
			fc.mu.Unlock()
			return
		}
		if next.deadline.After(fc.now) {
			fc.now = next.deadline
		}
		fc.mu.Unlock()

		next.fn()
	}
}

// Pending returns how many timers are armed
func (fc *FakeClock) Pending() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return len(fc.timers)
}

// popDue removes and returns the earliest timer due by target
func (fc *FakeClock) popDue(target time.Time) *fakeTimer {
	if len(fc.timers) == 0 {
		return nil
	}
	sort.SliceStable(fc.timers, func(i, j int) bool {
		return fc.timers[i].deadline.Before(fc.timers[j].deadline)
	})
	first := fc.timers[0]
	if first.deadline.After(target) {
		return nil
	}
	fc.timers = fc.timers[1:]
	return first
}

func (fc *FakeClock) remove(ft *fakeTimer) bool {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	for i, t := range fc.timers {
		if t == ft {
			fc.timers = append(fc.timers[:i], fc.timers[i+1:]...)
			return true
		}
	}
	return false
}

type fakeTimer struct {
	deadline time.Time
	clock    *FakeClock
	fn       func()
}

func (ft *fakeTimer) Stop() bool {
	return ft.clock.remove(ft)
}
