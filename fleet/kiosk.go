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
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/go-tappy"
	"github.com/ZaparooProject/go-tappy/internal/syncutil"
	"github.com/ZaparooProject/go-tappy/kiosk"
	"github.com/ZaparooProject/go-tappy/pkg/ndef"
	"github.com/google/uuid"
)

// stableSessionAge is how long a session must live, without ever turning
// healthy, for its exit to count as a dropped connection rather than a
// failed attempt
const stableSessionAge = 30 * time.Second

// StatusListener receives coarse status changes of a kiosk. Implementations
// must be comparable.
type StatusListener interface {
	OnKioskStatus(k *Kiosk, status KioskStatus)
}

// HeartbeatListener receives heartbeat answers from a kiosk
type HeartbeatListener interface {
	OnKioskHeartbeat(k *Kiosk, at time.Time)
}

// Kiosk is the public handle of one supervised reader session. A new Kiosk,
// with a new SessionID, is created every time the registry reconnects.
type Kiosk struct {
	startedAt          time.Time
	registry           *Registry
	manager            *kiosk.Manager
	statusListeners    map[StatusListener]struct{}
	heartbeatListeners map[HeartbeatListener]struct{}
	def                tappy.DeviceDefinition
	sessionID          string
	listenersMu        syncutil.RWMutex
	status             atomic.Int32
	healthy            atomic.Bool
}

func newKiosk(r *Registry, def tappy.DeviceDefinition, manager *kiosk.Manager, startedAt time.Time) *Kiosk {
	return &Kiosk{
		startedAt:          startedAt,
		registry:           r,
		manager:            manager,
		def:                def,
		sessionID:          uuid.NewString(),
		statusListeners:    make(map[StatusListener]struct{}),
		heartbeatListeners: make(map[HeartbeatListener]struct{}),
	}
}

// ID returns the device identity key
func (k *Kiosk) ID() string { return k.def.ID }

// Name returns the display name
func (k *Kiosk) Name() string { return k.def.Name }

// Definition returns what the session was created from
func (k *Kiosk) Definition() tappy.DeviceDefinition { return k.def }

// SessionID identifies this particular connection of the device
func (k *Kiosk) SessionID() string { return k.sessionID }

// Status returns the coarse status
func (k *Kiosk) Status() KioskStatus {
	return KioskStatus(k.status.Load())
}

// SessionStatus returns the detailed status of the underlying session
func (k *Kiosk) SessionStatus() kiosk.Status {
	return k.manager.Status()
}

// Done is closed once the session has fully closed
func (k *Kiosk) Done() <-chan struct{} {
	return k.manager.Done()
}

// RequestClose removes the device from the desired set
func (k *Kiosk) RequestClose() {
	if err := k.registry.RemoveDesired(k.ID()); err != nil {
		tappy.Debugf("fleet: close %s: %v", k.def.Identity, err)
	}
}

// AddStatusListener registers l and hands it the current status. l must not
// add or remove kiosk listeners from inside that call.
func (k *Kiosk) AddStatusListener(l StatusListener) {
	k.listenersMu.Lock()
	defer k.listenersMu.Unlock()
	k.statusListeners[l] = struct{}{}
	l.OnKioskStatus(k, k.Status())
}

// RemoveStatusListener unregisters l
func (k *Kiosk) RemoveStatusListener(l StatusListener) {
	k.listenersMu.Lock()
	delete(k.statusListeners, l)
	k.listenersMu.Unlock()
}

// AddHeartbeatListener registers l
func (k *Kiosk) AddHeartbeatListener(l HeartbeatListener) {
	k.listenersMu.Lock()
	k.heartbeatListeners[l] = struct{}{}
	k.listenersMu.Unlock()
}

// RemoveHeartbeatListener unregisters l
func (k *Kiosk) RemoveHeartbeatListener(l HeartbeatListener) {
	k.listenersMu.Lock()
	delete(k.heartbeatListeners, l)
	k.listenersMu.Unlock()
}

// stable reports whether the session ever became healthy or lived long
// enough to count as connected
func (k *Kiosk) stable(now time.Time) bool {
	return k.healthy.Load() || now.Sub(k.startedAt) >= stableSessionAge
}

// updateStatus publishes s if it differs from the last coarse status
func (k *Kiosk) updateStatus(s kiosk.Status) {
	if s == kiosk.StatusHealthy {
		k.healthy.Store(true)
	}
	next := coarseStatus(s)

	k.listenersMu.Lock()
	defer k.listenersMu.Unlock()
	if KioskStatus(k.status.Swap(int32(next))) == next {
		return
	}
	for l := range k.statusListeners {
		l.OnKioskStatus(k, next)
	}
}

func (k *Kiosk) heartbeatReceived(at time.Time) {
	k.listenersMu.RLock()
	defer k.listenersMu.RUnlock()
	for l := range k.heartbeatListeners {
		l.OnKioskHeartbeat(k, at)
	}
}

// sessionWatcher connects a manager's notifications to its Kiosk and the
// registry. It runs on the manager's delivery goroutine.
type sessionWatcher struct {
	k *Kiosk
}

func (w *sessionWatcher) OnStatusChanged(_ *kiosk.Manager, s kiosk.Status) {
	w.k.updateStatus(s)
	if s == kiosk.StatusClosed {
		w.k.registry.managerDidClose(w.k)
	}
}

func (w *sessionWatcher) OnTagRead(_ *kiosk.Manager, uid []byte, tagType byte) {
	for _, sink := range w.k.registry.sinks {
		sink.OnTagRead(w.k, uid, tagType)
	}
}

func (w *sessionWatcher) OnNdefRead(_ *kiosk.Manager, uid []byte, tagType byte, msg *ndef.Message) {
	for _, sink := range w.k.registry.sinks {
		sink.OnNdefRead(w.k, uid, tagType, msg)
	}
}

func (w *sessionWatcher) OnHeartbeatReceived(_ *kiosk.Manager, at time.Time) {
	w.k.heartbeatReceived(at)
}
