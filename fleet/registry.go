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

// Package fleet keeps a set of supervised kiosk sessions converged on the
// set of readers the user wants connected.
package fleet

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/go-tappy"
	"github.com/ZaparooProject/go-tappy/internal/syncutil"
	"github.com/ZaparooProject/go-tappy/kiosk"
	"github.com/ZaparooProject/go-tappy/pkg/ndef"
)

// TransportFactory builds the transport for a desired device
type TransportFactory func(def tappy.DeviceDefinition) (tappy.Transport, error)

// EventSink receives reads from every live session. Calls arrive on the
// reporting session's delivery goroutine.
type EventSink interface {
	OnTagRead(k *Kiosk, uid []byte, tagType byte)
	OnNdefRead(k *Kiosk, uid []byte, tagType byte, msg *ndef.Message)
}

// SnapshotListener receives the ordered list of live sessions whenever it
// changes. It must not modify the registry from inside the call.
type SnapshotListener interface {
	OnSessionsChanged(sessions []*Kiosk)
}

type activeEntry struct {
	kiosk          *Kiosk
	seq            uint64
	closeRequested bool
}

// Registry maps the desired set of devices onto live sessions. A device
// stays in the active set until its session reports closed, and a closed
// session is replaced while its device is still desired. A device whose
// transport cannot be created, or whose session dies before it becomes
// stable, is held back for a growing delay before the next attempt.
type Registry struct {
	retryAt        time.Time
	factory        TransportFactory
	clock          kiosk.Clock
	onDesiredCount func(int)
	retryTimer     kiosk.Timer
	desired        map[string]tappy.DeviceDefinition
	active         map[string]*activeEntry
	holds          map[string]time.Time
	failures       map[string]*backoff
	listeners      map[SnapshotListener]struct{}
	sessions       atomic.Pointer[[]*Kiosk]
	sinks          []EventSink
	sessionCfg     kiosk.Config
	seq            uint64
	retryGen       uint64
	retryInterval  time.Duration
	maxRetry       time.Duration
	desiredMu      syncutil.RWMutex
	activeMu       syncutil.RWMutex
	publishMu      syncutil.Mutex
	listenersMu    syncutil.RWMutex
	retryMu        syncutil.Mutex
	closed         atomic.Bool
}

// NewRegistry creates an empty registry
func NewRegistry(factory TransportFactory, opts ...Option) *Registry {
	r := &Registry{
		factory:       factory,
		clock:         kiosk.NewRealClock(),
		sessionCfg:    kiosk.DefaultConfig(),
		retryInterval: DefaultRetryInterval,
		maxRetry:      DefaultMaxRetryInterval,
		desired:       make(map[string]tappy.DeviceDefinition),
		active:        make(map[string]*activeEntry),
		holds:         make(map[string]time.Time),
		failures:      make(map[string]*backoff),
		listeners:     make(map[SnapshotListener]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	empty := []*Kiosk{}
	r.sessions.Store(&empty)
	return r
}

// SetDesired adds def to the desired set and converges. Adding a device
// that is already desired does nothing.
func (r *Registry) SetDesired(def tappy.DeviceDefinition) error {
	if def.ID == "" {
		return ErrInvalidDefinition
	}
	if r.closed.Load() {
		return ErrRegistryClosed
	}

	r.desiredMu.Lock()
	_, exists := r.desired[def.ID]
	if !exists {
		r.desired[def.ID] = def
	}
	count := len(r.desired)
	r.desiredMu.Unlock()

	if exists {
		return nil
	}
	tappy.Debugf("fleet: desired %s", def.Identity)
	r.desiredCountChanged(count)
	r.reconcile()
	return nil
}

// RemoveDesired drops id from the desired set and converges
func (r *Registry) RemoveDesired(id string) error {
	r.desiredMu.Lock()
	_, exists := r.desired[id]
	delete(r.desired, id)
	count := len(r.desired)
	r.desiredMu.Unlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownKiosk, id)
	}
	tappy.Debugf("fleet: no longer desired %s", id)
	r.desiredCountChanged(count)
	r.reconcile()
	return nil
}

// DisconnectAll empties the desired set and converges
func (r *Registry) DisconnectAll() {
	r.desiredMu.Lock()
	had := len(r.desired)
	clear(r.desired)
	r.desiredMu.Unlock()

	if had > 0 {
		tappy.Debugf("fleet: disconnecting all %d kiosks", had)
		r.desiredCountChanged(0)
	}
	r.reconcile()
}

// DesiredCount returns the size of the desired set
func (r *Registry) DesiredCount() int {
	r.desiredMu.RLock()
	defer r.desiredMu.RUnlock()
	return len(r.desired)
}

// Desired returns the desired set ordered by id
func (r *Registry) Desired() []tappy.DeviceDefinition {
	r.desiredMu.RLock()
	defs := slices.Collect(maps.Values(r.desired))
	r.desiredMu.RUnlock()

	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs
}

// Sessions returns the last published snapshot, oldest session first
func (r *Registry) Sessions() []*Kiosk {
	return slices.Clone(*r.sessions.Load())
}

// Kiosk returns the live session for id
func (r *Registry) Kiosk(id string) (*Kiosk, bool) {
	r.activeMu.RLock()
	defer r.activeMu.RUnlock()
	e, ok := r.active[id]
	if !ok {
		return nil, false
	}
	return e.kiosk, true
}

// AddSnapshotListener registers l, optionally handing it the current snapshot
func (r *Registry) AddSnapshotListener(l SnapshotListener, sendCurrent bool) {
	r.listenersMu.Lock()
	r.listeners[l] = struct{}{}
	r.listenersMu.Unlock()

	if sendCurrent {
		l.OnSessionsChanged(r.Sessions())
	}
}

// RemoveSnapshotListener unregisters l
func (r *Registry) RemoveSnapshotListener(l SnapshotListener) {
	r.listenersMu.Lock()
	delete(r.listeners, l)
	r.listenersMu.Unlock()
}

// Close disconnects every kiosk and waits for their sessions to finish or
// for ctx to expire. The registry accepts no new devices afterwards.
func (r *Registry) Close(ctx context.Context) error {
	r.closed.Store(true)
	r.stopRetry()
	r.DisconnectAll()

	r.activeMu.RLock()
	pending := make([]*Kiosk, 0, len(r.active))
	for _, e := range r.active {
		pending = append(pending, e.kiosk)
	}
	r.activeMu.RUnlock()

	for _, k := range pending {
		select {
		case <-k.Done():
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s to close: %w", k.def.Identity, ctx.Err())
		}
	}
	return nil
}

func (r *Registry) desiredCountChanged(count int) {
	if r.onDesiredCount != nil {
		r.onDesiredCount(count)
	}
}

// reconcile spawns sessions for desired devices that have none and closes
// sessions whose device is no longer desired
func (r *Registry) reconcile() {
	changed := false
	var retryAt time.Time
	now := r.clock.Now()

	r.desiredMu.RLock()
	r.activeMu.Lock()

	for id := range r.failures {
		if _, ok := r.desired[id]; !ok {
			delete(r.failures, id)
			delete(r.holds, id)
		}
	}

	for id, def := range r.desired {
		if _, ok := r.active[id]; ok {
			continue
		}
		if r.closed.Load() {
			continue
		}
		if until, held := r.holds[id]; held {
			if now.Before(until) {
				retryAt = earliest(retryAt, until)
				continue
			}
			delete(r.holds, id)
		}
		transport, err := r.factory(def)
		if err != nil {
			until := r.holdLocked(id, now)
			tappy.Debugf("fleet: transport for %s: %v, retrying in %s", def.Identity, err, until.Sub(now))
			retryAt = earliest(retryAt, until)
			continue
		}

		r.seq++
		manager := kiosk.NewManager(transport, r.sessionCfg, kiosk.WithClock(r.clock))
		k := newKiosk(r, def, manager, now)
		w := &sessionWatcher{k: k}
		manager.AddStatusListener(w)
		manager.AddResponseListener(w)
		r.active[id] = &activeEntry{kiosk: k, seq: r.seq}
		tappy.Debugf("fleet: starting session %s for %s over %s", k.sessionID, def.Identity, transport.Description())
		manager.Initialize()
		changed = true
	}

	for id, e := range r.active {
		if _, ok := r.desired[id]; ok || e.closeRequested {
			continue
		}
		e.closeRequested = true
		tappy.Debugf("fleet: closing session %s for %s", e.kiosk.sessionID, e.kiosk.def.Identity)
		e.kiosk.manager.Close()
	}

	r.activeMu.Unlock()
	r.desiredMu.RUnlock()

	if !retryAt.IsZero() {
		r.scheduleRetry(retryAt)
	}
	if changed {
		r.publish()
	}
}

// holdLocked keeps id from being respawned until its next backoff delay
// has passed. Callers hold activeMu.
func (r *Registry) holdLocked(id string, now time.Time) time.Time {
	b, ok := r.failures[id]
	if !ok {
		fresh := newBackoff(r.retryInterval, r.maxRetry)
		b = &fresh
		r.failures[id] = b
	}
	until := now.Add(b.next())
	r.holds[id] = until
	return until
}

func earliest(current, candidate time.Time) time.Time {
	if current.IsZero() || candidate.Before(current) {
		return candidate
	}
	return current
}

// managerDidClose drops k from the active set if it is still the current
// session for its device, then converges again. A session that closed on
// its own before becoming stable delays the next attempt for its device.
func (r *Registry) managerDidClose(k *Kiosk) {
	now := r.clock.Now()

	r.activeMu.Lock()
	e, ok := r.active[k.ID()]
	removed := ok && e.kiosk == k
	if removed {
		delete(r.active, k.ID())
		if !e.closeRequested {
			r.sessionDiedLocked(k, now)
		}
	}
	r.activeMu.Unlock()

	if !removed {
		return
	}
	tappy.Debugf("fleet: session %s for %s closed", k.sessionID, k.def.Identity)
	r.publish()
	r.reconcile()
}

func (r *Registry) sessionDiedLocked(k *Kiosk, now time.Time) {
	if k.stable(now) {
		if b, ok := r.failures[k.ID()]; ok {
			b.reset()
		}
		return
	}
	until := r.holdLocked(k.ID(), now)
	tappy.Debugf("fleet: session %s for %s ended early, reconnecting in %s", k.sessionID, k.def.Identity, until.Sub(now))
}

// publish recomputes the snapshot and hands it to listeners if it changed.
// publishMu keeps broadcasts in the order the snapshots were taken.
func (r *Registry) publish() {
	r.publishMu.Lock()
	defer r.publishMu.Unlock()

	r.activeMu.RLock()
	entries := slices.Collect(maps.Values(r.active))
	r.activeMu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	next := make([]*Kiosk, len(entries))
	for i, e := range entries {
		next[i] = e.kiosk
	}
	if slices.Equal(next, *r.sessions.Load()) {
		return
	}
	r.sessions.Store(&next)

	r.listenersMu.RLock()
	targets := slices.Collect(maps.Keys(r.listeners))
	r.listenersMu.RUnlock()

	for _, l := range targets {
		l.OnSessionsChanged(slices.Clone(next))
	}
}

// scheduleRetry arms the retry timer for at, unless one fires sooner
func (r *Registry) scheduleRetry(at time.Time) {
	r.retryMu.Lock()
	defer r.retryMu.Unlock()
	if r.closed.Load() {
		return
	}
	if r.retryTimer != nil {
		if !at.Before(r.retryAt) {
			return
		}
		r.retryTimer.Stop()
	}

	r.retryGen++
	gen := r.retryGen
	r.retryAt = at
	r.retryTimer = r.clock.AfterFunc(at.Sub(r.clock.Now()), func() {
		r.retryMu.Lock()
		if r.retryGen == gen {
			r.retryTimer = nil
		}
		r.retryMu.Unlock()
		r.reconcile()
	})
}

func (r *Registry) stopRetry() {
	r.retryMu.Lock()
	defer r.retryMu.Unlock()
	if r.retryTimer != nil {
		r.retryTimer.Stop()
		r.retryTimer = nil
	}
}
