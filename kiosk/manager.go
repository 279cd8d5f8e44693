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

// Package kiosk supervises a single Tappy reader: it opens the transport,
// keeps a heartbeat going and reports status, tags and NDEF reads.
package kiosk

import (
	"time"

	"github.com/ZaparooProject/go-tappy"
	"github.com/ZaparooProject/go-tappy/internal/syncutil"
	"github.com/ZaparooProject/go-tappy/resolver"
)

type timerKind int

const (
	timerSend timerKind = iota
	timerCheck
	timerKindCount
)

var timerEvents = [timerKindCount]EventKind{
	timerSend:  EventSendHeartbeat,
	timerCheck: EventCheckHeartbeat,
}

type timerSlot struct {
	handle Timer
	gen    uint64
}

// Option configures a Manager
type Option func(*Manager)

// WithClock replaces the wall clock, mainly for tests
func WithClock(c Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// Manager runs the session state machine for one reader. Every public
// method only enqueues work and returns; events are processed one at a time
// on the manager's own goroutine.
type Manager struct {
	transport tappy.Transport
	clock     Clock
	notify    *notifier
	trace     func(Event)
	wake      chan struct{}
	done      chan struct{}
	queue     []Event
	st        state
	timers    [timerKindCount]timerSlot
	cfg       Config
	queueMu   syncutil.Mutex
	stopped   bool
}

// NewManager creates a session over transport. The transport is owned by
// the manager from here on. Nothing happens until Initialize.
func NewManager(transport tappy.Transport, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		transport: transport,
		cfg:       cfg.clone(),
		clock:     NewRealClock(),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.notify = newNotifier(m)
	go m.run()
	return m
}

// Initialize opens the transport
func (m *Manager) Initialize() {
	m.enqueue(simpleEvent(EventRequestInitialize))
}

// Close tears the session down. Extra calls are ignored; exactly one
// StatusClosed is delivered.
func (m *Manager) Close() {
	m.enqueue(simpleEvent(EventRequestClose))
}

// Status returns the last published status
func (m *Manager) Status() Status {
	return m.notify.currentStatus()
}

// Done is closed once the session is closed and every notification
// has been delivered
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Description names the underlying transport
func (m *Manager) Description() string {
	return m.transport.Description()
}

// Config returns a copy of the session configuration
func (m *Manager) Config() Config {
	return m.cfg.clone()
}

// AddStatusListener registers l and immediately calls it with the current
// status, while holding the listener lock. l must not register or remove
// listeners from inside that first call.
func (m *Manager) AddStatusListener(l StatusListener) {
	m.notify.addStatusListener(l)
}

// RemoveStatusListener unregisters l
func (m *Manager) RemoveStatusListener(l StatusListener) {
	m.notify.removeStatusListener(l)
}

// AddResponseListener registers l for tag, NDEF and heartbeat reports
func (m *Manager) AddResponseListener(l ResponseListener) {
	m.notify.addResponseListener(l)
}

// RemoveResponseListener unregisters l
func (m *Manager) RemoveResponseListener(l ResponseListener) {
	m.notify.removeResponseListener(l)
}

func (m *Manager) enqueue(ev Event) {
	m.queueMu.Lock()
	if m.stopped {
		m.queueMu.Unlock()
		tappy.Debugf("kiosk %s: dropping %s after close", m.Description(), ev)
		return
	}
	m.queue = append(m.queue, ev)
	m.queueMu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) next() Event {
	for {
		m.queueMu.Lock()
		if len(m.queue) > 0 {
			ev := m.queue[0]
			m.queue[0] = Event{}
			m.queue = m.queue[1:]
			m.queueMu.Unlock()
			return ev
		}
		m.queueMu.Unlock()
		<-m.wake
	}
}

func (m *Manager) run() {
	for {
		m.process(m.next())
		if m.st.status.IsTerminal() {
			m.shutdown()
			return
		}
	}
}

func (m *Manager) process(ev Event) {
	if ev.Kind == eventWaitIdle {
		m.queueMu.Lock()
		pending := len(m.queue) > 0
		m.queueMu.Unlock()
		if pending {
			m.enqueue(ev)
		} else {
			close(ev.idle)
		}
		return
	}
	if m.isStale(ev) {
		return
	}
	if m.trace != nil {
		m.trace(ev)
	}

	t := reduce(m.st, ev, m.clock.Now(), m.cfg)
	m.st = t.state

	for _, e := range t.effects {
		m.apply(e)
	}
	for _, s := range t.statuses {
		tappy.Debugf("kiosk %s: %s -> %s", m.Description(), ev, s)
		m.notify.publishStatus(s)
	}
	if t.followUp != nil {
		m.enqueue(*t.followUp)
	}
}

// isStale reports a timer firing that was cancelled or replaced after it
// had already been handed to the queue
func (m *Manager) isStale(ev Event) bool {
	if ev.timerGen == 0 {
		return false
	}
	for kind, evKind := range timerEvents {
		if evKind == ev.Kind {
			return m.timers[kind].gen != ev.timerGen
		}
	}
	return false
}

func (m *Manager) apply(e effect) {
	switch e.kind {
	case effectOpenTransport:
		m.transport.SetStatusListener(m.onTransportStatus)
		m.transport.SetResponseListener(m.onTransportResponse)
		if err := m.transport.Open(); err != nil {
			if !tappy.IsTransportError(err) {
				err = &tappy.TransportError{Op: "open", Port: m.Description(), Err: err}
			}
			tappy.Debugf("kiosk %s: %v", m.Description(), err)
			m.enqueue(simpleEvent(EventErrorDrivenClose))
			return
		}
		if e.configure != nil {
			if err := m.transport.Send(*e.configure); err != nil {
				tappy.Debugf("kiosk %s: configure failed: %v", m.Description(), err)
			}
		}
	case effectCloseTransport:
		m.transport.Close()
	case effectSendPing:
		// pings racing teardown are expected
		if err := m.transport.Send(tappy.NewPingCommand()); err != nil && !tappy.IsClosed(err) {
			tappy.Debugf("kiosk %s: ping failed: %v", m.Description(), err)
		}
	case effectScheduleSend:
		m.schedule(timerSend, e.delay)
	case effectScheduleCheck:
		m.schedule(timerCheck, e.delay)
	case effectCancelTimers:
		m.cancelTimers()
	case effectNotifyHeartbeat:
		m.notify.publishHeartbeat(e.event.At)
	case effectNotifyTag:
		m.notify.publishTag(e.event.UID, e.event.TagType)
	case effectNotifyNdef:
		m.notify.publishNdef(e.event.UID, e.event.TagType, e.event.Ndef)
	case effectLogIgnored:
		tappy.Debugf("kiosk %s: ignoring %s in status %s", m.Description(), e.event, m.st.status)
	}
}

// schedule replaces the pending timer of kind with one firing after delay
func (m *Manager) schedule(kind timerKind, delay time.Duration) {
	slot := &m.timers[kind]
	if slot.handle != nil {
		slot.handle.Stop()
	}
	slot.gen++
	ev := Event{Kind: timerEvents[kind], timerGen: slot.gen}
	slot.handle = m.clock.AfterFunc(delay, func() {
		m.enqueue(ev)
	})
}

func (m *Manager) cancelTimers() {
	for kind := range m.timers {
		slot := &m.timers[kind]
		if slot.handle != nil {
			slot.handle.Stop()
			slot.handle = nil
		}
		slot.gen++
	}
}

// shutdown detaches from the transport and drains notifications
func (m *Manager) shutdown() {
	m.cancelTimers()
	m.transport.SetStatusListener(nil)
	m.transport.SetResponseListener(nil)

	m.queueMu.Lock()
	m.stopped = true
	dropped := len(m.queue)
	m.queue = nil
	m.queueMu.Unlock()
	if dropped > 0 {
		tappy.Debugf("kiosk %s: discarded %d queued events after close", m.Description(), dropped)
	}

	m.notify.close()
	<-m.notify.done
	close(m.done)
}

func (m *Manager) onTransportStatus(status tappy.TransportStatus) {
	m.enqueue(TransportStatusChanged(status, m.clock.Now()))
}

func (m *Manager) onTransportResponse(msg tappy.Message) {
	m.enqueue(EventFromResolved(resolver.ResolveAt(msg, m.clock.Now())))
}

// waitIdle blocks until the queue is empty and all notifications so far
// have been delivered
func (m *Manager) waitIdle() {
	idle := make(chan struct{})
	m.enqueue(Event{Kind: eventWaitIdle, idle: idle})
	select {
	case <-idle:
	case <-m.done:
	}
	m.notify.flush()
}
