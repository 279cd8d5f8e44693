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
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/go-tappy/internal/syncutil"
	"github.com/ZaparooProject/go-tappy/pkg/ndef"
)

// StatusListener receives session status changes. Implementations are used
// as map keys and must be comparable, which pointer receivers always are.
type StatusListener interface {
	OnStatusChanged(m *Manager, status Status)
}

// ResponseListener receives what the reader reports
type ResponseListener interface {
	OnTagRead(m *Manager, uid []byte, tagType byte)
	OnNdefRead(m *Manager, uid []byte, tagType byte, msg *ndef.Message)
	OnHeartbeatReceived(m *Manager, at time.Time)
}

// notifier owns the listener sets and delivers notifications on its own
// goroutine, in the order they were published
type notifier struct {
	owner             *Manager
	statusListeners   map[StatusListener]struct{}
	responseListeners map[ResponseListener]struct{}
	wake              chan struct{}
	done              chan struct{}
	queue             []func()
	status            atomic.Int32
	listenersMu       syncutil.RWMutex
	queueMu           syncutil.Mutex
	closed            bool
}

func newNotifier(owner *Manager) *notifier {
	n := &notifier{
		owner:             owner,
		statusListeners:   make(map[StatusListener]struct{}),
		responseListeners: make(map[ResponseListener]struct{}),
		wake:              make(chan struct{}, 1),
		done:              make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *notifier) currentStatus() Status {
	return Status(n.status.Load())
}

// addStatusListener registers l and hands it the current status before
// releasing the write lock, so l neither misses nor repeats a value
func (n *notifier) addStatusListener(l StatusListener) {
	n.listenersMu.Lock()
	defer n.listenersMu.Unlock()
	if _, ok := n.statusListeners[l]; ok {
		return
	}
	n.statusListeners[l] = struct{}{}
	l.OnStatusChanged(n.owner, n.currentStatus())
}

func (n *notifier) removeStatusListener(l StatusListener) {
	n.listenersMu.Lock()
	delete(n.statusListeners, l)
	n.listenersMu.Unlock()
}

func (n *notifier) addResponseListener(l ResponseListener) {
	n.listenersMu.Lock()
	n.responseListeners[l] = struct{}{}
	n.listenersMu.Unlock()
}

func (n *notifier) removeResponseListener(l ResponseListener) {
	n.listenersMu.Lock()
	delete(n.responseListeners, l)
	n.listenersMu.Unlock()
}

// publishStatus stores status and queues delivery to the listeners
// registered at this instant
func (n *notifier) publishStatus(status Status) {
	n.listenersMu.Lock()
	n.status.Store(int32(status))
	targets := make([]StatusListener, 0, len(n.statusListeners))
	for l := range n.statusListeners {
		targets = append(targets, l)
	}
	n.listenersMu.Unlock()

	n.post(func() {
		for _, l := range targets {
			l.OnStatusChanged(n.owner, status)
		}
	})
}

func (n *notifier) responseTargets() []ResponseListener {
	n.listenersMu.RLock()
	defer n.listenersMu.RUnlock()
	targets := make([]ResponseListener, 0, len(n.responseListeners))
	for l := range n.responseListeners {
		targets = append(targets, l)
	}
	return targets
}

func (n *notifier) publishTag(uid []byte, tagType byte) {
	targets := n.responseTargets()
	n.post(func() {
		for _, l := range targets {
			l.OnTagRead(n.owner, uid, tagType)
		}
	})
}

func (n *notifier) publishNdef(uid []byte, tagType byte, msg *ndef.Message) {
	targets := n.responseTargets()
	n.post(func() {
		for _, l := range targets {
			l.OnNdefRead(n.owner, uid, tagType, msg)
		}
	})
}

func (n *notifier) publishHeartbeat(at time.Time) {
	targets := n.responseTargets()
	n.post(func() {
		for _, l := range targets {
			l.OnHeartbeatReceived(n.owner, at)
		}
	})
}

func (n *notifier) post(fn func()) {
	n.queueMu.Lock()
	if n.closed {
		n.queueMu.Unlock()
		return
	}
	n.queue = append(n.queue, fn)
	n.queueMu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// close stops accepting work; run exits after draining what is queued
func (n *notifier) close() {
	n.queueMu.Lock()
	n.closed = true
	n.queueMu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// flush blocks until everything posted before the call has been delivered
func (n *notifier) flush() {
	delivered := make(chan struct{})
	n.post(func() { close(delivered) })
	select {
	case <-delivered:
	case <-n.done:
	}
}

func (n *notifier) run() {
	defer close(n.done)
	for {
		n.queueMu.Lock()
		if len(n.queue) == 0 {
			closed := n.closed
			n.queueMu.Unlock()
			if closed {
				return
			}
			<-n.wake
			continue
		}
		fn := n.queue[0]
		n.queue[0] = nil
		n.queue = n.queue[1:]
		n.queueMu.Unlock()

		fn()
	}
}
