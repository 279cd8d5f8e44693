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

package tappy

import (
	"fmt"
	"sync"
)

// Transport defines the link to a single Tappy reader.
// This can be implemented by USB (serial) or BLE backends.
//
// Status and response callbacks may be invoked from any goroutine, including
// synchronously from inside Open, Close or Send.
type Transport interface {
	// Open starts connecting to the reader. A nil error means the connection
	// attempt is underway; readiness is reported through the status listener.
	Open() error

	// Close tears the link down. It is safe to call more than once.
	Close()

	// Send writes a command to the reader
	Send(msg Message) error

	// Status returns the most recently reported link status
	Status() TransportStatus

	// SetStatusListener installs the single status-change callback.
	// Passing nil detaches it.
	SetStatusListener(fn func(TransportStatus))

	// SetResponseListener installs the single decoded-message callback.
	// Passing nil detaches it.
	SetResponseListener(fn func(Message))

	// Description returns a human readable name for logging
	Description() string
}

// TransportStatus is the link state reported by a Transport
type TransportStatus int

const (
	// StatusDisconnected means the link dropped or was never established
	StatusDisconnected TransportStatus = iota
	// StatusConnecting means a connection attempt is in progress
	StatusConnecting
	// StatusReady means commands can be sent
	StatusReady
	// StatusDisconnecting means the link is being torn down
	StatusDisconnecting
	// StatusClosed means the link is closed and its resources released
	StatusClosed
	// StatusError means the link failed
	StatusError
)

func (s TransportStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusReady:
		return "ready"
	case StatusDisconnecting:
		return "disconnecting"
	case StatusClosed:
		return "closed"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// MockTransport provides a scriptable in-memory Transport for testing.
//
// By default Open reports Connecting then Ready, and Close reports
// Disconnecting then Closed.
type MockTransport struct {
	openErr          error
	statusListener   func(TransportStatus)
	responseListener func(Message)
	description      string
	sent             []Message
	status           TransportStatus
	openCount        int
	closeCount       int
	mu               sync.RWMutex
	holdReady        bool
	holdClosed       bool
	autoPong         bool
}

// NewMockTransport creates a new mock transport
func NewMockTransport(description string) *MockTransport {
	return &MockTransport{
		description: description,
		status:      StatusDisconnected,
	}
}

// Open implements Transport
func (m *MockTransport) Open() error {
	m.mu.Lock()
	m.openCount++
	if m.openErr != nil {
		err := m.openErr
		m.mu.Unlock()
		return err
	}
	holdReady := m.holdReady
	m.mu.Unlock()

	m.EmitStatus(StatusConnecting)
	if !holdReady {
		m.EmitStatus(StatusReady)
	}
	return nil
}

// Close implements Transport
func (m *MockTransport) Close() {
	m.mu.Lock()
	m.closeCount++
	already := m.status == StatusClosed
	holdClosed := m.holdClosed
	m.mu.Unlock()

	if already {
		return
	}
	m.EmitStatus(StatusDisconnecting)
	if !holdClosed {
		m.EmitStatus(StatusClosed)
	}
}

// Send implements Transport
func (m *MockTransport) Send(msg Message) error {
	m.mu.Lock()
	switch m.status {
	case StatusReady:
	case StatusDisconnecting, StatusClosed:
		m.mu.Unlock()
		return &TransportError{Op: "send", Port: m.description, Err: ErrTransportClosed}
	default:
		m.mu.Unlock()
		return &TransportError{Op: "send", Port: m.description, Err: ErrTransportNotReady}
	}
	m.sent = append(m.sent, msg.Clone())
	autoPong := m.autoPong
	m.mu.Unlock()

	if autoPong && msg.IsPing() {
		m.Respond(NewPingResponse())
	}
	return nil
}

// Status implements Transport
func (m *MockTransport) Status() TransportStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// SetStatusListener implements Transport
func (m *MockTransport) SetStatusListener(fn func(TransportStatus)) {
	m.mu.Lock()
	m.statusListener = fn
	m.mu.Unlock()
}

// SetResponseListener implements Transport
func (m *MockTransport) SetResponseListener(fn func(Message)) {
	m.mu.Lock()
	m.responseListener = fn
	m.mu.Unlock()
}

// Description implements Transport
func (m *MockTransport) Description() string {
	return m.description
}

// Test helper methods

// SetOpenError makes the next Open calls fail with err
func (m *MockTransport) SetOpenError(err error) {
	m.mu.Lock()
	m.openErr = err
	m.mu.Unlock()
}

// SetHoldReady stops Open from reporting Ready on its own
func (m *MockTransport) SetHoldReady(hold bool) {
	m.mu.Lock()
	m.holdReady = hold
	m.mu.Unlock()
}

// SetHoldClosed stops Close from reporting Closed on its own
func (m *MockTransport) SetHoldClosed(hold bool) {
	m.mu.Lock()
	m.holdClosed = hold
	m.mu.Unlock()
}

// SetAutoPong makes the mock answer every ping command with a ping response
func (m *MockTransport) SetAutoPong(enabled bool) {
	m.mu.Lock()
	m.autoPong = enabled
	m.mu.Unlock()
}

// EmitStatus records status and reports it to the status listener
func (m *MockTransport) EmitStatus(status TransportStatus) {
	m.mu.Lock()
	m.status = status
	fn := m.statusListener
	m.mu.Unlock()

	if fn != nil {
		fn(status)
	}
}

// Respond delivers msg to the response listener as if the reader sent it
func (m *MockTransport) Respond(msg Message) {
	m.mu.RLock()
	fn := m.responseListener
	m.mu.RUnlock()

	if fn != nil {
		fn(msg)
	}
}

// Sent returns a copy of every message passed to Send
func (m *MockTransport) Sent() []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Message, len(m.sent))
	copy(out, m.sent)
	return out
}

// SentCount returns how many sent messages match family and code
func (m *MockTransport) SentCount(family Family, code byte) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, msg := range m.sent {
		if msg.Family == family && msg.Code == code {
			count++
		}
	}
	return count
}

// OpenCount returns how many times Open was called
func (m *MockTransport) OpenCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.openCount
}

// CloseCount returns how many times Close was called
func (m *MockTransport) CloseCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closeCount
}

// HasListeners reports whether either callback is still attached
func (m *MockTransport) HasListeners() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statusListener != nil || m.responseListener != nil
}
