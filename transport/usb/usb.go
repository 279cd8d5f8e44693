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

// Package usb provides a tappy.Transport for readers attached over a USB
// serial link.
package usb

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ZaparooProject/go-tappy"
	"github.com/ZaparooProject/go-tappy/internal/frame"
	"github.com/ZaparooProject/go-tappy/internal/syncutil"
	"go.bug.st/serial"
)

const (
	baudRate = 115200
	// readTimeout bounds each blocking read so the reader notices Close
	readTimeout = 100 * time.Millisecond
	readBufSize = 256
)

// OpenFunc opens a serial port. It matches serial.Open.
type OpenFunc func(name string, mode *serial.Mode) (serial.Port, error)

// Option configures a Transport
type Option func(*Transport)

// WithOpenFunc replaces serial.Open, mainly for tests
func WithOpenFunc(fn OpenFunc) Option {
	return func(t *Transport) {
		t.openPort = fn
	}
}

// Transport implements tappy.Transport over a serial port
type Transport struct {
	port             serial.Port
	readErr          error
	openPort         OpenFunc
	statusListener   func(tappy.TransportStatus)
	responseListener func(tappy.Message)
	done             chan struct{}
	portName         string
	status           tappy.TransportStatus
	mu               syncutil.Mutex
	writeMu          syncutil.Mutex
	closing          bool
}

var _ tappy.Transport = (*Transport)(nil)

// New creates a transport for portName. The port is not opened until Open.
func New(portName string, opts ...Option) *Transport {
	t := &Transport{
		portName: portName,
		openPort: serial.Open,
		status:   tappy.StatusDisconnected,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Factory builds USB transports for the fleet registry. Other transport
// kinds are rejected.
func Factory(def tappy.DeviceDefinition) (tappy.Transport, error) {
	if def.Transport != tappy.TransportUSB && def.Transport != "" {
		return nil, fmt.Errorf("%w: %s", tappy.ErrUnsupportedTransport, def.Transport)
	}
	return New(def.PortPath()), nil
}

// Open implements tappy.Transport. The port is opened synchronously, so Ready
// has been reported by the time Open returns nil.
func (t *Transport) Open() error {
	t.mu.Lock()
	if t.status == tappy.StatusConnecting || t.status == tappy.StatusReady {
		t.mu.Unlock()
		return nil
	}
	t.closing = false
	t.readErr = nil
	t.mu.Unlock()

	t.setStatus(tappy.StatusConnecting)

	port, err := t.openPort(t.portName, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		t.setStatus(tappy.StatusError)
		return &tappy.TransportError{Op: "open", Port: t.portName, Err: errors.Join(tappy.ErrTransportOpen, err)}
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		_ = port.Close()
		t.setStatus(tappy.StatusError)
		return &tappy.TransportError{Op: "open", Port: t.portName, Err: errors.Join(tappy.ErrTransportOpen, err)}
	}
	_ = port.ResetInputBuffer()

	done := make(chan struct{})
	t.mu.Lock()
	t.port = port
	t.done = done
	t.mu.Unlock()

	go t.readLoop(port, done)
	t.setStatus(tappy.StatusReady)
	return nil
}

// Close implements tappy.Transport
func (t *Transport) Close() {
	t.mu.Lock()
	if t.closing || t.status == tappy.StatusClosed {
		t.mu.Unlock()
		return
	}
	t.closing = true
	port, done := t.port, t.done
	t.port = nil
	t.mu.Unlock()

	t.setStatus(tappy.StatusDisconnecting)
	if port != nil {
		if err := port.Close(); err != nil {
			tappy.Debugf("usb %s: close: %v", t.portName, err)
		}
	}
	if done != nil {
		<-done
	}
	t.setStatus(tappy.StatusClosed)
}

// Send implements tappy.Transport
func (t *Transport) Send(msg tappy.Message) error {
	packet, err := frame.Encode(msg)
	if err != nil {
		return &tappy.TransportError{Op: "send", Port: t.portName, Err: err}
	}

	t.mu.Lock()
	port, status, closing, readErr := t.port, t.status, t.closing, t.readErr
	t.mu.Unlock()
	switch {
	case readErr != nil:
		return &tappy.TransportError{Op: "send", Port: t.portName, Err: fmt.Errorf("%w: %w", tappy.ErrTransportClosed, readErr)}
	case closing || status == tappy.StatusClosed:
		return &tappy.TransportError{Op: "send", Port: t.portName, Err: tappy.ErrTransportClosed}
	case port == nil || status != tappy.StatusReady:
		return &tappy.TransportError{Op: "send", Port: t.portName, Err: tappy.ErrTransportNotReady}
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	n, err := port.Write(packet)
	if err != nil {
		return &tappy.TransportError{Op: "send", Port: t.portName, Err: errors.Join(tappy.ErrTransportWrite, err)}
	}
	if n != len(packet) {
		return &tappy.TransportError{
			Op:   "send",
			Port: t.portName,
			Err:  fmt.Errorf("%w: wrote %d of %d bytes", tappy.ErrTransportWrite, n, len(packet)),
		}
	}
	return t.drainWithRetry(port)
}

// Status implements tappy.Transport
func (t *Transport) Status() tappy.TransportStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// SetStatusListener implements tappy.Transport
func (t *Transport) SetStatusListener(fn func(tappy.TransportStatus)) {
	t.mu.Lock()
	t.statusListener = fn
	t.mu.Unlock()
}

// SetResponseListener implements tappy.Transport
func (t *Transport) SetResponseListener(fn func(tappy.Message)) {
	t.mu.Lock()
	t.responseListener = fn
	t.mu.Unlock()
}

// Description implements tappy.Transport
func (t *Transport) Description() string {
	return "usb:" + t.portName
}

func (t *Transport) setStatus(status tappy.TransportStatus) {
	t.mu.Lock()
	t.status = status
	fn := t.statusListener
	t.mu.Unlock()

	if fn != nil {
		fn(status)
	}
}

func (t *Transport) deliver(msg tappy.Message) {
	t.mu.Lock()
	fn := t.responseListener
	t.mu.Unlock()

	if fn != nil {
		fn(msg)
	}
}

func (t *Transport) isClosing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closing
}

// readLoop decodes frames until the port fails or is closed
func (t *Transport) readLoop(port serial.Port, done chan struct{}) {
	defer close(done)

	var ext frame.Extractor
	buf := make([]byte, readBufSize)
	for {
		n, err := port.Read(buf)
		if err != nil {
			if t.isClosing() {
				return
			}
			t.failRead(port, err)
			return
		}
		if n == 0 {
			// read timeout
			if t.isClosing() {
				return
			}
			continue
		}

		msgs, errs := ext.Feed(buf[:n])
		for _, ferr := range errs {
			tappy.Debugf("usb %s: dropped frame: %v", t.portName, ferr)
		}
		for _, msg := range msgs {
			t.deliver(msg)
		}
	}
}

// failRead releases the port after a read error and reports StatusError.
// Later sends fail with the read error until the port is opened again.
func (t *Transport) failRead(port serial.Port, err error) {
	readErr := fmt.Errorf("%w: %w", tappy.ErrTransportRead, err)
	tappy.Debugf("usb %s: %v", t.portName, readErr)

	t.mu.Lock()
	if t.port == port {
		t.port = nil
	}
	t.readErr = readErr
	t.mu.Unlock()
	_ = port.Close()
	t.setStatus(tappy.StatusError)
}

// isInterruptedSystemCall checks if an error is caused by an interrupted system call
func isInterruptedSystemCall(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "interrupted system call") ||
		strings.Contains(errStr, "eintr")
}

// drainWithRetry waits for the write to leave the port, retrying interrupted calls
func (t *Transport) drainWithRetry(port serial.Port) error {
	const maxRetries = 3
	baseDelay := 2 * time.Millisecond

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := port.Drain()
		if err == nil {
			return nil
		}
		if isInterruptedSystemCall(err) && attempt < maxRetries-1 {
			time.Sleep(baseDelay * time.Duration(1<<attempt))
			continue
		}
		return &tappy.TransportError{Op: "drain", Port: t.portName, Err: errors.Join(tappy.ErrTransportWrite, err)}
	}
	return &tappy.TransportError{
		Op:   "drain",
		Port: t.portName,
		Err:  fmt.Errorf("%w: drain failed after %d retries", tappy.ErrTransportWrite, maxRetries),
	}
}
