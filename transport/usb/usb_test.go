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

package usb

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ZaparooProject/go-tappy"
	"github.com/ZaparooProject/go-tappy/internal/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

var errPortClosed = errors.New("port is closed")

// fakePort is an in-memory serial.Port. Bytes pushed with feed are returned
// by Read; Read returns (0, nil) after the read timeout like a real port.
type fakePort struct {
	readErr     error
	mode        *serial.Mode
	incoming    chan []byte
	closedCh    chan struct{}
	written     []byte
	readTimeout time.Duration
	drains      int
	mu          sync.Mutex
	closeOnce   sync.Once
}

func newFakePort() *fakePort {
	return &fakePort{
		incoming: make(chan []byte, 16),
		closedCh: make(chan struct{}),
	}
}

func (p *fakePort) feed(data []byte) {
	p.incoming <- data
}

func (p *fakePort) failReads(err error) {
	p.mu.Lock()
	p.readErr = err
	p.mu.Unlock()
	p.incoming <- nil
}

func (p *fakePort) SetMode(mode *serial.Mode) error {
	p.mu.Lock()
	p.mode = mode
	p.mu.Unlock()
	return nil
}

func (p *fakePort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	timeout := p.readTimeout
	p.mu.Unlock()
	if timeout <= 0 {
		timeout = time.Hour
	}

	select {
	case <-p.closedCh:
		return 0, errPortClosed
	case data := <-p.incoming:
		p.mu.Lock()
		err := p.readErr
		p.mu.Unlock()
		if err != nil {
			return 0, err
		}
		return copy(buf, data), nil
	case <-time.After(timeout):
		return 0, nil
	}
}

func (p *fakePort) Write(data []byte) (int, error) {
	select {
	case <-p.closedCh:
		return 0, errPortClosed
	default:
	}
	p.mu.Lock()
	p.written = append(p.written, data...)
	p.mu.Unlock()
	return len(data), nil
}

func (p *fakePort) Drain() error {
	p.mu.Lock()
	p.drains++
	p.mu.Unlock()
	return nil
}

func (*fakePort) ResetInputBuffer() error  { return nil }
func (*fakePort) ResetOutputBuffer() error { return nil }
func (*fakePort) SetDTR(bool) error        { return nil }
func (*fakePort) SetRTS(bool) error        { return nil }

func (*fakePort) GetModemStatusBits() (*serial.ModemStatusBits, error) {
	return &serial.ModemStatusBits{}, nil
}

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	p.readTimeout = t
	p.mu.Unlock()
	return nil
}

func (p *fakePort) Close() error {
	p.closeOnce.Do(func() { close(p.closedCh) })
	return nil
}

func (*fakePort) Break(time.Duration) error { return nil }

func (p *fakePort) writtenBytes() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.written...)
}

func (p *fakePort) isClosed() bool {
	select {
	case <-p.closedCh:
		return true
	default:
		return false
	}
}

var _ serial.Port = (*fakePort)(nil)

type recorder struct {
	statuses []tappy.TransportStatus
	messages []tappy.Message
	mu       sync.Mutex
}

func (r *recorder) onStatus(s tappy.TransportStatus) {
	r.mu.Lock()
	r.statuses = append(r.statuses, s)
	r.mu.Unlock()
}

func (r *recorder) onMessage(m tappy.Message) {
	r.mu.Lock()
	r.messages = append(r.messages, m)
	r.mu.Unlock()
}

func (r *recorder) getStatuses() []tappy.TransportStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]tappy.TransportStatus(nil), r.statuses...)
}

func (r *recorder) getMessages() []tappy.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]tappy.Message(nil), r.messages...)
}

func newTestTransport(t *testing.T) (*Transport, *fakePort, *recorder) {
	t.Helper()
	port := newFakePort()
	tr := New("/dev/ttyTEST", WithOpenFunc(func(name string, mode *serial.Mode) (serial.Port, error) {
		assert.Equal(t, "/dev/ttyTEST", name)
		require.NoError(t, port.SetMode(mode))
		return port, nil
	}))
	rec := &recorder{}
	tr.SetStatusListener(rec.onStatus)
	tr.SetResponseListener(rec.onMessage)
	t.Cleanup(tr.Close)
	return tr, port, rec
}

func TestTransport_OpenClose(t *testing.T) {
	t.Parallel()

	tr, port, rec := newTestTransport(t)
	require.NoError(t, tr.Open())
	assert.Equal(t, tappy.StatusReady, tr.Status())

	port.mu.Lock()
	mode := port.mode
	timeout := port.readTimeout
	port.mu.Unlock()
	require.NotNil(t, mode)
	assert.Equal(t, 115200, mode.BaudRate)
	assert.Equal(t, 8, mode.DataBits)
	assert.Equal(t, serial.NoParity, mode.Parity)
	assert.Equal(t, serial.OneStopBit, mode.StopBits)
	assert.Equal(t, readTimeout, timeout)

	tr.Close()
	tr.Close()
	assert.True(t, port.isClosed())
	assert.Equal(t, []tappy.TransportStatus{
		tappy.StatusConnecting,
		tappy.StatusReady,
		tappy.StatusDisconnecting,
		tappy.StatusClosed,
	}, rec.getStatuses())
}

func TestTransport_OpenFailure(t *testing.T) {
	t.Parallel()

	openErr := errors.New("no such device")
	tr := New("/dev/missing", WithOpenFunc(func(string, *serial.Mode) (serial.Port, error) {
		return nil, openErr
	}))
	rec := &recorder{}
	tr.SetStatusListener(rec.onStatus)

	err := tr.Open()
	require.Error(t, err)
	assert.ErrorIs(t, err, tappy.ErrTransportOpen)
	assert.ErrorIs(t, err, openErr)
	assert.True(t, tappy.IsTransportError(err))
	assert.Equal(t, []tappy.TransportStatus{tappy.StatusConnecting, tappy.StatusError}, rec.getStatuses())
}

func TestTransport_SendWritesFrame(t *testing.T) {
	t.Parallel()

	tr, port, _ := newTestTransport(t)

	err := tr.Send(tappy.NewPingCommand())
	require.ErrorIs(t, err, tappy.ErrTransportNotReady)

	require.NoError(t, tr.Open())
	require.NoError(t, tr.Send(tappy.NewPingCommand()))

	want, err := frame.Encode(tappy.NewPingCommand())
	require.NoError(t, err)
	assert.Equal(t, want, port.writtenBytes())

	port.mu.Lock()
	drains := port.drains
	port.mu.Unlock()
	assert.Equal(t, 1, drains)

	tr.Close()
	err = tr.Send(tappy.NewPingCommand())
	require.ErrorIs(t, err, tappy.ErrTransportClosed)
	assert.True(t, tappy.IsClosed(err))
}

func TestTransport_DeliversDecodedResponses(t *testing.T) {
	t.Parallel()

	tr, port, rec := newTestTransport(t)
	require.NoError(t, tr.Open())

	ping, err := frame.Encode(tappy.NewPingResponse())
	require.NoError(t, err)
	tag, err := frame.Encode(tappy.NewTagFoundResponse(0x06, []byte{0x04, 0xA1, 0xB2}))
	require.NoError(t, err)

	// noise, a split frame, then a whole one
	port.feed([]byte{0x00, 0x13})
	port.feed(ping[:3])
	port.feed(ping[3:])
	port.feed(tag)

	require.Eventually(t, func() bool {
		return len(rec.getMessages()) == 2
	}, time.Second, 5*time.Millisecond)

	msgs := rec.getMessages()
	assert.True(t, msgs[0].IsPing())
	assert.Equal(t, tappy.FamilyBasicNFC, msgs[1].Family)
	assert.Equal(t, tappy.CodeTagFound, msgs[1].Code)
	assert.Equal(t, []byte{0x06, 0x04, 0xA1, 0xB2}, msgs[1].Payload)
}

func TestTransport_ReadFailureReportsError(t *testing.T) {
	t.Parallel()

	tr, port, rec := newTestTransport(t)
	require.NoError(t, tr.Open())

	port.failReads(errors.New("device unplugged"))

	require.Eventually(t, func() bool {
		statuses := rec.getStatuses()
		return len(statuses) > 0 && statuses[len(statuses)-1] == tappy.StatusError
	}, time.Second, 5*time.Millisecond)
	assert.True(t, port.isClosed())

	err := tr.Send(tappy.NewPingCommand())
	require.ErrorIs(t, err, tappy.ErrTransportRead)
	assert.ErrorContains(t, err, "device unplugged")
	assert.True(t, tappy.IsClosed(err))

	tr.Close()
	statuses := rec.getStatuses()
	assert.Equal(t, []tappy.TransportStatus{
		tappy.StatusConnecting,
		tappy.StatusReady,
		tappy.StatusError,
		tappy.StatusDisconnecting,
		tappy.StatusClosed,
	}, statuses)
}

func TestFactory(t *testing.T) {
	t.Parallel()

	tr, err := Factory(tappy.DeviceDefinition{
		Identity:  tappy.Identity{ID: "front", Name: "Front"},
		Transport: tappy.TransportUSB,
		Path:      "/dev/ttyUSB3",
	})
	require.NoError(t, err)
	assert.Equal(t, "usb:/dev/ttyUSB3", tr.Description())

	_, err = Factory(tappy.DeviceDefinition{
		Identity:  tappy.Identity{ID: "AA:BB"},
		Transport: tappy.TransportBLE,
	})
	assert.ErrorIs(t, err, tappy.ErrUnsupportedTransport)
}

//nolint:paralleltest // swaps the package enumerator
func TestListPorts(t *testing.T) {
	orig := enumerate
	t.Cleanup(func() { enumerate = orig })

	enumerate = func() ([]*enumerator.PortDetails, error) {
		return []*enumerator.PortDetails{
			{Name: "/dev/ttyS0"},
			{Name: "/dev/ttyUSB1", IsUSB: true, VID: "1a86", PID: "7523"},
			{Name: "/dev/ttyUSB0", IsUSB: true, VID: "0403", PID: "6015", SerialNumber: "TT01"},
			nil,
		}, nil
	}

	ports, err := ListPorts()
	require.NoError(t, err)
	require.Len(t, ports, 3)
	assert.Equal(t, "/dev/ttyUSB0", ports[0].Path)
	assert.True(t, ports[0].Likely)
	assert.Equal(t, "0403:6015", ports[0].VIDPID)
	assert.Equal(t, "TT01", ports[0].SerialNumber)
	assert.Equal(t, "/dev/ttyS0", ports[1].Path)
	assert.False(t, ports[1].IsUSB)
	assert.Equal(t, "/dev/ttyUSB1", ports[2].Path)
	assert.False(t, ports[2].Likely)

	enumerate = func() ([]*enumerator.PortDetails, error) {
		return nil, errors.New("boom")
	}
	_, err = ListPorts()
	assert.Error(t, err)
}
