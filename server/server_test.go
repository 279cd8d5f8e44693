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

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ZaparooProject/go-tappy"
	"github.com/ZaparooProject/go-tappy/autolaunch"
	"github.com/ZaparooProject/go-tappy/fleet"
	"github.com/ZaparooProject/go-tappy/kiosk"
	"github.com/ZaparooProject/go-tappy/pkg/ndef"
	"github.com/ZaparooProject/go-tappy/transport/usb"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 5 * time.Second
	tick    = 5 * time.Millisecond
)

type mockFactory struct {
	created map[string]*tappy.MockTransport
	mu      sync.Mutex
}

func (f *mockFactory) New(def tappy.DeviceDefinition) (tappy.Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tr := tappy.NewMockTransport(def.ID)
	f.created[def.ID] = tr
	return tr, nil
}

func (f *mockFactory) transport(t *testing.T, id string) *tappy.MockTransport {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	tr, ok := f.created[id]
	require.True(t, ok, "no transport for %s", id)
	return tr
}

type harness struct {
	factory  *mockFactory
	registry *fleet.Registry
	hub      *Hub
	launcher *autolaunch.Launcher
	ts       *httptest.Server
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		factory:  &mockFactory{created: make(map[string]*tappy.MockTransport)},
		hub:      NewHub(),
		launcher: autolaunch.New(autolaunch.WithOpener(func(string) error { return nil })),
	}
	h.registry = fleet.NewRegistry(h.factory.New,
		fleet.WithSessionConfig(kiosk.PassiveConfig()),
		fleet.WithEventSink(h.hub),
	)
	h.hub.Attach(h.registry)

	opts = append([]Option{
		WithLauncher(h.launcher),
		WithPortLister(func() ([]usb.PortInfo, error) {
			return []usb.PortInfo{{Path: "/dev/ttyUSB0", IsUSB: true, VIDPID: "0403:6015", Likely: true}}, nil
		}),
	}, opts...)
	h.ts = httptest.NewServer(New(h.registry, h.hub, opts...).Handler())

	t.Cleanup(func() {
		h.ts.Close()
		h.hub.CloseAll()
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = h.registry.Close(ctx)
	})
	return h
}

func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

type inbound struct {
	Type      MessageType    `json:"type"`
	RequestID string         `json:"requestId"`
	Payload   map[string]any `json:"payload"`
}

// readUntil skips messages until one of type typ satisfies match
func readUntil(t *testing.T, conn *websocket.Conn, typ MessageType, match func(map[string]any) bool) inbound {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	for {
		var msg inbound
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == typ && (match == nil || match(msg.Payload)) {
			return msg
		}
	}
}

// readAll reads until every want is matched, in any order. Matches are
// returned in the order of wants.
func readAll(t *testing.T, conn *websocket.Conn, wants ...want) []inbound {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	got := make([]inbound, len(wants))
	done := make([]bool, len(wants))
	remaining := len(wants)
	for remaining > 0 {
		var msg inbound
		require.NoError(t, conn.ReadJSON(&msg))
		for i, w := range wants {
			if done[i] || msg.Type != w.typ || (w.match != nil && !w.match(msg)) {
				continue
			}
			got[i], done[i] = msg, true
			remaining--
			break
		}
	}
	return got
}

type want struct {
	match func(inbound) bool
	typ   MessageType
}

func result(requestID string) want {
	return want{typ: MsgResult, match: func(m inbound) bool { return m.RequestID == requestID }}
}

func snapshotOf(n int) want {
	return want{typ: MsgSnapshot, match: func(m inbound) bool { return len(kioskIDs(m.Payload)) == n }}
}

func sendCommand(t *testing.T, conn *websocket.Conn, cmd map[string]any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(cmd))
}

func kioskIDs(payload map[string]any) []string {
	raw, _ := payload["kiosks"].([]any)
	ids := make([]string, 0, len(raw))
	for _, k := range raw {
		if m, ok := k.(map[string]any); ok {
			ids = append(ids, m["id"].(string))
		}
	}
	return ids
}

func TestWS_SnapshotOnConnect(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.NoError(t, h.registry.SetDesired(tappy.DeviceDefinition{
		Identity:  tappy.Identity{ID: "front", Name: "Front"},
		Transport: tappy.TransportMock,
	}))
	require.Eventually(t, func() bool { return len(h.registry.Sessions()) == 1 }, waitFor, tick)

	conn := h.dial(t)
	msg := readUntil(t, conn, MsgSnapshot, nil)
	assert.Equal(t, []string{"front"}, kioskIDs(msg.Payload))
	assert.Eventually(t, func() bool { return h.hub.ClientCount() == 1 }, waitFor, tick)
}

func TestWS_ConnectCommandAndEvents(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	conn := h.dial(t)
	readUntil(t, conn, MsgSnapshot, nil)

	sendCommand(t, conn, map[string]any{
		"type":      "connect",
		"requestId": "r1",
		"payload":   map[string]any{"id": "front", "name": "Front", "transport": "mock"},
	})
	got := readAll(t, conn,
		result("r1"),
		snapshotOf(1),
		want{typ: MsgKioskStatus, match: func(m inbound) bool {
			return m.Payload["id"] == "front" && m.Payload["status"] == "connecting"
		}},
	)
	assert.Equal(t, true, got[0].Payload["success"])
	assert.Equal(t, []string{"front"}, kioskIDs(got[1].Payload))

	tr := h.factory.transport(t, "front")

	tr.Respond(tappy.NewPingResponse())
	hb := readUntil(t, conn, MsgHeartbeat, nil)
	assert.Equal(t, "front", hb.Payload["id"])

	tr.Respond(tappy.NewTagFoundResponse(0x06, []byte{0x04, 0xAB}))
	tag := readUntil(t, conn, MsgTagFound, nil)
	assert.Equal(t, "04ab", tag.Payload["uid"])
	assert.EqualValues(t, 6, tag.Payload["tagType"])

	raw, err := ndef.NewMessage(ndef.NewURIRecord("https://example.com"), ndef.NewTextRecord("hi", "en")).Marshal()
	require.NoError(t, err)
	tr.Respond(tappy.NewNdefFoundResponse(0x06, []byte{0x04, 0xAB}, raw))
	found := readUntil(t, conn, MsgNdefFound, nil)
	records, ok := found.Payload["records"].([]any)
	require.True(t, ok)
	require.Len(t, records, 2)
	assert.Equal(t, "https://example.com", records[0].(map[string]any)["uri"])
	assert.Equal(t, "hi", records[1].(map[string]any)["text"])
	assert.Equal(t, "en", records[1].(map[string]any)["language"])
}

func TestWS_DisconnectCommands(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	conn := h.dial(t)
	readUntil(t, conn, MsgSnapshot, nil)

	sendCommand(t, conn, map[string]any{"type": "disconnect", "requestId": "r1", "payload": map[string]any{"id": "nope"}})
	res := readUntil(t, conn, MsgResult, nil)
	assert.Equal(t, false, res.Payload["success"])
	assert.Contains(t, res.Payload["error"], "nope")

	for _, id := range []string{"a", "b"} {
		require.NoError(t, h.registry.SetDesired(tappy.DeviceDefinition{
			Identity:  tappy.Identity{ID: id},
			Transport: tappy.TransportMock,
		}))
	}

	sendCommand(t, conn, map[string]any{"type": "disconnect", "requestId": "r2", "payload": map[string]any{"id": "a"}})
	res = readAll(t, conn, result("r2"))[0]
	assert.Equal(t, true, res.Payload["success"])
	assert.Equal(t, 1, h.registry.DesiredCount())

	sendCommand(t, conn, map[string]any{"type": "disconnectAll", "requestId": "r3"})
	res = readAll(t, conn, result("r3"), snapshotOf(0))[0]
	assert.Equal(t, true, res.Payload["success"])
	assert.Equal(t, 0, h.registry.DesiredCount())
}

func TestWS_BadCommands(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	conn := h.dial(t)
	readUntil(t, conn, MsgSnapshot, nil)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	res := readUntil(t, conn, MsgResult, nil)
	assert.Equal(t, false, res.Payload["success"])

	sendCommand(t, conn, map[string]any{"type": "reboot", "requestId": "r9"})
	res = readUntil(t, conn, MsgResult, nil)
	assert.Equal(t, "r9", res.RequestID)
	assert.Contains(t, res.Payload["error"], "unknown command")

	sendCommand(t, conn, map[string]any{"type": "connect", "requestId": "r10", "payload": map[string]any{"name": "no id"}})
	res = readUntil(t, conn, MsgResult, nil)
	assert.Equal(t, false, res.Payload["success"])
}

func TestREST_Kiosks(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	client := h.ts.Client()

	body, err := json.Marshal(map[string]any{"id": "/dev/ttyUSB0", "name": "Front", "transport": "mock"})
	require.NoError(t, err)
	resp, err := client.Post(h.ts.URL+"/api/kiosks", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, err = client.Post(h.ts.URL+"/api/kiosks", "application/json", strings.NewReader(`{"name":"x"}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	require.Eventually(t, func() bool { return len(h.registry.Sessions()) == 1 }, waitFor, tick)

	resp, err = client.Get(h.ts.URL + "/api/kiosks")
	require.NoError(t, err)
	var list struct {
		Desired []tappy.DeviceDefinition `json:"desired"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	_ = resp.Body.Close()
	require.Len(t, list.Desired, 1)
	assert.Equal(t, "/dev/ttyUSB0", list.Desired[0].ID)
	assert.Equal(t, tappy.TransportMock, list.Desired[0].Transport)

	del := func(id string) int {
		req, reqErr := http.NewRequest(http.MethodDelete, h.ts.URL+"/api/kiosks/"+url.PathEscape(id), http.NoBody)
		require.NoError(t, reqErr)
		r, doErr := client.Do(req)
		require.NoError(t, doErr)
		_ = r.Body.Close()
		return r.StatusCode
	}
	assert.Equal(t, http.StatusNoContent, del("/dev/ttyUSB0"))
	assert.Equal(t, http.StatusNotFound, del("/dev/ttyUSB0"))
	assert.Equal(t, 0, h.registry.DesiredCount())
}

func TestREST_DisconnectAll(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, h.registry.SetDesired(tappy.DeviceDefinition{
			Identity:  tappy.Identity{ID: id},
			Transport: tappy.TransportMock,
		}))
	}

	resp, err := h.ts.Client().Post(h.ts.URL+"/api/kiosks/disconnect-all", "application/json", http.NoBody)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 0, h.registry.DesiredCount())
	assert.Eventually(t, func() bool { return len(h.registry.Sessions()) == 0 }, waitFor, tick)
}

func TestREST_Autolaunch(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	client := h.ts.Client()

	get := func() AutolaunchState {
		resp, err := client.Get(h.ts.URL + "/api/autolaunch")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var state AutolaunchState
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
		return state
	}
	assert.False(t, get().Enabled)

	req, err := http.NewRequest(http.MethodPut, h.ts.URL+"/api/autolaunch", strings.NewReader(`{"enabled":true}`))
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.True(t, get().Enabled)
	assert.True(t, h.launcher.Enabled())
}

func TestREST_AutolaunchUnavailable(t *testing.T) {
	t.Parallel()

	registry := fleet.NewRegistry((&mockFactory{created: map[string]*tappy.MockTransport{}}).New)
	ts := httptest.NewServer(New(registry, NewHub()).Handler())
	t.Cleanup(ts.Close)

	resp, err := ts.Client().Get(ts.URL + "/api/autolaunch")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestREST_Ports(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	resp, err := h.ts.Client().Get(h.ts.URL + "/api/ports")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var ports []usb.PortInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ports))
	require.Len(t, ports, 1)
	assert.Equal(t, "/dev/ttyUSB0", ports[0].Path)
	assert.True(t, ports[0].Likely)

	failing := newHarness(t, WithPortLister(func() ([]usb.PortInfo, error) {
		return nil, errors.New("no sysfs")
	}))
	resp2, err := failing.ts.Client().Get(failing.ts.URL + "/api/ports")
	require.NoError(t, err)
	_ = resp2.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp2.StatusCode)
}
