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
	"encoding/hex"
	"encoding/json"
	"log"
	"time"

	"github.com/ZaparooProject/go-tappy"
	"github.com/ZaparooProject/go-tappy/fleet"
	"github.com/ZaparooProject/go-tappy/internal/syncutil"
	"github.com/ZaparooProject/go-tappy/pkg/ndef"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	sendQueueSize = 64
	writeWait     = 10 * time.Second
)

type client struct {
	conn *websocket.Conn
	send chan []byte
	id   string
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendQueueSize),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer func() { _ = c.conn.Close() }()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			tappy.Debugf("ws %s: write: %v", c.id, err)
			return
		}
	}
}

// Hub fans fleet activity out to websocket clients. It is installed as a
// fleet.EventSink and attached to the registry for snapshots.
type Hub struct {
	registry *fleet.Registry
	clients  map[*client]struct{}
	watched  map[*fleet.Kiosk]struct{}
	mu       syncutil.RWMutex
	watchMu  syncutil.Mutex
}

var (
	_ fleet.EventSink         = (*Hub)(nil)
	_ fleet.SnapshotListener  = (*Hub)(nil)
	_ fleet.StatusListener    = (*Hub)(nil)
	_ fleet.HeartbeatListener = (*Hub)(nil)
)

// NewHub creates a hub with no clients
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		watched: make(map[*fleet.Kiosk]struct{}),
	}
}

// Attach subscribes the hub to r's session snapshots
func (h *Hub) Attach(r *fleet.Registry) {
	h.mu.Lock()
	h.registry = r
	h.mu.Unlock()
	r.AddSnapshotListener(h, true)
}

// Detach stops watching the registry and every kiosk
func (h *Hub) Detach() {
	h.mu.Lock()
	r := h.registry
	h.registry = nil
	h.mu.Unlock()
	if r != nil {
		r.RemoveSnapshotListener(h)
	}
	h.OnSessionsChanged(nil)
}

// AddClient registers conn and queues the current snapshot for it
func (h *Hub) AddClient(conn *websocket.Conn) *client {
	c := newClient(conn)

	h.mu.Lock()
	h.clients[c] = struct{}{}
	r := h.registry
	h.mu.Unlock()

	var sessions []*fleet.Kiosk
	if r != nil {
		sessions = r.Sessions()
	}
	if data, ok := encode(WSMessage{Type: MsgSnapshot, Payload: SnapshotPayload{Kiosks: kioskInfos(sessions)}}); ok {
		h.sendTo(c, data)
	}
	return c
}

// RemoveClient unregisters c and stops its write pump
func (h *Hub) RemoveClient(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll disconnects every client
func (h *Hub) CloseAll() {
	h.mu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// OnSessionsChanged implements fleet.SnapshotListener. New kiosks are
// watched for status and heartbeats, departed ones are released.
func (h *Hub) OnSessionsChanged(sessions []*fleet.Kiosk) {
	current := make(map[*fleet.Kiosk]struct{}, len(sessions))
	for _, k := range sessions {
		current[k] = struct{}{}
	}

	h.watchMu.Lock()
	var added, removed []*fleet.Kiosk
	for k := range h.watched {
		if _, ok := current[k]; !ok {
			removed = append(removed, k)
			delete(h.watched, k)
		}
	}
	for _, k := range sessions {
		if _, ok := h.watched[k]; !ok {
			added = append(added, k)
			h.watched[k] = struct{}{}
		}
	}
	h.watchMu.Unlock()

	for _, k := range removed {
		k.RemoveStatusListener(h)
		k.RemoveHeartbeatListener(h)
	}

	h.broadcast(WSMessage{Type: MsgSnapshot, Payload: SnapshotPayload{Kiosks: kioskInfos(sessions)}})

	for _, k := range added {
		k.AddHeartbeatListener(h)
		k.AddStatusListener(h)
	}
}

// OnKioskStatus implements fleet.StatusListener
func (h *Hub) OnKioskStatus(k *fleet.Kiosk, status fleet.KioskStatus) {
	h.broadcast(WSMessage{Type: MsgKioskStatus, Payload: KioskStatusPayload{
		ID:        k.ID(),
		SessionID: k.SessionID(),
		Status:    status,
	}})
}

// OnKioskHeartbeat implements fleet.HeartbeatListener
func (h *Hub) OnKioskHeartbeat(k *fleet.Kiosk, at time.Time) {
	h.broadcast(WSMessage{Type: MsgHeartbeat, Payload: HeartbeatPayload{ID: k.ID(), At: at}})
}

// OnTagRead implements fleet.EventSink
func (h *Hub) OnTagRead(k *fleet.Kiosk, uid []byte, tagType byte) {
	h.broadcast(WSMessage{Type: MsgTagFound, Payload: TagPayload{
		ID:      k.ID(),
		UID:     hex.EncodeToString(uid),
		TagType: tagType,
	}})
}

// OnNdefRead implements fleet.EventSink
func (h *Hub) OnNdefRead(k *fleet.Kiosk, uid []byte, tagType byte, msg *ndef.Message) {
	h.broadcast(WSMessage{Type: MsgNdefFound, Payload: NdefPayload{
		ID:      k.ID(),
		UID:     hex.EncodeToString(uid),
		TagType: tagType,
		Records: recordInfos(msg),
	}})
}

func encode(msg WSMessage) ([]byte, bool) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("broadcast marshal error: %v", err)
		return nil, false
	}
	return data, true
}

func (h *Hub) broadcast(msg WSMessage) {
	data, ok := encode(msg)
	if !ok {
		return
	}

	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.sendTo(c, data)
	}
}

// sendTo queues data for c, dropping the client if its queue is full
func (h *Hub) sendTo(c *client, data []byte) {
	h.mu.RLock()
	_, live := h.clients[c]
	if live {
		select {
		case c.send <- data:
			h.mu.RUnlock()
			return
		default:
		}
	}
	h.mu.RUnlock()

	if live {
		log.Printf("ws client %s too slow, disconnecting", c.id)
		h.RemoveClient(c)
	}
}
