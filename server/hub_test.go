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
	"encoding/json"
	"testing"

	"github.com/ZaparooProject/go-tappy/pkg/ndef"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubClient registers a client with no connection or write pump
func stubClient(h *Hub, queue int) *client {
	c := &client{id: "stub", send: make(chan []byte, queue)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func TestHub_DropsSlowClient(t *testing.T) {
	t.Parallel()

	h := NewHub()
	slow := stubClient(h, 1)
	fast := stubClient(h, 8)

	h.broadcast(WSMessage{Type: MsgHeartbeat})
	h.broadcast(WSMessage{Type: MsgHeartbeat})

	assert.Equal(t, 1, h.ClientCount())
	h.mu.RLock()
	_, fastLive := h.clients[fast]
	h.mu.RUnlock()
	assert.True(t, fastLive)
	assert.Len(t, fast.send, 2)

	// the slow client's queue was closed after its one message
	<-slow.send
	_, open := <-slow.send
	assert.False(t, open)

	h.RemoveClient(slow)
	h.CloseAll()
	assert.Equal(t, 0, h.ClientCount())
}

func TestRecordInfos(t *testing.T) {
	t.Parallel()

	msg := ndef.NewMessage(
		ndef.NewURIRecord("https://zaparoo.org"),
		ndef.NewTextRecord("hello", "de"),
		&ndef.Record{TNF: ndef.TNFMedia, Type: "text/plain", Payload: []byte{0xCA, 0xFE}},
	)
	infos := recordInfos(msg)
	require.Len(t, infos, 3)

	assert.Equal(t, "https://zaparoo.org", infos[0].URI)
	assert.Empty(t, infos[0].Text)

	assert.Equal(t, "hello", infos[1].Text)
	assert.Equal(t, "de", infos[1].Language)
	assert.Empty(t, infos[1].URI)

	assert.Equal(t, "cafe", infos[2].Payload)
	assert.Equal(t, ndef.TNFMedia, infos[2].TNF)

	assert.Empty(t, recordInfos(nil))

	data, err := json.Marshal(WSMessage{Type: MsgNdefFound, Payload: NdefPayload{ID: "k", Records: infos}})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"ndefFound"`)
}
