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
	"time"

	"github.com/ZaparooProject/go-tappy"
	"github.com/ZaparooProject/go-tappy/fleet"
	"github.com/ZaparooProject/go-tappy/pkg/ndef"
)

type MessageType string

// Server to client
const (
	MsgSnapshot    MessageType = "snapshot"
	MsgKioskStatus MessageType = "kioskStatus"
	MsgTagFound    MessageType = "tagFound"
	MsgNdefFound   MessageType = "ndefFound"
	MsgHeartbeat   MessageType = "heartbeat"
	MsgResult      MessageType = "result"
)

// Client to server
const (
	MsgConnect       MessageType = "connect"
	MsgDisconnect    MessageType = "disconnect"
	MsgDisconnectAll MessageType = "disconnectAll"
)

// WSMessage is the envelope of every websocket frame
type WSMessage struct {
	Payload   any         `json:"payload,omitempty"`
	Type      MessageType `json:"type"`
	RequestID string      `json:"requestId,omitempty"`
}

// Command is a client request. Payload is decoded per Type.
type Command struct {
	Type      MessageType     `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type DisconnectPayload struct {
	ID string `json:"id"`
}

type ResultPayload struct {
	Error   string `json:"error,omitempty"`
	Success bool   `json:"success"`
}

type KioskInfo struct {
	ID        string              `json:"id"`
	Name      string              `json:"name"`
	Transport tappy.TransportKind `json:"transport"`
	SessionID string              `json:"sessionId"`
	Status    fleet.KioskStatus   `json:"status"`
}

type SnapshotPayload struct {
	Kiosks []KioskInfo `json:"kiosks"`
}

type KioskStatusPayload struct {
	ID        string            `json:"id"`
	SessionID string            `json:"sessionId"`
	Status    fleet.KioskStatus `json:"status"`
}

type TagPayload struct {
	ID      string `json:"id"`
	UID     string `json:"uid"`
	TagType byte   `json:"tagType"`
}

type RecordInfo struct {
	Type     string `json:"type"`
	Payload  string `json:"payload"`
	URI      string `json:"uri,omitempty"`
	Text     string `json:"text,omitempty"`
	Language string `json:"language,omitempty"`
	TNF      byte   `json:"tnf"`
}

type NdefPayload struct {
	ID      string       `json:"id"`
	UID     string       `json:"uid"`
	Records []RecordInfo `json:"records"`
	TagType byte         `json:"tagType"`
}

type HeartbeatPayload struct {
	At time.Time `json:"at"`
	ID string    `json:"id"`
}

// KiosksResponse is the body of GET /api/kiosks
type KiosksResponse struct {
	Desired  []tappy.DeviceDefinition `json:"desired"`
	Sessions []KioskInfo              `json:"sessions"`
}

type AutolaunchState struct {
	Enabled bool `json:"enabled"`
}

func kioskInfo(k *fleet.Kiosk) KioskInfo {
	def := k.Definition()
	return KioskInfo{
		ID:        def.ID,
		Name:      def.Name,
		Transport: def.Transport,
		SessionID: k.SessionID(),
		Status:    k.Status(),
	}
}

func kioskInfos(sessions []*fleet.Kiosk) []KioskInfo {
	out := make([]KioskInfo, len(sessions))
	for i, k := range sessions {
		out[i] = kioskInfo(k)
	}
	return out
}

func recordInfos(msg *ndef.Message) []RecordInfo {
	if msg == nil {
		return []RecordInfo{}
	}
	out := make([]RecordInfo, 0, len(msg.Records))
	for _, r := range msg.Records {
		info := RecordInfo{
			TNF:     r.TNF,
			Type:    r.Type,
			Payload: hex.EncodeToString(r.Payload),
		}
		if uri, ok := r.URI(); ok {
			info.URI = uri
		}
		if text, ok := r.Text(); ok {
			info.Text = text
			_, info.Language, _ = ndef.ParseTextRecord(r.Payload)
		}
		out = append(out, info)
	}
	return out
}
