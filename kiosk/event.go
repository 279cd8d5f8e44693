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
	"bytes"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-tappy"
	"github.com/ZaparooProject/go-tappy/pkg/ndef"
	"github.com/ZaparooProject/go-tappy/resolver"
)

// EventKind identifies what happened to a session
type EventKind int

const (
	EventRequestInitialize EventKind = iota
	EventRequestClose
	EventSendHeartbeat
	EventCheckHeartbeat
	EventHeartbeatFailed
	EventHeartbeatGood
	EventHeartbeatDrivenClose
	EventErrorDrivenClose
	EventTappyDisconnected
	EventTransportStatusChanged
	EventReceivedPing
	EventReceivedTag
	EventReceivedNdef
	EventReceivedUnexpectedResponse

	// eventWaitIdle is a test marker that completes once the queue drains
	eventWaitIdle
)

var eventNames = map[EventKind]string{
	EventRequestInitialize:          "RequestInitialize",
	EventRequestClose:               "RequestClose",
	EventSendHeartbeat:              "SendHeartbeat",
	EventCheckHeartbeat:             "CheckHeartbeat",
	EventHeartbeatFailed:            "HeartbeatFailed",
	EventHeartbeatGood:              "HeartbeatGood",
	EventHeartbeatDrivenClose:       "HeartbeatDrivenClose",
	EventErrorDrivenClose:           "ErrorDrivenClose",
	EventTappyDisconnected:          "TappyDisconnected",
	EventTransportStatusChanged:     "TransportStatusChanged",
	EventReceivedPing:               "ReceivedPing",
	EventReceivedTag:                "ReceivedTag",
	EventReceivedNdef:               "ReceivedNdef",
	EventReceivedUnexpectedResponse: "ReceivedUnexpectedResponse",
	eventWaitIdle:                   "waitIdle",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is an immutable input to the session state machine. Only the fields
// relevant to Kind are set.
type Event struct {
	At              time.Time
	Ndef            *ndef.Message
	idle            chan struct{}
	UID             []byte
	Kind            EventKind
	timerGen        uint64
	TransportStatus tappy.TransportStatus
	TagType         byte
}

func (e Event) String() string {
	switch e.Kind {
	case EventTransportStatusChanged:
		return fmt.Sprintf("%s(%s)", e.Kind, e.TransportStatus)
	case EventReceivedTag, EventReceivedNdef:
		return fmt.Sprintf("%s(uid=%X type=0x%02X)", e.Kind, e.UID, e.TagType)
	default:
		return e.Kind.String()
	}
}

func simpleEvent(kind EventKind) Event {
	return Event{Kind: kind}
}

// TransportStatusChanged reports a link status change observed at at
func TransportStatusChanged(status tappy.TransportStatus, at time.Time) Event {
	return Event{Kind: EventTransportStatusChanged, TransportStatus: status, At: at}
}

// ReceivedPing reports a heartbeat answer
func ReceivedPing(at time.Time) Event {
	return Event{Kind: EventReceivedPing, At: at}
}

// ReceivedTag reports a tag-found response
func ReceivedTag(uid []byte, tagType byte, at time.Time) Event {
	return Event{Kind: EventReceivedTag, UID: bytes.Clone(uid), TagType: tagType, At: at}
}

// ReceivedNdef reports an ndef-found response
func ReceivedNdef(uid []byte, tagType byte, msg *ndef.Message, at time.Time) Event {
	return Event{Kind: EventReceivedNdef, UID: bytes.Clone(uid), TagType: tagType, Ndef: msg, At: at}
}

// ReceivedUnexpectedResponse reports a response the session ignores
func ReceivedUnexpectedResponse(at time.Time) Event {
	return Event{Kind: EventReceivedUnexpectedResponse, At: at}
}

// EventFromResolved maps a resolved response to its session event
func EventFromResolved(r resolver.Resolved) Event {
	switch v := r.(type) {
	case resolver.Ping:
		return ReceivedPing(v.ReceivedAt)
	case resolver.Tag:
		return ReceivedTag(v.UID, v.TagType, v.ReceivedAt)
	case resolver.Ndef:
		return ReceivedNdef(v.UID, v.TagType, v.Message, v.ReceivedAt)
	default:
		return ReceivedUnexpectedResponse(r.At())
	}
}

// EventsEqual compares two events field by field, including byte slices
// and NDEF records
func EventsEqual(a, b Event) bool {
	if a.Kind != b.Kind || !a.At.Equal(b.At) || a.TransportStatus != b.TransportStatus ||
		a.TagType != b.TagType || !bytes.Equal(a.UID, b.UID) {
		return false
	}
	if a.Ndef == nil || b.Ndef == nil {
		return a.Ndef == b.Ndef
	}
	return a.Ndef.Equal(b.Ndef)
}
