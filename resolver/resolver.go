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

// Package resolver turns raw Tappy responses into the typed messages the
// kiosk layer acts on.
package resolver

import (
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-tappy"
	"github.com/ZaparooProject/go-tappy/pkg/ndef"
)

// Reasons carried by Unexpected
var (
	ErrUnknownResponse = errors.New("unrecognized response")
	ErrShortPayload    = errors.New("payload too short")
	ErrEmptyNdef       = errors.New("ndef message has no records")
	ErrSystemError     = errors.New("reader reported a system error")
)

// Resolved is one of Ping, Tag, Ndef or Unexpected
type Resolved interface {
	At() time.Time
	resolved()
}

// Ping is a heartbeat answer from the reader
type Ping struct {
	ReceivedAt time.Time
}

// Tag is a tag-found response
type Tag struct {
	ReceivedAt time.Time
	UID        []byte
	TagType    byte
}

// Ndef is an ndef-found response carrying at least one record
type Ndef struct {
	ReceivedAt time.Time
	Message    *ndef.Message
	UID        []byte
	TagType    byte
}

// Unexpected is anything the kiosk does not act on
type Unexpected struct {
	ReceivedAt time.Time
	Reason     error
	Raw        tappy.Message
}

func (p Ping) At() time.Time       { return p.ReceivedAt }
func (t Tag) At() time.Time        { return t.ReceivedAt }
func (n Ndef) At() time.Time       { return n.ReceivedAt }
func (u Unexpected) At() time.Time { return u.ReceivedAt }

func (Ping) resolved()       {}
func (Tag) resolved()        {}
func (Ndef) resolved()       {}
func (Unexpected) resolved() {}

// Resolve classifies msg, stamped with the current time
func Resolve(msg tappy.Message) Resolved {
	return ResolveAt(msg, time.Now())
}

// ResolveAt classifies msg, stamped with now. It never fails: anything that
// cannot be decoded resolves to Unexpected.
func ResolveAt(msg tappy.Message, now time.Time) Resolved {
	switch {
	case msg.IsPing():
		return Ping{ReceivedAt: now}
	case msg.Family == tappy.FamilySystem && msg.Code == tappy.CodeSystemError:
		return unexpected(msg, now, fmt.Errorf("%w: %X", ErrSystemError, msg.Payload))
	case msg.Family == tappy.FamilyBasicNFC && msg.Code == tappy.CodeTagFound:
		return resolveTag(msg, now)
	case msg.Family == tappy.FamilyBasicNFC && msg.Code == tappy.CodeNdefFound:
		return resolveNdef(msg, now)
	default:
		return unexpected(msg, now, ErrUnknownResponse)
	}
}

// tagType | uid...
func resolveTag(msg tappy.Message, now time.Time) Resolved {
	if len(msg.Payload) < 2 {
		return unexpected(msg, now, fmt.Errorf("%w: tag found with %d bytes", ErrShortPayload, len(msg.Payload)))
	}
	return Tag{
		ReceivedAt: now,
		TagType:    msg.Payload[0],
		UID:        append([]byte(nil), msg.Payload[1:]...),
	}
}

// tagType | uidLen | uid... | ndef...
func resolveNdef(msg tappy.Message, now time.Time) Resolved {
	p := msg.Payload
	if len(p) < 2 {
		return unexpected(msg, now, fmt.Errorf("%w: ndef found with %d bytes", ErrShortPayload, len(p)))
	}
	uidEnd := 2 + int(p[1])
	if uidEnd > len(p) {
		return unexpected(msg, now, fmt.Errorf("%w: uid length %d exceeds payload", ErrShortPayload, p[1]))
	}

	parsed, err := ndef.Parse(p[uidEnd:])
	if err != nil {
		if errors.Is(err, ndef.ErrEmptyMessage) {
			return unexpected(msg, now, ErrEmptyNdef)
		}
		return unexpected(msg, now, err)
	}
	if parsed.Len() == 0 {
		return unexpected(msg, now, ErrEmptyNdef)
	}

	return Ndef{
		ReceivedAt: now,
		TagType:    p[0],
		UID:        append([]byte(nil), p[2:uidEnd]...),
		Message:    parsed,
	}
}

func unexpected(msg tappy.Message, now time.Time, reason error) Unexpected {
	return Unexpected{ReceivedAt: now, Reason: reason, Raw: msg.Clone()}
}
