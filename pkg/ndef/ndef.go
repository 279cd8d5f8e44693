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

// Package ndef decodes and encodes NFC Forum NDEF messages as delivered by
// Tappy ndef-found responses.
package ndef

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// TNF (Type Name Format) values as defined by NFC Forum.
const (
	TNFEmpty       byte = 0x00
	TNFWellKnown   byte = 0x01
	TNFMedia       byte = 0x02
	TNFAbsoluteURI byte = 0x03
	TNFExternal    byte = 0x04
	TNFUnknown     byte = 0x05
	TNFUnchanged   byte = 0x06
	TNFReserved    byte = 0x07
)

const (
	tnfMask     byte = 0x07
	flagMB      byte = 0x80
	flagME      byte = 0x40
	flagCF      byte = 0x20
	flagSR      byte = 0x10
	flagIL      byte = 0x08
	shortMaxLen      = 0xFF
)

// Common errors.
var (
	ErrEmptyMessage    = errors.New("ndef: empty message")
	ErrTruncatedRecord = errors.New("ndef: truncated record data")
	ErrInvalidTNF      = errors.New("ndef: invalid TNF value")
	ErrChunkedRecord   = errors.New("ndef: chunked records not supported")
	ErrTrailingData    = errors.New("ndef: trailing data after message end")
	ErrFieldTooLong    = errors.New("ndef: type or id longer than 255 bytes")
)

// Record is a single NDEF record.
type Record struct {
	Type    string
	ID      string
	Payload []byte
	TNF     byte
}

// Message is an ordered list of records.
type Message struct {
	Records []*Record
}

// NewMessage builds a message from records.
func NewMessage(records ...*Record) *Message {
	return &Message{Records: records}
}

// Parse decodes a complete NDEF message. The record walk stops at the record
// carrying the ME flag; bytes left after it are an error.
func Parse(data []byte) (*Message, error) {
	if len(data) == 0 {
		return nil, ErrEmptyMessage
	}

	msg := &Message{}
	offset := 0
	for offset < len(data) {
		rec, n, last, err := parseRecord(data[offset:])
		if err != nil {
			return nil, fmt.Errorf("record %d at offset %d: %w", len(msg.Records), offset, err)
		}
		msg.Records = append(msg.Records, rec)
		offset += n
		if last {
			break
		}
	}

	if offset != len(data) {
		return nil, ErrTrailingData
	}
	return msg, nil
}

func parseRecord(data []byte) (rec *Record, consumed int, last bool, err error) {
	if len(data) < 3 {
		return nil, 0, false, ErrTruncatedRecord
	}

	flags := data[0]
	if flags&flagCF != 0 {
		return nil, 0, false, ErrChunkedRecord
	}
	tnf := flags & tnfMask
	if tnf > TNFUnchanged {
		return nil, 0, false, ErrInvalidTNF
	}

	typeLen := int(data[1])
	offset := 2

	var payloadLen int
	if flags&flagSR != 0 {
		payloadLen = int(data[offset])
		offset++
	} else {
		if offset+4 > len(data) {
			return nil, 0, false, ErrTruncatedRecord
		}
		payloadLen = int(binary.BigEndian.Uint32(data[offset : offset+4]))
		offset += 4
	}

	idLen := 0
	if flags&flagIL != 0 {
		if offset >= len(data) {
			return nil, 0, false, ErrTruncatedRecord
		}
		idLen = int(data[offset])
		offset++
	}

	// payloadLen comes off the wire as a uint32; compare without overflowing
	remaining := len(data) - offset
	if typeLen+idLen > remaining || payloadLen < 0 || payloadLen > remaining-typeLen-idLen {
		return nil, 0, false, ErrTruncatedRecord
	}

	rec = &Record{TNF: tnf}
	rec.Type = string(data[offset : offset+typeLen])
	offset += typeLen
	rec.ID = string(data[offset : offset+idLen])
	offset += idLen
	rec.Payload = bytes.Clone(data[offset : offset+payloadLen])
	offset += payloadLen

	return rec, offset, flags&flagME != 0, nil
}

// Marshal encodes the message, setting MB on the first and ME on the last record.
func (m *Message) Marshal() ([]byte, error) {
	if m == nil || len(m.Records) == 0 {
		return nil, ErrEmptyMessage
	}

	var buf bytes.Buffer
	for i, rec := range m.Records {
		if rec.TNF > TNFReserved {
			return nil, fmt.Errorf("record %d: %w", i, ErrInvalidTNF)
		}
		if len(rec.Type) > shortMaxLen || len(rec.ID) > shortMaxLen {
			return nil, fmt.Errorf("record %d: %w", i, ErrFieldTooLong)
		}

		flags := rec.TNF & tnfMask
		if i == 0 {
			flags |= flagMB
		}
		if i == len(m.Records)-1 {
			flags |= flagME
		}
		short := len(rec.Payload) <= shortMaxLen
		if short {
			flags |= flagSR
		}
		if rec.ID != "" {
			flags |= flagIL
		}

		buf.WriteByte(flags)
		buf.WriteByte(byte(len(rec.Type)))
		if short {
			buf.WriteByte(byte(len(rec.Payload)))
		} else {
			var lenBytes [4]byte
			//nolint:gosec // payload length checked > 255 and comes from len()
			binary.BigEndian.PutUint32(lenBytes[:], uint32(len(rec.Payload)))
			buf.Write(lenBytes[:])
		}
		if rec.ID != "" {
			buf.WriteByte(byte(len(rec.ID)))
		}
		buf.WriteString(rec.Type)
		buf.WriteString(rec.ID)
		buf.Write(rec.Payload)
	}
	return buf.Bytes(), nil
}

// Len returns the number of records, treating a nil message as empty.
func (m *Message) Len() int {
	if m == nil {
		return 0
	}
	return len(m.Records)
}

// First returns the first record, or nil for an empty message.
func (m *Message) First() *Record {
	if m.Len() == 0 {
		return nil
	}
	return m.Records[0]
}

// Equal compares two messages record by record.
func (m *Message) Equal(other *Message) bool {
	if m.Len() != other.Len() {
		return false
	}
	for i := range m.Len() {
		a, b := m.Records[i], other.Records[i]
		if a.TNF != b.TNF || a.Type != b.Type || a.ID != b.ID || !bytes.Equal(a.Payload, b.Payload) {
			return false
		}
	}
	return true
}

// IsWellKnown reports whether the record is an NFC Forum well-known type t.
func (r *Record) IsWellKnown(t string) bool {
	return r != nil && r.TNF == TNFWellKnown && r.Type == t
}
