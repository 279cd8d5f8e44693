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
	"bytes"
	"fmt"
	"time"
)

// Family identifies a TCMP command family
type Family [2]byte

// Command families understood by the kiosk
var (
	FamilySystem   = Family{0x00, 0x00}
	FamilyBasicNFC = Family{0x00, 0x01}
)

// System family command and response codes
const (
	CodeConfigureKioskMode byte = 0x0D
	CodePing               byte = 0xFD
	CodeSystemError        byte = 0x7F
)

// Basic NFC family response codes
const (
	CodeTagFound    byte = 0x01
	CodeNdefFound   byte = 0x02
	CodeScanTimeout byte = 0x03
)

// KioskNoChange leaves a kiosk-mode setting untouched on the reader
const KioskNoChange byte = 0x00

// Message is a decoded TCMP message, either a command or a response
type Message struct {
	Payload []byte
	Family  Family
	Code    byte
}

// Clone returns a deep copy of the message
func (m Message) Clone() Message {
	return Message{
		Family:  m.Family,
		Code:    m.Code,
		Payload: bytes.Clone(m.Payload),
	}
}

// Equal compares two messages including their payload bytes
func (m Message) Equal(other Message) bool {
	return m.Family == other.Family && m.Code == other.Code && bytes.Equal(m.Payload, other.Payload)
}

// IsPing returns true for the system ping command and response
func (m Message) IsPing() bool {
	return m.Family == FamilySystem && m.Code == CodePing
}

func (m Message) String() string {
	return fmt.Sprintf("family=%02X%02X code=0x%02X payload=%X", m.Family[0], m.Family[1], m.Code, m.Payload)
}

// NewPingCommand builds the heartbeat probe
func NewPingCommand() Message {
	return Message{Family: FamilySystem, Code: CodePing}
}

// NewPingResponse builds the reader's answer to a ping
func NewPingResponse() Message {
	return Message{Family: FamilySystem, Code: CodePing}
}

// NewConfigureKioskModeCommand builds the kiosk configuration command.
// Pass KioskNoChange for every setting that should keep its current value.
func NewConfigureKioskModeCommand(polling, ndef, heartbeatPeriodSec, scanErrors byte) Message {
	return Message{
		Family:  FamilySystem,
		Code:    CodeConfigureKioskMode,
		Payload: []byte{polling, ndef, heartbeatPeriodSec, scanErrors},
	}
}

// HeartbeatPeriodByte converts a send interval into the one-byte seconds
// field of the configure command, clamped to 1..255.
func HeartbeatPeriodByte(interval time.Duration) byte {
	secs := int64(interval / time.Second)
	switch {
	case secs < 1:
		return 1
	case secs > 0xFF:
		return 0xFF
	default:
		return byte(secs)
	}
}

// NewTagFoundResponse builds a tag-found response: tagType followed by the UID
func NewTagFoundResponse(tagType byte, uid []byte) Message {
	payload := make([]byte, 0, 1+len(uid))
	payload = append(payload, tagType)
	payload = append(payload, uid...)
	return Message{Family: FamilyBasicNFC, Code: CodeTagFound, Payload: payload}
}

// NewNdefFoundResponse builds an ndef-found response:
// tagType, UID length, UID, then the raw NDEF message.
func NewNdefFoundResponse(tagType byte, uid, ndef []byte) Message {
	payload := make([]byte, 0, 2+len(uid)+len(ndef))
	payload = append(payload, tagType, byte(len(uid)))
	payload = append(payload, uid...)
	payload = append(payload, ndef...)
	return Message{Family: FamilyBasicNFC, Code: CodeNdefFound, Payload: payload}
}
