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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewConfigureKioskModeCommand(t *testing.T) {
	t.Parallel()

	msg := NewConfigureKioskModeCommand(KioskNoChange, KioskNoChange, 15, KioskNoChange)

	assert.Equal(t, FamilySystem, msg.Family)
	assert.Equal(t, CodeConfigureKioskMode, msg.Code)
	assert.Equal(t, []byte{0x00, 0x00, 15, 0x00}, msg.Payload)
}

func TestHeartbeatPeriodByte(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		interval time.Duration
		want     byte
	}{
		{name: "default interval", interval: 15 * time.Second, want: 15},
		{name: "sub-second clamps up", interval: 200 * time.Millisecond, want: 1},
		{name: "fractional truncates", interval: 2500 * time.Millisecond, want: 2},
		{name: "large clamps down", interval: time.Hour, want: 0xFF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, HeartbeatPeriodByte(tt.interval))
		})
	}
}

func TestMessage_CloneAndEqual(t *testing.T) {
	t.Parallel()

	orig := NewTagFoundResponse(0x03, []byte{0x04, 0xA1, 0xB2})
	clone := orig.Clone()
	assert.True(t, orig.Equal(clone))

	clone.Payload[1] = 0xFF
	assert.False(t, orig.Equal(clone), "clone must not share payload memory")
	assert.Equal(t, byte(0x04), orig.Payload[1])
}

func TestNewNdefFoundResponse_Layout(t *testing.T) {
	t.Parallel()

	msg := NewNdefFoundResponse(0x02, []byte{0x01, 0x02}, []byte{0xD1, 0x01, 0x00, 0x54})

	assert.Equal(t, FamilyBasicNFC, msg.Family)
	assert.Equal(t, CodeNdefFound, msg.Code)
	assert.Equal(t, []byte{0x02, 0x02, 0x01, 0x02, 0xD1, 0x01, 0x00, 0x54}, msg.Payload)
}

func TestMessage_IsPing(t *testing.T) {
	t.Parallel()

	assert.True(t, NewPingCommand().IsPing())
	assert.True(t, NewPingResponse().IsPing())
	assert.False(t, NewTagFoundResponse(0x01, nil).IsPing())
	assert.False(t, Message{Family: FamilyBasicNFC, Code: CodePing}.IsPing())
}
