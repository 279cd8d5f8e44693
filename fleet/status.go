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

package fleet

import (
	"fmt"

	"github.com/ZaparooProject/go-tappy/kiosk"
)

// KioskStatus is the coarse status shown to users
type KioskStatus int

const (
	KioskUnknown KioskStatus = iota
	KioskConnecting
	KioskHeartbeatGood
	KioskHeartbeatFailure
	KioskDisconnecting
	KioskClosed
)

func (s KioskStatus) String() string {
	switch s {
	case KioskUnknown:
		return "unknown"
	case KioskConnecting:
		return "connecting"
	case KioskHeartbeatGood:
		return "heartbeat_good"
	case KioskHeartbeatFailure:
		return "heartbeat_failure"
	case KioskDisconnecting:
		return "disconnecting"
	case KioskClosed:
		return "closed"
	default:
		return fmt.Sprintf("KioskStatus(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler
func (s KioskStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func coarseStatus(s kiosk.Status) KioskStatus {
	switch s {
	case kiosk.StatusInitializing:
		return KioskConnecting
	case kiosk.StatusHealthy:
		return KioskHeartbeatGood
	case kiosk.StatusHeartbeatFailure:
		return KioskHeartbeatFailure
	case kiosk.StatusClosing:
		return KioskDisconnecting
	case kiosk.StatusClosed:
		return KioskClosed
	default:
		return KioskUnknown
	}
}
