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

import "fmt"

// Status is the externally visible state of a session
type Status int32

const (
	StatusUninitialized Status = iota
	StatusInitializing
	StatusHealthy
	StatusHeartbeatFailure
	StatusClosing
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusInitializing:
		return "initializing"
	case StatusHealthy:
		return "healthy"
	case StatusHeartbeatFailure:
		return "heartbeat failure"
	case StatusClosing:
		return "closing"
	case StatusClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// IsTerminal reports whether no further transitions can follow
func (s Status) IsTerminal() bool {
	return s == StatusClosed
}
