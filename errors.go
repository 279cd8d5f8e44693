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
	"errors"
	"fmt"
)

// Error categories shared by transports and the kiosk layer
var (
	// Transport errors
	ErrTransportClosed      = errors.New("transport is closed")
	ErrTransportNotReady    = errors.New("transport not ready")
	ErrTransportWrite       = errors.New("transport write failed")
	ErrTransportRead        = errors.New("transport read failed")
	ErrTransportOpen        = errors.New("transport open failed")
	ErrUnsupportedTransport = errors.New("unsupported transport type")

	// Frame errors
	ErrInvalidFrame     = errors.New("invalid frame")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrFrameTooLarge    = errors.New("frame too large")
)

// TransportError wraps transport-level errors with additional context
type TransportError struct {
	Err  error  // Underlying error
	Op   string // Operation that failed
	Port string // Port or device identifier
}

func (e *TransportError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Port, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err came from a transport
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsClosed reports whether err means the link is gone for good
func IsClosed(err error) bool {
	return errors.Is(err, ErrTransportClosed)
}
