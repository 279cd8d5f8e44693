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

// TransportKind names the link a reader is reached over
type TransportKind string

const (
	// TransportUSB represents a USB serial link
	TransportUSB TransportKind = "usb"
	// TransportBLE represents a Bluetooth Low Energy link
	TransportBLE TransportKind = "ble"
	// TransportMock represents a mock transport for testing
	TransportMock TransportKind = "mock"
)

// Identity is the stable key of a physical reader
type Identity struct {
	// ID is the BLE address or serial port path
	ID string `json:"id" yaml:"id"`
	// Name is shown to users
	Name string `json:"name" yaml:"name"`
}

func (i Identity) String() string {
	if i.Name == "" || i.Name == i.ID {
		return i.ID
	}
	return i.Name + " (" + i.ID + ")"
}

// DeviceDefinition describes a reader the user wants connected
type DeviceDefinition struct {
	Identity  `yaml:",inline"`
	Transport TransportKind `json:"transport" yaml:"transport"`
	// Path is the serial port for USB readers. Defaults to Identity.ID.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// PortPath returns Path, falling back to the identity ID
func (d DeviceDefinition) PortPath() string {
	if d.Path != "" {
		return d.Path
	}
	return d.ID
}
