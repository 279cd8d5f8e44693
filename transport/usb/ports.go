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

package usb

import (
	"fmt"
	"sort"
	"strings"

	"go.bug.st/serial/enumerator"
)

// knownVIDPIDs are USB-serial bridges found in Tappy readers
var knownVIDPIDs = []string{
	"0403:6015", // FTDI FT230X
	"0403:6001", // FTDI FT232
	"10C4:EA60", // Silicon Labs CP210x
}

// PortInfo describes a serial port that may have a reader attached
type PortInfo struct {
	Path         string `json:"path"`
	VIDPID       string `json:"vidPid,omitempty"`
	SerialNumber string `json:"serialNumber,omitempty"`
	Product      string `json:"product,omitempty"`
	IsUSB        bool   `json:"isUsb"`
	Likely       bool   `json:"likely"`
}

// enumerate is replaced in tests
var enumerate = enumerator.GetDetailedPortsList

// ListPorts returns the serial ports on this machine, likely readers first
func ListPorts() ([]PortInfo, error) {
	details, err := enumerate()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		if d == nil {
			continue
		}
		info := PortInfo{
			Path:         d.Name,
			IsUSB:        d.IsUSB,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		}
		if d.IsUSB {
			info.VIDPID = strings.ToUpper(d.VID + ":" + d.PID)
		}
		info.Likely = isLikelyTappy(&info)
		ports = append(ports, info)
	}

	sort.SliceStable(ports, func(i, j int) bool {
		if ports[i].Likely != ports[j].Likely {
			return ports[i].Likely
		}
		return ports[i].Path < ports[j].Path
	})
	return ports, nil
}

func isLikelyTappy(p *PortInfo) bool {
	if !p.IsUSB {
		return false
	}
	for _, known := range knownVIDPIDs {
		if p.VIDPID == known {
			return true
		}
	}
	product := strings.ToLower(p.Product)
	return strings.Contains(product, "tappy") || strings.Contains(product, "taptrack")
}
