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

package server

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/ZaparooProject/go-tappy"
	"github.com/grandcat/zeroconf"
)

const (
	// MDNSService is the advertised service type
	MDNSService = "_tappy-kiosk._tcp"
	// MDNSDomain is the mDNS domain
	MDNSDomain = "local."
	// protocolVersion is published in the TXT record
	protocolVersion = "1"
)

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error)

// register is replaced in tests
var register registerFunc = zeroconf.Register

// Advertiser publishes the server over mDNS
type Advertiser struct {
	server *zeroconf.Server
}

// Advertise registers instance on port with the websocket path in its TXT
// record
func Advertise(instance string, port int) (*Advertiser, error) {
	if strings.TrimSpace(instance) == "" {
		return nil, errors.New("instance name is required")
	}
	if port <= 0 {
		return nil, errors.New("port must be > 0")
	}

	txt := []string{
		"version=" + protocolVersion,
		"path=/ws",
	}
	server, err := register(instance, MDNSService, MDNSDomain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("register mDNS service: %w", err)
	}
	tappy.Debugf("mdns: advertising %q as %s on port %d", instance, MDNSService, port)
	return &Advertiser{server: server}, nil
}

// Stop withdraws the advertisement
func (a *Advertiser) Stop() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
}
