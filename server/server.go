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

// Package server exposes the kiosk fleet over HTTP and a websocket event
// stream, and advertises itself over mDNS.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/ZaparooProject/go-tappy"
	"github.com/ZaparooProject/go-tappy/autolaunch"
	"github.com/ZaparooProject/go-tappy/fleet"
	"github.com/ZaparooProject/go-tappy/transport/usb"
	"github.com/gorilla/websocket"
)

// maxBodySize bounds request bodies and incoming websocket frames
const maxBodySize = 64 * 1024

var errAutolaunchUnavailable = errors.New("autolaunch not available")

// PortLister enumerates serial ports a reader may be attached to
type PortLister func() ([]usb.PortInfo, error)

// Option configures a Server
type Option func(*Server)

// WithLauncher exposes l on /api/autolaunch
func WithLauncher(l *autolaunch.Launcher) Option {
	return func(s *Server) {
		s.launcher = l
	}
}

// WithPortLister replaces usb.ListPorts for /api/ports
func WithPortLister(fn PortLister) Option {
	return func(s *Server) {
		s.listPorts = fn
	}
}

// WithCheckOrigin sets the websocket origin check. The default accepts all
// origins.
func WithCheckOrigin(fn func(*http.Request) bool) Option {
	return func(s *Server) {
		s.upgrader.CheckOrigin = fn
	}
}

type Server struct {
	registry  *fleet.Registry
	hub       *Hub
	launcher  *autolaunch.Launcher
	listPorts PortLister
	upgrader  websocket.Upgrader
}

// New creates a server for registry. hub must already be attached to it.
func New(registry *fleet.Registry, hub *Hub, opts ...Option) *Server {
	s := &Server{
		registry:  registry,
		hub:       hub,
		listPorts: usb.ListPorts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetupRoutes registers every endpoint on mux
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /api/kiosks", s.handleListKiosks)
	mux.HandleFunc("POST /api/kiosks", s.handleConnect)
	mux.HandleFunc("POST /api/kiosks/disconnect-all", s.handleDisconnectAll)
	mux.HandleFunc("DELETE /api/kiosks/{id...}", s.handleDisconnect)
	mux.HandleFunc("GET /api/autolaunch", s.handleGetAutolaunch)
	mux.HandleFunc("PUT /api/autolaunch", s.handlePutAutolaunch)
	mux.HandleFunc("GET /api/ports", s.handlePorts)
}

// Handler returns a mux with every endpoint registered
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	conn.SetReadLimit(maxBodySize)

	c := s.hub.AddClient(conn)
	log.Printf("WebSocket client %s connected: %s", c.id, r.RemoteAddr)

	go func() {
		defer func() {
			s.hub.RemoveClient(c)
			log.Printf("WebSocket client %s disconnected", c.id)
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.handleCommand(c, data)
		}
	}()
}

// handleCommand runs one client command and queues its result
func (s *Server) handleCommand(c *client, data []byte) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		s.reply(c, "", fmt.Errorf("invalid command: %w", err))
		return
	}

	var err error
	switch cmd.Type {
	case MsgConnect:
		var def tappy.DeviceDefinition
		if err = json.Unmarshal(cmd.Payload, &def); err == nil {
			err = s.connect(def)
		}
	case MsgDisconnect:
		var p DisconnectPayload
		if err = json.Unmarshal(cmd.Payload, &p); err == nil {
			err = s.registry.RemoveDesired(p.ID)
		}
	case MsgDisconnectAll:
		s.registry.DisconnectAll()
	default:
		err = fmt.Errorf("unknown command %q", cmd.Type)
	}
	s.reply(c, cmd.RequestID, err)
}

func (s *Server) reply(c *client, requestID string, err error) {
	result := ResultPayload{Success: err == nil}
	if err != nil {
		result.Error = err.Error()
	}
	if data, ok := encode(WSMessage{Type: MsgResult, RequestID: requestID, Payload: result}); ok {
		s.hub.sendTo(c, data)
	}
}

func (s *Server) connect(def tappy.DeviceDefinition) error {
	if def.Transport == "" {
		def.Transport = tappy.TransportUSB
	}
	return s.registry.SetDesired(def)
}

func (s *Server) handleListKiosks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, KiosksResponse{
		Desired:  s.registry.Desired(),
		Sessions: kioskInfos(s.registry.Sessions()),
	})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var def tappy.DeviceDefinition
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&def); err != nil {
		http.Error(w, "invalid device definition", http.StatusBadRequest)
		return
	}
	if err := s.connect(def); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, def)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.RemoveDesired(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDisconnectAll(w http.ResponseWriter, _ *http.Request) {
	s.registry.DisconnectAll()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetAutolaunch(w http.ResponseWriter, _ *http.Request) {
	if s.launcher == nil {
		writeError(w, errAutolaunchUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, AutolaunchState{Enabled: s.launcher.Enabled()})
}

func (s *Server) handlePutAutolaunch(w http.ResponseWriter, r *http.Request) {
	if s.launcher == nil {
		writeError(w, errAutolaunchUnavailable)
		return
	}
	var state AutolaunchState
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&state); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	s.launcher.SetEnabled(state.Enabled)
	writeJSON(w, http.StatusOK, AutolaunchState{Enabled: s.launcher.Enabled()})
}

func (s *Server) handlePorts(w http.ResponseWriter, _ *http.Request) {
	ports, err := s.listPorts()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, ports)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		tappy.Debugf("http: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, fleet.ErrInvalidDefinition):
		status = http.StatusBadRequest
	case errors.Is(err, fleet.ErrUnknownKiosk):
		status = http.StatusNotFound
	case errors.Is(err, fleet.ErrRegistryClosed), errors.Is(err, errAutolaunchUnavailable):
		status = http.StatusServiceUnavailable
	}
	http.Error(w, err.Error(), status)
}
