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

package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ZaparooProject/go-tappy"
	"github.com/ZaparooProject/go-tappy/autolaunch"
	"github.com/ZaparooProject/go-tappy/config"
	"github.com/ZaparooProject/go-tappy/fleet"
	"github.com/ZaparooProject/go-tappy/pkg/ndef"
	"github.com/ZaparooProject/go-tappy/server"
	"github.com/ZaparooProject/go-tappy/transport/usb"
)

const shutdownTimeout = 10 * time.Second

// Package-level flag variables
var (
	flagConfigPath string
	flagDevices    string
	flagSessionLog string
	flagPort       int
	flagDebug      bool
	flagListPorts  bool
)

func init() {
	flag.StringVar(&flagConfigPath, "config", "", "Path to a YAML config file (defaults if empty)")
	flag.StringVar(&flagDevices, "device", "", "Comma separated serial ports to connect at startup")
	flag.StringVar(&flagSessionLog, "session-log", "", "Directory for a per-run session log")
	flag.IntVar(&flagPort, "port", 0, "HTTP port (overrides config)")
	flag.BoolVar(&flagDebug, "debug", false, "Enable debug output")
	flag.BoolVar(&flagListPorts, "list-ports", false, "List serial ports and exit")
}

type flags struct {
	configPath string
	devices    string
	sessionLog string
	port       int
	debug      bool
}

// loadConfig reads the config file, if any, and applies flag overrides
func loadConfig(f flags) (*config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if f.port > 0 {
		cfg.Server.Port = f.port
	}
	if f.debug {
		cfg.Debug = true
	}
	if f.sessionLog != "" {
		cfg.SessionLogDir = f.sessionLog
	}
	for _, path := range strings.Split(f.devices, ",") {
		path = strings.TrimSpace(path)
		if path == "" || hasDevice(cfg.Devices, path) {
			continue
		}
		cfg.Devices = append(cfg.Devices, tappy.DeviceDefinition{
			Identity:  tappy.Identity{ID: path, Name: path},
			Transport: tappy.TransportUSB,
		})
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func hasDevice(defs []tappy.DeviceDefinition, id string) bool {
	for _, d := range defs {
		if d.ID == id {
			return true
		}
	}
	return false
}

// newTransport creates the transport for a device definition
func newTransport(def tappy.DeviceDefinition) (tappy.Transport, error) {
	switch def.Transport {
	case tappy.TransportUSB, "":
		return usb.Factory(def)
	case tappy.TransportMock:
		tr := tappy.NewMockTransport(def.ID)
		tr.SetAutoPong(true)
		return tr, nil
	default:
		return nil, fmt.Errorf("%w: %s", tappy.ErrUnsupportedTransport, def.Transport)
	}
}

// logSink prints every read for the operator
type logSink struct{}

func (logSink) OnTagRead(k *fleet.Kiosk, uid []byte, tagType byte) {
	log.Printf("Tag detected on %s: UID=%s Type=0x%02X", k.ID(), hex.EncodeToString(uid), tagType)
}

func (logSink) OnNdefRead(k *fleet.Kiosk, uid []byte, tagType byte, msg *ndef.Message) {
	log.Printf("NDEF read on %s: UID=%s Type=0x%02X Records=%d", k.ID(), hex.EncodeToString(uid), tagType, msg.Len())
	if rec := msg.First(); rec != nil {
		if uri, ok := rec.URI(); ok {
			log.Printf("  URI: %s", uri)
		} else if text, ok := rec.Text(); ok {
			log.Printf("  Text: %q", text)
		}
	}
}

func run(ctx context.Context, cfg *config.Config, ln net.Listener) error {
	if cfg.Debug {
		tappy.SetDebugEnabled(true)
	}
	if cfg.SessionLogDir != "" {
		path, err := tappy.InitSessionLog(cfg.SessionLogDir)
		if err != nil {
			return fmt.Errorf("failed to open session log: %w", err)
		}
		log.Printf("Session log: %s", path)
		defer func() { _ = tappy.CloseSessionLog() }()
	}

	launcher := autolaunch.New(
		autolaunch.WithEnabled(cfg.Autolaunch.Enabled),
		autolaunch.WithThrottle(cfg.Autolaunch.Throttle),
	)
	hub := server.NewHub()
	registry := fleet.NewRegistry(newTransport,
		fleet.WithSessionConfig(cfg.SessionConfig()),
		fleet.WithRetryInterval(cfg.Fleet.RetryInterval),
		fleet.WithMaxRetryInterval(cfg.Fleet.MaxRetryInterval),
		fleet.WithEventSink(logSink{}),
		fleet.WithEventSink(launcher),
		fleet.WithEventSink(hub),
		fleet.WithDesiredCountHook(func(n int) {
			log.Printf("Kiosks desired: %d", n)
		}),
	)
	hub.Attach(registry)
	defer hub.CloseAll()

	for _, def := range cfg.Devices {
		if err := registry.SetDesired(def); err != nil {
			log.Printf("Failed to add %s: %v", def.Identity, err)
		}
	}

	srv := server.New(registry, hub, server.WithLauncher(launcher))
	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Server.MDNS.Enabled {
		port := cfg.Server.Port
		if addr, ok := ln.Addr().(*net.TCPAddr); ok {
			port = addr.Port
		}
		adv, err := server.Advertise(cfg.Server.MDNS.Instance, port)
		if err != nil {
			log.Printf("mDNS disabled: %v", err)
		} else {
			defer adv.Stop()
		}
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("Listening on %s", ln.Addr())
		serveErr <- httpServer.Serve(ln)
	}()

	var runErr error
	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	if err := registry.Close(shutdownCtx); err != nil {
		log.Printf("Kiosk shutdown: %v", err)
	}
	hub.Detach()
	return runErr
}

func listPorts() int {
	ports, err := usb.ListPorts()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	for _, p := range ports {
		mark := " "
		if p.Likely {
			mark = "*"
		}
		_, _ = fmt.Printf("%s %s %s %s\n", mark, p.Path, p.VIDPID, p.Product)
	}
	return 0
}

func main() {
	flag.Parse()
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	if flagListPorts {
		return listPorts()
	}

	cfg, err := loadConfig(flags{
		configPath: flagConfigPath,
		devices:    flagDevices,
		sessionLog: flagSessionLog,
		port:       flagPort,
		debug:      flagDebug,
	})
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	// Setup signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if err := run(ctx, cfg, ln); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
