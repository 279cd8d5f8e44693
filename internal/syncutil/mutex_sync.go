//go:build !deadlock

// Package syncutil holds the mutex types used by the kiosk, fleet and server
// packages. Building with -tags=deadlock swaps in go-deadlock, which reports
// lock-order inversions between a registry and its sessions.
package syncutil

import "sync"

// Mutex is a sync.Mutex
//
//nolint:gocritic // embedded to expose Lock and Unlock
type Mutex struct {
	sync.Mutex
}

// RWMutex is a sync.RWMutex
//
//nolint:gocritic // embedded to expose the full RWMutex method set
type RWMutex struct {
	sync.RWMutex
}
