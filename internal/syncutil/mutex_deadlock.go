//go:build deadlock

// Package syncutil holds the mutex types used by the kiosk, fleet and server
// packages. Building with -tags=deadlock swaps in go-deadlock, which reports
// lock-order inversions between a registry and its sessions.
package syncutil

import (
	"time"

	deadlock "github.com/sasha-s/go-deadlock"
)

// lockTimeout is longer than any registry or session critical section,
// including a registry Close waiting on its listeners.
const lockTimeout = 45 * time.Second

func init() {
	deadlock.Opts.DeadlockTimeout = lockTimeout
}

// Mutex is a deadlock.Mutex
type Mutex struct {
	deadlock.Mutex
}

// RWMutex is a deadlock.RWMutex
type RWMutex struct {
	deadlock.RWMutex
}
