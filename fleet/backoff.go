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
	"crypto/rand"
	"encoding/binary"
	"time"
)

const (
	backoffMultiplier = 2.0
	backoffJitter     = 0.1
)

// backoff grows the reconcile retry delay while transports keep failing
type backoff struct {
	initial    time.Duration
	max        time.Duration
	current    time.Duration
	multiplier float64
	jitter     float64
}

func newBackoff(initial, maxDelay time.Duration) backoff {
	if maxDelay < initial {
		maxDelay = initial
	}
	return backoff{
		initial:    initial,
		max:        maxDelay,
		current:    initial,
		multiplier: backoffMultiplier,
		jitter:     backoffJitter,
	}
}

// next returns the delay for this attempt and grows the following one
func (b *backoff) next() time.Duration {
	delay := jittered(b.current, b.jitter)
	grown := time.Duration(float64(b.current) * b.multiplier)
	if grown > b.max {
		grown = b.max
	}
	b.current = grown
	return delay
}

func (b *backoff) reset() {
	b.current = b.initial
}

// jittered adds up to factor*base of random delay
func jittered(base time.Duration, factor float64) time.Duration {
	if factor <= 0 {
		return base
	}
	var randBytes [8]byte
	if _, err := rand.Read(randBytes[:]); err != nil {
		return base
	}
	randFloat := float64(binary.LittleEndian.Uint64(randBytes[:])) / float64(1<<64)
	return base + time.Duration(randFloat*float64(base)*factor)
}
