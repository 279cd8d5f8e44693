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

import (
	"math"
	"time"

	"github.com/ZaparooProject/go-tappy"
)

// state is everything the session machine knows. It is owned by the
// processing goroutine and only changed through reduce.
type state struct {
	readyAt         time.Time
	lastMessageAt   time.Time
	status          Status
	transportStatus tappy.TransportStatus
	hasInitialized  bool
	isClosing       bool
}

type effectKind int

const (
	effectOpenTransport effectKind = iota
	effectCloseTransport
	effectSendPing
	effectScheduleSend
	effectScheduleCheck
	effectCancelTimers
	effectNotifyHeartbeat
	effectNotifyTag
	effectNotifyNdef
	effectLogIgnored
)

// effect is a side effect the manager performs after a transition
type effect struct {
	// configure is sent right after a successful open
	configure *tappy.Message
	event     Event
	delay     time.Duration
	kind      effectKind
}

// transition is the result of one reduce step
type transition struct {
	// followUp is pushed to the back of the event queue
	followUp *Event
	// statuses lists each published status change in order
	statuses []Status
	effects  []effect
	state    state
}

func (t *transition) setStatus(s Status) {
	if t.state.status == s {
		return
	}
	t.state.status = s
	t.statuses = append(t.statuses, s)
}

func (t *transition) then(kind EventKind) {
	ev := simpleEvent(kind)
	t.followUp = &ev
}

func (t *transition) do(e effect) {
	t.effects = append(t.effects, e)
}

func (t *transition) ignore(ev Event) {
	t.do(effect{kind: effectLogIgnored, event: ev})
}

// reduce applies ev to st. It is pure: timers, transport calls and listener
// notifications come back as effects for the caller to perform.
func reduce(st state, ev Event, now time.Time, cfg Config) transition {
	t := transition{state: st}
	if st.status.IsTerminal() {
		t.ignore(ev)
		return t
	}
	hb := cfg.Heartbeat

	switch ev.Kind {
	case EventRequestInitialize:
		if st.hasInitialized || st.isClosing {
			t.ignore(ev)
			break
		}
		t.state.hasInitialized = true
		open := effect{kind: effectOpenTransport}
		if hb != nil {
			cmd := tappy.NewConfigureKioskModeCommand(
				tappy.KioskNoChange, tappy.KioskNoChange,
				tappy.HeartbeatPeriodByte(hb.SendInterval), tappy.KioskNoChange,
			)
			open.configure = &cmd
		}
		t.do(open)
		t.setStatus(StatusInitializing)

	case EventTransportStatusChanged:
		reduceTransportStatus(&t, ev, hb)

	case EventReceivedPing:
		t.state.lastMessageAt = ev.At
		if hb != nil {
			t.then(EventCheckHeartbeat)
		}
		t.do(effect{kind: effectNotifyHeartbeat, event: ev})

	case EventReceivedTag:
		t.state.lastMessageAt = ev.At
		t.do(effect{kind: effectNotifyTag, event: ev})

	case EventReceivedNdef:
		t.state.lastMessageAt = ev.At
		t.do(effect{kind: effectNotifyNdef, event: ev})

	case EventReceivedUnexpectedResponse:
		t.ignore(ev)

	case EventSendHeartbeat:
		if hb == nil || !st.hasInitialized || st.isClosing {
			t.ignore(ev)
			break
		}
		if st.transportStatus == tappy.StatusReady {
			t.do(effect{kind: effectSendPing})
		} else {
			t.ignore(ev)
		}
		// A link that is not ready yet is retried on the next interval
		t.do(effect{kind: effectScheduleSend, delay: hb.SendInterval})

	case EventCheckHeartbeat:
		if hb == nil || !st.hasInitialized || st.isClosing {
			t.ignore(ev)
			break
		}
		reduceCheckHeartbeat(&t, now, hb)

	case EventHeartbeatFailed:
		switch st.status {
		case StatusHealthy, StatusHeartbeatFailure, StatusInitializing:
			t.setStatus(StatusHeartbeatFailure)
		default:
			t.ignore(ev)
		}

	case EventHeartbeatGood:
		switch st.status {
		case StatusHeartbeatFailure, StatusInitializing, StatusHealthy:
			t.setStatus(StatusHealthy)
		default:
			t.ignore(ev)
		}

	case EventErrorDrivenClose:
		t.state.isClosing = true
		t.do(effect{kind: effectCancelTimers})
		if st.hasInitialized {
			t.do(effect{kind: effectCloseTransport})
		}
		t.setStatus(StatusClosed)

	case EventRequestClose, EventTappyDisconnected, EventHeartbeatDrivenClose:
		if st.isClosing {
			t.ignore(ev)
			break
		}
		t.state.isClosing = true
		t.do(effect{kind: effectCancelTimers})
		t.setStatus(StatusClosing)
		if st.hasInitialized {
			t.do(effect{kind: effectCloseTransport})
		} else {
			t.setStatus(StatusClosed)
		}

	default:
		t.ignore(ev)
	}

	return t
}

func reduceTransportStatus(t *transition, ev Event, hb *Heartbeat) {
	t.state.transportStatus = ev.TransportStatus
	closing := t.state.isClosing

	switch ev.TransportStatus {
	case tappy.StatusConnecting:
		if closing {
			t.do(effect{kind: effectCloseTransport})
		}
	case tappy.StatusReady:
		t.state.readyAt = ev.At
		switch {
		case closing:
			t.do(effect{kind: effectCloseTransport})
		case hb != nil:
			t.do(effect{kind: effectScheduleCheck, delay: initialCheckDelay})
			t.do(effect{kind: effectScheduleSend, delay: initialSendDelay})
		}
	case tappy.StatusDisconnected:
		t.then(EventTappyDisconnected)
	case tappy.StatusDisconnecting:
		if !closing {
			t.then(EventErrorDrivenClose)
		}
	case tappy.StatusClosed:
		if closing {
			t.setStatus(StatusClosed)
		} else {
			t.then(EventErrorDrivenClose)
		}
	case tappy.StatusError:
		t.then(EventErrorDrivenClose)
	}
}

func reduceCheckHeartbeat(t *transition, now time.Time, hb *Heartbeat) {
	sinceReady := elapsedOrZero(now, t.state.readyAt)
	sinceMessage := elapsedOrForever(now, t.state.lastMessageAt)
	errTol, discTol := hb.ErrorTolerance, hb.DisconnectTolerance

	switch {
	case sinceReady > discTol && sinceMessage > discTol:
		t.then(EventHeartbeatDrivenClose)
	case sinceReady > errTol && sinceMessage > errTol:
		t.then(EventHeartbeatFailed)
		t.do(effect{kind: effectScheduleCheck, delay: recheckInterval})
	case sinceReady > errTol:
		t.then(EventHeartbeatGood)
		next := errTol - sinceMessage
		if next <= 0 {
			next = recheckInterval
		}
		t.do(effect{kind: effectScheduleCheck, delay: next})
	default:
		t.then(EventHeartbeatGood)
		t.do(effect{kind: effectScheduleCheck, delay: recheckInterval})
	}
}

// elapsedOrZero treats an unset start as "just now"
func elapsedOrZero(now, since time.Time) time.Duration {
	if since.IsZero() {
		return 0
	}
	return now.Sub(since)
}

// elapsedOrForever treats an unset start as infinitely long ago
func elapsedOrForever(now, since time.Time) time.Duration {
	if since.IsZero() {
		return time.Duration(math.MaxInt64)
	}
	return now.Sub(since)
}
