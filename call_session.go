// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package softcall

import (
	"sync"
	"sync/atomic"
	"time"
)

// Status is the lifecycle state of a call session.
//
//	idle -> ringing -> connected -> disconnected -> idle
type Status string

const (
	StatusIdle         Status = "idle"
	StatusRinging      Status = "ringing"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// CallContext is the immutable snapshot captured at the moment of dialing.
// It correlates the eventual communications record with CRM entities. A call
// without ClientID is a legitimate ad-hoc call and is not persisted.
type CallContext struct {
	ClientID    string
	PersonID    string
	PhoneNumber string
	SessionID   string
}

// CallState is the observable snapshot exposed to the UI layer.
type CallState struct {
	SessionID      string
	Status         Status
	PhoneNumber    string
	ElapsedSeconds int
	IsMuted        bool
	IsOnHold       bool
}

// CallSession is one outbound call attempt, from dial to termination.
// Exactly one session is live per call manager at a time; the session id is
// never reused.
type CallSession struct {
	id        string
	number    string // normalized, as dialed
	direction string
	cctx      CallContext

	mu        sync.Mutex
	status    Status
	startedAt time.Time
	endedAt   time.Time
	muted     bool
	held      bool

	provSess   ProviderSession
	cancelDial func()

	// finalized flips false->true exactly once, however many termination
	// signals race. The CAS is the whole exactly-once guarantee.
	finalized atomic.Bool

	connectOnce sync.Once
	stopTick    chan struct{}

	// done is closed once finalize (including logging) completed.
	done chan struct{}

	now func() time.Time
}

func newCallSession(id, number string, cctx CallContext, now func() time.Time) *CallSession {
	return &CallSession{
		id:        id,
		number:    number,
		direction: "outbound",
		cctx:      cctx,
		status:    StatusRinging,
		stopTick:  make(chan struct{}),
		done:      make(chan struct{}),
		now:       now,
	}
}

func (s *CallSession) ID() string { return s.id }

// Context returns the dial-time CRM snapshot.
func (s *CallSession) Context() CallContext { return s.cctx }

// Done is closed after the session was finalized and its log handling
// finished. Useful for callers that want to wait out a call.
func (s *CallSession) Done() <-chan struct{} { return s.done }

func (s *CallSession) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *CallSession) setStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// markConnected records the connection timestamp. Providers may emit several
// connected-equivalent signals; only the first one starts the clock.
// Returns true on the first transition.
func (s *CallSession) markConnected() bool {
	first := false
	s.connectOnce.Do(func() {
		s.mu.Lock()
		s.status = StatusConnected
		s.startedAt = s.now()
		s.mu.Unlock()
		first = true
	})
	return first
}

// freeze records the termination timestamp and returns the final duration.
// Like the live elapsed value it is derived from wall clock, never from
// accumulated timer ticks, so a suspended process cannot drift it.
// A session that never connected has duration 0.
func (s *CallSession) freeze() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startedAt.IsZero() {
		return 0
	}
	if s.endedAt.IsZero() {
		s.endedAt = s.now()
	}
	return s.endedAt.Sub(s.startedAt)
}

// Snapshot returns the observable state for the UI.
func (s *CallSession) Snapshot() CallState {
	s.mu.Lock()
	defer s.mu.Unlock()

	var elapsed time.Duration
	switch {
	case s.startedAt.IsZero():
	case !s.endedAt.IsZero():
		elapsed = s.endedAt.Sub(s.startedAt)
	default:
		elapsed = s.now().Sub(s.startedAt)
	}
	return CallState{
		SessionID:      s.id,
		Status:         s.status,
		PhoneNumber:    s.number,
		ElapsedSeconds: int(elapsed / time.Second),
		IsMuted:        s.muted,
		IsOnHold:       s.held,
	}
}

func (s *CallSession) setMuted(v bool) {
	s.mu.Lock()
	s.muted = v
	s.mu.Unlock()
}

func (s *CallSession) isMuted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

func (s *CallSession) setHeld(v bool) {
	s.mu.Lock()
	s.held = v
	s.mu.Unlock()
}

func (s *CallSession) isHeld() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held
}
