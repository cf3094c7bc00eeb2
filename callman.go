// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package softcall

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Hooks are the notifications exposed to the UI layer. All callbacks are
// optional and must not block; they are invoked from call manager
// goroutines.
type Hooks struct {
	// OnCallState fires on every observable state change and once per second
	// while a call is connected.
	OnCallState func(CallState)
	// OnCallLogged fires after the communications store accepted the record.
	OnCallLogged func(CommunicationRecord)
	// OnCallUnlogged fires when a finished call is deliberately not
	// persisted (ad-hoc call without client context).
	OnCallUnlogged func(state CallState, reason CallReason)
	// OnCallFailed reports dial, mid-call and logging failures.
	OnCallFailed func(reason CallReason, err error)
}

// CallManager drives a single outbound call at a time over one softphone
// connection. It owns the provider session explicitly; nothing is reached
// through ambient state.
type CallManager struct {
	provider Provider
	gate     *provisioningGate
	comms    CommunicationsClient
	hooks    Hooks
	plan     DialPlan
	log      *slog.Logger

	// micProbe is the one-shot microphone capability check run before any
	// session state is created. The probe must acquire and release its own
	// stream; the provider session owns the real call audio.
	micProbe func(ctx context.Context) error

	dialTimeout      time.Duration
	provisionTimeout time.Duration
	resetDelay       time.Duration
	logTimeout       time.Duration

	now func() time.Time

	mu      sync.Mutex
	placing bool
	active  *CallSession
}

type CallManagerOption func(cm *CallManager)

func WithLogger(l *slog.Logger) CallManagerOption {
	return func(cm *CallManager) {
		cm.log = l
	}
}

// WithCommunications sets the store finished calls are logged to. Without
// one, every call completes unlogged.
func WithCommunications(c CommunicationsClient) CallManagerOption {
	return func(cm *CallManager) {
		cm.comms = c
	}
}

func WithHooks(h Hooks) CallManagerOption {
	return func(cm *CallManager) {
		cm.hooks = h
	}
}

func WithDialPlan(p DialPlan) CallManagerOption {
	return func(cm *CallManager) {
		cm.plan = p
	}
}

// WithMicrophoneProbe injects the runtime microphone permission check.
// An error from the probe aborts PlaceCall with ErrPermissionDenied.
func WithMicrophoneProbe(probe func(ctx context.Context) error) CallManagerOption {
	return func(cm *CallManager) {
		cm.micProbe = probe
	}
}

// WithDialTimeout bounds the wait for a connected-equivalent signal after
// dialing. Default 30s.
func WithDialTimeout(d time.Duration) CallManagerOption {
	return func(cm *CallManager) {
		cm.dialTimeout = d
	}
}

// WithProvisionTimeout bounds how long PlaceCall waits for the softphone
// connection to become ready. Default 15s.
func WithProvisionTimeout(d time.Duration) CallManagerOption {
	return func(cm *CallManager) {
		cm.provisionTimeout = d
	}
}

// WithResetDelay sets the user-visible pause between a call ending and the
// session resetting to idle. Default 2s.
func WithResetDelay(d time.Duration) CallManagerOption {
	return func(cm *CallManager) {
		cm.resetDelay = d
	}
}

func NewCallManager(provider Provider, opts ...CallManagerOption) *CallManager {
	cm := &CallManager{
		provider:         provider,
		plan:             DefaultDialPlan,
		log:              slog.Default(),
		dialTimeout:      30 * time.Second,
		provisionTimeout: 15 * time.Second,
		resetDelay:       2 * time.Second,
		logTimeout:       10 * time.Second,
		now:              time.Now,
	}

	for _, o := range opts {
		o(cm)
	}

	cm.gate = newProvisioningGate(provider, cm.log, cm.provisionTimeout)
	return cm
}

// PlaceCall dials number with the given CRM context. It returns once the
// provider accepted the dial request; lifecycle from there is reported via
// hooks. Rejected with ErrCallInProgress while a session is ringing,
// connected or still finishing its finalize path.
func (cm *CallManager) PlaceCall(ctx context.Context, number string, cctx CallContext) (*CallSession, error) {
	if strings.TrimSpace(number) == "" {
		return nil, ErrNoNumber
	}

	cm.mu.Lock()
	if cm.active != nil || cm.placing {
		cm.mu.Unlock()
		return nil, ErrCallInProgress
	}
	cm.placing = true
	cm.mu.Unlock()
	defer func() {
		cm.mu.Lock()
		cm.placing = false
		cm.mu.Unlock()
	}()

	// Capability probe runs before any session state exists, so denial
	// leaves nothing to clean up.
	if cm.micProbe != nil {
		if err := cm.micProbe(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
	}

	conn, err := cm.gate.Ready(ctx)
	if err != nil {
		return nil, err
	}

	dialed, err := cm.plan.Normalize(number)
	if err != nil {
		return nil, err
	}

	sessionID := uuid.NewString()
	cctx.PhoneNumber = dialed
	cctx.SessionID = sessionID
	sess := newCallSession(sessionID, dialed, cctx, cm.now)

	// The dial context outlives PlaceCall; cancelling it is how the ringing
	// call gets abandoned at the provider.
	dialCtx, cancelDial := context.WithCancel(context.Background())
	sess.cancelDial = cancelDial

	provSess, err := conn.Call(dialCtx, dialed)
	if err != nil {
		cancelDial()
		return nil, fmt.Errorf("%w: %v", ErrDialFailed, err)
	}
	sess.provSess = provSess

	cm.mu.Lock()
	cm.active = sess
	cm.mu.Unlock()

	cm.log.Info("Call placed", "session_id", sessionID, "number", dialed, "client_id", cctx.ClientID)
	cm.notifyState(sess.Snapshot())

	go cm.watchSession(sess)
	return sess, nil
}

// ToggleMute flips the mute flag of the connected call. The local flag only
// changes after the provider confirmed.
func (cm *CallManager) ToggleMute() error {
	sess := cm.ActiveSession()
	if sess == nil || sess.Status() != StatusConnected {
		return ErrNotConnected
	}

	target := !sess.isMuted()
	if err := sess.provSess.Mute(target); err != nil {
		return fmt.Errorf("mute request failed: %w", err)
	}
	sess.setMuted(target)
	cm.notifyState(sess.Snapshot())
	return nil
}

// ToggleHold flips the hold flag of the connected call. The local flag only
// changes after the provider confirmed.
func (cm *CallManager) ToggleHold() error {
	sess := cm.ActiveSession()
	if sess == nil || sess.Status() != StatusConnected {
		return ErrNotConnected
	}

	target := !sess.isHeld()
	if err := sess.provSess.Hold(target); err != nil {
		return fmt.Errorf("hold request failed: %w", err)
	}
	sess.setHeld(target)
	cm.notifyState(sess.Snapshot())
	return nil
}

// Hangup terminates the active call. During ringing this is a cancellation;
// once connected it is a completed call. Even if every provider termination
// method fails the session is force-reset locally, so the UI can never be
// left stuck in an active-call state.
func (cm *CallManager) Hangup(ctx context.Context) error {
	sess := cm.ActiveSession()
	if sess == nil {
		return ErrNoActiveCall
	}

	reason := ReasonCancelled
	switch sess.Status() {
	case StatusConnected:
		reason = ReasonCompleted
	case StatusRinging:
	default:
		return ErrNoActiveCall
	}

	if err := cm.terminateSession(ctx, sess); err != nil {
		cm.log.Error("Provider termination failed, forcing local reset", "session_id", sess.id, "error", err)
	}
	cm.finalize(sess, reason, nil)
	return nil
}

// ActiveSession returns the live session, including one still in its
// end-of-call reset window. Nil when idle.
func (cm *CallManager) ActiveSession() *CallSession {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.active
}

// Snapshot returns the observable state for the UI.
func (cm *CallManager) Snapshot() CallState {
	if sess := cm.ActiveSession(); sess != nil {
		return sess.Snapshot()
	}
	return CallState{Status: StatusIdle}
}

// GateState reports softphone connection readiness.
func (cm *CallManager) GateState() GateState {
	return cm.gate.State()
}

// RetryProvisioning re-attempts initialization after a provisioning error.
func (cm *CallManager) RetryProvisioning(ctx context.Context) error {
	_, err := cm.gate.Retry(ctx)
	return err
}

// Close hangs up any active call and tears down the softphone connection.
func (cm *CallManager) Close(ctx context.Context) error {
	if err := cm.Hangup(ctx); err != nil && err != ErrNoActiveCall {
		cm.log.Error("Hangup on close failed", "error", err)
	}
	return cm.gate.Close()
}

func (cm *CallManager) notifyState(st CallState) {
	if cm.hooks.OnCallState != nil {
		cm.hooks.OnCallState(st)
	}
}

func (cm *CallManager) notifyLogged(rec CommunicationRecord) {
	if cm.hooks.OnCallLogged != nil {
		cm.hooks.OnCallLogged(rec)
	}
}

func (cm *CallManager) notifyUnlogged(st CallState, reason CallReason) {
	if cm.hooks.OnCallUnlogged != nil {
		cm.hooks.OnCallUnlogged(st, reason)
	}
}

func (cm *CallManager) notifyFailed(reason CallReason, err error) {
	if cm.hooks.OnCallFailed != nil {
		cm.hooks.OnCallFailed(reason, err)
	}
}
