// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package softcall

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// watchSession consumes provider events for one session and converges every
// termination variant onto the single finalize path. Runs on its own
// goroutine; exits once the session is finalized.
func (cm *CallManager) watchSession(sess *CallSession) {
	dialTimer := time.NewTimer(cm.dialTimeout)
	defer dialTimer.Stop()

	for {
		select {
		case ev, ok := <-sess.provSess.Events():
			if !ok {
				// Channel close is itself a termination signal.
				cm.finalize(sess, deriveReason(sess, ""), nil)
				return
			}
			switch ev.Kind {
			case EventProgress:
				// Still ringing. The timer does not start on progress.

			case EventAnswered:
				// Duplicate connected-equivalent signals must not restart
				// the clock.
				if sess.markConnected() {
					dialTimer.Stop()
					cm.log.Info("Call connected", "session_id", sess.id, "number", sess.number)
					cm.notifyState(sess.Snapshot())
					go cm.tickLoop(sess)
				}

			case EventTerminated:
				cm.finalize(sess, deriveReason(sess, ev.Reason), nil)
				return

			case EventFailed:
				reason := ReasonFailed
				if sess.Status() != StatusConnected {
					reason = ReasonFailedToConnect
				}
				cm.finalize(sess, reason, fmt.Errorf("%w: %v", ErrDialFailed, ev.Err))
				return
			}

		case <-dialTimer.C:
			if sess.Status() == StatusConnected {
				// Lost race with Stop after answer; nothing to do.
				continue
			}
			cm.log.Info("Dial timed out", "session_id", sess.id, "number", sess.number)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := sess.provSess.Cancel(ctx); err != nil && !errors.Is(err, ErrNotSupported) {
				cm.log.Debug("Cancel after dial timeout failed", "session_id", sess.id, "error", err)
			}
			cancel()
			cm.finalize(sess, ReasonFailedToConnect, ErrDialTimeout)
			return

		case <-sess.done:
			// Finalized elsewhere (hangup path).
			return
		}
	}
}

// tickLoop republishes the observable state once per second while connected.
// Elapsed time is always derived from timestamps, so lost ticks cannot
// corrupt the duration.
func (cm *CallManager) tickLoop(sess *CallSession) {
	t := time.NewTicker(time.Second)
	defer t.Stop()

	for {
		select {
		case <-sess.stopTick:
			return
		case <-t.C:
			cm.notifyState(sess.Snapshot())
		}
	}
}

// deriveReason maps a termination onto the reason taxonomy when the provider
// event did not carry one.
func deriveReason(sess *CallSession, evReason CallReason) CallReason {
	if evReason != "" {
		return evReason
	}
	if sess.Status() == StatusConnected {
		return ReasonCompleted
	}
	// Ended before connecting without an explicit reason: the remote side
	// declined or dropped the attempt.
	return ReasonRejected
}

// terminateSession tries the provider termination methods in degrading order
// of gracefulness and uses the first one the provider supports. Disposal is
// the unconditional fallback.
func (cm *CallManager) terminateSession(ctx context.Context, sess *CallSession) error {
	methods := []struct {
		name string
		call func(context.Context) error
	}{
		{"hangup", sess.provSess.Hangup},
		{"bye", sess.provSess.Bye},
		{"terminate", sess.provSess.Terminate},
		{"cancel", sess.provSess.Cancel},
	}

	var errs []error
	for _, m := range methods {
		err := m.call(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrNotSupported) {
			continue
		}
		cm.log.Debug("Provider termination method failed", "method", m.name, "session_id", sess.id, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", m.name, err))
	}

	sess.provSess.Dispose()
	return errors.Join(errs...)
}

// finalize is the one-time cleanup-and-log sequence. However many
// termination signals fire, in whatever order, exactly one invocation does
// any work; the CompareAndSwap makes the guarantee structural instead of
// relying on check-then-set ordering.
func (cm *CallManager) finalize(sess *CallSession, reason CallReason, cause error) {
	if !sess.finalized.CompareAndSwap(false, true) {
		return
	}

	// Stop the tick loop before capturing the duration, so no tick can
	// observe or publish state past finalization.
	close(sess.stopTick)
	if sess.cancelDial != nil {
		sess.cancelDial()
	}

	duration := sess.freeze()
	sess.setStatus(StatusDisconnected)

	cm.log.Info("Call finalized",
		"session_id", sess.id,
		"number", sess.number,
		"reason", string(reason),
		"duration", duration,
	)

	if cause != nil {
		cm.notifyFailed(reason, cause)
	}
	cm.notifyState(sess.Snapshot())

	// The provider session owns the live audio stream and must release it
	// now, whatever path got us here.
	if sess.provSess != nil {
		sess.provSess.Dispose()
	}

	go func() {
		cm.logCall(sess, reason, duration)
		close(sess.done)

		// Keep the end-of-call state visible briefly before resetting to
		// idle, logging outcome notwithstanding.
		time.AfterFunc(cm.resetDelay, func() {
			cm.mu.Lock()
			if cm.active == sess {
				cm.active = nil
			}
			cm.mu.Unlock()
			cm.notifyState(CallState{Status: StatusIdle})
		})
	}()
}

// logCall emits at most one communications record for the session. Failures
// are reported, never retried: the call is already over and a retry cannot
// recover it.
func (cm *CallManager) logCall(sess *CallSession, reason CallReason, duration time.Duration) {
	cctx := sess.cctx

	if cctx.ClientID == "" || cm.comms == nil {
		cm.log.Info("Call finished without client context, not logged", "session_id", sess.id)
		cm.notifyUnlogged(sess.Snapshot(), reason)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cm.logTimeout)
	defer cancel()

	rec, err := cm.comms.LogCall(ctx, CallLogRequest{
		ClientID:        cctx.ClientID,
		PersonID:        cctx.PersonID,
		PhoneNumber:     sess.number,
		Direction:       sess.direction,
		DurationSeconds: int(duration / time.Second),
		SessionID:       sess.id,
		Reason:          reason,
	})
	if err != nil {
		cm.log.Error("Failed to log call", "session_id", sess.id, "error", err)
		if !errors.Is(err, ErrLoggingFailed) {
			err = fmt.Errorf("%w: %v", ErrLoggingFailed, err)
		}
		cm.notifyFailed(reason, err)
		return
	}

	cm.log.Info("Call logged", "session_id", sess.id, "record_id", rec.ID)
	cm.notifyLogged(rec)
}
