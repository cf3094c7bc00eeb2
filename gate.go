// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package softcall

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// GateState is the readiness state of the softphone connection.
type GateState string

const (
	GateNotReady     GateState = "not_ready"
	GateInitializing GateState = "initializing"
	GateReady        GateState = "ready"
	GateError        GateState = "error"
)

// provisionAttempt is fulfilled exactly once by the provisioning goroutine.
// Waiters select on done with their own timeout, so there is no readiness
// polling anywhere.
type provisionAttempt struct {
	done chan struct{}
	conn ProviderConnection
	err  error
}

// provisioningGate lazily initializes the telephony connection and
// serializes call attempts against that initialization. A second waiter
// while an attempt is in flight joins it instead of starting another.
type provisioningGate struct {
	provider Provider
	log      *slog.Logger
	timeout  time.Duration

	mu      sync.Mutex
	state   GateState
	attempt *provisionAttempt
	conn    ProviderConnection
	err     error
}

func newProvisioningGate(provider Provider, log *slog.Logger, timeout time.Duration) *provisioningGate {
	return &provisioningGate{
		provider: provider,
		log:      log,
		timeout:  timeout,
		state:    GateNotReady,
	}
}

func (g *provisioningGate) State() GateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Ready returns the live connection, starting initialization if needed and
// waiting at most the gate timeout. A previous failure is sticky: it is
// returned until Retry.
func (g *provisioningGate) Ready(ctx context.Context) (ProviderConnection, error) {
	g.mu.Lock()
	switch g.state {
	case GateReady:
		conn := g.conn
		g.mu.Unlock()
		return conn, nil
	case GateError:
		err := g.err
		g.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrProvisioningFailed, err)
	case GateNotReady:
		g.start()
	}
	attempt := g.attempt
	g.mu.Unlock()

	t := time.NewTimer(g.timeout)
	defer t.Stop()

	select {
	case <-attempt.done:
		if attempt.err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProvisioningFailed, attempt.err)
		}
		return attempt.conn, nil
	case <-t.C:
		// Attempt keeps running in background; a later Ready may find the
		// gate ready.
		return nil, ErrProvisioningTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Retry clears a sticky error and waits for a fresh attempt.
func (g *provisioningGate) Retry(ctx context.Context) (ProviderConnection, error) {
	g.mu.Lock()
	if g.state == GateError {
		g.state = GateNotReady
		g.err = nil
		g.attempt = nil
	}
	g.mu.Unlock()
	return g.Ready(ctx)
}

// start transitions not_ready -> initializing and spawns the single
// provisioning goroutine. Caller holds g.mu.
func (g *provisioningGate) start() {
	attempt := &provisionAttempt{done: make(chan struct{})}
	g.state = GateInitializing
	g.attempt = attempt

	go func() {
		// Deliberately not bound to any caller context: waiters apply their
		// own timeout and the attempt outcome is shared.
		ctx := context.Background()

		creds, err := g.provider.Provision(ctx)
		var conn ProviderConnection
		if err == nil {
			conn, err = g.provider.Connect(ctx, creds)
		}

		g.mu.Lock()
		if err != nil {
			g.state = GateError
			g.err = err
			g.log.Error("Softphone provisioning failed", "error", err)
		} else {
			g.state = GateReady
			g.conn = conn
			g.log.Info("Softphone connection ready")
		}
		g.mu.Unlock()

		attempt.conn = conn
		attempt.err = err
		close(attempt.done)
	}()
}

// Close tears down the live connection, if any.
func (g *provisioningGate) Close() error {
	g.mu.Lock()
	conn := g.conn
	g.conn = nil
	g.state = GateNotReady
	g.attempt = nil
	g.err = nil
	g.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}
