// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package softcall

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGate(fp *fakeProvider, timeout time.Duration) *provisioningGate {
	return newProvisioningGate(fp, slog.Default(), timeout)
}

func TestGateLazyInit(t *testing.T) {
	fp := newFakeProvider()
	g := newTestGate(fp, time.Second)

	// Nothing happens until the first waiter.
	assert.Equal(t, GateNotReady, g.State())
	assert.Equal(t, 0, fp.provisionCount())

	conn, err := g.Ready(context.Background())
	require.NoError(t, err)
	assert.Same(t, fp.conn, conn)
	assert.Equal(t, GateReady, g.State())
	assert.Equal(t, 1, fp.provisionCount())

	// Ready connection is reused, not re-provisioned.
	_, err = g.Ready(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fp.provisionCount())
}

func TestGateReentrantWaiters(t *testing.T) {
	fp := newFakeProvider()
	fp.provisionGate = make(chan struct{})
	g := newTestGate(fp, time.Second)

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = g.Ready(context.Background())
		}(i)
	}

	// All three waiters join the one in-flight attempt.
	require.Eventually(t, func() bool {
		return g.State() == GateInitializing
	}, time.Second, 5*time.Millisecond)
	close(fp.provisionGate)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, fp.provisionCount())
}

func TestGateTimeoutThenRecovers(t *testing.T) {
	fp := newFakeProvider()
	fp.provisionGate = make(chan struct{})
	g := newTestGate(fp, 30*time.Millisecond)

	_, err := g.Ready(context.Background())
	assert.ErrorIs(t, err, ErrProvisioningTimeout)

	// The attempt keeps running; once it lands, later callers succeed.
	close(fp.provisionGate)
	require.Eventually(t, func() bool {
		return g.State() == GateReady
	}, time.Second, 5*time.Millisecond)

	_, err = g.Ready(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fp.provisionCount())
}

func TestGateStickyErrorUntilRetry(t *testing.T) {
	fp := newFakeProvider()
	fp.provisionErr = errors.New("registrar unreachable")
	g := newTestGate(fp, time.Second)

	_, err := g.Ready(context.Background())
	assert.ErrorIs(t, err, ErrProvisioningFailed)
	assert.Equal(t, GateError, g.State())

	// The error is sticky: no silent re-attempt on the next call.
	_, err = g.Ready(context.Background())
	assert.ErrorIs(t, err, ErrProvisioningFailed)
	assert.Equal(t, 1, fp.provisionCount())

	fp.mu.Lock()
	fp.provisionErr = nil
	fp.mu.Unlock()

	conn, err := g.Retry(context.Background())
	require.NoError(t, err)
	assert.Same(t, fp.conn, conn)
	assert.Equal(t, 2, fp.provisionCount())
	assert.Equal(t, GateReady, g.State())
}

func TestGateContextCancelled(t *testing.T) {
	fp := newFakeProvider()
	fp.provisionGate = make(chan struct{})
	defer close(fp.provisionGate)
	g := newTestGate(fp, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Ready(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGateClose(t *testing.T) {
	fp := newFakeProvider()
	g := newTestGate(fp, time.Second)

	_, err := g.Ready(context.Background())
	require.NoError(t, err)

	require.NoError(t, g.Close())
	assert.Equal(t, GateNotReady, g.State())
	fp.conn.mu.Lock()
	closed := fp.conn.closed
	fp.conn.mu.Unlock()
	assert.True(t, closed)
}
