// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package softcall

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSessionDurationFromWallClock(t *testing.T) {
	clock := newFakeClock()
	sess := newCallSession("s-1", "+447123456789", CallContext{}, clock.Now)

	// Never connected: duration stays zero no matter how long it rang.
	clock.Advance(time.Minute)
	assert.Equal(t, time.Duration(0), sess.freeze())

	sess = newCallSession("s-2", "+447123456789", CallContext{}, clock.Now)
	assert.True(t, sess.markConnected())
	assert.False(t, sess.markConnected())

	clock.Advance(42 * time.Second)
	assert.Equal(t, 42, sess.Snapshot().ElapsedSeconds)

	assert.Equal(t, 42*time.Second, sess.freeze())

	// Frozen: later reads do not keep counting.
	clock.Advance(time.Hour)
	assert.Equal(t, 42, sess.Snapshot().ElapsedSeconds)
	assert.Equal(t, 42*time.Second, sess.freeze())
}

func TestSessionSnapshot(t *testing.T) {
	clock := newFakeClock()
	sess := newCallSession("s-3", "+447123456789", CallContext{ClientID: "cl-1"}, clock.Now)

	st := sess.Snapshot()
	assert.Equal(t, "s-3", st.SessionID)
	assert.Equal(t, StatusRinging, st.Status)
	assert.Equal(t, "+447123456789", st.PhoneNumber)
	assert.Equal(t, 0, st.ElapsedSeconds)
	assert.False(t, st.IsMuted)
	assert.False(t, st.IsOnHold)
}
