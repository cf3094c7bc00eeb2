// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipphone

import (
	"strings"
	"testing"

	"github.com/pion/sdp/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martyn-hash/softcall"
)

func TestConfigDefaults(t *testing.T) {
	c := Config{}
	c.withDefaults()
	assert.Equal(t, "softcall", c.UserAgent)
	assert.Equal(t, "udp", c.Transport)
	assert.Equal(t, "127.0.0.1", c.BindHost)
	assert.Equal(t, 5060, c.BindPort)
	assert.Equal(t, c.BindHost, c.ExternalHost)

	c = Config{BindHost: "10.0.0.5"}
	c.withDefaults()
	assert.Equal(t, "10.0.0.5", c.ExternalHost)
}

func TestBuildOffer(t *testing.T) {
	body, err := buildOffer("alice", "10.1.2.3", dirSendRecv)
	require.NoError(t, err)

	var desc sdp.SessionDescription
	require.NoError(t, desc.Unmarshal(body))

	assert.Equal(t, "alice", desc.Origin.Username)
	require.Len(t, desc.MediaDescriptions, 1)
	audio := desc.MediaDescriptions[0]
	assert.Equal(t, "audio", audio.MediaName.Media)
	assert.Equal(t, []string{"0"}, audio.MediaName.Formats)

	s := string(body)
	assert.Contains(t, s, "a=rtpmap:0 PCMU/8000")
	assert.Contains(t, s, "a=sendrecv")
	assert.Contains(t, s, "c=IN IP4 10.1.2.3")
}

func TestBuildOfferHoldDirection(t *testing.T) {
	body, err := buildOffer("alice", "10.1.2.3", dirSendOnly)
	require.NoError(t, err)
	assert.Contains(t, string(body), "a=sendonly")
	assert.NotContains(t, string(body), "a=sendrecv")
}

func TestReasonForStatus(t *testing.T) {
	tests := []struct {
		status int
		want   softcall.CallReason
	}{
		{487, softcall.ReasonCancelled},
		{486, softcall.ReasonRejected},
		{603, softcall.ReasonRejected},
		{404, softcall.ReasonRejected},
		{408, softcall.ReasonFailedToConnect},
		{480, softcall.ReasonFailedToConnect},
		{500, softcall.ReasonFailed},
		{503, softcall.ReasonFailed},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, reasonForStatus(tc.status), "status %d", tc.status)
	}
}

func TestGenerateTag(t *testing.T) {
	a, b := generateTag(), generateTag()
	assert.Len(t, a, 8)
	assert.NotEqual(t, a, b)
	assert.False(t, strings.ContainsAny(a, " \t"))
}
