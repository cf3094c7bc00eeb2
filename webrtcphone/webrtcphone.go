// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

// Package webrtcphone is a WebRTC provider for softcall built on pion. Call
// control travels over a Signaler supplied by the integrator (the CRM
// backend's own signaling channel); pion carries the audio.
package webrtcphone

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/webrtc/v3"

	"github.com/martyn-hash/softcall"
)

var webrtcConfig = webrtc.Configuration{
	ICEServers: []webrtc.ICEServer{
		{
			URLs: []string{"stun:stun.l.google.com:19302"},
		},
	},
}

var webrtcAPI *webrtc.API

func init() {
	m := webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: 8000, Channels: 0, SDPFmtpLine: "", RTCPFeedback: nil},
		PayloadType:        0,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		panic(err)
	}

	settEng := webrtc.SettingEngine{}
	webrtcAPI = webrtc.NewAPI(
		webrtc.WithMediaEngine(&m),
		webrtc.WithSettingEngine(settEng),
	)
}

// Signaler is the out-of-band channel that carries offers, answers and call
// control. WebRTC has no dialing of its own; the integrator supplies this.
type Signaler interface {
	// Dial asks the far side to ring number with the given SDP offer.
	Dial(ctx context.Context, number, offer string) (RemoteCall, error)
}

// RemoteCall is the far side of one dialed call on the signaling channel.
type RemoteCall interface {
	// Answer yields the SDP answer once the callee picks up. The channel is
	// closed without a value when the call ends unanswered.
	Answer() <-chan string

	// Terminated yields the reason once the far side ends the call.
	Terminated() <-chan softcall.CallReason

	// Hangup asks the far side to stop ringing or end the call.
	Hangup(ctx context.Context) error

	Close() error
}

type Provider struct {
	signaler Signaler
	log      *slog.Logger
}

type ProviderOption func(p *Provider)

func WithLogger(l *slog.Logger) ProviderOption {
	return func(p *Provider) {
		p.log = l
	}
}

func NewProvider(signaler Signaler, opts ...ProviderOption) *Provider {
	p := &Provider{
		signaler: signaler,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Provision is a no-op: WebRTC endpoints carry no registration of their own,
// the signaling channel authenticates out of band.
func (p *Provider) Provision(ctx context.Context) (softcall.ProviderCredentials, error) {
	return softcall.ProviderCredentials{}, nil
}

func (p *Provider) Connect(ctx context.Context, creds softcall.ProviderCredentials) (softcall.ProviderConnection, error) {
	if p.signaler == nil {
		return nil, fmt.Errorf("webrtcphone: no signaler configured")
	}
	return &Connection{signaler: p.signaler, log: p.log}, nil
}

// Connection hands out one peer connection per call.
type Connection struct {
	signaler Signaler
	log      *slog.Logger
}

func (c *Connection) Call(ctx context.Context, number string) (softcall.ProviderSession, error) {
	return dial(ctx, c, number)
}

func (c *Connection) Close() error { return nil }
