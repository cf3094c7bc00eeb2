// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package softcall

import (
	"context"
	"errors"
	"time"
)

// ErrNotSupported is returned by provider session commands the underlying
// telephony stack does not implement. The hangup cascade skips over it.
var ErrNotSupported = errors.New("softcall: not supported by provider")

// ProviderCredentials is the result of one-shot provisioning against the
// telephony backend. Adapters decide which fields are meaningful.
type ProviderCredentials struct {
	Username string
	Password string
	Realm    string
	// Expires is when credentials must be refreshed. Zero means no expiry.
	Expires time.Time
}

// Provider is the softphone backend. It is treated as a black box: the call
// manager only provisions it, places calls through it and consumes its
// session events.
type Provider interface {
	// Provision performs one-shot setup (registration, credential fetch).
	Provision(ctx context.Context) (ProviderCredentials, error)
	// Connect establishes the live softphone connection used for dialing.
	Connect(ctx context.Context, creds ProviderCredentials) (ProviderConnection, error)
}

// ProviderConnection is a live softphone registration. One connection drives
// at most one call at a time.
type ProviderConnection interface {
	// Call dials number (E.164 form) and returns the in-progress session.
	// Returning without error means the dial request was accepted, not that
	// the callee answered.
	Call(ctx context.Context, number string) (ProviderSession, error)
	Close() error
}

// EventKind classifies provider session events into the small taxonomy the
// call manager understands. Providers surface many event names; adapters
// must map all of them onto these.
type EventKind string

const (
	// EventProgress is any connecting-progress signal (100/180/183, ICE
	// checks...). May repeat.
	EventProgress EventKind = "progress"
	// EventAnswered is any connected-equivalent signal. Providers may emit
	// several (accepted, confirmed); only the first matters.
	EventAnswered EventKind = "answered"
	// EventTerminated is any termination variant: local or remote hangup,
	// session end, disposal, cancellation, rejection.
	EventTerminated EventKind = "terminated"
	// EventFailed is a transport or signaling failure.
	EventFailed EventKind = "failed"
)

// SessionEvent is one lifecycle event of a provider session.
type SessionEvent struct {
	Kind EventKind
	// Reason refines terminated events. Zero value lets the call manager
	// derive a reason from the session state.
	Reason CallReason
	// Err carries the cause for failed events.
	Err error
}

// ProviderSession is a single placed call at the provider. The session owns
// the live audio stream and must release it on Dispose.
//
// Termination methods are best effort and ordered by gracefulness:
// Hangup, Bye, Terminate, Cancel, Dispose. A session only needs to implement
// the ones meaningful for its stack and returns ErrNotSupported for the rest.
type ProviderSession interface {
	// Events delivers lifecycle events. The channel is closed when the
	// session is over; closing counts as a termination signal.
	Events() <-chan SessionEvent

	Mute(muted bool) error
	Hold(held bool) error

	Hangup(ctx context.Context) error
	Bye(ctx context.Context) error
	Terminate(ctx context.Context) error
	Cancel(ctx context.Context) error
	// Dispose force-releases session resources. Must be safe to call
	// multiple times and after any of the methods above.
	Dispose()
}
