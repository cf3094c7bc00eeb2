// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package softcall

import (
	"context"
	"time"
)

// CallLogRequest is the persistence request for one finished call. The call
// manager issues exactly one request per session id; idempotency is enforced
// here, not assumed of the store.
type CallLogRequest struct {
	ClientID        string     `json:"clientId"`
	PersonID        string     `json:"personId,omitempty"`
	PhoneNumber     string     `json:"phoneNumber"`
	Direction       string     `json:"direction"`
	DurationSeconds int        `json:"durationSeconds"`
	SessionID       string     `json:"sessionId"`
	Reason          CallReason `json:"reason"`
}

// CommunicationRecord is the stored communications entry returned by the
// store on success.
type CommunicationRecord struct {
	ID              string     `json:"id"`
	ClientID        string     `json:"clientId"`
	PersonID        string     `json:"personId,omitempty"`
	PhoneNumber     string     `json:"phoneNumber"`
	Direction       string     `json:"direction"`
	DurationSeconds int        `json:"durationSeconds"`
	SessionID       string     `json:"sessionId"`
	Reason          CallReason `json:"reason,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// CommunicationsClient persists finished calls to the communications store.
type CommunicationsClient interface {
	LogCall(ctx context.Context, req CallLogRequest) (CommunicationRecord, error)
}
