// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package softcall

// CallReason describes the outcome of a finished call. Every termination
// variant the provider emits is collapsed into this taxonomy so the logger
// and the UI never special-case provider event names.
type CallReason string

const (
	// ReasonCompleted is a call that connected and was hung up, locally or
	// remotely.
	ReasonCompleted CallReason = "completed"
	// ReasonCancelled is a call we abandoned before the callee picked up.
	ReasonCancelled CallReason = "cancelled"
	// ReasonRejected is a call the remote side declined before connecting.
	ReasonRejected CallReason = "rejected"
	// ReasonFailedToConnect is a dial that never reached a
	// connected-equivalent state within the dial timeout.
	ReasonFailedToConnect CallReason = "failed_to_connect"
	// ReasonFailed is a transport or signaling failure mid-setup or mid-call.
	ReasonFailed CallReason = "failed"
)
