// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package softcall

import "errors"

// Provider level errors never cross the call manager boundary raw. They are
// translated into this taxonomy and wrapped, so callers match with errors.Is.
var (
	// ErrPermissionDenied: microphone access refused. No session was created.
	ErrPermissionDenied = errors.New("softcall: microphone permission denied")

	// ErrProvisioningFailed: softphone credentials or connection could not be
	// established. The gate stays in error until Retry.
	ErrProvisioningFailed = errors.New("softcall: provisioning failed")

	// ErrProvisioningTimeout: readiness not reached within the bounded wait.
	// Initialization keeps running; the caller may try again.
	ErrProvisioningTimeout = errors.New("softcall: provisioning timeout")

	// ErrDialFailed: provider rejected or errored placing the call.
	ErrDialFailed = errors.New("softcall: dial failed")

	// ErrDialTimeout: no connected-equivalent signal within the dial window.
	ErrDialTimeout = errors.New("softcall: dial timeout")

	// ErrCallInProgress: a session is already ringing, connected or still
	// finishing its finalize path.
	ErrCallInProgress = errors.New("softcall: call already in progress")

	// ErrNotConnected: command requires a connected call.
	ErrNotConnected = errors.New("softcall: no connected call")

	// ErrNoActiveCall: command requires an active (ringing or connected) call.
	ErrNoActiveCall = errors.New("softcall: no active call")

	// ErrNoNumber: PlaceCall needs a destination number.
	ErrNoNumber = errors.New("softcall: no destination number")

	// ErrBadNumber: destination could not be normalized to a dialable form.
	ErrBadNumber = errors.New("softcall: invalid destination number")

	// ErrLoggingFailed: the communications store rejected or failed the log
	// request. The call still finishes and the session resets.
	ErrLoggingFailed = errors.New("softcall: call logging failed")
)
