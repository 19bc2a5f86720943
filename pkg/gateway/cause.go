// Copyright 2024-2026 Aiku AI

package gateway

import "strconv"

// DisconnectCause classifies why a session closed. The numeric values follow
// the status codes WhatsApp web clients use, which keeps logs and journal
// entries comparable with other tooling.
type DisconnectCause int

const (
	CauseNone                DisconnectCause = 0
	CauseUnknown             DisconnectCause = 1
	CauseLoggedOut           DisconnectCause = 401
	CauseForbidden           DisconnectCause = 403
	CauseTimedOut            DisconnectCause = 408
	CauseMultideviceMismatch DisconnectCause = 411
	CauseConnectionClosed    DisconnectCause = 428
	CauseConnectionReplaced  DisconnectCause = 440
	CauseBadSession          DisconnectCause = 500
	CauseUnavailableService  DisconnectCause = 503
	CauseRestartRequired     DisconnectCause = 515
)

// Policy is what the manager does after a session closes.
type Policy int

const (
	// PolicyRetry schedules one reconnect after the reconnect delay.
	PolicyRetry Policy = iota
	// PolicyStop clears the pairing code and marks the client disconnected.
	PolicyStop
	// PolicyErase does what PolicyStop does and also erases the credentials.
	PolicyErase
)

func (p Policy) String() string {
	switch p {
	case PolicyRetry:
		return "retry"
	case PolicyStop:
		return "stop"
	case PolicyErase:
		return "erase"
	default:
		return "policy(" + strconv.Itoa(int(p)) + ")"
	}
}

// Policy returns the reconnection policy for the cause. Every known cause is
// listed; unrecognised codes are treated like CauseUnknown.
func (c DisconnectCause) Policy() Policy {
	switch c {
	case CauseLoggedOut, CauseMultideviceMismatch:
		return PolicyErase
	case CauseForbidden, CauseConnectionClosed, CauseConnectionReplaced:
		return PolicyStop
	default:
		return PolicyRetry
	}
}

func (c DisconnectCause) String() string {
	switch c {
	case CauseNone:
		return "none"
	case CauseUnknown:
		return "unknown"
	case CauseLoggedOut:
		return "logged_out"
	case CauseForbidden:
		return "forbidden"
	case CauseTimedOut:
		return "timed_out"
	case CauseMultideviceMismatch:
		return "multidevice_mismatch"
	case CauseConnectionClosed:
		return "connection_closed"
	case CauseConnectionReplaced:
		return "connection_replaced"
	case CauseBadSession:
		return "bad_session"
	case CauseUnavailableService:
		return "unavailable_service"
	case CauseRestartRequired:
		return "restart_required"
	default:
		return "code_" + strconv.Itoa(int(c))
	}
}
