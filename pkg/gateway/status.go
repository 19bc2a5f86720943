// Copyright 2024-2026 Aiku AI

package gateway

// RawStatus is the connection status reported by the transport. It is
// open-ended; the values below are the ones the gateway itself produces or
// reacts to.
type RawStatus string

const (
	RawInitializing RawStatus = "initializing"
	RawConnecting   RawStatus = "connecting"
	RawOpen         RawStatus = "open"
	RawClose        RawStatus = "close"
	RawDisconnected RawStatus = "disconnected"
	RawNone         RawStatus = "none"
)

// FriendlyStatus is the only status vocabulary exposed to API callers.
type FriendlyStatus string

const (
	StatusConnecting   FriendlyStatus = "connecting"
	StatusConnected    FriendlyStatus = "connected"
	StatusDisconnected FriendlyStatus = "disconnected"
)

// MapFriendly projects a raw transport status onto the friendly vocabulary.
func MapFriendly(raw RawStatus) FriendlyStatus {
	switch raw {
	case RawOpen:
		return StatusConnected
	case RawClose, RawDisconnected, RawNone:
		return StatusDisconnected
	default:
		return StatusConnecting
	}
}
