// Copyright 2024-2026 Aiku AI

package gateway

import "time"

// LifecycleKind names a lifecycle transition.
type LifecycleKind string

const (
	KindSessionCreated    LifecycleKind = "session_created"
	KindCreationFailed    LifecycleKind = "creation_failed"
	KindQRUpdated         LifecycleKind = "qr_updated"
	KindConnected         LifecycleKind = "connected"
	KindClosed            LifecycleKind = "closed"
	KindCredentialsErased LifecycleKind = "credentials_erased"
	KindRetryScheduled    LifecycleKind = "retry_scheduled"
	KindDisconnected      LifecycleKind = "disconnected"
	KindEvicted           LifecycleKind = "evicted"
)

// LifecycleEvent describes one transition of one client. Cause and Policy are
// only meaningful for KindClosed.
type LifecycleEvent struct {
	ClientID  string          `json:"client_id"`
	Kind      LifecycleKind   `json:"kind"`
	Status    FriendlyStatus  `json:"status"`
	RawStatus RawStatus       `json:"raw_status,omitempty"`
	Cause     DisconnectCause `json:"cause,omitempty"`
	Policy    string          `json:"policy,omitempty"`
	Error     string          `json:"error,omitempty"`
	Time      time.Time       `json:"time"`
}

// Observer receives lifecycle events. Implementations must return quickly;
// anything slow belongs in a goroutine.
type Observer interface {
	ObserveLifecycle(evt LifecycleEvent)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(evt LifecycleEvent)

func (f ObserverFunc) ObserveLifecycle(evt LifecycleEvent) { f(evt) }
