// Copyright 2024-2026 Aiku AI

package gateway

import (
	"context"
	"fmt"
)

// Credentials is the key material a CredentialStore hands to a
// SessionFactory. Its contents are opaque to the manager.
type Credentials interface {
	// Paired reports whether the credentials were accepted by the network at
	// least once, i.e. a session can be opened without a new pairing code.
	Paired() bool
}

// CredentialStore keeps one durable credential bundle per client.
type CredentialStore interface {
	LoadOrCreate(ctx context.Context, clientID string) (Credentials, error)
	Persist(ctx context.Context, clientID string, creds Credentials) error
	Erase(clientID string) error
}

// ProtocolVersion is the client version announced to the network. The zero
// value means "use the transport's built-in version".
type ProtocolVersion [3]uint32

func (v ProtocolVersion) IsZero() bool {
	return v == ProtocolVersion{}
}

func (v ProtocolVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v[0], v[1], v[2])
}

// SessionFactory opens sessions against the messaging network.
type SessionFactory interface {
	LatestVersion(ctx context.Context) (ProtocolVersion, error)
	Create(ctx context.Context, clientID string, creds Credentials, version ProtocolVersion) (Session, error)
}

// Session is a live connection for one client. Events are delivered until
// the session ends; the channel may be closed by the transport when it dies.
type Session interface {
	Events() <-chan Event

	// Logout unlinks the device remotely. It may fail.
	Logout(ctx context.Context) error
	// End drops the transport without logging out. It is idempotent.
	End()

	// ResolveNumber checks whether a phone number (digits only, with country
	// code) has a WhatsApp account and returns its JID.
	ResolveNumber(ctx context.Context, phone string) (jid string, ok bool, err error)
	SendText(ctx context.Context, jid, text string) (messageID string, err error)
}

// Event is either a CredsUpdate or a ConnectionUpdate.
type Event interface {
	isEvent()
}

// CredsUpdate signals that the session's key material changed and must be
// persisted before any further event is handled.
type CredsUpdate struct{}

// ConnectionUpdate carries an optional pairing code, an optional raw status
// and, for closes, the cause. Zero fields are absent.
type ConnectionUpdate struct {
	QR     string
	Status RawStatus
	Cause  DisconnectCause
	// Err is the transport error behind the cause, for logging only.
	Err error
}

func (CredsUpdate) isEvent()      {}
func (ConnectionUpdate) isEvent() {}
