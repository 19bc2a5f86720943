// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package gateway owns the per-client WhatsApp session lifecycle.
//
// A client is an opaque, externally supplied identifier. For every client the
// [Manager] keeps at most one live [Session], created lazily by [Manager.Acquire]
// through a [SessionFactory] using credentials from a [CredentialStore].
//
// # Event Handling
//
// Each live session delivers [CredsUpdate] and [ConnectionUpdate] events on a
// channel. One pump goroutine per session consumes them strictly in order, so
// a credential update is persisted before the next event is looked at. The
// pump derives the raw and friendly status, the current pairing code and the
// last activity time. Events from a session that is no longer the live one for
// its client are dropped.
//
// # Disconnect Policy
//
// A close carrying a [DisconnectCause] is resolved through [DisconnectCause.Policy]:
// authentication failures erase the stored credentials, conflicts stop the
// client, and everything else schedules exactly one reconnect after the
// configured delay. The table is exhaustive on purpose; see cause.go.
//
// # Observers
//
// Lifecycle transitions are reported to every registered [Observer] outside
// the manager lock. The API websocket hub, the operator notifiers and the
// Mongo journal are observers.
package gateway
