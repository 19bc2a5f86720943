// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package connector implements the gateway's session and credential
// interfaces on top of whatsmeow.
//
// # Core Types
//
// [Store] keeps one sqlite whatsmeow store per client. The directory of a
// client is named after a truncated BLAKE3 hash of its ID and also holds a
// marker file with the ID itself, so operators can tell directories apart.
//
// [Factory] opens a whatsmeow client for a device, disables whatsmeow's own
// reconnect loop and returns a [Session].
//
// [Session] forwards whatsmeow events to the connection manager as
// [gateway.ConnectionUpdate] and [gateway.CredsUpdate] values. Every close
// carries a [gateway.DisconnectCause] so the manager can decide between
// retrying, stopping and erasing the credentials.
//
// # Sub-packages
//
//   - phonefmt builds phone number variants and masks numbers for logs.
package connector
