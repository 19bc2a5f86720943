// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"

	"github.com/aiku/whatsapp-gateway/pkg/gateway"
)

// mockWAClient records calls made by a Session.
type mockWAClient struct {
	mu          sync.Mutex
	disconnects int
	logouts     int
	logoutErr   error
	onWhatsApp  map[string]types.IsOnWhatsAppResponse
	checkErr    error
	sent        []sentMessage
	sendErr     error
}

type sentMessage struct {
	To   types.JID
	Text string
}

func (m *mockWAClient) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnects++
}

func (m *mockWAClient) Logout(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logouts++
	return m.logoutErr
}

func (m *mockWAClient) IsOnWhatsApp(phones []string) ([]types.IsOnWhatsAppResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.checkErr != nil {
		return nil, m.checkErr
	}
	out := make([]types.IsOnWhatsAppResponse, 0, len(phones))
	for _, p := range phones {
		if r, ok := m.onWhatsApp[p]; ok {
			out = append(out, r)
		} else {
			out = append(out, types.IsOnWhatsAppResponse{Query: p})
		}
	}
	return out, nil
}

func (m *mockWAClient) SendMessage(_ context.Context, to types.JID, message *waE2E.Message, _ ...whatsmeow.SendRequestExtra) (whatsmeow.SendResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return whatsmeow.SendResponse{}, m.sendErr
	}
	m.sent = append(m.sent, sentMessage{To: to, Text: message.GetConversation()})
	return whatsmeow.SendResponse{ID: "3EB0C767D71D"}, nil
}

func newTestSession(t *testing.T, client *mockWAClient) *Session {
	t.Helper()
	sess := newSession(context.Background(), "acme", client, zerolog.Nop())
	t.Cleanup(sess.End)
	return sess
}

// nextEvent reads one event or fails the test.
func nextEvent(t *testing.T, sess *Session) gateway.Event {
	t.Helper()
	select {
	case evt := <-sess.Events():
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session event")
		return nil
	}
}

// expectNoEvent fails the test if an event is pending.
func expectNoEvent(t *testing.T, sess *Session) {
	t.Helper()
	select {
	case evt := <-sess.Events():
		t.Fatalf("unexpected event %#v", evt)
	default:
	}
}

// expectClose reads a close update and checks its cause.
func expectClose(t *testing.T, sess *Session, want gateway.DisconnectCause) {
	t.Helper()
	upd, ok := nextEvent(t, sess).(gateway.ConnectionUpdate)
	if !ok {
		t.Fatal("expected a ConnectionUpdate")
	}
	if upd.Status != gateway.RawClose {
		t.Fatalf("Status: got %q, want %q", upd.Status, gateway.RawClose)
	}
	if upd.Cause != want {
		t.Errorf("Cause: got %v, want %v", upd.Cause, want)
	}
	if upd.Err == nil {
		t.Error("close updates should carry an error for logging")
	}
}

var errBoom = errors.New("boom")
