// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"

	"github.com/aiku/whatsapp-gateway/pkg/connector/phonefmt"
	"github.com/aiku/whatsapp-gateway/pkg/gateway"
)

// eventBuffer is the capacity of a session's event channel. The manager
// drains it continuously; the buffer only absorbs bursts during connect.
const eventBuffer = 32

// waClient is the part of *whatsmeow.Client a session uses. Tests substitute
// a fake.
type waClient interface {
	Disconnect()
	Logout(ctx context.Context) error
	IsOnWhatsApp(phones []string) ([]types.IsOnWhatsAppResponse, error)
	SendMessage(ctx context.Context, to types.JID, message *waE2E.Message, extra ...whatsmeow.SendRequestExtra) (whatsmeow.SendResponse, error)
}

var _ waClient = (*whatsmeow.Client)(nil)

// Session is one client's WhatsApp connection. It translates whatsmeow
// events into gateway events and never reconnects on its own.
type Session struct {
	clientID string
	client   waClient
	log      zerolog.Logger

	events chan gateway.Event
	ctx    context.Context
	cancel context.CancelFunc

	stopOnce sync.Once
	stopChan chan struct{}
}

var _ gateway.Session = (*Session)(nil)

func newSession(ctx context.Context, clientID string, client waClient, log zerolog.Logger) *Session {
	ctx, cancel := context.WithCancel(ctx)
	return &Session{
		clientID: clientID,
		client:   client,
		log:      log,
		events:   make(chan gateway.Event, eventBuffer),
		ctx:      ctx,
		cancel:   cancel,
		stopChan: make(chan struct{}),
	}
}

func (s *Session) Events() <-chan gateway.Event {
	return s.events
}

// emit hands an event to the manager. It gives up once the session has
// ended so whatsmeow's event goroutine is never stuck on a dead session.
func (s *Session) emit(evt gateway.Event) {
	select {
	case <-s.stopChan:
	case s.events <- evt:
	}
}

func (s *Session) emitClose(cause gateway.DisconnectCause, err error) {
	s.emit(gateway.ConnectionUpdate{Status: gateway.RawClose, Cause: cause, Err: err})
}

// Logout unlinks the device from the account. whatsmeow also deletes the
// device from the credential store.
func (s *Session) Logout(ctx context.Context) error {
	if err := s.client.Logout(ctx); err != nil {
		return fmt.Errorf("failed to log out: %w", err)
	}
	return nil
}

// End drops the connection. It is safe to call more than once.
func (s *Session) End() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.cancel()
		s.client.Disconnect()
		s.log.Debug().Msg("Session ended")
	})
}

// ResolveNumber asks WhatsApp whether an international number has an
// account.
func (s *Session) ResolveNumber(_ context.Context, phone string) (string, bool, error) {
	resp, err := s.client.IsOnWhatsApp([]string{"+" + phone})
	if err != nil {
		return "", false, fmt.Errorf("failed to check number: %w", err)
	}
	for _, r := range resp {
		if r.IsIn && !r.JID.IsEmpty() {
			return r.JID.String(), true, nil
		}
	}
	return "", false, nil
}

// SendText sends a plain text message and returns its message ID.
func (s *Session) SendText(ctx context.Context, jid, text string) (string, error) {
	to, err := ParseRecipient(jid)
	if err != nil {
		return "", err
	}
	resp, err := s.client.SendMessage(ctx, to, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}
	s.log.Debug().
		Str("to", phonefmt.MaskJID(to.String())).
		Str("message_id", string(resp.ID)).
		Msg("Message sent")
	return string(resp.ID), nil
}
