// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/aiku/whatsapp-gateway/pkg/gateway"
)

// Factory opens whatsmeow sessions for the connection manager.
type Factory struct {
	log        zerolog.Logger
	httpClient *http.Client
}

var _ gateway.SessionFactory = (*Factory)(nil)

// NewFactory creates a session factory.
func NewFactory(log zerolog.Logger) *Factory {
	return &Factory{
		log:        log.With().Str("component", "wa_factory").Logger(),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// LatestVersion asks WhatsApp Web for the current client version.
func (f *Factory) LatestVersion(ctx context.Context) (gateway.ProtocolVersion, error) {
	ver, err := whatsmeow.GetLatestVersion(ctx, f.httpClient)
	if err != nil {
		return gateway.ProtocolVersion{}, fmt.Errorf("failed to get latest version: %w", err)
	}
	return gateway.ProtocolVersion(*ver), nil
}

// Create builds a client for the device, subscribes to its events and starts
// connecting. Unpaired devices also get a pairing code stream. The returned
// session has not necessarily finished its handshake.
func (f *Factory) Create(ctx context.Context, clientID string, creds gateway.Credentials, version gateway.ProtocolVersion) (gateway.Session, error) {
	c, ok := creds.(*Credentials)
	if !ok || c.Device == nil {
		return nil, fmt.Errorf("unexpected credentials type %T", creds)
	}
	if !version.IsZero() {
		store.SetWAVersion(store.WAVersionContainer(version))
	}

	log := f.log.With().Str("client_id", clientID).Logger()
	client := whatsmeow.NewClient(c.Device, waLog.Zerolog(log.With().Str("component", "whatsmeow").Logger()))
	// Reconnection is the manager's job.
	client.EnableAutoReconnect = false

	sess := newSession(ctx, clientID, client, log)
	client.AddEventHandler(sess.handleWhatsAppEvent)
	// Queued before Connect so it cannot overtake the Connected event.
	sess.emit(gateway.ConnectionUpdate{Status: gateway.RawConnecting})

	if !c.Paired() {
		qrChan, err := client.GetQRChannel(sess.ctx)
		if err != nil {
			sess.cancel()
			return nil, fmt.Errorf("failed to get pairing code channel: %w", err)
		}
		go sess.watchQR(qrChan)
	}

	if err := client.Connect(); err != nil {
		sess.End()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	log.Debug().Bool("paired", c.Paired()).Msg("Connecting to WhatsApp")
	return sess, nil
}
