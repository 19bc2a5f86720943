// Copyright 2024-2026 Aiku AI

package connector

import (
	"errors"
	"fmt"

	"go.mau.fi/whatsmeow/types/events"

	"github.com/aiku/whatsapp-gateway/pkg/connector/phonefmt"
	"github.com/aiku/whatsapp-gateway/pkg/gateway"
)

// handleWhatsAppEvent translates a whatsmeow event into gateway events.
// Events the gateway does not track are ignored.
func (s *Session) handleWhatsAppEvent(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Connected:
		s.log.Info().Msg("Connected to WhatsApp")
		s.emit(gateway.ConnectionUpdate{Status: gateway.RawOpen})
	case *events.PairSuccess:
		s.log.Info().
			Str("jid", phonefmt.MaskJID(evt.ID.String())).
			Str("platform", evt.Platform).
			Msg("Pairing succeeded")
		s.emit(gateway.CredsUpdate{})
		s.emit(gateway.ConnectionUpdate{Status: gateway.RawConnecting})
	case *events.PairError:
		s.emitClose(gateway.CauseBadSession, fmt.Errorf("pairing failed: %w", evt.Error))
	case *events.LoggedOut:
		s.emitClose(gateway.CauseLoggedOut, fmt.Errorf("logged out (on connect: %t, reason: %d)", evt.OnConnect, int(evt.Reason)))
	case *events.StreamReplaced:
		s.emitClose(gateway.CauseConnectionReplaced, errors.New("stream replaced by another connection"))
	case *events.TemporaryBan:
		s.emitClose(gateway.CauseForbidden, fmt.Errorf("temporarily banned (code %d, expires in %s)", int(evt.Code), evt.Expire))
	case *events.ConnectFailure:
		s.emitClose(connectFailureCause(evt), fmt.Errorf("connect failure %d: %s", int(evt.Reason), evt.Message))
	case *events.ClientOutdated:
		s.emitClose(gateway.CauseBadSession, errors.New("client version outdated"))
	case *events.StreamError:
		cause := gateway.CauseBadSession
		if evt.Code == "515" {
			cause = gateway.CauseRestartRequired
		}
		s.emitClose(cause, fmt.Errorf("stream error %s", evt.Code))
	case *events.Disconnected:
		s.emitClose(gateway.CauseTimedOut, errors.New("connection lost"))
	case *events.KeepAliveTimeout:
		s.log.Debug().Int("error_count", evt.ErrorCount).Msg("Keepalive timed out")
		s.emit(gateway.ConnectionUpdate{Status: gateway.RawConnecting})
	case *events.KeepAliveRestored:
		s.emit(gateway.ConnectionUpdate{Status: gateway.RawOpen})
	default:
		s.log.Trace().Str("event_type", fmt.Sprintf("%T", rawEvt)).Msg("Unhandled event type")
	}
}

func connectFailureCause(evt *events.ConnectFailure) gateway.DisconnectCause {
	switch {
	case evt.Reason.IsLoggedOut():
		return gateway.CauseLoggedOut
	case evt.Reason == events.ConnectFailureTempBanned:
		return gateway.CauseForbidden
	case evt.Reason == events.ConnectFailureServiceUnavailable:
		return gateway.CauseUnavailableService
	default:
		return gateway.CauseBadSession
	}
}
