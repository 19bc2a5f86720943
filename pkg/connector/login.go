// Copyright 2024-2026 Aiku AI

package connector

import (
	"errors"
	"fmt"

	"go.mau.fi/whatsmeow"

	"github.com/aiku/whatsapp-gateway/pkg/gateway"
)

// watchQR forwards pairing codes to the manager until pairing ends. A code
// is only valid for a short time; whatsmeow rotates it and eventually gives
// up with a timeout, which the manager treats as a transient failure.
func (s *Session) watchQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for {
		select {
		case <-s.stopChan:
			return
		case item, ok := <-qrChan:
			if !ok {
				return
			}
			if done := s.handleQRItem(item); done {
				return
			}
		}
	}
}

// handleQRItem reports whether pairing has finished, successfully or not.
func (s *Session) handleQRItem(item whatsmeow.QRChannelItem) bool {
	switch item.Event {
	case whatsmeow.QRChannelEventCode:
		s.log.Debug().Dur("timeout", item.Timeout).Msg("New pairing code")
		s.emit(gateway.ConnectionUpdate{QR: item.Code})
		return false
	case whatsmeow.QRChannelSuccess.Event:
		// The PairSuccess event carries the outcome.
		return true
	case whatsmeow.QRChannelTimeout.Event:
		s.log.Info().Msg("Pairing code expired without being scanned")
		s.emitClose(gateway.CauseTimedOut, errors.New("pairing timed out"))
		return true
	case whatsmeow.QRChannelScannedWithoutMultidevice.Event:
		s.emitClose(gateway.CauseMultideviceMismatch, errors.New("pairing code scanned without multidevice enabled"))
		return true
	case whatsmeow.QRChannelEventError:
		s.emitClose(gateway.CauseBadSession, fmt.Errorf("pairing failed: %w", item.Error))
		return true
	default:
		s.emitClose(gateway.CauseBadSession, fmt.Errorf("unexpected pairing event %q", item.Event))
		return true
	}
}
