// Copyright 2024-2026 Aiku AI

package connector

import (
	"errors"
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow/types"

	"github.com/aiku/whatsapp-gateway/pkg/connector/phonefmt"
)

var ErrInvalidRecipient = errors.New("invalid recipient")

// ParseRecipient accepts a full address or a bare international number.
func ParseRecipient(recipient string) (types.JID, error) {
	recipient = strings.TrimSpace(recipient)
	if strings.Contains(recipient, "@") {
		jid, err := types.ParseJID(recipient)
		if err != nil {
			return types.EmptyJID, fmt.Errorf("%w: %w", ErrInvalidRecipient, err)
		}
		if jid.User == "" {
			return types.EmptyJID, fmt.Errorf("%w: missing user part", ErrInvalidRecipient)
		}
		return jid, nil
	}
	digits := phonefmt.Digits(recipient)
	if digits == "" {
		return types.EmptyJID, fmt.Errorf("%w: %q has no digits", ErrInvalidRecipient, recipient)
	}
	return types.NewJID(digits, types.DefaultUserServer), nil
}

// MakeUserJID returns the address of an international number as a string.
func MakeUserJID(number string) string {
	return types.NewJID(phonefmt.Digits(number), types.DefaultUserServer).String()
}
