// Copyright 2024-2026 Aiku AI

package notify

import (
	"context"
	"fmt"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/format"
	"maunium.net/go/mautrix/id"
)

// MatrixConfig selects the room notices are sent to.
type MatrixConfig struct {
	Homeserver  string `yaml:"homeserver"`
	UserID      string `yaml:"user_id"`
	AccessToken string `yaml:"access_token"`
	RoomID      string `yaml:"room_id"`
}

// Enabled reports whether every field needed to send is set.
func (c MatrixConfig) Enabled() bool {
	return c.Homeserver != "" && c.UserID != "" && c.AccessToken != "" && c.RoomID != ""
}

// MatrixSender sends notices as m.notice events.
type MatrixSender struct {
	client *mautrix.Client
	roomID id.RoomID
}

var _ Sender = (*MatrixSender)(nil)

func NewMatrixSender(cfg MatrixConfig) (*MatrixSender, error) {
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create matrix client: %w", err)
	}
	return &MatrixSender{client: client, roomID: id.RoomID(cfg.RoomID)}, nil
}

func (m *MatrixSender) Name() string { return "matrix" }

func (m *MatrixSender) Send(ctx context.Context, notice Notice) error {
	content := format.RenderMarkdown(notice.Markdown, true, false)
	content.MsgType = event.MsgNotice
	if _, err := m.client.SendMessageEvent(ctx, m.roomID, event.EventMessage, &content); err != nil {
		return fmt.Errorf("failed to send matrix notice: %w", err)
	}
	return nil
}
