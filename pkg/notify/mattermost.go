// Copyright 2024-2026 Aiku AI

package notify

import (
	"context"
	"fmt"

	"github.com/mattermost/mattermost/server/public/model"
)

// MattermostConfig selects the channel notices are posted to.
type MattermostConfig struct {
	ServerURL string `yaml:"server_url"`
	Token     string `yaml:"token"`
	ChannelID string `yaml:"channel_id"`
}

// Enabled reports whether every field needed to post is set.
func (c MattermostConfig) Enabled() bool {
	return c.ServerURL != "" && c.Token != "" && c.ChannelID != ""
}

// MattermostSender posts notices to a Mattermost channel as the token's user.
type MattermostSender struct {
	client    *model.Client4
	channelID string
}

var _ Sender = (*MattermostSender)(nil)

func NewMattermostSender(cfg MattermostConfig) *MattermostSender {
	client := model.NewAPIv4Client(cfg.ServerURL)
	client.SetToken(cfg.Token)
	return &MattermostSender{client: client, channelID: cfg.ChannelID}
}

func (m *MattermostSender) Name() string { return "mattermost" }

func (m *MattermostSender) Send(ctx context.Context, notice Notice) error {
	_, _, err := m.client.CreatePost(ctx, &model.Post{
		ChannelId: m.channelID,
		Message:   notice.Markdown,
	})
	if err != nil {
		return fmt.Errorf("failed to create post: %w", err)
	}
	return nil
}
