// Copyright 2024-2026 Aiku AI

// Package notify tells operators when a WhatsApp client needs attention:
// its credentials were erased and it must be paired again, or the server
// stopped it for good.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/whatsapp-gateway/pkg/gateway"
)

// DefaultTimeout bounds a single delivery.
const DefaultTimeout = 10 * time.Second

// Notice is a short operator message, written in markdown.
type Notice struct {
	ClientID string
	Kind     gateway.LifecycleKind
	Markdown string
}

// Sender delivers notices to one destination.
type Sender interface {
	Name() string
	Send(ctx context.Context, notice Notice) error
}

// Notifier is a lifecycle observer that fans notices out to its senders.
// Deliveries run in the background and never block the manager.
type Notifier struct {
	senders []Sender
	timeout time.Duration
	log     zerolog.Logger
	wg      sync.WaitGroup
}

var _ gateway.Observer = (*Notifier)(nil)

// New creates a notifier. With no senders it drops everything.
func New(log zerolog.Logger, senders ...Sender) *Notifier {
	return &Notifier{
		senders: senders,
		timeout: DefaultTimeout,
		log:     log.With().Str("component", "notifier").Logger(),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return len(n.senders) > 0
}

func (n *Notifier) ObserveLifecycle(evt gateway.LifecycleEvent) {
	notice, ok := NoticeFor(evt)
	if !ok {
		return
	}
	for _, s := range n.senders {
		n.wg.Add(1)
		go n.deliver(s, notice)
	}
}

func (n *Notifier) deliver(s Sender, notice Notice) {
	defer n.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	log := n.log.With().
		Str("sender", s.Name()).
		Str("client_id", notice.ClientID).
		Str("kind", string(notice.Kind)).
		Logger()
	if err := s.Send(ctx, notice); err != nil {
		log.Warn().Err(err).Msg("Failed to deliver operator notice")
		return
	}
	log.Debug().Msg("Operator notice delivered")
}

// Wait blocks until in-flight deliveries finish.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

// NoticeFor returns the operator notice for a lifecycle event, if the event
// needs one.
func NoticeFor(evt gateway.LifecycleEvent) (Notice, bool) {
	var text string
	switch {
	case evt.Kind == gateway.KindCredentialsErased:
		text = fmt.Sprintf("WhatsApp client `%s` lost its pairing. Open its QR page and scan a new code to reconnect.", evt.ClientID)
	case evt.Kind == gateway.KindClosed && evt.Policy == gateway.PolicyStop.String():
		text = fmt.Sprintf("WhatsApp client `%s` was stopped by the server (**%s**) and will not reconnect on its own.", evt.ClientID, evt.Cause)
	default:
		return Notice{}, false
	}
	if evt.Error != "" {
		text += "\n\n> " + evt.Error
	}
	return Notice{ClientID: evt.ClientID, Kind: evt.Kind, Markdown: text}, true
}
