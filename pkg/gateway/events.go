// Copyright 2024-2026 Aiku AI

package gateway

import (
	"fmt"

	"github.com/rs/zerolog"
)

// pump consumes the event stream of one session until the session is halted
// or its channel closes. Each event is handled to completion, including any
// credential write, before the next one is read.
func (m *Manager) pump(clientID string, ls *liveSession, creds Credentials) {
	defer m.pumps.Done()
	log := m.log.With().Str("client_id", clientID).Logger()
	events := ls.session.Events()
	for {
		select {
		case <-ls.stop:
			return
		case evt, ok := <-events:
			if !ok {
				m.handleStreamEnd(log, clientID, ls)
				return
			}
			m.handleEvent(log, clientID, ls, creds, evt)
		}
	}
}

// handleEvent dispatches one event. Nothing raised here may kill the pump.
func (m *Manager) handleEvent(log zerolog.Logger, clientID string, ls *liveSession, creds Credentials, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("panic", fmt.Sprint(r)).Msg("Event handler panicked")
		}
	}()
	switch e := evt.(type) {
	case CredsUpdate:
		m.handleCredsUpdate(log, clientID, ls, creds)
	case ConnectionUpdate:
		m.handleConnectionUpdate(log, clientID, ls, e)
	default:
		log.Trace().Str("event_type", fmt.Sprintf("%T", evt)).Msg("Unhandled event type")
	}
}

func (m *Manager) handleCredsUpdate(log zerolog.Logger, clientID string, ls *liveSession, creds Credentials) {
	m.mu.Lock()
	if m.live[clientID] != ls {
		m.mu.Unlock()
		log.Debug().Msg("Dropping credential update from stale session")
		return
	}
	m.touchLocked(clientID)
	m.mu.Unlock()

	if err := m.store.Persist(log.WithContext(m.ctx), clientID, creds); err != nil {
		log.Error().Err(err).Msg("Failed to persist credentials")
		return
	}
	log.Debug().Msg("Credentials updated")
}

func (m *Manager) handleConnectionUpdate(log zerolog.Logger, clientID string, ls *liveSession, upd ConnectionUpdate) {
	var (
		pending []LifecycleEvent
		erased  []LifecycleEvent
		closed  bool
		policy  Policy
		cause   = upd.Cause
	)

	m.mu.Lock()
	if m.live[clientID] != ls {
		m.mu.Unlock()
		log.Debug().
			Str("status", string(upd.Status)).
			Bool("has_qr", upd.QR != "").
			Msg("Dropping connection update from stale session")
		return
	}
	st := m.stateLocked(clientID)
	if upd.QR != "" {
		st.qr = upd.QR
		pending = append(pending, m.lifecycleLocked(clientID, KindQRUpdated))
	}
	if upd.Status != "" {
		st.rawStatus = upd.Status
		st.friendly = MapFriendly(upd.Status)
	}
	switch upd.Status {
	case RawOpen:
		st.qr = ""
		pending = append(pending, m.lifecycleLocked(clientID, KindConnected))
	case RawClose:
		if cause == CauseNone {
			cause = CauseUnknown
		}
		closed = true
		policy = cause.Policy()
		delete(m.live, clientID)
		ls.halt()
		switch policy {
		case PolicyErase, PolicyStop:
			st.qr = ""
			st.friendly = StatusDisconnected
		case PolicyRetry:
			m.scheduleRetryLocked(clientID)
		}
		if policy == PolicyErase {
			m.beginEraseLocked(clientID)
		}
		evt := m.lifecycleLocked(clientID, KindClosed)
		evt.Cause = cause
		evt.Policy = policy.String()
		if upd.Err != nil {
			evt.Error = upd.Err.Error()
		}
		pending = append(pending, evt)
		if policy == PolicyRetry {
			pending = append(pending, m.lifecycleLocked(clientID, KindRetryScheduled))
		}
	}
	st.lastActivity = m.clock.Now()
	friendly := st.friendly
	m.mu.Unlock()

	if upd.QR != "" {
		log.Debug().Msg("New QR code received")
	}
	if upd.Status != "" {
		log.Debug().
			Str("status", string(upd.Status)).
			Str("friendly", string(friendly)).
			Msg("Connection update")
	}
	if closed && policy == PolicyErase && m.eraseCredentials(log, clientID) {
		erased = append(erased, m.lifecycle(clientID, KindCredentialsErased))
	}
	if closed {
		safeEnd(log, ls.session)
		ev := log.Warn()
		if policy == PolicyRetry {
			ev = log.Info()
		}
		ev.Err(upd.Err).
			Int("code", int(cause)).
			Str("cause", cause.String()).
			Str("policy", policy.String()).
			Msg("Session closed")
	}
	for _, evt := range append(pending, erased...) {
		m.notify(evt)
	}
}

// handleStreamEnd treats a transport that went away without a close event
// like an unexplained close.
func (m *Manager) handleStreamEnd(log zerolog.Logger, clientID string, ls *liveSession) {
	log.Warn().Msg("Session event stream ended unexpectedly")
	m.handleConnectionUpdate(log, clientID, ls, ConnectionUpdate{
		Status: RawClose,
		Cause:  CauseUnknown,
	})
}

// retryEntry identifies one scheduled reconnect so a stale timer cannot
// remove its replacement.
type retryEntry struct {
	timer Timer
}

// scheduleRetryLocked arms the single reconnect attempt for the client,
// replacing any pending one.
func (m *Manager) scheduleRetryLocked(clientID string) {
	m.cancelRetryLocked(clientID)
	entry := &retryEntry{}
	entry.timer = m.clock.AfterFunc(m.reconnectDelay, func() {
		m.retry(clientID, entry)
	})
	m.retries[clientID] = entry
}

func (m *Manager) cancelRetryLocked(clientID string) {
	if entry, ok := m.retries[clientID]; ok {
		entry.timer.Stop()
		delete(m.retries, clientID)
	}
}

// retry re-acquires the client unless a session appeared in the meantime.
// Failures are only logged; the next status read shows the outcome.
func (m *Manager) retry(clientID string, entry *retryEntry) {
	log := m.log.With().Str("client_id", clientID).Logger()

	m.mu.Lock()
	if m.retries[clientID] != entry {
		// Cancelled or replaced after the timer fired.
		m.mu.Unlock()
		return
	}
	delete(m.retries, clientID)
	_, live := m.live[clientID]
	if m.closed || live {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	log.Info().Msg("Re-attempting automatic reconnect")
	go func() {
		if _, err := m.Acquire(m.ctx, clientID); err != nil {
			log.Warn().Err(err).Msg("Automatic reconnect failed")
		}
	}()
}
