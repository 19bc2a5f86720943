// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package gateway

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// DefaultReconnectDelay is the wait before the single reconnect attempt that
// follows a transient disconnect.
const DefaultReconnectDelay = 5 * time.Second

// Options configures a Manager. Store and Factory are required.
type Options struct {
	Store          CredentialStore
	Factory        SessionFactory
	Log            zerolog.Logger
	Clock          Clock
	ReconnectDelay time.Duration
	Observers      []Observer
}

// liveSession is a registered session and the stop signal of its pump.
type liveSession struct {
	session  Session
	stop     chan struct{}
	stopOnce sync.Once
}

func (ls *liveSession) halt() {
	ls.stopOnce.Do(func() {
		close(ls.stop)
	})
}

// projection is the observable state of a client. It outlives the session.
type projection struct {
	rawStatus    RawStatus
	friendly     FriendlyStatus
	qr           string
	lastActivity time.Time
}

// ClientInfo is one row of ListClients.
type ClientInfo struct {
	ClientID     string
	Status       FriendlyStatus
	RawStatus    RawStatus
	HasQR        bool
	Live         bool
	LastActivity time.Time
}

// Manager is the registry of live sessions and their derived state.
type Manager struct {
	store          CredentialStore
	factory        SessionFactory
	clock          Clock
	log            zerolog.Logger
	reconnectDelay time.Duration

	ctx      context.Context
	cancel   context.CancelFunc
	inflight singleflight.Group
	pumps    sync.WaitGroup

	mu        sync.Mutex
	live      map[string]*liveSession
	states    map[string]*projection
	retries   map[string]*retryEntry
	erasing   map[string]chan struct{}
	observers []Observer
	closed    bool
}

// NewManager creates a manager. It owns its registries, so several managers
// can coexist in one process.
func NewManager(opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		store:          opts.Store,
		factory:        opts.Factory,
		clock:          opts.Clock,
		log:            opts.Log.With().Str("component", "connection_manager").Logger(),
		reconnectDelay: opts.ReconnectDelay,
		ctx:            ctx,
		cancel:         cancel,
		live:           make(map[string]*liveSession),
		states:         make(map[string]*projection),
		retries:        make(map[string]*retryEntry),
		erasing:        make(map[string]chan struct{}),
		observers:      append([]Observer(nil), opts.Observers...),
	}
	return m
}

// AddObserver registers an observer for all later lifecycle events.
func (m *Manager) AddObserver(obs Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, obs)
}

// Acquire returns the live session of the client, creating it if needed.
// Concurrent calls for the same client share a single creation and its
// result. The caller's ctx only bounds the wait; the creation itself runs on
// the manager's context.
func (m *Manager) Acquire(ctx context.Context, clientID string) (Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	if ls, ok := m.live[clientID]; ok {
		m.touchLocked(clientID)
		m.mu.Unlock()
		return ls.session, nil
	}
	m.mu.Unlock()

	ch := m.inflight.DoChan(clientID, func() (any, error) {
		return m.create(clientID)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Session), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) create(clientID string) (Session, error) {
	log := m.log.With().Str("client_id", clientID).Logger()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	// A creation that finished between the registry check in Acquire and the
	// singleflight call already registered its session.
	if ls, ok := m.live[clientID]; ok {
		m.touchLocked(clientID)
		m.mu.Unlock()
		return ls.session, nil
	}
	st := m.stateLocked(clientID)
	st.rawStatus = RawInitializing
	st.friendly = MapFriendly(RawInitializing)
	st.lastActivity = m.clock.Now()
	erasing := m.erasing[clientID]
	m.mu.Unlock()

	// The old bundle must be gone before a fresh one is loaded.
	if erasing != nil {
		log.Debug().Msg("Waiting for credential erasure to finish")
		select {
		case <-erasing:
		case <-m.ctx.Done():
			return nil, ErrManagerClosed
		}
	}

	log.Debug().Msg("Initializing client")
	ctx := log.WithContext(m.ctx)

	creds, err := m.store.LoadOrCreate(ctx, clientID)
	if err != nil {
		return nil, m.creationFailed(clientID, StageCredentials, err)
	}
	version, err := m.factory.LatestVersion(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to fetch latest protocol version, using built-in version")
		version = ProtocolVersion{}
	}
	sess, err := m.factory.Create(ctx, clientID, creds, version)
	if err != nil {
		return nil, m.creationFailed(clientID, StageHandshake, err)
	}

	ls := &liveSession{session: sess, stop: make(chan struct{})}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		safeEnd(log, sess)
		return nil, ErrManagerClosed
	}
	m.live[clientID] = ls
	m.cancelRetryLocked(clientID)
	st = m.stateLocked(clientID)
	st.lastActivity = m.clock.Now()
	evt := m.lifecycleLocked(clientID, KindSessionCreated)
	m.pumps.Add(1)
	m.mu.Unlock()

	go m.pump(clientID, ls, creds)

	log.Info().
		Bool("paired", creds.Paired()).
		Str("version", version.String()).
		Msg("Session created")
	m.notify(evt)
	return sess, nil
}

func (m *Manager) creationFailed(clientID string, stage CreationStage, err error) error {
	cerr := &CreationError{ClientID: clientID, Stage: stage, Err: err}
	m.log.Error().Err(err).
		Str("client_id", clientID).
		Str("stage", string(stage)).
		Msg("Failed to create session")

	m.mu.Lock()
	st := m.stateLocked(clientID)
	st.rawStatus = RawClose
	st.friendly = StatusDisconnected
	st.qr = ""
	evt := m.lifecycleLocked(clientID, KindCreationFailed)
	evt.Error = err.Error()
	m.mu.Unlock()

	m.notify(evt)
	return cerr
}

// Status returns the friendly status of the client. It never blocks on the
// network and never fails.
func (m *Manager) Status(clientID string) FriendlyStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked(clientID)
}

func (m *Manager) statusLocked(clientID string) FriendlyStatus {
	if st, ok := m.states[clientID]; ok {
		if st.friendly != "" {
			return st.friendly
		}
		if st.rawStatus != "" {
			return MapFriendly(st.rawStatus)
		}
	}
	if _, ok := m.live[clientID]; ok {
		return StatusConnecting
	}
	return StatusDisconnected
}

// QRCode returns the latest pairing code of the client, if any. It never
// starts a session; call Acquire first for a fresh client.
func (m *Manager) QRCode(clientID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[clientID]
	if !ok || st.qr == "" {
		return "", false
	}
	return st.qr, true
}

// ListClients returns a snapshot of every client seen since startup, live or
// remembered, sorted by client ID.
func (m *Manager) ListClients() []ClientInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make(map[string]struct{}, len(m.states)+len(m.live))
	for id := range m.states {
		ids[id] = struct{}{}
	}
	for id := range m.live {
		ids[id] = struct{}{}
	}

	out := make([]ClientInfo, 0, len(ids))
	for id := range ids {
		info := ClientInfo{
			ClientID: id,
			Status:   m.statusLocked(id),
		}
		_, info.Live = m.live[id]
		if st, ok := m.states[id]; ok {
			info.RawStatus = st.rawStatus
			info.HasQR = st.qr != ""
			info.LastActivity = st.lastActivity
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ClientID < out[j].ClientID
	})
	return out
}

// Disconnect tears down the live session of the client. It returns false
// without touching anything if the client has no live session. The remote
// logout, which unlinks the device, is only sent when forgetCredentials is
// set; otherwise the stored pairing stays usable.
func (m *Manager) Disconnect(ctx context.Context, clientID string, forgetCredentials bool) bool {
	return m.teardown(ctx, clientID, forgetCredentials, KindDisconnected, nil)
}

// teardown removes the live session if keep (when non-nil) does not veto it.
// keep is evaluated under the lock. Logout is only sent when forget is set:
// whatsmeow's Logout deletes the device, and a disconnect that keeps
// credentials must let the next Acquire resume without pairing.
func (m *Manager) teardown(ctx context.Context, clientID string, forget bool, kind LifecycleKind, keep func(*projection) bool) bool {
	log := m.log.With().Str("client_id", clientID).Logger()

	m.mu.Lock()
	ls, ok := m.live[clientID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	st := m.stateLocked(clientID)
	if keep != nil && keep(st) {
		m.mu.Unlock()
		return false
	}
	delete(m.live, clientID)
	m.cancelRetryLocked(clientID)
	st.rawStatus = RawClose
	st.friendly = StatusDisconnected
	st.qr = ""
	evt := m.lifecycleLocked(clientID, kind)
	if forget {
		m.beginEraseLocked(clientID)
	}
	m.mu.Unlock()

	ls.halt()
	if forget {
		if err := ls.session.Logout(ctx); err != nil {
			log.Debug().Err(err).Msg("Graceful logout failed, continuing teardown")
		}
	}
	safeEnd(log, ls.session)

	var erased *LifecycleEvent
	if forget && m.eraseCredentials(log, clientID) {
		e := m.lifecycle(clientID, KindCredentialsErased)
		erased = &e
	}

	log.Info().
		Bool("forget_credentials", forget).
		Str("reason", string(kind)).
		Msg("Client disconnected")
	m.notify(evt)
	if erased != nil {
		m.notify(*erased)
	}
	return true
}

// Close ends every live session without logging out, stops pending
// reconnects and waits for the event pumps to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for id, entry := range m.retries {
		entry.timer.Stop()
		delete(m.retries, id)
	}
	sessions := make([]*liveSession, 0, len(m.live))
	for id, ls := range m.live {
		sessions = append(sessions, ls)
		delete(m.live, id)
	}
	m.mu.Unlock()

	for _, ls := range sessions {
		ls.halt()
		safeEnd(m.log, ls.session)
	}
	m.cancel()
	m.pumps.Wait()
	m.log.Info().Int("sessions", len(sessions)).Msg("Connection manager closed")
}

// beginEraseLocked makes creations of the client wait until
// eraseCredentials has run.
func (m *Manager) beginEraseLocked(clientID string) {
	if _, ok := m.erasing[clientID]; !ok {
		m.erasing[clientID] = make(chan struct{})
	}
}

// eraseCredentials removes the stored bundle of the client and releases
// creations waiting on it. It must be called without the lock held, after
// beginEraseLocked.
func (m *Manager) eraseCredentials(log zerolog.Logger, clientID string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("panic", fmt.Sprint(r)).Msg("Credential erasure panicked")
			ok = false
		}
		m.mu.Lock()
		if ch, found := m.erasing[clientID]; found {
			close(ch)
			delete(m.erasing, clientID)
		}
		m.mu.Unlock()
	}()
	if err := m.store.Erase(clientID); err != nil {
		log.Error().Err(err).Msg("Failed to erase credentials")
		return false
	}
	return true
}

// stateLocked returns the projection of the client, creating it.
func (m *Manager) stateLocked(clientID string) *projection {
	st, ok := m.states[clientID]
	if !ok {
		st = &projection{}
		m.states[clientID] = st
	}
	return st
}

func (m *Manager) touchLocked(clientID string) {
	m.stateLocked(clientID).lastActivity = m.clock.Now()
}

func (m *Manager) lifecycleLocked(clientID string, kind LifecycleKind) LifecycleEvent {
	evt := LifecycleEvent{
		ClientID: clientID,
		Kind:     kind,
		Status:   m.statusLocked(clientID),
		Time:     m.clock.Now(),
	}
	if st, ok := m.states[clientID]; ok {
		evt.RawStatus = st.rawStatus
	}
	return evt
}

func (m *Manager) lifecycle(clientID string, kind LifecycleKind) LifecycleEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lifecycleLocked(clientID, kind)
}

func (m *Manager) notify(evt LifecycleEvent) {
	m.mu.Lock()
	observers := m.observers
	m.mu.Unlock()
	for _, obs := range observers {
		obs.ObserveLifecycle(evt)
	}
}

// safeEnd drops a transport, swallowing panics from misbehaving sessions.
func safeEnd(log zerolog.Logger, sess Session) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Str("panic", fmt.Sprint(r)).Msg("Session end panicked")
		}
	}()
	sess.End()
}
