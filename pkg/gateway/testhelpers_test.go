// Copyright 2024-2026 Aiku AI

package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeCreds is a credential bundle that only knows whether it was paired.
type fakeCreds struct {
	mu     sync.Mutex
	paired bool
}

func (c *fakeCreds) Paired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paired
}

// fakeStore keeps bundles in memory and counts calls.
type fakeStore struct {
	mu       sync.Mutex
	bundles  map[string]*fakeCreds
	persists map[string]int
	erases   map[string]int
	loadErr  error
	// onErase, when set before the store is used, runs at the start of
	// every Erase call.
	onErase func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		bundles:  make(map[string]*fakeCreds),
		persists: make(map[string]int),
		erases:   make(map[string]int),
	}
}

func (s *fakeStore) LoadOrCreate(_ context.Context, clientID string) (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	c, ok := s.bundles[clientID]
	if !ok {
		c = &fakeCreds{}
		s.bundles[clientID] = c
	}
	return c, nil
}

func (s *fakeStore) Persist(_ context.Context, clientID string, _ Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persists[clientID]++
	return nil
}

func (s *fakeStore) Erase(clientID string) error {
	if s.onErase != nil {
		s.onErase()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bundles, clientID)
	s.erases[clientID]++
	return nil
}

// pair marks the stored bundle as accepted by the network.
func (s *fakeStore) pair(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.bundles[clientID]
	if !ok {
		c = &fakeCreds{}
		s.bundles[clientID] = c
	}
	c.mu.Lock()
	c.paired = true
	c.mu.Unlock()
}

func (s *fakeStore) has(clientID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.bundles[clientID]
	return ok
}

func (s *fakeStore) eraseCount(clientID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.erases[clientID]
}

func (s *fakeStore) persistCount(clientID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persists[clientID]
}

// fakeSession is driven by the test through emit and closeStream.
type fakeSession struct {
	clientID string
	events   chan Event

	mu        sync.Mutex
	loggedOut bool
	ended     int
	closeOnce sync.Once
}

func newFakeSession(clientID string) *fakeSession {
	return &fakeSession{clientID: clientID, events: make(chan Event, 16)}
}

func (s *fakeSession) Events() <-chan Event { return s.events }

func (s *fakeSession) Logout(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loggedOut = true
	return nil
}

func (s *fakeSession) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended++
}

func (s *fakeSession) ResolveNumber(_ context.Context, phone string) (string, bool, error) {
	return phone + "@s.whatsapp.net", true, nil
}

func (s *fakeSession) SendText(context.Context, string, string) (string, error) {
	return "msg-1", nil
}

func (s *fakeSession) emit(evt Event) { s.events <- evt }

func (s *fakeSession) closeStream() {
	s.closeOnce.Do(func() { close(s.events) })
}

func (s *fakeSession) state() (loggedOut bool, ended int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedOut, s.ended
}

// fakeFactory hands out fakeSessions. When gate is set, Create blocks until
// it is closed.
type fakeFactory struct {
	gate      chan struct{}
	entered   chan struct{}
	createErr error

	mu       sync.Mutex
	creates  int
	sessions []*fakeSession
	creds    []Credentials
}

func (f *fakeFactory) LatestVersion(context.Context) (ProtocolVersion, error) {
	return ProtocolVersion{2, 3000, 1}, nil
}

func (f *fakeFactory) Create(ctx context.Context, clientID string, creds Credentials, _ ProtocolVersion) (Session, error) {
	f.mu.Lock()
	f.creates++
	f.creds = append(f.creds, creds)
	f.mu.Unlock()
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.createErr != nil {
		return nil, f.createErr
	}
	sess := newFakeSession(clientID)
	f.mu.Lock()
	f.sessions = append(f.sessions, sess)
	f.mu.Unlock()
	return sess, nil
}

func (f *fakeFactory) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates
}

func (f *fakeFactory) lastCreds() Credentials {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.creds) == 0 {
		return nil
	}
	return f.creds[len(f.creds)-1]
}

// fakeClock only moves when Advance is called. Due callbacks run outside its
// lock so they may schedule new timers.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

// Pending counts timers that are neither stopped nor fired.
func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// recordingObserver collects lifecycle events.
type recordingObserver struct {
	mu     sync.Mutex
	events []LifecycleEvent
}

func (o *recordingObserver) ObserveLifecycle(evt LifecycleEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, evt)
}

func (o *recordingObserver) kinds() []LifecycleKind {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]LifecycleKind, len(o.events))
	for i, evt := range o.events {
		out[i] = evt.Kind
	}
	return out
}

func (o *recordingObserver) find(kind LifecycleKind) (LifecycleEvent, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, evt := range o.events {
		if evt.Kind == kind {
			return evt, true
		}
	}
	return LifecycleEvent{}, false
}

type testEnv struct {
	m       *Manager
	store   *fakeStore
	factory *fakeFactory
	clock   *fakeClock
	obs     *recordingObserver
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:   newFakeStore(),
		factory: &fakeFactory{},
		clock:   newFakeClock(),
		obs:     &recordingObserver{},
	}
	env.m = NewManager(Options{
		Store:          env.store,
		Factory:        env.factory,
		Log:            zerolog.Nop(),
		Clock:          env.clock,
		ReconnectDelay: 5 * time.Second,
		Observers:      []Observer{env.obs},
	})
	t.Cleanup(env.m.Close)
	return env
}

// acquire fails the test if Acquire returns an error.
func (env *testEnv) acquire(t *testing.T, clientID string) *fakeSession {
	t.Helper()
	sess, err := env.m.Acquire(context.Background(), clientID)
	if err != nil {
		t.Fatalf("Acquire(%q): %v", clientID, err)
	}
	fs, ok := sess.(*fakeSession)
	if !ok {
		t.Fatalf("Acquire(%q): unexpected session type %T", clientID, sess)
	}
	return fs
}

func (env *testEnv) isLive(clientID string) bool {
	env.m.mu.Lock()
	defer env.m.mu.Unlock()
	_, ok := env.m.live[clientID]
	return ok
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var errHandshake = errors.New("handshake refused")
