// Copyright 2024-2026 Aiku AI

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/whatsapp-gateway/pkg/gateway"
	"github.com/aiku/whatsapp-gateway/pkg/journal"
)

type sentMessage struct {
	jid  string
	text string
}

type fakeSession struct {
	mu         sync.Mutex
	known      map[string]string
	resolveErr map[string]error
	sendErr    map[string]error
	resolved   []string
	sent       []sentMessage
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		known:      make(map[string]string),
		resolveErr: make(map[string]error),
		sendErr:    make(map[string]error),
	}
}

func (f *fakeSession) Events() <-chan gateway.Event { return nil }
func (f *fakeSession) Logout(context.Context) error { return nil }
func (f *fakeSession) End()                         {}

func (f *fakeSession) ResolveNumber(_ context.Context, phone string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolved = append(f.resolved, phone)
	if err := f.resolveErr[phone]; err != nil {
		return "", false, err
	}
	jid, ok := f.known[phone]
	return jid, ok, nil
}

func (f *fakeSession) SendText(_ context.Context, jid, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.sendErr[jid]; err != nil {
		return "", err
	}
	f.sent = append(f.sent, sentMessage{jid: jid, text: text})
	return "MSG-" + jid, nil
}

func (f *fakeSession) sentMessages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

type disconnectCall struct {
	clientID string
	forget   bool
}

type fakeManager struct {
	mu          sync.Mutex
	session     *fakeSession
	acquireErr  error
	acquired    []string
	statuses    map[string]gateway.FriendlyStatus
	qrs         map[string]string
	clients     []gateway.ClientInfo
	live        map[string]bool
	disconnects []disconnectCall
	cleanupIdle time.Duration
	evicted     []string
}

func newFakeManager() *fakeManager {
	return &fakeManager{
		session:  newFakeSession(),
		statuses: make(map[string]gateway.FriendlyStatus),
		qrs:      make(map[string]string),
		live:     make(map[string]bool),
	}
}

func (f *fakeManager) Acquire(_ context.Context, clientID string) (gateway.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquired = append(f.acquired, clientID)
	if f.acquireErr != nil {
		return nil, f.acquireErr
	}
	return f.session, nil
}

func (f *fakeManager) Status(clientID string) gateway.FriendlyStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.statuses[clientID]; ok {
		return st
	}
	return gateway.StatusDisconnected
}

func (f *fakeManager) QRCode(clientID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	qr, ok := f.qrs[clientID]
	return qr, ok
}

func (f *fakeManager) ListClients() []gateway.ClientInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients
}

func (f *fakeManager) Disconnect(_ context.Context, clientID string, forget bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects = append(f.disconnects, disconnectCall{clientID, forget})
	return f.live[clientID]
}

func (f *fakeManager) CleanupInactive(_ context.Context, maxIdle time.Duration) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanupIdle = maxIdle
	return f.evicted
}

func (f *fakeManager) lastCleanupIdle() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cleanupIdle
}

func (f *fakeManager) acquireCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.acquired)
}

type fakeHistory struct {
	mu        sync.Mutex
	entries   []journal.Entry
	err       error
	lastLimit int
}

func (f *fakeHistory) Recent(_ context.Context, _ string, limit int) ([]journal.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLimit = limit
	return f.entries, f.err
}

func (f *fakeHistory) limit() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastLimit
}

const testAdminKey = "s3cret"

func newTestServer(t *testing.T, mgr *fakeManager, mutate func(*Options)) *httptest.Server {
	t.Helper()
	opts := Options{
		Manager:     mgr,
		AdminKey:    testAdminKey,
		CountryCode: "55",
		Log:         zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	srv := httptest.NewServer(New(opts).Handler())
	t.Cleanup(srv.Close)
	return srv
}

// doJSON performs a request and decodes a JSON response into out, if non-nil.
func doJSON(t *testing.T, method, url string, body any, header http.Header, out any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s response: %v", method, url, err)
		}
	}
	return resp
}

func adminHeader() http.Header {
	return http.Header{"X-Admin-Key": []string{testAdminKey}}
}

var errBoom = errors.New("boom")
