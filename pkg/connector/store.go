// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/zeebo/blake3"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/aiku/whatsapp-gateway/pkg/gateway"
)

const (
	storeFileName  = "store.db"
	markerFileName = "client_id"
	dirNameLength  = 32
)

// Credentials wraps the whatsmeow device of one client.
type Credentials struct {
	Device *store.Device
}

var _ gateway.Credentials = (*Credentials)(nil)

// Paired reports whether the device has been linked to an account.
func (c *Credentials) Paired() bool {
	return c != nil && c.Device != nil && c.Device.ID != nil
}

// openStore is one client's sqlite database and whatsmeow container.
type openStore struct {
	db        *sql.DB
	container *sqlstore.Container
	creds     *Credentials
}

// Store keeps one sqlite credential store per client under a root directory.
// Directory names are derived from the client ID so that arbitrary IDs map to
// safe, fixed-length paths.
type Store struct {
	root string
	log  zerolog.Logger

	mu   sync.Mutex
	open map[string]*openStore
}

var _ gateway.CredentialStore = (*Store)(nil)

// NewStore creates the root directory if needed.
func NewStore(root string, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &Store{
		root: root,
		log:  log.With().Str("component", "credential_store").Logger(),
		open: make(map[string]*openStore),
	}, nil
}

// Dir returns the credential directory of a client.
func (s *Store) Dir(clientID string) string {
	return filepath.Join(s.root, DirName(clientID))
}

// DirName derives the directory name of a client from its ID.
func DirName(clientID string) string {
	sum := blake3.Sum256([]byte(clientID))
	return hex.EncodeToString(sum[:])[:dirNameLength]
}

// LoadOrCreate opens the client's store, creating an empty unpaired device
// when the client has never been seen.
func (s *Store) LoadOrCreate(ctx context.Context, clientID string) (gateway.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.open[clientID]; ok {
		return st.creds, nil
	}

	dir := s.Dir(clientID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create credential directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, markerFileName), []byte(clientID), 0o600); err != nil {
		return nil, fmt.Errorf("failed to write client marker: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", filepath.Join(dir, storeFileName))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential database: %w", err)
	}
	log := s.log.With().Str("client_id", clientID).Logger()
	container := sqlstore.NewWithDB(db, "sqlite3", waLog.Zerolog(log.With().Str("component", "whatsmeow_store").Logger()))
	if err = container.Upgrade(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to upgrade credential database: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to load device: %w", err)
	}

	creds := &Credentials{Device: device}
	s.open[clientID] = &openStore{db: db, container: container, creds: creds}
	log.Debug().Bool("paired", creds.Paired()).Msg("Credential store opened")
	return creds, nil
}

// Persist saves the device of a paired client. Unpaired devices have nothing
// worth saving yet.
func (s *Store) Persist(ctx context.Context, clientID string, creds gateway.Credentials) error {
	c, ok := creds.(*Credentials)
	if !ok {
		return fmt.Errorf("unexpected credentials type %T", creds)
	}
	if !c.Paired() {
		return nil
	}
	if err := c.Device.Save(ctx); err != nil {
		return fmt.Errorf("failed to save device: %w", err)
	}
	return nil
}

// Erase closes the client's database and removes its directory.
func (s *Store) Erase(clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if st, ok := s.open[clientID]; ok {
		delete(s.open, clientID)
		if err := st.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close credential database: %w", err))
		}
	}
	if err := os.RemoveAll(s.Dir(clientID)); err != nil {
		errs = append(errs, fmt.Errorf("failed to remove credential directory: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	s.log.Info().Str("client_id", clientID).Msg("Credentials erased")
	return nil
}

// Close closes every open database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for id, st := range s.open {
		if err := st.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
		delete(s.open, id)
	}
	return errors.Join(errs...)
}
