// Copyright 2024-2026 Aiku AI

// Package api serves the gateway's HTTP interface: pairing pages, status
// queries, message sending and the admin endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"go.mau.fi/util/exhttp"

	"github.com/aiku/whatsapp-gateway/pkg/gateway"
	"github.com/aiku/whatsapp-gateway/pkg/journal"
)

const (
	maxBodySize        = 1 << 20
	defaultCleanupIdle = 30 * time.Minute
	defaultHistorySize = 50
)

// Manager is the part of *gateway.Manager the API uses.
type Manager interface {
	Acquire(ctx context.Context, clientID string) (gateway.Session, error)
	Status(clientID string) gateway.FriendlyStatus
	QRCode(clientID string) (string, bool)
	ListClients() []gateway.ClientInfo
	Disconnect(ctx context.Context, clientID string, forgetCredentials bool) bool
	CleanupInactive(ctx context.Context, maxIdle time.Duration) []string
}

var _ Manager = (*gateway.Manager)(nil)

// History serves recent lifecycle entries of a client.
type History interface {
	Recent(ctx context.Context, clientID string, limit int) ([]journal.Entry, error)
}

var _ History = (*journal.Journal)(nil)

type Options struct {
	Manager        Manager
	AdminKey       string
	AllowedOrigins []string
	FallbackSend   bool
	CountryCode    string
	// History is optional; without it the history endpoint answers 404.
	History History
	// Events is optional; without it the events endpoint answers 404.
	Events *EventHub
	Log    zerolog.Logger
}

type Server struct {
	mgr          Manager
	adminKey     string
	origins      []string
	fallbackSend bool
	countryCode  string
	history      History
	events       *EventHub
	log          zerolog.Logger
}

func New(opts Options) *Server {
	return &Server{
		mgr:          opts.Manager,
		adminKey:     opts.AdminKey,
		origins:      opts.AllowedOrigins,
		fallbackSend: opts.FallbackSend,
		countryCode:  opts.CountryCode,
		history:      opts.History,
		events:       opts.Events,
		log:          opts.Log.With().Str("component", "api").Logger(),
	}
}

// Handler returns the complete handler chain.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	wa := r.PathPrefix("/whatsapp").Subrouter()
	wa.HandleFunc("/qr/{clientId}", s.handleQRPage).Methods(http.MethodGet)
	wa.HandleFunc("/qr-json/{clientId}", s.handleQRJSON).Methods(http.MethodGet)
	wa.HandleFunc("/status/{clientId}", s.handleStatus).Methods(http.MethodGet)
	wa.HandleFunc("/send", s.handleSend).Methods(http.MethodPost)

	admin := wa.PathPrefix("/admin").Subrouter()
	admin.Use(s.requireAdmin)
	admin.HandleFunc("/clients", s.handleListClients).Methods(http.MethodGet)
	admin.HandleFunc("/disconnect", s.handleDisconnect).Methods(http.MethodPost)
	admin.HandleFunc("/cleanup", s.handleCleanup).Methods(http.MethodPost)
	admin.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	admin.HandleFunc("/history/{clientId}", s.handleHistory).Methods(http.MethodGet)

	// CORS wraps the router so preflights never reach method matching.
	return s.accessLog(s.cors(compress(r)))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	exhttp.WriteJSONResponse(w, http.StatusOK, map[string]bool{"ok": true})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	exhttp.WriteJSONResponse(w, status, errorResponse{Error: msg})
}

var errEmptyBody = errors.New("empty body")

// decodeBody reads a JSON body of at most maxBodySize bytes. An empty body
// returns errEmptyBody so callers can fall back to defaults.
func decodeBody(w http.ResponseWriter, r *http.Request, into any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	err := json.NewDecoder(r.Body).Decode(into)
	if errors.Is(err, io.EOF) {
		return errEmptyBody
	}
	return err
}
