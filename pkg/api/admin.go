// Copyright 2024-2026 Aiku AI

package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/hlog"
	"go.mau.fi/util/exhttp"
	"go.mau.fi/util/jsontime"

	"github.com/aiku/whatsapp-gateway/pkg/gateway"
	"github.com/aiku/whatsapp-gateway/pkg/journal"
)

type clientInfo struct {
	ClientID     string                 `json:"clientId"`
	Status       gateway.FriendlyStatus `json:"status"`
	RawStatus    gateway.RawStatus      `json:"rawStatus,omitempty"`
	HasQR        bool                   `json:"hasQr"`
	Live         bool                   `json:"live"`
	LastActivity jsontime.UnixMilli     `json:"lastActivity"`
}

type listClientsResponse struct {
	Clients []clientInfo `json:"clients"`
}

func (s *Server) handleListClients(w http.ResponseWriter, _ *http.Request) {
	infos := s.mgr.ListClients()
	resp := listClientsResponse{Clients: make([]clientInfo, len(infos))}
	for i, info := range infos {
		resp.Clients[i] = clientInfo{
			ClientID:     info.ClientID,
			Status:       info.Status,
			RawStatus:    info.RawStatus,
			HasQR:        info.HasQR,
			Live:         info.Live,
			LastActivity: jsontime.UM(info.LastActivity),
		}
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, resp)
}

type disconnectRequest struct {
	ClientID   string `json:"clientId"`
	ForgetAuth bool   `json:"forgetAuth"`
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	var req disconnectRequest
	if err := decodeBody(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.ClientID == "" {
		writeError(w, http.StatusBadRequest, "clientId is required")
		return
	}
	ok := s.mgr.Disconnect(r.Context(), req.ClientID, req.ForgetAuth)
	hlog.FromRequest(r).Info().
		Str("client_id", req.ClientID).
		Bool("forget_auth", req.ForgetAuth).
		Bool("disconnected", ok).
		Msg("Admin disconnect")
	exhttp.WriteJSONResponse(w, http.StatusOK, map[string]bool{"success": ok})
}

// maxCleanupIdleMS is the largest idle threshold a time.Duration can hold.
const maxCleanupIdleMS = math.MaxInt64 / int64(time.Millisecond)

type cleanupRequest struct {
	MaxIdleMS int64 `json:"maxIdleMs"`
}

type cleanupResponse struct {
	Removed   []string `json:"removed"`
	MaxIdleMS int64    `json:"maxIdleMs"`
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if err := decodeBody(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.MaxIdleMS <= 0 {
		req.MaxIdleMS = defaultCleanupIdle.Milliseconds()
	}
	if req.MaxIdleMS > maxCleanupIdleMS {
		writeError(w, http.StatusBadRequest, "maxIdleMs is too large")
		return
	}
	removed := s.mgr.CleanupInactive(r.Context(), time.Duration(req.MaxIdleMS)*time.Millisecond)
	if removed == nil {
		removed = []string{}
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, cleanupResponse{Removed: removed, MaxIdleMS: req.MaxIdleMS})
}

type historyResponse struct {
	ClientID string          `json:"clientId"`
	Entries  []journal.Entry `json:"entries"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "Lifecycle journal is not enabled")
		return
	}
	clientID := mux.Vars(r)["clientId"]
	limit := defaultHistorySize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	entries, err := s.history.Recent(r.Context(), clientID, limit)
	if err != nil {
		hlog.FromRequest(r).Err(err).Str("client_id", clientID).Msg("Failed to read lifecycle history")
		writeError(w, http.StatusInternalServerError, "Failed to read history")
		return
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, historyResponse{ClientID: clientID, Entries: entries})
}
