// Copyright 2024-2026 Aiku AI

package api

import (
	"crypto/subtle"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/zerolog/hlog"
)

const (
	corsAllowHeaders = "Origin, X-Requested-With, Content-Type, Accept, Authorization, X-Admin-Key"
	corsAllowMethods = "GET,POST,OPTIONS"
	adminKeyHeader   = "X-Admin-Key"
)

// accessLog attaches a request-scoped logger with a request ID and logs every
// response.
func (s *Server) accessLog(next http.Handler) http.Handler {
	h := hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Request handled")
	})(next)
	h = hlog.RequestIDHandler("request_id", "X-Request-Id")(h)
	h = hlog.RemoteAddrHandler("remote_addr")(h)
	return hlog.NewHandler(s.log)(h)
}

// cors answers preflights and sets the allowed origin. With no configured
// origins every origin is allowed. Requests without an Origin header get the
// single configured origin, if there is exactly one.
func (s *Server) cors(next http.Handler) http.Handler {
	allowAll := len(s.origins) == 0
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr := w.Header()
		origin := r.Header.Get("Origin")
		switch {
		case origin != "" && allowAll:
			hdr.Set("Access-Control-Allow-Origin", "*")
		case origin != "" && slices.Contains(s.origins, origin):
			hdr.Set("Access-Control-Allow-Origin", origin)
			hdr.Add("Vary", "Origin")
		case origin == "" && allowAll:
			hdr.Set("Access-Control-Allow-Origin", "*")
		case origin == "" && len(s.origins) == 1:
			hdr.Set("Access-Control-Allow-Origin", s.origins[0])
		}
		hdr.Set("Access-Control-Allow-Headers", corsAllowHeaders)
		hdr.Set("Access-Control-Allow-Methods", corsAllowMethods)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAdmin checks the admin key header. Admin endpoints are unavailable
// when no key is configured.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminKey == "" {
			writeError(w, http.StatusServiceUnavailable, "Admin key not configured")
			return
		}
		provided := r.Header.Get(adminKeyHeader)
		if subtle.ConstantTimeCompare([]byte(provided), []byte(s.adminKey)) != 1 {
			hlog.FromRequest(r).Warn().Msg("Rejected admin request with invalid key")
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// compress gzips responses for clients that accept it. Websocket upgrades
// bypass it since they need the raw connection.
func compress(next http.Handler) http.Handler {
	gz := gzhttp.GzipHandler(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			next.ServeHTTP(w, r)
			return
		}
		gz.ServeHTTP(w, r)
	})
}
