// Copyright 2024-2026 Aiku AI

package api

import (
	"encoding/base64"
	"fmt"
	"html/template"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/hlog"
	"github.com/skip2/go-qrcode"
	"go.mau.fi/util/exhttp"

	"github.com/aiku/whatsapp-gateway/pkg/gateway"
)

const qrImageSize = 320

var qrPage = template.Must(template.New("qr").Parse(`<html><body style="text-align:center;margin-top:50px;">
<h1>Scan the QR code for client {{.ClientID}}</h1>
<img src="{{.Image}}" alt="QR Code" style="border:2px solid #333;padding:10px;border-radius:10px;">
</body></html>
`))

// qrDataURL renders a pairing code as a PNG data URL.
func qrDataURL(code string) (template.URL, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, qrImageSize)
	if err != nil {
		return "", fmt.Errorf("failed to encode QR code: %w", err)
	}
	return template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(png)), nil
}

type statusResponse struct {
	ClientID string                 `json:"clientId"`
	Status   gateway.FriendlyStatus `json:"status"`
	HasQR    bool                   `json:"hasQr"`
}

type qrResponse struct {
	statusResponse
	QRImage *string `json:"qrImage"`
}

func (s *Server) handleQRPage(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["clientId"]
	log := hlog.FromRequest(r).With().Str("client_id", clientID).Logger()
	if _, err := s.mgr.Acquire(r.Context(), clientID); err != nil {
		log.Err(err).Msg("Failed to acquire session for QR page")
		http.Error(w, "Internal error.", http.StatusInternalServerError)
		return
	}
	code, ok := s.mgr.QRCode(clientID)
	if !ok {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = fmt.Fprintf(w, "Status: %s. No QR available.", s.mgr.Status(clientID))
		return
	}
	img, err := qrDataURL(code)
	if err != nil {
		log.Err(err).Msg("Failed to render QR code")
		http.Error(w, "Internal error.", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err = qrPage.Execute(w, struct {
		ClientID string
		Image    template.URL
	}{clientID, img})
	if err != nil {
		log.Err(err).Msg("Failed to write QR page")
	}
}

func (s *Server) handleQRJSON(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["clientId"]
	log := hlog.FromRequest(r).With().Str("client_id", clientID).Logger()
	if _, err := s.mgr.Acquire(r.Context(), clientID); err != nil {
		log.Err(err).Msg("Failed to acquire session for QR")
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	code, ok := s.mgr.QRCode(clientID)
	resp := qrResponse{statusResponse: statusResponse{
		ClientID: clientID,
		Status:   s.mgr.Status(clientID),
		HasQR:    ok,
	}}
	if ok {
		if img, err := qrDataURL(code); err != nil {
			log.Warn().Err(err).Msg("Failed to render QR code")
		} else {
			str := string(img)
			resp.QRImage = &str
		}
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["clientId"]
	_, hasQR := s.mgr.QRCode(clientID)
	exhttp.WriteJSONResponse(w, http.StatusOK, statusResponse{
		ClientID: clientID,
		Status:   s.mgr.Status(clientID),
		HasQR:    hasQR,
	})
}
