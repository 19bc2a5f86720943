// Copyright 2024-2026 Aiku AI

package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/hlog"
	"go.mau.fi/util/exhttp"

	"github.com/aiku/whatsapp-gateway/pkg/connector/phonefmt"
)

// phoneNumber accepts both JSON strings and JSON numbers.
type phoneNumber string

func (p *phoneNumber) UnmarshalJSON(data []byte) error {
	if bytes.HasPrefix(data, []byte(`"`)) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = phoneNumber(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*p = phoneNumber(n.String())
	return nil
}

type sendRequest struct {
	ClientID string      `json:"clientId"`
	Number   phoneNumber `json:"number"`
	Message  string      `json:"message"`
}

// variantCheck is the outcome of one existence check. Numbers are masked.
type variantCheck struct {
	Variant string `json:"variant"`
	Exists  bool   `json:"exists"`
	JID     string `json:"jid,omitempty"`
	Error   string `json:"error,omitempty"`
}

type sendAttempt struct {
	JID   string `json:"jid"`
	Sent  bool   `json:"sent"`
	ID    string `json:"id,omitempty"`
	Error string `json:"error,omitempty"`
}

type sendResponse struct {
	Success    bool           `json:"success"`
	Message    string         `json:"message"`
	Target     string         `json:"target"`
	Attempts   []sendAttempt  `json:"attempts,omitempty"`
	OnWhatsApp []variantCheck `json:"onWhatsApp,omitempty"`
}

type sendFailedResponse struct {
	Error  string `json:"error"`
	Target string `json:"target"`
	Detail string `json:"detail"`
}

type notFoundResponse struct {
	Error      string         `json:"error"`
	Variants   []string       `json:"variants,omitempty"`
	Attempts   []sendAttempt  `json:"attempts,omitempty"`
	OnWhatsApp []variantCheck `json:"onWhatsApp"`
}

// handleSend sends a text message. The number is expanded into its variants
// and each is checked for an account; the first verified one receives the
// message. Without a verified variant the message is only sent when fallback
// sending is enabled, trying each variant in order.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeBody(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, http.StatusBadRequest, "Invalid JSON body.")
		return
	}
	if req.ClientID == "" || req.Number == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "clientId, number and message are required.")
		return
	}
	variants := phonefmt.Variants(string(req.Number), s.countryCode)
	if len(variants) == 0 {
		writeError(w, http.StatusBadRequest, "number must contain digits.")
		return
	}

	ctx := r.Context()
	log := hlog.FromRequest(r).With().Str("client_id", req.ClientID).Logger()
	sess, err := s.mgr.Acquire(ctx, req.ClientID)
	if err != nil {
		log.Err(err).Msg("Failed to acquire session for sending")
		writeError(w, http.StatusInternalServerError, "Failed to send the message.")
		return
	}

	checks := make([]variantCheck, 0, len(variants))
	var target string
	for _, v := range variants {
		check := variantCheck{Variant: phonefmt.MaskDigits(v)}
		jid, ok, err := sess.ResolveNumber(ctx, v)
		switch {
		case err != nil:
			check.Error = err.Error()
		case ok:
			check.Exists = true
			check.JID = phonefmt.MaskJID(jid)
			target = jid
		}
		checks = append(checks, check)
		if target != "" {
			break
		}
	}

	if target != "" {
		id, err := sess.SendText(ctx, target, req.Message)
		if err != nil {
			log.Err(err).Str("target", phonefmt.MaskJID(target)).Msg("Failed to send to verified number")
			exhttp.WriteJSONResponse(w, http.StatusBadGateway, sendFailedResponse{
				Error:  "Failed to send the message to the verified number.",
				Target: target,
				Detail: err.Error(),
			})
			return
		}
		log.Info().Str("target", phonefmt.MaskJID(target)).Str("message_id", id).Msg("Message sent")
		exhttp.WriteJSONResponse(w, http.StatusOK, sendResponse{
			Success: true,
			Message: "Message sent.",
			Target:  target,
		})
		return
	}

	jids := make([]string, len(variants))
	for i, v := range variants {
		jids[i] = phonefmt.UserJID(v)
	}
	if !s.fallbackSend {
		log.Info().Strs("variants", maskAll(jids)).Msg("No variant has a WhatsApp account, not sending")
		exhttp.WriteJSONResponse(w, http.StatusNotFound, notFoundResponse{
			Error:      "No variant was confirmed to have WhatsApp.",
			Variants:   jids,
			OnWhatsApp: checks,
		})
		return
	}

	attempts := make([]sendAttempt, 0, len(jids))
	for _, jid := range jids {
		id, err := sess.SendText(ctx, jid, req.Message)
		if err != nil {
			attempts = append(attempts, sendAttempt{JID: phonefmt.MaskJID(jid), Error: err.Error()})
			continue
		}
		attempts = append(attempts, sendAttempt{JID: phonefmt.MaskJID(jid), Sent: true, ID: id})
		log.Warn().Str("target", phonefmt.MaskJID(jid)).Msg("Message sent to unverified number")
		exhttp.WriteJSONResponse(w, http.StatusOK, sendResponse{
			Success:    true,
			Message:    "Message sent (fallback).",
			Target:     jid,
			Attempts:   attempts,
			OnWhatsApp: checks,
		})
		return
	}
	log.Error().Int("attempts", len(attempts)).Msg("Every fallback send failed")
	exhttp.WriteJSONResponse(w, http.StatusNotFound, notFoundResponse{
		Error:      "No variant has WhatsApp and every attempt failed.",
		Attempts:   attempts,
		OnWhatsApp: checks,
	})
}

func maskAll(jids []string) []string {
	out := make([]string, len(jids))
	for i, jid := range jids {
		out[i] = phonefmt.MaskJID(jid)
	}
	return out
}
