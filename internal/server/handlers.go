package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/joshp123/nibebridge/internal/bridge"
	"github.com/joshp123/nibebridge/internal/oauth"
	"github.com/joshp123/nibebridge/internal/uplink"
)

type handlers struct {
	bridge     *bridge.Service
	correlator *oauth.Correlator
	session    *oauth.Session
	log        *zap.Logger
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ok"}
	if h.session != nil {
		body["authorized"] = h.session.Authorized()
	}
	writeJSON(w, body)
}

// authorize starts a browser authorization attempt and sends the operator to
// the vendor's consent page.
func (h *handlers) authorize(w http.ResponseWriter, r *http.Request) {
	attempt, err := h.correlator.Begin()
	if err != nil {
		h.log.Error("could not begin authorization", zap.Error(err))
		http.Error(w, "could not begin authorization", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, attempt.AuthURL, http.StatusFound)
}

// callback receives the vendor redirect. The state token must belong to a
// pending attempt; a token that was never issued, already redeemed or
// expired is rejected the same way so the response leaks nothing.
func (h *handlers) callback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if state == "" || code == "" {
		callbackResults.WithLabelValues("missing_params").Inc()
		http.Error(w, "missing state or code", http.StatusBadRequest)
		return
	}

	err := h.correlator.Complete(r.Context(), state, code)
	switch {
	case errors.Is(err, oauth.ErrUnknownAttempt):
		callbackResults.WithLabelValues("unknown_state").Inc()
		http.Error(w, "unknown authorization attempt", http.StatusBadRequest)
		return
	case err != nil:
		callbackResults.WithLabelValues("exchange_failed").Inc()
		h.log.Error("authorization exchange failed", zap.Error(err))
		http.Error(w, "authorization failed", http.StatusBadGateway)
		return
	}

	callbackResults.WithLabelValues("ok").Inc()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte("<html><body>Authorization complete. You can close this window.</body></html>"))
}

func (h *handlers) listSystems(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.bridge.Systems())
}

func (h *handlers) getSystem(w http.ResponseWriter, r *http.Request) {
	systemID, ok := h.systemID(w, r)
	if !ok {
		return
	}
	system, err := h.bridge.System(systemID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, system)
}

func (h *handlers) getStatus(w http.ResponseWriter, r *http.Request) {
	systemID, ok := h.systemID(w, r)
	if !ok {
		return
	}
	statuses, err := h.bridge.Statuses(systemID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{"statuses": statuses})
}

func (h *handlers) getNotifications(w http.ResponseWriter, r *http.Request) {
	systemID, ok := h.systemID(w, r)
	if !ok {
		return
	}
	notifications, err := h.bridge.Notifications(systemID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, notifications)
}

func (h *handlers) getUnits(w http.ResponseWriter, r *http.Request) {
	systemID, ok := h.systemID(w, r)
	if !ok {
		return
	}
	units, err := h.bridge.Units(r.Context(), systemID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, units)
}

func (h *handlers) getCategories(w http.ResponseWriter, r *http.Request) {
	systemID, ok := h.systemID(w, r)
	if !ok {
		return
	}
	unitID, err := strconv.Atoi(chi.URLParam(r, "unitID"))
	if err != nil {
		http.Error(w, "invalid unit id", http.StatusBadRequest)
		return
	}
	categories, err := h.bridge.Categories(r.Context(), systemID, unitID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, categories)
}

// getParameter serves the cached snapshot. 404 distinguishes "nothing known
// yet" from a zero value; the caller subscribes and retries.
func (h *handlers) getParameter(w http.ResponseWriter, r *http.Request) {
	systemID, ok := h.systemID(w, r)
	if !ok {
		return
	}
	parameterID := uplink.ParameterID(chi.URLParam(r, "parameterID"))

	p, err := h.bridge.GetParameter(systemID, parameterID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if p == nil {
		http.Error(w, "parameter not cached", http.StatusNotFound)
		return
	}
	writeJSON(w, p)
}

func (h *handlers) putParameter(w http.ResponseWriter, r *http.Request) {
	systemID, ok := h.systemID(w, r)
	if !ok {
		return
	}
	parameterID := uplink.ParameterID(chi.URLParam(r, "parameterID"))

	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Value == "" {
		http.Error(w, "body must be {\"value\": \"...\"}", http.StatusBadRequest)
		return
	}

	status, err := h.bridge.SetParameter(r.Context(), systemID, parameterID, body.Value)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, map[string]string{"status": status})
}

func (h *handlers) getSmartHomeMode(w http.ResponseWriter, r *http.Request) {
	systemID, ok := h.systemID(w, r)
	if !ok {
		return
	}
	mode, err := h.bridge.SmartHomeMode(r.Context(), systemID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, map[string]string{"mode": mode})
}

func (h *handlers) putSmartHomeMode(w http.ResponseWriter, r *http.Request) {
	systemID, ok := h.systemID(w, r)
	if !ok {
		return
	}
	var body struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Mode == "" {
		http.Error(w, "body must be {\"mode\": \"...\"}", http.StatusBadRequest)
		return
	}
	if err := h.bridge.SetSmartHomeMode(r.Context(), systemID, body.Mode); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, map[string]string{"mode": body.Mode})
}

func (h *handlers) systemID(w http.ResponseWriter, r *http.Request) (uplink.SystemID, bool) {
	raw := chi.URLParam(r, "systemID")
	id, err := strconv.Atoi(raw)
	if err != nil {
		http.Error(w, "invalid system id", http.StatusBadRequest)
		return 0, false
	}
	return uplink.SystemID(id), true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
