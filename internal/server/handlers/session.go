package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sitewire/sitewire/internal/apiclient"
	"github.com/sitewire/sitewire/internal/auth"
	"github.com/sitewire/sitewire/internal/consent"
	apperrors "github.com/sitewire/sitewire/internal/errors"
	"github.com/sitewire/sitewire/internal/platform"
	"github.com/sitewire/sitewire/internal/server/middleware"
	"github.com/sitewire/sitewire/internal/site"
)

// maxBodyBytes bounds harness request bodies.
const maxBodyBytes = 1 << 20

// recorder is implemented by platforms that keep a script and call log.
type recorder interface {
	Injected() []platform.Injection
	Calls(global ...string) []platform.Call
	History() []string
}

// SessionHandlers exposes one site session over HTTP.
type SessionHandlers struct {
	Site *site.Site
}

// SessionResponse is the body of GET /v1/session.
type SessionResponse struct {
	*site.Session
	Scripts  []platform.Injection `json:"scripts,omitempty"`
	Calls    []platform.Call      `json:"calls,omitempty"`
	History  []string             `json:"history,omitempty"`
	Emitted  []string             `json:"page_views,omitempty"`
	Recorded bool                 `json:"recorded"`
}

// NavigateRequest is the body of POST /v1/navigate.
type NavigateRequest struct {
	Path string `json:"path"`
}

// ConsentRequest is the body of PUT /v1/consent.
type ConsentRequest struct {
	State string `json:"state"`
}

// EventRequest is the body of POST /v1/events.
type EventRequest struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

// LoginRequest is the body of POST /v1/login.
type LoginRequest struct {
	Token   string        `json:"token"`
	Profile *auth.Profile `json:"profile,omitempty"`
}

// APIRequest is the body of POST /v1/requests.
type APIRequest struct {
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Body    json.RawMessage   `json:"body,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// APIResponse is the body returned for a completed request.
type APIResponse struct {
	Status     int             `json:"status"`
	DurationMS int64           `json:"duration_ms"`
	Signature  string          `json:"signature"`
	Dispatched time.Time       `json:"dispatched_at"`
	WaitedMS   int64           `json:"waited_ms"`
	Body       json.RawMessage `json:"body,omitempty"`
	Text       string          `json:"text,omitempty"`
}

// Session handles GET /v1/session.
func (h *SessionHandlers) Session(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.Site.Snapshot(r.Context())
	if err != nil {
		respondWithError(w, r, apperrors.WrapStorage(r.Context(), err, "failed to read session"))
		return
	}

	resp := SessionResponse{Session: snapshot, Emitted: h.Site.PageViews.Emitted()}
	if rec, ok := h.Site.Platform.(recorder); ok {
		resp.Recorded = true
		resp.Scripts = rec.Injected()
		resp.Calls = rec.Calls()
		resp.History = rec.History()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Navigate handles POST /v1/navigate.
func (h *SessionHandlers) Navigate(w http.ResponseWriter, r *http.Request) {
	var req NavigateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		respondWithError(w, r, apperrors.NewInvalidInputError("path is required"))
		return
	}
	if err := h.Site.Navigate(r.Context(), req.Path); err != nil {
		respondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "navigation failed"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": h.Site.Platform.Navigator().CurrentPath()})
}

// SetConsent handles PUT /v1/consent.
func (h *SessionHandlers) SetConsent(w http.ResponseWriter, r *http.Request) {
	var req ConsentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	state, err := consent.ParseState(req.State)
	if err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "invalid consent state"))
		return
	}
	decision, err := h.Site.SetConsent(r.Context(), state)
	if err != nil {
		respondWithError(w, r, apperrors.WrapStorage(r.Context(), err, "failed to store consent"))
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// ResetConsent handles DELETE /v1/consent.
func (h *SessionHandlers) ResetConsent(w http.ResponseWriter, r *http.Request) {
	if err := h.Site.ResetConsent(r.Context()); err != nil {
		respondWithError(w, r, apperrors.WrapStorage(r.Context(), err, "failed to reset consent"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TrackEvent handles POST /v1/events. An event that the gates drop is
// still accepted.
func (h *SessionHandlers) TrackEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		respondWithError(w, r, apperrors.NewInvalidInputError("event name is required"))
		return
	}
	if err := h.Site.TrackEvent(r.Context(), req.Name, req.Params); err != nil {
		respondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "event dispatch failed"))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Login handles POST /v1/login.
func (h *SessionHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		respondWithError(w, r, apperrors.NewInvalidInputError("token is required"))
		return
	}
	if err := h.Site.Login(r.Context(), req.Token, req.Profile); err != nil {
		respondWithError(w, r, apperrors.WrapStorage(r.Context(), err, "failed to store credential"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Logout handles DELETE /v1/login.
func (h *SessionHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.Site.Logout(r.Context()); err != nil {
		respondWithError(w, r, apperrors.WrapStorage(r.Context(), err, "failed to clear credential"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Request handles POST /v1/requests by issuing the call through the
// session's shared client.
func (h *SessionHandlers) Request(w http.ResponseWriter, r *http.Request) {
	var req APIRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		respondWithError(w, r, apperrors.NewInvalidInputError("path is required"))
		return
	}

	var body any
	if len(req.Body) > 0 {
		body = req.Body
	}
	opts := []apiclient.Option{apiclient.WithSessionID(h.Site.SessionID)}
	for key, value := range req.Headers {
		opts = append(opts, apiclient.WithHeader(key, value))
	}
	if id := middleware.GetRequestID(r.Context()); id != "" {
		opts = append(opts, apiclient.WithHeader(middleware.RequestIDHeader, id))
	}

	resp, err := h.Site.Request(r.Context(), req.Method, req.Path, body, opts...)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	out := APIResponse{
		Status:     resp.StatusCode,
		DurationMS: resp.Duration.Milliseconds(),
		Signature:  resp.Dispatch.Signature,
		Dispatched: resp.Dispatch.At,
		WaitedMS:   resp.Dispatch.Waited.Milliseconds(),
	}
	if json.Valid(resp.Body) {
		out.Body = resp.Body
	} else {
		out.Text = resp.String()
	}
	writeJSON(w, http.StatusOK, out)
}

// Throttle handles GET /v1/throttle.
func (h *SessionHandlers) Throttle(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Site.Ledger.Snapshot())
}

// ResetThrottle handles DELETE /v1/throttle.
func (h *SessionHandlers) ResetThrottle(w http.ResponseWriter, r *http.Request) {
	h.Site.Ledger.Reset()
	w.WriteHeader(http.StatusNoContent)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			err = fmt.Errorf("body exceeds %d bytes", maxErr.Limit)
		}
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "invalid request body"))
		return false
	}
	return true
}
