// Package httpapi exposes the chain-space engine over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"chainspace.org/internal/obs"
	"chainspace.org/internal/space"
	"chainspace.org/internal/stream"
)

// ReadyProbe reports whether the backing store can serve traffic.
type ReadyProbe struct {
	Pinger interface {
		Ping(ctx context.Context) error
	}
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Pinger == nil {
		return nil
	}
	return rp.Pinger.Ping(ctx)
}

// API is the HTTP layer over the space engine.
type API struct {
	mux         *http.ServeMux
	spaces      *space.Service
	stream      *stream.Stream
	readyProbe  ReadyProbe
	version     string
	authEnabled bool
}

// Option configures the API.
type Option func(*API)

// WithStream enables the live event endpoint.
func WithStream(s *stream.Stream) Option {
	return func(a *API) { a.stream = s }
}

// WithReadyProbe wires a store connectivity check into /readyz.
func WithReadyProbe(rp ReadyProbe) Option {
	return func(a *API) { a.readyProbe = rp }
}

// WithAuth toggles bearer-token authentication. Disabled, the caller
// identity comes from the X-Caller header; only for local development
// and tests.
func WithAuth(enabled bool) Option {
	return func(a *API) { a.authEnabled = enabled }
}

func New(spaces *space.Service, version string, opts ...Option) *API {
	a := &API{
		mux:     http.NewServeMux(),
		spaces:  spaces,
		version: version,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	a.mux.HandleFunc("/v1/spaces", a.handleSpacesCollection)
	a.mux.HandleFunc("/v1/spaces/", a.handleSpaceResource)
	a.mux.HandleFunc("/v1/authorizations/", a.handleAuthorizationResource)
	a.mux.HandleFunc("/v1/authorize", a.handleAuthorize)
	a.mux.HandleFunc("/v1/stream", a.Stream)

	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	return obs.Instrument(RequestID(a.withAuth(a.mux)))
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "chainspace-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "chainspace-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
