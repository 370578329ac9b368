// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api exposes a gateway session over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	gateway "github.com/edgeo-scada/gateway"
)

// Default request timeouts.
const (
	DefaultRequestTimeout   = 10 * time.Second
	DefaultDiscoveryTimeout = 10 * time.Second
)

// PushPath is where the push handler is mounted.
const PushPath = "/ws/opcua"

type apiOptions struct {
	requestTimeout   time.Duration
	discoveryTimeout time.Duration
	push             http.Handler
	stats            func() map[string]interface{}
	logger           *slog.Logger
}

// Option configures an API.
type Option func(*apiOptions)

// WithRequestTimeout bounds read, write, register and subscription calls.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *apiOptions) {
		o.requestTimeout = d
	}
}

// WithDiscoveryTimeout bounds endpoint discovery.
func WithDiscoveryTimeout(d time.Duration) Option {
	return func(o *apiOptions) {
		o.discoveryTimeout = d
	}
}

// WithPushHandler mounts h at PushPath.
func WithPushHandler(h http.Handler) Option {
	return func(o *apiOptions) {
		o.push = h
	}
}

// WithStats adds extra counters to the metrics endpoint under "bus".
func WithStats(fn func() map[string]interface{}) Option {
	return func(o *apiOptions) {
		o.stats = fn
	}
}

// WithLogger sets the logger for the API.
func WithLogger(logger *slog.Logger) Option {
	return func(o *apiOptions) {
		o.logger = logger
	}
}

// API serves the gateway operations.
type API struct {
	session *gateway.Session
	stack   gateway.Stack
	opts    *apiOptions
	logger  *slog.Logger
}

// New creates an API for session. Discovery goes through stack directly.
func New(session *gateway.Session, stack gateway.Stack, opts ...Option) *API {
	o := &apiOptions{
		requestTimeout:   DefaultRequestTimeout,
		discoveryTimeout: DefaultDiscoveryTimeout,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return &API{
		session: session,
		stack:   stack,
		opts:    o,
		logger:  o.logger,
	}
}

// Routes returns the HTTP handler. Paths match with or without a trailing
// slash.
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.StripSlashes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.health)
	r.Get("/api/metrics", a.metrics)

	r.Route("/api/opcua", func(r chi.Router) {
		r.Get("/connection", a.listEndpoints)
		r.Post("/connection", a.connect)
		r.Delete("/connection", a.disconnect)

		r.Post("/read-write", a.read)
		r.Put("/read-write", a.write)

		r.Get("/register", a.registeredNodes)
		r.Post("/register", a.register)
		r.Delete("/register", a.unregister)

		r.Get("/subscribe", a.subscriptions)
		r.Post("/subscribe", a.subscribe)
		r.Delete("/subscribe", a.unsubscribe)
	})

	if a.opts.push != nil {
		r.Handle(PushPath, a.opts.push)
	}

	return r
}

func (a *API) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if a.opts.requestTimeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), a.opts.requestTimeout)
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		a.logger.Debug("http request",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)))
	})
}
