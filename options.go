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

package gateway

import (
	"log/slog"
	"time"
)

// Default session settings.
const (
	DefaultCertDir        = "certificates"
	DefaultApplicationURI = "urn:edgeo:gateway:client"
	DefaultDialTimeout    = 10 * time.Second
)

// Option is a functional option for configuring a Session.
type Option func(*sessionOptions)

type sessionOptions struct {
	// Security material
	certDir        string
	applicationURI string

	dialTimeout time.Duration

	sink    ChangeSink
	metrics *Metrics

	// Callbacks
	onConnect    func(EndpointDescriptor)
	onDisconnect func(error)

	logger *slog.Logger
}

func defaultOptions() *sessionOptions {
	return &sessionOptions{
		certDir:        DefaultCertDir,
		applicationURI: DefaultApplicationURI,
		dialTimeout:    DefaultDialTimeout,
		logger:         slog.Default(),
	}
}

// WithCertDir sets the directory holding opcua_client_cert.pem and
// opcua_client_key.pem.
func WithCertDir(dir string) Option {
	return func(o *sessionOptions) {
		o.certDir = dir
	}
}

// WithApplicationURI sets the application URI presented on secure sessions.
func WithApplicationURI(uri string) Option {
	return func(o *sessionOptions) {
		o.applicationURI = uri
	}
}

// WithDialTimeout bounds session establishment.
func WithDialTimeout(d time.Duration) Option {
	return func(o *sessionOptions) {
		o.dialTimeout = d
	}
}

// WithChangeSink sets the sink installed on every subscription.
func WithChangeSink(sink ChangeSink) Option {
	return func(o *sessionOptions) {
		o.sink = sink
	}
}

// WithMetrics shares a metrics instance with the session.
func WithMetrics(m *Metrics) Option {
	return func(o *sessionOptions) {
		o.metrics = m
	}
}

// WithOnConnect sets a callback to be called when the session is established.
func WithOnConnect(fn func(EndpointDescriptor)) Option {
	return func(o *sessionOptions) {
		o.onConnect = fn
	}
}

// WithOnDisconnect sets a callback to be called after teardown. The error
// is the close failure, if any.
func WithOnDisconnect(fn func(error)) Option {
	return func(o *sessionOptions) {
		o.onDisconnect = fn
	}
}

// WithLogger sets the logger for the session.
func WithLogger(logger *slog.Logger) Option {
	return func(o *sessionOptions) {
		o.logger = logger
	}
}
