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

// Package push streams bus groups to WebSocket clients.
package push

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/edgeo-scada/gateway/internal/bus"
)

// Defaults for the push handler.
const (
	DefaultPingInterval = 30 * time.Second
	DefaultWriteTimeout = 10 * time.Second
)

type handlerOptions struct {
	upgrader     websocket.Upgrader
	buffer       int
	pingInterval time.Duration
	writeTimeout time.Duration
	logger       *slog.Logger
}

// Option configures a Handler.
type Option func(*handlerOptions)

// WithBuffer sets the per-connection message queue size.
func WithBuffer(n int) Option {
	return func(o *handlerOptions) {
		o.buffer = n
	}
}

// WithPingInterval sets how often idle connections are pinged.
func WithPingInterval(d time.Duration) Option {
	return func(o *handlerOptions) {
		o.pingInterval = d
	}
}

// WithWriteTimeout bounds every frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *handlerOptions) {
		o.writeTimeout = d
	}
}

// WithOriginCheck sets the origin check of the upgrader.
func WithOriginCheck(fn func(r *http.Request) bool) Option {
	return func(o *handlerOptions) {
		o.upgrader.CheckOrigin = fn
	}
}

// WithAllowAnyOrigin accepts connections from any origin.
func WithAllowAnyOrigin() Option {
	return func(o *handlerOptions) {
		o.upgrader.CheckOrigin = func(r *http.Request) bool {
			return true
		}
	}
}

// WithLogger sets the logger for the handler.
func WithLogger(logger *slog.Logger) Option {
	return func(o *handlerOptions) {
		o.logger = logger
	}
}

// Handler upgrades requests to WebSocket connections that receive every
// message published to one bus group.
type Handler struct {
	bus   *bus.Bus
	group string
	opts  *handlerOptions
}

// NewHandler creates a handler streaming group from b.
func NewHandler(b *bus.Bus, group string, opts ...Option) *Handler {
	o := &handlerOptions{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		buffer:       bus.DefaultBuffer,
		pingInterval: DefaultPingInterval,
		writeTimeout: DefaultWriteTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return &Handler{bus: b, group: group, opts: o}
}

// ServeHTTP joins the connection to the group for as long as it is open.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.opts.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.opts.logger.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	l := bus.NewListener(h.opts.buffer)
	h.bus.Join(h.group, l)
	defer h.bus.Leave(h.group, l)

	logger := h.opts.logger.With(
		slog.String("listener", l.ID()),
		slog.String("remote", r.RemoteAddr))
	logger.Info("push client connected", slog.String("group", h.group))
	defer func() {
		logger.Info("push client disconnected", slog.Int64("dropped", l.Dropped()))
	}()

	closed := make(chan struct{})
	go h.readPump(conn, closed)

	ticker := time.NewTicker(h.opts.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-l.C():
			if err := h.write(conn, websocket.TextMessage, msg); err != nil {
				logger.Debug("push write failed", slog.String("error", err.Error()))
				return
			}
		case <-ticker.C:
			if err := h.write(conn, websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (h *Handler) write(conn *websocket.Conn, messageType int, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(h.opts.writeTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(messageType, data)
}

// readPump discards inbound frames so control frames are processed, and
// signals when the peer goes away.
func (h *Handler) readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
