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

// Package bridge mirrors bus groups onto external messaging systems.
package bridge

import (
	"context"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/edgeo-scada/gateway/internal/bus"
)

// DefaultSubject is the NATS subject change events are mirrored to.
const DefaultSubject = "opcua.updates"

// Publisher sends a message to a subject.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Forwarder copies every message of a bus group to a subject.
type Forwarder struct {
	bus     *bus.Bus
	group   string
	pub     Publisher
	subject string
	buffer  int
	logger  *slog.Logger
}

// NewForwarder creates a forwarder from group to subject.
func NewForwarder(b *bus.Bus, group string, pub Publisher, subject string, buffer int, logger *slog.Logger) *Forwarder {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{
		bus:     b,
		group:   group,
		pub:     pub,
		subject: subject,
		buffer:  buffer,
		logger:  logger,
	}
}

// Run forwards messages until ctx is done.
func (f *Forwarder) Run(ctx context.Context) error {
	l := bus.NewListener(f.buffer)
	f.bus.Join(f.group, l)
	defer f.bus.Leave(f.group, l)

	f.logger.Info("forwarding push group to nats",
		slog.String("group", f.group),
		slog.String("subject", f.subject))

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-l.C():
			if err := f.pub.Publish(f.subject, msg); err != nil {
				f.logger.Warn("nats publish failed",
					slog.String("subject", f.subject),
					slog.String("error", err.Error()))
			}
		}
	}
}

// DialNATS connects to a NATS server and keeps reconnecting for the
// lifetime of the process.
func DialNATS(url string, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return nats.Connect(url,
		nats.Name("edgeo-gateway"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	)
}
