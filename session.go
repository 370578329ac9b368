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

// Package gateway mediates a single OPC UA session shared by many
// concurrent callers. It keeps connection state, registered nodes and live
// subscriptions consistent and fans data changes out to a ChangeSink.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Session is the one OPC UA session owned by a gateway.
//
// A single lock guards the connection state and both bookkeeping tables.
// Mutating operations hold it exclusively across their stack calls; reads,
// writes and listings share it. Change notifications never take it.
type Session struct {
	stack   Stack
	opts    *sessionOptions
	metrics *Metrics
	logger  *slog.Logger

	mu         sync.RWMutex
	state      SessionState
	configured bool
	endpoint   EndpointDescriptor
	username   string
	password   string
	conn       Conn
	nodes      map[string]registeredNode
	subs       map[string]*subscriptionEntry
}

type registeredNode struct {
	requestedID string
	handle      Node
}

// NewSession creates a disconnected session on top of stack.
func NewSession(stack Stack, opts ...Option) (*Session, error) {
	if stack == nil {
		return nil, errors.New("gateway: stack cannot be nil")
	}

	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	if options.sink == nil {
		options.sink = discardSink{}
	}
	if options.metrics == nil {
		options.metrics = NewMetrics()
	}

	return &Session{
		stack:   stack,
		opts:    options,
		metrics: options.metrics,
		logger:  options.logger,
		state:   StateDisconnected,
		nodes:   make(map[string]registeredNode),
		subs:    make(map[string]*subscriptionEntry),
	}, nil
}

// ValidateConnect checks connect parameters without touching any session.
func ValidateConnect(endpoint EndpointDescriptor, username, password string) error {
	if endpoint.URL == "" {
		return validationError("connect", "endpoint url is required")
	}
	if endpoint.Secure() && (username == "" || password == "") {
		return validationError("connect", "username and password are required for secure endpoints")
	}
	return nil
}

// Configure stores the endpoint and credentials for the next Connect.
// No I/O is performed.
func (s *Session) Configure(endpoint EndpointDescriptor, username, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateConnected {
		return newError(KindAlreadyConnected, "configure", nil)
	}
	if err := ValidateConnect(endpoint, username, password); err != nil {
		return err
	}
	s.configureLocked(endpoint, username, password)
	return nil
}

func (s *Session) configureLocked(endpoint EndpointDescriptor, username, password string) {
	s.endpoint = endpoint
	s.username = username
	s.password = password
	s.configured = true
}

// Connect establishes the session with the configured endpoint.
func (s *Session) Connect(ctx context.Context) error {
	start := time.Now()

	s.mu.Lock()
	err := s.connectLocked(ctx)
	ep := s.endpoint
	s.mu.Unlock()

	s.metrics.observe("connect", start, err)
	if err == nil && s.opts.onConnect != nil {
		s.opts.onConnect(ep)
	}
	return err
}

// ConnectWith configures and connects in one step. A concurrent connect
// cannot slip in between the two.
func (s *Session) ConnectWith(ctx context.Context, endpoint EndpointDescriptor, username, password string) error {
	start := time.Now()

	s.mu.Lock()
	var err error
	if s.state == StateConnected {
		err = newError(KindAlreadyConnected, "connect", nil)
	} else if err = ValidateConnect(endpoint, username, password); err == nil {
		s.configureLocked(endpoint, username, password)
		err = s.connectLocked(ctx)
	}
	s.mu.Unlock()

	s.metrics.observe("connect", start, err)
	if err == nil && s.opts.onConnect != nil {
		s.opts.onConnect(endpoint)
	}
	return err
}

func (s *Session) connectLocked(ctx context.Context) error {
	if s.state == StateConnected {
		return newError(KindAlreadyConnected, "connect", nil)
	}
	if !s.configured {
		return validationError("connect", "no endpoint configured")
	}

	ep := s.endpoint
	cfg := DialConfig{
		EndpointURL: ep.URL,
		Timeout:     s.opts.dialTimeout,
	}

	if ep.Secure() {
		sec, err := securityFor(ep, s.opts.certDir)
		if err != nil {
			s.resetLocked()
			return newError(KindConnect, "connect", err)
		}
		if ep.SecurityMode != MessageSecurityModeSign && ep.SecurityMode != MessageSecurityModeSignAndEncrypt {
			s.logger.Warn("unexpected security mode on secure endpoint, using SignAndEncrypt",
				slog.String("endpoint", ep.URL),
				slog.String("mode", ep.SecurityMode.String()))
		}
		cfg.Security = sec
		cfg.Username = s.username
		cfg.Password = s.password
		cfg.ApplicationURI = s.opts.applicationURI
	}

	s.logger.Debug("connecting",
		slog.String("endpoint", ep.URL),
		slog.Bool("secure", ep.Secure()))

	dialCtx := ctx
	if s.opts.dialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, s.opts.dialTimeout)
		defer cancel()
	}

	conn, err := s.stack.Dial(dialCtx, cfg)
	if err != nil {
		s.resetLocked()
		return newError(KindConnect, "connect", err)
	}

	s.conn = conn
	s.state = StateConnected
	s.nodes = make(map[string]registeredNode)
	s.subs = make(map[string]*subscriptionEntry)
	s.metrics.Connects.Add(1)
	s.metrics.ActiveSessions.Set(1)

	s.logger.Info("connected",
		slog.String("endpoint", ep.URL),
		slog.String("policy", ep.SecurityPolicyURI))
	return nil
}

// Disconnect closes the session. Teardown always completes: a failing
// close is logged and returned as a disconnect error, but the session is
// Disconnected with empty tables either way.
func (s *Session) Disconnect(ctx context.Context) error {
	start := time.Now()

	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return newError(KindNotConnected, "disconnect", nil)
	}
	closeErr := s.conn.Close(ctx)
	endpoint := s.endpoint.URL
	s.resetLocked()
	s.mu.Unlock()

	s.metrics.Disconnects.Add(1)

	var err error
	if closeErr != nil {
		s.logger.Warn("close failed during disconnect",
			slog.String("endpoint", endpoint),
			slog.String("error", closeErr.Error()))
		err = newError(KindDisconnect, "disconnect", closeErr)
	} else {
		s.logger.Info("disconnected", slog.String("endpoint", endpoint))
	}
	s.metrics.observe("disconnect", start, err)

	if s.opts.onDisconnect != nil {
		s.opts.onDisconnect(closeErr)
	}
	return err
}

// Close disconnects if connected. It is meant for shutdown paths.
func (s *Session) Close(ctx context.Context) error {
	err := s.Disconnect(ctx)
	if IsNotConnected(err) {
		return nil
	}
	return err
}

// resetLocked returns the session to Disconnected with fresh tables.
func (s *Session) resetLocked() {
	s.conn = nil
	s.state = StateDisconnected
	s.nodes = make(map[string]registeredNode)
	s.subs = make(map[string]*subscriptionEntry)
	s.metrics.ActiveSessions.Set(0)
	s.metrics.RegisteredNodes.Set(0)
	s.metrics.ActiveSubscriptions.Set(0)
}

// connLocked returns the live connection or a not-connected error for op.
func (s *Session) connLocked(op string) (Conn, error) {
	if s.state != StateConnected {
		return nil, newError(KindNotConnected, op, nil)
	}
	return s.conn, nil
}

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Connected returns true if the session is established.
func (s *Session) Connected() bool {
	return s.State() == StateConnected
}

// Endpoint returns the configured endpoint, if any.
func (s *Session) Endpoint() (EndpointDescriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endpoint, s.configured
}

// Metrics returns the session metrics.
func (s *Session) Metrics() *Metrics {
	return s.metrics
}

func (s *Session) resolve(conn Conn, op string, kind Kind, ids []string) ([]Node, error) {
	nodes := make([]Node, len(ids))
	for i, id := range ids {
		n, err := conn.ResolveNode(id)
		if err != nil {
			return nil, newError(kind, op, err)
		}
		nodes[i] = n
	}
	return nodes, nil
}

type discardSink struct{}

func (discardSink) DataChange(string, any) {}
