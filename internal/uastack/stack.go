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

// Package uastack implements gateway.Stack on top of github.com/gopcua/opcua.
package uastack

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	gateway "github.com/edgeo-scada/gateway"
)

// Defaults for the stack.
const (
	DefaultRequestTimeout = 10 * time.Second
	DefaultNotifyBuffer   = 64
)

// Stack is a gateway.Stack backed by gopcua.
type Stack struct {
	requestTimeout time.Duration
	notifyBuffer   int
	logger         *slog.Logger
}

// Option configures a Stack.
type Option func(*Stack)

// WithRequestTimeout sets the timeout of every service request.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Stack) {
		s.requestTimeout = d
	}
}

// WithNotifyBuffer sets the publish notification buffer per subscription.
func WithNotifyBuffer(n int) Option {
	return func(s *Stack) {
		s.notifyBuffer = n
	}
}

// WithLogger sets the logger for the stack.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Stack) {
		s.logger = logger
	}
}

// New creates a gopcua backed stack.
func New(opts ...Option) *Stack {
	s := &Stack{
		requestTimeout: DefaultRequestTimeout,
		notifyBuffer:   DefaultNotifyBuffer,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ gateway.Stack = (*Stack)(nil)

// Discover implements gateway.Stack.
func (s *Stack) Discover(ctx context.Context, address string) ([]gateway.EndpointDescriptor, error) {
	endpoints, err := opcua.GetEndpoints(ctx, address)
	if err != nil {
		return nil, err
	}

	out := make([]gateway.EndpointDescriptor, 0, len(endpoints))
	for _, ep := range endpoints {
		if ep == nil {
			continue
		}
		out = append(out, descriptorOf(ep))
	}
	return out, nil
}

func descriptorOf(ep *ua.EndpointDescription) gateway.EndpointDescriptor {
	return gateway.EndpointDescriptor{
		URL:               ep.EndpointURL,
		SecurityMode:      gateway.MessageSecurityMode(ep.SecurityMode),
		SecurityPolicyURI: ep.SecurityPolicyURI,
		SecurityLevel:     ep.SecurityLevel,
	}
}

// Dial implements gateway.Stack.
func (s *Stack) Dial(ctx context.Context, cfg gateway.DialConfig) (gateway.Conn, error) {
	opts := []opcua.Option{
		opcua.RequestTimeout(s.requestTimeout),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, opcua.DialTimeout(cfg.Timeout))
	}

	if cfg.Security == nil {
		opts = append(opts,
			opcua.SecurityMode(ua.MessageSecurityModeNone),
			opcua.AuthAnonymous(),
		)
	} else {
		secOpts, err := s.securityOptions(ctx, cfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, secOpts...)
	}

	client, err := opcua.NewClient(cfg.EndpointURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	if err := client.Connect(ctx); err != nil {
		_ = client.Close(context.Background())
		return nil, err
	}

	s.logger.Debug("opcua session established", slog.String("endpoint", cfg.EndpointURL))
	return newConn(client, s.notifyBuffer, s.logger), nil
}

// securityOptions looks up the advertised endpoint matching the requested
// policy and mode so the server certificate and user token policy are
// known before the secure channel opens.
func (s *Stack) securityOptions(ctx context.Context, cfg gateway.DialConfig) ([]opcua.Option, error) {
	sec := cfg.Security

	endpoints, err := opcua.GetEndpoints(ctx, cfg.EndpointURL)
	if err != nil {
		return nil, fmt.Errorf("get endpoints: %w", err)
	}
	ep := selectEndpoint(endpoints, sec.Policy, sec.Mode)
	if ep == nil {
		return nil, fmt.Errorf("no matching endpoint for policy=%s mode=%s", sec.Policy, sec.Mode)
	}

	tokenType := ua.UserTokenTypeAnonymous
	if cfg.Username != "" {
		tokenType = ua.UserTokenTypeUserName
	}

	opts := []opcua.Option{
		opcua.SecurityFromEndpoint(ep, tokenType),
		opcua.SecurityPolicy(sec.Policy),
		opcua.SecurityModeString(sec.Mode),
		opcua.CertificateFile(sec.CertFile),
		opcua.PrivateKeyFile(sec.KeyFile),
	}
	if cfg.ApplicationURI != "" {
		opts = append(opts, opcua.ApplicationURI(cfg.ApplicationURI))
	}
	if cfg.Username != "" {
		opts = append(opts, opcua.AuthUsername(cfg.Username, cfg.Password))
	}
	return opts, nil
}

// selectEndpoint returns the advertised endpoint with the given short
// policy name and mode name.
func selectEndpoint(endpoints []*ua.EndpointDescription, policy, mode string) *ua.EndpointDescription {
	for _, ep := range endpoints {
		if ep == nil {
			continue
		}
		if !strings.HasSuffix(ep.SecurityPolicyURI, "#"+policy) {
			continue
		}
		if gateway.MessageSecurityMode(ep.SecurityMode).String() != mode {
			continue
		}
		return ep
	}
	return nil
}
