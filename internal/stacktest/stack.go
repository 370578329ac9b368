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

// Package stacktest provides an in-memory gateway.Stack for tests.
package stacktest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	gateway "github.com/edgeo-scada/gateway"
)

// Operation names accepted by FailOn, Block and Calls.
const (
	OpDiscover           = "discover"
	OpDial               = "dial"
	OpRead               = "read"
	OpDataTypes          = "datatypes"
	OpWrite              = "write"
	OpRegister           = "register"
	OpUnregister         = "unregister"
	OpCreateSubscription = "create_subscription"
	OpMonitor            = "monitor"
	OpDeleteSubscription = "delete_subscription"
	OpClose              = "close"
)

// ErrClosed is returned by every call on a closed connection.
var ErrClosed = errors.New("stacktest: connection closed")

type serverNode struct {
	dataType gateway.DataType
	value    any
}

// Stack simulates one OPC UA server.
type Stack struct {
	mu sync.Mutex

	endpoints []gateway.EndpointDescriptor
	nodes     map[string]*serverNode
	failures  map[string]error
	blocks    map[string]*block
	calls     map[string]int

	dials      []gateway.DialConfig
	conn       *Conn
	registered map[string]string // handle -> node id
	nextHandle int
	nextSubID  uint32
	forcedSub  uint32
	subs       []*Subscription
	lastWrite  []WriteCall
}

// WriteCall records one value written to a node.
type WriteCall struct {
	NodeID string
	Value  gateway.TypedValue
}

type block struct {
	entered chan struct{}
	release chan struct{}
}

// New creates an empty simulated server.
func New() *Stack {
	return &Stack{
		nodes:      make(map[string]*serverNode),
		failures:   make(map[string]error),
		blocks:     make(map[string]*block),
		calls:      make(map[string]int),
		registered: make(map[string]string),
		nextSubID:  100,
	}
}

var _ gateway.Stack = (*Stack)(nil)

// SetEndpoints sets the endpoints returned by discovery.
func (s *Stack) SetEndpoints(eps ...gateway.EndpointDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoints = eps
}

// SetNode defines a node with its declared data type and current value.
func (s *Stack) SetNode(id string, t gateway.DataType, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[id] = &serverNode{dataType: t, value: value}
}

// Value returns the current value of a node.
func (s *Stack) Value(id string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.nodes[id]; ok {
		return n.value
	}
	return nil
}

// FailOn makes every following call of op fail with err. A nil err clears it.
func (s *Stack) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// Block makes the next call of op wait until release is called. entered is
// closed once the call is waiting.
func (s *Stack) Block(op string) (entered <-chan struct{}, release func()) {
	b := &block{entered: make(chan struct{}), release: make(chan struct{})}
	s.mu.Lock()
	s.blocks[op] = b
	s.mu.Unlock()

	var once sync.Once
	return b.entered, func() { once.Do(func() { close(b.release) }) }
}

// ForceSubscriptionID makes the server assign id to every new subscription.
func (s *Stack) ForceSubscriptionID(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forcedSub = id
}

// Calls returns how many times op was invoked.
func (s *Stack) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Dials returns every dial configuration seen so far.
func (s *Stack) Dials() []gateway.DialConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]gateway.DialConfig(nil), s.dials...)
}

// Registered returns the node ids registered on the server side.
func (s *Stack) Registered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.registered))
	for _, id := range s.registered {
		out = append(out, id)
	}
	return out
}

// LastWrite returns the values of the most recent batch write.
func (s *Stack) LastWrite() []WriteCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]WriteCall(nil), s.lastWrite...)
}

// LiveSubscriptions returns the number of subscriptions not yet deleted.
func (s *Stack) LiveSubscriptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sub := range s.subs {
		if !sub.deleted {
			n++
		}
	}
	return n
}

// Emit delivers a data change on nodeID to every live subscription that
// monitors it and returns how many sinks were called. Sinks run on the
// calling goroutine.
func (s *Stack) Emit(nodeID string, value any) int {
	s.mu.Lock()
	var sinks []gateway.ChangeSink
	for _, sub := range s.subs {
		if sub.deleted {
			continue
		}
		for _, n := range sub.monitored {
			if n == nodeID {
				sinks = append(sinks, sub.sink)
			}
		}
	}
	s.mu.Unlock()

	for _, sink := range sinks {
		sink.DataChange(nodeID, value)
	}
	return len(sinks)
}

// enter counts a call, honours a pending block and returns the injected
// failure for op, if any. It must be called without s.mu held.
func (s *Stack) enter(op string) error {
	s.mu.Lock()
	s.calls[op]++
	b := s.blocks[op]
	delete(s.blocks, op)
	s.mu.Unlock()

	if b != nil {
		close(b.entered)
		<-b.release
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures[op]
}

// Discover implements gateway.Stack.
func (s *Stack) Discover(ctx context.Context, address string) ([]gateway.EndpointDescriptor, error) {
	if err := s.enter(OpDiscover); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]gateway.EndpointDescriptor(nil), s.endpoints...), nil
}

// Dial implements gateway.Stack.
func (s *Stack) Dial(ctx context.Context, cfg gateway.DialConfig) (gateway.Conn, error) {
	s.mu.Lock()
	s.dials = append(s.dials, cfg)
	s.mu.Unlock()

	if err := s.enter(OpDial); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := &Conn{stack: s}
	s.mu.Lock()
	s.conn = c
	s.mu.Unlock()
	return c, nil
}

// Node is a resolved node of the simulated server.
type Node string

func (n Node) String() string { return string(n) }

// Conn is a session with the simulated server.
type Conn struct {
	stack  *Stack
	closed bool
}

var _ gateway.Conn = (*Conn)(nil)

func (c *Conn) call(op string) error {
	if err := c.stack.enter(op); err != nil {
		return err
	}
	c.stack.mu.Lock()
	defer c.stack.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}

// ResolveNode rejects empty ids and ids containing whitespace.
func (c *Conn) ResolveNode(id string) (gateway.Node, error) {
	if id == "" || strings.ContainsAny(id, " \t\n") {
		return nil, fmt.Errorf("invalid node id %q", id)
	}
	return Node(id), nil
}

func (c *Conn) Read(ctx context.Context, nodes []gateway.Node) ([]any, error) {
	if err := c.call(OpRead); err != nil {
		return nil, err
	}
	s := c.stack
	s.mu.Lock()
	defer s.mu.Unlock()

	values := make([]any, len(nodes))
	for i, n := range nodes {
		sn, ok := s.nodes[n.String()]
		if !ok {
			return nil, fmt.Errorf("node %s: BadNodeIdUnknown", n)
		}
		values[i] = sn.value
	}
	return values, nil
}

func (c *Conn) DataTypes(ctx context.Context, nodes []gateway.Node) ([]gateway.DataType, error) {
	if err := c.call(OpDataTypes); err != nil {
		return nil, err
	}
	s := c.stack
	s.mu.Lock()
	defer s.mu.Unlock()

	types := make([]gateway.DataType, len(nodes))
	for i, n := range nodes {
		sn, ok := s.nodes[n.String()]
		if !ok {
			return nil, fmt.Errorf("node %s: BadNodeIdUnknown", n)
		}
		types[i] = sn.dataType
	}
	return types, nil
}

func (c *Conn) Write(ctx context.Context, nodes []gateway.Node, values []gateway.TypedValue) error {
	if err := c.call(OpWrite); err != nil {
		return err
	}
	s := c.stack
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastWrite = s.lastWrite[:0]
	for i, n := range nodes {
		sn, ok := s.nodes[n.String()]
		if !ok {
			return fmt.Errorf("node %s: BadNodeIdUnknown", n)
		}
		sn.value = values[i].Value
		s.lastWrite = append(s.lastWrite, WriteCall{NodeID: n.String(), Value: values[i]})
	}
	return nil
}

func (c *Conn) RegisterNodes(ctx context.Context, nodes []gateway.Node) ([]gateway.Node, error) {
	if err := c.call(OpRegister); err != nil {
		return nil, err
	}
	s := c.stack
	s.mu.Lock()
	defer s.mu.Unlock()

	handles := make([]gateway.Node, len(nodes))
	for i, n := range nodes {
		s.nextHandle++
		h := fmt.Sprintf("ns=1;i=%d", s.nextHandle)
		s.registered[h] = n.String()
		handles[i] = Node(h)
	}
	return handles, nil
}

func (c *Conn) UnregisterNodes(ctx context.Context, nodes []gateway.Node) error {
	if err := c.call(OpUnregister); err != nil {
		return err
	}
	s := c.stack
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range nodes {
		delete(s.registered, n.String())
	}
	return nil
}

func (c *Conn) CreateSubscription(ctx context.Context, interval time.Duration, sink gateway.ChangeSink) (gateway.Subscription, error) {
	if err := c.call(OpCreateSubscription); err != nil {
		return nil, err
	}
	s := c.stack
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.forcedSub
	if id == 0 {
		s.nextSubID++
		id = s.nextSubID
	}
	sub := &Subscription{conn: c, id: id, interval: interval, sink: sink}
	s.subs = append(s.subs, sub)
	return sub, nil
}

func (c *Conn) Close(ctx context.Context) error {
	err := c.stack.enter(OpClose)

	s := c.stack
	s.mu.Lock()
	defer s.mu.Unlock()
	c.closed = true
	for _, sub := range s.subs {
		if sub.conn == c {
			sub.deleted = true
		}
	}
	s.registered = make(map[string]string)
	return err
}

// Subscription is a subscription on the simulated server.
type Subscription struct {
	conn      *Conn
	id        uint32
	interval  time.Duration
	sink      gateway.ChangeSink
	monitored []string
	deleted   bool
}

var _ gateway.Subscription = (*Subscription)(nil)

func (s *Subscription) ID() uint32 { return s.id }

func (s *Subscription) MonitorDataChange(ctx context.Context, n gateway.Node) (uint32, error) {
	if err := s.conn.call(OpMonitor); err != nil {
		return 0, err
	}
	st := s.conn.stack
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.nodes[n.String()]; !ok {
		return 0, fmt.Errorf("node %s: BadNodeIdUnknown", n)
	}
	s.monitored = append(s.monitored, n.String())
	return uint32(len(s.monitored)), nil
}

func (s *Subscription) Delete(ctx context.Context) error {
	if err := s.conn.call(OpDeleteSubscription); err != nil {
		return err
	}
	st := s.conn.stack
	st.mu.Lock()
	defer st.mu.Unlock()
	s.deleted = true
	return nil
}
