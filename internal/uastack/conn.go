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

package uastack

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/id"
	"github.com/gopcua/opcua/ua"

	gateway "github.com/edgeo-scada/gateway"
)

// node wraps a parsed or server-assigned node id.
type node struct {
	id *ua.NodeID
}

func (n node) String() string {
	return n.id.String()
}

type conn struct {
	client *opcua.Client
	buffer int
	logger *slog.Logger

	mu   sync.Mutex
	subs map[uint32]*subscription
}

func newConn(client *opcua.Client, buffer int, logger *slog.Logger) *conn {
	return &conn{
		client: client,
		buffer: buffer,
		logger: logger,
		subs:   make(map[uint32]*subscription),
	}
}

var _ gateway.Conn = (*conn)(nil)

func (c *conn) ResolveNode(s string) (gateway.Node, error) {
	nid, err := ua.ParseNodeID(s)
	if err != nil {
		return nil, fmt.Errorf("invalid node id %q: %w", s, err)
	}
	return node{id: nid}, nil
}

func nodeIDs(nodes []gateway.Node) ([]*ua.NodeID, error) {
	ids := make([]*ua.NodeID, len(nodes))
	for i, n := range nodes {
		un, ok := n.(node)
		if !ok {
			return nil, fmt.Errorf("node %s was not resolved by this stack", n)
		}
		ids[i] = un.id
	}
	return ids, nil
}

func (c *conn) readAttribute(ctx context.Context, nodes []gateway.Node, attr ua.AttributeID) ([]*ua.DataValue, error) {
	ids, err := nodeIDs(nodes)
	if err != nil {
		return nil, err
	}

	toRead := make([]*ua.ReadValueID, len(ids))
	for i, nid := range ids {
		toRead[i] = &ua.ReadValueID{
			NodeID:       nid,
			AttributeID:  attr,
			DataEncoding: &ua.QualifiedName{},
		}
	}

	resp, err := c.client.Read(ctx, &ua.ReadRequest{
		TimestampsToReturn: ua.TimestampsToReturnBoth,
		NodesToRead:        toRead,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Results) != len(ids) {
		return nil, fmt.Errorf("expected %d results, got %d", len(ids), len(resp.Results))
	}
	for i, dv := range resp.Results {
		if dv == nil {
			return nil, fmt.Errorf("node %s: empty result", ids[i])
		}
		if dv.Status != ua.StatusOK {
			return nil, fmt.Errorf("node %s: %w", ids[i], dv.Status)
		}
	}
	return resp.Results, nil
}

func (c *conn) Read(ctx context.Context, nodes []gateway.Node) ([]any, error) {
	results, err := c.readAttribute(ctx, nodes, ua.AttributeIDValue)
	if err != nil {
		return nil, err
	}

	values := make([]any, len(results))
	for i, dv := range results {
		values[i] = variantValue(dv.Value)
	}
	return values, nil
}

func (c *conn) DataTypes(ctx context.Context, nodes []gateway.Node) ([]gateway.DataType, error) {
	results, err := c.readAttribute(ctx, nodes, ua.AttributeIDDataType)
	if err != nil {
		return nil, err
	}

	types := make([]gateway.DataType, len(results))
	for i, dv := range results {
		if dv.Value == nil {
			continue
		}
		types[i] = dataTypeOf(dv.Value.NodeID())
	}
	return types, nil
}

// dataTypeOf maps a DataType attribute onto the gateway's writable types.
func dataTypeOf(nid *ua.NodeID) gateway.DataType {
	if nid == nil || nid.Namespace() != 0 {
		return gateway.DataTypeUnsupported
	}
	switch nid.IntID() {
	case id.Double:
		return gateway.DataTypeFloat
	case id.Int16:
		return gateway.DataTypeInt16
	case id.Boolean:
		return gateway.DataTypeBoolean
	default:
		return gateway.DataTypeUnsupported
	}
}

func (c *conn) Write(ctx context.Context, nodes []gateway.Node, values []gateway.TypedValue) error {
	ids, err := nodeIDs(nodes)
	if err != nil {
		return err
	}
	if len(ids) != len(values) {
		return fmt.Errorf("got %d nodes and %d values", len(ids), len(values))
	}

	toWrite := make([]*ua.WriteValue, len(ids))
	for i, nid := range ids {
		v, err := ua.NewVariant(values[i].Value)
		if err != nil {
			return fmt.Errorf("node %s: %w", nid, err)
		}
		toWrite[i] = &ua.WriteValue{
			NodeID:      nid,
			AttributeID: ua.AttributeIDValue,
			Value: &ua.DataValue{
				EncodingMask: ua.DataValueValue,
				Value:        v,
			},
		}
	}

	resp, err := c.client.Write(ctx, &ua.WriteRequest{NodesToWrite: toWrite})
	if err != nil {
		return err
	}
	for i, status := range resp.Results {
		if status != ua.StatusOK {
			return fmt.Errorf("node %s: %w", ids[i], status)
		}
	}
	return nil
}

func (c *conn) RegisterNodes(ctx context.Context, nodes []gateway.Node) ([]gateway.Node, error) {
	ids, err := nodeIDs(nodes)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.RegisterNodes(ctx, &ua.RegisterNodesRequest{NodesToRegister: ids})
	if err != nil {
		return nil, err
	}

	out := make([]gateway.Node, len(resp.RegisteredNodeIDs))
	for i, nid := range resp.RegisteredNodeIDs {
		out[i] = node{id: nid}
	}
	return out, nil
}

func (c *conn) UnregisterNodes(ctx context.Context, nodes []gateway.Node) error {
	ids, err := nodeIDs(nodes)
	if err != nil {
		return err
	}

	_, err = c.client.UnregisterNodes(ctx, &ua.UnregisterNodesRequest{NodesToUnregister: ids})
	return err
}

func (c *conn) CreateSubscription(ctx context.Context, interval time.Duration, sink gateway.ChangeSink) (gateway.Subscription, error) {
	notifyCh := make(chan *opcua.PublishNotificationData, c.buffer)

	sub, err := c.client.Subscribe(ctx, &opcua.SubscriptionParameters{
		Interval: interval,
	}, notifyCh)
	if err != nil {
		return nil, err
	}

	s := newSubscription(c, sub, sink)
	c.mu.Lock()
	c.subs[sub.SubscriptionID] = s
	c.mu.Unlock()

	go s.deliver(notifyCh)
	return s, nil
}

func (c *conn) forget(subID uint32) {
	c.mu.Lock()
	delete(c.subs, subID)
	c.mu.Unlock()
}

func (c *conn) Close(ctx context.Context) error {
	c.mu.Lock()
	for subID, s := range c.subs {
		s.stop()
		delete(c.subs, subID)
	}
	c.mu.Unlock()

	return c.client.Close(ctx)
}

func variantValue(v *ua.Variant) any {
	if v == nil {
		return nil
	}
	return v.Value()
}
