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
	"context"
	"time"
)

// Stack is the OPC UA protocol stack the gateway drives. Encoding, secure
// channels and session management all live behind it.
type Stack interface {
	// Discover lists the endpoints advertised at address. The stack opens
	// and releases its own transient connection.
	Discover(ctx context.Context, address string) ([]EndpointDescriptor, error)

	// Dial applies the security material and credentials in cfg and
	// establishes a session.
	Dial(ctx context.Context, cfg DialConfig) (Conn, error)
}

// DialConfig carries everything needed to open a session.
type DialConfig struct {
	EndpointURL    string
	Security       *SecurityConfig // nil for an unsecured session
	Username       string
	Password       string
	ApplicationURI string
	Timeout        time.Duration
}

// SecurityConfig names the negotiated security policy, mode and the client
// certificate and key files.
type SecurityConfig struct {
	Policy   string // short policy name, e.g. "Basic256Sha256"
	Mode     string // "Sign" or "SignAndEncrypt"
	CertFile string
	KeyFile  string
}

// Node is a resolved server-side node reference.
type Node interface {
	String() string
}

// Conn is an established session with one server.
type Conn interface {
	ResolveNode(id string) (Node, error)
	Read(ctx context.Context, nodes []Node) ([]any, error)
	DataTypes(ctx context.Context, nodes []Node) ([]DataType, error)
	Write(ctx context.Context, nodes []Node, values []TypedValue) error
	RegisterNodes(ctx context.Context, nodes []Node) ([]Node, error)
	UnregisterNodes(ctx context.Context, nodes []Node) error
	CreateSubscription(ctx context.Context, interval time.Duration, sink ChangeSink) (Subscription, error)
	Close(ctx context.Context) error
}

// Subscription is a server-side subscription created through a Conn.
type Subscription interface {
	// ID is the server-assigned subscription id.
	ID() uint32
	// MonitorDataChange attaches a data-change monitored item for node and
	// returns the monitored item id.
	MonitorDataChange(ctx context.Context, node Node) (uint32, error)
	Delete(ctx context.Context) error
}

// ChangeSink receives data-change notifications on the stack's delivery
// goroutine. Implementations must not block.
type ChangeSink interface {
	DataChange(nodeID string, value any)
}
