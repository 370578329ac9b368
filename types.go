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
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MessageSecurityMode represents the security mode for messages.
type MessageSecurityMode uint32

// Message security modes.
const (
	MessageSecurityModeInvalid        MessageSecurityMode = 0
	MessageSecurityModeNone           MessageSecurityMode = 1
	MessageSecurityModeSign           MessageSecurityMode = 2
	MessageSecurityModeSignAndEncrypt MessageSecurityMode = 3
)

// String returns the string representation of a MessageSecurityMode.
func (m MessageSecurityMode) String() string {
	switch m {
	case MessageSecurityModeNone:
		return "None"
	case MessageSecurityModeSign:
		return "Sign"
	case MessageSecurityModeSignAndEncrypt:
		return "SignAndEncrypt"
	default:
		return "Invalid"
	}
}

// UnmarshalJSON accepts the numeric mode, its decimal string or its name.
func (m *MessageSecurityMode) UnmarshalJSON(data []byte) error {
	var n uint32
	if err := json.Unmarshal(data, &n); err == nil {
		*m = MessageSecurityMode(n)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("security mode: %w", err)
	}
	mode, err := ParseMessageSecurityMode(s)
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// ParseMessageSecurityMode parses a mode given as a number or a name.
func ParseMessageSecurityMode(s string) (MessageSecurityMode, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseUint(s, 10, 32); err == nil {
		return MessageSecurityMode(n), nil
	}
	switch strings.ToLower(s) {
	case "invalid":
		return MessageSecurityModeInvalid, nil
	case "none", "":
		return MessageSecurityModeNone, nil
	case "sign":
		return MessageSecurityModeSign, nil
	case "signandencrypt", "sign_and_encrypt":
		return MessageSecurityModeSignAndEncrypt, nil
	default:
		return 0, fmt.Errorf("unknown security mode: %s", s)
	}
}

// EndpointDescriptor describes one way of connecting to a server.
type EndpointDescriptor struct {
	URL               string              `json:"endpoint_url" yaml:"endpoint_url"`
	SecurityMode      MessageSecurityMode `json:"security_mode" yaml:"security_mode"`
	SecurityPolicyURI string              `json:"security_policy_uri" yaml:"security_policy_uri"`
	SecurityLevel     uint8               `json:"security_level" yaml:"security_level"`
}

// Secure reports whether connecting through the endpoint needs security
// material and credentials.
func (e EndpointDescriptor) Secure() bool {
	return e.SecurityLevel != 0
}

// SessionState represents the state of the gateway session.
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateConnected
)

// String returns the string representation of the session state.
func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// RegisteredNodeView is the serializable form of a registered node.
type RegisteredNodeView struct {
	Node string `json:"node"`
}

// SubscriptionView is the serializable form of an active subscription.
type SubscriptionView struct {
	Node     string        `json:"node"`
	Interval time.Duration `json:"-"`
}

// MarshalJSON encodes the interval in milliseconds.
func (v SubscriptionView) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Node     string `json:"node"`
		Interval int64  `json:"interval"`
	}{v.Node, v.Interval.Milliseconds()})
}

// ChangeEvent is pushed to listeners whenever a monitored value changes.
type ChangeEvent struct {
	NodeID string `json:"node_id"`
	Value  any    `json:"value"`
}

// WriteResult reports which nodes a batch write touched.
type WriteResult struct {
	Written []string `json:"written"`
	Skipped []string `json:"skipped,omitempty"`
}
