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
	"log/slog"
)

// DefaultGroup is the push group change events are published to.
const DefaultGroup = "opcua_updates"

// Publisher delivers a message to every listener of a group without
// blocking and returns the number of listeners reached.
type Publisher interface {
	Publish(group string, msg []byte) int
}

// Notifier turns data-change notifications into ChangeEvent messages on a
// push group. It runs on the stack's delivery goroutine and never touches
// the session.
type Notifier struct {
	pub     Publisher
	group   string
	metrics *Metrics
	logger  *slog.Logger
}

// NewNotifier creates a notifier publishing to group through pub.
func NewNotifier(pub Publisher, group string, metrics *Metrics, logger *slog.Logger) *Notifier {
	if group == "" {
		group = DefaultGroup
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		pub:     pub,
		group:   group,
		metrics: metrics,
		logger:  logger,
	}
}

// Group returns the push group events are published to.
func (n *Notifier) Group() string {
	return n.group
}

// DataChange implements ChangeSink.
func (n *Notifier) DataChange(nodeID string, value any) {
	msg, err := json.Marshal(ChangeEvent{NodeID: nodeID, Value: value})
	if err != nil {
		n.metrics.ChangeEventErrors.Add(1)
		n.logger.Warn("failed to encode change event",
			slog.String("node_id", nodeID),
			slog.String("error", err.Error()))
		return
	}

	delivered := n.pub.Publish(n.group, msg)
	n.metrics.ChangeEvents.Add(1)

	n.logger.Debug("change event published",
		slog.String("node_id", nodeID),
		slog.Int("listeners", delivered))
}
