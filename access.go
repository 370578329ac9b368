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
	"fmt"
	"log/slog"
	"time"
)

// Read reads the current value of every node in one batch. The batch
// fails as a unit; there are no partial results.
func (s *Session) Read(ctx context.Context, nodeIDs []string) (result map[string]any, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("read", start, err) }()

	if len(nodeIDs) == 0 {
		return nil, validationError("read", "node ids are required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	conn, err := s.connLocked("read")
	if err != nil {
		return nil, err
	}

	nodes, err := s.resolve(conn, "read", KindRead, nodeIDs)
	if err != nil {
		return nil, err
	}

	values, err := conn.Read(ctx, nodes)
	if err != nil {
		return nil, newError(KindRead, "read", err)
	}
	if len(values) != len(nodes) {
		return nil, newError(KindRead, "read", fmt.Errorf("expected %d values, got %d", len(nodes), len(values)))
	}

	result = make(map[string]any, len(nodeIDs))
	for i, id := range nodeIDs {
		result[id] = values[i]
	}

	s.logger.Debug("read", slog.Int("nodes", len(nodeIDs)))
	return result, nil
}

// Write coerces each textual value to its node's declared data type and
// writes all coercible values in one batch. Nodes of unsupported types are
// skipped and reported in the result.
func (s *Session) Write(ctx context.Context, nodeIDs []string, values []string) (result WriteResult, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("write", start, err) }()

	if len(nodeIDs) == 0 {
		return WriteResult{}, validationError("write", "node ids are required")
	}
	if len(nodeIDs) != len(values) {
		return WriteResult{}, validationError("write", "got %d node ids and %d values", len(nodeIDs), len(values))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	conn, err := s.connLocked("write")
	if err != nil {
		return WriteResult{}, err
	}

	nodes, err := s.resolve(conn, "write", KindWrite, nodeIDs)
	if err != nil {
		return WriteResult{}, err
	}

	types, err := conn.DataTypes(ctx, nodes)
	if err != nil {
		return WriteResult{}, newError(KindWrite, "write", err)
	}
	if len(types) != len(nodes) {
		return WriteResult{}, newError(KindWrite, "write", fmt.Errorf("expected %d data types, got %d", len(nodes), len(types)))
	}

	var (
		targets []Node
		typed   []TypedValue
	)
	for i, t := range types {
		v, ok, err := t.Coerce(values[i])
		if err != nil {
			return WriteResult{}, newError(KindWrite, "write", fmt.Errorf("node %s: %w", nodeIDs[i], err))
		}
		if !ok {
			s.logger.Warn("skipping write to node with unsupported data type",
				slog.String("node_id", nodeIDs[i]))
			result.Skipped = append(result.Skipped, nodeIDs[i])
			continue
		}
		targets = append(targets, nodes[i])
		typed = append(typed, v)
		result.Written = append(result.Written, nodeIDs[i])
	}

	if len(targets) == 0 {
		return result, nil
	}

	if err := conn.Write(ctx, targets, typed); err != nil {
		return WriteResult{}, newError(KindWrite, "write", err)
	}

	s.logger.Debug("write",
		slog.Int("written", len(result.Written)),
		slog.Int("skipped", len(result.Skipped)))
	return result, nil
}
