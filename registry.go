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

// Register registers the nodes with the server for faster repeated access
// and returns the view of every registered node. Registering an id again
// replaces its handle.
func (s *Session) Register(ctx context.Context, nodeIDs []string) (view map[string]RegisteredNodeView, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("register", start, err) }()

	if len(nodeIDs) == 0 {
		return nil, validationError("register", "node ids are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conn, err := s.connLocked("register")
	if err != nil {
		return nil, err
	}

	nodes, err := s.resolve(conn, "register", KindRegister, nodeIDs)
	if err != nil {
		return nil, err
	}

	handles, err := conn.RegisterNodes(ctx, nodes)
	if err != nil {
		return nil, newError(KindRegister, "register", err)
	}
	if len(handles) != len(nodes) {
		return nil, newError(KindRegister, "register", fmt.Errorf("expected %d handles, got %d", len(nodes), len(handles)))
	}

	for i, id := range nodeIDs {
		s.nodes[id] = registeredNode{requestedID: id, handle: handles[i]}
	}
	s.metrics.RegisteredNodes.Set(int64(len(s.nodes)))

	s.logger.Info("nodes registered", slog.Int("count", len(nodeIDs)))
	return s.registeredViewLocked(), nil
}

// Unregister releases the handles of the given nodes. Unknown ids are
// ignored; when none are known the server is not contacted.
func (s *Session) Unregister(ctx context.Context, nodeIDs []string) (err error) {
	start := time.Now()
	defer func() { s.metrics.observe("unregister", start, err) }()

	if len(nodeIDs) == 0 {
		return validationError("unregister", "node ids are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conn, err := s.connLocked("unregister")
	if err != nil {
		return err
	}

	var handles []Node
	for _, id := range nodeIDs {
		rn, ok := s.nodes[id]
		if !ok {
			continue
		}
		handles = append(handles, rn.handle)
		delete(s.nodes, id)
	}
	s.metrics.RegisteredNodes.Set(int64(len(s.nodes)))

	if len(handles) == 0 {
		return nil
	}

	if err := conn.UnregisterNodes(ctx, handles); err != nil {
		return newError(KindUnregister, "unregister", err)
	}

	s.logger.Info("nodes unregistered", slog.Int("count", len(handles)))
	return nil
}

// RegisteredNodes returns a snapshot of the registered node table.
func (s *Session) RegisteredNodes() (map[string]RegisteredNodeView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.connLocked("registered nodes"); err != nil {
		return nil, err
	}
	return s.registeredViewLocked(), nil
}

func (s *Session) registeredViewLocked() map[string]RegisteredNodeView {
	view := make(map[string]RegisteredNodeView, len(s.nodes))
	for id, rn := range s.nodes {
		view[id] = RegisteredNodeView{Node: rn.handle.String()}
	}
	return view
}
