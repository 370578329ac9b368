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
	"strconv"
	"time"
)

// DefaultSubscriptionInterval is used when a caller does not ask for a
// publishing interval.
const DefaultSubscriptionInterval = 500 * time.Millisecond

type subscriptionEntry struct {
	id       string
	nodeID   string
	interval time.Duration
	sub      Subscription
	itemID   uint32
}

// Subscribe creates a subscription with one data-change monitored item on
// nodeID and returns the subscription id. Changes are delivered to the
// session's ChangeSink.
func (s *Session) Subscribe(ctx context.Context, nodeID string, interval time.Duration) (id string, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("subscribe", start, err) }()

	if nodeID == "" {
		return "", validationError("subscribe", "node id is required")
	}
	if interval <= 0 {
		return "", validationError("subscribe", "interval must be positive, got %s", interval)
	}
	if interval%time.Millisecond != 0 {
		return "", validationError("subscribe", "interval must be a whole number of milliseconds, got %s", interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conn, err := s.connLocked("subscribe")
	if err != nil {
		return "", err
	}

	sub, err := conn.CreateSubscription(ctx, interval, s.opts.sink)
	if err != nil {
		return "", newError(KindSubscribe, "subscribe", err)
	}

	entry, err := s.monitorLocked(ctx, conn, sub, nodeID, interval)
	if err != nil {
		if derr := sub.Delete(ctx); derr != nil {
			s.logger.Warn("failed to delete incomplete subscription",
				slog.Uint64("subscription_id", uint64(sub.ID())),
				slog.String("error", derr.Error()))
		}
		return "", newError(KindSubscribe, "subscribe", err)
	}

	s.subs[entry.id] = entry
	s.metrics.ActiveSubscriptions.Set(int64(len(s.subs)))

	s.logger.Info("subscription created",
		slog.String("subscription_id", entry.id),
		slog.String("node_id", nodeID),
		slog.Duration("interval", interval))
	return entry.id, nil
}

func (s *Session) monitorLocked(ctx context.Context, conn Conn, sub Subscription, nodeID string, interval time.Duration) (*subscriptionEntry, error) {
	id := strconv.FormatUint(uint64(sub.ID()), 10)
	if _, dup := s.subs[id]; dup {
		return nil, fmt.Errorf("server returned subscription id %s which is already in use", id)
	}

	node, err := conn.ResolveNode(nodeID)
	if err != nil {
		return nil, err
	}

	itemID, err := sub.MonitorDataChange(ctx, node)
	if err != nil {
		return nil, err
	}

	return &subscriptionEntry{
		id:       id,
		nodeID:   nodeID,
		interval: interval,
		sub:      sub,
		itemID:   itemID,
	}, nil
}

// Unsubscribe deletes the subscription. If the server refuses, the entry
// is kept so the call can be retried.
func (s *Session) Unsubscribe(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { s.metrics.observe("unsubscribe", start, err) }()

	if id == "" {
		return validationError("unsubscribe", "subscription id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.connLocked("unsubscribe"); err != nil {
		return err
	}

	entry, ok := s.subs[id]
	if !ok {
		return newError(KindNotFound, "unsubscribe", fmt.Errorf("subscription %s not found", id))
	}

	if err := entry.sub.Delete(ctx); err != nil {
		return newError(KindUnsubscribe, "unsubscribe", err)
	}

	delete(s.subs, id)
	s.metrics.ActiveSubscriptions.Set(int64(len(s.subs)))

	s.logger.Info("subscription deleted",
		slog.String("subscription_id", id),
		slog.String("node_id", entry.nodeID))
	return nil
}

// Subscriptions returns a snapshot of the active subscriptions.
func (s *Session) Subscriptions() (map[string]SubscriptionView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.connLocked("subscriptions"); err != nil {
		return nil, err
	}

	view := make(map[string]SubscriptionView, len(s.subs))
	for id, e := range s.subs {
		view[id] = SubscriptionView{Node: e.nodeID, Interval: e.interval}
	}
	return view, nil
}
