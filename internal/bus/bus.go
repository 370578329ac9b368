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

// Package bus fans messages out to named groups of listeners.
package bus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// DefaultBuffer is the per-listener queue size.
const DefaultBuffer = 64

// Listener receives the messages published to the groups it joined.
type Listener struct {
	id      string
	ch      chan []byte
	dropped atomic.Int64
}

// NewListener creates a listener with a queue of buffer messages.
func NewListener(buffer int) *Listener {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Listener{
		id: uuid.NewString(),
		ch: make(chan []byte, buffer),
	}
}

// ID returns the listener id.
func (l *Listener) ID() string {
	return l.id
}

// C returns the channel messages are delivered on.
func (l *Listener) C() <-chan []byte {
	return l.ch
}

// Dropped returns the number of messages dropped because the queue was full.
func (l *Listener) Dropped() int64 {
	return l.dropped.Load()
}

// Bus routes published messages to the listeners of a group. Publish never
// blocks: a listener whose queue is full misses the message.
type Bus struct {
	mu     sync.RWMutex
	groups map[string]map[string]*Listener

	published atomic.Int64
	dropped   atomic.Int64

	logger *slog.Logger
}

// New creates an empty bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		groups: make(map[string]map[string]*Listener),
		logger: logger,
	}
}

// Join adds l to group.
func (b *Bus) Join(group string, l *Listener) {
	b.mu.Lock()
	members, ok := b.groups[group]
	if !ok {
		members = make(map[string]*Listener)
		b.groups[group] = members
	}
	members[l.id] = l
	n := len(members)
	b.mu.Unlock()

	b.logger.Debug("listener joined",
		slog.String("group", group),
		slog.String("listener", l.id),
		slog.Int("members", n))
}

// Leave removes l from group. Once Leave returns, no further message of
// group is delivered to l.
func (b *Bus) Leave(group string, l *Listener) {
	b.mu.Lock()
	members, ok := b.groups[group]
	if ok {
		delete(members, l.id)
		if len(members) == 0 {
			delete(b.groups, group)
		}
	}
	n := len(members)
	b.mu.Unlock()

	b.logger.Debug("listener left",
		slog.String("group", group),
		slog.String("listener", l.id),
		slog.Int("members", n))
}

// Publish delivers msg to every listener of group and returns how many
// received it.
func (b *Bus) Publish(group string, msg []byte) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	b.published.Add(1)

	delivered := 0
	for _, l := range b.groups[group] {
		select {
		case l.ch <- msg:
			delivered++
		default:
			b.dropped.Add(1)
			// Warn on the first drop only; the counters carry the rest.
			level := slog.LevelDebug
			if l.dropped.Add(1) == 1 {
				level = slog.LevelWarn
			}
			b.logger.Log(context.Background(), level, "listener is slow, dropping message",
				slog.String("group", group),
				slog.String("listener", l.id))
		}
	}
	return delivered
}

// Members returns the number of listeners in group.
func (b *Bus) Members(group string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.groups[group])
}

// Stats returns bus counters.
func (b *Bus) Stats() map[string]interface{} {
	b.mu.RLock()
	groups := make(map[string]int, len(b.groups))
	for name, members := range b.groups {
		groups[name] = len(members)
	}
	b.mu.RUnlock()

	return map[string]interface{}{
		"published": b.published.Load(),
		"dropped":   b.dropped.Load(),
		"groups":    groups,
	}
}
