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
	"sync/atomic"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	gateway "github.com/edgeo-scada/gateway"
)

type subscription struct {
	conn   *conn
	sub    *opcua.Subscription
	sink   gateway.ChangeSink
	logger *slog.Logger

	nextHandle atomic.Uint32
	handles    sync.Map // client handle -> node id string

	stopOnce sync.Once
	done     chan struct{}
}

func newSubscription(c *conn, sub *opcua.Subscription, sink gateway.ChangeSink) *subscription {
	return &subscription{
		conn:   c,
		sub:    sub,
		sink:   sink,
		logger: c.logger.With(slog.Uint64("subscription_id", uint64(sub.SubscriptionID))),
		done:   make(chan struct{}),
	}
}

var _ gateway.Subscription = (*subscription)(nil)

func (s *subscription) ID() uint32 {
	return s.sub.SubscriptionID
}

func (s *subscription) MonitorDataChange(ctx context.Context, n gateway.Node) (uint32, error) {
	ids, err := nodeIDs([]gateway.Node{n})
	if err != nil {
		return 0, err
	}

	handle := s.nextHandle.Add(1)
	s.handles.Store(handle, n.String())

	req := opcua.NewMonitoredItemCreateRequestWithDefaults(ids[0], ua.AttributeIDValue, handle)
	res, err := s.sub.Monitor(ctx, ua.TimestampsToReturnBoth, req)
	if err != nil {
		s.handles.Delete(handle)
		return 0, err
	}
	if len(res.Results) == 0 {
		s.handles.Delete(handle)
		return 0, fmt.Errorf("monitor %s: empty response", n)
	}
	if status := res.Results[0].StatusCode; status != ua.StatusOK {
		s.handles.Delete(handle)
		return 0, fmt.Errorf("monitor %s: %w", n, status)
	}
	return res.Results[0].MonitoredItemID, nil
}

func (s *subscription) Delete(ctx context.Context) error {
	if err := s.sub.Cancel(ctx); err != nil {
		return err
	}
	s.stop()
	s.conn.forget(s.sub.SubscriptionID)
	return nil
}

func (s *subscription) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// deliver forwards data changes to the sink until the subscription stops.
func (s *subscription) deliver(notifyCh <-chan *opcua.PublishNotificationData) {
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-notifyCh:
			if !ok {
				return
			}
			if msg == nil {
				continue
			}
			if msg.Error != nil {
				s.logger.Warn("publish notification error", slog.String("error", msg.Error.Error()))
				continue
			}

			dcn, ok := msg.Value.(*ua.DataChangeNotification)
			if !ok {
				continue
			}
			for _, item := range dcn.MonitoredItems {
				if item == nil {
					continue
				}
				nodeID, ok := s.handles.Load(item.ClientHandle)
				if !ok {
					s.logger.Debug("notification for unknown client handle",
						slog.Uint64("client_handle", uint64(item.ClientHandle)))
					continue
				}
				var value any
				if item.Value != nil {
					value = variantValue(item.Value.Value)
				}
				s.sink.DataChange(nodeID.(string), value)
			}
		}
	}
}
