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

package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	gateway "github.com/edgeo-scada/gateway"
)

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"session": a.session.State().String(),
		"version": gateway.Version,
	})
}

func (a *API) metrics(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"gateway": a.session.Metrics().Collect(),
	}
	if a.opts.stats != nil {
		out["bus"] = a.opts.stats()
	}
	a.writeJSON(w, http.StatusOK, out)
}

func (a *API) listEndpoints(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		a.writeError(w, r, badRequest("discover", "url query parameter is required"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.opts.discoveryTimeout)
	defer cancel()

	endpoints, err := gateway.Discover(ctx, a.stack, url)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	a.writeJSON(w, http.StatusOK, map[string]any{
		"status":    a.session.State().String(),
		"endpoints": endpoints,
	})
}

func (a *API) connect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := decode(r, "connect", &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	// A missing endpoint is rejected by the session, after the
	// already-connected check.
	var endpoint gateway.EndpointDescriptor
	if req.Endpoint != nil {
		endpoint = *req.Endpoint
	}

	if err := a.session.ConnectWith(r.Context(), endpoint, req.Username, req.Password); err != nil {
		a.writeError(w, r, err)
		return
	}

	a.writeJSON(w, http.StatusOK, map[string]any{
		"message": "Connected to " + endpoint.URL,
	})
}

func (a *API) disconnect(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.requestContext(r)
	defer cancel()

	err := a.session.Disconnect(ctx)
	switch {
	case err == nil:
	case gateway.KindOf(err) == gateway.KindDisconnect:
		// Teardown already happened; the close failure was logged.
		a.writeJSON(w, http.StatusOK, map[string]any{
			"message": "Disconnected",
			"warning": err.Error(),
		})
		return
	default:
		a.writeError(w, r, err)
		return
	}

	a.writeJSON(w, http.StatusOK, map[string]any{
		"message": "Disconnected",
	})
}

func (a *API) read(w http.ResponseWriter, r *http.Request) {
	var req nodeIDsRequest
	if err := decode(r, "read", &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := requireIDs("read", "node_ids", req.NodeIDs); err != nil {
		a.writeError(w, r, err)
		return
	}

	ctx, cancel := a.requestContext(r)
	defer cancel()

	values, err := a.session.Read(ctx, req.NodeIDs)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	// NaN and infinities have no JSON form.
	body, err := json.Marshal(values)
	if err != nil {
		a.writeError(w, r, &gateway.Error{Kind: gateway.KindRead, Op: "read", Err: err})
		return
	}
	a.writeBody(w, http.StatusOK, body)
}

func (a *API) write(w http.ResponseWriter, r *http.Request) {
	var req writeRequest
	if err := decode(r, "write", &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := requireIDs("write", "node_id", req.NodeID); err != nil {
		a.writeError(w, r, err)
		return
	}
	if len(req.Value) == 0 {
		a.writeError(w, r, badRequest("write", "value is required"))
		return
	}

	ctx, cancel := a.requestContext(r)
	defer cancel()

	result, err := a.session.Write(ctx, req.NodeID, req.Value)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	a.writeJSON(w, http.StatusOK, map[string]any{
		"message": "Values written successfully",
		"data": map[string]any{
			"node_id": []string(req.NodeID),
			"value":   []string(req.Value),
		},
		"written": result.Written,
		"skipped": result.Skipped,
	})
}

func (a *API) registeredNodes(w http.ResponseWriter, r *http.Request) {
	view, err := a.session.RegisteredNodes()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{
		"registered_nodes": view,
	})
}

func (a *API) register(w http.ResponseWriter, r *http.Request) {
	var req nodeIDsRequest
	if err := decode(r, "register", &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := requireIDs("register", "node_ids", req.NodeIDs); err != nil {
		a.writeError(w, r, err)
		return
	}

	ctx, cancel := a.requestContext(r)
	defer cancel()

	view, err := a.session.Register(ctx, req.NodeIDs)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{
		"message":          "Nodes registered successfully",
		"registered_nodes": view,
	})
}

func (a *API) unregister(w http.ResponseWriter, r *http.Request) {
	var req nodeIDsRequest
	if err := decode(r, "unregister", &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := requireIDs("unregister", "node_ids", req.NodeIDs); err != nil {
		a.writeError(w, r, err)
		return
	}

	ctx, cancel := a.requestContext(r)
	defer cancel()

	if err := a.session.Unregister(ctx, req.NodeIDs); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{
		"message": "Nodes unregistered successfully",
	})
}

func (a *API) subscriptions(w http.ResponseWriter, r *http.Request) {
	view, err := a.session.Subscriptions()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{
		"active_subscriptions": view,
	})
}

func (a *API) subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := decode(r, "subscribe", &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	if req.NodeID == "" {
		a.writeError(w, r, badRequest("subscribe", "node_id is required"))
		return
	}

	interval, err := req.interval()
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	ctx, cancel := a.requestContext(r)
	defer cancel()

	id, err := a.session.Subscribe(ctx, req.NodeID, interval)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	a.logger.Debug("subscription requested",
		slog.String("subscription_id", id),
		slog.String("node_id", req.NodeID))
	a.writeJSON(w, http.StatusOK, map[string]any{
		"message":         "Subscription created",
		"subscription_id": id,
		"node":            req.NodeID,
		"interval":        interval.Milliseconds(),
	})
}

func (a *API) unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req unsubscribeRequest
	if err := decode(r, "unsubscribe", &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	if req.SubscriptionID == "" {
		a.writeError(w, r, badRequest("unsubscribe", "subscription_id is required"))
		return
	}

	ctx, cancel := a.requestContext(r)
	defer cancel()

	id := string(req.SubscriptionID)
	if err := a.session.Unsubscribe(ctx, id); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{
		"message":         "Subscription deleted",
		"subscription_id": id,
	})
}

func requireIDs(op, field string, ids []string) error {
	if len(ids) == 0 {
		return badRequest(op, "%s is required", field)
	}
	for _, id := range ids {
		if id == "" {
			return badRequest(op, "%s contains an empty node id", field)
		}
	}
	return nil
}
