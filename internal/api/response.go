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
	"encoding/json"
	"log/slog"
	"net/http"

	gateway "github.com/edgeo-scada/gateway"
)

type errorResponse struct {
	Message string `json:"message"`
	Kind    string `json:"kind"`
}

// StatusOf maps a gateway error onto an HTTP status code.
func StatusOf(err error) int {
	if gateway.IsNoEndpoints(err) {
		return http.StatusNotFound
	}
	switch gateway.ClassOf(err) {
	case gateway.ClassBadInput, gateway.ClassNotReady:
		return http.StatusBadRequest
	case gateway.ClassNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON encodes v before any header is sent, so an encoding failure
// still reaches the client as a 500.
func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		a.logger.Error("failed to encode response", slog.String("error", err.Error()))
		status = http.StatusInternalServerError
		body, _ = json.Marshal(errorResponse{
			Message: "failed to encode response: " + err.Error(),
			Kind:    gateway.KindUnknown.String(),
		})
	}
	a.writeBody(w, status, body)
}

func (a *API) writeBody(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(body, '\n')); err != nil {
		a.logger.Debug("failed to write response", slog.String("error", err.Error()))
	}
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusOf(err)

	level := slog.LevelInfo
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	a.logger.Log(r.Context(), level, "request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.String("error", err.Error()))

	a.writeJSON(w, status, errorResponse{
		Message: err.Error(),
		Kind:    gateway.KindOf(err).String(),
	})
}
