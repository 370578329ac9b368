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
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	gateway "github.com/edgeo-scada/gateway"
)

const maxBodySize = 1 << 20

// maxIntervalMillis is the largest interval that still fits a time.Duration.
const maxIntervalMillis = math.MaxInt64 / int64(time.Millisecond)

// stringList accepts a JSON string or an array of strings.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*l = stringList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return errors.New("expected a string or a list of strings")
	}
	*l = many
	return nil
}

// valueList accepts a JSON scalar or an array of scalars and keeps their
// textual form. Booleans become "True" and "False".
type valueList []string

func (l *valueList) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		return nil
	}
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var raws []json.RawMessage
		if err := json.Unmarshal(data, &raws); err != nil {
			return err
		}
		out := make(valueList, len(raws))
		for i, raw := range raws {
			s, err := scalarText(raw)
			if err != nil {
				return err
			}
			out[i] = s
		}
		*l = out
		return nil
	}

	s, err := scalarText(data)
	if err != nil {
		return err
	}
	*l = valueList{s}
	return nil
}

func isNull(data []byte) bool {
	return bytes.Equal(bytes.TrimSpace(data), []byte("null"))
}

func scalarText(raw json.RawMessage) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return "", err
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	case bool:
		if x {
			return gateway.BooleanTrue, nil
		}
		return "False", nil
	default:
		return "", fmt.Errorf("value %s is not a string, number or boolean", raw)
	}
}

// idText accepts a JSON string or number.
type idText string

func (t *idText) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = idText(s)
		return nil
	}
	var n uint64
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.New("expected a string or an integer")
	}
	*t = idText(strconv.FormatUint(n, 10))
	return nil
}

type connectRequest struct {
	Endpoint *gateway.EndpointDescriptor `json:"endpoint"`
	Username string                      `json:"username"`
	Password string                      `json:"password"`
}

type nodeIDsRequest struct {
	NodeIDs stringList `json:"node_ids"`
}

type writeRequest struct {
	NodeID stringList `json:"node_id"`
	Value  valueList  `json:"value"`
}

type subscribeRequest struct {
	NodeID   string       `json:"node_id"`
	Interval *json.Number `json:"interval"`
}

// interval returns the requested publishing interval, which is given as a
// whole number of milliseconds.
func (r subscribeRequest) interval() (time.Duration, error) {
	if r.Interval == nil {
		return gateway.DefaultSubscriptionInterval, nil
	}
	ms, err := strconv.ParseInt(r.Interval.String(), 10, 64)
	if err != nil {
		return 0, badRequest("subscribe", "interval must be a whole number of milliseconds, got %s", r.Interval)
	}
	if ms <= 0 || ms > maxIntervalMillis {
		return 0, badRequest("subscribe", "interval must be between 1 and %d milliseconds, got %d", maxIntervalMillis, ms)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

type unsubscribeRequest struct {
	SubscriptionID idText `json:"subscription_id"`
}

func badRequest(op, format string, args ...any) error {
	return &gateway.Error{Kind: gateway.KindValidation, Op: op, Err: fmt.Errorf(format, args...)}
}

// decode reads a JSON body into dst. An empty body leaves dst untouched.
func decode(r *http.Request, op string, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return badRequest(op, "read body: %v", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return badRequest(op, "invalid request body: %v", err)
	}
	return nil
}
