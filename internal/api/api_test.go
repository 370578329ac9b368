package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gateway "github.com/edgeo-scada/gateway"
	"github.com/edgeo-scada/gateway/internal/api"
	"github.com/edgeo-scada/gateway/internal/stacktest"
)

const plainEndpointJSON = `{
	"endpoint_url": "opc.tcp://plc:4840",
	"security_mode": 1,
	"security_policy_uri": "http://opcfoundation.org/UA/SecurityPolicy#None",
	"security_level": 0
}`

type fixture struct {
	stack   *stacktest.Stack
	session *gateway.Session
	handler http.Handler
}

func newFixture(t *testing.T, opts ...api.Option) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	stack := stacktest.New()
	stack.SetNode("ns=2;i=5", gateway.DataTypeFloat, 12.5)
	stack.SetNode("ns=2;i=6", gateway.DataTypeInt16, int16(3))
	stack.SetNode("ns=2;i=7", gateway.DataTypeBoolean, false)
	stack.SetNode("ns=2;i=8", gateway.DataTypeUnsupported, "label")
	stack.SetNode("ns=2;i=9", gateway.DataTypeFloat, math.NaN())

	session, err := gateway.NewSession(stack, gateway.WithLogger(logger))
	require.NoError(t, err)

	opts = append([]api.Option{api.WithLogger(logger)}, opts...)
	return &fixture{
		stack:   stack,
		session: session,
		handler: api.New(session, stack, opts...).Routes(),
	}
}

func (f *fixture) connect(t *testing.T) {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/opcua/connection", `{"endpoint":`+plainEndpointJSON+`}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestStatusOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "validation", err: gateway.ErrValidation, want: http.StatusBadRequest},
		{name: "not_connected", err: gateway.ErrNotConnected, want: http.StatusBadRequest},
		{name: "already_connected", err: gateway.ErrAlreadyConnected, want: http.StatusBadRequest},
		{name: "not_found", err: gateway.ErrNotFound, want: http.StatusNotFound},
		{name: "no_endpoints", err: &gateway.Error{Kind: gateway.KindDiscovery, Err: gateway.ErrNoEndpoints}, want: http.StatusNotFound},
		{name: "discovery", err: gateway.ErrDiscovery, want: http.StatusInternalServerError},
		{name: "read", err: gateway.ErrRead, want: http.StatusInternalServerError},
		{name: "foreign", err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, api.StatusOf(tt.err))
		})
	}
}

func TestConnection(t *testing.T) {
	t.Parallel()

	t.Run("list_endpoints", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.stack.SetEndpoints(gateway.EndpointDescriptor{
			URL:               "opc.tcp://plc:4840",
			SecurityMode:      gateway.MessageSecurityModeNone,
			SecurityPolicyURI: "http://opcfoundation.org/UA/SecurityPolicy#None",
		})

		rec := f.do(t, http.MethodGet, "/api/opcua/connection?url=opc.tcp://plc:4840", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.JSONEq(t, `{
			"status": "disconnected",
			"endpoints": [{
				"endpoint_url": "opc.tcp://plc:4840",
				"security_mode": 1,
				"security_policy_uri": "http://opcfoundation.org/UA/SecurityPolicy#None",
				"security_level": 0
			}]
		}`, rec.Body.String())
	})

	t.Run("list_endpoints_requires_url", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		rec := f.do(t, http.MethodGet, "/api/opcua/connection", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "validation", decodeBody(t, rec)["kind"])
	})

	t.Run("no_endpoints_is_404", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		rec := f.do(t, http.MethodGet, "/api/opcua/connection?url=opc.tcp://plc:4840", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unreachable_is_500", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.stack.FailOn(stacktest.OpDiscover, errors.New("connection refused"))
		rec := f.do(t, http.MethodGet, "/api/opcua/connection?url=opc.tcp://plc:4840", "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "discovery", decodeBody(t, rec)["kind"])
	})

	t.Run("connect_and_disconnect", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		rec := f.do(t, http.MethodPost, "/api/opcua/connection", `{"endpoint":`+plainEndpointJSON+`}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Connected to opc.tcp://plc:4840", decodeBody(t, rec)["message"])
		assert.True(t, f.session.Connected())

		rec = f.do(t, http.MethodPost, "/api/opcua/connection", `{"endpoint":`+plainEndpointJSON+`}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "already_connected", decodeBody(t, rec)["kind"])

		for _, body := range []string{`{}`, `{"endpoint":{"endpoint_url":"opc.tcp://plc:4840","security_mode":3,"security_level":3}}`} {
			rec = f.do(t, http.MethodPost, "/api/opcua/connection", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, body)
			assert.Equal(t, "already_connected", decodeBody(t, rec)["kind"], body)
		}

		rec = f.do(t, http.MethodDelete, "/api/opcua/connection", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.False(t, f.session.Connected())

		rec = f.do(t, http.MethodDelete, "/api/opcua/connection", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "not_connected", decodeBody(t, rec)["kind"])
	})

	t.Run("connect_requires_endpoint", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		rec := f.do(t, http.MethodPost, "/api/opcua/connection", `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = f.do(t, http.MethodPost, "/api/opcua/connection", `{"endpoint":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, f.stack.Dials())
	})

	t.Run("secure_endpoint_requires_credentials", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		rec := f.do(t, http.MethodPost, "/api/opcua/connection", `{"endpoint":{
			"endpoint_url": "opc.tcp://plc:4840",
			"security_mode": 3,
			"security_policy_uri": "http://opcfoundation.org/UA/SecurityPolicy#Basic256Sha256",
			"security_level": 3
		}}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, f.stack.Dials())
	})

	t.Run("connect_failure_is_500", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.stack.FailOn(stacktest.OpDial, errors.New("BadTcpEndpointUrlInvalid"))
		rec := f.do(t, http.MethodPost, "/api/opcua/connection", `{"endpoint":`+plainEndpointJSON+`}`)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "connect", decodeBody(t, rec)["kind"])
	})

	t.Run("disconnect_close_failure_warns", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.connect(t)
		f.stack.FailOn(stacktest.OpClose, errors.New("BadSessionClosed"))

		rec := f.do(t, http.MethodDelete, "/api/opcua/connection", "")
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "Disconnected", body["message"])
		assert.Contains(t, body["warning"], "BadSessionClosed")
		assert.False(t, f.session.Connected())
	})
}

func TestReadWrite(t *testing.T) {
	t.Parallel()

	t.Run("read", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.connect(t)

		rec := f.do(t, http.MethodPost, "/api/opcua/read-write", `{"node_ids":["ns=2;i=5","ns=2;i=7"]}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"ns=2;i=5":12.5,"ns=2;i=7":false}`, rec.Body.String())
	})

	t.Run("read_single_string", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.connect(t)

		rec := f.do(t, http.MethodPost, "/api/opcua/read-write", `{"node_ids":"ns=2;i=6"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"ns=2;i=6":3}`, rec.Body.String())
	})

	t.Run("read_non_finite_value_is_500", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.connect(t)

		rec := f.do(t, http.MethodPost, "/api/opcua/read-write", `{"node_ids":["ns=2;i=5","ns=2;i=9"]}`)
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "read", body["kind"])
		assert.Contains(t, body["message"], "NaN")
	})

	t.Run("read_not_connected", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		rec := f.do(t, http.MethodPost, "/api/opcua/read-write", `{"node_ids":["ns=2;i=5"]}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("read_missing_ids", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.connect(t)
		for _, body := range []string{``, `{}`, `{"node_ids":[]}`, `{"node_ids":null}`, `{"node_ids":[""]}`} {
			rec := f.do(t, http.MethodPost, "/api/opcua/read-write", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		}
		assert.Zero(t, f.stack.Calls(stacktest.OpRead))
	})

	t.Run("read_failure_is_500", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.connect(t)
		rec := f.do(t, http.MethodPost, "/api/opcua/read-write", `{"node_ids":["ns=2;i=99"]}`)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "read", decodeBody(t, rec)["kind"])
	})

	t.Run("write_single", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.connect(t)

		rec := f.do(t, http.MethodPut, "/api/opcua/read-write", `{"node_id":"ns=2;i=5","value":"42.5"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.JSONEq(t, `{
			"message": "Values written successfully",
			"data": {"node_id": ["ns=2;i=5"], "value": ["42.5"]},
			"written": ["ns=2;i=5"],
			"skipped": null
		}`, rec.Body.String())
		assert.Equal(t, 42.5, f.stack.Value("ns=2;i=5"))
	})

	t.Run("write_batch_with_json_scalars", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.connect(t)

		rec := f.do(t, http.MethodPut, "/api/opcua/read-write",
			`{"node_id":["ns=2;i=5","ns=2;i=6","ns=2;i=7","ns=2;i=8"],"value":[1.25,-4,true,"x"]}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		body := decodeBody(t, rec)
		assert.Equal(t, []any{"ns=2;i=5", "ns=2;i=6", "ns=2;i=7"}, body["written"])
		assert.Equal(t, []any{"ns=2;i=8"}, body["skipped"])

		assert.Equal(t, 1.25, f.stack.Value("ns=2;i=5"))
		assert.Equal(t, int16(-4), f.stack.Value("ns=2;i=6"))
		assert.Equal(t, true, f.stack.Value("ns=2;i=7"))
		assert.Equal(t, "label", f.stack.Value("ns=2;i=8"))
	})

	t.Run("write_mismatched_lengths", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.connect(t)
		rec := f.do(t, http.MethodPut, "/api/opcua/read-write", `{"node_id":["ns=2;i=5","ns=2;i=6"],"value":"1"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("write_missing_value", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.connect(t)
		rec := f.do(t, http.MethodPut, "/api/opcua/read-write", `{"node_id":"ns=2;i=5"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("write_bad_value_is_500", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.connect(t)
		rec := f.do(t, http.MethodPut, "/api/opcua/read-write", `{"node_id":"ns=2;i=6","value":"many"}`)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "write", decodeBody(t, rec)["kind"])
	})
}

func TestRegister(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/opcua/register", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.connect(t)

	rec = f.do(t, http.MethodPost, "/api/opcua/register", `{"node_ids":["ns=2;i=5","ns=2;i=6"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Nodes registered successfully", body["message"])
	nodes, ok := body["registered_nodes"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, nodes, 2)
	assert.Contains(t, nodes, "ns=2;i=5")

	rec = f.do(t, http.MethodDelete, "/api/opcua/register", `{"node_ids":["ns=2;i=5","ns=2;i=99"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/opcua/register/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	nodes, ok = decodeBody(t, rec)["registered_nodes"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, nodes, 1)
	assert.Contains(t, nodes, "ns=2;i=6")

	rec = f.do(t, http.MethodPost, "/api/opcua/register", `{"node_ids":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.stack.FailOn(stacktest.OpRegister, errors.New("BadInternalError"))
	rec = f.do(t, http.MethodPost, "/api/opcua/register", `{"node_ids":["ns=2;i=7"]}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSubscribe(t *testing.T) {
	t.Parallel()

	t.Run("lifecycle", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.connect(t)

		rec := f.do(t, http.MethodPost, "/api/opcua/subscribe", `{"node_id":"ns=2;i=5"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		body := decodeBody(t, rec)
		assert.Equal(t, "ns=2;i=5", body["node"])
		assert.Equal(t, float64(500), body["interval"])
		id, ok := body["subscription_id"].(string)
		require.True(t, ok)
		require.NotEmpty(t, id)

		rec = f.do(t, http.MethodGet, "/api/opcua/subscribe", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"active_subscriptions":{"`+id+`":{"node":"ns=2;i=5","interval":500}}}`, rec.Body.String())

		rec = f.do(t, http.MethodDelete, "/api/opcua/subscribe", `{"subscription_id":`+id+`}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, id, decodeBody(t, rec)["subscription_id"])

		rec = f.do(t, http.MethodDelete, "/api/opcua/subscribe", `{"subscription_id":"`+id+`"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "not_found", decodeBody(t, rec)["kind"])
	})

	t.Run("custom_interval", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.connect(t)

		rec := f.do(t, http.MethodPost, "/api/opcua/subscribe/", `{"node_id":"ns=2;i=7","interval":1000}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, float64(1000), decodeBody(t, rec)["interval"])
	})

	t.Run("invalid_requests", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.connect(t)

		for _, body := range []string{`{}`, `{"node_id":""}`, `{"node_id":"ns=2;i=5","interval":0}`, `{"node_id":"ns=2;i=5","interval":-5}`} {
			rec := f.do(t, http.MethodPost, "/api/opcua/subscribe", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		}

		rec := f.do(t, http.MethodDelete, "/api/opcua/subscribe", `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Zero(t, f.stack.Calls(stacktest.OpCreateSubscription))
	})

	t.Run("interval_must_be_whole_milliseconds", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.connect(t)

		tests := []struct {
			name     string
			interval string
			contains string
		}{
			{name: "fraction", interval: `0.5`, contains: "whole number of milliseconds"},
			{name: "fraction_above_one", interval: `1.5`, contains: "whole number of milliseconds"},
			{name: "exponent_overflow", interval: `1e300`, contains: "whole number of milliseconds"},
			{name: "int64_overflow", interval: `99999999999999999999`, contains: "whole number of milliseconds"},
			{name: "duration_overflow", interval: `9223372036854775807`, contains: "between 1 and"},
		}
		for _, tt := range tests {
			tt := tt
			rec := f.do(t, http.MethodPost, "/api/opcua/subscribe", `{"node_id":"ns=2;i=5","interval":`+tt.interval+`}`)
			require.Equal(t, http.StatusBadRequest, rec.Code, tt.name)
			body := decodeBody(t, rec)
			assert.Equal(t, "validation", body["kind"], tt.name)
			assert.Contains(t, body["message"], tt.contains, tt.name)
		}
		assert.Zero(t, f.stack.Calls(stacktest.OpCreateSubscription))

		rec := f.do(t, http.MethodGet, "/api/opcua/subscribe", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"active_subscriptions":{}}`, rec.Body.String())
	})

	t.Run("not_connected", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		rec := f.do(t, http.MethodPost, "/api/opcua/subscribe", `{"node_id":"ns=2;i=5"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		rec = f.do(t, http.MethodGet, "/api/opcua/subscribe", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("monitor_failure_is_500", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.connect(t)
		rec := f.do(t, http.MethodPost, "/api/opcua/subscribe", `{"node_id":"ns=2;i=99"}`)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "subscribe", decodeBody(t, rec)["kind"])
	})

	t.Run("delete_failure_is_500", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.connect(t)
		id, err := f.session.Subscribe(context.Background(), "ns=2;i=5", gateway.DefaultSubscriptionInterval)
		require.NoError(t, err)

		f.stack.FailOn(stacktest.OpDeleteSubscription, errors.New("BadTimeout"))
		rec := f.do(t, http.MethodDelete, "/api/opcua/subscribe", `{"subscription_id":"`+id+`"}`)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)

		subs, err := f.session.Subscriptions()
		require.NoError(t, err)
		assert.Contains(t, subs, id)
	})
}

func TestRoutes_Misc(t *testing.T) {
	t.Parallel()

	t.Run("healthz", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		rec := f.do(t, http.MethodGet, "/healthz", "")
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, "disconnected", body["session"])
		assert.Equal(t, gateway.Version, body["version"])
	})

	t.Run("metrics_with_stats", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, api.WithStats(func() map[string]interface{} {
			return map[string]interface{}{"published": 3}
		}))
		f.connect(t)

		rec := f.do(t, http.MethodGet, "/api/metrics", "")
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		gw, ok := body["gateway"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, float64(1), gw["connects"])
		assert.Equal(t, map[string]any{"published": float64(3)}, body["bus"])
	})

	t.Run("push_handler_is_mounted", func(t *testing.T) {
		t.Parallel()

		push := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		})
		f := newFixture(t, api.WithPushHandler(push))
		rec := f.do(t, http.MethodGet, api.PushPath, "")
		assert.Equal(t, http.StatusTeapot, rec.Code)
	})

	t.Run("unknown_route", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		rec := f.do(t, http.MethodGet, "/api/opcua/nodes", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		rec = f.do(t, http.MethodPatch, "/api/opcua/connection", "")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}
