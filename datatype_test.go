package gateway_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gateway "github.com/edgeo-scada/gateway"
)

func TestDataType_Coerce(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		dataType    gateway.DataType
		raw         string
		want        any
		unsupported bool
		wantErr     bool
	}{
		{name: "float", dataType: gateway.DataTypeFloat, raw: "3.25", want: 3.25},
		{name: "float_from_integer_text", dataType: gateway.DataTypeFloat, raw: "7", want: 7.0},
		{name: "float_invalid", dataType: gateway.DataTypeFloat, raw: "warm", wantErr: true},
		{name: "int16", dataType: gateway.DataTypeInt16, raw: "-32768", want: int16(-32768)},
		{name: "int16_overflow", dataType: gateway.DataTypeInt16, raw: "32768", wantErr: true},
		{name: "int16_fraction", dataType: gateway.DataTypeInt16, raw: "1.5", wantErr: true},
		{name: "boolean_true", dataType: gateway.DataTypeBoolean, raw: "True", want: true},
		{name: "boolean_lowercase", dataType: gateway.DataTypeBoolean, raw: "true", want: false},
		{name: "boolean_other", dataType: gateway.DataTypeBoolean, raw: "on", want: false},
		{name: "unsupported", dataType: gateway.DataTypeUnsupported, raw: "x", unsupported: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, ok, err := tt.dataType.Coerce(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.unsupported {
				assert.False(t, ok)
				return
			}
			assert.True(t, ok)
			assert.Equal(t, tt.dataType, got.Type)
			assert.Equal(t, tt.want, got.Value)
		})
	}
}

func TestDataType_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Float", gateway.DataTypeFloat.String())
	assert.Equal(t, "Int16", gateway.DataTypeInt16.String())
	assert.Equal(t, "Boolean", gateway.DataTypeBoolean.String())
	assert.Equal(t, "Unsupported", gateway.DataTypeUnsupported.String())
}

func TestMessageSecurityMode_UnmarshalJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    gateway.MessageSecurityMode
		wantErr bool
	}{
		{in: `1`, want: gateway.MessageSecurityModeNone},
		{in: `3`, want: gateway.MessageSecurityModeSignAndEncrypt},
		{in: `"2"`, want: gateway.MessageSecurityModeSign},
		{in: `"SignAndEncrypt"`, want: gateway.MessageSecurityModeSignAndEncrypt},
		{in: `"sign"`, want: gateway.MessageSecurityModeSign},
		{in: `"Encrypt"`, wantErr: true},
		{in: `true`, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		var m gateway.MessageSecurityMode
		err := json.Unmarshal([]byte(tt.in), &m)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, m, tt.in)
	}
}

func TestEndpointDescriptor_JSON(t *testing.T) {
	t.Parallel()

	var ep gateway.EndpointDescriptor
	err := json.Unmarshal([]byte(`{
		"endpoint_url": "opc.tcp://plc:4840",
		"security_mode": 3,
		"security_policy_uri": "http://opcfoundation.org/UA/SecurityPolicy#Basic256Sha256",
		"security_level": 3
	}`), &ep)
	require.NoError(t, err)

	assert.Equal(t, "opc.tcp://plc:4840", ep.URL)
	assert.Equal(t, gateway.MessageSecurityModeSignAndEncrypt, ep.SecurityMode)
	assert.True(t, ep.Secure())
	assert.False(t, plainEndpoint.Secure())
}
