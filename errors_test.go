package gateway_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	gateway "github.com/edgeo-scada/gateway"
)

func TestError_Is(t *testing.T) {
	t.Parallel()

	cause := errors.New("BadTimeout")
	err := &gateway.Error{Kind: gateway.KindRead, Op: "read", Err: cause}

	assert.ErrorIs(t, err, gateway.ErrRead)
	assert.NotErrorIs(t, err, gateway.ErrWrite)
	assert.ErrorIs(t, err, cause)

	wrapped := fmt.Errorf("handler: %w", err)
	assert.ErrorIs(t, wrapped, gateway.ErrRead)
	assert.Equal(t, gateway.KindRead, gateway.KindOf(wrapped))
}

func TestError_Message(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *gateway.Error
		want string
	}{
		{
			name: "op_and_cause",
			err:  &gateway.Error{Kind: gateway.KindRead, Op: "read", Err: errors.New("BadTimeout")},
			want: "gateway: read: BadTimeout",
		},
		{
			name: "cause_only",
			err:  &gateway.Error{Kind: gateway.KindConnect, Err: errors.New("refused")},
			want: "gateway: connect: refused",
		},
		{
			name: "op_only",
			err:  &gateway.Error{Kind: gateway.KindNotConnected, Op: "write"},
			want: "gateway: write: not connected to OPC UA server",
		},
		{
			name: "kind_only",
			err:  &gateway.Error{Kind: gateway.KindAlreadyConnected},
			want: "gateway: already connected",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestKind_Class(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind gateway.Kind
		want gateway.Class
	}{
		{gateway.KindValidation, gateway.ClassBadInput},
		{gateway.KindAlreadyConnected, gateway.ClassNotReady},
		{gateway.KindNotConnected, gateway.ClassNotReady},
		{gateway.KindNotFound, gateway.ClassNotFound},
		{gateway.KindDiscovery, gateway.ClassFailed},
		{gateway.KindConnect, gateway.ClassFailed},
		{gateway.KindRead, gateway.ClassFailed},
		{gateway.KindWrite, gateway.ClassFailed},
		{gateway.KindSubscribe, gateway.ClassFailed},
		{gateway.KindUnsubscribe, gateway.ClassFailed},
		{gateway.KindUnknown, gateway.ClassFailed},
	}

	for _, tt := range tests {
		tt := tt
		assert.Equal(t, tt.want, tt.kind.Class(), tt.kind.String())
	}
}

func TestKindOf_ForeignError(t *testing.T) {
	t.Parallel()

	err := errors.New("plain")
	assert.Equal(t, gateway.KindUnknown, gateway.KindOf(err))
	assert.Equal(t, gateway.ClassFailed, gateway.ClassOf(err))
	assert.Equal(t, gateway.KindUnknown, gateway.KindOf(nil))
	assert.Equal(t, "Kind(200)", gateway.Kind(200).String())
}
