package gateway_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gateway "github.com/edgeo-scada/gateway"
	"github.com/edgeo-scada/gateway/internal/stacktest"
)

func TestSession_Register(t *testing.T) {
	t.Parallel()

	t.Run("returns_full_table", func(t *testing.T) {
		t.Parallel()

		stack := plcStack()
		s := connectedSession(t, stack)

		view, err := s.Register(context.Background(), []string{"ns=2;s=Temperature"})
		require.NoError(t, err)
		require.Len(t, view, 1)
		assert.NotEmpty(t, view["ns=2;s=Temperature"].Node)

		view, err = s.Register(context.Background(), []string{"ns=2;s=Pump", "ns=2;s=Setpoint"})
		require.NoError(t, err)
		assert.Len(t, view, 3)
		assert.Contains(t, view, "ns=2;s=Temperature")
		assert.Contains(t, view, "ns=2;s=Pump")
		assert.Contains(t, view, "ns=2;s=Setpoint")

		listed, err := s.RegisteredNodes()
		require.NoError(t, err)
		assert.Equal(t, view, listed)
		assert.Len(t, stack.Registered(), 3)
		assert.Equal(t, int64(3), s.Metrics().RegisteredNodes.Value())
	})

	t.Run("registering_again_replaces_handle", func(t *testing.T) {
		t.Parallel()

		s := connectedSession(t, plcStack())

		first, err := s.Register(context.Background(), []string{"ns=2;s=Temperature"})
		require.NoError(t, err)
		second, err := s.Register(context.Background(), []string{"ns=2;s=Temperature"})
		require.NoError(t, err)

		require.Len(t, second, 1)
		assert.NotEqual(t, first["ns=2;s=Temperature"].Node, second["ns=2;s=Temperature"].Node)
	})

	t.Run("failure_leaves_table_unchanged", func(t *testing.T) {
		t.Parallel()

		stack := plcStack()
		s := connectedSession(t, stack)

		before, err := s.Register(context.Background(), []string{"ns=2;s=Temperature"})
		require.NoError(t, err)

		stack.FailOn(stacktest.OpRegister, errors.New("BadTooManyOperations"))
		_, err = s.Register(context.Background(), []string{"ns=2;s=Pump"})
		require.Error(t, err)
		assert.ErrorIs(t, err, gateway.ErrRegister)

		after, err := s.RegisteredNodes()
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})

	t.Run("empty_ids", func(t *testing.T) {
		t.Parallel()

		s := connectedSession(t, plcStack())
		_, err := s.Register(context.Background(), []string{})
		assert.True(t, gateway.IsValidation(err))
	})
}

func TestSession_Unregister(t *testing.T) {
	t.Parallel()

	t.Run("removes_known_ids", func(t *testing.T) {
		t.Parallel()

		stack := plcStack()
		s := connectedSession(t, stack)
		_, err := s.Register(context.Background(), []string{"ns=2;s=Temperature", "ns=2;s=Pump"})
		require.NoError(t, err)

		require.NoError(t, s.Unregister(context.Background(), []string{"ns=2;s=Temperature"}))

		view, err := s.RegisteredNodes()
		require.NoError(t, err)
		assert.Len(t, view, 1)
		assert.Contains(t, view, "ns=2;s=Pump")
		assert.Len(t, stack.Registered(), 1)
		assert.Equal(t, 1, stack.Calls(stacktest.OpUnregister))
	})

	t.Run("unknown_ids_are_ignored", func(t *testing.T) {
		t.Parallel()

		stack := plcStack()
		s := connectedSession(t, stack)
		_, err := s.Register(context.Background(), []string{"ns=2;s=Temperature"})
		require.NoError(t, err)

		require.NoError(t, s.Unregister(context.Background(), []string{"ns=2;s=Nope", "ns=2;s=Temperature"}))
		view, err := s.RegisteredNodes()
		require.NoError(t, err)
		assert.Empty(t, view)
	})

	t.Run("nothing_known_makes_no_call", func(t *testing.T) {
		t.Parallel()

		stack := plcStack()
		s := connectedSession(t, stack)

		require.NoError(t, s.Unregister(context.Background(), []string{"ns=2;s=Nope"}))
		assert.Zero(t, stack.Calls(stacktest.OpUnregister))
	})

	t.Run("server_failure", func(t *testing.T) {
		t.Parallel()

		stack := plcStack()
		s := connectedSession(t, stack)
		_, err := s.Register(context.Background(), []string{"ns=2;s=Temperature"})
		require.NoError(t, err)

		stack.FailOn(stacktest.OpUnregister, errors.New("BadInternalError"))
		err = s.Unregister(context.Background(), []string{"ns=2;s=Temperature"})
		assert.ErrorIs(t, err, gateway.ErrUnregister)

		view, err := s.RegisteredNodes()
		require.NoError(t, err)
		assert.Empty(t, view)
	})
}
