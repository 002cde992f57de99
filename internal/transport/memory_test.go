package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryTransportDeliversRequest(t *testing.T) {
	net := NewMemoryNetwork()
	a := net.NewEndpoint(0)
	b := net.NewEndpoint(1)

	received := make(chan int64, 1)
	b.RegisterHandler(Vote, func(from int64, req interface{}) (interface{}, error) {
		received <- from
		return "pong", nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	f := a.Send(ctx, 1, Vote, "ping")
	resp, err := f.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, "pong", resp)
	require.Equal(t, int64(0), <-received)
}

func TestMemoryTransportDisabledPeerUnreachable(t *testing.T) {
	net := NewMemoryNetwork()
	a := net.NewEndpoint(0)
	b := net.NewEndpoint(1)
	b.RegisterHandler(Vote, func(from int64, req interface{}) (interface{}, error) {
		return "pong", nil
	})
	net.Disable(1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := a.Send(ctx, 1, Vote, "ping").Wait(ctx)
	require.Error(t, err)
}

func TestMemoryTransportMissingHandler(t *testing.T) {
	net := NewMemoryNetwork()
	a := net.NewEndpoint(0)
	net.NewEndpoint(1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := a.Send(ctx, 1, Append, "ping").Wait(ctx)
	require.Error(t, err)
}
