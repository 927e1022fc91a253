package loadtest

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kitchej/pychat/pkg/server"
)

func startServer(t *testing.T, maxClients int) *server.Server {
	t.Helper()
	cfg := server.DefaultConfig()
	cfg.Port = 0
	cfg.BlacklistPath = ""
	cfg.MaxClients = maxClients
	srv, err := server.New(cfg, server.WithLogOutput(io.Discard))
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Close() })
	return srv
}

func TestRunRelaysBetweenBots(t *testing.T) {
	srv := startServer(t, 0)

	result, err := Run(context.Background(), Options{
		Server:   srv.Addr().String(),
		Clients:  4,
		Duration: 300 * time.Millisecond,
		MinDelay: 20 * time.Millisecond,
		MaxDelay: 40 * time.Millisecond,
		RampUp:   40 * time.Millisecond,
	})
	require.NoError(t, err)

	assert.Equal(t, 4, result.Attempted)
	assert.EqualValues(t, 4, result.Connected)
	assert.Positive(t, result.Sent)
	assert.Positive(t, result.Received)
	assert.Zero(t, result.SendFailures)
	assert.Zero(t, result.DisconnectedEarly)

	assert.Eventually(t, func() bool { return len(srv.Clients()) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestRunCountsFullServer(t *testing.T) {
	srv := startServer(t, 2)

	result, err := Run(context.Background(), Options{
		Server:   srv.Addr().String(),
		Clients:  3,
		Duration: 200 * time.Millisecond,
		MinDelay: 50 * time.Millisecond,
		MaxDelay: 50 * time.Millisecond,
		RampUp:   30 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, result.Connected)
	assert.EqualValues(t, 1, result.ServerFull)
}

func TestRunRejectsBadOptions(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"no server", Options{Clients: 1, Duration: time.Second}},
		{"no clients", Options{Server: "127.0.0.1:1", Duration: time.Second}},
		{"no duration", Options{Server: "127.0.0.1:1", Clients: 1}},
		{"inverted delays", Options{Server: "127.0.0.1:1", Clients: 1, Duration: time.Second, MinDelay: time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Run(context.Background(), tt.opts)
			assert.Error(t, err)
		})
	}
}

func TestRunCancelled(t *testing.T) {
	srv := startServer(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	start := time.Now()
	_, err := Run(ctx, Options{
		Server:   srv.Addr().String(),
		Clients:  2,
		Duration: time.Minute,
		MinDelay: 10 * time.Millisecond,
		MaxDelay: 20 * time.Millisecond,
		RampUp:   10 * time.Millisecond,
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 10*time.Second)
}
