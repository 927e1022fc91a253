package main

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kitchej/pychat/pkg/client"
	"github.com/kitchej/pychat/pkg/server"
)

func TestMentions(t *testing.T) {
	tests := []struct {
		text string
		name string
		want bool
	}{
		{"hi alice", "alice", true},
		{"@Alice, lunch?", "alice", true},
		{"alice: ping", "alice", true},
		{"malice aforethought", "alice", false},
		{"hello", "", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mentions(tt.text, tt.name), "%q mentions %q", tt.text, tt.name)
	}
}

func TestSendLine(t *testing.T) {
	cfg := server.DefaultConfig()
	cfg.Port = 0
	cfg.BlacklistPath = ""
	srv, err := server.New(cfg, server.WithLogOutput(io.Discard))
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	defer srv.Close()

	alice, err := client.Dial(srv.Addr().String(), "alice")
	require.NoError(t, err)
	defer alice.Close()
	bob, err := client.Dial(srv.Addr().String(), "bob")
	require.NoError(t, err)
	defer bob.Close()

	ev, err := alice.ReceiveTimeout(2 * time.Second)
	require.NoError(t, err)
	require.Equal(t, client.EventJoined, ev.Kind)

	quit, err := sendLine(bob, "  ")
	require.NoError(t, err)
	assert.False(t, quit)

	quit, err = sendLine(bob, "hello  there")
	require.NoError(t, err)
	assert.False(t, quit)
	ev, err = alice.ReceiveTimeout(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello  there", ev.Text)

	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("contents"), 0644))
	_, err = sendLine(bob, "/file "+path)
	require.NoError(t, err)
	ev, err = alice.ReceiveTimeout(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, client.EventMultimedia, ev.Kind)
	assert.Equal(t, "notes.txt", ev.Filename)
	assert.Equal(t, []byte("contents"), ev.Content)

	_, err = sendLine(bob, "/file "+filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	quit, err = sendLine(bob, "/quit")
	require.NoError(t, err)
	assert.True(t, quit)
}
