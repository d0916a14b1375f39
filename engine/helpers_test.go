package engine_test

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/samaelod/wirebench/engine"
	"github.com/samaelod/wirebench/protocol"
	"github.com/samaelod/wirebench/types"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

func startTCPServer(t *testing.T, cfg types.TCPServerConfig) (*engine.TCPServer, int) {
	t.Helper()
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.ReceiveDir == "" {
		cfg.ReceiveDir = t.TempDir()
	}
	s := engine.NewTCPServer("tcp-test", cfg, nil)
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)
	return s, s.Addr().(*net.TCPAddr).Port
}

func startUDPServer(t *testing.T, cfg types.UDPServerConfig) (*engine.UDPServer, int) {
	t.Helper()
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.ReceiveDir == "" {
		cfg.ReceiveDir = t.TempDir()
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 50 * time.Millisecond
	}
	s := engine.NewUDPServer("udp-test", cfg, nil)
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)
	return s, s.Addr().(*net.UDPAddr).Port
}

func dialTCP(t *testing.T, port int) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn net.Conn, c protocol.Codec, typ protocol.FrameType, payload []byte) *protocol.Frame {
	t.Helper()
	_, err := protocol.WriteFrame(conn, c, protocol.Header{Type: typ, Sequence: 7}, payload)
	require.NoError(t, err)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	f, err := protocol.ReadFrame(conn, c)
	require.NoError(t, err)
	return f
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}
