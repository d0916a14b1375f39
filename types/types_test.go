package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samaelod/wirebench/protocol"
)

func TestEndpointConversionDefaults(t *testing.T) {
	g := Globals{Variant: "a", Timeout: 2500}

	srv, err := Endpoint{ID: 0, Kind: KindTCPServer, Port: 6000}.TCPServerConfig(g)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", srv.Host)
	assert.Equal(t, DefaultMaxClients, srv.MaxClients)
	assert.Equal(t, 30*time.Second, srv.IdleTimeout)

	cli, err := Endpoint{ID: 1, Kind: KindTCPClient, Address: "10.0.0.1", Port: 6000}.TCPClientConfig(g)
	require.NoError(t, err)
	assert.True(t, cli.AutoReconnect, "auto reconnect defaults to on")
	assert.Equal(t, 2500*time.Millisecond, cli.ConnectTimeout)
	assert.Equal(t, "10.0.0.1:6000", cli.Addr())

	off := false
	cli, err = Endpoint{Kind: KindTCPClient, AutoReconnect: &off}.TCPClientConfig(g)
	require.NoError(t, err)
	assert.False(t, cli.AutoReconnect)

	lt, err := Endpoint{Kind: KindLoadTest, Mode: "flood"}.LoadTestConfig(g)
	require.NoError(t, err)
	assert.Equal(t, ModeFlood, lt.Mode)
	assert.Equal(t, DefaultPacketDelay, lt.PacketDelay)

	zero := 0
	lt, err = Endpoint{Kind: KindLoadTest, PacketDelay: &zero}.LoadTestConfig(g)
	require.NoError(t, err)
	assert.Zero(t, lt.PacketDelay)

	peer, err := Endpoint{Kind: KindPeer}.PeerConfig(Globals{})
	require.NoError(t, err)
	assert.Equal(t, protocol.VariantB, peer.Variant)
	assert.Equal(t, "tcp", peer.Protocol)
}

func TestEndpointConversionErrors(t *testing.T) {
	_, err := Endpoint{Kind: KindLoadTest, Mode: "storm"}.LoadTestConfig(Globals{})
	assert.Error(t, err)

	_, err = Endpoint{Kind: KindTCPServer, Variant: "z"}.TCPServerConfig(Globals{})
	assert.Error(t, err)

	_, err = Endpoint{Kind: KindPeer, Protocol: "sctp"}.PeerConfig(Globals{})
	assert.Error(t, err)
}

func TestMulticastDetection(t *testing.T) {
	assert.True(t, UDPServerConfig{Host: "239.1.2.3"}.Multicast())
	assert.False(t, UDPServerConfig{Host: "127.0.0.1"}.Multicast())
	assert.False(t, UDPServerConfig{Host: "localhost"}.Multicast())
}

func TestIndexMessages(t *testing.T) {
	p := Profile{
		Endpoints: []Endpoint{{ID: 1}, {ID: 2}},
		Messages:  []Message{{From: 1, Value: "a"}, {From: 2}, {From: 1, Value: "b"}},
	}
	p.IndexMessages()
	require.Len(t, p.MessagesByFrom[1], 2)
	assert.Equal(t, "b", p.MessagesByFrom[1][1].Value)
	assert.NotNil(t, p.Endpoint(2))
	assert.Nil(t, p.Endpoint(3))
}
