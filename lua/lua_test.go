package lua

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samaelod/wirebench/types"
)

const sampleProfile = `
local profile = {}

profile.globals = { variant = "a", timeout = 2000, delay = 50 }

profile.endpoints = {
	{ id = 0, name = "echo", kind = "tcp_server", address = "0.0.0.0", port = 5000, max_clients = 4 },
	{ id = 1, kind = "tcp_client", address = "127.0.0.1", port = 5000, auto_reconnect = false },
	{ id = 2, kind = "load_test", address = "127.0.0.1", port = 5000, mode = "flood",
	  num_threads = 5, packets_per_thread = 10, packet_delay = 0 },
}

profile.messages = {
	{ from = 1, to = 0, kind = "text", value = "hello", t_delta = 0 },
	{ from = 1, to = 0, kind = "hex", value = "cafe", t_delta = 250, frame_type = "control" },
}

return profile
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0644))
	return p
}

func TestReadProfile(t *testing.T) {
	p, err := ReadProfile(writeFile(t, "bench.lua", sampleProfile))
	require.NoError(t, err)

	assert.Equal(t, "a", p.Globals.Variant)
	assert.Equal(t, 2000, p.Globals.Timeout)
	require.Len(t, p.Endpoints, 3)

	srv := p.Endpoints[0]
	assert.Equal(t, "echo", srv.Name)
	assert.Equal(t, types.KindTCPServer, srv.Kind)
	assert.Equal(t, 4, srv.MaxClients)

	cli := p.Endpoints[1]
	require.NotNil(t, cli.AutoReconnect)
	assert.False(t, *cli.AutoReconnect)

	lt := p.Endpoints[2]
	assert.Equal(t, 5, lt.NumThreads)
	require.NotNil(t, lt.PacketDelay)
	assert.Zero(t, *lt.PacketDelay)

	require.Len(t, p.MessagesByFrom[1], 2)
	assert.Equal(t, 250, p.MessagesByFrom[1][1].TDelta)
}

func TestValidateProfile(t *testing.T) {
	base := func() *types.Profile {
		return &types.Profile{
			Endpoints: []types.Endpoint{
				{ID: 0, Kind: types.KindTCPServer, Port: 5000},
				{ID: 1, Kind: types.KindTCPClient, Port: 5000},
			},
			Messages: []types.Message{{From: 1, To: 0, Kind: "text"}},
		}
	}

	tests := []struct {
		name   string
		mutate func(p *types.Profile)
	}{
		{"duplicate id", func(p *types.Profile) { p.Endpoints[1].ID = 0 }},
		{"unknown kind", func(p *types.Profile) { p.Endpoints[0].Kind = "server" }},
		{"client without port", func(p *types.Profile) { p.Endpoints[1].Port = 0 }},
		{"bad variant", func(p *types.Profile) { p.Globals.Variant = "x" }},
		{"bad from", func(p *types.Profile) { p.Messages[0].From = 9 }},
		{"bad to", func(p *types.Profile) { p.Messages[0].To = 9 }},
		{"server sends", func(p *types.Profile) { p.Messages[0].From, p.Messages[0].To = 0, 1 }},
		{"bad message kind", func(p *types.Profile) { p.Messages[0].Kind = "syn" }},
		{"bad frame type", func(p *types.Profile) { p.Messages[0].FrameType = "voice" }},
		{"bad load mode", func(p *types.Profile) {
			p.Endpoints = append(p.Endpoints, types.Endpoint{ID: 2, Kind: types.KindLoadTest, Port: 1, Mode: "storm"})
		}},
	}

	require.NoError(t, ValidateProfile(base()))
	require.NoError(t, ValidateProfile(types.DefaultProfile("a")))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base()
			tt.mutate(p)
			assert.Error(t, ValidateProfile(p))
		})
	}
}

func TestWriteProfileRoundTrip(t *testing.T) {
	orig, err := ReadProfile(writeFile(t, "bench.lua", sampleProfile))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteProfile(&buf, orig))

	again, err := ReadProfile(writeFile(t, "again.lua", buf.String()))
	require.NoError(t, err)
	assert.Equal(t, orig.Globals, again.Globals)
	assert.Equal(t, orig.Endpoints, again.Endpoints)
	assert.Equal(t, orig.Messages, again.Messages)
	assert.Equal(t, "control", again.Messages[1].FrameType)
}

func TestSaveToRecent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "recent")
	src := writeFile(t, "bench.lua", sampleProfile)

	first, err := saveTo(dir, nil, src)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "bench_1.lua"), first)
	copied, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Equal(t, sampleProfile, string(copied))

	second, err := saveTo(dir, nil, src)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "bench_2.lua"), second)

	p := &types.Profile{Endpoints: []types.Endpoint{{ID: 0, Kind: types.KindUDPServer, Port: 5001}}}
	fromCapture, err := saveTo(dir, p, "/captures/session.pcapng")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "session_1.lua"), fromCapture)

	back, err := ReadProfile(fromCapture)
	require.NoError(t, err)
	assert.Equal(t, types.KindUDPServer, back.Endpoints[0].Kind)
}
