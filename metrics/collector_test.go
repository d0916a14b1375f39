package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samaelod/wirebench/engine"
	"github.com/samaelod/wirebench/stats"
	"github.com/samaelod/wirebench/types"
)

type fakeComponent struct {
	name, kind string
	running    bool
	snap       stats.Snapshot
}

func (f *fakeComponent) Name() string          { return f.name }
func (f *fakeComponent) Kind() string          { return f.kind }
func (f *fakeComponent) Start() error          { f.running = true; return nil }
func (f *fakeComponent) Stop()                 { f.running = false }
func (f *fakeComponent) Running() bool         { return f.running }
func (f *fakeComponent) Stats() stats.Snapshot { return f.snap }

func TestCollector(t *testing.T) {
	reg := engine.NewRegistry(nil)
	require.NoError(t, reg.Add(&fakeComponent{
		name:    "echo",
		kind:    types.KindTCPServer,
		running: true,
		snap:    stats.Snapshot{stats.BytesReceived: 18, stats.InvalidFrames: 2},
	}))
	require.NoError(t, reg.Add(&fakeComponent{
		name: "blast",
		kind: types.KindLoadTest,
		snap: stats.Snapshot{stats.PacketsSent: 50},
	}))

	c := NewCollector(reg)
	assert.Equal(t, 5, testutil.CollectAndCount(c))

	expected := `
# HELP wirebench_engine_stat Current value of one engine statistic.
# TYPE wirebench_engine_stat gauge
wirebench_engine_stat{engine="blast",kind="load_test",stat="packets_sent"} 50
wirebench_engine_stat{engine="echo",kind="tcp_server",stat="bytes_received"} 18
wirebench_engine_stat{engine="echo",kind="tcp_server",stat="invalid_frames"} 2
# HELP wirebench_engine_running 1 while the engine is running.
# TYPE wirebench_engine_running gauge
wirebench_engine_running{engine="blast",kind="load_test"} 0
wirebench_engine_running{engine="echo",kind="tcp_server"} 1
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected)))
}

func TestCollectorRegisters(t *testing.T) {
	r := prometheus.NewPedanticRegistry()
	c := NewCollector(nil)
	require.NoError(t, r.Register(c))

	families, err := r.Gather()
	require.NoError(t, err)
	assert.Empty(t, families)

	reg := engine.NewRegistry(nil)
	require.NoError(t, reg.Add(&fakeComponent{name: "p", kind: types.KindPeer, snap: stats.Snapshot{stats.Reconnects: 3}}))
	c.SetSource(reg)

	families, err = r.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 2)
}
