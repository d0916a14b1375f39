package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samaelod/wirebench/types"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0644))
		return p
	}

	tests := []struct {
		name    string
		path    string
		want    *Config
		wantErr bool
	}{
		{
			name: "json",
			path: write("a.json", `{"log_lines": 50, "variant": "b", "metrics_addr": ":9100"}`),
			want: &Config{LogLines: 50, LogsDir: "logs", RecentDir: "recent", ReceiveDir: "received", LogLevel: "info", MetricsAddr: ":9100", Variant: "b"},
		},
		{
			name: "yaml",
			path: write("a.yaml", "logs_dir: /tmp/wb\nlog_level: debug\nreceive_dir: in\n"),
			want: &Config{LogLines: 1000, LogsDir: "/tmp/wb", RecentDir: "recent", ReceiveDir: "in", LogLevel: "debug", Variant: "a"},
		},
		{
			name: "missing file uses defaults",
			path: filepath.Join(dir, "nope.json"),
			want: Default(),
		},
		{name: "bad json", path: write("bad.json", `{`), wantErr: true},
		{name: "bad variant", path: write("v.yml", "variant: c\n"), wantErr: true},
		{name: "bad level", path: write("l.json", `{"log_level": "loud"}`), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Load(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApply(t *testing.T) {
	cfg := Default()
	cfg.Variant = "b"
	cfg.ReceiveDir = "/tmp/in"

	p := &types.Profile{
		Globals: types.Globals{LogLines: 20},
		Endpoints: []types.Endpoint{
			{ID: 0, Kind: types.KindTCPServer},
			{ID: 1, Kind: types.KindUDPServer, ReceiveDir: "/srv"},
			{ID: 2, Kind: types.KindTCPClient},
		},
	}
	cfg.Apply(p)

	assert.Equal(t, "b", p.Globals.Variant)
	assert.Equal(t, "info", p.Globals.LogLevel)
	assert.Equal(t, 20, p.Globals.LogLines)
	assert.Equal(t, "/tmp/in", p.Endpoints[0].ReceiveDir)
	assert.Equal(t, "/srv", p.Endpoints[1].ReceiveDir)
	assert.Empty(t, p.Endpoints[2].ReceiveDir)
}
