package tui

import (
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/samaelod/wirebench/config"
	"github.com/samaelod/wirebench/engine"
	"github.com/samaelod/wirebench/lua"
	"github.com/samaelod/wirebench/pcapreader"
	"github.com/samaelod/wirebench/protocol"
	"github.com/samaelod/wirebench/types"
)

var (
	luaTypes     = []string{".lua"}
	captureTypes = []string{".pcap", ".pcapng", ".cap"}
)

func sourceFor(path string) sourceType {
	if hasExt(path, captureTypes) {
		return sourceCapture
	}
	return sourceLua
}

func hasExt(name string, exts []string) bool {
	lower := strings.ToLower(name)
	for _, ext := range exts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// session is one loaded profile with its engines and log ring.
type session struct {
	profile  *types.Profile
	path     string
	registry *engine.Registry
	ring     *engine.Logger
	log      *zap.Logger
}

// loadProfile reads a profile from source, fills in app settings and
// validates it.
func loadProfile(cfg *config.Config, source sourceType, path string) (*types.Profile, error) {
	var (
		p   *types.Profile
		err error
	)
	switch source {
	case sourceLua:
		p, err = lua.ReadProfile(path)
	case sourceCapture:
		p, err = pcapreader.ReadCapture(path, protocol.Variant(cfg.Variant))
	case sourceDefaults:
		p = types.DefaultProfile(cfg.Variant)
	}
	if err != nil {
		return nil, err
	}
	cfg.Apply(p)
	if err := lua.ValidateProfile(p); err != nil {
		return nil, fmt.Errorf("invalid profile: %w", err)
	}
	return p, nil
}

// LoadProfile loads path the way the dashboard does: a Lua profile, a
// capture by extension, or the default profile when path is empty.
func LoadProfile(cfg *config.Config, path string) (*types.Profile, error) {
	if path == "" {
		return loadProfile(cfg, sourceDefaults, "")
	}
	return loadProfile(cfg, sourceFor(path), path)
}

// openSession builds the engines of p, logging into logs/<name>.log.
func openSession(cfg *config.Config, p *types.Profile, path string) (*session, error) {
	name := "defaults"
	if path != "" {
		base := filepath.Base(path)
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	ring := engine.NewLogger(filepath.Join(cfg.LogsDir, name+".log"), p.Globals.LogLines)
	log := engine.NewZapLogger(ring, p.Globals.LogLevel)

	reg, err := engine.Build(p, log)
	if err != nil {
		ring.Close()
		return nil, err
	}
	log.Info("session loaded",
		zap.String("source", path),
		zap.Int("endpoints", len(p.Endpoints)),
		zap.Int("messages", len(p.Messages)),
	)
	return &session{profile: p, path: path, registry: reg, ring: ring, log: log}, nil
}

// captureSummary previews a capture the way it would be loaded.
func captureSummary(cfg *config.Config) func(string) string {
	return func(path string) string {
		c, err := pcapreader.Inspect(path, protocol.Variant(cfg.Variant))
		if err != nil {
			return "Unreadable: " + err.Error()
		}
		return fmt.Sprintf("Variant: %s\nFrames: %d\nInvalid: %d\nEndpoints: %d\nMessages: %d",
			cfg.Variant, c.Frames, c.Invalid, len(c.Profile.Endpoints), len(c.Profile.Messages))
	}
}

func (s *session) close() {
	s.registry.StopAll()
	_ = s.log.Sync()
	s.ring.Close()
}
