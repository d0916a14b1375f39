package lua

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/samaelod/wirebench/config"
	"github.com/samaelod/wirebench/types"
)

// SaveToRecent stores the profile under the configured recent directory as
// <name>_<n>.lua, picking the first free n. A Lua source is copied verbatim
// so its comments survive; a capture is rendered with WriteProfile.
func SaveToRecent(p *types.Profile, originalPath string) (string, error) {
	appConfig, err := config.LoadDefault()
	if err != nil {
		return "", fmt.Errorf("failed to load config: %w", err)
	}
	return saveTo(appConfig.RecentDir, p, originalPath)
}

func saveTo(dir string, p *types.Profile, originalPath string) (string, error) {
	if dir == "" {
		dir = config.Default().RecentDir
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create recent directory: %w", err)
	}

	path := nextFree(dir, originalPath)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create profile file: %w", err)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(originalPath), ".lua") {
		src, err := os.Open(originalPath)
		if err != nil {
			return "", fmt.Errorf("failed to open source lua file: %w", err)
		}
		defer src.Close()

		if _, err := io.Copy(f, src); err != nil {
			return "", fmt.Errorf("failed to copy lua content: %w", err)
		}
		return path, nil
	}

	if err := WriteProfile(f, p); err != nil {
		return "", fmt.Errorf("failed to write profile to lua: %w", err)
	}
	return path, nil
}

// nextFree returns dir/<base>_<n>.lua for the smallest n not yet taken.
// "capture.pcapng" becomes "capture_1.lua".
func nextFree(dir, originalPath string) string {
	base := strings.TrimSuffix(filepath.Base(originalPath), filepath.Ext(originalPath))
	if base == "" || base == "." {
		base = "profile"
	}
	for n := 1; ; n++ {
		path := filepath.Join(dir, fmt.Sprintf("%s_%d.lua", base, n))
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
	}
}
