package lua

import (
	"fmt"

	"github.com/yuin/gluamapper"
	lua "github.com/yuin/gopher-lua"

	"github.com/samaelod/wirebench/engine"
	"github.com/samaelod/wirebench/protocol"
	"github.com/samaelod/wirebench/types"
)

// ReadProfile runs a Lua workbench profile and maps the table it returns.
func ReadProfile(path string) (*types.Profile, error) {
	L := lua.NewState()
	defer L.Close()

	// Execute Lua file
	if err := L.DoFile(path); err != nil {
		return nil, err
	}

	// Lua file returns profile table
	lv := L.Get(-1)
	table, ok := lv.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("lua file did not return a table")
	}

	var p types.Profile

	// Map Lua table → Go struct
	if err := gluamapper.Map(table, &p); err != nil {
		return nil, err
	}

	if err := ValidateProfile(&p); err != nil {
		return nil, fmt.Errorf("invalid profile: %w", err)
	}

	// Index messages for O(1) lookup
	p.IndexMessages()

	return &p, nil
}

func ValidateProfile(p *types.Profile) error {
	if p.Globals.Variant != "" {
		if _, err := protocol.ParseVariant(p.Globals.Variant); err != nil {
			return fmt.Errorf("globals: %w", err)
		}
	}

	endpoints := make(map[int]types.Endpoint, len(p.Endpoints))
	names := make(map[string]bool, len(p.Endpoints))

	for _, ep := range p.Endpoints {
		if _, dup := endpoints[ep.ID]; dup {
			return fmt.Errorf("endpoint %d: duplicate id", ep.ID)
		}
		if names[ep.DisplayName()] {
			return fmt.Errorf("endpoint %d: duplicate name %q", ep.ID, ep.DisplayName())
		}
		if !knownKind(ep.Kind) {
			return fmt.Errorf("endpoint %d: unknown kind %q", ep.ID, ep.Kind)
		}
		if ep.Port < 0 || ep.Port > 65535 {
			return fmt.Errorf("endpoint %d: port %d out of range", ep.ID, ep.Port)
		}
		if !types.IsServerKind(ep.Kind) && ep.Port == 0 {
			return fmt.Errorf("endpoint %d: %s needs a port", ep.ID, ep.Kind)
		}
		if ep.Variant != "" {
			if _, err := protocol.ParseVariant(ep.Variant); err != nil {
				return fmt.Errorf("endpoint %d: %w", ep.ID, err)
			}
		}
		if ep.Kind == types.KindLoadTest {
			if _, err := types.ParseLoadMode(ep.Mode); err != nil {
				return fmt.Errorf("endpoint %d: %w", ep.ID, err)
			}
		}
		endpoints[ep.ID] = ep
		names[ep.DisplayName()] = true
	}

	for i, msg := range p.Messages {
		from, ok := endpoints[msg.From]
		if !ok {
			return fmt.Errorf("message %d: invalid from id %d", i, msg.From)
		}
		if _, ok := endpoints[msg.To]; !ok {
			return fmt.Errorf("message %d: invalid to id %d", i, msg.To)
		}
		if types.IsServerKind(from.Kind) || from.Kind == types.KindLoadTest {
			return fmt.Errorf("message %d: %s endpoint %d cannot send scripted messages", i, from.Kind, msg.From)
		}
		switch msg.Kind {
		case engine.MsgText, engine.MsgHex, engine.MsgFile, engine.MsgHeartbeat, "":
		default:
			return fmt.Errorf("message %d: unknown kind %q", i, msg.Kind)
		}
		if msg.FrameType != "" {
			if _, err := protocol.ParseFrameType(msg.FrameType); err != nil {
				return fmt.Errorf("message %d: %w", i, err)
			}
		}
		if msg.TDelta < 0 {
			return fmt.Errorf("message %d: negative t_delta", i)
		}
	}

	return nil
}

func knownKind(kind string) bool {
	for _, k := range types.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}
