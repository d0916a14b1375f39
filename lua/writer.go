package lua

import (
	"fmt"
	"io"
	"strings"

	"github.com/samaelod/wirebench/types"
)

// WriteProfile emits p as a Lua script that ReadProfile accepts. Endpoint
// fields left at their zero value are omitted.
func WriteProfile(w io.Writer, p *types.Profile) error {
	var b strings.Builder

	fmt.Fprintln(&b, "local profile = {}")
	fmt.Fprintln(&b)

	// Globals
	fmt.Fprintln(&b, "-- GLOBALS ----------------------------------------")
	fmt.Fprintln(&b, "profile.globals = {")
	str(&b, 1, "variant", p.Globals.Variant)
	str(&b, 1, "log_level", p.Globals.LogLevel)
	num(&b, 1, "timeout", p.Globals.Timeout)
	num(&b, 1, "delay", p.Globals.Delay)
	num(&b, 1, "log_lines", p.Globals.LogLines)
	fmt.Fprintln(&b, "}")
	fmt.Fprintln(&b)

	// Endpoints
	fmt.Fprintln(&b, "-- ENDPOINTS --------------------------------------")
	fmt.Fprintln(&b, "profile.endpoints = {")
	for _, ep := range p.Endpoints {
		fmt.Fprintln(&b, "\t{")
		fmt.Fprintf(&b, "\t\tid = %d,\n", ep.ID)
		str(&b, 2, "name", ep.Name)
		fmt.Fprintf(&b, "\t\tkind = %q,\n", ep.Kind)
		fmt.Fprintf(&b, "\t\taddress = %q,\n", ep.Address)
		fmt.Fprintf(&b, "\t\tport = %d,\n", ep.Port)
		str(&b, 2, "variant", ep.Variant)
		num(&b, 2, "max_clients", ep.MaxClients)
		num(&b, 2, "idle_timeout", ep.IdleTimeout)
		num(&b, 2, "buffer_size", ep.BufferSize)
		str(&b, 2, "interface", ep.Interface)
		str(&b, 2, "receive_dir", ep.ReceiveDir)
		if ep.AutoReconnect != nil {
			fmt.Fprintf(&b, "\t\tauto_reconnect = %t,\n", *ep.AutoReconnect)
		}
		num(&b, 2, "reconnect_interval", ep.ReconnectInterval)
		str(&b, 2, "protocol", ep.Protocol)
		num(&b, 2, "max_attempts", ep.MaxAttempts)
		num(&b, 2, "base_delay", ep.BaseDelay)
		num(&b, 2, "heartbeat_interval", ep.HeartbeatInterval)
		num(&b, 2, "chunk_size", ep.ChunkSize)
		str(&b, 2, "multicast_group", ep.MulticastGroup)
		num(&b, 2, "multicast_ttl", ep.MulticastTTL)
		str(&b, 2, "mode", ep.Mode)
		num(&b, 2, "num_threads", ep.NumThreads)
		num(&b, 2, "packets_per_thread", ep.PacketsPerThread)
		num(&b, 2, "packet_size", ep.PacketSize)
		if ep.PacketDelay != nil {
			fmt.Fprintf(&b, "\t\tpacket_delay = %d,\n", *ep.PacketDelay)
		}
		fmt.Fprintln(&b, "\t},")
	}
	fmt.Fprintln(&b, "}")
	fmt.Fprintln(&b)

	// Messages
	fmt.Fprintln(&b, "-- MESSAGES ----------------------------------------")
	fmt.Fprintln(&b, "profile.messages = {")
	for _, m := range p.Messages {
		fmt.Fprintln(&b, "\t{")
		fmt.Fprintf(&b, "\t\tfrom = %d,\n", m.From)
		fmt.Fprintf(&b, "\t\tto = %d,\n", m.To)
		fmt.Fprintf(&b, "\t\tkind = %q,\n", m.Kind)
		fmt.Fprintf(&b, "\t\tvalue = %q,\n", m.Value)
		fmt.Fprintf(&b, "\t\tt_delta = %d,\n", m.TDelta)
		str(&b, 2, "frame_type", m.FrameType)
		fmt.Fprintln(&b, "\t},")
	}
	fmt.Fprintln(&b, "}")
	fmt.Fprintln(&b)
	fmt.Fprintln(&b, "return profile")

	_, err := io.WriteString(w, b.String())
	return err
}

func str(b *strings.Builder, depth int, key, v string) {
	if v != "" {
		fmt.Fprintf(b, "%s%s = %q,\n", strings.Repeat("\t", depth), key, v)
	}
}

func num(b *strings.Builder, depth int, key string, v int) {
	if v != 0 {
		fmt.Fprintf(b, "%s%s = %d,\n", strings.Repeat("\t", depth), key, v)
	}
}
