package types

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/samaelod/wirebench/protocol"
)

const (
	DefaultMaxClients        = 10
	DefaultIdleTimeout       = 30 * time.Second
	DefaultBufferSize        = 65535
	DefaultReadTimeout       = time.Second
	DefaultClientTimeout     = 10 * time.Second
	DefaultReconnectInterval = 5 * time.Second
	DefaultChunkSize         = 65500
	DefaultMulticastTTL      = 2
	DefaultMaxAttempts       = 5
	DefaultBaseDelay         = time.Second
	DefaultHeartbeat         = 5 * time.Second
	DefaultLoadTimeout       = 5 * time.Second
	DefaultPacketSize        = 1024
	DefaultPacketDelay       = 10 * time.Millisecond
	DefaultSlowChunks        = 4
	DefaultSlowInterval      = 100 * time.Millisecond
)

func hostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

type TCPServerConfig struct {
	Host        string
	Port        int
	MaxClients  int
	IdleTimeout time.Duration
	Variant     protocol.Variant
	ReceiveDir  string
}

func (c TCPServerConfig) WithDefaults() TCPServerConfig {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.MaxClients <= 0 {
		c.MaxClients = DefaultMaxClients
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.Variant == "" {
		c.Variant = protocol.VariantA
	}
	if c.ReceiveDir == "" {
		c.ReceiveDir = "."
	}
	return c
}

func (c TCPServerConfig) Addr() string { return hostPort(c.Host, c.Port) }

type UDPServerConfig struct {
	Host        string
	Port        int
	BufferSize  int
	ReadTimeout time.Duration
	Variant     protocol.Variant
	ReceiveDir  string
	Interface   string // multicast interface name, empty joins on every interface
}

func (c UDPServerConfig) WithDefaults() UDPServerConfig {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.Variant == "" {
		c.Variant = protocol.VariantA
	}
	if c.ReceiveDir == "" {
		c.ReceiveDir = "."
	}
	return c
}

func (c UDPServerConfig) Addr() string { return hostPort(c.Host, c.Port) }

// Multicast reports whether Host is a multicast group address.
func (c UDPServerConfig) Multicast() bool {
	ip := net.ParseIP(c.Host)
	return ip != nil && ip.IsMulticast()
}

type TCPClientConfig struct {
	Host              string
	Port              int
	AutoReconnect     bool
	ReconnectInterval time.Duration
	ConnectTimeout    time.Duration
	Variant           protocol.Variant
}

// DefaultTCPClientConfig has auto-reconnect enabled.
func DefaultTCPClientConfig(host string, port int) TCPClientConfig {
	return TCPClientConfig{Host: host, Port: port, AutoReconnect: true}.WithDefaults()
}

func (c TCPClientConfig) WithDefaults() TCPClientConfig {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = DefaultReconnectInterval
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultClientTimeout
	}
	if c.Variant == "" {
		c.Variant = protocol.VariantA
	}
	return c
}

func (c TCPClientConfig) Addr() string { return hostPort(c.Host, c.Port) }

type PeerConfig struct {
	Host              string
	Port              int
	Protocol          string
	MaxAttempts       int
	BaseDelay         time.Duration
	HeartbeatInterval time.Duration
	ConnectTimeout    time.Duration
	Variant           protocol.Variant
}

func (c PeerConfig) WithDefaults() PeerConfig {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Protocol == "" {
		c.Protocol = "tcp"
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeat
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultLoadTimeout
	}
	if c.Variant == "" {
		c.Variant = protocol.VariantB
	}
	return c
}

func (c PeerConfig) Addr() string { return hostPort(c.Host, c.Port) }

type UDPClientConfig struct {
	Host           string
	Port           int
	ChunkSize      int
	MulticastGroup string
	MulticastTTL   int
	Variant        protocol.Variant
}

func (c UDPClientConfig) WithDefaults() UDPClientConfig {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.MulticastTTL <= 0 {
		c.MulticastTTL = DefaultMulticastTTL
	}
	if c.Variant == "" {
		c.Variant = protocol.VariantA
	}
	return c
}

func (c UDPClientConfig) Addr() string { return hostPort(c.Host, c.Port) }

type LoadTestConfig struct {
	Host             string
	Port             int
	Mode             LoadMode
	NumThreads       int
	PacketsPerThread int
	PacketSize       int
	PacketDelay      time.Duration
	ConnectTimeout   time.Duration
	ResponseTimeout  time.Duration
	SlowChunks       int
	SlowInterval     time.Duration
	Variant          protocol.Variant
}

// WithDefaults fills zero fields. PacketDelay zero is kept: it means no delay.
func (c LoadTestConfig) WithDefaults() LoadTestConfig {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Mode == "" {
		c.Mode = ModeNormal
	}
	if c.NumThreads <= 0 {
		c.NumThreads = 1
	}
	if c.PacketsPerThread <= 0 {
		c.PacketsPerThread = 1
	}
	if c.PacketSize <= 0 {
		c.PacketSize = DefaultPacketSize
	}
	if c.PacketDelay < 0 {
		c.PacketDelay = 0
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultLoadTimeout
	}
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = DefaultLoadTimeout
	}
	if c.SlowChunks <= 0 {
		c.SlowChunks = DefaultSlowChunks
	}
	if c.SlowInterval <= 0 {
		c.SlowInterval = DefaultSlowInterval
	}
	if c.Variant == "" {
		c.Variant = protocol.VariantA
	}
	return c
}

func (c LoadTestConfig) Addr() string { return hostPort(c.Host, c.Port) }

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (e Endpoint) variant(g Globals) (protocol.Variant, error) {
	v := e.Variant
	if v == "" {
		v = g.Variant
	}
	return protocol.ParseVariant(v)
}

func (e Endpoint) TCPServerConfig(g Globals) (TCPServerConfig, error) {
	v, err := e.variant(g)
	if err != nil {
		return TCPServerConfig{}, err
	}
	return TCPServerConfig{
		Host:        e.Address,
		Port:        e.Port,
		MaxClients:  e.MaxClients,
		IdleTimeout: ms(e.IdleTimeout),
		Variant:     v,
		ReceiveDir:  e.ReceiveDir,
	}.WithDefaults(), nil
}

func (e Endpoint) UDPServerConfig(g Globals) (UDPServerConfig, error) {
	v, err := e.variant(g)
	if err != nil {
		return UDPServerConfig{}, err
	}
	return UDPServerConfig{
		Host:       e.Address,
		Port:       e.Port,
		BufferSize: e.BufferSize,
		Variant:    v,
		ReceiveDir: e.ReceiveDir,
		Interface:  e.Interface,
	}.WithDefaults(), nil
}

func (e Endpoint) TCPClientConfig(g Globals) (TCPClientConfig, error) {
	v, err := e.variant(g)
	if err != nil {
		return TCPClientConfig{}, err
	}
	return TCPClientConfig{
		Host:              e.Address,
		Port:              e.Port,
		AutoReconnect:     e.AutoReconnect == nil || *e.AutoReconnect,
		ReconnectInterval: ms(e.ReconnectInterval),
		ConnectTimeout:    ms(g.Timeout),
		Variant:           v,
	}.WithDefaults(), nil
}

func (e Endpoint) PeerConfig(g Globals) (PeerConfig, error) {
	v := protocol.VariantB
	if e.Variant != "" || g.Variant != "" {
		var err error
		if v, err = e.variant(g); err != nil {
			return PeerConfig{}, err
		}
	}
	if e.Protocol != "" && e.Protocol != "tcp" && e.Protocol != "udp" {
		return PeerConfig{}, fmt.Errorf("endpoint %d: unknown protocol %q", e.ID, e.Protocol)
	}
	return PeerConfig{
		Host:              e.Address,
		Port:              e.Port,
		Protocol:          e.Protocol,
		MaxAttempts:       e.MaxAttempts,
		BaseDelay:         ms(e.BaseDelay),
		HeartbeatInterval: ms(e.HeartbeatInterval),
		ConnectTimeout:    ms(g.Timeout),
		Variant:           v,
	}.WithDefaults(), nil
}

func (e Endpoint) UDPClientConfig(g Globals) (UDPClientConfig, error) {
	v, err := e.variant(g)
	if err != nil {
		return UDPClientConfig{}, err
	}
	return UDPClientConfig{
		Host:           e.Address,
		Port:           e.Port,
		ChunkSize:      e.ChunkSize,
		MulticastGroup: e.MulticastGroup,
		MulticastTTL:   e.MulticastTTL,
		Variant:        v,
	}.WithDefaults(), nil
}

func (e Endpoint) LoadTestConfig(g Globals) (LoadTestConfig, error) {
	v, err := e.variant(g)
	if err != nil {
		return LoadTestConfig{}, err
	}
	mode, err := ParseLoadMode(e.Mode)
	if err != nil {
		return LoadTestConfig{}, err
	}
	delay := DefaultPacketDelay
	if e.PacketDelay != nil {
		delay = ms(*e.PacketDelay)
	}
	return LoadTestConfig{
		Host:             e.Address,
		Port:             e.Port,
		Mode:             mode,
		NumThreads:       e.NumThreads,
		PacketsPerThread: e.PacketsPerThread,
		PacketSize:       e.PacketSize,
		PacketDelay:      delay,
		ConnectTimeout:   ms(g.Timeout),
		Variant:          v,
	}.WithDefaults(), nil
}
