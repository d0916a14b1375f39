package types

import (
	"fmt"
	"strings"
)

// Endpoint kinds.
const (
	KindTCPServer = "tcp_server"
	KindUDPServer = "udp_server"
	KindTCPClient = "tcp_client"
	KindUDPClient = "udp_client"
	KindPeer      = "peer"
	KindLoadTest  = "load_test"
)

// Kinds lists every endpoint kind a profile may use.
var Kinds = []string{KindTCPServer, KindUDPServer, KindTCPClient, KindUDPClient, KindPeer, KindLoadTest}

// IsServerKind reports whether kind only listens.
func IsServerKind(kind string) bool {
	return kind == KindTCPServer || kind == KindUDPServer
}

// Profile is a workbench document: which engines exist, how they are tuned
// and what the clients send once started.
type Profile struct {
	Globals        Globals
	Endpoints      []Endpoint
	Messages       []Message
	MessagesByFrom map[int][]Message // Pre-indexed messages by sender endpoint ID
}

// IndexMessages populates MessagesByFrom for O(1) lookup by sender
func (p *Profile) IndexMessages() {
	p.MessagesByFrom = make(map[int][]Message, len(p.Endpoints))
	for _, m := range p.Messages {
		p.MessagesByFrom[m.From] = append(p.MessagesByFrom[m.From], m)
	}
}

// Endpoint returns the endpoint with id, or nil.
func (p *Profile) Endpoint(id int) *Endpoint {
	for i := range p.Endpoints {
		if p.Endpoints[i].ID == id {
			return &p.Endpoints[i]
		}
	}
	return nil
}

type Globals struct {
	Variant  string // "a" | "b"
	LogLevel string
	Timeout  int // ms, connect timeout for clients
	Delay    int // ms, default delay between scripted messages
	LogLines int // Max lines in memory buffer (default 1000)
}

// Endpoint is the loosely typed profile form of an engine. Only the fields
// relevant to Kind are read; the typed config methods in engines.go convert it.
type Endpoint struct {
	ID      int
	Name    string
	Kind    string
	Address string
	Port    int
	Variant string // overrides Globals.Variant

	// tcp_server
	MaxClients  int
	IdleTimeout int // ms

	// udp_server
	BufferSize int
	Interface  string

	// servers
	ReceiveDir string

	// tcp_client
	AutoReconnect     *bool
	ReconnectInterval int // ms

	// peer
	Protocol          string // "tcp" | "udp"
	MaxAttempts       int
	BaseDelay         int // ms
	HeartbeatInterval int // ms

	// udp_client
	ChunkSize      int
	MulticastGroup string
	MulticastTTL   int

	// load_test
	Mode             string
	NumThreads       int
	PacketsPerThread int
	PacketSize       int
	PacketDelay      *int // ms
}

// DisplayName is Name when set, otherwise kind and id.
func (e Endpoint) DisplayName() string {
	if e.Name != "" {
		return e.Name
	}
	return fmt.Sprintf("%s-%d", e.Kind, e.ID)
}

// Message is one scripted send. Kind is text, hex, file or heartbeat.
type Message struct {
	From   int
	To     int
	Kind   string
	Value  string
	TDelta int // ms since previous message

	// FrameType, when set, replaces the frame type the kind would send.
	FrameType string
}

type EndpointStatus int

const (
	StatusIdle EndpointStatus = iota
	StatusRunning
	StatusCompleted
	StatusError
)

func (s EndpointStatus) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusError:
		return "error"
	default:
		return "idle"
	}
}

// LoadMode selects the load tester traffic pattern.
type LoadMode string

const (
	ModeNormal    LoadMode = "normal"
	ModeFlood     LoadMode = "flood"
	ModeSlowloris LoadMode = "slowloris"
)

func ParseLoadMode(s string) (LoadMode, error) {
	switch LoadMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeNormal:
		return ModeNormal, nil
	case ModeFlood:
		return ModeFlood, nil
	case ModeSlowloris:
		return ModeSlowloris, nil
	default:
		return "", fmt.Errorf("unknown load test mode %q", s)
	}
}
