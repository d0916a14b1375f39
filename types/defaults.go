package types

// Ports used by DefaultProfile.
const (
	DefaultTCPPort = 9000
	DefaultUDPPort = 9001
)

// DefaultProfile is a self-contained bench for when no file is given: an
// echo server per transport, a client of each aimed at it, a peer and a
// short normal-mode load test against the TCP server.
func DefaultProfile(variant string) *Profile {
	p := &Profile{
		Globals: Globals{Variant: variant, Timeout: 5000, Delay: 500},
		Endpoints: []Endpoint{
			{ID: 0, Name: "tcp-echo", Kind: KindTCPServer, Address: "0.0.0.0", Port: DefaultTCPPort},
			{ID: 1, Name: "udp-echo", Kind: KindUDPServer, Address: "0.0.0.0", Port: DefaultUDPPort},
			{ID: 2, Name: "tcp-client", Kind: KindTCPClient, Address: "127.0.0.1", Port: DefaultTCPPort},
			{ID: 3, Name: "udp-client", Kind: KindUDPClient, Address: "127.0.0.1", Port: DefaultUDPPort},
			{ID: 4, Name: "peer", Kind: KindPeer, Address: "127.0.0.1", Port: DefaultTCPPort, Protocol: "tcp"},
			{ID: 5, Name: "load", Kind: KindLoadTest, Address: "127.0.0.1", Port: DefaultTCPPort,
				Mode: string(ModeNormal), NumThreads: 4, PacketsPerThread: 25},
		},
		Messages: []Message{
			{From: 2, To: 0, Kind: "text", Value: "hello"},
			{From: 2, To: 0, Kind: "heartbeat"},
			{From: 3, To: 1, Kind: "text", Value: "hello"},
			{From: 4, To: 0, Kind: "hex", Value: "cafebabe"},
		},
	}
	p.IndexMessages()
	return p
}
