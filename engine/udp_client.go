package engine

import (
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/net/ipv4"

	"github.com/samaelod/wirebench/protocol"
	"github.com/samaelod/wirebench/stats"
	"github.com/samaelod/wirebench/types"
)

// maxDatagram is the largest UDP payload over IPv4.
const maxDatagram = 65507

// SendMode picks the destination of a UDP send.
type SendMode string

const (
	Unicast   SendMode = "unicast"
	Multicast SendMode = "multicast"
)

// UDPClient sends payloads as framed datagrams, splitting anything larger
// than ChunkSize into numbered chunks.
type UDPClient struct {
	name  string
	cfg   types.UDPClientConfig
	codec protocol.Codec
	log   *zap.Logger
	stats *stats.Aggregator

	mu      sync.Mutex
	running bool
	seq     uint32
}

func NewUDPClient(name string, cfg types.UDPClientConfig, log *zap.Logger) *UDPClient {
	cfg = cfg.WithDefaults()
	return &UDPClient{
		name:  name,
		cfg:   cfg,
		codec: protocol.DatagramCodec(cfg.Variant),
		log:   orNop(log).With(zap.String("engine", name)),
		stats: stats.New(),
	}
}

func (c *UDPClient) Name() string          { return c.name }
func (c *UDPClient) Kind() string          { return types.KindUDPClient }
func (c *UDPClient) Stats() stats.Snapshot { return c.stats.Snapshot() }

// Start only marks the client usable; every send opens its own socket.
func (c *UDPClient) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return ErrAlreadyRunning
	}
	c.running = true
	return nil
}

func (c *UDPClient) Stop() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
}

func (c *UDPClient) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// ChunkSize is the effective chunk size: the configured one, reduced so that
// header, chunk and trailer fit in one IPv4 datagram.
func (c *UDPClient) ChunkSize() int {
	limit := maxDatagram - c.codec.HeaderSize() - c.codec.TrailerSize()
	if c.cfg.ChunkSize > limit {
		return limit
	}
	return c.cfg.ChunkSize
}

// Frames encodes payload exactly as Send would put it on the wire.
func (c *UDPClient) Frames(t protocol.FrameType, payload []byte) ([][]byte, error) {
	chunks := protocol.Chunk(payload, c.ChunkSize())
	if len(chunks) > 0xFFFF {
		return nil, fmt.Errorf("udp client %s: %d chunks exceed packet id range", c.name, len(chunks))
	}

	c.mu.Lock()
	base := c.seq
	c.seq += uint32(len(chunks))
	c.mu.Unlock()

	frames := make([][]byte, 0, len(chunks))
	for i, chunk := range chunks {
		h := protocol.Header{
			Type:         t,
			PacketID:     uint16(i),
			TotalPackets: uint16(len(chunks)),
			Sequence:     base + uint32(i),
		}
		if c.codec.Variant() == protocol.VariantB {
			// datagram receivers read the chunk index from the sequence
			h.Sequence = uint32(i)
		}
		b, err := c.codec.Encode(h, chunk)
		if err != nil {
			return nil, fmt.Errorf("udp client %s: chunk %d: %w", c.name, i, err)
		}
		frames = append(frames, b)
	}
	return frames, nil
}

// Send frames payload and writes every chunk in order. A failed chunk aborts
// the remaining ones.
func (c *UDPClient) Send(t protocol.FrameType, payload []byte, mode SendMode) error {
	frames, err := c.Frames(t, payload)
	if err != nil {
		c.stats.Inc(stats.Errors)
		return err
	}

	conn, dst, err := c.dial(mode)
	if err != nil {
		c.stats.Inc(stats.Errors)
		return err
	}
	defer conn.Close()

	chunks := protocol.Chunk(payload, c.ChunkSize())
	for i, f := range frames {
		if _, err := conn.WriteTo(f, dst); err != nil {
			c.stats.Inc(stats.Errors)
			c.log.Warn("chunk send failed", zap.Int("chunk", i), zap.Int("total", len(frames)), zap.Error(err))
			return fmt.Errorf("udp client %s: chunk %d/%d: %w", c.name, i+1, len(frames), err)
		}
		c.stats.Sent(len(chunks[i]))
	}
	c.log.Debug("datagrams sent",
		zap.Stringer("dst", dst),
		zap.String("mode", string(mode)),
		zap.Int("chunks", len(frames)),
		zap.Int("bytes", len(payload)))
	return nil
}

func (c *UDPClient) dial(mode SendMode) (net.PacketConn, net.Addr, error) {
	host := c.cfg.Host
	if mode == Multicast {
		if c.cfg.MulticastGroup == "" {
			return nil, nil, fmt.Errorf("udp client %s: multicast send without a group", c.name)
		}
		host = c.cfg.MulticastGroup
	}
	dst, err := net.ResolveUDPAddr("udp", hostPort(host, c.cfg.Port))
	if err != nil {
		return nil, nil, fmt.Errorf("udp client %s: resolve: %w", c.name, err)
	}

	network := "udp"
	if dst.IP.To4() != nil {
		network = "udp4"
	}
	conn, err := net.ListenPacket(network, ":0")
	if err != nil {
		return nil, nil, fmt.Errorf("udp client %s: open socket: %w", c.name, err)
	}
	if mode == Multicast {
		p := ipv4.NewPacketConn(conn)
		if err := p.SetMulticastTTL(c.cfg.MulticastTTL); err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("udp client %s: multicast ttl: %w", c.name, err)
		}
	}
	return conn, dst, nil
}

// SendMessage sends text as DATA to the unicast target.
func (c *UDPClient) SendMessage(text string) error {
	return c.Send(protocol.TypeData, []byte(text), Unicast)
}

// SendBinary sends data as AUDIO to the unicast target.
func (c *UDPClient) SendBinary(data []byte) error {
	return c.Send(protocol.TypeAudio, data, Unicast)
}

// SendFrame implements Sender. It sends to the multicast group when one is
// configured.
func (c *UDPClient) SendFrame(t protocol.FrameType, payload []byte) error {
	mode := Unicast
	if c.cfg.MulticastGroup != "" {
		mode = Multicast
	}
	return c.Send(t, payload, mode)
}

func hostPort(host string, port int) string {
	return net.JoinHostPort(host, fmt.Sprint(port))
}
