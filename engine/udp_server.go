package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/ipv4"

	"github.com/samaelod/wirebench/protocol"
	"github.com/samaelod/wirebench/stats"
	"github.com/samaelod/wirebench/types"
)

// UDPServer answers framed datagrams. When Host is a multicast group the
// socket joins that group instead of binding a unicast address. Chunked
// sends are not reassembled: every datagram is handled on its own.
type UDPServer struct {
	name  string
	cfg   types.UDPServerConfig
	codec protocol.Codec
	log   *zap.Logger
	stats *stats.Aggregator
	peers *ConnManager
	sink  FileSink

	mu      sync.Mutex
	running bool
	conn    net.PacketConn
	done    chan struct{}
}

func NewUDPServer(name string, cfg types.UDPServerConfig, log *zap.Logger) *UDPServer {
	cfg = cfg.WithDefaults()
	return &UDPServer{
		name:  name,
		cfg:   cfg,
		codec: protocol.DatagramCodec(cfg.Variant),
		log:   orNop(log).With(zap.String("engine", name)),
		stats: stats.New(stats.ClientsConnected, stats.InvalidFrames, stats.FilesSaved),
		peers: NewConnManager(),
		sink:  FileSink{Dir: cfg.ReceiveDir},
	}
}

func (s *UDPServer) Name() string { return s.name }
func (s *UDPServer) Kind() string { return types.KindUDPServer }

func (s *UDPServer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Addr is the bound local address, or nil when stopped.
func (s *UDPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Peers returns every sender seen since Start.
func (s *UDPServer) Peers() []ConnRecord { return s.peers.Records() }

func (s *UDPServer) Stats() stats.Snapshot {
	s.stats.Set(stats.ClientsConnected, int64(s.peers.Len()))
	return s.stats.Snapshot()
}

func (s *UDPServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}

	var (
		conn net.PacketConn
		err  error
	)
	if s.cfg.Multicast() {
		conn, err = s.listenMulticast()
	} else {
		conn, err = net.ListenPacket("udp", s.cfg.Addr())
	}
	if err != nil {
		return fmt.Errorf("udp server %s: %w", s.name, err)
	}

	s.conn = conn
	s.running = true
	s.done = make(chan struct{})
	s.log.Info("udp server listening",
		zap.Stringer("addr", conn.LocalAddr()),
		zap.Bool("multicast", s.cfg.Multicast()),
		zap.String("variant", string(s.cfg.Variant)))

	go s.loop(conn, s.done)
	return nil
}

func (s *UDPServer) listenMulticast() (net.PacketConn, error) {
	group := net.ParseIP(s.cfg.Host)
	lc := net.ListenConfig{Control: reuseAddrControl}
	conn, err := lc.ListenPacket(context.Background(), "udp4", net.JoinHostPort("0.0.0.0", strconv.Itoa(s.cfg.Port)))
	if err != nil {
		return nil, fmt.Errorf("listen multicast port %d: %w", s.cfg.Port, err)
	}

	p := ipv4.NewPacketConn(conn)
	ifaces, err := multicastInterfaces(s.cfg.Interface)
	if err != nil {
		conn.Close()
		return nil, err
	}
	joined := 0
	for i := range ifaces {
		if err := p.JoinGroup(&ifaces[i], &net.UDPAddr{IP: group}); err != nil {
			s.log.Debug("join group failed", zap.String("iface", ifaces[i].Name), zap.Error(err))
			continue
		}
		joined++
	}
	if joined == 0 {
		conn.Close()
		return nil, fmt.Errorf("join multicast group %s: no usable interface", group)
	}
	s.log.Info("joined multicast group", zap.Stringer("group", group), zap.Int("interfaces", joined))
	return conn, nil
}

// multicastInterfaces lists up, multicast capable interfaces, or just the
// named one.
func multicastInterfaces(name string) ([]net.Interface, error) {
	if name != "" {
		ifi, err := net.InterfaceByName(name)
		if err != nil {
			return nil, fmt.Errorf("interface %s: %w", name, err)
		}
		return []net.Interface{*ifi}, nil
	}
	all, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	var out []net.Interface
	for _, ifi := range all {
		if ifi.Flags&net.FlagUp != 0 && ifi.Flags&net.FlagMulticast != 0 {
			out = append(out, ifi)
		}
	}
	return out, nil
}

func (s *UDPServer) loop(conn net.PacketConn, done chan struct{}) {
	defer close(done)

	buf := make([]byte, s.cfg.BufferSize)
	for s.Running() {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if errors.Is(err, net.ErrClosed) || !s.Running() {
				return
			}
			s.stats.Inc(stats.Errors)
			s.log.Warn("read failed", zap.Error(err))
			continue
		}
		s.handle(conn, buf[:n], addr)
	}
}

func (s *UDPServer) handle(conn net.PacketConn, datagram []byte, addr net.Addr) {
	peer := addr.String()
	f, err := s.codec.Decode(datagram)
	if err != nil {
		s.stats.Inc(stats.InvalidFrames)
		s.log.Warn("invalid datagram", zap.String("peer", peer), zap.Int("len", len(datagram)), zap.Error(err))
		return
	}

	if s.peers.Touch(peer) {
		s.stats.Inc(stats.Connections)
	}
	s.stats.Received(len(f.Payload))
	s.log.Debug("datagram received",
		zap.String("peer", peer),
		zap.Stringer("type", f.Header.Type),
		zap.Uint16("packet_id", f.Header.PacketID),
		zap.Uint16("total_packets", f.Header.TotalPackets))

	if f.Header.Type == protocol.TypeFile {
		path := s.sink.UDPPath(portOf(addr))
		if err := s.sink.Save(path, f.Payload, chunkIndex(f.Header, s.cfg.Variant) > 0); err != nil {
			s.stats.Inc(stats.Errors)
			s.log.Error("save file failed", zap.String("peer", peer), zap.Error(err))
		} else {
			s.stats.Inc(stats.FilesSaved)
			s.log.Info("file chunk saved", zap.String("peer", peer), zap.String("path", path))
		}
	}

	r := replyFor(f, f.Header.Sequence)
	h := protocol.Header{
		Type:         r.Type,
		Sequence:     r.Sequence,
		PacketID:     f.Header.PacketID,
		TotalPackets: f.Header.TotalPackets,
	}
	out, err := s.codec.Encode(h, r.Payload)
	if err != nil {
		s.stats.Inc(stats.Errors)
		s.log.Warn("encode reply failed", zap.String("peer", peer), zap.Error(err))
		return
	}
	if _, err := conn.WriteTo(out, addr); err != nil {
		s.stats.Inc(stats.Errors)
		s.peers.MarkInactive(peer)
		s.log.Warn("reply failed", zap.String("peer", peer), zap.Error(err))
		return
	}
	s.stats.Sent(len(r.Payload))
}

// Stop closes the socket and waits for the receive loop. Safe to repeat.
func (s *UDPServer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.conn.Close()
	done := s.done
	s.mu.Unlock()

	<-done

	s.mu.Lock()
	s.conn = nil
	s.mu.Unlock()
	for _, rec := range s.peers.Records() {
		s.peers.MarkInactive(rec.Addr)
	}
	s.log.Info("udp server stopped")
}
