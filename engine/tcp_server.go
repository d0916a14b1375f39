package engine

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/samaelod/wirebench/protocol"
	"github.com/samaelod/wirebench/stats"
	"github.com/samaelod/wirebench/types"
)

// TCPServer accepts framed connections and answers every frame: heartbeats
// and files are acknowledged, anything else is echoed back.
type TCPServer struct {
	name  string
	cfg   types.TCPServerConfig
	codec protocol.Codec
	log   *zap.Logger
	stats *stats.Aggregator
	conns *ConnManager
	sink  FileSink

	mu      sync.Mutex
	running bool
	ln      net.Listener
	wg      sync.WaitGroup
}

func NewTCPServer(name string, cfg types.TCPServerConfig, log *zap.Logger) *TCPServer {
	cfg = cfg.WithDefaults()
	return &TCPServer{
		name:  name,
		cfg:   cfg,
		codec: protocol.StreamCodec(cfg.Variant),
		log:   orNop(log).With(zap.String("engine", name)),
		stats: stats.New(stats.ClientsConnected, stats.RejectedConnections, stats.InvalidFrames, stats.FilesSaved),
		conns: NewConnManager(),
		sink:  FileSink{Dir: cfg.ReceiveDir},
	}
}

func (s *TCPServer) Name() string { return s.name }
func (s *TCPServer) Kind() string { return types.KindTCPServer }

func (s *TCPServer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Addr is the bound listen address, or nil when stopped.
func (s *TCPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// ActiveConnections counts accepted connections still being served.
func (s *TCPServer) ActiveConnections() int { return s.conns.Len() }

// Connections returns the tracked peers.
func (s *TCPServer) Connections() []ConnRecord { return s.conns.Records() }

func (s *TCPServer) Stats() stats.Snapshot {
	s.stats.Set(stats.ClientsConnected, int64(s.conns.Len()))
	return s.stats.Snapshot()
}

func (s *TCPServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}

	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("tcp server %s: listen %s: %w", s.name, s.cfg.Addr(), err)
	}
	s.ln = ln
	s.running = true
	s.log.Info("tcp server listening",
		zap.Stringer("addr", ln.Addr()),
		zap.Int("max_clients", s.cfg.MaxClients),
		zap.String("variant", string(s.cfg.Variant)))

	s.wg.Add(1)
	go s.acceptLoop(ln)
	return nil
}

func (s *TCPServer) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || !s.Running() {
				return
			}
			s.stats.Inc(stats.Errors)
			s.log.Warn("accept failed", zap.Error(err))
			time.Sleep(10 * time.Millisecond)
			continue
		}

		addr := conn.RemoteAddr().String()
		if s.conns.Len() >= s.cfg.MaxClients {
			s.stats.Inc(stats.RejectedConnections)
			s.log.Warn("connection rejected, server full", zap.String("peer", addr))
			conn.Close()
			continue
		}

		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns.Add(addr, RoleAccepted, conn)
		s.wg.Add(1)
		s.mu.Unlock()

		s.stats.Inc(stats.Connections)
		s.stats.Set(stats.ClientsConnected, int64(s.conns.Len()))
		s.log.Info("client connected", zap.String("peer", addr))
		go s.handle(conn, addr)
	}
}

func (s *TCPServer) handle(conn net.Conn, addr string) {
	defer s.wg.Done()
	defer func() {
		conn.Close()
		s.conns.Remove(addr)
		s.stats.Set(stats.ClientsConnected, int64(s.conns.Len()))
		s.log.Info("client disconnected", zap.String("peer", addr))
	}()

	var seq uint32
	for {
		conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		f, err := protocol.ReadFrame(conn, s.codec)
		if err != nil {
			switch {
			case protocol.IsRecoverable(err):
				s.stats.Inc(stats.InvalidFrames)
				s.log.Warn("invalid frame", zap.String("peer", addr), zap.Error(err))
				continue
			case protocol.IsProtocolError(err):
				s.stats.Inc(stats.InvalidFrames)
				s.log.Warn("framing error, closing", zap.String("peer", addr), zap.Error(err))
			case errors.Is(err, os.ErrDeadlineExceeded):
				s.log.Info("idle timeout", zap.String("peer", addr), zap.Duration("after", s.cfg.IdleTimeout))
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
			default:
				s.stats.Inc(stats.Errors)
				s.log.Warn("read failed", zap.String("peer", addr), zap.Error(err))
			}
			return
		}

		s.conns.Touch(addr)
		s.stats.Received(len(f.Payload))
		s.log.Debug("frame received",
			zap.String("peer", addr),
			zap.Stringer("type", f.Header.Type),
			zap.Int("len", len(f.Payload)))

		if f.Header.Type == protocol.TypeFile {
			path := s.sink.TCPPath(portOf(conn.RemoteAddr()))
			if err := s.sink.Save(path, f.Payload, false); err != nil {
				s.stats.Inc(stats.Errors)
				s.log.Error("save file failed", zap.String("peer", addr), zap.Error(err))
			} else {
				s.stats.Inc(stats.FilesSaved)
				s.log.Info("file saved", zap.String("peer", addr), zap.String("path", path))
			}
		}

		r := replyFor(f, seq)
		if r.Type != protocol.TypeAck {
			seq++
		}
		if _, err := protocol.WriteFrame(conn, s.codec, protocol.Header{Type: r.Type, Sequence: r.Sequence}, r.Payload); err != nil {
			s.stats.Inc(stats.Errors)
			s.log.Warn("write failed", zap.String("peer", addr), zap.Error(err))
			return
		}
		s.stats.Sent(len(r.Payload))
	}
}

// Stop closes the listener and every client, then waits for the handlers.
// It is safe to call more than once and before Start.
func (s *TCPServer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.ln.Close()
	s.mu.Unlock()

	s.conns.CloseAll()
	s.wg.Wait()

	s.mu.Lock()
	s.ln = nil
	s.mu.Unlock()
	s.stats.Set(stats.ClientsConnected, 0)
	s.log.Info("tcp server stopped")
}

func portOf(addr net.Addr) int {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.Port
	case *net.UDPAddr:
		return a.Port
	}
	return 0
}
