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

var heartbeatPayload = []byte("HEARTBEAT")

// Peer is a sending client that connects on first use, keeps a TCP link
// alive with heartbeats and, when an established link breaks, redials with
// exponential backoff. After MaxAttempts failed redials it gives up for good.
type Peer struct {
	name  string
	cfg   types.PeerConfig
	codec protocol.Codec
	log   *zap.Logger
	stats *stats.Aggregator

	mu      sync.Mutex
	conn    net.Conn
	lost    bool
	started bool
	err     error
	sentAt  time.Time
	stop    chan struct{}
	wg      sync.WaitGroup

	// sendMu serialises writes together with any reconnect they trigger.
	sendMu sync.Mutex
	seq    uint32
}

func NewPeer(name string, cfg types.PeerConfig, log *zap.Logger) *Peer {
	cfg = cfg.WithDefaults()
	codec := protocol.StreamCodec(cfg.Variant)
	if cfg.Protocol == "udp" {
		codec = protocol.DatagramCodec(cfg.Variant)
	}
	return &Peer{
		name:  name,
		cfg:   cfg,
		codec: codec,
		log:   orNop(log).With(zap.String("engine", name)),
		stats: stats.New(stats.ConnectionAttempts, stats.SuccessfulConnections, stats.Reconnects, stats.InvalidFrames),
	}
}

func (p *Peer) Name() string          { return p.name }
func (p *Peer) Kind() string          { return types.KindPeer }
func (p *Peer) Stats() stats.Snapshot { return p.stats.Snapshot() }

func (p *Peer) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started && p.err == nil
}

func (p *Peer) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil
}

// Err returns ErrReconnectExhausted once the peer has given up.
func (p *Peer) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Start marks the peer running and connects. Over TCP a heartbeat loop runs
// until Stop.
func (p *Peer) Start() error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	p.started = true
	p.err = nil
	p.lost = false
	p.stop = make(chan struct{})
	stop := p.stop
	if p.cfg.Protocol == "tcp" {
		p.wg.Add(1)
		go p.heartbeat(stop)
	}
	p.mu.Unlock()

	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	return p.connect()
}

// Connect is Start.
func (p *Peer) Connect() error { return p.Start() }

// connect dials once. Callers hold sendMu.
func (p *Peer) connect() error {
	p.stats.Inc(stats.ConnectionAttempts)
	conn, err := net.DialTimeout(p.cfg.Protocol, p.cfg.Addr(), p.cfg.ConnectTimeout)
	if err != nil {
		p.stats.Inc(stats.Errors)
		p.log.Warn("connect failed", zap.String("addr", p.cfg.Addr()), zap.Error(err))
		return fmt.Errorf("peer %s: connect %s: %w", p.name, p.cfg.Addr(), err)
	}

	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		conn.Close()
		return ErrNotConnected
	}
	p.conn = conn
	p.lost = false
	p.wg.Add(1)
	p.mu.Unlock()

	p.stats.Inc(stats.SuccessfulConnections)
	p.stats.Inc(stats.Connections)
	p.log.Info("connected",
		zap.String("addr", p.cfg.Addr()),
		zap.String("protocol", p.cfg.Protocol),
		zap.String("variant", string(p.cfg.Variant)))
	go p.receive(conn)
	return nil
}

// reconnect redials with delays of BaseDelay doubled on every attempt.
// Callers hold sendMu.
func (p *Peer) reconnect() error {
	p.mu.Lock()
	stop := p.stop
	p.mu.Unlock()

	for attempt := 0; attempt < p.cfg.MaxAttempts; attempt++ {
		delay := p.cfg.BaseDelay << attempt
		p.log.Info("reconnect attempt", zap.Int("attempt", attempt+1), zap.Duration("delay", delay))
		select {
		case <-time.After(delay):
		case <-stop:
			return ErrNotConnected
		}
		if err := p.connect(); err == nil {
			p.stats.Inc(stats.Reconnects)
			return nil
		}
	}

	p.mu.Lock()
	p.err = ErrReconnectExhausted
	p.mu.Unlock()
	p.log.Error("giving up", zap.Int("attempts", p.cfg.MaxAttempts))
	return ErrReconnectExhausted
}

func (p *Peer) receive(conn net.Conn) {
	defer p.wg.Done()

	buf := make([]byte, 65535)
	for {
		var (
			f   *protocol.Frame
			err error
		)
		if p.cfg.Protocol == "udp" {
			var n int
			n, err = conn.Read(buf)
			if err == nil {
				f, err = p.codec.Decode(buf[:n])
				if err != nil {
					p.stats.Inc(stats.InvalidFrames)
					continue
				}
			} else if !errors.Is(err, net.ErrClosed) {
				// connection refused from an earlier datagram; keep listening
				p.log.Debug("udp read failed", zap.Error(err))
				select {
				case <-time.After(50 * time.Millisecond):
					continue
				case <-p.stopCh():
					return
				}
			}
		} else {
			f, err = protocol.ReadFrame(conn, p.codec)
			if protocol.IsRecoverable(err) {
				p.stats.Inc(stats.InvalidFrames)
				continue
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && !errors.Is(err, os.ErrDeadlineExceeded) {
				p.log.Warn("connection lost", zap.Error(err))
			}
			break
		}

		p.stats.Received(len(f.Payload))
		p.mu.Lock()
		if !p.sentAt.IsZero() {
			p.stats.RecordLatency(time.Since(p.sentAt))
			p.sentAt = time.Time{}
		}
		p.mu.Unlock()
	}

	conn.Close()
	p.mu.Lock()
	if p.conn == conn {
		p.conn = nil
		p.lost = true
	}
	p.mu.Unlock()
}

func (p *Peer) stopCh() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stop
}

func (p *Peer) heartbeat(stop <-chan struct{}) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		// a lost link is redialed through SendData; a never-connected peer waits
		p.mu.Lock()
		idle := p.conn == nil && !p.lost
		p.mu.Unlock()
		if idle {
			continue
		}
		if err := p.SendData(heartbeatPayload, protocol.TypeHeartbeat); errors.Is(err, ErrReconnectExhausted) {
			return
		}
	}
}

// SendData sends payload as one frame of type t, connecting first if needed.
// A write failure on TCP, or a send after the link was lost, goes through
// the backoff reconnect.
func (p *Peer) SendData(payload []byte, t protocol.FrameType) error {
	if err := p.Err(); err != nil {
		return err
	}

	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	p.mu.Lock()
	conn, lost, started := p.conn, p.lost, p.started
	p.mu.Unlock()
	if !started {
		return ErrNotConnected
	}

	if conn == nil {
		var err error
		if lost && p.cfg.Protocol == "tcp" {
			err = p.reconnect()
		} else {
			err = p.connect()
		}
		if err != nil {
			return err
		}
		p.mu.Lock()
		conn = p.conn
		p.mu.Unlock()
		if conn == nil {
			return ErrNotConnected
		}
	}

	err := p.write(conn, t, payload)
	if err == nil || protocol.IsProtocolError(err) || p.cfg.Protocol != "tcp" {
		return err
	}

	conn.Close()
	p.mu.Lock()
	if p.conn == conn {
		p.conn = nil
	}
	p.mu.Unlock()
	if err := p.reconnect(); err != nil {
		return err
	}
	p.mu.Lock()
	conn = p.conn
	p.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return p.write(conn, t, payload)
}

func (p *Peer) write(conn net.Conn, t protocol.FrameType, payload []byte) error {
	h := protocol.Header{Type: t, Sequence: p.seq}
	p.seq++
	p.mu.Lock()
	p.sentAt = time.Now()
	p.mu.Unlock()
	if _, err := protocol.WriteFrame(conn, p.codec, h, payload); err != nil {
		p.stats.Inc(stats.Errors)
		p.log.Warn("send failed", zap.Stringer("type", t), zap.Error(err))
		return fmt.Errorf("peer %s: send: %w", p.name, err)
	}
	p.stats.Sent(len(payload))
	return nil
}

// SendText sends text as a DATA frame.
func (p *Peer) SendText(text string) error {
	return p.SendData([]byte(text), protocol.TypeData)
}

// SendFrame implements Sender.
func (p *Peer) SendFrame(t protocol.FrameType, payload []byte) error {
	return p.SendData(payload, t)
}

// SendFile reads path and sends it as one frame of type t.
func (p *Peer) SendFile(path string, t protocol.FrameType) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("peer %s: read %s: %w", p.name, path, err)
	}
	if err := p.SendData(data, t); err != nil {
		return err
	}
	p.log.Info("file sent", zap.String("path", path), zap.Int("bytes", len(data)))
	return nil
}

// Stop closes the link and ends the heartbeat loop.
func (p *Peer) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	close(p.stop)
	conn := p.conn
	p.conn = nil
	p.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	p.wg.Wait()
	p.log.Info("peer stopped")
}
