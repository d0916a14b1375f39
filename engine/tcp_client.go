package engine

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/samaelod/wirebench/protocol"
	"github.com/samaelod/wirebench/stats"
	"github.com/samaelod/wirebench/types"
)

const responseBuffer = 64

// TCPClient holds one framed connection to a server. With AutoReconnect it
// redials on a fixed interval whenever the connection drops.
type TCPClient struct {
	name  string
	cfg   types.TCPClientConfig
	codec protocol.Codec
	log   *zap.Logger
	stats *stats.Aggregator

	mu        sync.Mutex
	conn      net.Conn
	started   bool
	stopped   bool
	timer     *time.Timer
	sentAt    time.Time
	wg        sync.WaitGroup
	responses chan *protocol.Frame

	wmu sync.Mutex
	seq uint32
}

func NewTCPClient(name string, cfg types.TCPClientConfig, log *zap.Logger) *TCPClient {
	cfg = cfg.WithDefaults()
	return &TCPClient{
		name:      name,
		cfg:       cfg,
		codec:     protocol.StreamCodec(cfg.Variant),
		log:       orNop(log).With(zap.String("engine", name)),
		stats:     stats.New(stats.ConnectionAttempts, stats.SuccessfulConnections, stats.Reconnects, stats.InvalidFrames),
		responses: make(chan *protocol.Frame, responseBuffer),
	}
}

func (c *TCPClient) Name() string          { return c.name }
func (c *TCPClient) Kind() string          { return types.KindTCPClient }
func (c *TCPClient) Stats() stats.Snapshot { return c.stats.Snapshot() }

// Running reports whether the client was started and not stopped, connected
// or waiting to reconnect.
func (c *TCPClient) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started && !c.stopped
}

// Connected reports whether a connection is currently open.
func (c *TCPClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Responses delivers frames read from the server. Frames are dropped when
// the channel is full.
func (c *TCPClient) Responses() <-chan *protocol.Frame { return c.responses }

// Start is Connect.
func (c *TCPClient) Start() error { return c.Connect() }

// Connect dials the server and starts the receive loop. When the dial fails
// and AutoReconnect is set, retries continue in the background.
func (c *TCPClient) Connect() error {
	c.mu.Lock()
	if c.started && !c.stopped {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.started = true
	c.stopped = false
	c.mu.Unlock()

	if err := c.dial(); err != nil {
		if c.cfg.AutoReconnect {
			c.scheduleReconnect()
		} else {
			c.mu.Lock()
			c.started = false
			c.mu.Unlock()
		}
		return err
	}
	return nil
}

func (c *TCPClient) dial() error {
	c.stats.Inc(stats.ConnectionAttempts)
	conn, err := net.DialTimeout("tcp", c.cfg.Addr(), c.cfg.ConnectTimeout)
	if err != nil {
		c.stats.Inc(stats.Errors)
		c.log.Warn("connect failed", zap.String("addr", c.cfg.Addr()), zap.Error(err))
		return fmt.Errorf("tcp client %s: connect %s: %w", c.name, c.cfg.Addr(), err)
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		conn.Close()
		return ErrNotConnected
	}
	c.conn = conn
	c.wg.Add(1)
	c.mu.Unlock()

	c.stats.Inc(stats.SuccessfulConnections)
	c.stats.Inc(stats.Connections)
	c.log.Info("connected", zap.String("addr", c.cfg.Addr()), zap.String("variant", string(c.cfg.Variant)))
	go c.receive(conn)
	return nil
}

func (c *TCPClient) receive(conn net.Conn) {
	defer c.wg.Done()
	for {
		f, err := protocol.ReadFrame(conn, c.codec)
		if err != nil {
			if protocol.IsRecoverable(err) {
				c.stats.Inc(stats.InvalidFrames)
				c.log.Warn("invalid frame", zap.Error(err))
				continue
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.stats.Inc(stats.Errors)
				c.log.Warn("connection lost", zap.Error(err))
			}
			break
		}

		c.stats.Received(len(f.Payload))
		c.mu.Lock()
		if !c.sentAt.IsZero() {
			c.stats.RecordLatency(time.Since(c.sentAt))
			c.sentAt = time.Time{}
		}
		c.mu.Unlock()

		select {
		case c.responses <- f:
		default:
		}
	}

	conn.Close()
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	stopped := c.stopped
	c.mu.Unlock()

	c.log.Info("disconnected", zap.String("addr", c.cfg.Addr()))
	if !stopped && c.cfg.AutoReconnect {
		c.scheduleReconnect()
	}
}

func (c *TCPClient) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || c.timer != nil {
		return
	}
	c.log.Info("reconnecting", zap.Duration("in", c.cfg.ReconnectInterval))
	c.timer = time.AfterFunc(c.cfg.ReconnectInterval, func() {
		c.mu.Lock()
		c.timer = nil
		stopped := c.stopped
		c.mu.Unlock()
		if stopped {
			return
		}
		if err := c.dial(); err != nil {
			c.scheduleReconnect()
			return
		}
		c.stats.Inc(stats.Reconnects)
	})
}

// SendMessage sends text as one DATA frame.
func (c *TCPClient) SendMessage(text string) error {
	return c.SendFrame(protocol.TypeData, []byte(text))
}

// SendBinary sends data as one DATA frame.
func (c *TCPClient) SendBinary(data []byte) error {
	return c.SendFrame(protocol.TypeData, data)
}

// SendFrame writes one frame. It never dials: a disconnected client returns
// ErrNotConnected.
func (c *TCPClient) SendFrame(t protocol.FrameType, payload []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()

	c.seq++
	h := protocol.Header{Type: t, Sequence: c.seq}
	c.mu.Lock()
	c.sentAt = time.Now()
	c.mu.Unlock()
	if _, err := protocol.WriteFrame(conn, c.codec, h, payload); err != nil {
		c.stats.Inc(stats.Errors)
		if protocol.IsProtocolError(err) {
			return err
		}
		conn.Close()
		return fmt.Errorf("tcp client %s: send: %w", c.name, err)
	}
	c.stats.Sent(len(payload))
	return nil
}

// Disconnect is Stop.
func (c *TCPClient) Disconnect() { c.Stop() }

// Stop closes the connection and cancels any pending reconnect. Safe to
// repeat.
func (c *TCPClient) Stop() {
	c.mu.Lock()
	if c.stopped || !c.started {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.wg.Wait()
	c.log.Info("tcp client stopped")
}
