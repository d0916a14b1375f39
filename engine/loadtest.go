package engine

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/samaelod/wirebench/protocol"
	"github.com/samaelod/wirebench/stats"
	"github.com/samaelod/wirebench/types"
)

// LoadTester drives NumThreads workers against a TCP server, each running
// PacketsPerThread short connections in the configured mode.
type LoadTester struct {
	name  string
	cfg   types.LoadTestConfig
	codec protocol.Codec
	log   *zap.Logger
	stats *stats.Aggregator

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

func NewLoadTester(name string, cfg types.LoadTestConfig, log *zap.Logger) *LoadTester {
	cfg = cfg.WithDefaults()
	return &LoadTester{
		name:  name,
		cfg:   cfg,
		codec: protocol.StreamCodec(cfg.Variant),
		log:   orNop(log).With(zap.String("engine", name)),
		stats: stats.New(stats.SuccessfulConnections),
	}
}

func (l *LoadTester) Name() string          { return l.name }
func (l *LoadTester) Kind() string          { return types.KindLoadTest }
func (l *LoadTester) Stats() stats.Snapshot { return l.stats.Snapshot() }

func (l *LoadTester) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Err reports why the last run ended early: context.Canceled after Stop,
// nil when every worker finished its iterations.
func (l *LoadTester) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Start resets the statistics and launches the workers. It returns at once;
// use Wait to block until they finish.
func (l *LoadTester) Start() error {
	if _, err := types.ParseLoadMode(string(l.cfg.Mode)); err != nil {
		return fmt.Errorf("load test %s: %w", l.name, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return ErrAlreadyRunning
	}

	l.stats.Reset()
	ctx, cancel := context.WithCancel(context.Background())
	l.running = true
	l.err = nil
	l.cancel = cancel
	l.done = make(chan struct{})

	l.log.Info("load test started",
		zap.String("target", l.cfg.Addr()),
		zap.String("mode", string(l.cfg.Mode)),
		zap.Int("threads", l.cfg.NumThreads),
		zap.Int("packets_per_thread", l.cfg.PacketsPerThread))

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < l.cfg.NumThreads; w++ {
		id := w
		g.Go(func() error { return l.worker(gctx, id) })
	}

	done := l.done
	go func() {
		err := g.Wait()
		cancel()
		l.mu.Lock()
		l.running = false
		l.err = err
		l.mu.Unlock()
		s := l.stats.Snapshot()
		l.log.Info("load test finished",
			zap.Bool("stopped", err != nil),
			zap.Int64("packets_sent", s.Int(stats.PacketsSent)),
			zap.Int64("errors", s.Int(stats.Errors)),
			zap.Float64("avg_ms", s.Get(stats.AvgResponseTime)))
		close(done)
	}()
	return nil
}

// Wait blocks until every worker has returned.
func (l *LoadTester) Wait() {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Stop asks the workers to finish; an in-flight iteration completes or times
// out. It waits for them to exit.
func (l *LoadTester) Stop() {
	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	l.Wait()
}

// worker runs its iterations and returns ctx.Err() when stopped before the
// last one. Failed iterations are counted, never returned.
func (l *LoadTester) worker(ctx context.Context, id int) error {
	payload := bytes.Repeat([]byte{'X'}, l.cfg.PacketSize)
	for i := 0; i < l.cfg.PacketsPerThread; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		var err error
		switch l.cfg.Mode {
		case types.ModeFlood:
			err = l.flood(ctx, payload)
		case types.ModeSlowloris:
			err = l.slowloris(ctx, payload)
		default:
			err = l.normal(ctx, payload)
		}
		if err != nil {
			l.stats.Inc(stats.Errors)
			l.log.Debug("iteration failed", zap.Int("worker", id), zap.Int("iteration", i), zap.Error(err))
		}

		if l.cfg.PacketDelay > 0 {
			select {
			case <-time.After(l.cfg.PacketDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

func (l *LoadTester) dial(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: l.cfg.ConnectTimeout}
	conn, err := d.DialContext(ctx, "tcp", l.cfg.Addr())
	if err != nil {
		return nil, err
	}
	l.stats.Inc(stats.SuccessfulConnections)
	l.stats.Inc(stats.Connections)
	return conn, nil
}

func (l *LoadTester) normal(ctx context.Context, payload []byte) error {
	conn, err := l.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	start := time.Now()
	if _, err := protocol.WriteFrame(conn, l.codec, protocol.Header{Type: protocol.TypeData}, payload); err != nil {
		return err
	}
	l.stats.Sent(len(payload))

	conn.SetReadDeadline(time.Now().Add(l.cfg.ResponseTimeout))
	f, err := protocol.ReadFrame(conn, l.codec)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	l.stats.RecordLatency(time.Since(start))
	l.stats.Received(len(f.Payload))
	return nil
}

func (l *LoadTester) flood(ctx context.Context, payload []byte) error {
	conn, err := l.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := protocol.WriteFrame(conn, l.codec, protocol.Header{Type: protocol.TypeData}, payload); err != nil {
		return err
	}
	l.stats.Sent(len(payload))
	return nil
}

// slowloris sends the header at once and then dribbles the rest of the frame
// in SlowChunks pieces.
func (l *LoadTester) slowloris(ctx context.Context, payload []byte) error {
	frame, err := l.codec.Encode(protocol.Header{Type: protocol.TypeData}, payload)
	if err != nil {
		return err
	}
	conn, err := l.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	hs := l.codec.HeaderSize()
	if _, err := conn.Write(frame[:hs]); err != nil {
		return err
	}
	size := (len(frame) - hs + l.cfg.SlowChunks - 1) / l.cfg.SlowChunks
	for _, piece := range protocol.Chunk(frame[hs:], size) {
		select {
		case <-time.After(l.cfg.SlowInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
		if _, err := conn.Write(piece); err != nil {
			return err
		}
	}
	l.stats.Sent(len(payload))
	return nil
}
