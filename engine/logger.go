package engine

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	defaultLogLines      = 1000
	defaultBatchSize     = 10
	defaultFlushInterval = 100 * time.Millisecond
)

// Logger keeps the most recent log lines in a ring for the dashboard and
// mirrors them to an optional file in small batches. It is the sink behind
// the zap logger every engine writes to.
type Logger struct {
	mu       sync.Mutex
	lines    []string
	capacity int
	head     int
	count    int

	filePath string
	file     *os.File
	ch       chan string
	fileCh   chan string
	done     chan struct{}
	closed   bool
}

func NewLogger(filePath string, capacity int) *Logger {
	if capacity <= 0 {
		capacity = defaultLogLines
	}

	l := &Logger{
		lines:    make([]string, capacity),
		capacity: capacity,
		filePath: filePath,
		ch:       make(chan string, 100),
		fileCh:   make(chan string, 256),
		done:     make(chan struct{}),
	}

	if err := l.openFile(); err != nil || l.file == nil {
		close(l.done)
		return l
	}

	go l.writer()

	return l
}

func (l *Logger) openFile() error {
	if l.filePath == "" {
		return nil
	}

	if dir := filepath.Dir(l.filePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	f, err := os.OpenFile(l.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

// Append stores one line.
func (l *Logger) Append(msg string) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}

	l.lines[l.head] = msg
	l.head = (l.head + 1) % l.capacity
	if l.count < l.capacity {
		l.count++
	}

	select {
	case l.ch <- msg:
	default:
	}
	if l.file != nil {
		select {
		case l.fileCh <- msg:
		default:
		}
	}
}

// Write implements io.Writer for zap. Each newline-terminated line becomes
// one ring entry.
func (l *Logger) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line != "" {
			l.Append(line)
		}
	}
	return len(p), nil
}

// Sync is a no-op; file writes are flushed by the batch writer.
func (l *Logger) Sync() error { return nil }

func (l *Logger) ReadAll() string {
	if l == nil {
		return ""
	}
	return strings.Join(l.Lines(), "\n")
}

// Lines returns the buffered lines oldest first.
func (l *Logger) Lines() []string {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	start := 0
	if l.count >= l.capacity {
		start = l.head
	}

	out := make([]string, 0, l.count)
	for i := 0; i < l.count; i++ {
		idx := (start + i) % l.capacity
		if l.lines[idx] != "" {
			out = append(out, l.lines[idx])
		}
	}
	return out
}

// Chan delivers new lines to a live viewer. Lines are dropped when nobody reads.
func (l *Logger) Chan() <-chan string {
	if l == nil {
		return nil
	}
	return l.ch
}

func (l *Logger) writer() {
	defer close(l.done)

	batch := make([]string, 0, defaultBatchSize)
	ticker := time.NewTicker(defaultFlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		var sb strings.Builder
		for _, msg := range batch {
			sb.WriteString(msg)
			sb.WriteByte('\n')
		}
		l.file.WriteString(sb.String())
		batch = batch[:0]
	}

	for {
		select {
		case msg, ok := <-l.fileCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, msg)
			if len(batch) >= defaultBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Close flushes pending file writes and stops accepting lines.
func (l *Logger) Close() {
	if l == nil {
		return
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	close(l.ch)
	close(l.fileCh)
	l.mu.Unlock()

	<-l.done
	if l.file != nil {
		l.file.Close()
	}
}

// NewZapLogger builds a console-encoded zap logger writing into ring and
// any extra sinks. level is a zap level name; unknown names fall back to info.
func NewZapLogger(ring *Logger, level string, also ...zapcore.WriteSyncer) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	enc.CallerKey = ""

	sinks := append([]zapcore.WriteSyncer{zapcore.AddSync(ring)}, also...)
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.NewMultiWriteSyncer(sinks...), lvl)
	return zap.New(core)
}

func orNop(log *zap.Logger) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}
