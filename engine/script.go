package engine

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/samaelod/wirebench/protocol"
	"github.com/samaelod/wirebench/types"
)

// Script message kinds.
const (
	MsgText      = "text"
	MsgHex       = "hex"
	MsgFile      = "file"
	MsgHeartbeat = "heartbeat"
)

// Sender is implemented by every client engine a script can drive.
type Sender interface {
	SendFrame(t protocol.FrameType, payload []byte) error
}

// messageFrame turns a script message into the frame it sends.
func messageFrame(m types.Message) (protocol.FrameType, []byte, error) {
	t, payload, err := messagePayload(m)
	if err != nil || m.FrameType == "" {
		return t, payload, err
	}
	if t, err = protocol.ParseFrameType(m.FrameType); err != nil {
		return 0, nil, err
	}
	return t, payload, nil
}

func messagePayload(m types.Message) (protocol.FrameType, []byte, error) {
	switch strings.ToLower(m.Kind) {
	case MsgText, "":
		return protocol.TypeData, []byte(m.Value), nil
	case MsgHex:
		data, err := hex.DecodeString(strings.ReplaceAll(m.Value, " ", ""))
		if err != nil {
			return 0, nil, fmt.Errorf("invalid hex payload: %w", err)
		}
		return protocol.TypeData, data, nil
	case MsgFile:
		data, err := os.ReadFile(m.Value)
		if err != nil {
			return 0, nil, fmt.Errorf("read file payload: %w", err)
		}
		return protocol.TypeFile, data, nil
	case MsgHeartbeat:
		return protocol.TypeHeartbeat, heartbeatPayload, nil
	default:
		return 0, nil, fmt.Errorf("unknown message kind %q", m.Kind)
	}
}

// Replay sends msgs through s in order. Each message waits its TDelta, or
// delay when TDelta is zero. A failed message is logged and counted, and
// replay moves on; the number of failures is returned with the last error.
func Replay(ctx context.Context, s Sender, msgs []types.Message, delay time.Duration, log *zap.Logger) (int, error) {
	log = orNop(log)
	start := time.Now()
	failed := 0
	var lastErr error

	for i, msg := range msgs {
		wait := time.Duration(msg.TDelta) * time.Millisecond
		if msg.TDelta == 0 {
			wait = delay
		}
		if wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return failed, ctx.Err()
			}
		} else if ctx.Err() != nil {
			return failed, ctx.Err()
		}

		elapsed := time.Since(start).Milliseconds()
		t, payload, err := messageFrame(msg)
		if err == nil {
			err = s.SendFrame(t, payload)
		}
		if err != nil {
			failed++
			lastErr = fmt.Errorf("message %d: %w", i, err)
			log.Warn("script message failed", zap.Int64("at_ms", elapsed), zap.Int("index", i), zap.Error(err))
			continue
		}
		log.Debug("script message sent",
			zap.Int64("at_ms", elapsed),
			zap.Int("index", i),
			zap.Stringer("type", t),
			zap.Int("bytes", len(payload)))
	}
	return failed, lastErr
}
