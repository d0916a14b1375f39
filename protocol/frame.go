// Package protocol implements the wirebench framing protocol.
//
// Two incompatible wire formats are supported and kept apart on purpose:
//
//   - Variant A prefixes every frame with a magic number and carries a CRC32 of the
//     whole frame (computed with its own field zeroed) inside the header. It has a
//     20-byte stream flavour (TCPCodec) and a 16-byte datagram flavour (UDPCodec).
//   - Variant B starts with a version byte and appends a 16-byte truncated BLAKE2b
//     digest after the payload (DigestCodec).
//
// Codecs are pure: they never touch the network and never panic on bad input.
package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// MaxPayload is the largest payload the 16-bit length field can describe.
const MaxPayload = 0xFFFF

var (
	ErrShortFrame      = errors.New("protocol: frame shorter than header")
	ErrBadMagic        = errors.New("protocol: magic number mismatch")
	ErrBadVersion      = errors.New("protocol: unsupported version")
	ErrLengthMismatch  = errors.New("protocol: payload length mismatch")
	ErrChecksum        = errors.New("protocol: integrity check failed")
	ErrPayloadTooLarge = errors.New("protocol: payload exceeds 65535 bytes")
)

// FrameType identifies what a frame's payload carries.
type FrameType uint8

const (
	TypeData      FrameType = 0x01
	TypeAudio     FrameType = 0x02
	TypeControl   FrameType = 0x03
	TypeHeartbeat FrameType = 0x04
	TypeAck       FrameType = 0x05
	TypeFile      FrameType = 0x06
)

var frameTypeNames = map[FrameType]string{
	TypeData:      "data",
	TypeAudio:     "audio",
	TypeControl:   "control",
	TypeHeartbeat: "heartbeat",
	TypeAck:       "ack",
	TypeFile:      "file",
}

func (t FrameType) String() string {
	if name, ok := frameTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(0x%02x)", uint8(t))
}

// ParseFrameType accepts the names returned by FrameType.String.
func ParseFrameType(s string) (FrameType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, name := range frameTypeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown frame type %q", s)
}

// Variant names one of the two wire formats.
type Variant string

const (
	VariantA Variant = "a"
	VariantB Variant = "b"
)

// ParseVariant maps a config value to a Variant. Empty selects Variant A.
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "a":
		return VariantA, nil
	case "b":
		return VariantB, nil
	default:
		return "", fmt.Errorf("unknown protocol variant %q", s)
	}
}

// Header holds the decoded header fields of either variant. Fields that a
// variant does not carry are left zero.
type Header struct {
	Magic        uint32
	Version      uint8
	Type         FrameType
	Length       uint16
	Checksum     uint32
	Digest       [DigestSize]byte
	Timestamp    uint64
	Sequence     uint32
	PacketID     uint16
	TotalPackets uint16
}

// Frame is one decoded unit of the protocol.
type Frame struct {
	Header  Header
	Payload []byte
}

// Codec serializes and parses frames of a single variant.
type Codec interface {
	Variant() Variant
	// HeaderSize is the fixed number of bytes preceding the payload.
	HeaderSize() int
	// TrailerSize is the number of bytes following the payload.
	TrailerSize() int
	// Encode builds a frame. Length, timestamp (when zero) and the integrity
	// field are filled in by the codec.
	Encode(h Header, payload []byte) ([]byte, error)
	// Decode parses exactly one complete frame.
	Decode(b []byte) (*Frame, error)
	// PayloadLength validates a header prefix and returns how many bytes
	// follow it (payload plus trailer).
	PayloadLength(header []byte) (int, error)
}

// StreamCodec returns the codec used on TCP connections for v.
func StreamCodec(v Variant) Codec {
	if v == VariantB {
		return DigestCodec{}
	}
	return TCPCodec{}
}

// DatagramCodec returns the codec used on UDP sockets for v.
func DatagramCodec(v Variant) Codec {
	if v == VariantB {
		return DigestCodec{}
	}
	return UDPCodec{}
}

// IsRecoverable reports whether a stream that produced err is still aligned on
// a frame boundary. Integrity failures are; framing failures are not.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrChecksum)
}

// IsFatal reports whether err leaves a stream desynchronised, so the
// connection that produced it must be dropped.
func IsFatal(err error) bool {
	return err != nil && !IsRecoverable(err)
}

// IsProtocolError reports whether err was produced by frame validation rather
// than by the transport.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrShortFrame) ||
		errors.Is(err, ErrBadMagic) ||
		errors.Is(err, ErrBadVersion) ||
		errors.Is(err, ErrLengthMismatch) ||
		errors.Is(err, ErrChecksum) ||
		errors.Is(err, ErrPayloadTooLarge)
}

// Chunk splits payload into ordered pieces of at most size bytes. An empty
// payload yields a single empty chunk so that it still produces one frame.
func Chunk(payload []byte, size int) [][]byte {
	if size <= 0 {
		size = MaxPayload
	}
	if len(payload) == 0 {
		return [][]byte{{}}
	}
	chunks := make([][]byte, 0, (len(payload)+size-1)/size)
	for off := 0; off < len(payload); off += size {
		end := off + size
		if end > len(payload) {
			end = len(payload)
		}
		chunks = append(chunks, payload[off:end])
	}
	return chunks
}
