package protocol

import (
	"bytes"
	"encoding/binary"
	"time"

	"golang.org/x/crypto/blake2b"
)

const (
	DigestVersion uint8 = 1

	DigestHeaderSize = 16
	DigestSize       = 16
)

// DigestCodec is the Variant B format:
//
//	version:u8 type:u8 length:u16 sequence:u32 timestamp:u64 | payload | digest[16]
//
// The digest is BLAKE2b-256 over header and payload, truncated to 16 bytes.
type DigestCodec struct{}

func (DigestCodec) Variant() Variant { return VariantB }
func (DigestCodec) HeaderSize() int  { return DigestHeaderSize }
func (DigestCodec) TrailerSize() int { return DigestSize }

func digest(b []byte) [DigestSize]byte {
	sum := blake2b.Sum256(b)
	var d [DigestSize]byte
	copy(d[:], sum[:DigestSize])
	return d
}

func (DigestCodec) Encode(h Header, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, ErrPayloadTooLarge
	}
	ts := h.Timestamp
	if ts == 0 {
		ts = uint64(time.Now().UnixMilli())
	}
	body := DigestHeaderSize + len(payload)
	buf := make([]byte, body+DigestSize)
	buf[0] = DigestVersion
	buf[1] = byte(h.Type)
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(payload)))
	binary.BigEndian.PutUint32(buf[4:8], h.Sequence)
	binary.BigEndian.PutUint64(buf[8:16], ts)
	copy(buf[DigestHeaderSize:], payload)
	d := digest(buf[:body])
	copy(buf[body:], d[:])
	return buf, nil
}

func (DigestCodec) Decode(b []byte) (*Frame, error) {
	if len(b) < DigestHeaderSize+DigestSize {
		return nil, ErrShortFrame
	}
	var h Header
	h.Version = b[0]
	if h.Version != DigestVersion {
		return nil, ErrBadVersion
	}
	h.Type = FrameType(b[1])
	h.Length = binary.BigEndian.Uint16(b[2:4])
	if len(b)-DigestHeaderSize-DigestSize != int(h.Length) {
		return nil, ErrLengthMismatch
	}
	h.Sequence = binary.BigEndian.Uint32(b[4:8])
	h.Timestamp = binary.BigEndian.Uint64(b[8:16])
	body := DigestHeaderSize + int(h.Length)
	want := digest(b[:body])
	if !bytes.Equal(want[:], b[body:]) {
		return nil, ErrChecksum
	}
	h.Digest = want
	return &Frame{Header: h, Payload: b[DigestHeaderSize:body]}, nil
}

func (DigestCodec) PayloadLength(header []byte) (int, error) {
	if len(header) < DigestHeaderSize {
		return 0, ErrShortFrame
	}
	if header[0] != DigestVersion {
		return 0, ErrBadVersion
	}
	return int(binary.BigEndian.Uint16(header[2:4])) + DigestSize, nil
}
