package protocol

import (
	"encoding/binary"
	"hash/crc32"
	"time"
)

const (
	TCPMagic uint32 = 0xCAFEBABE
	UDPMagic uint32 = 0xDEADBEEF

	TCPHeaderSize = 20
	UDPHeaderSize = 16
)

// Variant A offsets shared by both flavours.
const (
	offType   = 4
	offLength = 5
	offCRC    = 7
)

var zeroCRC [4]byte

// crcZeroed computes the IEEE CRC32 of b as if the four bytes at offCRC were zero.
func crcZeroed(b []byte) uint32 {
	c := crc32.Update(0, crc32.IEEETable, b[:offCRC])
	c = crc32.Update(c, crc32.IEEETable, zeroCRC[:])
	return crc32.Update(c, crc32.IEEETable, b[offCRC+4:])
}

func putCommon(buf []byte, magic uint32, t FrameType, payload []byte) {
	binary.BigEndian.PutUint32(buf[0:4], magic)
	buf[offType] = byte(t)
	binary.BigEndian.PutUint16(buf[offLength:offLength+2], uint16(len(payload)))
}

func sealCRC(buf []byte) uint32 {
	crc := crc32.ChecksumIEEE(buf)
	binary.BigEndian.PutUint32(buf[offCRC:offCRC+4], crc)
	return crc
}

// checkCommon validates magic, length and CRC of a Variant A frame.
func checkCommon(b []byte, magic uint32, headerSize int) (Header, error) {
	var h Header
	if len(b) < headerSize {
		return h, ErrShortFrame
	}
	h.Magic = binary.BigEndian.Uint32(b[0:4])
	if h.Magic != magic {
		return h, ErrBadMagic
	}
	h.Type = FrameType(b[offType])
	h.Length = binary.BigEndian.Uint16(b[offLength : offLength+2])
	if len(b)-headerSize != int(h.Length) {
		return h, ErrLengthMismatch
	}
	h.Checksum = binary.BigEndian.Uint32(b[offCRC : offCRC+4])
	if crcZeroed(b) != h.Checksum {
		return h, ErrChecksum
	}
	return h, nil
}

func prefixLength(header []byte, magic uint32, headerSize int) (int, error) {
	if len(header) < headerSize {
		return 0, ErrShortFrame
	}
	if binary.BigEndian.Uint32(header[0:4]) != magic {
		return 0, ErrBadMagic
	}
	return int(binary.BigEndian.Uint16(header[offLength : offLength+2])), nil
}

// TCPCodec is the 20-byte Variant A stream format:
//
//	magic:u32 type:u8 length:u16 crc32:u32 timestamp:u32 sequence:u32 reserved:u8
type TCPCodec struct{}

func (TCPCodec) Variant() Variant { return VariantA }
func (TCPCodec) HeaderSize() int  { return TCPHeaderSize }
func (TCPCodec) TrailerSize() int { return 0 }

func (TCPCodec) Encode(h Header, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, ErrPayloadTooLarge
	}
	ts := h.Timestamp
	if ts == 0 {
		ts = uint64(time.Now().UnixMilli())
	}
	buf := make([]byte, TCPHeaderSize+len(payload))
	putCommon(buf, TCPMagic, h.Type, payload)
	binary.BigEndian.PutUint32(buf[11:15], uint32(ts))
	binary.BigEndian.PutUint32(buf[15:19], h.Sequence)
	copy(buf[TCPHeaderSize:], payload)
	sealCRC(buf)
	return buf, nil
}

func (TCPCodec) Decode(b []byte) (*Frame, error) {
	h, err := checkCommon(b, TCPMagic, TCPHeaderSize)
	if err != nil {
		return nil, err
	}
	h.Timestamp = uint64(binary.BigEndian.Uint32(b[11:15]))
	h.Sequence = binary.BigEndian.Uint32(b[15:19])
	return &Frame{Header: h, Payload: b[TCPHeaderSize:]}, nil
}

func (TCPCodec) PayloadLength(header []byte) (int, error) {
	return prefixLength(header, TCPMagic, TCPHeaderSize)
}

// UDPCodec is the 16-byte Variant A datagram format:
//
//	magic:u32 type:u8 length:u16 crc32:u32 packet_id:u16 total_packets:u16 timestamp:u8
type UDPCodec struct{}

func (UDPCodec) Variant() Variant { return VariantA }
func (UDPCodec) HeaderSize() int  { return UDPHeaderSize }
func (UDPCodec) TrailerSize() int { return 0 }

func (UDPCodec) Encode(h Header, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, ErrPayloadTooLarge
	}
	ts := h.Timestamp
	if ts == 0 {
		ts = uint64(time.Now().UnixMilli() / 10)
	}
	total := h.TotalPackets
	if total == 0 {
		total = 1
	}
	buf := make([]byte, UDPHeaderSize+len(payload))
	putCommon(buf, UDPMagic, h.Type, payload)
	binary.BigEndian.PutUint16(buf[11:13], h.PacketID)
	binary.BigEndian.PutUint16(buf[13:15], total)
	buf[15] = uint8(ts)
	copy(buf[UDPHeaderSize:], payload)
	sealCRC(buf)
	return buf, nil
}

func (UDPCodec) Decode(b []byte) (*Frame, error) {
	h, err := checkCommon(b, UDPMagic, UDPHeaderSize)
	if err != nil {
		return nil, err
	}
	h.PacketID = binary.BigEndian.Uint16(b[11:13])
	h.TotalPackets = binary.BigEndian.Uint16(b[13:15])
	h.Timestamp = uint64(b[15])
	return &Frame{Header: h, Payload: b[UDPHeaderSize:]}, nil
}

func (UDPCodec) PayloadLength(header []byte) (int, error) {
	return prefixLength(header, UDPMagic, UDPHeaderSize)
}
