package protocol_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"math/rand"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/samaelod/wirebench/protocol"
)

var codecs = []struct {
	name  string
	codec protocol.Codec
	// integrity field location: [start, end) relative to frame start, or
	// relative to the frame end when fromEnd is set
	intStart, intEnd int
	fromEnd          bool
}{
	{"variant_a_tcp", protocol.TCPCodec{}, 7, 11, false},
	{"variant_a_udp", protocol.UDPCodec{}, 7, 11, false},
	{"variant_b", protocol.DigestCodec{}, protocol.DigestSize, 0, true},
}

func payloadOf(n int, seed int64) []byte {
	p := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(p)
	return p
}

func TestRoundTrip(t *testing.T) {
	sizes := []int{0, 1, 5, 1024, 65000, protocol.MaxPayload}
	types := []protocol.FrameType{protocol.TypeData, protocol.TypeAudio, protocol.TypeControl, protocol.TypeHeartbeat, protocol.TypeFile}

	for _, tc := range codecs {
		t.Run(tc.name, func(t *testing.T) {
			for _, size := range sizes {
				for i, ft := range types {
					payload := payloadOf(size, int64(size+i))
					h := protocol.Header{Type: ft, Sequence: uint32(size * 7), PacketID: uint16(i), TotalPackets: 9}

					b, err := tc.codec.Encode(h, payload)
					require.NoError(t, err)
					assert.Len(t, b, tc.codec.HeaderSize()+size+tc.codec.TrailerSize())

					f, err := tc.codec.Decode(b)
					require.NoError(t, err, "size=%d type=%s", size, ft)
					assert.Equal(t, ft, f.Header.Type)
					assert.Equal(t, uint16(size), f.Header.Length)
					assert.True(t, bytes.Equal(payload, f.Payload))

					switch tc.codec.(type) {
					case protocol.UDPCodec:
						assert.Equal(t, uint16(i), f.Header.PacketID)
						assert.Equal(t, uint16(9), f.Header.TotalPackets)
					default:
						assert.Equal(t, uint32(size*7), f.Header.Sequence)
					}
				}
			}
		})
	}
}

func TestRoundTripProperty(t *testing.T) {
	for _, tc := range codecs {
		t.Run(tc.name, func(t *testing.T) {
			rapid.Check(t, func(rt *rapid.T) {
				n := rapid.IntRange(0, 65000).Draw(rt, "len")
				seed := rapid.Int64().Draw(rt, "seed")
				seq := rapid.Uint32().Draw(rt, "seq")
				ft := protocol.FrameType(rapid.Uint8Range(1, 6).Draw(rt, "type"))
				payload := payloadOf(n, seed)

				b, err := tc.codec.Encode(protocol.Header{Type: ft, Sequence: seq}, payload)
				if err != nil {
					rt.Fatalf("encode: %v", err)
				}
				f, err := tc.codec.Decode(b)
				if err != nil {
					rt.Fatalf("decode: %v", err)
				}
				if f.Header.Type != ft || !bytes.Equal(f.Payload, payload) {
					rt.Fatalf("round trip mismatch for len=%d type=%s", n, ft)
				}
				if _, isUDP := tc.codec.(protocol.UDPCodec); !isUDP && f.Header.Sequence != seq {
					rt.Fatalf("sequence %d, want %d", f.Header.Sequence, seq)
				}
			})
		})
	}
}

func TestSingleBitCorruptionDetected(t *testing.T) {
	for _, tc := range codecs {
		t.Run(tc.name, func(t *testing.T) {
			payload := []byte("the quick brown fox jumps over the lazy dog")
			b, err := tc.codec.Encode(protocol.Header{Type: protocol.TypeData, Sequence: 3}, payload)
			require.NoError(t, err)

			var positions []int
			hs := tc.codec.HeaderSize()
			for i := hs; i < hs+len(payload); i++ {
				positions = append(positions, i)
			}
			if tc.fromEnd {
				for i := len(b) - tc.intStart; i < len(b); i++ {
					positions = append(positions, i)
				}
			} else {
				for i := tc.intStart; i < tc.intEnd; i++ {
					positions = append(positions, i)
				}
			}

			for _, pos := range positions {
				for bit := 0; bit < 8; bit++ {
					corrupt := append([]byte(nil), b...)
					corrupt[pos] ^= 1 << bit
					_, err := tc.codec.Decode(corrupt)
					require.ErrorIs(t, err, protocol.ErrChecksum, "byte %d bit %d", pos, bit)
				}
			}
		})
	}
}

func TestTruncatedFrameRejected(t *testing.T) {
	for _, tc := range codecs {
		t.Run(tc.name, func(t *testing.T) {
			b, err := tc.codec.Encode(protocol.Header{Type: protocol.TypeData}, payloadOf(64, 1))
			require.NoError(t, err)

			for cut := 0; cut < len(b); cut++ {
				f, err := tc.codec.Decode(b[:cut])
				require.Error(t, err, "cut=%d", cut)
				assert.Nil(t, f)
				if cut < tc.codec.HeaderSize() {
					assert.ErrorIs(t, err, protocol.ErrShortFrame)
				}
			}
		})
	}
}

func TestSurplusBytesRejected(t *testing.T) {
	for _, tc := range codecs {
		b, err := tc.codec.Encode(protocol.Header{Type: protocol.TypeData}, []byte("abc"))
		require.NoError(t, err)
		_, err = tc.codec.Decode(append(b, 0x00))
		assert.ErrorIs(t, err, protocol.ErrLengthMismatch, tc.name)
	}
}

func TestBadMagicAndVersion(t *testing.T) {
	b, err := protocol.TCPCodec{}.Encode(protocol.Header{Type: protocol.TypeData}, []byte("x"))
	require.NoError(t, err)

	_, err = protocol.UDPCodec{}.Decode(append(b[:0:0], b...))
	assert.ErrorIs(t, err, protocol.ErrBadMagic, "tcp frame fed to udp codec")

	binary.BigEndian.PutUint32(b[0:4], 0x01020304)
	_, err = protocol.TCPCodec{}.Decode(b)
	assert.ErrorIs(t, err, protocol.ErrBadMagic)

	d, err := protocol.DigestCodec{}.Encode(protocol.Header{Type: protocol.TypeData}, []byte("x"))
	require.NoError(t, err)
	d[0] = 9
	_, err = protocol.DigestCodec{}.Decode(d)
	assert.ErrorIs(t, err, protocol.ErrBadVersion)
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	for _, tc := range codecs {
		_, err := tc.codec.Encode(protocol.Header{}, make([]byte, protocol.MaxPayload+1))
		assert.ErrorIs(t, err, protocol.ErrPayloadTooLarge, tc.name)
	}
}

func TestCRCFieldIsZeroedBeforeVerification(t *testing.T) {
	b, err := protocol.TCPCodec{}.Encode(protocol.Header{Type: protocol.TypeData}, []byte("hello"))
	require.NoError(t, err)

	// a checksum computed over the frame with the crc bytes still in place
	// must not validate
	naive := append([]byte(nil), b...)
	binary.BigEndian.PutUint32(naive[7:11], crc32.ChecksumIEEE(b))
	_, err = protocol.TCPCodec{}.Decode(naive)
	assert.ErrorIs(t, err, protocol.ErrChecksum)
}

func TestReadFrameShortReads(t *testing.T) {
	for _, tc := range codecs {
		t.Run(tc.name, func(t *testing.T) {
			var stream bytes.Buffer
			want := [][]byte{[]byte("hello"), {}, payloadOf(4000, 7)}
			for i, p := range want {
				_, err := protocol.WriteFrame(&stream, tc.codec, protocol.Header{Type: protocol.TypeData, Sequence: uint32(i)}, p)
				require.NoError(t, err)
			}

			r := iotest.OneByteReader(&stream)
			for i, p := range want {
				f, err := protocol.ReadFrame(r, tc.codec)
				require.NoError(t, err, "frame %d", i)
				assert.True(t, bytes.Equal(p, f.Payload))
			}
			_, err := protocol.ReadFrame(r, tc.codec)
			assert.ErrorIs(t, err, io.EOF)
		})
	}
}

func TestReadFrameRecoversAfterChecksumError(t *testing.T) {
	codec := protocol.TCPCodec{}
	first, err := codec.Encode(protocol.Header{Type: protocol.TypeData}, []byte("broken"))
	require.NoError(t, err)
	first[len(first)-1] ^= 0xFF
	second, err := codec.Encode(protocol.Header{Type: protocol.TypeData}, []byte("intact"))
	require.NoError(t, err)

	r := bytes.NewReader(append(first, second...))
	_, err = protocol.ReadFrame(r, codec)
	require.ErrorIs(t, err, protocol.ErrChecksum)
	assert.True(t, protocol.IsRecoverable(err))
	assert.False(t, protocol.IsFatal(err))
	assert.True(t, protocol.IsFatal(protocol.ErrBadMagic))
	assert.False(t, protocol.IsFatal(nil))

	f, err := protocol.ReadFrame(r, codec)
	require.NoError(t, err)
	assert.Equal(t, "intact", string(f.Payload))
}

func TestReadFramePeerClosedMidFrame(t *testing.T) {
	b, err := protocol.TCPCodec{}.Encode(protocol.Header{Type: protocol.TypeData}, []byte("hello world"))
	require.NoError(t, err)

	_, err = protocol.ReadFrame(bytes.NewReader(b[:len(b)-3]), protocol.TCPCodec{})
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = protocol.ReadFrame(bytes.NewReader(b[:5]), protocol.TCPCodec{})
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestChunk(t *testing.T) {
	tests := []struct {
		name      string
		size      int
		chunk     int
		wantCount int
		wantLast  int
	}{
		{"empty", 0, 10, 1, 0},
		{"exact", 20, 10, 2, 10},
		{"remainder", 25, 10, 3, 5},
		{"blob", 200000, 65500, 4, 200000 - 3*65500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := protocol.Chunk(make([]byte, tt.size), tt.chunk)
			require.Len(t, chunks, tt.wantCount)
			assert.Len(t, chunks[len(chunks)-1], tt.wantLast)
		})
	}
}

func TestParseHelpers(t *testing.T) {
	ft, err := protocol.ParseFrameType("Heartbeat")
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeHeartbeat, ft)
	_, err = protocol.ParseFrameType("nope")
	assert.Error(t, err)

	v, err := protocol.ParseVariant("")
	require.NoError(t, err)
	assert.Equal(t, protocol.VariantA, v)
	v, err = protocol.ParseVariant("B")
	require.NoError(t, err)
	assert.Equal(t, protocol.VariantB, v)
	_, err = protocol.ParseVariant("c")
	assert.Error(t, err)

	assert.IsType(t, protocol.DigestCodec{}, protocol.StreamCodec(protocol.VariantB))
	assert.IsType(t, protocol.UDPCodec{}, protocol.DatagramCodec(protocol.VariantA))
	assert.True(t, protocol.IsProtocolError(protocol.ErrBadMagic))
	assert.False(t, protocol.IsProtocolError(errors.New("boom")))
}
