package pcapreader

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samaelod/wirebench/protocol"
	"github.com/samaelod/wirebench/types"
)

var (
	clientMAC = net.HardwareAddr{0x02, 0, 0, 0, 0, 1}
	serverMAC = net.HardwareAddr{0x02, 0, 0, 0, 0, 2}
	clientIP  = net.IPv4(10, 0, 0, 1).To4()
	serverIP  = net.IPv4(10, 0, 0, 2).To4()
)

type captureWriter struct {
	t  *testing.T
	w  *pcapgo.Writer
	at time.Time
}

func newCapture(t *testing.T) (*captureWriter, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	return &captureWriter{t: t, w: w, at: time.Unix(1700000000, 0)}, path
}

func (c *captureWriter) write(after time.Duration, toServer bool, transport gopacket.SerializableLayer, payload []byte) {
	c.t.Helper()
	c.at = c.at.Add(after)

	eth := &layers.Ethernet{SrcMAC: clientMAC, DstMAC: serverMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{Version: 4, TTL: 64, SrcIP: clientIP, DstIP: serverIP}
	if !toServer {
		eth.SrcMAC, eth.DstMAC = serverMAC, clientMAC
		ip.SrcIP, ip.DstIP = serverIP, clientIP
	}
	switch l := transport.(type) {
	case *layers.TCP:
		ip.Protocol = layers.IPProtocolTCP
		require.NoError(c.t, l.SetNetworkLayerForChecksum(ip))
	case *layers.UDP:
		ip.Protocol = layers.IPProtocolUDP
		require.NoError(c.t, l.SetNetworkLayerForChecksum(ip))
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(c.t, gopacket.SerializeLayers(buf, opts, eth, ip, transport, gopacket.Payload(payload)))

	data := buf.Bytes()
	ci := gopacket.CaptureInfo{Timestamp: c.at, CaptureLength: len(data), Length: len(data)}
	require.NoError(c.t, c.w.WritePacket(ci, data))
}

func encode(t *testing.T, c protocol.Codec, typ protocol.FrameType, payload []byte) []byte {
	t.Helper()
	b, err := c.Encode(protocol.Header{Type: typ}, payload)
	require.NoError(t, err)
	return b
}

func TestInspectBuildsProfile(t *testing.T) {
	cw, path := newCapture(t)
	tcpCodec := protocol.TCPCodec{}
	udpCodec := protocol.UDPCodec{}

	const isn = 1000
	cw.write(0, true, &layers.TCP{SrcPort: 40000, DstPort: 5000, Seq: isn, SYN: true, Window: 1024}, nil)

	stream := append(encode(t, tcpCodec, protocol.TypeData, []byte("hello")),
		encode(t, tcpCodec, protocol.TypeHeartbeat, []byte("HEARTBEAT"))...)
	cw.write(10*time.Millisecond, true, &layers.TCP{SrcPort: 40000, DstPort: 5000, Seq: isn + 1, ACK: true, PSH: true, Window: 1024}, stream)

	echo := encode(t, tcpCodec, protocol.TypeData, []byte("hello"))
	cw.write(time.Millisecond, false, &layers.TCP{SrcPort: 5000, DstPort: 40000, Seq: 9000, ACK: true, PSH: true, Window: 1024}, echo)

	blob := encode(t, udpCodec, protocol.TypeAudio, []byte{0, 1, 2})
	cw.write(19*time.Millisecond, true, &layers.UDP{SrcPort: 40001, DstPort: 6000}, blob)
	cw.write(time.Millisecond, false, &layers.UDP{SrcPort: 6000, DstPort: 40001}, blob)
	cw.write(time.Millisecond, true, &layers.UDP{SrcPort: 40001, DstPort: 6000}, []byte("nonsense"))

	c, err := Inspect(path, protocol.VariantA)
	require.NoError(t, err)
	assert.Equal(t, 5, c.Frames)
	assert.Equal(t, 1, c.Invalid)

	p := c.Profile
	assert.Equal(t, "a", p.Globals.Variant)
	require.Len(t, p.Endpoints, 4)
	assert.Equal(t, types.KindTCPServer, p.Endpoints[0].Kind)
	assert.Equal(t, 5000, p.Endpoints[0].Port)
	assert.Equal(t, types.KindTCPClient, p.Endpoints[1].Kind)
	assert.Equal(t, "10.0.0.2", p.Endpoints[1].Address)
	assert.Equal(t, 5000, p.Endpoints[1].Port)
	assert.Equal(t, types.KindUDPServer, p.Endpoints[2].Kind)
	assert.Equal(t, types.KindUDPClient, p.Endpoints[3].Kind)
	assert.Equal(t, 6000, p.Endpoints[3].Port)

	require.Len(t, p.Messages, 3)
	assert.Equal(t, types.Message{From: 1, To: 0, Kind: "text", Value: "hello"}, p.Messages[0])
	assert.Equal(t, types.Message{From: 1, To: 0, Kind: "heartbeat"}, p.Messages[1])
	assert.Equal(t, types.Message{From: 3, To: 2, Kind: "hex", Value: "000102", TDelta: 20, FrameType: "audio"}, p.Messages[2])
	assert.Len(t, p.MessagesByFrom[1], 2)
}

func TestInspectSkipsCorruptStreamFrame(t *testing.T) {
	cw, path := newCapture(t)
	codec := protocol.DigestCodec{}

	bad := encode(t, codec, protocol.TypeData, []byte("broken"))
	bad[len(bad)-1] ^= 0xFF
	stream := append(bad, encode(t, codec, protocol.TypeData, []byte("fine"))...)

	cw.write(0, true, &layers.TCP{SrcPort: 41000, DstPort: 7000, Seq: 1, SYN: true, Window: 1024}, nil)
	cw.write(time.Millisecond, true, &layers.TCP{SrcPort: 41000, DstPort: 7000, Seq: 2, ACK: true, Window: 1024}, stream)

	c, err := Inspect(path, protocol.VariantB)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Invalid)
	require.Len(t, c.Profile.Messages, 1)
	assert.Equal(t, "fine", c.Profile.Messages[0].Value)
}

func TestReadCaptureErrors(t *testing.T) {
	_, err := ReadCapture(filepath.Join(t.TempDir(), "missing.pcap"), protocol.VariantA)
	assert.Error(t, err)

	junk := filepath.Join(t.TempDir(), "junk.pcap")
	require.NoError(t, os.WriteFile(junk, []byte("not a capture"), 0644))
	_, err = ReadCapture(junk, protocol.VariantA)
	assert.Error(t, err)
}

func TestDecodeDatagram(t *testing.T) {
	for _, v := range []protocol.Variant{protocol.VariantA, protocol.VariantB} {
		t.Run(string(v), func(t *testing.T) {
			codec := protocol.DatagramCodec(v)
			raw := encode(t, codec, protocol.TypeControl, []byte("ctl"))

			f, err := DecodeDatagram(raw, v)
			require.NoError(t, err)
			assert.Equal(t, protocol.TypeControl, f.Header.Type)
			assert.Equal(t, []byte("ctl"), f.Payload)

			raw[len(raw)-1] ^= 0xFF
			_, err = DecodeDatagram(raw, v)
			assert.Error(t, err)
		})
	}

	pkt := gopacket.NewPacket(encode(t, protocol.UDPCodec{}, protocol.TypeData, []byte("x")), LayerTypeFrame, gopacket.Default)
	l, ok := pkt.Layer(LayerTypeFrame).(*FrameLayer)
	require.True(t, ok)
	assert.Len(t, l.LayerContents(), protocol.UDPHeaderSize)
	assert.Equal(t, []byte("x"), l.LayerPayload())
}

func TestDetectFormat(t *testing.T) {
	ng := filepath.Join(t.TempDir(), "empty.pcapng")
	f, err := os.Create(ng)
	require.NoError(t, err)
	w, err := pcapgo.NewNgWriter(f, layers.LinkTypeEthernet)
	require.NoError(t, err)
	require.NoError(t, w.Flush())
	require.NoError(t, f.Close())

	c, err := Inspect(ng, "")
	require.NoError(t, err)
	assert.Zero(t, c.Frames)
	assert.Empty(t, c.Profile.Messages)
}
