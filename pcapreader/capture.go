package pcapreader

import (
	"bytes"
	"encoding/hex"
	"errors"
	"io"
	"net"
	"sort"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/tcpassembly"

	"github.com/samaelod/wirebench/engine"
	"github.com/samaelod/wirebench/protocol"
	"github.com/samaelod/wirebench/types"
)

// consecutive unreadable records before a capture is given up on
const maxReadFailures = 100

// captured is one frame seen in the capture, client to server.
type captured struct {
	seen     time.Time
	from, to string // ip:port
	udp      bool
	frame    *protocol.Frame
}

// run is a gap-free stretch of one TCP direction.
type run struct {
	data  []byte
	marks []mark
}

type mark struct {
	offset int
	seen   time.Time
}

// flowStream collects reassembled bytes of one TCP direction. Parsing waits
// until the assembler is flushed.
type flowStream struct {
	net, transport gopacket.Flow
	runs           []*run
}

func (s *flowStream) Reassembled(rs []tcpassembly.Reassembly) {
	for _, r := range rs {
		if len(s.runs) == 0 || r.Skip > 0 {
			s.runs = append(s.runs, &run{})
		}
		if len(r.Bytes) == 0 {
			continue
		}
		cur := s.runs[len(s.runs)-1]
		cur.marks = append(cur.marks, mark{offset: len(cur.data), seen: r.Seen})
		cur.data = append(cur.data, r.Bytes...)
	}
}

func (s *flowStream) ReassemblyComplete() {}

type streamFactory struct {
	streams []*flowStream
}

func (f *streamFactory) New(netFlow, tcpFlow gopacket.Flow) tcpassembly.Stream {
	s := &flowStream{net: netFlow, transport: tcpFlow}
	f.streams = append(f.streams, s)
	return s
}

// Capture is the result of inspecting a capture file.
type Capture struct {
	Profile *types.Profile
	Frames  int // valid frames in both directions
	Invalid int // datagrams or stream positions that failed to decode
}

// ReadCapture turns a pcap or pcapng capture into a replayable profile.
// TCP streams are reassembled and split into frames; UDP payloads are decoded
// as datagram frames. Frames sent towards a server become messages of a
// client endpoint aimed at that server.
func ReadCapture(path string, v protocol.Variant) (*types.Profile, error) {
	c, err := Inspect(path, v)
	if err != nil {
		return nil, err
	}
	return c.Profile, nil
}

// Inspect is ReadCapture plus frame counts.
func Inspect(path string, v protocol.Variant) (*Capture, error) {
	if v == "" {
		v = protocol.VariantA
	}
	source, closer, err := openPacketSource(path)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	factory := &streamFactory{}
	assembler := tcpassembly.NewAssembler(tcpassembly.NewStreamPool(factory))
	servers := make(map[string]bool) // ip:port that received a SYN
	first := make(map[string]string) // udp pair -> first sender
	var (
		frames  []captured
		invalid int
		total   int
	)

	packets := gopacket.NewPacketSource(source, source.LinkType())
	packets.DecodeOptions = gopacket.DecodeOptions{Lazy: true, NoCopy: true}

	for failures := 0; failures < maxReadFailures; {
		packet, err := packets.NextPacket()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			failures++
			continue
		}
		failures = 0

		nl := packet.NetworkLayer()
		if nl == nil {
			continue
		}
		src, dst := nl.NetworkFlow().Endpoints()
		ts := packet.Metadata().Timestamp

		if tcp, ok := packet.Layer(layers.LayerTypeTCP).(*layers.TCP); ok {
			if tcp.SYN && !tcp.ACK {
				servers[hostPort(dst.String(), int(tcp.DstPort))] = true
			}
			assembler.AssembleWithTimestamp(nl.NetworkFlow(), tcp, ts)
			continue
		}

		udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		from := hostPort(src.String(), int(udp.SrcPort))
		to := hostPort(dst.String(), int(udp.DstPort))
		f, err := DecodeDatagram(udp.Payload, v)
		if err != nil {
			invalid++
			continue
		}
		total++

		pair := pairKey(from, to)
		if _, seen := first[pair]; !seen {
			first[pair] = from
		}
		if first[pair] != from {
			continue // reply from the server side
		}
		frames = append(frames, captured{seen: ts, from: from, to: to, udp: true, frame: f})
	}
	assembler.FlushAll()

	codec := protocol.StreamCodec(v)
	for _, s := range factory.streams {
		srcIP, dstIP := s.net.Endpoints()
		srcPort, dstPort := s.transport.Endpoints()
		from := hostPort(srcIP.String(), portNum(srcPort))
		to := hostPort(dstIP.String(), portNum(dstPort))
		toServer := servers[to] || (!servers[from] && portNum(dstPort) < portNum(srcPort))

		for _, r := range s.runs {
			got, bad := splitFrames(r, codec)
			invalid += bad
			total += len(got)
			if !toServer {
				continue
			}
			for i := range got {
				got[i].from, got[i].to = from, to
			}
			frames = append(frames, got...)
		}
	}

	return &Capture{Profile: buildProfile(frames, v), Frames: total, Invalid: invalid}, nil
}

// splitFrames reads consecutive frames out of one run. A checksum failure
// skips the frame; any other error ends the run.
func splitFrames(r *run, codec protocol.Codec) (out []captured, invalid int) {
	rd := bytes.NewReader(r.data)
	for rd.Len() > 0 {
		offset := len(r.data) - rd.Len()
		f, err := protocol.ReadFrame(rd, codec)
		if err != nil {
			invalid++
			if protocol.IsRecoverable(err) {
				continue
			}
			return out, invalid
		}
		out = append(out, captured{seen: seenAt(r.marks, offset), frame: f})
	}
	return out, invalid
}

// seenAt is the capture time of the segment holding offset.
func seenAt(marks []mark, offset int) time.Time {
	i := sort.Search(len(marks), func(i int) bool { return marks[i].offset > offset })
	if i == 0 {
		return time.Time{}
	}
	return marks[i-1].seen
}

func buildProfile(frames []captured, v protocol.Variant) *types.Profile {
	sort.SliceStable(frames, func(i, j int) bool { return frames[i].seen.Before(frames[j].seen) })

	p := &types.Profile{
		Globals: types.Globals{Variant: string(v), Timeout: 5000},
	}
	ids := make(map[string]int)
	endpoint := func(key, kind, address string, port int) int {
		if id, ok := ids[key]; ok {
			return id
		}
		id := len(p.Endpoints)
		ids[key] = id
		p.Endpoints = append(p.Endpoints, types.Endpoint{
			ID:      id,
			Name:    key,
			Kind:    kind,
			Address: address,
			Port:    port,
		})
		return id
	}

	var prev time.Time
	for _, c := range frames {
		serverKind, clientKind := types.KindTCPServer, types.KindTCPClient
		if c.udp {
			serverKind, clientKind = types.KindUDPServer, types.KindUDPClient
		}
		host, port := splitHostPort(c.to)
		to := endpoint(serverKind+" "+c.to, serverKind, host, port)
		from := endpoint(clientKind+" "+c.from, clientKind, host, port)

		delta := 0
		if !prev.IsZero() && !c.seen.IsZero() {
			delta = int(c.seen.Sub(prev).Milliseconds())
		}
		if !c.seen.IsZero() {
			prev = c.seen
		}

		kind, value := messageValue(c.frame)
		msg := types.Message{From: from, To: to, Kind: kind, Value: value, TDelta: delta}
		if t := c.frame.Header.Type; t != protocol.TypeData && t != protocol.TypeHeartbeat {
			if _, err := protocol.ParseFrameType(t.String()); err == nil {
				msg.FrameType = t.String()
			}
		}
		p.Messages = append(p.Messages, msg)
	}
	p.IndexMessages()
	return p
}

// messageValue picks the script kind that reproduces a frame's payload.
func messageValue(f *protocol.Frame) (kind, value string) {
	if f.Header.Type == protocol.TypeHeartbeat {
		return engine.MsgHeartbeat, ""
	}
	if len(f.Payload) > 0 && f.Header.Type == protocol.TypeData && utf8.Valid(f.Payload) && printable(f.Payload) {
		return engine.MsgText, string(f.Payload)
	}
	return engine.MsgHex, hex.EncodeToString(f.Payload)
}

func printable(b []byte) bool {
	for _, c := range string(b) {
		if c < 0x20 && c != '\n' && c != '\r' && c != '\t' {
			return false
		}
	}
	return true
}

func pairKey(a, b string) string {
	if a < b {
		return a + "|" + b
	}
	return b + "|" + a
}

func hostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func splitHostPort(s string) (string, int) {
	host, p, err := net.SplitHostPort(s)
	if err != nil {
		return s, 0
	}
	port, _ := strconv.Atoi(p)
	return host, port
}

func portNum(e gopacket.Endpoint) int {
	b := e.Raw()
	if len(b) != 2 {
		return 0
	}
	return int(b[0])<<8 | int(b[1])
}
