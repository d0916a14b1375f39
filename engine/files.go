package engine

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/samaelod/wirebench/protocol"
)

// FileSink persists FILE frame payloads under Dir.
type FileSink struct {
	Dir string
}

// TCPPath is where a FILE frame received over TCP from peerPort is written.
func (s FileSink) TCPPath(peerPort int) string {
	return filepath.Join(s.Dir, fmt.Sprintf("received_tcp_%d.dat", peerPort))
}

// UDPPath is where FILE chunks received over UDP from peerPort are written.
func (s FileSink) UDPPath(peerPort int) string {
	return filepath.Join(s.Dir, fmt.Sprintf("received_udp_%d.mp3", peerPort))
}

// Save writes payload to path. With appendTo set the payload is added to
// the end of an existing file, otherwise the file is replaced.
func (s FileSink) Save(path string, payload []byte, appendTo bool) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create receive dir: %w", err)
	}
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if appendTo {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := f.Write(payload); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// chunkIndex is the position of a datagram within a chunked send. Variant A
// carries it as packet_id, variant B in the sequence field.
func chunkIndex(h protocol.Header, v protocol.Variant) int {
	if v == protocol.VariantB {
		return int(h.Sequence)
	}
	return int(h.PacketID)
}

var ackPayload = []byte("ACK")

// reply is what a server sends back for one frame.
type reply struct {
	Type     protocol.FrameType
	Payload  []byte
	Sequence uint32
}

// replyFor applies the server reply policy. Heartbeats and files are
// acknowledged with the request's sequence; everything else is echoed with
// the same type and nextSeq.
func replyFor(f *protocol.Frame, nextSeq uint32) reply {
	switch f.Header.Type {
	case protocol.TypeHeartbeat, protocol.TypeFile:
		return reply{Type: protocol.TypeAck, Payload: ackPayload, Sequence: f.Header.Sequence}
	default:
		return reply{Type: f.Header.Type, Payload: f.Payload, Sequence: nextSeq}
	}
}
