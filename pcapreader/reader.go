package pcapreader

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

type packetSource interface {
	LinkType() layers.LinkType
	ReadPacketData() (data []byte, ci gopacket.CaptureInfo, err error)
}

const pcapngMagic = 0x0A0D0D0A

func detectFormat(r *bufio.Reader) string {
	// Read first 4 bytes to check magic
	header, err := r.Peek(4)
	if err != nil {
		return "pcap"
	}

	// PCAPNG starts with a Section Header Block, 0x0A0D0D0A
	if binary.LittleEndian.Uint32(header) == pcapngMagic {
		return "pcapng"
	}

	// Classic pcap in either byte order, micro or nanosecond resolution
	return "pcap"
}

// openPacketSource opens a classic pcap or pcapng file. The returned closer
// releases the file.
func openPacketSource(path string) (packetSource, io.Closer, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	br := bufio.NewReader(file)

	if detectFormat(br) == "pcapng" {
		reader, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			file.Close()
			return nil, nil, fmt.Errorf("pcapng %s: %w", path, err)
		}
		return reader, file, nil
	}

	reader, err := pcapgo.NewReader(br)
	if err != nil {
		file.Close()
		return nil, nil, fmt.Errorf("pcap %s: %w", path, err)
	}
	return reader, file, nil
}
