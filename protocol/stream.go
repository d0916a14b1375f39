package protocol

import (
	"errors"
	"io"
)

// ReadFrame reads exactly one frame from r. It reads the fixed header first,
// then as many bytes as the header declares, looping over short reads.
//
// A clean close before the first header byte returns io.EOF. A close in the
// middle of a frame returns io.ErrUnexpectedEOF. ErrChecksum leaves r aligned
// on the next frame; every other protocol error does not.
func ReadFrame(r io.Reader, c Codec) (*Frame, error) {
	hdr := make([]byte, c.HeaderSize())
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, err
	}
	n, err := c.PayloadLength(hdr)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, len(hdr)+n)
	copy(buf, hdr)
	if _, err := io.ReadFull(r, buf[len(hdr):]); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return c.Decode(buf)
}

// WriteFrame encodes payload with c and writes the whole frame to w.
// It returns the number of frame bytes written.
func WriteFrame(w io.Writer, c Codec, h Header, payload []byte) (int, error) {
	b, err := c.Encode(h, payload)
	if err != nil {
		return 0, err
	}
	return w.Write(b)
}
