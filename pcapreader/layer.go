package pcapreader

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/samaelod/wirebench/protocol"
)

// LayerTypeFrame is a wirebench datagram frame decoded as a gopacket layer.
var LayerTypeFrame = gopacket.RegisterLayerType(4917, gopacket.LayerTypeMetadata{
	Name:    "WirebenchFrame",
	Decoder: FrameDecoder(protocol.VariantA),
})

// FrameLayer carries one decoded frame. Contents is the header, Payload the
// frame payload.
type FrameLayer struct {
	layers.BaseLayer
	Frame *protocol.Frame

	codec protocol.Codec
}

func (f *FrameLayer) LayerType() gopacket.LayerType     { return LayerTypeFrame }
func (f *FrameLayer) CanDecode() gopacket.LayerClass    { return LayerTypeFrame }
func (f *FrameLayer) NextLayerType() gopacket.LayerType { return gopacket.LayerTypeZero }

func (f *FrameLayer) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if f.codec == nil {
		f.codec = protocol.UDPCodec{}
	}
	fr, err := f.codec.Decode(data)
	if err != nil {
		df.SetTruncated()
		return err
	}
	hs := f.codec.HeaderSize()
	f.Frame = fr
	f.BaseLayer = layers.BaseLayer{Contents: data[:hs], Payload: fr.Payload}
	return nil
}

type frameDecoder struct {
	codec protocol.Codec
}

// FrameDecoder decodes datagram frames of variant v.
func FrameDecoder(v protocol.Variant) gopacket.Decoder {
	return frameDecoder{codec: protocol.DatagramCodec(v)}
}

func (d frameDecoder) Decode(data []byte, p gopacket.PacketBuilder) error {
	l := &FrameLayer{codec: d.codec}
	if err := l.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(l)
	return nil
}

// DecodeDatagram decodes a UDP payload into a frame through the gopacket
// layer machinery.
func DecodeDatagram(payload []byte, v protocol.Variant) (*protocol.Frame, error) {
	pkt := gopacket.NewPacket(payload, FrameDecoder(v), gopacket.NoCopy)
	if l, ok := pkt.Layer(LayerTypeFrame).(*FrameLayer); ok {
		return l.Frame, nil
	}
	if el := pkt.ErrorLayer(); el != nil {
		return nil, el.Error()
	}
	return nil, protocol.ErrShortFrame
}
