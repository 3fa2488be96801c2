package probe

import (
	"encoding/binary"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/mpswitch/internal/core"
	"firestige.xyz/mpswitch/internal/core/codec"
)

// EthernetTypeHULA is the EtherType of utilization probes.
const EthernetTypeHULA = layers.EthernetType(core.EtherTypeHULA)

// LayerTypeHULA is the gopacket layer type of the probe header.
var LayerTypeHULA = gopacket.RegisterLayerType(1234, gopacket.LayerTypeMetadata{
	Name:    "HULA",
	Decoder: gopacket.DecodeFunc(decodeHULA),
})

func init() {
	layers.EthernetTypeMetadata[EthernetTypeHULA] = layers.EnumMetadata{
		DecodeWith: gopacket.DecodeFunc(decodeHULA),
		Name:       "HULA",
		LayerType:  LayerTypeHULA,
	}
}

// HULA is the 12-byte probe header as a gopacket layer, so probes can be
// built with gopacket.SerializeLayers and read back by gopacket decoders.
type HULA struct {
	layers.BaseLayer
	core.HULAHeader
}

// LayerType returns LayerTypeHULA.
func (h *HULA) LayerType() gopacket.LayerType { return LayerTypeHULA }

// CanDecode returns LayerTypeHULA.
func (h *HULA) CanDecode() gopacket.LayerClass { return LayerTypeHULA }

// NextLayerType returns the payload layer; anything after the probe is
// Ethernet padding.
func (h *HULA) NextLayerType() gopacket.LayerType { return gopacket.LayerTypePayload }

// DecodeFromBytes decodes the probe header.
func (h *HULA) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < core.HULALen {
		df.SetTruncated()
		return fmt.Errorf("HULA probe length %d too short", len(data))
	}
	h.Type = data[0]
	h.HopCount = data[1]
	h.PathUtil = binary.BigEndian.Uint16(data[2:4])
	h.Timestamp = binary.BigEndian.Uint32(data[4:8])
	h.DstTor = binary.BigEndian.Uint32(data[8:12])
	h.BaseLayer = layers.BaseLayer{Contents: data[:core.HULALen], Payload: data[core.HULALen:]}
	return nil
}

// SerializeTo writes the probe header.
func (h *HULA) SerializeTo(b gopacket.SerializeBuffer, _ gopacket.SerializeOptions) error {
	bytes, err := b.PrependBytes(core.HULALen)
	if err != nil {
		return err
	}
	codec.PutHULA(bytes, &h.HULAHeader)
	return nil
}

func decodeHULA(data []byte, p gopacket.PacketBuilder) error {
	h := &HULA{}
	if err := h.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(h)
	return p.NextDecoder(h.NextLayerType())
}
