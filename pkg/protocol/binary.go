// ABOUTME: Binary framing for block deliveries
// ABOUTME: Encodes full or quantized blocks into a single WebSocket frame
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/Resonate-Protocol/tidepool/pkg/audio"
)

const (
	// DeliveryMessageType is the binary message type ID for block deliveries
	DeliveryMessageType = 4

	// DeliveryHeaderSize is type + resolution + flags + block count + quantum length
	DeliveryHeaderSize = 1 + 1 + 1 + 2 + 2

	flagPrime = 1 << 0
)

var (
	ErrShortMessage   = errors.New("binary message too short")
	ErrUnknownMessage = errors.New("unknown binary message type")
)

// EncodeDelivery packs a delivery into a binary frame. Every block is
// written with the quantum length of the first block.
func EncodeDelivery(d Delivery) ([]byte, error) {
	if !d.Resolution.Valid() {
		return nil, fmt.Errorf("cannot encode resolution %v", d.Resolution)
	}
	if len(d.Blocks) > math.MaxUint16 {
		return nil, fmt.Errorf("too many blocks in one delivery: %d", len(d.Blocks))
	}

	quantum := 0
	if len(d.Blocks) > 0 {
		quantum = d.Blocks[0].Len()
	}

	width := sampleWidth(d.Resolution)
	msg := make([]byte, DeliveryHeaderSize+len(d.Blocks)*quantum*width)
	msg[0] = DeliveryMessageType
	msg[1] = byte(d.Resolution)
	if d.Prime {
		msg[2] |= flagPrime
	}
	binary.BigEndian.PutUint16(msg[3:5], uint16(len(d.Blocks)))
	binary.BigEndian.PutUint16(msg[5:7], uint16(quantum))

	offset := DeliveryHeaderSize
	for i, b := range d.Blocks {
		if b.Len() != quantum || b.Resolution() != d.Resolution {
			return nil, fmt.Errorf("block %d does not match delivery layout", i)
		}
		if d.Resolution == audio.ResolutionQuantized {
			copy(msg[offset:], b.Raw)
			offset += quantum
			continue
		}
		for _, s := range b.Samples {
			binary.LittleEndian.PutUint32(msg[offset:], math.Float32bits(s))
			offset += 4
		}
	}

	return msg, nil
}

// DecodeDelivery unpacks a binary frame. Block length is taken from the
// header; validating it against the render quantum is the consumer's job.
func DecodeDelivery(msg []byte) (Delivery, error) {
	if len(msg) < DeliveryHeaderSize {
		return Delivery{}, ErrShortMessage
	}
	if msg[0] != DeliveryMessageType {
		return Delivery{}, fmt.Errorf("%w: %d", ErrUnknownMessage, msg[0])
	}

	res := audio.Resolution(msg[1])
	if !res.Valid() {
		return Delivery{}, fmt.Errorf("invalid resolution in delivery: %d", msg[1])
	}
	count := int(binary.BigEndian.Uint16(msg[3:5]))
	quantum := int(binary.BigEndian.Uint16(msg[5:7]))

	width := sampleWidth(res)
	if len(msg) != DeliveryHeaderSize+count*quantum*width {
		return Delivery{}, fmt.Errorf("%w: expected %d payload bytes, got %d",
			ErrShortMessage, count*quantum*width, len(msg)-DeliveryHeaderSize)
	}

	d := Delivery{
		Resolution: res,
		Blocks:     make([]audio.Block, count),
		Prime:      msg[2]&flagPrime != 0,
	}

	offset := DeliveryHeaderSize
	for i := range d.Blocks {
		if res == audio.ResolutionQuantized {
			raw := make([]uint8, quantum)
			copy(raw, msg[offset:offset+quantum])
			d.Blocks[i] = audio.Block{Raw: raw}
			offset += quantum
			continue
		}
		samples := make([]float32, quantum)
		for j := range samples {
			samples[j] = math.Float32frombits(binary.LittleEndian.Uint32(msg[offset:]))
			offset += 4
		}
		d.Blocks[i] = audio.Block{Samples: samples}
	}

	return d, nil
}

func sampleWidth(res audio.Resolution) int {
	if res == audio.ResolutionQuantized {
		return 1
	}
	return 4
}
