package frame

import (
	"encoding/binary"
	"fmt"
	"iter"
	"math"

	"github.com/wmdanor/wsclient/internal"
)

// Direction tells a Decoder who produced the bytes it is fed.
type Direction uint8

const (
	// ServerToClient frames must not be masked.
	ServerToClient Direction = iota
	// ClientToServer frames must be masked.
	ClientToServer
)

// DefaultMaxPayload bounds a single frame when the caller does not.
const DefaultMaxPayload = 32 * 1024 * 1024

// Decoder turns a byte stream split at arbitrary points into frames.
// It keeps the bytes of an incomplete frame until the rest arrives.
// A Decoder is not safe for concurrent use.
type Decoder struct {
	dir        Direction
	maxPayload uint64

	buf []byte
	// start of the first unresolved byte in buf
	off int
	err error
}

func NewDecoder(dir Direction, maxPayload uint64) *Decoder {
	if maxPayload == 0 {
		maxPayload = DefaultMaxPayload
	}
	return &Decoder{
		dir:        dir,
		maxPayload: maxPayload,
	}
}

// Feed buffers p and yields every frame that is complete afterwards.
// Iteration ends when more bytes are needed or after the first error;
// once an error is returned the decoder keeps returning it.
func (d *Decoder) Feed(p []byte) iter.Seq2[*Frame, error] {
	d.Write(p)

	return func(yield func(*Frame, error) bool) {
		for {
			f, err := d.Next()
			if err != nil {
				yield(nil, err)
				return
			}
			if f == nil {
				return
			}
			if !yield(f, nil) {
				return
			}
		}
	}
}

// Write buffers p without decoding anything.
func (d *Decoder) Write(p []byte) {
	if d.err != nil {
		return
	}
	if d.off > 0 {
		// compact once per write, not once per frame
		n := copy(d.buf, d.buf[d.off:])
		d.buf = d.buf[:n]
		d.off = 0
	}
	d.buf = append(d.buf, p...)
}

// Buffered returns the number of bytes not yet resolved into a frame.
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.off
}

// Next extracts one frame from the buffered bytes.
// It returns nil, nil when the buffer does not hold a complete frame yet.
func (d *Decoder) Next() (*Frame, error) {
	if d.err != nil {
		return nil, d.err
	}

	b := d.buf[d.off:]

	h, ok, err := parseHeader(b, d.dir, d.maxPayload)
	if err != nil {
		d.fail(err)
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	total := uint64(h.HeaderLength) + h.PayloadLength
	if uint64(len(b)) < total {
		return nil, nil
	}

	payload := make([]byte, h.PayloadLength)
	copy(payload, b[h.HeaderLength:total])
	if h.IsMasked {
		internal.Mask(payload, h.MaskingKey)
	}

	d.off += int(total)
	if d.off == len(d.buf) {
		d.buf = d.buf[:0]
		d.off = 0
	}

	return &Frame{
		Fin:           h.IsFinalFrame,
		Opcode:        h.Opcode,
		Masked:        h.IsMasked,
		PayloadLength: h.PayloadLength,
		MaskingKey:    h.MaskingKey,
		Payload:       payload,
	}, nil
}

func parseHeader(buf []byte, dir Direction, maxPayload uint64) (internal.FrameHeader, bool, error) {
	h := internal.FrameHeader{}

	if len(buf) < 2 {
		return h, false, nil
	}
	b0, b1 := buf[0], buf[1]

	h.IsFinalFrame = b0&0b1_000_0000 != 0
	h.RSV1 = b0 & 0b0_100_0000 >> 6
	h.RSV2 = b0 & 0b0_010_0000 >> 5
	h.RSV3 = b0 & 0b0_001_0000 >> 4
	h.Opcode = internal.Opcode(b0 & 0b0_000_1111)

	if h.RSV1 != 0 || h.RSV2 != 0 || h.RSV3 != 0 {
		return h, false, fmt.Errorf("%w: RSV bits must be 0 as extensions are not supported", ErrProtocolViolation)
	}
	if h.Opcode.IsReserved() {
		return h, false, fmt.Errorf("%w: opcode must not be one of reserved values, received %X", ErrProtocolViolation, uint8(h.Opcode))
	}

	h.IsMasked = b1&0b1_000_0000 != 0
	switch {
	case h.IsMasked && dir == ServerToClient:
		return h, false, fmt.Errorf("%w: received masked frame on the client", ErrProtocolViolation)
	case !h.IsMasked && dir == ClientToServer:
		return h, false, fmt.Errorf("%w: received unmasked frame from a client", ErrProtocolViolation)
	}

	h.PayloadLength = uint64(b1 & 0b0_111_1111)
	h.HeaderLength = 2

	switch h.PayloadLength {
	case internal.PayloadLength16:
		if len(buf) < 4 {
			return h, false, nil
		}
		h.PayloadLength = uint64(binary.BigEndian.Uint16(buf[2:]))
		h.HeaderLength = 4
		if h.PayloadLength < internal.PayloadLength16 {
			return h, false, fmt.Errorf("%w: payload length %d must use the 7 bit encoding", ErrProtocolViolation, h.PayloadLength)
		}
	case internal.PayloadLength64:
		if len(buf) < 10 {
			return h, false, nil
		}
		h.PayloadLength = binary.BigEndian.Uint64(buf[2:])
		h.HeaderLength = 10
		if h.PayloadLength > math.MaxInt64 {
			return h, false, fmt.Errorf("%w: most significant bit of 64 bit payload length must be 0", ErrProtocolViolation)
		}
		if h.PayloadLength <= math.MaxUint16 {
			return h, false, fmt.Errorf("%w: payload length %d must use the 16 bit encoding", ErrProtocolViolation, h.PayloadLength)
		}
	}

	if h.Opcode.IsControl() && (h.PayloadLength > internal.MaxControlPayload || !h.IsFinalFrame) {
		return h, false, fmt.Errorf("%w: all control frames must have a payload length of 125 bytes or less and must not be fragmented", ErrProtocolViolation)
	}
	if h.PayloadLength > maxPayload {
		return h, false, fmt.Errorf("%w: frame payload of %d bytes exceeds limit of %d", ErrMessageTooBig, h.PayloadLength, maxPayload)
	}

	if h.IsMasked {
		if len(buf) < h.HeaderLength+4 {
			return h, false, nil
		}
		copy(h.MaskingKey[:], buf[h.HeaderLength:])
		h.HeaderLength += 4
	}

	return h, true, nil
}

func (d *Decoder) fail(err error) {
	d.err = err
	d.buf = nil
	d.off = 0
}
