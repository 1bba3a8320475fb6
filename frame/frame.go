// Package frame implements the client side of the RFC 6455 framing layer:
// encoding masked frames and incrementally decoding frames from a byte stream.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/wmdanor/wsclient/internal"
)

/*
  0                   1                   2                   3
  0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
 +-+-+-+-+-------+-+-------------+-------------------------------+
 |F|R|R|R| opcode|M| Payload len |    Extended payload length    |
 |I|S|S|S|  (4)  |A|     (7)     |             (16/64)           |
 |N|V|V|V|       |S|             |   (if payload len==126/127)   |
 | |1|2|3|       |K|             |                               |
 +-+-+-+-+-------+-+-------------+ - - - - - - - - - - - - - - - +
 |     Extended payload length continued, if payload len == 127  |
 + - - - - - - - - - - - - - - - +-------------------------------+
 |                               |Masking-key, if MASK set to 1  |
 +-------------------------------+-------------------------------+
 | Masking-key (continued)       |          Payload Data         |
 +-------------------------------- - - - - - - - - - - - - - - - +
 :                     Payload Data continued ...                :
 + - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - +
 |                     Payload Data continued ...                |
 +---------------------------------------------------------------+
*/

type Opcode = internal.Opcode

const (
	OpcodeContinuation = internal.OpcodeContinuationFrame
	OpcodeText         = internal.OpcodeTextFrame
	OpcodeBinary       = internal.OpcodeBinaryFrame
	OpcodeClose        = internal.OpcodeConnectionClose
	OpcodePing         = internal.OpcodePing
	OpcodePong         = internal.OpcodePong
)

var (
	ErrProtocolViolation = errors.New("protocol violation")
	ErrMessageTooBig     = errors.New("message too big")

	// ErrInvalidUTF8 accompanies ErrProtocolViolation for text that is not UTF-8.
	ErrInvalidUTF8 = errors.New("invalid UTF-8")
)

type Frame struct {
	// is the final fragment in a message
	Fin    bool
	Opcode Opcode
	Masked bool
	// 7 bits, 7+16 bits, or 7+64 bits on the wire
	PayloadLength uint64
	// only meaningful when Masked is set
	MaskingKey [4]byte
	// always unmasked, whatever was on the wire
	Payload []byte
}

// Encode builds a single final client frame: masked with a fresh key.
// payload is not modified.
func Encode(opcode Opcode, payload []byte) ([]byte, error) {
	f := Frame{
		Fin:           true,
		Opcode:        opcode,
		Masked:        true,
		PayloadLength: uint64(len(payload)),
		MaskingKey:    internal.NewMaskingKey(),
		Payload:       payload,
	}
	if err := f.validate(); err != nil {
		return nil, err
	}

	return AppendFrame(make([]byte, 0, internal.MaxHeaderLength+len(payload)), &f), nil
}

// AppendFrame appends the wire form of f to dst.
// PayloadLength is taken from len(f.Payload).
func AppendFrame(dst []byte, f *Frame) []byte {
	var b0, b1 byte

	if f.Fin {
		b0 |= 0b1_000_0000
	}
	b0 |= byte(f.Opcode) & 0b0_000_1111

	if f.Masked {
		b1 |= 0b1_000_0000
	}

	length := len(f.Payload)
	switch {
	case length < internal.PayloadLength16:
		dst = append(dst, b0, b1|byte(length))
	case length <= math.MaxUint16:
		dst = append(dst, b0, b1|internal.PayloadLength16)
		dst = binary.BigEndian.AppendUint16(dst, uint16(length))
	default:
		dst = append(dst, b0, b1|internal.PayloadLength64)
		dst = binary.BigEndian.AppendUint64(dst, uint64(length))
	}

	if !f.Masked {
		return append(dst, f.Payload...)
	}

	dst = append(dst, f.MaskingKey[:]...)
	start := len(dst)
	dst = append(dst, f.Payload...)
	internal.Mask(dst[start:], f.MaskingKey)

	return dst
}

func (f *Frame) validate() error {
	if f.Opcode.IsReserved() {
		return fmt.Errorf("%w: reserved opcode %X", ErrProtocolViolation, uint8(f.Opcode))
	}
	if f.Opcode.IsControl() {
		if f.PayloadLength > internal.MaxControlPayload {
			return fmt.Errorf("%w: control frame payload must not exceed %d bytes, received %d",
				ErrProtocolViolation, internal.MaxControlPayload, f.PayloadLength)
		}
		if !f.Fin {
			return fmt.Errorf("%w: control frame must not be fragmented", ErrProtocolViolation)
		}
	}
	return nil
}

// IsUnfragmentedData reports whether f carries a whole text or binary message.
func (f *Frame) IsUnfragmentedData() bool {
	return f.Fin && (f.Opcode == OpcodeText || f.Opcode == OpcodeBinary)
}
