package internal

import "fmt"

type Opcode uint8

const (
	OpcodeContinuationFrame Opcode = iota
	OpcodeTextFrame
	OpcodeBinaryFrame
	OpcodeNonControlFrame1
	OpcodeNonControlFrame2
	OpcodeNonControlFrame3
	OpcodeNonControlFrame4
	OpcodeNonControlFrame5
	OpcodeConnectionClose
	OpcodePing
	OpcodePong
	OpcodeControlFrame1
	OpcodeControlFrame2
	OpcodeControlFrame3
	OpcodeControlFrame4
	OpcodeControlFrame5
)

func (c Opcode) IsControl() bool {
	return c == OpcodeConnectionClose || c == OpcodePing || c == OpcodePong
}

func (c Opcode) IsData() bool {
	return c == OpcodeContinuationFrame || c == OpcodeTextFrame || c == OpcodeBinaryFrame
}

func (c Opcode) IsReserved() bool {
	return c > OpcodeControlFrame5 || (!c.IsControl() && !c.IsData())
}

func (c Opcode) String() string {
	switch c {
	case OpcodeContinuationFrame:
		return "continuation"
	case OpcodeTextFrame:
		return "text"
	case OpcodeBinaryFrame:
		return "binary"
	case OpcodeConnectionClose:
		return "close"
	case OpcodePing:
		return "ping"
	case OpcodePong:
		return "pong"
	default:
		return fmt.Sprintf("reserved(%X)", uint8(c))
	}
}
