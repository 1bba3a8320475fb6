package internal

// FrameHeader is the decoded fixed part of a frame, everything before the payload.
type FrameHeader struct {
	IsFinalFrame bool
	// 1 bit each
	RSV1 uint8
	RSV2 uint8
	RSV3 uint8
	// 4 bits
	Opcode Opcode
	// 1 bit
	IsMasked bool
	// 7 bits, 7+16 bits, or 7+64 bits
	PayloadLength uint64
	// 0 or 4 bytes
	MaskingKey [4]byte
	// 2, 4 or 10 bytes plus 4 when masked
	HeaderLength int
}

const (
	MaxControlPayload = 125

	// 7 bit length markers
	PayloadLength16 = 126
	PayloadLength64 = 127

	MaxHeaderLength = 14
)
