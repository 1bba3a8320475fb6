package frame

import (
	"encoding/binary"
	"fmt"
	"slices"
	"unicode/utf8"

	"github.com/wmdanor/wsclient/internal"
)

type CloseCode uint16

// Close codes defined in RFC 6455, section 11.7.
const (
	CloseNormalClosure           CloseCode = 1000
	CloseGoingAway               CloseCode = 1001
	CloseProtocolError           CloseCode = 1002
	CloseUnsupportedData         CloseCode = 1003
	CloseNoStatusReceived        CloseCode = 1005
	CloseAbnormalClosure         CloseCode = 1006
	CloseInvalidFramePayloadData CloseCode = 1007
	ClosePolicyViolation         CloseCode = 1008
	CloseMessageTooBig           CloseCode = 1009
	CloseMandatoryExtension      CloseCode = 1010
	CloseInternalServerErr       CloseCode = 1011
	CloseServiceRestart          CloseCode = 1012
	CloseTryAgainLater           CloseCode = 1013
	CloseTLSHandshake            CloseCode = 1015
)

// codes that may appear on the wire; 1005, 1006 and 1015 are local only
var validCloseCodes = []CloseCode{
	CloseNormalClosure,
	CloseGoingAway,
	CloseProtocolError,
	CloseUnsupportedData,
	CloseInvalidFramePayloadData,
	ClosePolicyViolation,
	CloseMessageTooBig,
	CloseMandatoryExtension,
	CloseInternalServerErr,
	CloseServiceRestart,
	CloseTryAgainLater,
}

func (c CloseCode) U() uint16 {
	return uint16(c)
}

func (c CloseCode) IsValid() bool {
	return slices.Contains(validCloseCodes, c) || (c >= 3000 && c <= 4999)
}

// ClosePayload builds the application data of a close frame.
// The reason is cut so the payload fits a control frame.
func ClosePayload(code CloseCode, reason string) []byte {
	if code == CloseNoStatusReceived {
		return nil
	}

	maxReason := internal.MaxControlPayload - 2
	for len(reason) > maxReason {
		// drop whole runes only
		_, size := utf8.DecodeLastRuneInString(reason)
		reason = reason[:len(reason)-size]
	}

	b := make([]byte, 2, 2+len(reason))
	binary.BigEndian.PutUint16(b, code.U())

	return append(b, reason...)
}

// ParseClosePayload splits close frame data into code and reason.
// An empty payload means no status was sent.
func ParseClosePayload(p []byte) (CloseCode, string, error) {
	switch {
	case len(p) == 0:
		return CloseNoStatusReceived, "", nil
	case len(p) == 1:
		return 0, "", fmt.Errorf("%w: close frame must either have 0 or 2+ payload length, but received 1", ErrProtocolViolation)
	}

	code := CloseCode(binary.BigEndian.Uint16(p))
	if !code.IsValid() {
		return 0, "", fmt.Errorf("%w: received invalid close code: %d", ErrProtocolViolation, code)
	}

	reason := p[2:]
	if !utf8.Valid(reason) {
		return 0, "", fmt.Errorf("%w: %w: close frame reason must be valid UTF-8 encoded string", ErrProtocolViolation, ErrInvalidUTF8)
	}

	return code, string(reason), nil
}
