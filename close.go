package websocket

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/wmdanor/wsclient/frame"
)

type CloseCode = frame.CloseCode

// Close codes defined in RFC 6455, section 11.7.
const (
	CloseNormalClosure           = frame.CloseNormalClosure
	CloseGoingAway               = frame.CloseGoingAway
	CloseProtocolError           = frame.CloseProtocolError
	CloseUnsupportedData         = frame.CloseUnsupportedData
	CloseNoStatusReceived        = frame.CloseNoStatusReceived
	CloseAbnormalClosure         = frame.CloseAbnormalClosure
	CloseInvalidFramePayloadData = frame.CloseInvalidFramePayloadData
	ClosePolicyViolation         = frame.ClosePolicyViolation
	CloseMessageTooBig           = frame.CloseMessageTooBig
	CloseMandatoryExtension      = frame.CloseMandatoryExtension
	CloseInternalServerErr       = frame.CloseInternalServerErr
	CloseServiceRestart          = frame.CloseServiceRestart
	CloseTryAgainLater           = frame.CloseTryAgainLater
	CloseTLSHandshake            = frame.CloseTLSHandshake
)

func (c *Conn) Close() error {
	return c.CloseWithCode(CloseNormalClosure, "")
}

// CloseWithCode runs the close handshake: it sends a close frame, moves the
// connection to StateClosing and waits until the server answers or the close
// timeout passes. It is a no-op returning nil unless the connection is open.
// Messages arriving after the close frame was sent are discarded.
//
// It must not be called from a ping or pong handler.
func (c *Conn) CloseWithCode(code CloseCode, reason string) error {
	if !code.IsValid() {
		return fmt.Errorf("invalid close code: %d", code)
	}

	c.writeMu.Lock()
	if !c.beginClosing(InitiatorLocal) {
		c.writeMu.Unlock()
		c.l.Debug("connection is not open, skipping close")
		return nil
	}

	c.l.Debug("closing websocket connection", zap.Uint16("code", code.U()), zap.String("reason", reason))

	err := c.writeFrameLocked(frame.OpcodeClose, frame.ClosePayload(code, reason))
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to send close frame: [%w]", err)
	}

	<-c.done

	err = c.Err()
	if errors.Is(err, ErrClosed) {
		c.l.Debug("websocket connection closed")
		return nil
	}
	return err
}
