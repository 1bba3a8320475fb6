package websocket

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wmdanor/wsclient/frame"
	"github.com/wmdanor/wsclient/internal"
)

// Send writes payload as a single text message.
func (c *Conn) Send(payload []byte) error {
	return c.WriteMessage(TextMessage, payload)
}

// WriteMessage writes data as one unfragmented frame. It fails with
// ErrNotOpen, without side effects, unless the connection is open.
func (c *Conn) WriteMessage(messageType MessageType, data []byte) error {
	if messageType != TextMessage && messageType != BinaryMessage {
		return fmt.Errorf("message type must be text or binary")
	}

	return c.writeFrame(internal.Opcode(messageType), data)
}

// WriteControl writes a ping or pong frame. Close frames are sent by Close.
func (c *Conn) WriteControl(messageType MessageType, data []byte) error {
	if messageType != PingMessage && messageType != PongMessage {
		return fmt.Errorf("message type must be ping or pong")
	}

	return c.writeFrame(internal.Opcode(messageType), data)
}

func (c *Conn) writeFrame(opcode internal.Opcode, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if state := c.State(); state != StateOpen {
		return fmt.Errorf("%w: connection is %s", ErrNotOpen, state)
	}

	return c.writeFrameLocked(opcode, data)
}

// writeFrameLocked requires writeMu. A transport failure closes the connection.
func (c *Conn) writeFrameLocked(opcode internal.Opcode, data []byte) error {
	b, err := frame.Encode(opcode, data)
	if err != nil {
		return fmt.Errorf("failed to encode %s frame: [%w]", opcode, err)
	}

	c.l.Debug("writing frame", zap.Stringer("opcode", opcode), zap.Int("payloadLength", len(data)))

	_, err = c.conn.Write(b)
	if err != nil {
		c.l.Debug("failed to write frame", zap.Error(err))
		c.lost("write", err)
		return &TransportError{Op: "write", Err: err}
	}

	return nil
}
