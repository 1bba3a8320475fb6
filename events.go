package websocket

import (
	"errors"

	"go.uber.org/zap"
)

// SetPingHandler sets the function called with the payload of every received
// ping. The default answers with a pong carrying the same payload.
// Handlers run on the receive goroutine.
func (c *Conn) SetPingHandler(h func(appData []byte) error) {
	if h == nil {
		h = func(appData []byte) error {
			c.l.Debug("received ping message", zap.ByteString("data", appData))
			err := c.WriteControl(PongMessage, appData)
			if errors.Is(err, ErrNotOpen) {
				// closing, the pong is not owed anymore
				return nil
			}
			return err
		}
	}

	c.mu.Lock()
	c.handlePing = h
	c.mu.Unlock()
}

// SetPongHandler sets the function called with the payload of every received pong.
func (c *Conn) SetPongHandler(h func(appData []byte) error) {
	if h == nil {
		h = func(appData []byte) error {
			c.l.Debug("received pong message", zap.ByteString("data", appData))
			return nil
		}
	}

	c.mu.Lock()
	c.handlePong = h
	c.mu.Unlock()
}
