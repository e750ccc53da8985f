// File: lowlevel/server/handler_chain.go
// Package server implements middleware chain utilities.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"github.com/momentics/hiolink/connector"
	"github.com/momentics/hiolink/protocol"
	"github.com/sirupsen/logrus"
)

// Middleware augments a connector.PacketHandler.
type Middleware func(connector.PacketHandler) connector.PacketHandler

// NewHandlerChain applies middleware in order: first in slice is outermost.
func NewHandlerChain(base connector.PacketHandler, mw ...Middleware) connector.PacketHandler {
	h := base
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

// LogPackets logs every packet before passing it on.
func LogPackets(log logrus.FieldLogger) Middleware {
	return func(next connector.PacketHandler) connector.PacketHandler {
		return func(c *connector.Connector, p *protocol.ReceivePacket) bool {
			log.WithFields(logrus.Fields{
				"conn":   c.ID().String(),
				"type":   p.Type.String(),
				"length": p.Length,
			}).Debug("packet received")
			return next(c, p)
		}
	}
}
