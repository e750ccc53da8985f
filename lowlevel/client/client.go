// Package client dials TCP servers and binds the connection to a
// connector.Connector.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package client

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/momentics/hiolink/connector"
	"github.com/momentics/hiolink/facade"
	"github.com/momentics/hiolink/transport"
)

// DefaultDialTimeout bounds connection establishment.
const DefaultDialTimeout = 10 * time.Second

// Dial connects to addr and returns an active Connector.
func Dial(ctx context.Context, ioctx *facade.IoContext, addr string, opts ...connector.Option) (*connector.Connector, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultDialTimeout)
		defer cancel()
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	tcp := conn.(*net.TCPConn)
	_ = tcp.SetNoDelay(true)
	ch, err := transport.FromTCPConn(tcp)
	if err != nil {
		return nil, err
	}
	c, err := connector.New(ioctx, ch, opts...)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}
	ioctx.Logger().WithField("addr", addr).WithField("conn", c.ID().String()).Debug("connected")
	return c, nil
}
