package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/momentics/hiolink/connector"
	"github.com/momentics/hiolink/lowlevel/server"
	"github.com/momentics/hiolink/protocol"
	"github.com/spf13/cobra"
)

var (
	listenAddr string
	relayMode  bool
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run an echo or relay server",
	Long: `
Run a server that echoes every string and bytes packet back to its sender.
With --relay, accepted connections are paired two by two and raw bytes are
relayed between them without framing.

Examples:
  hiolink server                        # echo on the configured address
  hiolink server -l :4000               # echo on port 4000
  hiolink server -c hiolink.yaml --relay
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := bootstrap()
		if err != nil {
			return err
		}
		defer rt.ioctx.Stop()

		addr := listenAddr
		if addr == "" {
			addr = rt.store.Get().Server.Listen
		}
		opts := []server.ServerOption{}
		if relayMode {
			opts = append(opts, server.WithRelay())
		} else {
			opts = append(opts, server.WithHandler(echo, server.LogPackets(rt.log)))
		}
		srv, err := server.NewServer(rt.ioctx, addr, opts...)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return srv.Serve(ctx)
	},
}

// echo sends memory packets back to the peer.
func echo(c *connector.Connector, p *protocol.ReceivePacket) bool {
	switch p.Type {
	case protocol.TypeMemoryString:
		_ = c.SendString(p.String())
	case protocol.TypeMemoryBytes, protocol.TypeStreamDirect:
		_ = c.SendBytes(append([]byte(nil), p.Bytes()...))
	default:
		return false
	}
	return true
}

func init() {
	serverCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "listen address (default from config)")
	serverCmd.Flags().BoolVar(&relayMode, "relay", false, "relay raw bytes between paired connections")
}
