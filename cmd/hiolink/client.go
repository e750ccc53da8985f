package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/momentics/hiolink/connector"
	"github.com/momentics/hiolink/lowlevel/client"
	"github.com/momentics/hiolink/protocol"
	"github.com/spf13/cobra"
)

var dialAddr string

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Send stdin lines as string packets",
	Long: `
Connect to a server and send every line read from stdin as a string packet.
Packets received from the server are printed to stdout. A line of the form
"file <path>" sends the file as a stream-file packet.

Examples:
  hiolink client -a 127.0.0.1:30401
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := bootstrap()
		if err != nil {
			return err
		}
		defer rt.ioctx.Stop()

		addr := dialAddr
		if addr == "" {
			addr = rt.store.Get().Client.Addr
		}
		out := cmd.OutOrStdout()
		conn, err := client.Dial(context.Background(), rt.ioctx, addr,
			connector.WithPacketHandler(func(_ *connector.Connector, p *protocol.ReceivePacket) bool {
				switch p.Type {
				case protocol.TypeStreamFile:
					fmt.Fprintf(out, "< file %s stored at %s\n", p.Info, p.Path())
				default:
					fmt.Fprintf(out, "< %s\n", p.String())
				}
				return true
			}),
			connector.WithCloseHandler(func(_ *connector.Connector, err error) {
				if err != nil {
					rt.log.WithError(err).Warn("connection lost")
				}
			}),
		)
		if err != nil {
			return err
		}
		defer conn.Close()

		lines := make(chan string)
		go func() {
			defer close(lines)
			sc := bufio.NewScanner(cmd.InOrStdin())
			for sc.Scan() {
				lines <- sc.Text()
			}
		}()
		for {
			select {
			case <-conn.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				if path, isFile := strings.CutPrefix(line, "file "); isFile {
					if _, err := conn.SendFile(strings.TrimSpace(path)); err != nil {
						rt.log.WithError(err).Warn("file not sent")
					}
					continue
				}
				if err := conn.SendString(line); err != nil {
					return err
				}
			}
		}
	},
}

func init() {
	clientCmd.Flags().StringVarP(&dialAddr, "addr", "a", "", "server address (default from config)")
}
