// File: connector/factory.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package connector

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/momentics/hiolink/api"
	"github.com/momentics/hiolink/internal/dispatch"
	"github.com/momentics/hiolink/protocol"
	"github.com/spf13/afero"
)

// DefaultPacketFactory materializes memory packet types in memory and
// stream-file packets as files below dir on fs.
func DefaultPacketFactory(fs afero.Fs, dir string) dispatch.PacketFactory {
	return func(t protocol.PacketType, length int64, info []byte) (*protocol.ReceivePacket, error) {
		switch t {
		case protocol.TypeMemoryBytes, protocol.TypeMemoryString, protocol.TypeStreamDirect:
			return protocol.NewMemoryReceivePacket(t, length, info), nil
		case protocol.TypeStreamFile:
			if err := fs.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create cache dir: %w", err)
			}
			path := filepath.Join(dir, cacheName(info))
			return protocol.NewFileReceivePacket(fs, path, length, info), nil
		}
		return nil, fmt.Errorf("%w: %d", api.ErrUnknownPacketType, byte(t))
	}
}

// cacheName derives a unique file name, keeping the sender's base name as a
// suffix when it is safe to use.
func cacheName(info []byte) string {
	base := filepath.Base(string(info))
	if base == "." || base == string(filepath.Separator) || strings.ContainsAny(base, `/\`) {
		base = ""
	}
	name := uuid.NewString()
	if base != "" {
		name += "-" + base
	}
	return name
}

func defaultCacheDir() string {
	return filepath.Join(os.TempDir(), "hiolink")
}
