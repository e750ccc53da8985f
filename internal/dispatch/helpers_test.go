// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package dispatch_test

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/momentics/hiolink/api"
	"github.com/momentics/hiolink/core/buffer"
	"github.com/momentics/hiolink/fake"
	"github.com/momentics/hiolink/protocol"
	"github.com/momentics/hiolink/transport"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

// wire returns an adapter over the local end of a fake pipe together with
// both ends.
func wire(t *testing.T, p *fake.Provider) (*transport.SocketAdapter, *fake.Channel, *fake.Channel) {
	t.Helper()
	local, remote := fake.Pipe()
	a := transport.NewSocketAdapter(local, p, quietLogger(), nil)
	t.Cleanup(func() { _ = a.Close() })
	return a, local, remote
}

func newProvider(t *testing.T) *fake.Provider {
	t.Helper()
	p := fake.NewProvider()
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func frame(t *testing.T, typ protocol.PacketType, info, payload []byte) []byte {
	t.Helper()
	var b bytes.Buffer
	require.NoError(t, protocol.WriteFrame(&b, typ, info, payload))
	return b.Bytes()
}

func memoryFactory(t protocol.PacketType, length int64, info []byte) (*protocol.ReceivePacket, error) {
	return protocol.NewMemoryReceivePacket(t, length, info), nil
}

// stallSender records every posted round and completes it only when
// release is called.
type stallSender struct {
	mu      sync.Mutex
	pending []func()
	rounds  [][]byte
	written bytes.Buffer
}

var _ api.Sender = (*stallSender)(nil)

func (s *stallSender) PostSend(args *buffer.IoArgs, done api.IoCompletion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	round := append([]byte(nil), args.Bytes()...)
	s.rounds = append(s.rounds, round)
	s.written.Write(round)
	s.pending = append(s.pending, func() {
		args.ReadToBytes(make([]byte, args.Remained()))
		done(args, nil)
	})
	return nil
}

func (s *stallSender) Close() error { return nil }

// release completes the oldest posted round.
func (s *stallSender) release() bool {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return false
	}
	fn := s.pending[0]
	s.pending = s.pending[1:]
	s.mu.Unlock()
	fn()
	return true
}

func (s *stallSender) drain() {
	for s.release() {
	}
}

func (s *stallSender) bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.written.Bytes()...)
}

func (s *stallSender) roundSizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.rounds))
	for i, r := range s.rounds {
		out[i] = len(r)
	}
	return out
}
