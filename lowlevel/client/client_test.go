// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package client_test

import (
	"context"
	"net"
	"testing"

	"github.com/momentics/hiolink/facade"
	"github.com/momentics/hiolink/fake"
	"github.com/momentics/hiolink/lowlevel/client"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialRefused(t *testing.T) {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	ioctx, err := facade.New(nil, facade.WithLogger(l), facade.WithProvider(fake.NewProvider()))
	require.NoError(t, err)
	defer ioctx.Stop()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = client.Dial(context.Background(), ioctx, addr)
	assert.Error(t, err)
}
