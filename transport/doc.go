// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package transport provides the non-blocking socket Channel used by the
// dispatch core and SocketAdapter, which implements api.Sender and
// api.Receiver on top of any api.IoProvider.
package transport
