//go:build !linux
// +build !linux

// File: reactor/provider_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package reactor

import "github.com/momentics/hiolink/api"

// Provider is unavailable on this platform.
type Provider struct{}

var _ api.IoProvider = (*Provider)(nil)

// NewDualProvider returns api.ErrNotSupported on this platform.
func NewDualProvider(Options) (*Provider, error) { return nil, api.ErrNotSupported }

// NewSingleProvider returns api.ErrNotSupported on this platform.
func NewSingleProvider(Options) (*Provider, error) { return nil, api.ErrNotSupported }

// NewStealingProvider returns api.ErrNotSupported on this platform.
func NewStealingProvider(int, Options) (*Provider, error) { return nil, api.ErrNotSupported }

func (*Provider) Strategy() string { return "" }

func (*Provider) Register(api.Channel, api.Interest, api.ReadyFunc) error {
	return api.ErrNotSupported
}

func (*Provider) Unregister(api.Channel) error { return api.ErrNotSupported }

func (*Provider) Stats() Stats { return Stats{} }

func (*Provider) Close() error { return nil }
