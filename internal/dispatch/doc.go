// File: internal/dispatch/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package dispatch drives the framing state machines between a Connector
// and its Sender/Receiver: SendDispatcher turns queued packets into frame
// rounds, ReceiveDispatcher reassembles frames from arbitrary short reads,
// and BridgeDispatcher relays raw bytes from one connection to another.
//
// Every dispatcher owns exactly one IoArgs per direction and posts at most
// one operation at a time. Completions arrive on provider workers; owner
// callbacks are invoked without holding dispatcher locks.
package dispatch
