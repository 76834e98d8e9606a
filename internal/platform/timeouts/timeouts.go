// Package timeouts defines shared timeout constants used across the service.
// Centralizing these values prevents drift between components and makes the
// durations discoverable.
package timeouts

import "time"

// Heartbeat is the interval between liveness frames on an open socket.
const Heartbeat = 45 * time.Second

// LongPoll caps how long a poll request blocks waiting for a signal.
const LongPoll = 30 * time.Second

// ForwardDelivery caps a best-effort push to another user's actor.
const ForwardDelivery = 5 * time.Second

// RetryBase is the first backoff wait between store retry attempts.
const RetryBase = 250 * time.Millisecond

// GRPCDial caps the wait time when dialing a gRPC peer.
const GRPCDial = 2 * time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long an HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second
