package actor

import (
	"context"
	"log"
	"strings"

	"github.com/pawmates/realtime/internal/services/realtime/domain"
)

// Forwarder pushes a message envelope to another user's actor. Delivery is
// best-effort and at-most-once: every failure mode collapses into a false
// return, never an error.
type Forwarder interface {
	Forward(ctx context.Context, targetUserID string, envelope domain.Envelope) bool
}

// directoryForwarder resolves targets through the in-process registry and
// races each push against the delivery timeout. The message store remains
// the source of truth regardless of the outcome here.
type directoryForwarder struct {
	registry *Registry
	clock    Clock
}

func (f *directoryForwarder) Forward(ctx context.Context, targetUserID string, envelope domain.Envelope) bool {
	if f == nil || f.registry == nil {
		return false
	}
	targetUserID = strings.TrimSpace(targetUserID)
	if targetUserID == "" {
		return false
	}

	target := f.registry.Actor(targetUserID)

	done := make(chan bool, 1)
	go func() {
		done <- target.Push(envelope)
	}()

	expired := make(chan struct{})
	timer := f.clock.AfterFunc(f.registry.opts.ForwardTimeout, func() { close(expired) })

	select {
	case delivered := <-done:
		timer.Stop()
		return delivered
	case <-expired:
		log.Printf("realtime: forward to user=%q timed out", targetUserID)
		return false
	case <-ctx.Done():
		timer.Stop()
		return false
	}
}
