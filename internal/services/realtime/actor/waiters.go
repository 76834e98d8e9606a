package actor

import (
	"context"

	"github.com/pawmates/realtime/internal/services/realtime/domain"
)

// waiter is one suspended long-poll request. It resolves exactly once,
// either by a matching signal or by its own deadline.
type waiter struct {
	pollType domain.PollType
	ch       chan domain.PollResult
	timer    Timer
}

// EnqueueWait registers a long-poll waiter for pollType and returns the
// channel carrying its eventual resolution. The waiter resolves with
// updated=false when the poll window expires without a signal.
func (a *Actor) EnqueueWait(pollType domain.PollType) <-chan domain.PollResult {
	w := &waiter{
		pollType: pollType,
		ch:       make(chan domain.PollResult, 1),
	}

	a.mu.Lock()
	w.timer = a.opts.Clock.AfterFunc(a.opts.LongPollWindow, func() { a.expireWaiter(w) })
	a.waiters[pollType] = append(a.waiters[pollType], w)
	a.mu.Unlock()

	return w.ch
}

// Poll blocks until the waiter resolves. The waiter's own deadline is the
// only cancellation path, so resolution is bounded by the poll window.
func (a *Actor) Poll(_ context.Context, pollType domain.PollType) domain.PollResult {
	return <-a.EnqueueWait(pollType)
}

// SignalNewData resolves every waiter currently queued for pollType with
// updated=true and reports how many were drained. A signal with no queued
// waiters is dropped; there is no replay buffer.
func (a *Actor) SignalNewData(pollType domain.PollType) int {
	a.mu.Lock()
	drained := a.waiters[pollType]
	delete(a.waiters, pollType)
	a.mu.Unlock()

	for _, w := range drained {
		w.timer.Stop()
		w.ch <- domain.PollResult{Updated: true, Type: w.pollType}
	}
	return len(drained)
}

func (a *Actor) expireWaiter(w *waiter) {
	a.mu.Lock()
	removed := a.removeWaiterLocked(w)
	a.mu.Unlock()

	// Only the remover resolves, so a racing signal cannot double-resolve.
	if removed {
		w.ch <- domain.PollResult{Updated: false, Type: w.pollType}
	}
}

func (a *Actor) removeWaiterLocked(w *waiter) bool {
	queue := a.waiters[w.pollType]
	for i, queued := range queue {
		if queued == w {
			a.waiters[w.pollType] = append(queue[:i], queue[i+1:]...)
			if len(a.waiters[w.pollType]) == 0 {
				delete(a.waiters, w.pollType)
			}
			return true
		}
	}
	return false
}

func (a *Actor) queuedWaiters(pollType domain.PollType) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.waiters[pollType])
}
