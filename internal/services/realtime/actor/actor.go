// Package actor implements the per-user realtime delivery actor: exclusive
// ownership of one socket, heartbeat supervision, long-poll waiter queues,
// the chat message router, and best-effort cross-actor forwarding.
package actor

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/pawmates/realtime/internal/platform/timeouts"
	"github.com/pawmates/realtime/internal/services/realtime/domain"
	"github.com/pawmates/realtime/internal/services/realtime/storage"
)

const defaultRetryAttempts = 3

// Conn is the transport surface an actor owns. The app layer adapts a
// WebSocket connection to it; tests supply recording fakes.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// Options tunes actor timing behavior. Zero values fall back to the shared
// service defaults.
type Options struct {
	Clock             Clock
	HeartbeatInterval time.Duration
	LongPollWindow    time.Duration
	ForwardTimeout    time.Duration
	RetryAttempts     int
	RetryBase         time.Duration
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = SystemClock()
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = timeouts.Heartbeat
	}
	if o.LongPollWindow <= 0 {
		o.LongPollWindow = timeouts.LongPoll
	}
	if o.ForwardTimeout <= 0 {
		o.ForwardTimeout = timeouts.ForwardDelivery
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = defaultRetryAttempts
	}
	if o.RetryBase <= 0 {
		o.RetryBase = timeouts.RetryBase
	}
	return o
}

type connState int

const (
	stateClosed connState = iota
	stateConnecting
	stateOpen
	stateClosing
)

func (s connState) String() string {
	switch s {
	case stateClosed:
		return "CLOSED"
	case stateConnecting:
		return "CONNECTING"
	case stateOpen:
		return "OPEN"
	case stateClosing:
		return "CLOSING"
	}
	return "UNKNOWN"
}

// peer serializes writes to one socket so concurrent senders cannot
// interleave frames.
type peer struct {
	mu   sync.Mutex
	conn Conn
}

func (p *peer) write(v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.WriteJSON(v)
}

// Actor is the single delivery instance for one user. It is created lazily
// by the Registry and lives for the process lifetime; none of its state
// survives a restart.
type Actor struct {
	userID    string
	rooms     storage.RoomDirectory
	store     storage.MessageStore
	forwarder Forwarder
	opts      Options

	mu           sync.Mutex
	state        connState
	peer         *peer
	lastActivity time.Time
	heartbeat    Timer
	waiters      map[domain.PollType][]*waiter
}

func newActor(userID string, rooms storage.RoomDirectory, store storage.MessageStore, forwarder Forwarder, opts Options) *Actor {
	return &Actor{
		userID:    userID,
		rooms:     rooms,
		store:     store,
		forwarder: forwarder,
		opts:      opts,
		waiters:   make(map[domain.PollType][]*waiter),
	}
}

// UserID returns the stable user id this actor serves.
func (a *Actor) UserID() string { return a.userID }

// Connect takes exclusive ownership of conn, displacing any previous socket,
// and sends the initial room subscription frame. A directory lookup failure
// reports an error frame but leaves the session open.
func (a *Actor) Connect(ctx context.Context, conn Conn) {
	if a == nil || conn == nil {
		return
	}

	a.mu.Lock()
	if a.state != stateClosed {
		a.cleanupLocked("displaced by new connection")
	}
	a.state = stateConnecting
	a.peer = &peer{conn: conn}
	a.state = stateOpen
	a.lastActivity = a.opts.Clock.Now()
	a.heartbeat = a.opts.Clock.AfterFunc(a.opts.HeartbeatInterval, a.beat)
	a.mu.Unlock()

	log.Printf("realtime: socket open for user=%q", a.userID)
	a.subscribe(ctx)
}

func (a *Actor) subscribe(ctx context.Context) {
	var rooms []string
	err := a.retry(ctx, func(ctx context.Context) error {
		var listErr error
		rooms, listErr = a.rooms.ListRoomIDsByUser(ctx, a.userID)
		return listErr
	})
	if err != nil {
		log.Printf("realtime: room subscription failed for user=%q: %v", a.userID, err)
		a.safeSend(errorFrame{Type: "error", Message: "Failed to load chat rooms."})
		return
	}
	if rooms == nil {
		rooms = []string{}
	}
	a.safeSend(subscribedFrame{Type: "subscribed", Rooms: rooms})
}

// Disconnect releases the socket and cancels the heartbeat. It is a no-op
// when the actor is already closed.
func (a *Actor) Disconnect(reason string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.cleanupLocked(reason)
	a.mu.Unlock()
}

// Release closes the session only while conn is still the owned socket. A
// reader displaced by a newer connection must not tear down its successor.
func (a *Actor) Release(conn Conn, reason string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	if a.peer == nil || a.peer.conn != conn {
		a.mu.Unlock()
		return
	}
	a.cleanupLocked(reason)
	a.mu.Unlock()
}

func (a *Actor) cleanupLocked(reason string) {
	if a.state == stateClosed {
		return
	}
	a.state = stateClosing
	if a.heartbeat != nil {
		a.heartbeat.Stop()
		a.heartbeat = nil
	}
	if a.peer != nil {
		_ = a.peer.conn.Close()
		a.peer = nil
	}
	a.state = stateClosed
	log.Printf("realtime: socket closed for user=%q reason=%q", a.userID, reason)
}

// safeSend writes one frame to the open socket. Sends on a non-open socket
// are swallowed with a logged warning; a write failure releases the
// connection. The return value reports whether the frame was delivered.
func (a *Actor) safeSend(v any) bool {
	if a == nil {
		return false
	}
	a.mu.Lock()
	if a.state != stateOpen || a.peer == nil {
		state := a.state
		a.mu.Unlock()
		log.Printf("realtime: dropping frame for user=%q: connection state is %s", a.userID, state)
		return false
	}
	p := a.peer
	a.mu.Unlock()

	if err := p.write(v); err != nil {
		log.Printf("realtime: socket write failed for user=%q: %v", a.userID, err)
		a.Release(p.conn, "write failed")
		return false
	}
	return true
}

// beat sends one heartbeat frame and re-arms itself while the socket it was
// scheduled for is still owned. A failed heartbeat ends that session; the
// client must reconnect. A beat whose socket was displaced mid-flight neither
// re-arms nor touches the successor.
func (a *Actor) beat() {
	a.mu.Lock()
	if a.state != stateOpen || a.peer == nil {
		a.mu.Unlock()
		return
	}
	p := a.peer
	a.mu.Unlock()

	if err := p.write(infoTypeFrame{Type: "heartbeat"}); err != nil {
		log.Printf("realtime: heartbeat write failed for user=%q: %v", a.userID, err)
		a.Release(p.conn, "heartbeat failed")
		return
	}

	a.mu.Lock()
	if a.state == stateOpen && a.peer == p {
		a.heartbeat = a.opts.Clock.AfterFunc(a.opts.HeartbeatInterval, a.beat)
	}
	a.mu.Unlock()
}

// Push delivers an arbitrary payload over the open socket. It reports false
// when no connection is open; the payload is never queued for later.
func (a *Actor) Push(payload any) bool {
	return a.safeSend(payload)
}

// LastActivity reports when the actor last accepted a connection or inbound
// frame.
func (a *Actor) LastActivity() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastActivity
}

func (a *Actor) retry(ctx context.Context, op func(context.Context) error) error {
	return withRetry(ctx, a.opts.Clock, a.opts.RetryAttempts, a.opts.RetryBase, op)
}

func (a *Actor) currentState() connState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}
