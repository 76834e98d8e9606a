package actor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pawmates/realtime/internal/services/realtime/storage"
)

// fakeClock drives actor timers deterministically. Timer callbacks run on
// the goroutine calling Advance.
type fakeClock struct {
	mu        sync.Mutex
	now       time.Time
	timers    []*fakeTimer
	durations []time.Duration
}

type fakeTimer struct {
	clock   *fakeClock
	when    time.Time
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, when: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, t)
	c.durations = append(c.durations, d)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	remaining := c.timers[:0]
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.when.After(c.now) {
			t.fired = true
			due = append(due, t)
			continue
		}
		if !t.stopped && !t.fired {
			remaining = append(remaining, t)
		}
	}
	c.timers = remaining
	c.mu.Unlock()

	for _, t := range due {
		t.fn()
	}
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			count++
		}
	}
	return count
}

// waitForTimers blocks until at least n timers are armed, for tests that
// advance the clock while another goroutine is scheduling waits.
func waitForTimers(t *testing.T, clock *fakeClock, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if clock.pending() >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d armed timers, have %d", n, clock.pending())
}

// fakeConn records frames written to it.
type fakeConn struct {
	mu       sync.Mutex
	frames   []any
	writeErr error
	closed   int
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.frames = append(c.frames, v)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *fakeConn) failWrites(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

func (c *fakeConn) frameCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// frameJSON re-marshals the i-th written frame so assertions see the wire
// shape rather than internal struct types.
func (c *fakeConn) frameJSON(t *testing.T, i int) map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if i >= len(c.frames) {
		t.Fatalf("frame %d not written, have %d frames", i, len(c.frames))
	}
	raw, err := json.Marshal(c.frames[i])
	if err != nil {
		t.Fatalf("marshal frame %d: %v", i, err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal frame %d: %v", i, err)
	}
	return decoded
}

// fakeDirectory serves room membership from memory.
type fakeDirectory struct {
	mu          sync.Mutex
	rooms       map[string]storage.RoomRecord
	roomsByUser map[string][]string
	getErr      error
	listErr     error
	getCalls    int
}

func (d *fakeDirectory) GetRoom(_ context.Context, roomID string) (storage.RoomRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.getCalls++
	if d.getErr != nil {
		return storage.RoomRecord{}, d.getErr
	}
	room, ok := d.rooms[roomID]
	if !ok {
		return storage.RoomRecord{}, storage.ErrNotFound
	}
	return room, nil
}

func (d *fakeDirectory) ListRoomIDsByUser(_ context.Context, userID string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listErr != nil {
		return nil, d.listErr
	}
	return d.roomsByUser[userID], nil
}

// fakeStore records appended messages and can fail the first failures
// attempts.
type fakeStore struct {
	mu       sync.Mutex
	appended []storage.MessageRecord
	failures int
	attempts int
}

func (s *fakeStore) AppendMessage(_ context.Context, record storage.MessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.attempts <= s.failures {
		return errors.New("store unavailable")
	}
	s.appended = append(s.appended, record)
	return nil
}

func (s *fakeStore) ListMessagesByRoom(_ context.Context, roomID string) ([]storage.MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var records []storage.MessageRecord
	for _, record := range s.appended {
		if record.RoomID == roomID {
			records = append(records, record)
		}
	}
	return records, nil
}

func (s *fakeStore) appendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.appended)
}

func (s *fakeStore) attemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func twoUserRoom() storage.RoomRecord {
	return storage.RoomRecord{
		RoomID:         "room_shared",
		Participant1ID: "user_a",
		Participant2ID: "user_b",
	}
}

type testEnv struct {
	clock     *fakeClock
	directory *fakeDirectory
	store     *fakeStore
	registry  *Registry
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()

	clock := newFakeClock()
	if opts.Clock == nil {
		opts.Clock = clock
	}
	directory := &fakeDirectory{
		rooms:       map[string]storage.RoomRecord{"room_shared": twoUserRoom()},
		roomsByUser: map[string][]string{"user_a": {"room_shared"}, "user_b": {"room_shared"}},
	}
	store := &fakeStore{}
	return &testEnv{
		clock:     clock,
		directory: directory,
		store:     store,
		registry:  NewRegistry(directory, store, opts),
	}
}

// connect opens a recording socket for userID and returns it.
func (e *testEnv) connect(t *testing.T, userID string) *fakeConn {
	t.Helper()
	conn := &fakeConn{}
	e.registry.Actor(userID).Connect(context.Background(), conn)
	return conn
}
