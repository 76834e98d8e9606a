package actor

import (
	"strings"
	"sync"

	"github.com/pawmates/realtime/internal/services/realtime/storage"
)

// Registry is the actor directory: it maps each stable user id to its one
// logical actor, creating it lazily on first reference. Actors never leave
// the registry; their state is in-memory only and lost on process eviction.
type Registry struct {
	rooms storage.RoomDirectory
	store storage.MessageStore
	opts  Options

	mu     sync.Mutex
	actors map[string]*Actor
}

// NewRegistry builds an actor directory over the given room directory and
// message store.
func NewRegistry(rooms storage.RoomDirectory, store storage.MessageStore, opts Options) *Registry {
	return &Registry{
		rooms:  rooms,
		store:  store,
		opts:   opts.withDefaults(),
		actors: make(map[string]*Actor),
	}
}

// Actor returns the actor for userID, creating it on first reference.
func (r *Registry) Actor(userID string) *Actor {
	userID = strings.TrimSpace(userID)

	r.mu.Lock()
	defer r.mu.Unlock()

	if act, ok := r.actors[userID]; ok {
		return act
	}
	act := newActor(userID, r.rooms, r.store, &directoryForwarder{registry: r, clock: r.opts.Clock}, r.opts)
	r.actors[userID] = act
	return act
}
