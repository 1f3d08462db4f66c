// Package typing publishes and aggregates the ephemeral per-room typing
// flags. A true flag self-expires after a bounded interval even if the
// client never clears it, so a crashed composer cannot leave a room stuck
// on "typing".
package typing

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/roomchat/internal/logger"
	"github.com/roomchat/internal/model"
	"github.com/roomchat/internal/storage"
)

// DefaultExpiry bounds how long a typing flag stays true without renewal.
const DefaultExpiry = 3 * time.Second

type Coordinator struct {
	store  storage.RealtimeStore
	expiry time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer // (roomID,userID) -> pending expiry
	closed bool
}

func NewCoordinator(store storage.RealtimeStore) *Coordinator {
	return NewCoordinatorExpiry(store, DefaultExpiry)
}

// NewCoordinatorExpiry exists for tests; production callers use the default.
func NewCoordinatorExpiry(store storage.RealtimeStore, expiry time.Duration) *Coordinator {
	return &Coordinator{
		store:  store,
		expiry: expiry,
		timers: make(map[string]*time.Timer),
	}
}

// SetTyping writes the flag immediately. typing=true arms an expiry timer
// that rewrites false unless a later call intervenes; every call cancels the
// previously pending timer for that (room, user), so renewing at 2s moves
// the expiry to a full interval from that point. Errors are swallowed:
// typing is cosmetic.
func (c *Coordinator) SetTyping(ctx context.Context, roomID, userID string, typing bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	key := roomID + "/" + userID
	if t, ok := c.timers[key]; ok {
		t.Stop()
		delete(c.timers, key)
	}
	if typing {
		c.timers[key] = time.AfterFunc(c.expiry, func() { c.expire(roomID, userID) })
	}
	c.mu.Unlock()

	c.write(ctx, roomID, userID, typing)
}

func (c *Coordinator) expire(roomID, userID string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	delete(c.timers, roomID+"/"+userID)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c.write(ctx, roomID, userID, false)
}

func (c *Coordinator) write(ctx context.Context, roomID, userID string, typing bool) {
	data, err := json.Marshal(typing)
	if err != nil {
		logger.Errorf("typing marshal room=%s user=%s: %v", roomID, userID, err)
		return
	}
	if err := c.store.Put(ctx, storage.TypingDir(roomID), userID, data); err != nil {
		logger.Errorf("typing write room=%s user=%s typing=%t: %v", roomID, userID, typing, err)
	}
}

// ObserveRoomTyping watches the room's typing dir and reduces it to a single
// boolean: is any user other than excludeUserID currently typing. Keys are
// compared on canonical string form — the backend hands out numeric user ids
// while the store keys are strings, and a raw comparison would count
// self-typing as remote.
func (c *Coordinator) ObserveRoomTyping(ctx context.Context, roomID string, excludeUserID any, fn func(bool)) (storage.Subscription, error) {
	exclude := model.CanonicalID(excludeUserID)
	flags := make(map[string]bool)
	var mu sync.Mutex

	return c.store.Watch(ctx, storage.TypingDir(roomID), func(ev storage.Event) {
		var typing bool
		if err := json.Unmarshal(ev.Data, &typing); err != nil {
			logger.Errorf("typing decode room=%s key=%s: %v", roomID, ev.Key, err)
			return
		}
		mu.Lock()
		flags[model.CanonicalID(ev.Key)] = typing
		any := false
		for user, on := range flags {
			if on && user != exclude {
				any = true
				break
			}
		}
		mu.Unlock()
		fn(any)
	})
}

// Close cancels every pending expiry timer. Flags already true in the store
// are cleared by the session controller's final SetTyping(false).
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for key, t := range c.timers {
		t.Stop()
		delete(c.timers, key)
	}
}
