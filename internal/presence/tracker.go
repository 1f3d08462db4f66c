// Package presence maintains a user's online/offline record in the realtime
// store and observes other users' records. Writes are best-effort: a lost
// presence update degrades the peer's status line, nothing else.
package presence

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/roomchat/internal/logger"
	"github.com/roomchat/internal/model"
	"github.com/roomchat/internal/storage"
)

// AppState mirrors the mobile app lifecycle transitions that drive presence.
type AppState string

const (
	AppStateForeground AppState = "foreground"
	AppStateBackground AppState = "background"
)

// trackers enforces one Tracker per user per process. A second tracker for
// the same user would fight over the same status path and the disconnect
// fallback registration.
var (
	trackersMu sync.Mutex
	trackers   = make(map[string]*Tracker)
)

// Tracker owns the local user's presence record. Other users' records are
// read-only observations via ObserveStatus.
type Tracker struct {
	store  storage.RealtimeStore
	userID string

	mu     sync.Mutex
	online bool
	closed bool
}

// ForUser returns the process-wide tracker for userID, creating it on first
// use. Constructed once at session start, torn down with Close at logout.
func ForUser(store storage.RealtimeStore, userID string) *Tracker {
	trackersMu.Lock()
	defer trackersMu.Unlock()
	if t, ok := trackers[userID]; ok {
		return t
	}
	t := &Tracker{store: store, userID: userID}
	trackers[userID] = t
	return t
}

// SetOnline writes the presence record with a server-assigned timestamp.
// Going online also registers the store-side fallback that flips the record
// to offline if the connection drops without a graceful write; going offline
// clears it. Failures are logged and otherwise ignored, never retried.
func (t *Tracker) SetOnline(ctx context.Context, online bool) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.online = online
	t.mu.Unlock()

	now, err := t.store.Now(ctx)
	if err != nil {
		logger.Errorf("presence server time user=%s: %v", t.userID, err)
		now = time.Now()
	}

	dir := storage.UserDir(t.userID)
	data, err := json.Marshal(model.Presence{Online: online, LastSeenAt: now.UnixMilli()})
	if err != nil {
		logger.Errorf("presence marshal user=%s: %v", t.userID, err)
		return
	}
	if err := t.store.Put(ctx, dir, storage.StatusKey, data); err != nil {
		logger.Errorf("presence write user=%s online=%t: %v", t.userID, online, err)
	}

	if online {
		fallback, err := json.Marshal(model.Presence{Online: false, LastSeenAt: now.UnixMilli()})
		if err != nil {
			logger.Errorf("presence marshal fallback user=%s: %v", t.userID, err)
			return
		}
		t.store.OnDisconnectPut(dir, storage.StatusKey, fallback)
	} else {
		t.store.ClearDisconnect(dir, storage.StatusKey)
	}
}

// HandleAppState maps app lifecycle transitions onto presence: foreground
// goes online, background goes offline with an explicit write (backgrounding
// is graceful, the disconnect fallback is only for ungraceful exits).
func (t *Tracker) HandleAppState(ctx context.Context, state AppState) {
	switch state {
	case AppStateForeground:
		t.SetOnline(ctx, true)
	case AppStateBackground:
		t.SetOnline(ctx, false)
	}
}

// Online reports the last state this tracker wrote.
func (t *Tracker) Online() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.online
}

// ObserveStatus subscribes to userID's presence record. The callback fires
// immediately with the offline zero state, then with every store value.
// Any user's record may be observed; only the owner writes it.
func (t *Tracker) ObserveStatus(ctx context.Context, userID string, fn func(model.Presence)) (storage.Subscription, error) {
	fn(model.Presence{})
	return t.store.Watch(ctx, storage.UserDir(userID), func(ev storage.Event) {
		if ev.Key != storage.StatusKey {
			return
		}
		var p model.Presence
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			logger.Errorf("presence decode user=%s: %v", userID, err)
			return
		}
		fn(p)
	})
}

// Close writes a final graceful offline, clears the disconnect fallback and
// removes the tracker from the per-process registry.
func (t *Tracker) Close(ctx context.Context) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	now, err := t.store.Now(ctx)
	if err != nil {
		now = time.Now()
	}
	data, err := json.Marshal(model.Presence{Online: false, LastSeenAt: now.UnixMilli()})
	if err == nil {
		if err := t.store.Put(ctx, storage.UserDir(t.userID), storage.StatusKey, data); err != nil {
			logger.Errorf("presence close write user=%s: %v", t.userID, err)
		}
	}
	t.store.ClearDisconnect(storage.UserDir(t.userID), storage.StatusKey)

	trackersMu.Lock()
	if trackers[t.userID] == t {
		delete(trackers, t.userID)
	}
	trackersMu.Unlock()
}
