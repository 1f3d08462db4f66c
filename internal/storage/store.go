// Package storage defines the realtime key-path store the chat core runs on:
// write-a-value-at-path, read-once, replay-then-live child subscriptions and
// disconnect-triggered fallback writes.
// Реализации: redis.Client, memory.Client (для тестов и -dev без Redis).
package storage

import (
	"context"
	"time"
)

// Event is one child value delivered by a Watch subscription. Key is the
// child key under the watched dir; Data is the raw JSON value.
type Event struct {
	Key  string
	Data []byte
}

// Subscription is a live store subscription. Close releases it; after Close
// returns no further callback fires, even for events the store had already
// buffered. Close is idempotent.
type Subscription interface {
	Close()
}

// RealtimeStore is the append/observe store contract.
//
// Watch replays every existing child of dir in insertion order before
// delivering live events, so subscribers see a "replay from start" stream
// and must deduplicate. A Put to an existing key is delivered as a regular
// event on the same dir (value change).
//
// OnDisconnectPut registers a value the store writes on the client's behalf
// if the connection drops before ClearDisconnect or a clean Close. Presence
// relies on this for crash/network-loss detection.
type RealtimeStore interface {
	// NewID returns a fresh child key, unique per store instance.
	NewID() string
	// Now returns the store's clock, used for server-assigned timestamps.
	Now(ctx context.Context) (time.Time, error)

	Put(ctx context.Context, dir, key string, data []byte) error
	Fetch(ctx context.Context, dir string) (map[string][]byte, error)
	Watch(ctx context.Context, dir string, fn func(Event)) (Subscription, error)

	OnDisconnectPut(dir, key string, data []byte)
	ClearDisconnect(dir, key string)

	Close() error
}

// Path layout shared with the mobile clients; changing it breaks them.
const (
	messagesPrefix = "chats/"
	usersPrefix    = "users/"
	typingPrefix   = "typing/"

	// StatusKey is the child key of a user's presence record.
	StatusKey = "status"
)

// MessagesDir is the dir holding a room's message log, keyed by message id.
func MessagesDir(roomID string) string { return messagesPrefix + roomID }

// UserDir is the dir holding a user's records (presence under StatusKey).
func UserDir(userID string) string { return usersPrefix + userID }

// TypingDir is the dir holding a room's typing flags, keyed by user id.
func TypingDir(roomID string) string { return typingPrefix + roomID }
