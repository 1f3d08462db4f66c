// Package chat implements the per-room message channel: ordered append-only
// log with deduplication, optimistic send with asynchronous store write and
// backend mirror, and seen tracking.
package chat

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/roomchat/internal/backend"
	"github.com/roomchat/internal/logger"
	"github.com/roomchat/internal/model"
	"github.com/roomchat/internal/storage"
)

const writeTimeout = 5 * time.Second

// Channel is one room's message log, bound to the local sender identity.
//
// The store subscription replays history, so the channel keeps a set of seen
// message ids and drops duplicates; the log stays in store arrival order,
// never sorted by sent_at (a client clock is not trustworthy across devices).
type Channel struct {
	store   storage.RealtimeStore
	backend *backend.Client
	token   string
	roomID  string
	self    model.Sender

	mu     sync.Mutex
	index  map[string]int // message id -> position in log
	log    []model.Message
	marked map[string]struct{} // ids this channel already marked seen
	sub    storage.Subscription

	// OnChange fires after any log mutation (append or a seen merge), on the
	// delivering goroutine. Set before Subscribe.
	OnChange func()
	// SendFailed fires when the realtime write of a sent message fails. The
	// optimistic message stays displayed; the consumer decides whether to
	// offer a retry. Nil means the failure is only logged.
	SendFailed func(model.Message, error)
}

func NewChannel(store storage.RealtimeStore, be *backend.Client, token, roomID string, self model.Sender) *Channel {
	return &Channel{
		store:   store,
		backend: be,
		token:   token,
		roomID:  roomID,
		self:    self,
		index:   make(map[string]int),
		marked:  make(map[string]struct{}),
	}
}

// Subscribe starts consuming the room's log. onMessage fires once per unique
// message, in store delivery order, replayed history included; a redelivery
// of a known id only merges its monotonic seen flag. A received message
// authored by someone else with seen=false is marked seen exactly once.
func (ch *Channel) Subscribe(ctx context.Context, onMessage func(model.Message)) error {
	sub, err := ch.store.Watch(ctx, storage.MessagesDir(ch.roomID), func(ev storage.Event) {
		var msg model.Message
		if err := json.Unmarshal(ev.Data, &msg); err != nil {
			logger.Errorf("chat decode room=%s key=%s: %v", ch.roomID, ev.Key, err)
			return
		}
		if msg.ID == "" {
			msg.ID = ev.Key
		}
		if ch.ingest(msg) && onMessage != nil {
			onMessage(msg)
		}
	})
	if err != nil {
		return err
	}
	ch.mu.Lock()
	ch.sub = sub
	ch.mu.Unlock()
	return nil
}

// ingest appends a new message or merges a duplicate, returning true for a
// genuinely new message. It also triggers the automatic mark-seen write.
func (ch *Channel) ingest(msg model.Message) bool {
	ch.mu.Lock()
	pos, dup := ch.index[msg.ID]
	if dup {
		changed := false
		if msg.Seen && !ch.log[pos].Seen {
			ch.log[pos].Seen = true
			changed = true
		}
		ch.mu.Unlock()
		if changed {
			ch.notify()
		}
		return false
	}
	ch.index[msg.ID] = len(ch.log)
	ch.log = append(ch.log, msg)

	needSeen := false
	if model.CanonicalID(msg.SenderID) != model.CanonicalID(ch.self.ID) && !msg.Seen {
		if _, done := ch.marked[msg.ID]; !done {
			ch.marked[msg.ID] = struct{}{}
			needSeen = true
		}
	}
	ch.mu.Unlock()

	if needSeen {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		ch.MarkSeen(ctx, msg)
		cancel()
	}
	ch.notify()
	return true
}

// Send constructs the message, appends it locally and returns it immediately
// for optimistic display. The realtime write and the backend mirror run
// asynchronously and independently: a mirror failure is logged only, a
// realtime failure additionally goes through SendFailed.
func (ch *Channel) Send(ctx context.Context, text string) model.Message {
	msg := model.Message{
		ID:         ch.store.NewID(),
		RoomID:     ch.roomID,
		Text:       text,
		SentAt:     time.Now().Format(time.RFC3339),
		SenderID:   ch.self.ID,
		SenderName: ch.self.Name,
		Seen:       false,
	}
	ch.ingest(msg)

	go func() {
		wctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		data, err := json.Marshal(msg)
		if err == nil {
			err = ch.store.Put(wctx, storage.MessagesDir(ch.roomID), msg.ID, data)
		}
		if err != nil {
			logger.Errorf("chat send room=%s id=%s: %v", ch.roomID, msg.ID, err)
			if ch.SendFailed != nil {
				ch.SendFailed(msg, err)
			}
		}
	}()
	go func() {
		mctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		ch.backend.MirrorMessage(mctx, ch.token, msg)
	}()

	return msg
}

// MarkSeen rewrites the message with seen=true. Only a channel that is not
// the message's author calls it; rewriting an already-seen message is a
// no-op in effect (the flag is monotonic).
func (ch *Channel) MarkSeen(ctx context.Context, msg model.Message) {
	msg.Seen = true
	data, err := json.Marshal(msg)
	if err != nil {
		logger.Errorf("chat mark seen marshal room=%s id=%s: %v", ch.roomID, msg.ID, err)
		return
	}
	if err := ch.store.Put(ctx, storage.MessagesDir(ch.roomID), msg.ID, data); err != nil {
		logger.Errorf("chat mark seen room=%s id=%s: %v", ch.roomID, msg.ID, err)
	}
}

// Log returns a copy of the ordered in-memory log.
func (ch *Channel) Log() []model.Message {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	out := make([]model.Message, len(ch.log))
	copy(out, ch.log)
	return out
}

// Project returns the display-ready sequence for the current log.
func (ch *Channel) Project() []Entry {
	return Project(ch.Log(), ch.self.ID)
}

func (ch *Channel) notify() {
	if ch.OnChange != nil {
		ch.OnChange()
	}
}

// Close releases the store subscription. Idempotent.
func (ch *Channel) Close() {
	ch.mu.Lock()
	sub := ch.sub
	ch.sub = nil
	ch.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
}
