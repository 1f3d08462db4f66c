package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/roomchat/internal/backend"
	"github.com/roomchat/internal/model"
	"github.com/roomchat/internal/presence"
	"github.com/roomchat/internal/session"
	"github.com/roomchat/internal/storage"
	"github.com/roomchat/internal/storage/memory"
	"github.com/roomchat/internal/typing"
)

func newSession(t *testing.T, st storage.RealtimeStore, params session.Params) (*session.Controller, func()) {
	t.Helper()
	tracker := presence.ForUser(st, params.Self.ID)
	typists := typing.NewCoordinator(st)
	c := session.NewController(st, backend.NewClient(""), tracker, typists, params)
	cleanup := func() {
		c.Close(context.Background())
		typists.Close()
		tracker.Close(context.Background())
	}
	return c, cleanup
}

func putForeign(t *testing.T, st storage.RealtimeStore, roomID, id, senderID, senderName string) {
	t.Helper()
	msg := model.Message{
		ID:         id,
		RoomID:     roomID,
		Text:       "hello",
		SentAt:     time.Now().Format(time.RFC3339),
		SenderID:   senderID,
		SenderName: senderName,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := st.Put(context.Background(), storage.MessagesDir(roomID), id, data); err != nil {
		t.Fatalf("put: %v", err)
	}
}

func TestKnownCounterpartIsReadyImmediately(t *testing.T) {
	st := memory.New()
	c, cleanup := newSession(t, st, session.Params{
		RoomID:          "r1",
		Self:            model.Sender{ID: "u1", Name: "Bob"},
		CounterpartID:   "u2",
		CounterpartName: "Alice",
	})
	defer cleanup()

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := c.State(); got != session.StateReady {
		t.Fatalf("state = %s, want ready", got)
	}
	snap := c.Snapshot()
	if snap.CounterpartID != "u2" || snap.CounterpartName != "Alice" {
		t.Fatalf("snapshot counterpart = %q/%q", snap.CounterpartID, snap.CounterpartName)
	}
}

func TestCounterpartResolvedFromLog(t *testing.T) {
	st := memory.New()
	c, cleanup := newSession(t, st, session.Params{
		RoomID: "r2",
		Self:   model.Sender{ID: "u3", Name: "Bob"},
	})
	defer cleanup()

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := c.State(); got != session.StateResolving {
		t.Fatalf("state before any message = %s, want resolving", got)
	}

	// An own message must not resolve anything.
	if _, ok := c.Send(context.Background(), "ping"); !ok {
		t.Fatalf("send rejected while resolving")
	}
	if got := c.State(); got != session.StateResolving {
		t.Fatalf("own message resolved the counterpart")
	}

	putForeign(t, st, "r2", "m1", "u4", "Alice")
	if got := c.State(); got != session.StateReady {
		t.Fatalf("state after foreign message = %s, want ready", got)
	}
	snap := c.Snapshot()
	if snap.CounterpartID != "u4" || snap.CounterpartName != "Alice" {
		t.Fatalf("resolved counterpart = %q/%q, want u4/Alice", snap.CounterpartID, snap.CounterpartName)
	}
}

func TestResolvingSessionStillUsable(t *testing.T) {
	st := memory.New()
	c, cleanup := newSession(t, st, session.Params{
		RoomID: "r3",
		Self:   model.Sender{ID: "u5", Name: "Bob"},
	})
	defer cleanup()

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	msg, ok := c.Send(context.Background(), "  hi there  ")
	if !ok || msg.Text != "  hi there  " {
		t.Fatalf("send = %+v %v", msg, ok)
	}
	snap := c.Snapshot()
	if snap.State != session.StateResolving {
		t.Fatalf("state = %s", snap.State)
	}
	if snap.StatusText != "status unavailable" {
		t.Fatalf("status = %q, want unresolved placeholder", snap.StatusText)
	}
	found := false
	for _, e := range snap.Entries {
		if e.Message.ID == msg.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("sent message missing from snapshot entries")
	}
}

func TestSendRejectsBlankText(t *testing.T) {
	st := memory.New()
	c, cleanup := newSession(t, st, session.Params{
		RoomID:        "r4",
		Self:          model.Sender{ID: "u6"},
		CounterpartID: "u7",
	})
	defer cleanup()
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, ok := c.Send(context.Background(), "   \n\t "); ok {
		t.Fatalf("blank text was sent")
	}
}

func TestCloseSuppressesBufferedEvents(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	c, cleanup := newSession(t, st, session.Params{
		RoomID:        "r5",
		Self:          model.Sender{ID: "u8"},
		CounterpartID: "u9",
	})
	defer cleanup()

	var changes atomic.Int64
	c.OnChange = func() { changes.Add(1) }
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	c.HandleInput(ctx, "typing somethi")

	st.Hold()
	putForeign(t, st, "r5", "m1", "u9", "Alice")
	c.Close(ctx)
	before := changes.Load()
	st.Release()

	if after := changes.Load(); after != before {
		t.Fatalf("buffered event fired OnChange after Close (%d -> %d)", before, after)
	}
	if got := c.State(); got != session.StateClosed {
		t.Fatalf("state = %s, want closed", got)
	}

	// Teardown cleared the typing flag despite the earlier HandleInput.
	vals, err := st.Fetch(ctx, storage.TypingDir("r5"))
	if err != nil {
		t.Fatalf("fetch typing: %v", err)
	}
	if raw, ok := vals["u8"]; ok {
		var flag bool
		if err := json.Unmarshal(raw, &flag); err != nil {
			t.Fatalf("decode typing: %v", err)
		}
		if flag {
			t.Fatalf("typing flag still set after Close")
		}
	}

	// Idempotent.
	c.Close(ctx)
}

func TestInteractionIgnoredAfterClose(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	c, cleanup := newSession(t, st, session.Params{
		RoomID:        "r6",
		Self:          model.Sender{ID: "u10"},
		CounterpartID: "u11",
	})
	defer cleanup()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	c.Close(ctx)

	if _, ok := c.Send(ctx, "too late"); ok {
		t.Fatalf("send succeeded after Close")
	}
	c.HandleInput(ctx, "x")
	vals, err := st.Fetch(ctx, storage.TypingDir("r6"))
	if err != nil {
		t.Fatalf("fetch typing: %v", err)
	}
	if raw, ok := vals["u10"]; ok {
		var flag bool
		if err := json.Unmarshal(raw, &flag); err != nil {
			t.Fatalf("decode typing: %v", err)
		}
		if flag {
			t.Fatalf("typing write happened after Close")
		}
	}
}

// failingStore fails message writes so the asynchronous send failure path can
// be observed through the snapshot.
type failingStore struct {
	*memory.Client
}

func (f *failingStore) Put(ctx context.Context, dir, key string, data []byte) error {
	if strings.HasPrefix(dir, "chats/") {
		return errors.New("write refused")
	}
	return f.Client.Put(ctx, dir, key, data)
}

func TestSendFailureSurfacesInSnapshot(t *testing.T) {
	ctx := context.Background()
	st := &failingStore{Client: memory.New()}
	c, cleanup := newSession(t, st, session.Params{
		RoomID:        "r7",
		Self:          model.Sender{ID: "u12"},
		CounterpartID: "u13",
	})
	defer cleanup()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	msg, ok := c.Send(ctx, "doomed")
	if !ok {
		t.Fatalf("send rejected")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		snap := c.Snapshot()
		if snap.SendError != "" {
			// The optimistic message is still displayed.
			found := false
			for _, e := range snap.Entries {
				if e.Message.ID == msg.ID {
					found = true
				}
			}
			if !found {
				t.Fatalf("failed message dropped from entries")
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("send error never surfaced")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
