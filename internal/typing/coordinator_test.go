package typing_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/roomchat/internal/storage"
	"github.com/roomchat/internal/storage/memory"
	"github.com/roomchat/internal/typing"
)

func flag(t *testing.T, st *memory.Client, roomID, userID string) bool {
	t.Helper()
	vals, err := st.Fetch(context.Background(), storage.TypingDir(roomID))
	if err != nil {
		t.Fatalf("fetch typing: %v", err)
	}
	data, ok := vals[userID]
	if !ok {
		return false
	}
	var v bool
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode typing: %v", err)
	}
	return v
}

func TestTypingSelfExpires(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	c := typing.NewCoordinatorExpiry(st, 50*time.Millisecond)
	defer c.Close()

	c.SetTyping(ctx, "r1", "u1", true)
	if !flag(t, st, "r1", "u1") {
		t.Fatalf("flag not written")
	}

	time.Sleep(120 * time.Millisecond)
	if flag(t, st, "r1", "u1") {
		t.Fatalf("flag did not self-expire")
	}
}

func TestRenewalResetsExpiry(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	c := typing.NewCoordinatorExpiry(st, 200*time.Millisecond)
	defer c.Close()

	c.SetTyping(ctx, "r1", "u1", true)
	time.Sleep(120 * time.Millisecond)
	c.SetTyping(ctx, "r1", "u1", true) // must cancel the first timer

	time.Sleep(140 * time.Millisecond) // 260ms after first call, 140ms after renewal
	if !flag(t, st, "r1", "u1") {
		t.Fatalf("first timer fired despite renewal")
	}

	time.Sleep(150 * time.Millisecond)
	if flag(t, st, "r1", "u1") {
		t.Fatalf("flag did not expire after renewal window")
	}
}

func TestExplicitClearCancelsTimer(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	c := typing.NewCoordinatorExpiry(st, 50*time.Millisecond)
	defer c.Close()

	c.SetTyping(ctx, "r1", "u1", true)
	c.SetTyping(ctx, "r1", "u1", false)
	if flag(t, st, "r1", "u1") {
		t.Fatalf("explicit clear not written")
	}

	// No timer left behind that could re-touch the flag.
	st.Put(ctx, storage.TypingDir("r1"), "u1", []byte(`true`))
	time.Sleep(80 * time.Millisecond)
	if !flag(t, st, "r1", "u1") {
		t.Fatalf("stale timer overwrote an unrelated write")
	}
}

func TestObserveRoomTypingExcludesSelf(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	c := typing.NewCoordinator(st)
	defer c.Close()

	var last bool
	sub, err := c.ObserveRoomTyping(ctx, "r1", "7", func(v bool) { last = v })
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	defer sub.Close()

	st.Put(ctx, storage.TypingDir("r1"), "7", []byte(`true`))
	st.Put(ctx, storage.TypingDir("r1"), "12", []byte(`false`))
	if last {
		t.Fatalf("self-typing counted as remote")
	}

	st.Put(ctx, storage.TypingDir("r1"), "12", []byte(`true`))
	if !last {
		t.Fatalf("remote typing not reported")
	}

	st.Put(ctx, storage.TypingDir("r1"), "12", []byte(`false`))
	if last {
		t.Fatalf("cleared remote flag still reported")
	}
}

func TestObserveRoomTypingNormalizesNumericID(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	c := typing.NewCoordinator(st)
	defer c.Close()

	var last bool
	// The backend hands out numeric ids; the store keys are strings.
	sub, err := c.ObserveRoomTyping(ctx, "r1", 7, func(v bool) { last = v })
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	defer sub.Close()

	st.Put(ctx, storage.TypingDir("r1"), "7", []byte(`true`))
	if last {
		t.Fatalf("numeric exclude id did not match its string store key")
	}
}

func TestThrottle(t *testing.T) {
	th := typing.NewThrottle(50 * time.Millisecond)
	if !th.Allow() {
		t.Fatalf("first call must pass")
	}
	if th.Allow() {
		t.Fatalf("second immediate call must be throttled")
	}
	time.Sleep(60 * time.Millisecond)
	if !th.Allow() {
		t.Fatalf("call after interval must pass")
	}
	th.Reset()
	if !th.Allow() {
		t.Fatalf("call after Reset must pass")
	}
}
