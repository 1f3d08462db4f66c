package memory_test

import (
	"context"
	"testing"

	"github.com/roomchat/internal/storage"
	"github.com/roomchat/internal/storage/memory"
)

func TestWatchReplaysInInsertionOrder(t *testing.T) {
	ctx := context.Background()
	st := memory.New()

	for _, key := range []string{"m1", "m2", "m3"} {
		if err := st.Put(ctx, "chats/r1", key, []byte(`"`+key+`"`)); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}

	var got []string
	sub, err := st.Watch(ctx, "chats/r1", func(ev storage.Event) {
		got = append(got, ev.Key)
	})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer sub.Close()

	want := []string{"m1", "m2", "m3"}
	if len(got) != len(want) {
		t.Fatalf("replayed %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("replay[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestRewriteKeepsPosition(t *testing.T) {
	ctx := context.Background()
	st := memory.New()

	st.Put(ctx, "chats/r1", "m1", []byte(`1`))
	st.Put(ctx, "chats/r1", "m2", []byte(`2`))
	st.Put(ctx, "chats/r1", "m1", []byte(`10`)) // rewrite, not append

	var keys []string
	sub, _ := st.Watch(ctx, "chats/r1", func(ev storage.Event) {
		keys = append(keys, ev.Key)
	})
	defer sub.Close()

	if len(keys) != 2 || keys[0] != "m1" || keys[1] != "m2" {
		t.Fatalf("replay keys = %v, want [m1 m2]", keys)
	}
}

func TestClosedSubscriptionDropsBufferedEvent(t *testing.T) {
	ctx := context.Background()
	st := memory.New()

	fired := 0
	sub, err := st.Watch(ctx, "chats/r1", func(ev storage.Event) {
		fired++
	})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	st.Hold()
	st.Put(ctx, "chats/r1", "m1", []byte(`1`))
	sub.Close()
	st.Release()

	if fired != 0 {
		t.Fatalf("callback fired %d times after close, want 0", fired)
	}
}

func TestFireDisconnectAppliesRegisteredWrites(t *testing.T) {
	ctx := context.Background()
	st := memory.New()

	st.OnDisconnectPut("users/u1", "status", []byte(`{"online":false}`))
	st.FireDisconnect()

	vals, err := st.Fetch(ctx, "users/u1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(vals["status"]) != `{"online":false}` {
		t.Fatalf("status = %s, want offline record", vals["status"])
	}

	// Cleared registrations must not fire twice.
	st.Put(ctx, "users/u1", "status", []byte(`{"online":true}`))
	st.FireDisconnect()
	vals, _ = st.Fetch(ctx, "users/u1")
	if string(vals["status"]) != `{"online":true}` {
		t.Fatalf("disconnect write fired twice")
	}
}

func TestClearDisconnect(t *testing.T) {
	ctx := context.Background()
	st := memory.New()

	st.OnDisconnectPut("users/u1", "status", []byte(`{"online":false}`))
	st.ClearDisconnect("users/u1", "status")
	st.FireDisconnect()

	vals, _ := st.Fetch(ctx, "users/u1")
	if len(vals) != 0 {
		t.Fatalf("cleared disconnect write still applied: %v", vals)
	}
}
