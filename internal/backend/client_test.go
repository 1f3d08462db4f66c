package backend_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/roomchat/internal/backend"
	"github.com/roomchat/internal/model"
)

func TestMirrorMessageRequest(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/chat/messages" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	cli := backend.NewClient(srv.URL)
	cli.MirrorMessage(context.Background(), "tok123", model.Message{
		RoomID: "r1",
		Text:   "hello",
		SentAt: "2026-03-10T09:00:00Z",
	})

	if gotAuth != "Bearer tok123" {
		t.Fatalf("authorization = %q", gotAuth)
	}
	if gotBody["room_id"] != "r1" || gotBody["text"] != "hello" {
		t.Fatalf("body = %v", gotBody)
	}
}

func TestMirrorMessageSwallowsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	// Must not panic or surface anything.
	backend.NewClient(srv.URL).MirrorMessage(context.Background(), "tok", model.Message{RoomID: "r1"})
}

func TestStartChatCanonicalizesNumericRoomID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/start" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"room_id": 1742})
	}))
	defer srv.Close()

	roomID, err := backend.NewClient(srv.URL).StartChat(context.Background(), "tok", "u2", "")
	if err != nil {
		t.Fatalf("start chat: %v", err)
	}
	if roomID != "1742" {
		t.Fatalf("room id = %q, want \"1742\"", roomID)
	}
}

func TestStartChatMissingRoomID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	if _, err := backend.NewClient(srv.URL).StartChat(context.Background(), "tok", "u2", ""); err == nil {
		t.Fatalf("expected error for response without room_id")
	}
}

func TestMyRoomsMixedIDTypes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/my-rooms" || r.Method != http.MethodGet {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"rooms":[
			{"id":17,"user_a_id":"3","user_b_id":4,"target_user_name":"Alice","listing_id":null},
			{"id":"r-abc","target_user_name":"Eve"}
		]}`))
	}))
	defer srv.Close()

	rooms, err := backend.NewClient(srv.URL).MyRooms(context.Background(), "tok")
	if err != nil {
		t.Fatalf("my rooms: %v", err)
	}
	if len(rooms) != 2 {
		t.Fatalf("got %d rooms", len(rooms))
	}
	first := rooms[0]
	if first.ID != "17" || first.ParticipantAID != "3" || first.ParticipantBID != "4" || first.ListingID != "" {
		t.Fatalf("first room = %+v", first)
	}
	second := rooms[1]
	if second.ID != "r-abc" || second.ParticipantAID != "" || second.CounterpartName != "Eve" {
		t.Fatalf("second room = %+v", second)
	}
}

func TestDisabledClient(t *testing.T) {
	cli := backend.NewClient("")
	cli.MirrorMessage(context.Background(), "", model.Message{}) // no-op
	if _, err := cli.StartChat(context.Background(), "", "u2", ""); err == nil {
		t.Fatalf("disabled client should refuse StartChat")
	}
	rooms, err := cli.MyRooms(context.Background(), "")
	if err != nil || rooms != nil {
		t.Fatalf("disabled MyRooms = %v, %v", rooms, err)
	}
}
