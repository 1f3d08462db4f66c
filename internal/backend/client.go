// Package backend calls the marketplace REST API. The chat core only needs
// three endpoints: the durable mirror of sent messages and the two room
// endpoints that hand out room ids. Если URL пустой — методы no-op.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/roomchat/internal/logger"
	"github.com/roomchat/internal/model"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates the REST client. An empty baseURL disables all calls.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		return &Client{}
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type mirrorRequest struct {
	RoomID string `json:"room_id"`
	Text   string `json:"text"`
	SentAt string `json:"sent_at"`
}

// MirrorMessage persists a sent message into the backend's durable storage.
// It is a fire-and-forget companion to the realtime write: failures are
// logged and never surfaced — the message is already on screen and already
// in the realtime store, which is the delivery path that matters.
func (c *Client) MirrorMessage(ctx context.Context, token string, msg model.Message) {
	if c.baseURL == "" {
		return
	}
	body, err := json.Marshal(mirrorRequest{RoomID: msg.RoomID, Text: msg.Text, SentAt: msg.SentAt})
	if err != nil {
		logger.Errorf("backend mirror marshal room=%s: %v", msg.RoomID, err)
		return
	}
	if err := c.post(ctx, token, "/chat/messages", body, nil); err != nil {
		logger.Errorf("backend mirror room=%s: %v", msg.RoomID, err)
	}
}

type startChatRequest struct {
	TargetUserID string `json:"target_user_id"`
	ListingID    string `json:"listing_id,omitempty"`
}

// StartChat asks the backend for a room with targetUserID. Nothing beyond
// "the response carries a room identifier" is assumed about the schema; the
// id may arrive as a number and is canonicalized.
func (c *Client) StartChat(ctx context.Context, token, targetUserID, listingID string) (string, error) {
	if c.baseURL == "" {
		return "", fmt.Errorf("backend disabled")
	}
	body, err := json.Marshal(startChatRequest{TargetUserID: targetUserID, ListingID: listingID})
	if err != nil {
		return "", err
	}
	var resp struct {
		RoomID any `json:"room_id"`
	}
	if err := c.post(ctx, token, "/chat/start", body, &resp); err != nil {
		return "", err
	}
	roomID := model.CanonicalID(resp.RoomID)
	if roomID == "" {
		return "", fmt.Errorf("backend start chat: no room_id in response")
	}
	return roomID, nil
}

type roomsResponse struct {
	Rooms []struct {
		ID              any    `json:"id"`
		UserAID         any    `json:"user_a_id"`
		UserBID         any    `json:"user_b_id"`
		CounterpartName string `json:"target_user_name"`
		ListingID       any    `json:"listing_id"`
	} `json:"rooms"`
}

// MyRooms lists the caller's rooms. Participant ids are optional in the
// backend's schema; absent ones leave the room unresolved and the session
// controller falls back to scanning the message log.
func (c *Client) MyRooms(ctx context.Context, token string) ([]model.Room, error) {
	if c.baseURL == "" {
		return nil, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/chat/my-rooms", nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req, token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("backend my-rooms: %d", resp.StatusCode)
	}
	var rr roomsResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, fmt.Errorf("backend my-rooms decode: %w", err)
	}
	rooms := make([]model.Room, 0, len(rr.Rooms))
	for _, r := range rr.Rooms {
		rooms = append(rooms, model.Room{
			ID:              model.CanonicalID(r.ID),
			ParticipantAID:  model.CanonicalID(r.UserAID),
			ParticipantBID:  model.CanonicalID(r.UserBID),
			CounterpartName: r.CounterpartName,
			ListingID:       model.CanonicalID(r.ListingID),
		})
	}
	return rooms, nil
}

func (c *Client) post(ctx context.Context, token, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	c.setHeaders(req, token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("backend %s: %d", path, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("backend %s decode: %w", path, err)
		}
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request, token string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}
