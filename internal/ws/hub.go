package ws

import (
	"context"
	"sync"
	"time"

	"github.com/roomchat/internal/backend"
	"github.com/roomchat/internal/logger"
	"github.com/roomchat/internal/model"
	"github.com/roomchat/internal/presence"
	"github.com/roomchat/internal/session"
	"github.com/roomchat/internal/storage"
	"github.com/roomchat/internal/typing"
)

// Hub owns all WebSocket connections. Each connection belongs to one
// authenticated user and carries at most one open conversation; the hub
// wires presence to connection lifetime and app-state events.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{}
	total    int
	maxConns int

	store          storage.RealtimeStore
	backendCli     *backend.Client
	typists        *typing.Coordinator
	typingThrottle time.Duration

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(store storage.RealtimeStore, backendCli *backend.Client, typists *typing.Coordinator, maxConns int, typingThrottle time.Duration) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:        make(map[string]map[*Client]struct{}),
		maxConns:       maxConns,
		store:          store,
		backendCli:     backendCli,
		typists:        typists,
		typingThrottle: typingThrottle,
		register:       make(chan *Client, 64),
		unregister:     make(chan *Client, 64),
		done:           make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return
	}
	if _, ok := h.clients[c.userID]; !ok {
		h.clients[c.userID] = make(map[*Client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	h.total++
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	presence.ForUser(h.store, c.userID).SetOnline(ctx, true)
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	lastClient := len(clients) == 0
	if lastClient {
		delete(h.clients, c.userID)
	}
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()

	if lastClient {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		presence.ForUser(h.store, c.userID).SetOnline(ctx, false)
	}
}

// HandleMessage dispatches incoming WebSocket events.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	switch msg.Type {
	case EventAppState:
		h.handleAppState(ctx, c, msg)
	case EventOpenRoom:
		h.handleOpenRoom(ctx, c, msg)
	case EventCloseRoom:
		c.closeController()
	case EventInput:
		if ctl := c.getController(); ctl != nil {
			ctl.HandleInput(ctx, msg.Text)
		}
	case EventBlur:
		if ctl := c.getController(); ctl != nil {
			ctl.Blur(ctx)
		}
	case EventSend:
		h.handleSend(ctx, c, msg)
	default:
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "unknown event type"})
	}
}

func (h *Hub) handleAppState(ctx context.Context, c *Client, msg IncomingMessage) {
	tracker := presence.ForUser(h.store, c.userID)
	switch msg.AppState {
	case "foreground":
		tracker.HandleAppState(ctx, presence.AppStateForeground)
	case "background":
		tracker.HandleAppState(ctx, presence.AppStateBackground)
	default:
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "unknown app_state"})
	}
}

func (h *Hub) handleOpenRoom(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleOpenRoom", time.Now())()
	if msg.RoomID == "" {
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "room_id required"})
		return
	}

	ctl := session.NewController(h.store, h.backendCli, presence.ForUser(h.store, c.userID), h.typists, session.Params{
		RoomID:          msg.RoomID,
		Self:            model.Sender{ID: c.userID, Name: c.userName},
		Token:           c.token,
		CounterpartID:   msg.CounterpartID,
		CounterpartName: msg.CounterpartName,
		TypingThrottle:  h.typingThrottle,
	})
	ctl.OnChange = func() {
		h.sendToClient(c, OutgoingMessage{Type: EventState, Payload: StatePayload{Snapshot: ctl.Snapshot()}})
	}
	if err := ctl.Start(ctx); err != nil {
		logger.Errorf("ws open room=%s user=%s: %v", msg.RoomID, c.userID, err)
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "failed to open room"})
		return
	}
	c.setController(ctl)
	h.sendToClient(c, OutgoingMessage{Type: EventState, Payload: StatePayload{Snapshot: ctl.Snapshot()}})
}

func (h *Hub) handleSend(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleSend", time.Now())()
	ctl := c.getController()
	if ctl == nil {
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "no open room"})
		return
	}
	sent, ok := ctl.Send(ctx, msg.Text)
	if !ok {
		return
	}
	h.sendToClient(c, OutgoingMessage{Type: EventMessageSent, Payload: MessageSentPayload{Message: sent}})
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
