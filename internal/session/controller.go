// Package session composes the message channel, presence tracker and typing
// coordinator into a single conversation view-model with an explicit
// Resolving -> Ready -> Closed lifecycle.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/roomchat/internal/backend"
	"github.com/roomchat/internal/chat"
	"github.com/roomchat/internal/logger"
	"github.com/roomchat/internal/model"
	"github.com/roomchat/internal/presence"
	"github.com/roomchat/internal/storage"
	"github.com/roomchat/internal/typing"
)

type State string

const (
	// StateResolving: counterpart identity unknown. The message channel is
	// already live (the log is what identity resolution scans); presence and
	// typing wait for the counterpart id.
	StateResolving State = "resolving"
	// StateReady: all three subsystems subscribed, fully interactive.
	StateReady State = "ready"
	// StateClosed: everything released; terminal.
	StateClosed State = "closed"
)

// Params identify the conversation. CounterpartID may be empty when the room
// metadata did not carry it; the controller then resolves it from the log.
type Params struct {
	RoomID          string
	Self            model.Sender
	Token           string
	CounterpartID   string
	CounterpartName string

	// TypingThrottle caps typing notifications during continuous input;
	// zero means the default interval.
	TypingThrottle time.Duration
}

// Snapshot is the single coherent state object the consumer renders.
type Snapshot struct {
	State             State        `json:"state"`
	RoomID            string       `json:"room_id"`
	CounterpartID     string       `json:"counterpart_id,omitempty"`
	CounterpartName   string       `json:"counterpart_name,omitempty"`
	Entries           []chat.Entry `json:"entries"`
	CounterpartTyping bool         `json:"counterpart_typing"`
	CounterpartOnline bool         `json:"counterpart_online"`
	StatusText        string       `json:"status_text"`
	SendError         string       `json:"send_error,omitempty"`
}

type Controller struct {
	store    storage.RealtimeStore
	tracker  *presence.Tracker
	typists  *typing.Coordinator
	throttle *typing.Throttle
	params   Params
	channel  *chat.Channel

	mu             sync.Mutex
	state          State
	counterpartID  string
	counterpart    model.Presence
	remoteTyping   bool
	sendErr        string
	statusSub      storage.Subscription
	typingSub      storage.Subscription
	now            func() time.Time

	closeOnce sync.Once

	// OnChange fires after every state mutation, on the mutating goroutine.
	// Set before Start.
	OnChange func()
}

func NewController(store storage.RealtimeStore, be *backend.Client, tracker *presence.Tracker, typists *typing.Coordinator, params Params) *Controller {
	c := &Controller{
		store:    store,
		tracker:  tracker,
		typists:  typists,
		throttle: typing.NewThrottle(params.TypingThrottle),
		params:   params,
		state:    StateResolving,
		now:      time.Now,
	}
	c.channel = chat.NewChannel(store, be, params.Token, params.RoomID, params.Self)
	return c
}

// Start wires the message channel and, when the counterpart is already
// known, brings the session straight to Ready. Otherwise the incoming log is
// scanned for the first message from a foreign sender; a room where no such
// message ever arrives stays Resolving — degraded (no presence, no typing)
// but fully usable for messaging.
func (c *Controller) Start(ctx context.Context) error {
	c.channel.OnChange = c.notify
	c.channel.SendFailed = func(msg model.Message, err error) {
		c.mu.Lock()
		c.sendErr = "message delivery failed"
		c.mu.Unlock()
		c.notify()
	}

	if err := c.channel.Subscribe(ctx, func(msg model.Message) {
		c.mu.Lock()
		unresolved := c.state == StateResolving && c.counterpartID == ""
		foreign := model.CanonicalID(msg.SenderID) != model.CanonicalID(c.params.Self.ID)
		c.mu.Unlock()
		if unresolved && foreign {
			c.activate(model.CanonicalID(msg.SenderID), msg.SenderName)
		}
	}); err != nil {
		return err
	}

	if c.params.CounterpartID != "" {
		c.activate(model.CanonicalID(c.params.CounterpartID), c.params.CounterpartName)
	}
	return nil
}

// activate moves Resolving -> Ready: presence and typing subscriptions come
// up now that the counterpart is known.
func (c *Controller) activate(counterpartID, counterpartName string) {
	c.mu.Lock()
	if c.state != StateResolving {
		c.mu.Unlock()
		return
	}
	c.state = StateReady
	c.counterpartID = counterpartID
	if counterpartName != "" && c.params.CounterpartName == "" {
		c.params.CounterpartName = counterpartName
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	statusSub, err := c.tracker.ObserveStatus(ctx, counterpartID, func(p model.Presence) {
		c.mu.Lock()
		c.counterpart = p
		c.mu.Unlock()
		c.notify()
	})
	if err != nil {
		logger.Errorf("session observe status room=%s user=%s: %v", c.params.RoomID, counterpartID, err)
	}

	typingSub, err := c.typists.ObserveRoomTyping(ctx, c.params.RoomID, c.params.Self.ID, func(anyTyping bool) {
		c.mu.Lock()
		c.remoteTyping = anyTyping
		c.mu.Unlock()
		c.notify()
	})
	if err != nil {
		logger.Errorf("session observe typing room=%s: %v", c.params.RoomID, err)
	}

	c.mu.Lock()
	if c.state == StateClosed {
		// Lost the race with Close; release immediately.
		c.mu.Unlock()
		if statusSub != nil {
			statusSub.Close()
		}
		if typingSub != nil {
			typingSub.Close()
		}
		return
	}
	c.statusSub = statusSub
	c.typingSub = typingSub
	c.mu.Unlock()
	c.notify()
}

// HandleInput publishes the local typing state for the current input text,
// throttled so continuous typing produces at most one write per interval.
func (c *Controller) HandleInput(ctx context.Context, text string) {
	if c.closedNow() {
		return
	}
	if !c.throttle.Allow() {
		return
	}
	c.typists.SetTyping(ctx, c.params.RoomID, c.params.Self.ID, len(text) > 0)
}

// Blur clears the typing flag immediately, bypassing the throttle.
func (c *Controller) Blur(ctx context.Context) {
	if c.closedNow() {
		return
	}
	c.typists.SetTyping(ctx, c.params.RoomID, c.params.Self.ID, false)
	c.throttle.Reset()
}

// Send sends the trimmed text, clearing the typing flag first. The returned
// message is already in the local log for optimistic display.
func (c *Controller) Send(ctx context.Context, text string) (model.Message, bool) {
	if strings.TrimSpace(text) == "" || c.closedNow() {
		return model.Message{}, false
	}
	c.typists.SetTyping(ctx, c.params.RoomID, c.params.Self.ID, false)
	c.throttle.Reset()
	return c.channel.Send(ctx, text), true
}

// Snapshot returns the merged conversation state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	s := Snapshot{
		State:             c.state,
		RoomID:            c.params.RoomID,
		CounterpartID:     c.counterpartID,
		CounterpartName:   c.params.CounterpartName,
		CounterpartTyping: c.remoteTyping,
		CounterpartOnline: c.counterpart.Online,
		SendError:         c.sendErr,
	}
	resolved := c.counterpartID != ""
	p := c.counterpart
	typingNow := c.remoteTyping
	now := c.now()
	c.mu.Unlock()

	s.StatusText = StatusText(resolved, typingNow, p, now)
	s.Entries = c.channel.Project()
	return s
}

// State reports the lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close tears the session down: message, presence and typing subscriptions
// are released synchronously, pending typing expiry is cancelled by the
// final explicit typing=false write. Idempotent; a buffered store event
// delivered after Close must not fire any callback.
func (c *Controller) Close(ctx context.Context) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		statusSub := c.statusSub
		typingSub := c.typingSub
		c.statusSub = nil
		c.typingSub = nil
		c.mu.Unlock()

		c.channel.Close()
		if statusSub != nil {
			statusSub.Close()
		}
		if typingSub != nil {
			typingSub.Close()
		}
		c.typists.SetTyping(ctx, c.params.RoomID, c.params.Self.ID, false)
	})
}

func (c *Controller) closedNow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateClosed
}

func (c *Controller) notify() {
	if c.OnChange != nil && !c.closedNow() {
		c.OnChange()
	}
}
