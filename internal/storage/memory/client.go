// Package memory is the in-process RealtimeStore used by tests and -dev runs
// without Redis. Delivery is synchronous, which keeps tests deterministic;
// Hold/Release simulates a store that buffers events across an unsubscribe.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/roomchat/internal/storage"
)

type dir struct {
	order  []string
	values map[string][]byte
}

type delivery struct {
	sub *subscription
	ev  storage.Event
}

type Client struct {
	mu      sync.Mutex
	dirs    map[string]*dir
	subs    map[string][]*subscription
	onDisc  map[string][]byte // "dir/key" -> registered fallback write
	held    bool
	pending []delivery
	closed  bool
}

func New() *Client {
	return &Client{
		dirs:   make(map[string]*dir),
		subs:   make(map[string][]*subscription),
		onDisc: make(map[string][]byte),
	}
}

func (c *Client) NewID() string { return uuid.New().String() }

func (c *Client) Now(ctx context.Context) (time.Time, error) { return time.Now(), nil }

func (c *Client) Put(ctx context.Context, d, key string, data []byte) error {
	c.mu.Lock()
	dd, ok := c.dirs[d]
	if !ok {
		dd = &dir{values: make(map[string][]byte)}
		c.dirs[d] = dd
	}
	if _, exists := dd.values[key]; !exists {
		dd.order = append(dd.order, key)
	}
	val := append([]byte(nil), data...)
	dd.values[key] = val

	ev := storage.Event{Key: key, Data: val}
	var out []delivery
	for _, s := range c.subs[d] {
		out = append(out, delivery{sub: s, ev: ev})
	}
	if c.held {
		c.pending = append(c.pending, out...)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	deliverAll(out)
	return nil
}

func (c *Client) Fetch(ctx context.Context, d string) (map[string][]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dd, ok := c.dirs[d]
	if !ok {
		return map[string][]byte{}, nil
	}
	res := make(map[string][]byte, len(dd.values))
	for k, v := range dd.values {
		res[k] = append([]byte(nil), v...)
	}
	return res, nil
}

// Watch replays existing children in insertion order, then delivers live
// events until the subscription is closed.
func (c *Client) Watch(ctx context.Context, d string, fn func(storage.Event)) (storage.Subscription, error) {
	s := &subscription{fn: fn, client: c, dir: d}

	c.mu.Lock()
	var replay []storage.Event
	if dd, ok := c.dirs[d]; ok {
		for _, key := range dd.order {
			replay = append(replay, storage.Event{Key: key, Data: dd.values[key]})
		}
	}
	c.subs[d] = append(c.subs[d], s)
	c.mu.Unlock()

	for _, ev := range replay {
		s.deliver(ev)
	}
	return s, nil
}

func (c *Client) OnDisconnectPut(d, key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisc[d+"/"+key] = append([]byte(nil), data...)
}

func (c *Client) ClearDisconnect(d, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.onDisc, d+"/"+key)
}

func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.onDisc = make(map[string][]byte)
	c.mu.Unlock()
	return nil
}

// --- test hooks ---

// FireDisconnect applies every registered disconnect fallback write, as the
// store side would after an ungraceful connection loss.
func (c *Client) FireDisconnect() {
	c.mu.Lock()
	writes := c.onDisc
	c.onDisc = make(map[string][]byte)
	c.mu.Unlock()

	for path, data := range writes {
		idx := lastSlash(path)
		_ = c.Put(context.Background(), path[:idx], path[idx+1:], data)
	}
}

// Hold buffers all subsequent deliveries until Release, simulating a store
// that still has events in flight while the client unsubscribes.
func (c *Client) Hold() {
	c.mu.Lock()
	c.held = true
	c.mu.Unlock()
}

// Release delivers everything buffered since Hold. Subscriptions closed in
// the meantime do not fire.
func (c *Client) Release() {
	c.mu.Lock()
	c.held = false
	out := c.pending
	c.pending = nil
	c.mu.Unlock()

	deliverAll(out)
}

func deliverAll(out []delivery) {
	for _, d := range out {
		d.sub.deliver(d.ev)
	}
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}

type subscription struct {
	mu     sync.Mutex
	fn     func(storage.Event)
	closed bool
	client *Client
	dir    string
}

func (s *subscription) deliver(ev storage.Event) {
	// Drop anything arriving after Close; a released subscription must
	// never fire into stale state.
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	fn := s.fn
	s.mu.Unlock()
	fn(ev)
}

func (s *subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	c := s.client
	c.mu.Lock()
	subs := c.subs[s.dir]
	for i, ss := range subs {
		if ss == s {
			c.subs[s.dir] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
}
