// Package redis implements the realtime store on Redis: a hash per dir for
// values, a list per dir for insertion order, and a pub/sub channel per dir
// for live delivery. Disconnect fallback writes are persisted next to a
// heartbeat key with TTL so a reaper can apply them for dead clients
// (ungraceful disconnect detection).
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/roomchat/internal/logger"
	"github.com/roomchat/internal/storage"
)

const (
	hashPrefix    = "rt:h:"
	orderPrefix   = "rt:l:"
	channelPrefix = "rt:c:"
	discPrefix    = "rt:dc:"
	hbPrefix      = "rt:hb:"
	clientSetKey  = "rt:clients"

	heartbeatTTL    = 30 * time.Second
	heartbeatPeriod = 10 * time.Second
)

type Client struct {
	cli      *redis.Client
	clientID string

	mu     sync.Mutex
	onDisc map[string][]byte // "dir/key" -> fallback write, mirrored to Redis

	stopHB chan struct{}
	hbDone chan struct{}
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	c := &Client{
		cli:      cli,
		clientID: uuid.New().String(),
		onDisc:   make(map[string][]byte),
		stopHB:   make(chan struct{}),
		hbDone:   make(chan struct{}),
	}
	c.cli.SAdd(ctx, clientSetKey, c.clientID)
	go c.heartbeat()
	return c, nil
}

func (c *Client) NewID() string { return uuid.New().String() }

// Now returns the Redis server clock so timestamps do not depend on the
// client's clock.
func (c *Client) Now(ctx context.Context) (time.Time, error) {
	t, err := c.cli.Time(ctx).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("redis time: %w", err)
	}
	return t, nil
}

type wireEvent struct {
	Key  string          `json:"key"`
	Data json.RawMessage `json:"data"`
}

func (c *Client) Put(ctx context.Context, dir, key string, data []byte) error {
	added, err := c.cli.HSet(ctx, hashPrefix+dir, key, data).Result()
	if err != nil {
		return fmt.Errorf("redis put %s/%s: %w", dir, key, err)
	}
	if added > 0 {
		if err := c.cli.RPush(ctx, orderPrefix+dir, key).Err(); err != nil {
			return fmt.Errorf("redis put order %s/%s: %w", dir, key, err)
		}
	}
	payload, err := json.Marshal(wireEvent{Key: key, Data: data})
	if err != nil {
		return fmt.Errorf("redis put marshal %s/%s: %w", dir, key, err)
	}
	if err := c.cli.Publish(ctx, channelPrefix+dir, payload).Err(); err != nil {
		return fmt.Errorf("redis put publish %s/%s: %w", dir, key, err)
	}
	return nil
}

func (c *Client) Fetch(ctx context.Context, dir string) (map[string][]byte, error) {
	vals, err := c.cli.HGetAll(ctx, hashPrefix+dir).Result()
	if err != nil {
		return nil, fmt.Errorf("redis fetch %s: %w", dir, err)
	}
	res := make(map[string][]byte, len(vals))
	for k, v := range vals {
		res[k] = []byte(v)
	}
	return res, nil
}

// Watch subscribes to the dir's channel before replaying the stored children,
// so nothing published during the replay is lost. The overlap can deliver a
// child twice; subscribers deduplicate by contract.
func (c *Client) Watch(ctx context.Context, dir string, fn func(storage.Event)) (storage.Subscription, error) {
	pubsub := c.cli.Subscribe(ctx, channelPrefix+dir)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("redis watch %s: %w", dir, err)
	}

	s := &subscription{fn: fn, pubsub: pubsub}

	keys, err := c.cli.LRange(ctx, orderPrefix+dir, 0, -1).Result()
	if err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("redis watch replay %s: %w", dir, err)
	}
	if len(keys) > 0 {
		vals, err := c.cli.HMGet(ctx, hashPrefix+dir, keys...).Result()
		if err != nil {
			pubsub.Close()
			return nil, fmt.Errorf("redis watch replay %s: %w", dir, err)
		}
		for i, v := range vals {
			str, ok := v.(string)
			if !ok {
				continue
			}
			s.deliver(storage.Event{Key: keys[i], Data: []byte(str)})
		}
	}

	go s.run()
	return s, nil
}

func (c *Client) OnDisconnectPut(dir, key string, data []byte) {
	path := dir + "/" + key
	c.mu.Lock()
	c.onDisc[path] = append([]byte(nil), data...)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.cli.HSet(ctx, discPrefix+c.clientID, path, data).Err(); err != nil {
		logger.Errorf("store register disconnect write %s: %v", path, err)
	}
}

func (c *Client) ClearDisconnect(dir, key string) {
	path := dir + "/" + key
	c.mu.Lock()
	delete(c.onDisc, path)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.cli.HDel(ctx, discPrefix+c.clientID, path).Err(); err != nil {
		logger.Errorf("store clear disconnect write %s: %v", path, err)
	}
}

// ReapDisconnected applies the registered fallback writes of clients whose
// heartbeat expired. The gateway calls this periodically; any process may,
// the writes are last-write-wins by design.
func (c *Client) ReapDisconnected(ctx context.Context) error {
	ids, err := c.cli.SMembers(ctx, clientSetKey).Result()
	if err != nil {
		return fmt.Errorf("redis reap members: %w", err)
	}
	for _, id := range ids {
		if id == c.clientID {
			continue
		}
		alive, err := c.cli.Exists(ctx, hbPrefix+id).Result()
		if err != nil || alive > 0 {
			continue
		}
		writes, err := c.cli.HGetAll(ctx, discPrefix+id).Result()
		if err != nil {
			continue
		}
		for path, data := range writes {
			idx := strings.LastIndex(path, "/")
			if idx <= 0 {
				continue
			}
			if err := c.Put(ctx, path[:idx], path[idx+1:], []byte(data)); err != nil {
				logger.Errorf("store reap write %s: %v", path, err)
			}
		}
		c.cli.Del(ctx, discPrefix+id)
		c.cli.SRem(ctx, clientSetKey, id)
	}
	return nil
}

func (c *Client) heartbeat() {
	defer close(c.hbDone)
	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()
	c.touch()
	for {
		select {
		case <-c.stopHB:
			return
		case <-ticker.C:
			c.touch()
		}
	}
}

func (c *Client) touch() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.cli.Set(ctx, hbPrefix+c.clientID, "1", heartbeatTTL).Err(); err != nil {
		logger.Errorf("store heartbeat: %v", err)
	}
}

// Close flushes any still-registered disconnect writes (from the store's
// point of view this client is now gone) and releases the connection.
func (c *Client) Close() error {
	close(c.stopHB)
	<-c.hbDone

	c.mu.Lock()
	writes := c.onDisc
	c.onDisc = make(map[string][]byte)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for path, data := range writes {
		idx := strings.LastIndex(path, "/")
		if idx <= 0 {
			continue
		}
		if err := c.Put(ctx, path[:idx], path[idx+1:], data); err != nil {
			logger.Errorf("store flush disconnect write %s: %v", path, err)
		}
	}
	c.cli.Del(ctx, discPrefix+c.clientID, hbPrefix+c.clientID)
	c.cli.SRem(ctx, clientSetKey, c.clientID)
	return c.cli.Close()
}

type subscription struct {
	mu     sync.Mutex
	fn     func(storage.Event)
	closed bool
	pubsub *redis.PubSub
}

func (s *subscription) run() {
	for msg := range s.pubsub.Channel() {
		var ev wireEvent
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			logger.Errorf("store watch unmarshal: %v", err)
			continue
		}
		s.deliver(storage.Event{Key: ev.Key, Data: ev.Data})
	}
}

func (s *subscription) deliver(ev storage.Event) {
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
	if err := s.pubsub.Close(); err != nil {
		logger.Errorf("store watch close: %v", err)
	}
}
