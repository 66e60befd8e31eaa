package access

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultChangeChannel is the Redis channel carrying change events.
const DefaultChangeChannel = "permissions.changed"

// ChangeEvent tells sessions that the permission view for (facility, role)
// is stale. It carries no decision.
type ChangeEvent struct {
	ID       uuid.UUID `json:"id"`
	Facility Facility  `json:"facility"`
	Role     Role      `json:"role"`
	At       time.Time `json:"at"`
}

// NewChangeEvent stamps an event for the scope.
func NewChangeEvent(facility Facility, role Role) ChangeEvent {
	return ChangeEvent{ID: uuid.New(), Facility: facility, Role: role, At: time.Now().UTC()}
}

// Broadcaster delivers change events best-effort, at most once.
type Broadcaster interface {
	Publish(ctx context.Context, event ChangeEvent) error
}

// Subscription receives change events until closed.
type Subscription struct {
	C <-chan ChangeEvent

	ch   chan ChangeEvent
	hub  *Hub
	id   uint64
	once sync.Once
}

// Close unregisters the subscription and closes C.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.hub.remove(s.id)
	})
}

// Hub fans events out to registered in-process subscribers. Publish never
// blocks: a subscriber whose buffer is full misses the event.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	buffer int
	onDrop func()
}

// HubConfig tunes a Hub.
type HubConfig struct {
	Buffer int
	OnDrop func()
}

// NewHub constructs a Hub.
func NewHub(cfg HubConfig) *Hub {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 16
	}
	return &Hub{subs: make(map[uint64]*Subscription), buffer: cfg.Buffer, onDrop: cfg.OnDrop}
}

// Subscribe registers a new subscriber.
func (h *Hub) Subscribe() *Subscription {
	ch := make(chan ChangeEvent, h.buffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	sub := &Subscription{C: ch, ch: ch, hub: h, id: h.nextID}
	h.subs[sub.id] = sub
	return sub
}

// Publish delivers event to every subscriber with buffer space.
func (h *Hub) Publish(_ context.Context, event ChangeEvent) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		select {
		case sub.ch <- event:
		default:
			if h.onDrop != nil {
				h.onDrop()
			}
		}
	}
	return nil
}

// Len reports the number of active subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(sub.ch)
	}
}

// RedisBroadcaster publishes change events on a Redis channel so every
// service instance can relay them to its own sessions.
type RedisBroadcaster struct {
	client  *redis.Client
	channel string
}

// NewRedisBroadcaster constructs a RedisBroadcaster. An empty channel selects
// DefaultChangeChannel.
func NewRedisBroadcaster(client *redis.Client, channel string) *RedisBroadcaster {
	if channel == "" {
		channel = DefaultChangeChannel
	}
	return &RedisBroadcaster{client: client, channel: channel}
}

// Publish encodes and publishes the event.
func (b *RedisBroadcaster) Publish(ctx context.Context, event ChangeEvent) error {
	if b == nil || b.client == nil {
		return errors.New("access: redis broadcaster not configured")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

// RelayFromRedis subscribes to channel and republishes decoded events into
// hub until ctx is done. It returns once the subscription is confirmed.
func RelayFromRedis(ctx context.Context, client *redis.Client, channel string, hub *Hub, logger *slog.Logger) error {
	if client == nil || hub == nil {
		return errors.New("access: relay requires redis client and hub")
	}
	if channel == "" {
		channel = DefaultChangeChannel
	}
	pubsub := client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event ChangeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					if logger != nil {
						logger.Warn("discard malformed change event", slog.Any("error", err))
					}
					continue
				}
				if !event.Facility.Valid() || !event.Role.Gated() {
					continue
				}
				_ = hub.Publish(ctx, event)
			}
		}
	}()
	return nil
}

var (
	_ Broadcaster = (*Hub)(nil)
	_ Broadcaster = (*RedisBroadcaster)(nil)
)
