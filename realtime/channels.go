package realtime

import (
	"context"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskly/domain"
)

// Channel names for the shared change feed.
const (
	ChannelBoards = "taskly:boards"
	ChannelLists  = "taskly:lists"
	ChannelCards  = "taskly:cards"
)

// Filter decides whether an event belongs to a stream. A nil filter accepts
// everything.
type Filter func(domain.ChangeEvent) bool

// Handler consumes one change event.
type Handler func(domain.ChangeEvent)

type subscription struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *subscription) stop() {
	s.cancel()
	_ = s.pubsub.Close()
	<-s.done
}

// Channels manages named, filtered subscriptions to the Redis change feed.
// Subscribing again under an existing stream key tears the old subscription
// down first, so a key never has two listeners.
type Channels struct {
	rc     *redis.Client
	logger *log.Logger

	mu   sync.Mutex
	subs map[string]*subscription
}

// NewChannels creates a subscription manager on the given Redis client.
func NewChannels(rc *redis.Client, logger *log.Logger) *Channels {
	if rc == nil {
		panic("realtime.NewChannels: redis client is nil")
	}
	if logger == nil {
		panic("realtime.NewChannels: logger is nil")
	}
	return &Channels{rc: rc, logger: logger, subs: make(map[string]*subscription)}
}

// Subscribe starts delivering events from channel to handle, keyed by
// streamKey. Events rejected by filter are dropped before handle runs.
func (c *Channels) Subscribe(ctx context.Context, streamKey, channel string, filter Filter, handle Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.subs[streamKey]; ok {
		old.stop()
		delete(c.subs, streamKey)
	}

	runCtx, cancel := context.WithCancel(ctx)
	pubsub := c.rc.Subscribe(runCtx, channel)
	sub := &subscription{pubsub: pubsub, cancel: cancel, done: make(chan struct{})}
	c.subs[streamKey] = sub

	go c.pump(runCtx, sub, filter, handle)
}

func (c *Channels) pump(ctx context.Context, sub *subscription, filter Filter, handle Handler) {
	defer close(sub.done)
	ch := sub.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev domain.ChangeEvent
			if err := sonic.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				c.logger.Errorf("realtime: dropping malformed event: %v", err)
				continue
			}
			if filter != nil && !filter(ev) {
				continue
			}
			handle(ev)
		}
	}
}

// Unsubscribe releases the subscription under streamKey. It is a no-op when
// nothing is subscribed under that key.
func (c *Channels) Unsubscribe(streamKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sub, ok := c.subs[streamKey]; ok {
		sub.stop()
		delete(c.subs, streamKey)
	}
}

// UnsubscribeAll releases every subscription.
func (c *Channels) UnsubscribeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, sub := range c.subs {
		sub.stop()
		delete(c.subs, key)
	}
}

// Publisher emits change events on the shared feed.
type Publisher struct {
	rc     *redis.Client
	logger *log.Logger
}

// NewPublisher creates a Publisher on the given Redis client.
func NewPublisher(rc *redis.Client, logger *log.Logger) *Publisher {
	if rc == nil {
		panic("realtime.NewPublisher: redis client is nil")
	}
	if logger == nil {
		panic("realtime.NewPublisher: logger is nil")
	}
	return &Publisher{rc: rc, logger: logger}
}

// Publish sends one event to the given channel.
func (p *Publisher) Publish(ctx context.Context, channel string, ev domain.ChangeEvent) error {
	data, err := sonic.Marshal(ev)
	if err != nil {
		return err
	}
	return p.rc.Publish(ctx, channel, data).Err()
}
