package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskly/domain"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

type eventSink struct {
	mu     sync.Mutex
	events []domain.ChangeEvent
	gotOne chan struct{}
}

func newEventSink() *eventSink {
	return &eventSink{gotOne: make(chan struct{}, 16)}
}

func (s *eventSink) handle(ev domain.ChangeEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	s.gotOne <- struct{}{}
}

func (s *eventSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *eventSink) wait(t *testing.T) {
	t.Helper()
	select {
	case <-s.gotOne:
	case <-time.After(2 * time.Second):
		t.Fatalf("no event received")
	}
}

func publishList(t *testing.T, client *redis.Client, channel string, l domain.List) {
	t.Helper()
	ev, err := domain.NewChangeEvent(domain.EntityList, domain.EventInsert, l, nil, time.Now().UnixMilli())
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	pub := NewPublisher(client, log.New())
	if err := pub.Publish(context.Background(), channel, ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func TestSubscribeDeliversFilteredEvents(t *testing.T) {
	client := newTestClient(t)
	channels := NewChannels(client, log.New())
	defer channels.UnsubscribeAll()

	sink := newEventSink()
	channels.Subscribe(context.Background(), "lists-b1", ChannelLists, func(ev domain.ChangeEvent) bool {
		l, err := ev.DecodeList()
		return err == nil && l.BoardID == "b1"
	}, sink.handle)

	// Subscription setup is asynchronous; give the pump a moment.
	time.Sleep(50 * time.Millisecond)

	publishList(t, client, ChannelLists, domain.List{ID: "l1", BoardID: "b2"})
	publishList(t, client, ChannelLists, domain.List{ID: "l2", BoardID: "b1"})

	sink.wait(t)
	if n := sink.count(); n != 1 {
		t.Fatalf("expected 1 event after filtering, got %d", n)
	}
	l, err := sink.events[0].DecodeList()
	if err != nil || l.ID != "l2" {
		t.Fatalf("unexpected event row: %+v (%v)", l, err)
	}
}

func TestSubscribeReplacesExistingKey(t *testing.T) {
	client := newTestClient(t)
	channels := NewChannels(client, log.New())
	defer channels.UnsubscribeAll()

	first := newEventSink()
	second := newEventSink()
	channels.Subscribe(context.Background(), "lists", ChannelLists, nil, first.handle)
	time.Sleep(50 * time.Millisecond)
	channels.Subscribe(context.Background(), "lists", ChannelLists, nil, second.handle)
	time.Sleep(50 * time.Millisecond)

	publishList(t, client, ChannelLists, domain.List{ID: "l1", BoardID: "b1"})

	second.wait(t)
	if n := first.count(); n != 0 {
		t.Fatalf("replaced subscription still delivered %d events", n)
	}
	if n := second.count(); n != 1 {
		t.Fatalf("expected exactly 1 delivery, got %d", n)
	}
}

func TestUnsubscribeUnknownKeyIsSafe(t *testing.T) {
	client := newTestClient(t)
	channels := NewChannels(client, log.New())

	channels.Unsubscribe("missing")
	channels.UnsubscribeAll()
}

func TestMalformedPayloadIsDropped(t *testing.T) {
	client := newTestClient(t)
	channels := NewChannels(client, log.New())
	defer channels.UnsubscribeAll()

	sink := newEventSink()
	channels.Subscribe(context.Background(), "cards", ChannelCards, nil, sink.handle)
	time.Sleep(50 * time.Millisecond)

	if err := client.Publish(context.Background(), ChannelCards, "{not json").Err(); err != nil {
		t.Fatalf("publish: %v", err)
	}
	publishList(t, client, ChannelCards, domain.List{ID: "l1"})

	sink.wait(t)
	if n := sink.count(); n != 1 {
		t.Fatalf("expected only the valid event, got %d", n)
	}
}
