package board

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskly/domain"
	"taskly/realtime"
)

func newSubscribedStore(t *testing.T) (*Store, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := log.New()
	channels := realtime.NewChannels(client, logger)
	s := New(&fakePersister{}, nil, channels, logger)
	t.Cleanup(s.UnsubscribeAll)
	return s, client
}

func publishEvent(t *testing.T, client *redis.Client, channel string, ev domain.ChangeEvent) {
	t.Helper()
	data, err := sonic.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	if err := client.Publish(context.Background(), channel, data).Err(); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not reached")
}

func TestRemoteListInsertReachesSnapshot(t *testing.T) {
	s, client := newSubscribedStore(t)
	seedBoard(s, "b1", nil, nil)

	s.SubscribeToLists(context.Background(), "b1")
	time.Sleep(50 * time.Millisecond)

	ev, err := domain.NewChangeEvent(domain.EntityList, domain.EventInsert,
		domain.List{ID: "l1", Title: "Todo", BoardID: "b1", Position: 0, UpdatedAt: 5}, nil, 5)
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	publishEvent(t, client, realtime.ChannelLists, ev)

	waitFor(t, func() bool { return len(s.Lists("b1")) == 1 })
}

func TestCardEventsFilteredByBoardMembership(t *testing.T) {
	s, client := newSubscribedStore(t)
	seedBoard(s, "b1", []string{"l1"}, nil)
	seedBoard(s, "b2", []string{"l9"}, nil)

	s.SubscribeToCards(context.Background(), "b1")
	time.Sleep(50 * time.Millisecond)

	other, err := domain.NewChangeEvent(domain.EntityCard, domain.EventInsert,
		domain.Card{ID: "zz", ListID: "l9", Position: 0}, nil, 5)
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	publishEvent(t, client, realtime.ChannelCards, other)

	ours, err := domain.NewChangeEvent(domain.EntityCard, domain.EventInsert,
		domain.Card{ID: "aa", ListID: "l1", Position: 0}, nil, 6)
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	publishEvent(t, client, realtime.ChannelCards, ours)

	waitFor(t, func() bool { return len(s.Cards("l1")) == 1 })
	if _, ok := s.FindCard("zz"); ok {
		t.Fatalf("event for another board leaked into the snapshot")
	}
}

func TestResubscribeDoesNotDoubleApply(t *testing.T) {
	s, client := newSubscribedStore(t)
	seedBoard(s, "b1", nil, nil)

	// Navigating to the same board twice replaces the stream.
	s.SubscribeToLists(context.Background(), "b1")
	s.SubscribeToLists(context.Background(), "b1")
	time.Sleep(50 * time.Millisecond)

	ev, err := domain.NewChangeEvent(domain.EntityList, domain.EventInsert,
		domain.List{ID: "l1", BoardID: "b1", Position: 0}, nil, 5)
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	publishEvent(t, client, realtime.ChannelLists, ev)

	waitFor(t, func() bool { return len(s.Lists("b1")) == 1 })
	// A duplicate listener would race a second insert; the reconciler would
	// swallow it anyway, but the stream must already be single.
	time.Sleep(100 * time.Millisecond)
	if n := len(s.Lists("b1")); n != 1 {
		t.Fatalf("expected one list, got %d", n)
	}
}
