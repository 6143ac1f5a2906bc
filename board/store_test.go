package board

import (
	"context"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"taskly/domain"
)

type fakeFetcher struct {
	boards []domain.Board
	lists  []domain.List
	cards  []domain.Card
	err    error
}

func (f *fakeFetcher) FetchBoards(context.Context, string) ([]domain.Board, error) {
	return f.boards, f.err
}

func (f *fakeFetcher) FetchLists(context.Context, string) ([]domain.List, error) {
	return f.lists, f.err
}

func (f *fakeFetcher) FetchCards(context.Context, string) ([]domain.Card, error) {
	return f.cards, f.err
}

func TestLoadReplacesBoardContents(t *testing.T) {
	fetch := &fakeFetcher{
		lists: []domain.List{
			{ID: "l2", BoardID: "b1", Position: 1},
			{ID: "l1", BoardID: "b1", Position: 0},
		},
		cards: []domain.Card{
			{ID: "a", ListID: "l1", Position: 0},
			{ID: "b", ListID: "l1", Position: 1},
		},
	}
	s := New(&fakePersister{}, fetch, nil, log.New())

	// Stale local copies from a previous visit get replaced.
	s.mu.Lock()
	s.lists = []domain.List{{ID: "old", BoardID: "b1"}}
	s.cards = []domain.Card{{ID: "oldcard", ListID: "old"}}
	s.mu.Unlock()

	if err := s.Load(context.Background(), "b1"); err != nil {
		t.Fatalf("load: %v", err)
	}
	assertOrder(t, listIDs(s.Lists("b1")), []string{"l1", "l2"})
	assertOrder(t, cardIDs(s.Cards("l1")), []string{"a", "b"})
	if _, ok := s.FindList("old"); ok {
		t.Fatalf("stale list survived reload")
	}
	if _, ok := s.FindCard("oldcard"); ok {
		t.Fatalf("stale card survived reload")
	}
}

// A list deleted remotely while this client was not subscribed is absent
// from the fresh fetch; reload must drop its cards too, not just the list.
func TestLoadDropsCardsOfRemovedLists(t *testing.T) {
	fetch := &fakeFetcher{
		lists: []domain.List{{ID: "l1", BoardID: "b1", Position: 0}},
		cards: []domain.Card{{ID: "a", ListID: "l1", Position: 0}},
	}
	s := New(&fakePersister{}, fetch, nil, log.New())
	seedBoard(s, "b1", []string{"l1", "gone"}, map[string][]string{
		"l1":   {"a"},
		"gone": {"orphan"},
	})
	seedBoard(s, "b2", []string{"l9"}, map[string][]string{"l9": {"z"}})

	if err := s.Load(context.Background(), "b1"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := s.FindCard("orphan"); ok {
		t.Fatalf("card of a remotely deleted list survived reload")
	}
	for _, c := range s.Snapshot().Cards {
		if c.ListID == "gone" {
			t.Fatalf("snapshot still carries card %s of removed list", c.ID)
		}
	}
	// Other boards are untouched.
	assertOrder(t, cardIDs(s.Cards("l9")), []string{"z"})
}

func TestSnapshotIsACopy(t *testing.T) {
	s := newTestStore(t, &fakePersister{})
	seedBoard(s, "b1", []string{"l1"}, map[string][]string{"l1": {"a"}})

	snap := s.Snapshot()
	snap.Cards[0].Title = "mutated"

	c, _ := s.FindCard("a")
	if c.Title == "mutated" {
		t.Fatalf("snapshot shares memory with the store")
	}
}

func TestBoardSnapshotScopesToBoard(t *testing.T) {
	s := newTestStore(t, &fakePersister{})
	seedBoard(s, "b1", []string{"l1"}, map[string][]string{"l1": {"a"}})
	seedBoard(s, "b2", []string{"l9"}, map[string][]string{"l9": {"z"}})

	snap, ok := s.BoardSnapshot("b1")
	if !ok {
		t.Fatalf("board not found")
	}
	assertOrder(t, listIDs(snap.Lists), []string{"l1"})
	assertOrder(t, cardIDs(snap.Cards), []string{"a"})
}

func TestWatchSignalsOnMutation(t *testing.T) {
	s := newTestStore(t, &fakePersister{})
	seedBoard(s, "b1", nil, nil)

	ch, cancel := s.Watch()
	defer cancel()

	if _, err := s.CreateList(context.Background(), "b1", "Todo"); err != nil {
		t.Fatalf("create list: %v", err)
	}

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatalf("no watch signal after mutation")
	}
}

func TestWatchCancelStopsDelivery(t *testing.T) {
	s := newTestStore(t, &fakePersister{})
	seedBoard(s, "b1", nil, nil)

	ch, cancel := s.Watch()
	cancel()

	if _, err := s.CreateList(context.Background(), "b1", "Todo"); err != nil {
		t.Fatalf("create list: %v", err)
	}
	select {
	case <-ch:
		t.Fatalf("cancelled watcher still signalled")
	default:
	}
}

func TestLoadBoards(t *testing.T) {
	fetch := &fakeFetcher{boards: []domain.Board{{ID: "b1", Title: "Roadmap"}}}
	s := New(&fakePersister{}, fetch, nil, log.New())

	boards, err := s.LoadBoards(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("load boards: %v", err)
	}
	if len(boards) != 1 || boards[0].ID != "b1" {
		t.Fatalf("unexpected boards: %+v", boards)
	}
	if len(s.Boards()) != 1 {
		t.Fatalf("snapshot not updated")
	}
}
