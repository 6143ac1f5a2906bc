package board

import (
	"context"
	"fmt"
	"sync"
	"testing"

	log "github.com/sirupsen/logrus"

	"taskly/domain"
)

type fakePersister struct {
	mu      sync.Mutex
	inserts []string
	updates []string
	deletes []string
	reflows [][]domain.PositionUpdate

	insertErr error
	updateErr error
	deleteErr error
	reflowErr error
}

func (f *fakePersister) record(list *[]string, kind, id string) {
	f.mu.Lock()
	*list = append(*list, kind+":"+id)
	f.mu.Unlock()
}

func (f *fakePersister) InsertBoard(_ context.Context, b domain.Board) error {
	f.record(&f.inserts, "board", b.ID)
	return f.insertErr
}

func (f *fakePersister) UpdateBoard(_ context.Context, b domain.Board) error {
	f.record(&f.updates, "board", b.ID)
	return f.updateErr
}

func (f *fakePersister) DeleteBoard(_ context.Context, b domain.Board) error {
	f.record(&f.deletes, "board", b.ID)
	return f.deleteErr
}

func (f *fakePersister) InsertList(_ context.Context, l domain.List) error {
	f.record(&f.inserts, "list", l.ID)
	return f.insertErr
}

func (f *fakePersister) UpdateList(_ context.Context, l domain.List) error {
	f.record(&f.updates, "list", l.ID)
	return f.updateErr
}

func (f *fakePersister) DeleteList(_ context.Context, l domain.List) error {
	f.record(&f.deletes, "list", l.ID)
	return f.deleteErr
}

func (f *fakePersister) InsertCard(_ context.Context, c domain.Card) error {
	f.record(&f.inserts, "card", c.ID)
	return f.insertErr
}

func (f *fakePersister) UpdateCard(_ context.Context, _, next domain.Card) error {
	f.record(&f.updates, "card", next.ID)
	return f.updateErr
}

func (f *fakePersister) DeleteCard(_ context.Context, c domain.Card) error {
	f.record(&f.deletes, "card", c.ID)
	return f.deleteErr
}

func (f *fakePersister) ReflowPositions(_ context.Context, batch []domain.PositionUpdate) error {
	f.mu.Lock()
	f.reflows = append(f.reflows, batch)
	f.mu.Unlock()
	return f.reflowErr
}

func (f *fakePersister) lastReflow() []domain.PositionUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.reflows) == 0 {
		return nil
	}
	return f.reflows[len(f.reflows)-1]
}

func newTestStore(t *testing.T, p *fakePersister) *Store {
	t.Helper()
	logger := log.New()
	s := New(p, nil, nil, logger)
	var seq int
	s.newID = func() string {
		seq++
		return fmt.Sprintf("id-%d", seq)
	}
	var clock int64 = 1000
	s.now = func() int64 {
		clock++
		return clock
	}
	return s
}

// seedBoard installs a board with lists and per-list card titles without
// going through the persister.
func seedBoard(s *Store, boardID string, listIDs []string, cardsByList map[string][]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.boards = append(s.boards, domain.Board{ID: boardID, Title: boardID, CreatedBy: "user-1"})
	for i, listID := range listIDs {
		s.lists = append(s.lists, domain.List{ID: listID, Title: listID, BoardID: boardID, Position: i})
		for j, cardID := range cardsByList[listID] {
			s.cards = append(s.cards, domain.Card{ID: cardID, Title: cardID, ListID: listID, Position: j})
		}
	}
}

func cardIDs(cards []domain.Card) []string {
	out := make([]string, len(cards))
	for i, c := range cards {
		out[i] = c.ID
	}
	return out
}

func listIDs(lists []domain.List) []string {
	out := make([]string, len(lists))
	for i, l := range lists {
		out[i] = l.ID
	}
	return out
}

func assertOrder(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("sequence %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sequence %v, want %v", got, want)
		}
	}
}

func assertDense[T interface {
	Rank() int
	Key() string
}](t *testing.T, seq []T) {
	t.Helper()
	for i, it := range seq {
		if it.Rank() != i {
			t.Fatalf("entity %s has position %d at index %d", it.Key(), it.Rank(), i)
		}
	}
}
