package board

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"taskly/domain"
	"taskly/realtime"
)

// Persister writes entity rows to the backend. Implementations are expected
// to emit a matching change event on the feed after every successful write;
// the reconciler treats the echo of our own write as a no-op.
type Persister interface {
	InsertBoard(ctx context.Context, b domain.Board) error
	UpdateBoard(ctx context.Context, b domain.Board) error
	DeleteBoard(ctx context.Context, b domain.Board) error
	InsertList(ctx context.Context, l domain.List) error
	UpdateList(ctx context.Context, l domain.List) error
	DeleteList(ctx context.Context, l domain.List) error
	InsertCard(ctx context.Context, c domain.Card) error
	UpdateCard(ctx context.Context, prev, next domain.Card) error
	DeleteCard(ctx context.Context, c domain.Card) error
	// ReflowPositions hands off the sibling renumbering batch of a move.
	// Best-effort: failures are the implementation's to retry or drop.
	ReflowPositions(ctx context.Context, batch []domain.PositionUpdate) error
}

// Fetcher reads entity rows from the backend for snapshot bootstrap.
type Fetcher interface {
	FetchBoards(ctx context.Context, userID string) ([]domain.Board, error)
	FetchLists(ctx context.Context, boardID string) ([]domain.List, error)
	FetchCards(ctx context.Context, boardID string) ([]domain.Card, error)
}

// Snapshot is a read-only copy of the local store for rendering. Lists are
// sorted by position; cards are sorted by list and position.
type Snapshot struct {
	Boards []domain.Board `json:"boards"`
	Lists  []domain.List  `json:"lists"`
	Cards  []domain.Card  `json:"cards"`
}

// Store holds the local snapshot of boards, lists and cards for one session
// and is its only writer: user intents mutate it optimistically, the
// reconciler folds remote change events into it. Both paths serialize on the
// same mutex, which stands in for the source's single-threaded event loop.
type Store struct {
	mu     sync.Mutex
	boards []domain.Board
	lists  []domain.List
	cards  []domain.Card

	persist  Persister
	fetch    Fetcher
	channels *realtime.Channels
	logger   *log.Logger

	now   func() int64
	newID func() string

	watchMu  sync.Mutex
	watchers map[chan struct{}]struct{}
}

// New creates an empty store. fetch and channels may be nil when the caller
// only needs local mutation and reconciliation (tests, offline use).
func New(persist Persister, fetch Fetcher, channels *realtime.Channels, logger *log.Logger) *Store {
	if persist == nil {
		panic("board.New: persister is nil")
	}
	if logger == nil {
		panic("board.New: logger is nil")
	}
	return &Store{
		persist:  persist,
		fetch:    fetch,
		channels: channels,
		logger:   logger,
		now:      func() int64 { return time.Now().UnixMilli() },
		newID:    uuid.NewString,
		watchers: make(map[chan struct{}]struct{}),
	}
}

// LoadBoards fetches the boards visible to userID into the snapshot.
func (s *Store) LoadBoards(ctx context.Context, userID string) ([]domain.Board, error) {
	if s.fetch == nil {
		return s.Boards(), nil
	}
	boards, err := s.fetch.FetchBoards(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.boards = append([]domain.Board(nil), boards...)
	s.mu.Unlock()
	s.notify()
	return boards, nil
}

// Load fetches the lists and cards of one board into the snapshot,
// replacing whatever was loaded for it before.
func (s *Store) Load(ctx context.Context, boardID string) error {
	if s.fetch == nil {
		return nil
	}
	lists, err := s.fetch.FetchLists(ctx, boardID)
	if err != nil {
		return err
	}
	cards, err := s.fetch.FetchCards(ctx, boardID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	// Cards are dropped for every list this board owned locally as well as
	// every freshly fetched one. A list deleted remotely while we were not
	// subscribed would otherwise keep its cards around forever.
	owned := make(map[string]struct{}, len(lists))
	for _, l := range lists {
		owned[l.ID] = struct{}{}
	}
	kept := s.lists[:0:0]
	for _, l := range s.lists {
		if l.BoardID != boardID {
			kept = append(kept, l)
			continue
		}
		owned[l.ID] = struct{}{}
	}
	s.lists = append(kept, lists...)

	keptCards := s.cards[:0:0]
	for _, c := range s.cards {
		if _, ok := owned[c.ListID]; !ok {
			keptCards = append(keptCards, c)
		}
	}
	s.cards = append(keptCards, cards...)
	s.mu.Unlock()
	s.notify()
	return nil
}

// Snapshot returns a deep copy of the whole local store.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Boards: append([]domain.Board(nil), s.boards...),
		Lists:  domain.SortByPosition(s.lists),
		Cards:  sortCards(s.cards),
	}
}

// BoardSnapshot returns the board with the given id together with its lists
// and their cards, sorted.
func (s *Store) BoardSnapshot(boardID string) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{}
	found := false
	for _, b := range s.boards {
		if b.ID == boardID {
			snap.Boards = []domain.Board{b}
			found = true
			break
		}
	}
	lists := s.listSeq(boardID)
	snap.Lists = lists
	for _, l := range lists {
		snap.Cards = append(snap.Cards, s.cardSeq(l.ID)...)
	}
	return snap, found || len(lists) > 0
}

// Boards returns the known boards.
func (s *Store) Boards() []domain.Board {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Board(nil), s.boards...)
}

// Lists returns the lists of a board sorted by position.
func (s *Store) Lists(boardID string) []domain.List {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listSeq(boardID)
}

// Cards returns the cards of a list sorted by position.
func (s *Store) Cards(listID string) []domain.Card {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cardSeq(listID)
}

// FindList looks a list up by id.
func (s *Store) FindList(id string) (domain.List, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, _, ok := s.findList(id)
	return l, ok
}

// FindCard looks a card up by id.
func (s *Store) FindCard(id string) (domain.Card, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, _, ok := s.findCard(id)
	return c, ok
}

// Watch registers for change notifications. The returned channel receives a
// signal (coalesced) after every snapshot change; the cancel func must be
// called when done.
func (s *Store) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.watchMu.Lock()
	s.watchers[ch] = struct{}{}
	s.watchMu.Unlock()
	cancel := func() {
		s.watchMu.Lock()
		delete(s.watchers, ch)
		s.watchMu.Unlock()
	}
	return ch, cancel
}

func (s *Store) notify() {
	s.watchMu.Lock()
	for ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	s.watchMu.Unlock()
}

// listSeq returns the board's lists sorted by position. Callers hold s.mu.
func (s *Store) listSeq(boardID string) []domain.List {
	seq := make([]domain.List, 0, len(s.lists))
	for _, l := range s.lists {
		if l.BoardID == boardID {
			seq = append(seq, l)
		}
	}
	return domain.SortByPosition(seq)
}

// cardSeq returns the list's cards sorted by position. Callers hold s.mu.
func (s *Store) cardSeq(listID string) []domain.Card {
	seq := make([]domain.Card, 0, 8)
	for _, c := range s.cards {
		if c.ListID == listID {
			seq = append(seq, c)
		}
	}
	return domain.SortByPosition(seq)
}

// applyListSeq writes the sequence's positions back into the flat slice.
// Callers hold s.mu.
func (s *Store) applyListSeq(seq []domain.List) {
	for _, updated := range seq {
		for i := range s.lists {
			if s.lists[i].ID == updated.ID {
				s.lists[i] = updated
				break
			}
		}
	}
}

// applyCardSeq writes the sequence's list ids and positions back into the
// flat slice. Callers hold s.mu.
func (s *Store) applyCardSeq(seq []domain.Card) {
	for _, updated := range seq {
		for i := range s.cards {
			if s.cards[i].ID == updated.ID {
				s.cards[i] = updated
				break
			}
		}
	}
}

func (s *Store) findBoard(id string) (domain.Board, int, bool) {
	for i, b := range s.boards {
		if b.ID == id {
			return b, i, true
		}
	}
	return domain.Board{}, -1, false
}

func (s *Store) findList(id string) (domain.List, int, bool) {
	for i, l := range s.lists {
		if l.ID == id {
			return l, i, true
		}
	}
	return domain.List{}, -1, false
}

func (s *Store) findCard(id string) (domain.Card, int, bool) {
	for i, c := range s.cards {
		if c.ID == id {
			return c, i, true
		}
	}
	return domain.Card{}, -1, false
}

func sortCards(cards []domain.Card) []domain.Card {
	byList := make(map[string][]domain.Card)
	order := make([]string, 0, 8)
	for _, c := range cards {
		if _, ok := byList[c.ListID]; !ok {
			order = append(order, c.ListID)
		}
		byList[c.ListID] = append(byList[c.ListID], c)
	}
	out := make([]domain.Card, 0, len(cards))
	for _, listID := range order {
		out = append(out, domain.SortByPosition(byList[listID])...)
	}
	return out
}
