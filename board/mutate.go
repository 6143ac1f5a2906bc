package board

import (
	"context"
	"strings"

	"taskly/domain"
)

// ValidationError rejects an intent before any local or remote mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}

func requireField(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{Field: field, Reason: "must not be empty"}
	}
	return nil
}

// BoardPatch carries the fields an update intent may change on a board.
type BoardPatch struct {
	Title        *string `json:"title,omitempty"`
	Description  *string `json:"description,omitempty"`
	Starred      *bool   `json:"starred,omitempty"`
	LastOpenedAt *int64  `json:"lastOpenedAt,omitempty"`
}

// ListPatch carries the fields an update intent may change on a list.
// Reordering goes through MoveList, so there is no position field.
type ListPatch struct {
	Title *string `json:"title,omitempty"`
}

// CardPatch carries the fields an update intent may change on a card.
// Moves go through MoveCard, so there are no listId or position fields.
type CardPatch struct {
	Title       *string                 `json:"title,omitempty"`
	Description *string                 `json:"description,omitempty"`
	DueDate     *int64                  `json:"dueDate,omitempty"`
	Tags        *[]string               `json:"tags,omitempty"`
	Done        *bool                   `json:"done,omitempty"`
	Checklist   *[]domain.ChecklistItem `json:"checklist,omitempty"`
}

// CreateBoard adds a board owned by userID, optimistically, then persists
// it. The optimistic copy is removed again when the insert fails.
func (s *Store) CreateBoard(ctx context.Context, userID, title, description string) (domain.Board, error) {
	if err := requireField("title", title); err != nil {
		return domain.Board{}, err
	}
	if err := requireField("userId", userID); err != nil {
		return domain.Board{}, err
	}

	now := s.now()
	b := domain.Board{
		ID:          s.newID(),
		Title:       title,
		Description: description,
		CreatedBy:   userID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	s.mu.Lock()
	s.boards = append(s.boards, b)
	s.mu.Unlock()
	s.notify()

	if err := s.persist.InsertBoard(ctx, b); err != nil {
		s.logger.Errorf("board: insert %s failed, rolling back: %v", b.ID, err)
		s.mu.Lock()
		if _, i, ok := s.findBoard(b.ID); ok {
			s.boards = append(s.boards[:i], s.boards[i+1:]...)
		}
		s.mu.Unlock()
		s.notify()
		return domain.Board{}, err
	}
	return b, nil
}

// UpdateBoard shallow-merges the patch into the board and persists the
// update, restoring the previous row when the persist fails.
func (s *Store) UpdateBoard(ctx context.Context, id string, patch BoardPatch) error {
	s.mu.Lock()
	b, i, ok := s.findBoard(id)
	if !ok {
		s.mu.Unlock()
		return &ValidationError{Field: "boardId", Reason: "unknown board"}
	}
	prev := b
	if patch.Title != nil {
		b.Title = *patch.Title
	}
	if patch.Description != nil {
		b.Description = *patch.Description
	}
	if patch.Starred != nil {
		b.Starred = *patch.Starred
	}
	if patch.LastOpenedAt != nil {
		b.LastOpenedAt = *patch.LastOpenedAt
	}
	b.UpdatedAt = s.now()
	s.boards[i] = b
	s.mu.Unlock()
	s.notify()

	if err := s.persist.UpdateBoard(ctx, b); err != nil {
		s.logger.Errorf("board: update %s failed, rolling back: %v", id, err)
		s.mu.Lock()
		if _, i, ok := s.findBoard(id); ok {
			s.boards[i] = prev
		}
		s.mu.Unlock()
		s.notify()
		return err
	}
	return nil
}

// ToggleStar flips the starred flag on a board.
func (s *Store) ToggleStar(ctx context.Context, id string) error {
	s.mu.Lock()
	b, _, ok := s.findBoard(id)
	s.mu.Unlock()
	if !ok {
		return &ValidationError{Field: "boardId", Reason: "unknown board"}
	}
	starred := !b.Starred
	return s.UpdateBoard(ctx, id, BoardPatch{Starred: &starred})
}

// DeleteBoard removes the board locally and persists the delete. The backend
// cascades the board's lists and cards; their delete events clean up the
// rest of the local snapshot.
func (s *Store) DeleteBoard(ctx context.Context, id string) error {
	s.mu.Lock()
	b, i, ok := s.findBoard(id)
	if ok {
		s.boards = append(s.boards[:i], s.boards[i+1:]...)
	}
	s.mu.Unlock()
	if !ok {
		return &ValidationError{Field: "boardId", Reason: "unknown board"}
	}
	s.notify()

	if err := s.persist.DeleteBoard(ctx, b); err != nil {
		s.logger.Errorf("board: delete %s failed, rolling back: %v", id, err)
		s.mu.Lock()
		if _, _, ok := s.findBoard(id); !ok {
			s.boards = append(s.boards, b)
		}
		s.mu.Unlock()
		s.notify()
		return err
	}
	return nil
}

// CreateList appends a list to the board with the next dense position.
func (s *Store) CreateList(ctx context.Context, boardID, title string) (domain.List, error) {
	if err := requireField("title", title); err != nil {
		return domain.List{}, err
	}
	if err := requireField("boardId", boardID); err != nil {
		return domain.List{}, err
	}

	now := s.now()
	s.mu.Lock()
	l := domain.List{
		ID:        s.newID(),
		Title:     title,
		BoardID:   boardID,
		Position:  len(s.listSeq(boardID)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.lists = append(s.lists, l)
	s.mu.Unlock()
	s.notify()

	if err := s.persist.InsertList(ctx, l); err != nil {
		s.logger.Errorf("board: insert list %s failed, rolling back: %v", l.ID, err)
		s.mu.Lock()
		if _, i, ok := s.findList(l.ID); ok {
			s.lists = append(s.lists[:i], s.lists[i+1:]...)
		}
		s.mu.Unlock()
		s.notify()
		return domain.List{}, err
	}
	return l, nil
}

// CreateCard appends a card to the list with the next dense position,
// stamped with the creating user.
func (s *Store) CreateCard(ctx context.Context, userID, listID, title, description string) (domain.Card, error) {
	if err := requireField("title", title); err != nil {
		return domain.Card{}, err
	}
	if err := requireField("listId", listID); err != nil {
		return domain.Card{}, err
	}

	now := s.now()
	s.mu.Lock()
	c := domain.Card{
		ID:          s.newID(),
		Title:       title,
		Description: description,
		ListID:      listID,
		Position:    len(s.cardSeq(listID)),
		Tags:        []string{},
		CreatedBy:   userID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.cards = append(s.cards, c)
	s.mu.Unlock()
	s.notify()

	if err := s.persist.InsertCard(ctx, c); err != nil {
		s.logger.Errorf("board: insert card %s failed, rolling back: %v", c.ID, err)
		s.mu.Lock()
		if _, i, ok := s.findCard(c.ID); ok {
			s.cards = append(s.cards[:i], s.cards[i+1:]...)
		}
		s.mu.Unlock()
		s.notify()
		return domain.Card{}, err
	}
	return c, nil
}

// UpdateList shallow-merges the patch and persists the update. Does not
// touch position.
func (s *Store) UpdateList(ctx context.Context, id string, patch ListPatch) error {
	s.mu.Lock()
	l, i, ok := s.findList(id)
	if !ok {
		s.mu.Unlock()
		return &ValidationError{Field: "listId", Reason: "unknown list"}
	}
	prev := l
	if patch.Title != nil {
		if err := requireField("title", *patch.Title); err != nil {
			s.mu.Unlock()
			return err
		}
		l.Title = *patch.Title
	}
	l.UpdatedAt = s.now()
	s.lists[i] = l
	s.mu.Unlock()
	s.notify()

	if err := s.persist.UpdateList(ctx, l); err != nil {
		s.logger.Errorf("board: update list %s failed, rolling back: %v", id, err)
		s.mu.Lock()
		if _, i, ok := s.findList(id); ok {
			s.lists[i] = prev
		}
		s.mu.Unlock()
		s.notify()
		return err
	}
	return nil
}

// UpdateCard shallow-merges the patch and persists the update. Does not
// touch position or list membership.
func (s *Store) UpdateCard(ctx context.Context, id string, patch CardPatch) error {
	s.mu.Lock()
	prev, i, ok := s.findCard(id)
	if !ok {
		s.mu.Unlock()
		return &ValidationError{Field: "cardId", Reason: "unknown card"}
	}
	next := prev
	if patch.Title != nil {
		if err := requireField("title", *patch.Title); err != nil {
			s.mu.Unlock()
			return err
		}
		next.Title = *patch.Title
	}
	if patch.Description != nil {
		next.Description = *patch.Description
	}
	if patch.DueDate != nil {
		next.DueDate = *patch.DueDate
	}
	if patch.Tags != nil {
		next.Tags = append([]string(nil), (*patch.Tags)...)
	}
	if patch.Done != nil {
		next.Done = *patch.Done
	}
	if patch.Checklist != nil {
		next.Checklist = append([]domain.ChecklistItem(nil), (*patch.Checklist)...)
	}
	next.UpdatedAt = s.now()
	s.cards[i] = next
	s.mu.Unlock()
	s.notify()

	if err := s.persist.UpdateCard(ctx, prev, next); err != nil {
		s.logger.Errorf("board: update card %s failed, rolling back: %v", id, err)
		s.mu.Lock()
		if _, i, ok := s.findCard(id); ok {
			s.cards[i] = prev
		}
		s.mu.Unlock()
		s.notify()
		return err
	}
	return nil
}

// DeleteList removes the list locally, renormalizes its siblings and
// persists the delete. The backend cascades the list's cards.
func (s *Store) DeleteList(ctx context.Context, id string) error {
	s.mu.Lock()
	l, _, ok := s.findList(id)
	if !ok {
		s.mu.Unlock()
		return &ValidationError{Field: "listId", Reason: "unknown list"}
	}
	before := s.listSeq(l.BoardID)
	seq := domain.RemoveByID(before, id)
	s.removeListLocked(id)
	s.applyListSeq(seq)
	s.mu.Unlock()
	s.notify()

	if err := s.persist.DeleteList(ctx, l); err != nil {
		s.logger.Errorf("board: delete list %s failed, rolling back: %v", id, err)
		s.mu.Lock()
		if _, _, ok := s.findList(id); !ok {
			s.lists = append(s.lists, l)
		}
		s.applyListSeq(before)
		s.mu.Unlock()
		s.notify()
		return err
	}
	return nil
}

// DeleteCard removes the card locally, renormalizes its siblings and
// persists the delete.
func (s *Store) DeleteCard(ctx context.Context, id string) error {
	s.mu.Lock()
	c, _, ok := s.findCard(id)
	if !ok {
		s.mu.Unlock()
		return &ValidationError{Field: "cardId", Reason: "unknown card"}
	}
	before := s.cardSeq(c.ListID)
	seq := domain.RemoveByID(before, id)
	s.removeCardLocked(id)
	s.applyCardSeq(seq)
	s.mu.Unlock()
	s.notify()

	if err := s.persist.DeleteCard(ctx, c); err != nil {
		s.logger.Errorf("board: delete card %s failed, rolling back: %v", id, err)
		s.mu.Lock()
		if _, _, ok := s.findCard(id); !ok {
			s.cards = append(s.cards, c)
		}
		s.applyCardSeq(before)
		s.mu.Unlock()
		s.notify()
		return err
	}
	return nil
}

// MoveList re-inserts the list at newPosition among its board's lists,
// persists the moved row and fans out the recomputed sibling positions.
// The primary persist failing reverts the whole optimistic reorder.
func (s *Store) MoveList(ctx context.Context, listID string, newPosition int) error {
	s.mu.Lock()
	l, _, ok := s.findList(listID)
	if !ok {
		s.mu.Unlock()
		return &ValidationError{Field: "listId", Reason: "unknown list"}
	}

	pre := append([]domain.List(nil), s.lists...)
	now := s.now()
	seq := domain.RemoveByID(s.listSeq(l.BoardID), listID)
	seq = domain.InsertAt(seq, l, newPosition)
	for i := range seq {
		seq[i].UpdatedAt = now
	}
	s.applyListSeq(seq)
	moved, _, _ := s.findList(listID)
	s.mu.Unlock()
	s.notify()

	if err := s.persist.UpdateList(ctx, moved); err != nil {
		s.logger.Errorf("board: move list %s failed, reverting: %v", listID, err)
		s.mu.Lock()
		s.lists = pre
		s.mu.Unlock()
		s.notify()
		return err
	}

	batch := make([]domain.PositionUpdate, 0, len(seq)-1)
	for _, sib := range seq {
		if sib.ID == listID {
			continue
		}
		batch = append(batch, domain.PositionUpdate{
			EntityType: domain.EntityList,
			ID:         sib.ID,
			BoardID:    sib.BoardID,
			Position:   sib.Position,
			UpdatedAt:  now,
		})
	}
	s.reflow(ctx, batch)
	return nil
}

// MoveCard moves the card to newListID at newPosition. Same-list moves
// renumber the one sequence; cross-list moves renumber both the source and
// the destination. The moved row is persisted first; the recomputed sibling
// positions fan out behind it.
func (s *Store) MoveCard(ctx context.Context, cardID, newListID string, newPosition int) error {
	if err := requireField("listId", newListID); err != nil {
		return err
	}

	s.mu.Lock()
	prev, _, ok := s.findCard(cardID)
	if !ok {
		s.mu.Unlock()
		return &ValidationError{Field: "cardId", Reason: "unknown card"}
	}

	pre := append([]domain.Card(nil), s.cards...)
	now := s.now()
	sameList := prev.ListID == newListID

	next := prev
	next.ListID = newListID
	next.UpdatedAt = now

	var reflowSeq []domain.Card
	if sameList {
		seq := domain.RemoveByID(s.cardSeq(prev.ListID), cardID)
		seq = domain.InsertAt(seq, next, newPosition)
		for i := range seq {
			seq[i].UpdatedAt = now
		}
		s.applyCardSeq(seq)
		reflowSeq = seq
	} else {
		src := domain.RemoveByID(s.cardSeq(prev.ListID), cardID)
		for i := range src {
			src[i].UpdatedAt = now
		}
		dst := domain.InsertAt(s.cardSeq(newListID), next, newPosition)
		for i := range dst {
			dst[i].UpdatedAt = now
		}
		s.applyCardSeq(src)
		s.applyCardSeq(dst)
		reflowSeq = dst
	}
	moved, _, _ := s.findCard(cardID)
	s.mu.Unlock()
	s.notify()

	if err := s.persist.UpdateCard(ctx, prev, moved); err != nil {
		s.logger.Errorf("board: move card %s failed, reverting: %v", cardID, err)
		s.mu.Lock()
		s.cards = pre
		s.mu.Unlock()
		s.notify()
		return err
	}

	batch := make([]domain.PositionUpdate, 0, len(reflowSeq))
	for _, sib := range reflowSeq {
		if sib.ID == cardID {
			continue
		}
		// Cross-list moves only need to make room: siblings before the
		// insertion point kept their rank.
		if !sameList && sib.Position < moved.Position {
			continue
		}
		batch = append(batch, domain.PositionUpdate{
			EntityType: domain.EntityCard,
			ID:         sib.ID,
			ListID:     sib.ListID,
			Position:   sib.Position,
			UpdatedAt:  now,
		})
	}
	s.reflow(ctx, batch)
	return nil
}

// reflow hands the sibling renumbering batch to the persister. Failures are
// logged, never rolled back; a later remote event or refetch corrects the
// drift.
func (s *Store) reflow(ctx context.Context, batch []domain.PositionUpdate) {
	if len(batch) == 0 {
		return
	}
	if err := s.persist.ReflowPositions(ctx, batch); err != nil {
		s.logger.Errorf("board: position reflow handoff failed (%d writes): %v", len(batch), err)
	}
}

func (s *Store) removeListLocked(id string) {
	for i := range s.lists {
		if s.lists[i].ID == id {
			s.lists = append(s.lists[:i], s.lists[i+1:]...)
			return
		}
	}
}

func (s *Store) removeCardLocked(id string) {
	for i := range s.cards {
		if s.cards[i].ID == id {
			s.cards = append(s.cards[:i], s.cards[i+1:]...)
			return
		}
	}
}
