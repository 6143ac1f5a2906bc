package board

import (
	"fmt"

	"taskly/domain"
)

// ApplyEvent folds one remote change event into the local snapshot. The
// transport may replay, reorder or echo our own writes; applying the same
// event twice leaves the snapshot unchanged.
//
// Merge policy per event type:
//   - insert: ignored when the id already exists locally (the echo of our
//     own optimistic create), otherwise appended and renormalized.
//   - update: unknown rows are inserted as if new. Known rows take the
//     incoming version when the remote commit is newer than the local
//     update, or when a structural field (position, list/board membership)
//     differs. Structural fields win even against an older-looking
//     timestamp so a reordering correction can never be starved out.
//   - delete: removed wherever it currently lives; already-gone rows are
//     a no-op.
func (s *Store) ApplyEvent(ev domain.ChangeEvent) error {
	var err error
	switch ev.EntityType {
	case domain.EntityBoard:
		err = s.applyBoardEvent(ev)
	case domain.EntityList:
		err = s.applyListEvent(ev)
	case domain.EntityCard:
		err = s.applyCardEvent(ev)
	default:
		return fmt.Errorf("reconcile: unknown entity type %q", ev.EntityType)
	}
	if err != nil {
		return err
	}
	s.notify()
	return nil
}

func (s *Store) applyBoardEvent(ev domain.ChangeEvent) error {
	b, err := ev.DecodeBoard()
	if err != nil {
		return fmt.Errorf("reconcile: decode board row: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.EventType {
	case domain.EventInsert:
		if _, _, ok := s.findBoard(b.ID); ok {
			return nil
		}
		s.boards = append(s.boards, b)
	case domain.EventUpdate:
		local, i, ok := s.findBoard(b.ID)
		if !ok {
			s.boards = append(s.boards, b)
			return nil
		}
		if ev.CommitTime > local.UpdatedAt {
			s.boards[i] = b
		}
	case domain.EventDelete:
		if _, i, ok := s.findBoard(b.ID); ok {
			s.boards = append(s.boards[:i], s.boards[i+1:]...)
		}
	default:
		return fmt.Errorf("reconcile: unknown event type %q", ev.EventType)
	}
	return nil
}

func (s *Store) applyListEvent(ev domain.ChangeEvent) error {
	l, err := ev.DecodeList()
	if err != nil {
		return fmt.Errorf("reconcile: decode list row: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.EventType {
	case domain.EventInsert:
		if _, _, ok := s.findList(l.ID); ok {
			return nil
		}
		s.insertListLocked(l)
	case domain.EventUpdate:
		local, i, ok := s.findList(l.ID)
		if !ok {
			s.insertListLocked(l)
			return nil
		}
		structural := local.Position != l.Position || local.BoardID != l.BoardID
		if ev.CommitTime > local.UpdatedAt || structural {
			s.lists[i] = l
		}
	case domain.EventDelete:
		if _, _, ok := s.findList(l.ID); ok {
			seq := domain.RemoveByID(s.listSeq(l.BoardID), l.ID)
			s.removeListLocked(l.ID)
			s.applyListSeq(seq)
		}
	default:
		return fmt.Errorf("reconcile: unknown event type %q", ev.EventType)
	}
	return nil
}

func (s *Store) applyCardEvent(ev domain.ChangeEvent) error {
	c, err := ev.DecodeCard()
	if err != nil {
		return fmt.Errorf("reconcile: decode card row: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.EventType {
	case domain.EventInsert:
		if _, _, ok := s.findCard(c.ID); ok {
			return nil
		}
		s.insertCardLocked(c)
	case domain.EventUpdate:
		local, i, ok := s.findCard(c.ID)
		if !ok {
			s.insertCardLocked(c)
			return nil
		}
		structural := local.Position != c.Position || local.ListID != c.ListID
		if ev.CommitTime > local.UpdatedAt || structural {
			s.cards[i] = c
		}
	case domain.EventDelete:
		if local, _, ok := s.findCard(c.ID); ok {
			seq := domain.RemoveByID(s.cardSeq(local.ListID), c.ID)
			s.removeCardLocked(c.ID)
			s.applyCardSeq(seq)
		}
	default:
		return fmt.Errorf("reconcile: unknown event type %q", ev.EventType)
	}
	return nil
}

// insertListLocked appends the list and renormalizes its board's sequence.
// Callers hold s.mu.
func (s *Store) insertListLocked(l domain.List) {
	s.lists = append(s.lists, l)
	s.applyListSeq(domain.Normalize(s.listSeq(l.BoardID)))
}

// insertCardLocked appends the card and renormalizes its list's sequence.
// Callers hold s.mu.
func (s *Store) insertCardLocked(c domain.Card) {
	s.cards = append(s.cards, c)
	s.applyCardSeq(domain.Normalize(s.cardSeq(c.ListID)))
}
