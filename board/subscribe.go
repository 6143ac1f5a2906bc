package board

import (
	"context"

	"taskly/domain"
	"taskly/realtime"
)

// Stream keys. Re-subscribing under the same key replaces the previous
// subscription, so navigating to a board twice never doubles delivery.
const (
	streamBoards = "boards"
	streamLists  = "lists-"
	streamCards  = "cards-"
)

// SubscribeToBoards follows the global board feed.
func (s *Store) SubscribeToBoards(ctx context.Context) {
	if s.channels == nil {
		return
	}
	s.channels.Subscribe(ctx, streamBoards, realtime.ChannelBoards, nil, s.onEvent)
}

// SubscribeToLists follows list changes for one board.
func (s *Store) SubscribeToLists(ctx context.Context, boardID string) {
	if s.channels == nil {
		return
	}
	filter := func(ev domain.ChangeEvent) bool {
		l, err := ev.DecodeList()
		return err == nil && l.BoardID == boardID
	}
	s.channels.Subscribe(ctx, streamLists+boardID, realtime.ChannelLists, filter, s.onEvent)
}

// SubscribeToCards follows card changes for one board. The card feed is
// global; whether a card belongs to the board is decided here, by looking
// its list up in the local snapshot.
func (s *Store) SubscribeToCards(ctx context.Context, boardID string) {
	if s.channels == nil {
		return
	}
	filter := func(ev domain.ChangeEvent) bool {
		c, err := ev.DecodeCard()
		if err != nil {
			return false
		}
		l, ok := s.FindList(c.ListID)
		return ok && l.BoardID == boardID
	}
	s.channels.Subscribe(ctx, streamCards+boardID, realtime.ChannelCards, filter, s.onEvent)
}

// Open loads a board's lists and cards and subscribes to its change feeds.
func (s *Store) Open(ctx context.Context, boardID string) error {
	if err := s.Load(ctx, boardID); err != nil {
		return err
	}
	s.SubscribeToBoards(ctx)
	s.SubscribeToLists(ctx, boardID)
	s.SubscribeToCards(ctx, boardID)
	return nil
}

// UnsubscribeAll releases every change feed subscription.
func (s *Store) UnsubscribeAll() {
	if s.channels == nil {
		return
	}
	s.channels.UnsubscribeAll()
}

func (s *Store) onEvent(ev domain.ChangeEvent) {
	if err := s.ApplyEvent(ev); err != nil {
		s.logger.Errorf("board: dropping change event: %v", err)
	}
}
