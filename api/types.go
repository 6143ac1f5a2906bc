package api

import (
	"context"

	"taskly/board"
	"taskly/domain"
)

// BoardService abstracts the synchronized board state for handlers. It is
// implemented by *board.Store.
type BoardService interface {
	LoadBoards(ctx context.Context, userID string) ([]domain.Board, error)
	Open(ctx context.Context, boardID string) error
	Snapshot() board.Snapshot
	BoardSnapshot(boardID string) (board.Snapshot, bool)
	Watch() (<-chan struct{}, func())

	CreateBoard(ctx context.Context, userID, title, description string) (domain.Board, error)
	UpdateBoard(ctx context.Context, id string, patch board.BoardPatch) error
	ToggleStar(ctx context.Context, id string) error
	DeleteBoard(ctx context.Context, id string) error

	CreateList(ctx context.Context, boardID, title string) (domain.List, error)
	UpdateList(ctx context.Context, id string, patch board.ListPatch) error
	DeleteList(ctx context.Context, id string) error
	MoveList(ctx context.Context, listID string, newPosition int) error

	CreateCard(ctx context.Context, userID, listID, title, description string) (domain.Card, error)
	UpdateCard(ctx context.Context, id string, patch board.CardPatch) error
	DeleteCard(ctx context.Context, id string) error
	MoveCard(ctx context.Context, cardID, newListID string, newPosition int) error
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}
