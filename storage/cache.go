package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"taskly/domain"
)

type backend interface {
	FetchBoards(ctx context.Context, userID string) ([]domain.Board, error)
	FetchLists(ctx context.Context, boardID string) ([]domain.List, error)
	FetchCards(ctx context.Context, boardID string) ([]domain.Card, error)
	InsertBoard(ctx context.Context, b domain.Board) error
	UpdateBoard(ctx context.Context, b domain.Board) error
	DeleteBoard(ctx context.Context, b domain.Board) error
	InsertList(ctx context.Context, l domain.List) error
	UpdateList(ctx context.Context, l domain.List) error
	DeleteList(ctx context.Context, l domain.List) error
	InsertCard(ctx context.Context, c domain.Card) error
	UpdateCard(ctx context.Context, prev, next domain.Card) error
	DeleteCard(ctx context.Context, c domain.Card) error
	ReflowPositions(ctx context.Context, batch []domain.PositionUpdate) error
}

// Cache wraps a Storage instance with Redis-backed caching for the snapshot
// reads. Board and list fetches are cached; card fetches always hit the
// backing storage because cards churn with every drag.
type Cache struct {
	*Storage
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Storage wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}

	c := &Cache{
		base:  base,
		redis: client,
		ttl:   ttl,
	}
	if s, ok := base.(*Storage); ok {
		c.Storage = s
	}
	return c
}

func (c *Cache) FetchBoards(ctx context.Context, userID string) ([]domain.Board, error) {
	if boards, ok := loadCached[[]domain.Board](ctx, c.redis, boardsCacheKey(userID)); ok {
		return boards, nil
	}

	boards, err := c.base.FetchBoards(ctx, userID)
	if err != nil {
		return nil, err
	}

	c.store(ctx, boardsCacheKey(userID), boards)
	return boards, nil
}

func (c *Cache) FetchLists(ctx context.Context, boardID string) ([]domain.List, error) {
	if lists, ok := loadCached[[]domain.List](ctx, c.redis, listsCacheKey(boardID)); ok {
		return lists, nil
	}

	lists, err := c.base.FetchLists(ctx, boardID)
	if err != nil {
		return nil, err
	}

	c.store(ctx, listsCacheKey(boardID), lists)
	return lists, nil
}

func (c *Cache) FetchCards(ctx context.Context, boardID string) ([]domain.Card, error) {
	return c.base.FetchCards(ctx, boardID)
}

func (c *Cache) InsertBoard(ctx context.Context, b domain.Board) error {
	if err := c.base.InsertBoard(ctx, b); err != nil {
		return err
	}
	c.evict(ctx, boardsCacheKey(b.CreatedBy))
	return nil
}

func (c *Cache) UpdateBoard(ctx context.Context, b domain.Board) error {
	if err := c.base.UpdateBoard(ctx, b); err != nil {
		return err
	}
	c.evict(ctx, boardsCacheKey(b.CreatedBy))
	return nil
}

func (c *Cache) DeleteBoard(ctx context.Context, b domain.Board) error {
	if err := c.base.DeleteBoard(ctx, b); err != nil {
		return err
	}
	c.evict(ctx, boardsCacheKey(b.CreatedBy), listsCacheKey(b.ID))
	return nil
}

func (c *Cache) InsertList(ctx context.Context, l domain.List) error {
	if err := c.base.InsertList(ctx, l); err != nil {
		return err
	}
	c.evict(ctx, listsCacheKey(l.BoardID))
	return nil
}

func (c *Cache) UpdateList(ctx context.Context, l domain.List) error {
	if err := c.base.UpdateList(ctx, l); err != nil {
		return err
	}
	c.evict(ctx, listsCacheKey(l.BoardID))
	return nil
}

func (c *Cache) DeleteList(ctx context.Context, l domain.List) error {
	if err := c.base.DeleteList(ctx, l); err != nil {
		return err
	}
	c.evict(ctx, listsCacheKey(l.BoardID))
	return nil
}

func (c *Cache) InsertCard(ctx context.Context, card domain.Card) error {
	return c.base.InsertCard(ctx, card)
}

func (c *Cache) UpdateCard(ctx context.Context, prev, next domain.Card) error {
	return c.base.UpdateCard(ctx, prev, next)
}

func (c *Cache) DeleteCard(ctx context.Context, card domain.Card) error {
	return c.base.DeleteCard(ctx, card)
}

func (c *Cache) ReflowPositions(ctx context.Context, batch []domain.PositionUpdate) error {
	if err := c.base.ReflowPositions(ctx, batch); err != nil {
		return err
	}
	for _, u := range batch {
		if u.EntityType == domain.EntityList && u.BoardID != "" {
			c.evict(ctx, listsCacheKey(u.BoardID))
			break
		}
	}
	return nil
}

func loadCached[T any](ctx context.Context, client *redis.Client, key string) (T, bool) {
	var zero T
	if client == nil {
		return zero, false
	}
	data, err := client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = client.Del(ctx, key).Err()
		}
		return zero, false
	}
	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		_ = client.Del(ctx, key).Err()
		return zero, false
	}
	return value, true
}

func (c *Cache) store(ctx context.Context, key string, value any) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, keys ...string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, keys...).Result()
}

func boardsCacheKey(userID string) string {
	return "boards:" + userID
}

func listsCacheKey(boardID string) string {
	return "lists:" + boardID
}
