package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"

	"taskly/domain"
	"taskly/realtime"
)

// Storage persists boards, lists and cards in Azure Table Storage and hands
// position reflow batches off to an Azure Queue. After every successful write
// it publishes the matching change event on the shared feed.
type Storage struct {
	boardTable  *aztables.Client
	listTable   *aztables.Client
	cardTable   *aztables.Client
	reflowQueue *azqueue.QueueClient

	publisher *realtime.Publisher
	logger    *log.Logger
	sender    *reflowSender

	now func() int64
}

// New creates a Storage instance from the given connection string. publisher
// may be nil when no change feed is configured.
func New(connStr, boardsTable, listsTable, cardsTable, reflowQueue string, publisher *realtime.Publisher, logger *log.Logger) (*Storage, error) {
	if logger == nil {
		panic("storage.New: logger is nil")
	}
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	rq, err := azqueue.NewQueueClientFromConnectionString(connStr, reflowQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{
		boardTable:  svc.NewClient(boardsTable),
		listTable:   svc.NewClient(listsTable),
		cardTable:   svc.NewClient(cardsTable),
		reflowQueue: rq,
		publisher:   publisher,
		logger:      logger,
		now:         func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// Boards are partitioned by their creator, lists by their board and cards by
// their list, so every snapshot fetch is a single-partition scan.
type boardEntity struct {
	aztables.Entity
	Title        string            `json:"Title"`
	Description  string            `json:"Description"`
	Starred      bool              `json:"Starred"`
	LastOpenedAt aztables.EDMInt64 `json:"LastOpenedAt"`
	CreatedAt    aztables.EDMInt64 `json:"CreatedAt"`
	UpdatedAt    aztables.EDMInt64 `json:"UpdatedAt"`
}

type listEntity struct {
	aztables.Entity
	Title     string            `json:"Title"`
	Position  int               `json:"Position"`
	CreatedAt aztables.EDMInt64 `json:"CreatedAt"`
	UpdatedAt aztables.EDMInt64 `json:"UpdatedAt"`
}

type cardEntity struct {
	aztables.Entity
	Title       string            `json:"Title"`
	Description string            `json:"Description"`
	Position    int               `json:"Position"`
	DueDate     aztables.EDMInt64 `json:"DueDate"`
	Tags        string            `json:"Tags"`
	Done        bool              `json:"Done"`
	Checklist   string            `json:"Checklist"`
	CreatedBy   string            `json:"CreatedBy"`
	CreatedAt   aztables.EDMInt64 `json:"CreatedAt"`
	UpdatedAt   aztables.EDMInt64 `json:"UpdatedAt"`
}

func encodeBoard(b domain.Board) boardEntity {
	return boardEntity{
		Entity:       aztables.Entity{PartitionKey: b.CreatedBy, RowKey: b.ID},
		Title:        b.Title,
		Description:  b.Description,
		Starred:      b.Starred,
		LastOpenedAt: aztables.EDMInt64(b.LastOpenedAt),
		CreatedAt:    aztables.EDMInt64(b.CreatedAt),
		UpdatedAt:    aztables.EDMInt64(b.UpdatedAt),
	}
}

func (e boardEntity) decode() domain.Board {
	return domain.Board{
		ID:           e.RowKey,
		Title:        e.Title,
		Description:  e.Description,
		CreatedBy:    e.PartitionKey,
		Starred:      e.Starred,
		LastOpenedAt: int64(e.LastOpenedAt),
		CreatedAt:    int64(e.CreatedAt),
		UpdatedAt:    int64(e.UpdatedAt),
	}
}

func encodeList(l domain.List) listEntity {
	return listEntity{
		Entity:    aztables.Entity{PartitionKey: l.BoardID, RowKey: l.ID},
		Title:     l.Title,
		Position:  l.Position,
		CreatedAt: aztables.EDMInt64(l.CreatedAt),
		UpdatedAt: aztables.EDMInt64(l.UpdatedAt),
	}
}

func (e listEntity) decode() domain.List {
	return domain.List{
		ID:        e.RowKey,
		Title:     e.Title,
		BoardID:   e.PartitionKey,
		Position:  e.Position,
		CreatedAt: int64(e.CreatedAt),
		UpdatedAt: int64(e.UpdatedAt),
	}
}

func encodeCard(c domain.Card) (cardEntity, error) {
	tags, err := json.Marshal(c.Tags)
	if err != nil {
		return cardEntity{}, err
	}
	checklist, err := json.Marshal(c.Checklist)
	if err != nil {
		return cardEntity{}, err
	}
	return cardEntity{
		Entity:      aztables.Entity{PartitionKey: c.ListID, RowKey: c.ID},
		Title:       c.Title,
		Description: c.Description,
		Position:    c.Position,
		DueDate:     aztables.EDMInt64(c.DueDate),
		Tags:        string(tags),
		Done:        c.Done,
		Checklist:   string(checklist),
		CreatedBy:   c.CreatedBy,
		CreatedAt:   aztables.EDMInt64(c.CreatedAt),
		UpdatedAt:   aztables.EDMInt64(c.UpdatedAt),
	}, nil
}

func (e cardEntity) decode() (domain.Card, error) {
	c := domain.Card{
		ID:          e.RowKey,
		Title:       e.Title,
		Description: e.Description,
		ListID:      e.PartitionKey,
		Position:    e.Position,
		DueDate:     int64(e.DueDate),
		Tags:        []string{},
		Done:        e.Done,
		CreatedBy:   e.CreatedBy,
		CreatedAt:   int64(e.CreatedAt),
		UpdatedAt:   int64(e.UpdatedAt),
	}
	if e.Tags != "" {
		if err := json.Unmarshal([]byte(e.Tags), &c.Tags); err != nil {
			return domain.Card{}, err
		}
		if c.Tags == nil {
			c.Tags = []string{}
		}
	}
	if e.Checklist != "" && e.Checklist != "null" {
		if err := json.Unmarshal([]byte(e.Checklist), &c.Checklist); err != nil {
			return domain.Card{}, err
		}
	}
	return c, nil
}

// FetchBoards retrieves all boards created by the provided user.
func (s *Storage) FetchBoards(ctx context.Context, userID string) ([]domain.Board, error) {
	filter := "PartitionKey eq '" + userID + "'"
	pager := s.boardTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	boards := []domain.Board{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			var ent boardEntity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			boards = append(boards, ent.decode())
		}
	}
	return boards, nil
}

// FetchLists retrieves all lists of the provided board.
func (s *Storage) FetchLists(ctx context.Context, boardID string) ([]domain.List, error) {
	filter := "PartitionKey eq '" + boardID + "'"
	pager := s.listTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	lists := []domain.List{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			var ent listEntity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			lists = append(lists, ent.decode())
		}
	}
	return lists, nil
}

// FetchCards retrieves all cards of the provided board. Cards are partitioned
// by list, so this fans out over the board's lists.
func (s *Storage) FetchCards(ctx context.Context, boardID string) ([]domain.Card, error) {
	lists, err := s.FetchLists(ctx, boardID)
	if err != nil {
		return nil, err
	}
	cards := []domain.Card{}
	for _, l := range lists {
		filter := "PartitionKey eq '" + l.ID + "'"
		pager := s.cardTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
		for pager.More() {
			resp, err := pager.NextPage(ctx)
			if err != nil {
				return nil, err
			}
			for _, raw := range resp.Entities {
				var ent cardEntity
				if err := json.Unmarshal(raw, &ent); err != nil {
					return nil, err
				}
				c, err := ent.decode()
				if err != nil {
					return nil, err
				}
				cards = append(cards, c)
			}
		}
	}
	return cards, nil
}

func (s *Storage) upsert(ctx context.Context, table *aztables.Client, ent any) error {
	payload, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	_, err = table.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	return err
}

// announce publishes the change event that mirrors a completed write. The
// write already succeeded, so feed errors are logged and swallowed; peers
// converge on their next snapshot fetch.
func (s *Storage) announce(ctx context.Context, channel, entityType, eventType string, newRow, oldRow any) {
	if s.publisher == nil {
		return
	}
	ev, err := domain.NewChangeEvent(entityType, eventType, newRow, oldRow, s.now())
	if err != nil {
		s.logger.WithError(err).Warn("Unable to encode change event")
		return
	}
	if err := s.publisher.Publish(ctx, channel, ev); err != nil {
		s.logger.WithError(err).WithField("channel", channel).Warn("Unable to publish change event")
	}
}

func (s *Storage) InsertBoard(ctx context.Context, b domain.Board) error {
	if err := s.upsert(ctx, s.boardTable, encodeBoard(b)); err != nil {
		return err
	}
	s.announce(ctx, realtime.ChannelBoards, domain.EntityBoard, domain.EventInsert, b, nil)
	return nil
}

func (s *Storage) UpdateBoard(ctx context.Context, b domain.Board) error {
	if err := s.upsert(ctx, s.boardTable, encodeBoard(b)); err != nil {
		return err
	}
	s.announce(ctx, realtime.ChannelBoards, domain.EntityBoard, domain.EventUpdate, b, nil)
	return nil
}

func (s *Storage) DeleteBoard(ctx context.Context, b domain.Board) error {
	if _, err := s.boardTable.DeleteEntity(ctx, b.CreatedBy, b.ID, nil); err != nil {
		return err
	}
	s.announce(ctx, realtime.ChannelBoards, domain.EntityBoard, domain.EventDelete, nil, b)
	return nil
}

func (s *Storage) InsertList(ctx context.Context, l domain.List) error {
	if err := s.upsert(ctx, s.listTable, encodeList(l)); err != nil {
		return err
	}
	s.announce(ctx, realtime.ChannelLists, domain.EntityList, domain.EventInsert, l, nil)
	return nil
}

func (s *Storage) UpdateList(ctx context.Context, l domain.List) error {
	if err := s.upsert(ctx, s.listTable, encodeList(l)); err != nil {
		return err
	}
	s.announce(ctx, realtime.ChannelLists, domain.EntityList, domain.EventUpdate, l, nil)
	return nil
}

func (s *Storage) DeleteList(ctx context.Context, l domain.List) error {
	if _, err := s.listTable.DeleteEntity(ctx, l.BoardID, l.ID, nil); err != nil {
		return err
	}
	s.announce(ctx, realtime.ChannelLists, domain.EntityList, domain.EventDelete, nil, l)
	return nil
}

func (s *Storage) InsertCard(ctx context.Context, c domain.Card) error {
	ent, err := encodeCard(c)
	if err != nil {
		return err
	}
	if err := s.upsert(ctx, s.cardTable, ent); err != nil {
		return err
	}
	s.announce(ctx, realtime.ChannelCards, domain.EntityCard, domain.EventInsert, c, nil)
	return nil
}

// UpdateCard replaces a card row. Moving a card across lists moves it across
// partitions, which table storage cannot do in place: the new row is written
// first, then the old one removed.
func (s *Storage) UpdateCard(ctx context.Context, prev, next domain.Card) error {
	ent, err := encodeCard(next)
	if err != nil {
		return err
	}
	if err := s.upsert(ctx, s.cardTable, ent); err != nil {
		return err
	}
	if prev.ListID != next.ListID && prev.ListID != "" {
		if _, err := s.cardTable.DeleteEntity(ctx, prev.ListID, prev.ID, nil); err != nil {
			s.logger.WithError(err).WithField("cardId", prev.ID).Warn("Unable to remove moved card from its old list partition")
		}
	}
	s.announce(ctx, realtime.ChannelCards, domain.EntityCard, domain.EventUpdate, next, prev)
	return nil
}

func (s *Storage) DeleteCard(ctx context.Context, c domain.Card) error {
	if _, err := s.cardTable.DeleteEntity(ctx, c.ListID, c.ID, nil); err != nil {
		return err
	}
	s.announce(ctx, realtime.ChannelCards, domain.EntityCard, domain.EventDelete, nil, c)
	return nil
}
