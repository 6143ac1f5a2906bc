package storage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	log "github.com/sirupsen/logrus"

	"taskly/domain"
	"taskly/realtime"
)

const (
	reflowMaxAttempts = 3
	reflowRetryDelay  = 500 * time.Millisecond
	reflowIdleDelay   = time.Second
)

// ReflowPositions enqueues a sibling renumbering batch for asynchronous
// application. One move can touch every sibling after the insertion point, so
// these writes are taken off the request path. With a running sender the
// handoff is asynchronous; otherwise, or when the sender is saturated, the
// queue write happens inline.
func (s *Storage) ReflowPositions(ctx context.Context, batch []domain.PositionUpdate) error {
	if len(batch) == 0 {
		return nil
	}
	if s.sender != nil && s.sender.trySend(batch) {
		return nil
	}
	return s.enqueueReflowBatch(ctx, batch)
}

func (s *Storage) enqueueReflowBatch(ctx context.Context, batch []domain.PositionUpdate) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return err
	}
	_, err = s.reflowQueue.EnqueueMessage(ctx, string(data), nil)
	return err
}

// StartReflowSender spawns the asynchronous reflow worker pool.
func (s *Storage) StartReflowSender() {
	if s.sender == nil {
		s.sender = newReflowSender(s.enqueueReflowBatch, s.logger)
	}
}

// StopReflowSender drains and stops the pool.
func (s *Storage) StopReflowSender() {
	if s.sender != nil {
		s.sender.shutdown()
		s.sender = nil
	}
}

type reflowApplier interface {
	ApplyPositionUpdate(ctx context.Context, u domain.PositionUpdate) error
}

// ApplyPositionUpdate rewrites the position of one row. The full row is read
// back and republished so subscribers merging replace-whole-row semantics
// never see a partial entity. A row deleted since the move counts as applied.
func (s *Storage) ApplyPositionUpdate(ctx context.Context, u domain.PositionUpdate) error {
	switch u.EntityType {
	case domain.EntityList:
		resp, err := s.listTable.GetEntity(ctx, u.BoardID, u.ID, nil)
		if err != nil {
			if isNotFound(err) {
				return nil
			}
			return err
		}
		var ent listEntity
		if err := json.Unmarshal(resp.Value, &ent); err != nil {
			return err
		}
		l := ent.decode()
		l.Position = u.Position
		l.UpdatedAt = u.UpdatedAt
		if err := s.upsert(ctx, s.listTable, encodeList(l)); err != nil {
			return err
		}
		s.announce(ctx, realtime.ChannelLists, domain.EntityList, domain.EventUpdate, l, nil)
		return nil
	case domain.EntityCard:
		resp, err := s.cardTable.GetEntity(ctx, u.ListID, u.ID, nil)
		if err != nil {
			if isNotFound(err) {
				return nil
			}
			return err
		}
		var ent cardEntity
		if err := json.Unmarshal(resp.Value, &ent); err != nil {
			return err
		}
		c, err := ent.decode()
		if err != nil {
			return err
		}
		c.Position = u.Position
		c.UpdatedAt = u.UpdatedAt
		next, err := encodeCard(c)
		if err != nil {
			return err
		}
		if err := s.upsert(ctx, s.cardTable, next); err != nil {
			return err
		}
		s.announce(ctx, realtime.ChannelCards, domain.EntityCard, domain.EventUpdate, c, nil)
		return nil
	default:
		return errors.New("unknown entity type in position update: " + u.EntityType)
	}
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

// applyReflowBatch applies each update with bounded retries. Position writes
// are repairable by any later move, so after the last attempt an update is
// logged and dropped rather than poisoning the queue.
func applyReflowBatch(ctx context.Context, applier reflowApplier, logger *log.Logger, batch []domain.PositionUpdate) {
	for _, u := range batch {
		var err error
		for attempt := 1; attempt <= reflowMaxAttempts; attempt++ {
			if err = applier.ApplyPositionUpdate(ctx, u); err == nil {
				break
			}
			if attempt < reflowMaxAttempts {
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Duration(attempt) * reflowRetryDelay):
				}
			}
		}
		if err != nil {
			logger.WithError(err).WithFields(log.Fields{
				"entityType": u.EntityType,
				"id":         u.ID,
			}).Error("Dropping position update after retries")
		}
	}
}

// RunReflowWorker consumes reflow batches from the queue until ctx is done.
func (s *Storage) RunReflowWorker(ctx context.Context) {
	s.logger.Info("Reflow worker starting")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Reflow worker stopping")
			return
		default:
		}
		resp, err := s.reflowQueue.DequeueMessage(ctx, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.WithError(err).Warn("Unable to dequeue reflow batch")
			sleep(ctx, reflowIdleDelay)
			continue
		}
		if len(resp.Messages) == 0 {
			sleep(ctx, reflowIdleDelay)
			continue
		}
		msg := resp.Messages[0]
		var batch []domain.PositionUpdate
		if err := json.Unmarshal([]byte(*msg.MessageText), &batch); err != nil {
			s.logger.WithError(err).Warn("Discarding malformed reflow batch")
		} else {
			applyReflowBatch(ctx, s, s.logger, batch)
		}
		if _, err := s.reflowQueue.DeleteMessage(ctx, *msg.MessageID, *msg.PopReceipt, nil); err != nil {
			s.logger.WithError(err).Warn("Unable to delete reflow message")
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
