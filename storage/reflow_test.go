package storage

import (
	"context"
	"errors"
	"testing"

	log "github.com/sirupsen/logrus"

	"taskly/domain"
)

type fakeApplier struct {
	applied []domain.PositionUpdate
	fail    map[string]int
}

func (f *fakeApplier) ApplyPositionUpdate(ctx context.Context, u domain.PositionUpdate) error {
	if n := f.fail[u.ID]; n > 0 {
		f.fail[u.ID] = n - 1
		return errors.New("transient")
	}
	f.applied = append(f.applied, u)
	return nil
}

func TestApplyReflowBatchAppliesAllUpdates(t *testing.T) {
	applier := &fakeApplier{}
	batch := []domain.PositionUpdate{
		{EntityType: domain.EntityCard, ID: "c1", ListID: "l1", Position: 0},
		{EntityType: domain.EntityCard, ID: "c2", ListID: "l1", Position: 1},
		{EntityType: domain.EntityList, ID: "l2", BoardID: "b1", Position: 2},
	}

	applyReflowBatch(context.Background(), applier, log.New(), batch)

	if len(applier.applied) != 3 {
		t.Fatalf("expected 3 applied updates, got %d", len(applier.applied))
	}
	for i, u := range applier.applied {
		if u.ID != batch[i].ID {
			t.Fatalf("updates applied out of order: %v", applier.applied)
		}
	}
}

func TestApplyReflowBatchRetriesTransientFailures(t *testing.T) {
	applier := &fakeApplier{fail: map[string]int{"c1": reflowMaxAttempts - 1}}
	batch := []domain.PositionUpdate{
		{EntityType: domain.EntityCard, ID: "c1", ListID: "l1", Position: 0},
	}

	applyReflowBatch(context.Background(), applier, log.New(), batch)

	if len(applier.applied) != 1 {
		t.Fatalf("expected update applied after retries, got %d", len(applier.applied))
	}
}

func TestApplyReflowBatchDropsAfterMaxAttempts(t *testing.T) {
	applier := &fakeApplier{fail: map[string]int{"c1": reflowMaxAttempts}}
	batch := []domain.PositionUpdate{
		{EntityType: domain.EntityCard, ID: "c1", ListID: "l1", Position: 0},
		{EntityType: domain.EntityCard, ID: "c2", ListID: "l1", Position: 1},
	}

	applyReflowBatch(context.Background(), applier, log.New(), batch)

	if len(applier.applied) != 1 || applier.applied[0].ID != "c2" {
		t.Fatalf("expected c1 dropped and c2 applied, got %v", applier.applied)
	}
}

func TestApplyReflowBatchStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	applier := &fakeApplier{fail: map[string]int{"c1": 1}}
	batch := []domain.PositionUpdate{
		{EntityType: domain.EntityCard, ID: "c1", ListID: "l1", Position: 0},
		{EntityType: domain.EntityCard, ID: "c2", ListID: "l1", Position: 1},
	}

	applyReflowBatch(ctx, applier, log.New(), batch)

	if len(applier.applied) != 0 {
		t.Fatalf("expected no updates after cancellation, got %v", applier.applied)
	}
}
