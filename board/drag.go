package board

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"taskly/domain"
)

// DragController translates a pointer-drag gesture into a single move
// against the store. A drag is Idle until OnDragStart and returns to Idle on
// every OnDragEnd, dropped or cancelled; there is no timeout path.
type DragController struct {
	store  *Store
	logger *log.Logger

	mu       sync.Mutex
	activeID string
}

// NewDragController creates a controller over the given store.
func NewDragController(store *Store, logger *log.Logger) *DragController {
	if store == nil {
		panic("board.NewDragController: store is nil")
	}
	if logger == nil {
		panic("board.NewDragController: logger is nil")
	}
	return &DragController{store: store, logger: logger}
}

// Active returns the id being dragged, or "" when idle.
func (d *DragController) Active() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.activeID
}

// OnDragStart records the dragged entity.
func (d *DragController) OnDragStart(id string) {
	d.mu.Lock()
	d.activeID = id
	d.mu.Unlock()
	d.logger.Debugf("drag: start %s", id)
}

// OnDragOver is purely informational; hover feedback is the caller's
// concern.
func (d *DragController) OnDragOver(overID string) {
	d.mu.Lock()
	active := d.activeID
	d.mu.Unlock()
	if active == "" || overID == "" || active == overID {
		return
	}
	d.logger.Debugf("drag: %s over %s", active, overID)
}

// OnDragEnd resolves the drop target and issues at most one move. An empty
// overID cancels the drag. The drag always ends, whatever the outcome.
func (d *DragController) OnDragEnd(ctx context.Context, overID string) error {
	d.mu.Lock()
	active := d.activeID
	d.activeID = ""
	d.mu.Unlock()

	if active == "" || overID == "" || active == overID {
		return nil
	}

	if _, ok := d.store.FindList(active); ok {
		return d.dropList(ctx, active, overID)
	}
	if card, ok := d.store.FindCard(active); ok {
		return d.dropCard(ctx, card, overID)
	}
	d.logger.Debugf("drag: %s is neither list nor card, ignoring", active)
	return nil
}

// dropList moves the dragged list to the position of the list it landed on.
func (d *DragController) dropList(ctx context.Context, activeID, overID string) error {
	over, ok := d.store.FindList(overID)
	if !ok {
		d.logger.Debugf("drag: list %s dropped on unknown target %s", activeID, overID)
		return nil
	}
	index := domain.IndexOf(d.store.Lists(over.BoardID), overID)
	if index < 0 {
		return nil
	}
	return d.store.MoveList(ctx, activeID, index)
}

// dropCard moves the dragged card: onto a list appends to the end of that
// list, onto another card inserts at that card's current index.
func (d *DragController) dropCard(ctx context.Context, active domain.Card, overID string) error {
	if _, ok := d.store.FindList(overID); ok {
		position := len(d.store.Cards(overID))
		return d.store.MoveCard(ctx, active.ID, overID, position)
	}
	over, ok := d.store.FindCard(overID)
	if !ok {
		d.logger.Debugf("drag: card %s dropped on unknown target %s", active.ID, overID)
		return nil
	}
	index := domain.IndexOf(d.store.Cards(over.ListID), overID)
	if index < 0 {
		return nil
	}
	return d.store.MoveCard(ctx, active.ID, over.ListID, index)
}
