package domain

// ChecklistItem is a single entry in a card checklist.
type ChecklistItem struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
}

// Board is the root of a collaboration scope. Lists and cards hang off it,
// but its lifecycle is independent of theirs.
type Board struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	CreatedBy    string `json:"createdBy"`
	Starred      bool   `json:"starred,omitempty"`
	LastOpenedAt int64  `json:"lastOpenedAt,omitempty"`
	CreatedAt    int64  `json:"createdAt"`
	UpdatedAt    int64  `json:"updatedAt"`
}

// List is an ordered column of cards on a board. Position is a dense
// zero-based rank among the lists of the same board.
type List struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	BoardID   string `json:"boardId"`
	Position  int    `json:"position"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

// Card belongs to exactly one list at a time. Position is a dense zero-based
// rank among the cards of the same list.
type Card struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	ListID      string          `json:"listId"`
	Position    int             `json:"position"`
	DueDate     int64           `json:"dueDate,omitempty"`
	Tags        []string        `json:"tags"`
	Done        bool            `json:"done,omitempty"`
	Checklist   []ChecklistItem `json:"checklist,omitempty"`
	CreatedBy   string          `json:"createdBy"`
	CreatedAt   int64           `json:"createdAt"`
	UpdatedAt   int64           `json:"updatedAt"`
}

// PositionUpdate is one sibling renumbering write fanned out after a move.
// Because position is a dense rank, a single move forces rewriting every
// sibling after the insertion point; these writes are applied best-effort by
// the reflow worker.
type PositionUpdate struct {
	EntityType string `json:"entityType"`
	ID         string `json:"id"`
	BoardID    string `json:"boardId,omitempty"`
	ListID     string `json:"listId,omitempty"`
	Position   int    `json:"position"`
	UpdatedAt  int64  `json:"updatedAt"`
}
