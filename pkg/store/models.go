package store

import "time"

// Task statuses. A task is created externally as NEW, leased to IN_PROGRESS,
// and ends in DONE or ERROR; recoverable failures bounce it back to NEW.
const (
	TaskStatusNew        = "NEW"
	TaskStatusInProgress = "IN_PROGRESS"
	TaskStatusDone       = "DONE"
	TaskStatusError      = "ERROR"
)

// Proxy statuses. BLOCKED is terminal; only an operator tool may free a
// blocked proxy.
const (
	ProxyStatusFree    = "FREE"
	ProxyStatusInUse   = "IN_USE"
	ProxyStatusBlocked = "BLOCKED"
)

// Validation stages.
const (
	ValidationMechanical = "MECHANICAL"
	ValidationAI         = "AI"
)

// Processing outcomes recorded in the processed_articles log.
const (
	ProcessingSuccess   = "SUCCESS"
	ProcessingError     = "ERROR"
	ProcessingNoResults = "NO_RESULTS"
)

// CompleteTaskParams carries everything CompleteTask persists in its single
// transaction: the task transition plus the processed_articles upsert.
type CompleteTaskParams struct {
	TaskID           int64
	Article          string
	WorkerID         string
	ProcessingStatus string
	ItemsFound       int
	ItemsPassed      int
}

// Card is a parsed listing row as the validation and enrichment stages see
// it.
type Card struct {
	AvitoItemID int64
	Article     string
	Title       string
	Description string
	Price       float64
	SellerName  string
}

// StuckSweepResult reports what ReturnStuckTasks did.
type StuckSweepResult struct {
	Returned int64
	Errored  int64
}

// Epoch is the sentinel published_at for deleted listings, so they are never
// re-attempted.
var Epoch = time.Unix(0, 0).UTC()
