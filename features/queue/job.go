package queue

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a job. A job is created pending, is
// claimed into processing by the dispatcher, and is resolved back to pending
// (retry), to error (soft-terminal, operator-resettable) or to done.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusError      Status = "error"
)

// Job is one captured message awaiting delivery. The ID is either a
// generated UUID (SMTP capture) or the remote provider's message id
// (mailbox poller), which makes redelivered messages a no-op insert.
type Job struct {
	ID        string          `json:"id"`
	Status    Status          `json:"status"`
	Attempts  int             `json:"attempts"`
	Payload   json.RawMessage `json:"payload"`
	Result    string          `json:"result"`
	NextRunAt time.Time       `json:"next_run_at"`
	CreatedAt time.Time       `json:"created_at"`
}

// Stats is the per-status row count snapshot served by the admin surface.
type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Done       int `json:"done"`
	Error      int `json:"error"`
}
