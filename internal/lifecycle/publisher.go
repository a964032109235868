package lifecycle

import (
	"context"
	"time"

	"github.com/ukydev/fieldops/internal/models"
)

// Transition is announced after a status change has been committed.
type Transition struct {
	JobID        int64            `json:"job_id"`
	JobNumber    string           `json:"job_number"`
	TechnicianID string           `json:"technician_id"`
	From         models.JobStatus `json:"from"`
	To           models.JobStatus `json:"to"`
	Reason       string           `json:"reason,omitempty"`
	Actor        string           `json:"actor,omitempty"`
	At           time.Time        `json:"at"`
}

// Publisher receives committed transitions. Failures are logged and never
// undo the transition.
type Publisher interface {
	Publish(ctx context.Context, t Transition) error
}

// NopPublisher discards transitions.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Transition) error { return nil }
