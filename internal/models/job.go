package models

import (
	"time"

	"github.com/ukydev/fieldops/internal/eventlog"
)

// JobStatus is the logical status of a job. It is always derived from the
// job's history and never stored on its own.
type JobStatus string

const (
	StatusAvailable JobStatus = "AVAILABLE"
	StatusPending   JobStatus = "PENDING"
	StatusAwaiting  JobStatus = "AWAITING"
	StatusEnRoute   JobStatus = "EN_ROUTE"
	StatusBusy      JobStatus = "BUSY"
	StatusSigned    JobStatus = "SIGNED" // signature captured; a sub-state of BUSY
	StatusPaused    JobStatus = "PAUSED"
	StatusCompleted JobStatus = "COMPLETED"
	StatusCancelled JobStatus = "CANCELLED"
)

// DefaultJobStatus is what an empty or unreadable history derives to.
const DefaultJobStatus = StatusPending

// IsValid reports whether s is a known status.
func (s JobStatus) IsValid() bool {
	switch s {
	case StatusAvailable, StatusPending, StatusAwaiting, StatusEnRoute, StatusBusy,
		StatusSigned, StatusPaused, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is possible.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// InMotion reports whether the status counts against the single-active-job rule.
func (s JobStatus) InMotion() bool {
	return s == StatusEnRoute || s == StatusBusy || s == StatusSigned
}

// IsActive reports whether work on the job has begun and not finished.
func (s JobStatus) IsActive() bool {
	return s.InMotion() || s == StatusPaused
}

// IsQueued reports whether the job is waiting to be dispatched.
func (s JobStatus) IsQueued() bool {
	return s == StatusAvailable || s == StatusPending || s == StatusAwaiting
}

// Stage collapses sub-states into the workflow stage shown to a technician.
func (s JobStatus) Stage() JobStatus {
	if s == StatusSigned {
		return StatusBusy
	}
	return s
}

// DeriveJobStatus computes the logical status of a history.
func DeriveJobStatus(history eventlog.Log) JobStatus {
	return JobStatus(eventlog.Derive(history, string(DefaultJobStatus)))
}

// JobKind classifies the work.
type JobKind string

const (
	JobKindInstallation JobKind = "installation"
	JobKindRepair       JobKind = "repair"
	JobKindService      JobKind = "service"
	JobKindInspection   JobKind = "inspection"
)

// IsValidJobKind checks if a job kind is known.
func IsValidJobKind(kind JobKind) bool {
	switch kind {
	case JobKindInstallation, JobKindRepair, JobKindService, JobKindInspection:
		return true
	default:
		return false
	}
}

// Priority of a job.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Customer is a snapshot of the customer taken at intake so the job can be
// worked without connectivity.
type Customer struct {
	Name    string `json:"name" bson:"name" gorm:"column:customer_name"`
	Phone   string `json:"phone" bson:"phone" gorm:"column:customer_phone"`
	Email   string `json:"email" bson:"email" gorm:"column:customer_email"`
	Address string `json:"address" bson:"address" gorm:"column:customer_address"`
}

// Job represents a unit of scheduled field work.
type Job struct {
	ID               int64          `json:"id" bson:"_id" gorm:"column:id;primary_key"`
	JobNumber        string         `json:"job_number" bson:"job_number" gorm:"column:job_number;unique_index;not null"`
	TechnicianID     string         `json:"technician_id" bson:"technician_id" gorm:"column:technician_id;index"`
	Customer         Customer       `json:"customer" bson:"customer" gorm:"embedded"`
	Kind             JobKind        `json:"kind" bson:"kind" gorm:"column:kind"`
	Priority         Priority       `json:"priority" bson:"priority" gorm:"column:priority"`
	Title            string         `json:"title" bson:"title" gorm:"column:title"`
	Description      string         `json:"description" bson:"description" gorm:"column:description"`
	ScheduledAt      time.Time      `json:"scheduled_at" bson:"scheduled_at" gorm:"column:scheduled_at;index"`
	DurationMinutes  int            `json:"duration_minutes" bson:"duration_minutes" gorm:"column:duration_minutes"`
	Site             Location       `json:"site" bson:"site" gorm:"embedded;embedded_prefix:site_"`
	History          eventlog.Log   `json:"history" bson:"status_history" gorm:"column:status_history;type:text"`
	PausedDuration   time.Duration  `json:"paused_duration" bson:"paused_duration" gorm:"column:paused_duration"`
	WorkSummary      string         `json:"work_summary" bson:"work_summary" gorm:"column:work_summary;type:text"`
	FollowUp         string         `json:"follow_up" bson:"follow_up" gorm:"column:follow_up;type:text"`
	FollowUpRequired bool           `json:"follow_up_required" bson:"follow_up_required" gorm:"column:follow_up_required"`
	SignedBy         string         `json:"signed_by,omitempty" bson:"signed_by" gorm:"column:signed_by"`
	SignatureURI     string         `json:"signature_uri,omitempty" bson:"signature_uri" gorm:"column:signature_uri"`
	BeforeEvidence   AttachmentList `json:"before_evidence" bson:"before_evidence" gorm:"column:before_evidence;type:text"`
	DuringEvidence   AttachmentList `json:"during_evidence" bson:"during_evidence" gorm:"column:during_evidence;type:text"`
	AfterEvidence    AttachmentList `json:"after_evidence" bson:"after_evidence" gorm:"column:after_evidence;type:text"`
	UsageSummary     UsageSummary   `json:"usage_summary" bson:"usage_summary" gorm:"column:usage_summary;type:text"`
	NeedsSync        bool           `json:"needs_sync" bson:"needs_sync" gorm:"column:needs_sync;index"`
	SyncedAt         *time.Time     `json:"synced_at,omitempty" bson:"synced_at,omitempty" gorm:"column:synced_at"`
	Version          int64          `json:"version" bson:"version" gorm:"column:version;not null;default:0"`
	CreatedAt        time.Time      `json:"created_at" bson:"created_at" gorm:"column:created_at"`
	UpdatedAt        time.Time      `json:"updated_at" bson:"updated_at" gorm:"column:updated_at"`
}

// TableName sets the table name for Job.
func (Job) TableName() string {
	return "jobs"
}

// Status derives the job's current status from its history.
func (j *Job) Status() JobStatus {
	return DeriveJobStatus(j.History)
}

// Evidence returns the attachment list for a category.
func (j *Job) Evidence(category EvidenceCategory) AttachmentList {
	switch category {
	case EvidenceBefore:
		return j.BeforeEvidence
	case EvidenceDuring:
		return j.DuringEvidence
	case EvidenceAfter:
		return j.AfterEvidence
	default:
		return nil
	}
}

// SetEvidence replaces the attachment list for a category.
func (j *Job) SetEvidence(category EvidenceCategory, list AttachmentList) {
	switch category {
	case EvidenceBefore:
		j.BeforeEvidence = list
	case EvidenceDuring:
		j.DuringEvidence = list
	case EvidenceAfter:
		j.AfterEvidence = list
	}
}

// Clone returns a deep copy. Histories and attachment lists are treated as
// immutable and shared; the usage map is copied.
func (j *Job) Clone() *Job {
	out := *j
	out.UsageSummary = j.UsageSummary.Clone()
	if j.SyncedAt != nil {
		t := *j.SyncedAt
		out.SyncedAt = &t
	}
	return &out
}
