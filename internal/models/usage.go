package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ukydev/fieldops/internal/eventlog"
)

// Usage records a quantity of a consumable drawn against a job. Usage records
// are never modified; reversals are separate stock adjustments.
type Usage struct {
	ID             int64     `json:"id" bson:"_id" gorm:"column:id;primary_key"`
	JobID          int64     `json:"job_id" bson:"job_id" gorm:"column:job_id;index"`
	ConsumableCode string    `json:"consumable_code" bson:"consumable_code" gorm:"column:consumable_code;index"`
	Quantity       float64   `json:"quantity" bson:"quantity" gorm:"column:quantity"`
	Unit           string    `json:"unit" bson:"unit" gorm:"column:unit"`
	TechnicianID   string    `json:"technician_id" bson:"technician_id" gorm:"column:technician_id"`
	UsedAt         time.Time `json:"used_at" bson:"used_at" gorm:"column:used_at"`
}

// TableName sets the table name for Usage.
func (Usage) TableName() string {
	return "usages"
}

// UsageSummary totals drawn quantities per consumable code on a job.
type UsageSummary map[string]float64

// Add returns a copy with delta applied to code. Totals that reach zero are dropped.
func (s UsageSummary) Add(code string, delta float64) UsageSummary {
	out := s.Clone()
	if out == nil {
		out = UsageSummary{}
	}
	total := out[code] + delta
	if total <= 0 {
		delete(out, code)
	} else {
		out[code] = total
	}
	return out
}

// Clone copies the summary.
func (s UsageSummary) Clone() UsageSummary {
	if s == nil {
		return nil
	}
	out := make(UsageSummary, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Value stores the summary as JSON text.
func (s UsageSummary) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(map[string]float64(s))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan decodes a stored summary; unreadable values become an empty summary.
func (s *UsageSummary) Scan(value interface{}) error {
	var text string
	switch v := value.(type) {
	case nil:
		*s = UsageSummary{}
		return nil
	case []byte:
		text = string(v)
	case string:
		text = v
	default:
		eventlog.ReportMalformed("usage_summary", fmt.Errorf("unsupported column type %T", value))
		*s = UsageSummary{}
		return nil
	}
	out := UsageSummary{}
	if text != "" {
		if err := json.Unmarshal([]byte(text), &out); err != nil {
			eventlog.ReportMalformed("usage_summary", err)
			out = UsageSummary{}
		}
	}
	*s = out
	return nil
}
