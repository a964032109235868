package models

import "time"

// Checkout is a custody record linking an asset to a holder and optionally a job.
// It is closed exactly once and never reopened.
type Checkout struct {
	ID           int64      `json:"id" bson:"_id" gorm:"column:id;primary_key"`
	AssetCode    string     `json:"asset_code" bson:"asset_code" gorm:"column:asset_code;index"`
	Holder       string     `json:"holder" bson:"holder" gorm:"column:holder;index"`
	JobID        *int64     `json:"job_id,omitempty" bson:"job_id,omitempty" gorm:"column:job_id;index"`
	Reason       string     `json:"reason" bson:"reason" gorm:"column:reason"`
	Notes        string     `json:"notes" bson:"notes" gorm:"column:notes;type:text"`
	ConditionOut Condition  `json:"condition_out" bson:"condition_out" gorm:"column:condition_out"`
	CheckedOutAt time.Time  `json:"checked_out_at" bson:"checked_out_at" gorm:"column:checked_out_at"`
	ConditionIn  Condition  `json:"condition_in,omitempty" bson:"condition_in,omitempty" gorm:"column:condition_in"`
	ReturnNotes  string     `json:"return_notes,omitempty" bson:"return_notes,omitempty" gorm:"column:return_notes;type:text"`
	ReturnedAt   *time.Time `json:"returned_at,omitempty" bson:"returned_at" gorm:"column:returned_at;index"`
}

// TableName sets the table name for Checkout.
func (Checkout) TableName() string {
	return "checkouts"
}

// IsOpen reports whether the asset has not been returned yet.
func (c *Checkout) IsOpen() bool {
	return c.ReturnedAt == nil
}

// Clone returns a copy that shares no pointers with c.
func (c *Checkout) Clone() *Checkout {
	out := *c
	if c.JobID != nil {
		id := *c.JobID
		out.JobID = &id
	}
	if c.ReturnedAt != nil {
		t := *c.ReturnedAt
		out.ReturnedAt = &t
	}
	return &out
}
