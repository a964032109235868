package models

import (
	"time"

	"github.com/ukydev/fieldops/internal/eventlog"
)

// AssetEvent is a custody history entry kind.
type AssetEvent string

const (
	AssetCheckedOut AssetEvent = "CHECKED_OUT"
	AssetCheckedIn  AssetEvent = "CHECKED_IN"
)

// AssetCategory classifies a fixed asset.
type AssetCategory string

const (
	AssetCategoryTool      AssetCategory = "tool"
	AssetCategoryVehicle   AssetCategory = "vehicle"
	AssetCategoryEquipment AssetCategory = "equipment"
	AssetCategoryMeter     AssetCategory = "meter"
)

// Condition describes the physical state of an asset at hand-over.
type Condition string

const (
	ConditionNew     Condition = "New"
	ConditionGood    Condition = "Good"
	ConditionFair    Condition = "Fair"
	ConditionPoor    Condition = "Poor"
	ConditionDamaged Condition = "Damaged"
)

// IsValidCondition checks if a condition is known.
func IsValidCondition(c Condition) bool {
	switch c {
	case ConditionNew, ConditionGood, ConditionFair, ConditionPoor, ConditionDamaged:
		return true
	default:
		return false
	}
}

// Asset is a durable item held by one custodian at a time.
type Asset struct {
	Code            string        `json:"code" bson:"_id" gorm:"column:code;primary_key"`
	Name            string        `json:"name" bson:"name" gorm:"column:name;not null"`
	Category        AssetCategory `json:"category" bson:"category" gorm:"column:category;index"`
	SerialNumber    string        `json:"serial_number" bson:"serial_number" gorm:"column:serial_number"`
	Manufacturer    string        `json:"manufacturer" bson:"manufacturer" gorm:"column:manufacturer"`
	Model           string        `json:"model" bson:"model" gorm:"column:model"`
	Available       bool          `json:"available" bson:"available" gorm:"column:available;index"`
	Holder          *string       `json:"holder,omitempty" bson:"holder,omitempty" gorm:"column:holder"`
	LastMaintenance *time.Time    `json:"last_maintenance,omitempty" bson:"last_maintenance,omitempty" gorm:"column:last_maintenance"`
	NextMaintenance *time.Time    `json:"next_maintenance,omitempty" bson:"next_maintenance,omitempty" gorm:"column:next_maintenance"`
	History         eventlog.Log  `json:"history" bson:"custody_history" gorm:"column:custody_history;type:text"`
	Version         int64         `json:"version" bson:"version" gorm:"column:version;not null;default:0"`
	CreatedAt       time.Time     `json:"created_at" bson:"created_at" gorm:"column:created_at"`
	UpdatedAt       time.Time     `json:"updated_at" bson:"updated_at" gorm:"column:updated_at"`
}

// TableName sets the table name for Asset.
func (Asset) TableName() string {
	return "assets"
}

// CustodyOpen reports whether the history ends in an unreturned checkout.
func CustodyOpen(history eventlog.Log) bool {
	return eventlog.Derive(history, string(AssetCheckedIn)) == string(AssetCheckedOut)
}

// CustodyOpen reports whether the asset is currently checked out according to its history.
func (a *Asset) CustodyOpen() bool {
	return CustodyOpen(a.History)
}

// MaintenanceDue reports whether the next maintenance date has passed.
func (a *Asset) MaintenanceDue(now time.Time) bool {
	return a.NextMaintenance != nil && !now.Before(*a.NextMaintenance)
}

// Clone returns a copy that shares no pointers with a.
func (a *Asset) Clone() *Asset {
	out := *a
	if a.Holder != nil {
		h := *a.Holder
		out.Holder = &h
	}
	if a.LastMaintenance != nil {
		t := *a.LastMaintenance
		out.LastMaintenance = &t
	}
	if a.NextMaintenance != nil {
		t := *a.NextMaintenance
		out.NextMaintenance = &t
	}
	return &out
}
