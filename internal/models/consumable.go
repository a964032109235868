package models

import "time"

// Consumable is depletable stock tracked by quantity.
type Consumable struct {
	Code         string    `json:"code" bson:"_id" gorm:"column:code;primary_key"`
	Name         string    `json:"name" bson:"name" gorm:"column:name;not null"`
	Category     string    `json:"category" bson:"category" gorm:"column:category;index"`
	CurrentStock float64   `json:"current_stock" bson:"current_stock" gorm:"column:current_stock;not null"`
	MinimumStock float64   `json:"minimum_stock" bson:"minimum_stock" gorm:"column:minimum_stock;not null"`
	Unit         string    `json:"unit" bson:"unit" gorm:"column:unit"`
	Version      int64     `json:"version" bson:"version" gorm:"column:version;not null;default:0"`
	CreatedAt    time.Time `json:"created_at" bson:"created_at" gorm:"column:created_at"`
	UpdatedAt    time.Time `json:"updated_at" bson:"updated_at" gorm:"column:updated_at"`
}

// TableName sets the table name for Consumable.
func (Consumable) TableName() string {
	return "consumables"
}

// LowStock is computed from the current stock on every call and never stored.
func (c *Consumable) LowStock() bool {
	return c.CurrentStock <= c.MinimumStock
}
