package models

import "time"

// Technician is a person who signs in on the device and owns jobs.
type Technician struct {
	ID        string     `json:"id" bson:"_id" gorm:"column:id;primary_key"`
	Username  string     `json:"username" bson:"username" gorm:"column:username;unique_index;not null"`
	Name      string     `json:"name" bson:"name" gorm:"column:name"`
	Phone     string     `json:"phone" bson:"phone" gorm:"column:phone"`
	PINHash   string     `json:"-" bson:"pin_hash" gorm:"column:pin_hash"`
	IsActive  bool       `json:"is_active" bson:"is_active" gorm:"column:is_active"`
	LastLogin *time.Time `json:"last_login,omitempty" bson:"last_login,omitempty" gorm:"column:last_login"`
	CreatedAt time.Time  `json:"created_at" bson:"created_at" gorm:"column:created_at"`
	UpdatedAt time.Time  `json:"updated_at" bson:"updated_at" gorm:"column:updated_at"`
}

// TableName sets the table name for Technician.
func (Technician) TableName() string {
	return "technicians"
}

// Session identifies the technician on whose behalf an operation runs. It is
// passed explicitly into every engine operation.
type Session struct {
	TechnicianID string `json:"technician_id"`
	Username     string `json:"username"`
	Name         string `json:"name"`
	TokenID      string `json:"token_id,omitempty"`
	ExpiresAt    int64  `json:"exp,omitempty"`
}

// Actor is the name recorded on history entries written for this session.
func (s Session) Actor() string {
	if s.Username != "" {
		return s.Username
	}
	return s.TechnicianID
}

// Valid reports whether the session names a technician.
func (s Session) Valid() bool {
	return s.TechnicianID != ""
}

// LoginRequest represents a login request
type LoginRequest struct {
	Username string `json:"username"`
	PIN      string `json:"pin"`
}

// LoginResponse represents a successful login response
type LoginResponse struct {
	Token      string     `json:"token"`
	Technician Technician `json:"technician"`
}
