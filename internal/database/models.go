package database

import "time"

// Account records a local OS account created for an external identity.
// Rows are upserted on every successful login and never deleted by the
// server.
type Account struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username    string    `gorm:"uniqueIndex;not null;size:32" json:"username"`
	Subject     string    `gorm:"uniqueIndex;not null" json:"-"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	LoginCount  int       `gorm:"not null;default:0" json:"login_count"`
	LastLoginAt time.Time `json:"last_login_at"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
