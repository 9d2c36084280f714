package model

import "time"

// User is the minimal identity record every ownership check in the system
// anchors on. It is not a CRUD surface — registration/login exist only so
// that session/task ownership has a real user_id behind it.
type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"uniqueIndex;size:64;not null" json:"username"`
	PasswordHash string    `gorm:"size:255;not null" json:"-"`
	Role         string    `gorm:"size:32;not null;default:USER" json:"role"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (User) TableName() string { return "users" }

const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)
