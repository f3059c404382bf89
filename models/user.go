package models

import (
	"time"
)

// User 用户模型
//
// The users table belongs to the identity subsystem. The chat core only reads
// it to hydrate senders, search participants and pick a staff member.
type User struct {
	ID        string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Username  string     `gorm:"type:varchar(100);index" json:"username"`
	Email     string     `gorm:"type:varchar(255);index" json:"email"`
	AvatarURL string     `json:"avatar_url"`
	Role      string     `gorm:"type:varchar(20);index;default:'user'" json:"role"`
	LastLogin *time.Time `json:"last_login" gorm:"default:NULL"` // 允许 NULL
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Identity is the verified caller attached to a request or a websocket session.
type Identity struct {
	UserID      string `json:"userId"`
	Role        string `json:"role"`
	DisplayName string `json:"displayName"`
}
