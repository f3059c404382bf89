package models

import "time"

type ConversationParticipant struct {
	ConversationID string     `gorm:"primaryKey;type:varchar(36)" json:"-"`
	UserID         string     `gorm:"primaryKey;type:varchar(36);index:idx_participants_user" json:"userId"` // 用户 ID
	Position       int        `gorm:"not null;default:0" json:"-"`
	UnreadCount    int        `gorm:"not null;default:0" json:"unreadCount"`
	LastReadAt     *time.Time `json:"lastReadAt"` // 用户最后一次阅读时间
	IsTyping       bool       `gorm:"not null;default:false" json:"isTyping"`
	JoinedAt       time.Time  `gorm:"autoCreateTime" json:"joinedAt"` // 用户加入会话的时间

	User *User `gorm:"foreignKey:UserID;references:ID" json:"user,omitempty"`
}
