package models

import "gorm.io/gorm"

// Migrate creates or updates the chat tables and their indexes.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&Conversation{},
		&ConversationParticipant{},
		&Message{},
		&MessageRead{},
	)
}
