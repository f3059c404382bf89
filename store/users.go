package store

import (
	"context"

	"support-chat/models"
)

// GetUser reads one user row.
func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, wrap("get user", err)
	}
	return &u, nil
}

// FindStaff returns the staff user with the most recent login, or nil when
// no staff account other than excludeID exists.
func (s *Store) FindStaff(ctx context.Context, roles []string, excludeID string) (*models.User, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	var users []models.User
	err := s.db.WithContext(ctx).
		Where("role IN ?", roles).
		Where("id <> ?", excludeID).
		Order("CASE WHEN last_login IS NULL THEN 1 ELSE 0 END").
		Order("last_login DESC").
		Order("id ASC").
		Limit(1).
		Find(&users).Error
	if err != nil {
		return nil, wrap("find staff", err)
	}
	if len(users) == 0 {
		return nil, nil
	}
	return &users[0], nil
}
