package store

import (
	"context"
	"math"
	"time"

	"support-chat/models"
)

// ChatStats is the staff dashboard summary.
type ChatStats struct {
	TotalConversations  int64 `json:"totalConversations"`
	ActiveConversations int64 `json:"activeConversations"`
	ClosedConversations int64 `json:"closedConversations"`
	TotalMessages       int64 `json:"totalMessages"`
	TodayMessages       int64 `json:"todayMessages"`
	AvgResponseMinutes  int64 `json:"avgResponseMinutes"`
	WindowDays          int   `json:"windowDays"`
}

type responseRow struct {
	ConversationID string
	CreatedAt      time.Time
	Role           string
}

// ChatStats computes totals and the mean staff response latency over
// conversations created in the last windowDays.
func (s *Store) ChatStats(ctx context.Context, windowDays int, staffRoles []string) (*ChatStats, error) {
	if windowDays <= 0 {
		windowDays = 7
	}
	now := s.clock.now().UTC()
	stats := &ChatStats{WindowDays: windowDays}
	db := s.db.WithContext(ctx)

	if err := db.Model(&models.Conversation{}).Count(&stats.TotalConversations).Error; err != nil {
		return nil, wrap("stats", err)
	}
	if err := db.Model(&models.Conversation{}).Where("status = ?", models.StatusActive).Count(&stats.ActiveConversations).Error; err != nil {
		return nil, wrap("stats", err)
	}
	if err := db.Model(&models.Conversation{}).Where("status = ?", models.StatusClosed).Count(&stats.ClosedConversations).Error; err != nil {
		return nil, wrap("stats", err)
	}
	if err := db.Model(&models.Message{}).Where("is_deleted = ?", false).Count(&stats.TotalMessages).Error; err != nil {
		return nil, wrap("stats", err)
	}
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if err := db.Model(&models.Message{}).Where("is_deleted = ? AND created_at >= ?", false, startOfDay).Count(&stats.TodayMessages).Error; err != nil {
		return nil, wrap("stats", err)
	}

	since := now.AddDate(0, 0, -windowDays)
	var rows []responseRow
	err := db.Table("messages AS m").
		Select("m.conversation_id AS conversation_id, m.created_at AS created_at, COALESCE(u.role, '') AS role").
		Joins("LEFT JOIN users u ON u.id = m.sender_id").
		Where("m.conversation_id IN (?)", db.Model(&models.Conversation{}).Select("conversation_id").Where("created_at >= ?", since)).
		Where("m.is_deleted = ? AND m.type <> ?", false, models.MessageSystem).
		Order("m.conversation_id ASC").Order("m.created_at ASC").Order("m.message_id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, wrap("stats", err)
	}
	stats.AvgResponseMinutes = avgResponseMinutes(rows, staffRoles)
	return stats, nil
}

// avgResponseMinutes averages the gap between a user message and the staff
// message directly after it, rounding half away from zero.
func avgResponseMinutes(rows []responseRow, staffRoles []string) int64 {
	staff := make(map[string]bool, len(staffRoles))
	for _, r := range staffRoles {
		staff[r] = true
	}
	var sum time.Duration
	var n int
	for i := 1; i < len(rows); i++ {
		prev, cur := rows[i-1], rows[i]
		if prev.ConversationID != cur.ConversationID {
			continue
		}
		if prev.Role == "user" && staff[cur.Role] {
			sum += cur.CreatedAt.Sub(prev.CreatedAt)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	mean := float64(sum.Milliseconds()) / float64(n)
	return int64(math.Round(mean / 60000))
}
