// Package store is the durable repository of conversations and messages.
// Every mutation touches a single conversation or message row set and is
// atomic on its own; nothing here spans documents.
package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"support-chat/models"

	"gorm.io/gorm"
)

// Store wraps a gorm handle with the chat queries.
type Store struct {
	db    *gorm.DB
	clock *Clock

	conversationPageMax int
	messagePageMax      int
}

// Option configures a Store.
type Option func(*Store)

// WithPageLimits caps listing and history page sizes. Non-positive values
// keep the defaults.
func WithPageLimits(conversations, messages int) Option {
	return func(s *Store) {
		if conversations > 0 {
			s.conversationPageMax = conversations
		}
		if messages > 0 {
			s.messagePageMax = messages
		}
	}
}

// New returns a Store that stamps rows with the wall clock.
func New(db *gorm.DB, opts ...Option) *Store {
	return NewWithClock(db, func() time.Time { return time.Now() }, opts...)
}

// NewWithClock is New with a caller supplied time source.
func NewWithClock(db *gorm.DB, now func() time.Time, opts ...Option) *Store {
	s := &Store{
		db:                  db,
		clock:               NewClock(now),
		conversationPageMax: DefaultConversationPageMax,
		messagePageMax:      DefaultMessagePageMax,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB exposes the handle for health checks and migrations.
func (s *Store) DB() *gorm.DB { return s.db }

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return models.Backend("ping", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return models.Backend("ping", err)
	}
	return nil
}

// Now returns the next store timestamp.
func (s *Store) Now() time.Time { return s.clock.Now() }

// Clock hands out strictly increasing UTC timestamps at millisecond
// precision, the resolution of a mysql DATETIME(3) column. Two messages
// created by the same process therefore never share a createdAt.
type Clock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

func NewClock(now func() time.Time) *Clock {
	return &Clock{now: now}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now().UTC().Truncate(time.Millisecond)
	if !t.After(c.last) {
		t = c.last.Add(time.Millisecond)
	}
	c.last = t
	return t
}

// wrap converts gorm failures into the chat error taxonomy.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var chatErr *models.Error
	if errors.As(err, &chatErr) {
		return err
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return models.NotFoundf("%s: not found", op)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return &models.Error{Kind: models.KindConflict, Message: op + ": duplicate", Err: err}
	}
	return models.Backend(op, err)
}

func clampPage(page, limit, max int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > max {
		limit = max
	}
	return page, limit
}
