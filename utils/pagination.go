package utils

import (
	"strconv"
	"time"

	"support-chat/models"

	"github.com/gin-gonic/gin"
)

// Pagination reads page and limit query parameters. Missing values are zero
// and left for the store to default.
func Pagination(c *gin.Context) (page, limit int, err error) {
	if page, err = intQuery(c, "page"); err != nil {
		return 0, 0, err
	}
	if limit, err = intQuery(c, "limit"); err != nil {
		return 0, 0, err
	}
	return page, limit, nil
}

// Before reads the optional before cursor as RFC 3339 or unix milliseconds.
func Before(c *gin.Context) (*time.Time, error) {
	raw := c.Query("before")
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return &t, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, models.Invalidf("before must be an RFC 3339 timestamp or unix milliseconds")
	}
	t := time.UnixMilli(ms).UTC()
	return &t, nil
}

func intQuery(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, models.Invalidf("%s must be a non-negative integer", key)
	}
	return n, nil
}
