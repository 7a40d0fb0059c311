// Package repository implements domain repository interfaces using SQLite.
package repository

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cubeopt/internal/domain"
)

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func mapDBError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.NotFoundError{Message: "resource not found"}
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("resource already exists: %w", err)
	}
	return err
}

// Orderings are stored as JSON arrays of dimension names.
func encodeOrdering(o domain.Ordering) (string, error) {
	if o == nil {
		o = domain.Ordering{}
	}
	b, err := json.Marshal([]string(o))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeOrdering(s string) (domain.Ordering, error) {
	var names []string
	if err := json.Unmarshal([]byte(s), &names); err != nil {
		return nil, fmt.Errorf("decode ordering %q: %w", s, err)
	}
	return domain.Ordering(names), nil
}

// Timestamps use a fixed-width layout so that text order is time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
