package db

import (
	"context"
	"errors"
	"fmt"

	"lompapi/internal/model"

	"gorm.io/gorm"
)

// The whole fixed-window read-modify-write is a single statement, so concurrent
// requests for the same key cannot both observe count = limit-1.
// A row is written (rows affected > 0) only when the request is admitted.
const upsertWindowSQL = `
INSERT INTO rate_windows (key_id, window_start, request_count) VALUES (?, ?, 1)
ON CONFLICT (key_id) DO UPDATE SET
	request_count = CASE WHEN rate_windows.window_start = excluded.window_start
		THEN rate_windows.request_count + 1 ELSE 1 END,
	window_start = excluded.window_start
WHERE rate_windows.window_start <> excluded.window_start
	OR rate_windows.request_count < ?`

// MySQL reports 0 affected rows when the update leaves the row unchanged.
const upsertWindowMySQL = `
INSERT INTO rate_windows (key_id, window_start, request_count) VALUES (?, ?, 1)
ON DUPLICATE KEY UPDATE
	request_count = IF(window_start = VALUES(window_start),
		IF(request_count < ?, request_count + 1, request_count), 1),
	window_start = VALUES(window_start)`

// upsertWindowQuery returns the window upsert for a gorm dialector name. Both variants take
// (key_id, window_start, limit).
func upsertWindowQuery(dialect string) string {
	if dialect == "mysql" {
		return upsertWindowMySQL
	}
	return upsertWindowSQL
}

// AdmitRateWindow atomically applies one request to the key's window and reports whether it was admitted.
func (s *service) AdmitRateWindow(ctx context.Context, keyID string, windowStart int64, limit int) (bool, error) {
	result := s.db.WithContext(ctx).Exec(upsertWindowQuery(s.db.Dialector.Name()), keyID, windowStart, limit)
	if result.Error != nil {
		return false, fmt.Errorf("failed to update rate window for key %s: %w", keyID, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// GetRateWindow returns the stored window of a key.
func (s *service) GetRateWindow(ctx context.Context, keyID string) (*model.RateWindow, error) {
	var window model.RateWindow
	err := s.db.WithContext(ctx).Where("key_id = ?", keyID).First(&window).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load rate window for key %s: %w", keyID, err)
	}
	return &window, nil
}

// PurgeRateWindows deletes windows that started before the given epoch second.
func (s *service) PurgeRateWindows(ctx context.Context, before int64) (int64, error) {
	result := s.db.WithContext(ctx).Where("window_start < ?", before).Delete(&model.RateWindow{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to purge rate windows: %w", result.Error)
	}
	return result.RowsAffected, nil
}
