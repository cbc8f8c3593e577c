package service

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"mobilecontrol/models"
)

const defaultHistoryLimit = 50

// HistoryStore persists command results in the command_history table,
// keeping at most maxRows entries per device.
type HistoryStore struct {
	db      *sql.DB
	maxRows int // <= 0 keeps everything
}

func NewHistoryStore(db *sql.DB, maxRows int) *HistoryStore {
	return &HistoryStore{db: db, maxRows: maxRows}
}

// Record appends one command result.
func (s *HistoryStore) Record(event models.CommandResultEvent) error {
	params, err := json.Marshal(event.Params)
	if err != nil {
		return fmt.Errorf("failed to encode params: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO command_history (id, device_id, command, params, success, message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), event.DeviceID, event.Command, string(params),
		event.Result.Success, event.Result.Message, event.Timestamp,
	)
	if err != nil {
		return err
	}
	return s.prune(event.DeviceID)
}

func (s *HistoryStore) prune(deviceID string) error {
	if s.maxRows <= 0 {
		return nil
	}
	_, err := s.db.Exec(
		`DELETE FROM command_history WHERE device_id = ? AND rowid NOT IN (
			SELECT rowid FROM command_history WHERE device_id = ?
			ORDER BY created_at DESC, rowid DESC LIMIT ?)`,
		deviceID, deviceID, s.maxRows,
	)
	if err != nil {
		return fmt.Errorf("failed to prune history: %w", err)
	}
	return nil
}

// Recent returns the newest entries for a device, newest first.
func (s *HistoryStore) Recent(deviceID string, limit int) ([]models.HistoryEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	rows, err := s.db.Query(
		`SELECT id, device_id, command, params, success, message, created_at
		 FROM command_history WHERE device_id = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		deviceID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.HistoryEntry{}
	for rows.Next() {
		var (
			e       models.HistoryEntry
			params  sql.NullString
			message sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.DeviceID, &e.Command, &params, &e.Success, &message, &e.Timestamp); err != nil {
			return nil, err
		}
		if params.Valid && params.String != "" && params.String != "null" {
			if err := json.Unmarshal([]byte(params.String), &e.Params); err != nil {
				return nil, fmt.Errorf("corrupt params for history entry %s: %w", e.ID, err)
			}
		}
		e.Message = message.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
