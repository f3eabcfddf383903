/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/loqalabs/loqa-voicemirror/internal/logging"
	"go.uber.org/zap"
)

// IntakeStore handles database operations for intake records
type IntakeStore struct {
	db  *Database
	now func() time.Time
}

// NewIntakeStore creates a new intake store
func NewIntakeStore(db *Database) *IntakeStore {
	return &IntakeStore{db: db, now: time.Now}
}

const intakeColumns = `id, original_url, voice_id, status, created_at, updated_at`

// Create inserts a new record in the processing state
func (s *IntakeStore) Create(ctx context.Context, originalURL string) (*IntakeRecord, error) {
	now := s.now()

	result, err := s.db.DB().ExecContext(ctx, `
		INSERT INTO intakes (original_url, voice_id, status, created_at, updated_at)
		VALUES (?, NULL, ?, ?, ?)`,
		originalURL, StatusProcessing, toMillis(now), toMillis(now),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert intake: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read intake id: %w", err)
	}

	logging.LogDatabaseOperation("insert", "intakes", zap.Int64("id", id))

	return &IntakeRecord{
		ID:          id,
		OriginalURL: originalURL,
		Status:      StatusProcessing,
		CreatedAt:   fromMillis(toMillis(now)),
		UpdatedAt:   fromMillis(toMillis(now)),
	}, nil
}

// Get retrieves a record by id
func (s *IntakeStore) Get(ctx context.Context, id int64) (*IntakeRecord, error) {
	row := s.db.DB().QueryRowContext(ctx,
		`SELECT `+intakeColumns+` FROM intakes WHERE id = ?`, id)
	return scanIntake(row)
}

// FindByVoiceID returns the most recent record that references voiceID
func (s *IntakeStore) FindByVoiceID(ctx context.Context, voiceID string) (*IntakeRecord, error) {
	row := s.db.DB().QueryRowContext(ctx,
		`SELECT `+intakeColumns+` FROM intakes WHERE voice_id = ? ORDER BY id DESC LIMIT 1`, voiceID)
	return scanIntake(row)
}

// Update sets the status of a record. A completed record must carry a voice ID;
// an errored record never does; a deleted record keeps the one it had.
func (s *IntakeStore) Update(ctx context.Context, id int64, voiceID *string, status IntakeStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid intake status %q", status)
	}
	if status == StatusCompleted && (voiceID == nil || *voiceID == "") {
		return errors.New("completed intake requires a voice ID")
	}

	var (
		query string
		args  []interface{}
		now   = toMillis(s.now())
	)
	switch status {
	case StatusCompleted:
		query = `UPDATE intakes SET voice_id = ?, status = ?, updated_at = ? WHERE id = ?`
		args = []interface{}{*voiceID, status, now, id}
	case StatusError, StatusProcessing:
		query = `UPDATE intakes SET voice_id = NULL, status = ?, updated_at = ? WHERE id = ?`
		args = []interface{}{status, now, id}
	default:
		query = `UPDATE intakes SET status = ?, updated_at = ? WHERE id = ?`
		args = []interface{}{status, now, id}
	}

	result, err := s.db.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update intake %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	logging.LogDatabaseOperation("update", "intakes",
		zap.Int64("id", id),
		zap.String("status", string(status)),
	)
	return nil
}

// MarkVoiceDeleted tombstones every record that references voiceID and
// returns how many rows changed
func (s *IntakeStore) MarkVoiceDeleted(ctx context.Context, voiceID string) (int64, error) {
	result, err := s.db.DB().ExecContext(ctx,
		`UPDATE intakes SET status = ?, updated_at = ? WHERE voice_id = ? AND status != ?`,
		StatusDeleted, toMillis(s.now()), voiceID, StatusDeleted,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark voice %s deleted: %w", voiceID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check update result: %w", err)
	}

	logging.LogDatabaseOperation("mark_deleted", "intakes",
		zap.String("voice_id", voiceID),
		zap.Int64("rows", affected),
	)
	return affected, nil
}

// ListCompleted returns every completed record, newest first
func (s *IntakeStore) ListCompleted(ctx context.Context) ([]*IntakeRecord, error) {
	rows, err := s.db.DB().QueryContext(ctx,
		`SELECT `+intakeColumns+` FROM intakes WHERE status = ? AND voice_id IS NOT NULL ORDER BY id DESC`,
		StatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("failed to query intakes: %w", err)
	}
	defer rows.Close()

	var records []*IntakeRecord
	for rows.Next() {
		record, err := scanIntake(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan intake: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating intakes: %w", err)
	}

	return records, nil
}

func scanIntake(scanner rowScanner) (*IntakeRecord, error) {
	var (
		record    IntakeRecord
		voiceID   sql.NullString
		status    string
		createdAt int64
		updatedAt int64
	)

	err := scanner.Scan(&record.ID, &record.OriginalURL, &voiceID, &status, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if voiceID.Valid {
		v := voiceID.String
		record.VoiceID = &v
	}
	record.Status = IntakeStatus(status)
	record.CreatedAt = fromMillis(createdAt)
	record.UpdatedAt = fromMillis(updatedAt)

	return &record, nil
}
