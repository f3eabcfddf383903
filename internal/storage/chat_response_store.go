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
	"fmt"
	"time"

	"github.com/loqalabs/loqa-voicemirror/internal/logging"
	"go.uber.org/zap"
)

// ChatResponseStore handles database operations for canned chat responses
type ChatResponseStore struct {
	db  *Database
	now func() time.Time
}

// NewChatResponseStore creates a new chat response store
func NewChatResponseStore(db *Database) *ChatResponseStore {
	return &ChatResponseStore{db: db, now: time.Now}
}

// Create stores one synthesized answer
func (s *ChatResponseStore) Create(ctx context.Context, question, audioURL, voiceID string) (*ChatResponse, error) {
	now := toMillis(s.now())

	result, err := s.db.DB().ExecContext(ctx, `
		INSERT INTO chat_responses (question, audio_url, voice_id, created_at)
		VALUES (?, ?, ?, ?)`,
		question, audioURL, voiceID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert chat response: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read chat response id: %w", err)
	}

	logging.LogDatabaseOperation("insert", "chat_responses",
		zap.Int64("id", id),
		zap.String("voice_id", voiceID),
	)

	return &ChatResponse{
		ID:        id,
		Question:  question,
		AudioURL:  audioURL,
		VoiceID:   voiceID,
		CreatedAt: fromMillis(now),
	}, nil
}

// List returns responses newest first, restricted to voiceID when it is not empty
func (s *ChatResponseStore) List(ctx context.Context, voiceID string) ([]*ChatResponse, error) {
	query := `SELECT id, question, audio_url, voice_id, created_at FROM chat_responses`
	var args []interface{}
	if voiceID != "" {
		query += ` WHERE voice_id = ?`
		args = append(args, voiceID)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat responses: %w", err)
	}
	defer rows.Close()

	responses := make([]*ChatResponse, 0)
	for rows.Next() {
		var (
			response  ChatResponse
			createdAt int64
		)
		if err := rows.Scan(&response.ID, &response.Question, &response.AudioURL, &response.VoiceID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat response: %w", err)
		}
		response.CreatedAt = fromMillis(createdAt)
		responses = append(responses, &response)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chat responses: %w", err)
	}

	return responses, nil
}
