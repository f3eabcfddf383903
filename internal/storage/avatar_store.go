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

// AvatarStore handles database operations for avatars and their animations
type AvatarStore struct {
	db  *Database
	now func() time.Time
}

// NewAvatarStore creates a new avatar store
func NewAvatarStore(db *Database) *AvatarStore {
	return &AvatarStore{db: db, now: time.Now}
}

// CreateAvatar stores a new avatar
func (s *AvatarStore) CreateAvatar(ctx context.Context, name, imageURL string, description *string) (*Avatar, error) {
	now := toMillis(s.now())

	result, err := s.db.DB().ExecContext(ctx, `
		INSERT INTO avatars (name, image_url, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		name, imageURL, nullString(description), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert avatar: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read avatar id: %w", err)
	}

	logging.LogDatabaseOperation("insert", "avatars", zap.Int64("id", id))

	return &Avatar{
		ID:          id,
		Name:        name,
		ImageURL:    imageURL,
		Description: description,
		CreatedAt:   fromMillis(now),
		UpdatedAt:   fromMillis(now),
	}, nil
}

// GetAvatar retrieves an avatar by id
func (s *AvatarStore) GetAvatar(ctx context.Context, id int64) (*Avatar, error) {
	row := s.db.DB().QueryRowContext(ctx, `
		SELECT id, name, image_url, description, created_at, updated_at
		FROM avatars WHERE id = ?`, id)
	return scanAvatar(row)
}

// ListAvatars returns every avatar, newest first
func (s *AvatarStore) ListAvatars(ctx context.Context) ([]*Avatar, error) {
	rows, err := s.db.DB().QueryContext(ctx, `
		SELECT id, name, image_url, description, created_at, updated_at
		FROM avatars ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query avatars: %w", err)
	}
	defer rows.Close()

	avatars := make([]*Avatar, 0)
	for rows.Next() {
		avatar, err := scanAvatar(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan avatar: %w", err)
		}
		avatars = append(avatars, avatar)
	}

	return avatars, rows.Err()
}

// CreateAnimation stores an animation for an existing avatar
func (s *AvatarStore) CreateAnimation(ctx context.Context, animation *AvatarAnimation) (*AvatarAnimation, error) {
	now := toMillis(s.now())

	result, err := s.db.DB().ExecContext(ctx, `
		INSERT INTO avatar_animations (avatar_id, audio_url, video_url, text, voice_id, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		animation.AvatarID, animation.AudioURL, animation.VideoURL, animation.Text,
		nullString(animation.VoiceID), animation.Status, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert avatar animation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read animation id: %w", err)
	}

	logging.LogDatabaseOperation("insert", "avatar_animations",
		zap.Int64("id", id),
		zap.Int64("avatar_id", animation.AvatarID),
	)

	created := *animation
	created.ID = id
	created.CreatedAt = fromMillis(now)
	return &created, nil
}

// GetAnimation retrieves an animation by id
func (s *AvatarStore) GetAnimation(ctx context.Context, id int64) (*AvatarAnimation, error) {
	row := s.db.DB().QueryRowContext(ctx, `
		SELECT id, avatar_id, audio_url, video_url, text, voice_id, status, created_at
		FROM avatar_animations WHERE id = ?`, id)
	return scanAnimation(row)
}

// ListAnimations returns the animations of one avatar, newest first
func (s *AvatarStore) ListAnimations(ctx context.Context, avatarID int64) ([]*AvatarAnimation, error) {
	rows, err := s.db.DB().QueryContext(ctx, `
		SELECT id, avatar_id, audio_url, video_url, text, voice_id, status, created_at
		FROM avatar_animations WHERE avatar_id = ?
		ORDER BY created_at DESC, id DESC`, avatarID)
	if err != nil {
		return nil, fmt.Errorf("failed to query avatar animations: %w", err)
	}
	defer rows.Close()

	animations := make([]*AvatarAnimation, 0)
	for rows.Next() {
		animation, err := scanAnimation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan avatar animation: %w", err)
		}
		animations = append(animations, animation)
	}

	return animations, rows.Err()
}

func scanAvatar(scanner rowScanner) (*Avatar, error) {
	var (
		avatar      Avatar
		description sql.NullString
		createdAt   int64
		updatedAt   int64
	)

	err := scanner.Scan(&avatar.ID, &avatar.Name, &avatar.ImageURL, &description, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if description.Valid {
		d := description.String
		avatar.Description = &d
	}
	avatar.CreatedAt = fromMillis(createdAt)
	avatar.UpdatedAt = fromMillis(updatedAt)
	return &avatar, nil
}

func scanAnimation(scanner rowScanner) (*AvatarAnimation, error) {
	var (
		animation AvatarAnimation
		voiceID   sql.NullString
		status    string
		createdAt int64
	)

	err := scanner.Scan(&animation.ID, &animation.AvatarID, &animation.AudioURL, &animation.VideoURL,
		&animation.Text, &voiceID, &status, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if voiceID.Valid {
		v := voiceID.String
		animation.VoiceID = &v
	}
	animation.Status = AnimationStatus(status)
	animation.CreatedAt = fromMillis(createdAt)
	return &animation, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
