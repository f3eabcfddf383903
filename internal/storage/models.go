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

import "time"

// IntakeStatus is the lifecycle state of an uploaded voice sample
type IntakeStatus string

const (
	StatusProcessing IntakeStatus = "processing"
	StatusCompleted  IntakeStatus = "completed"
	StatusError      IntakeStatus = "error"
	StatusDeleted    IntakeStatus = "deleted" // Remote voice evicted; the row is the tombstone
)

// Valid reports whether s is a known intake status
func (s IntakeStatus) Valid() bool {
	switch s {
	case StatusProcessing, StatusCompleted, StatusError, StatusDeleted:
		return true
	}
	return false
}

// IntakeRecord tracks one uploaded voice sample through cloning
type IntakeRecord struct {
	ID          int64        `json:"id"`
	OriginalURL string       `json:"originalUrl"`
	VoiceID     *string      `json:"voiceId,omitempty"`
	Status      IntakeStatus `json:"status"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// ChatResponse is a canned question answered in a cloned voice
type ChatResponse struct {
	ID        int64     `json:"id"`
	Question  string    `json:"question"`
	AudioURL  string    `json:"audioUrl"`
	VoiceID   string    `json:"voiceId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Avatar is an uploaded face photo
type Avatar struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	ImageURL    string    `json:"imageUrl"`
	Description *string   `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// AnimationStatus is the processing state of an avatar animation
type AnimationStatus string

const (
	AnimationProcessing AnimationStatus = "processing"
	AnimationCompleted  AnimationStatus = "completed"
	AnimationError      AnimationStatus = "error"
)

// AvatarAnimation pairs an avatar with speech audio and the rendered video
type AvatarAnimation struct {
	ID        int64           `json:"id"`
	AvatarID  int64           `json:"avatarId"`
	AudioURL  string          `json:"audioUrl"`
	VideoURL  string          `json:"videoUrl,omitempty"`
	Text      string          `json:"text"`
	VoiceID   *string         `json:"voiceId,omitempty"`
	Status    AnimationStatus `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
}
