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

package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type identifies a step of the voice-clone lifecycle. It doubles as the
// subject suffix the event is published under.
type Type string

const (
	TypeIntakeCreated  Type = "intake.created"
	TypeCloneCompleted Type = "clone.completed"
	TypeCloneFailed    Type = "clone.failed"
	TypeBatchCompleted Type = "batch.completed"
	TypeVoiceDeleted   Type = "voice.deleted"
)

// Valid reports whether t is one of the known lifecycle types.
func (t Type) Valid() bool {
	switch t {
	case TypeIntakeCreated, TypeCloneCompleted, TypeCloneFailed, TypeBatchCompleted, TypeVoiceDeleted:
		return true
	}
	return false
}

// CloneEvent is the payload published for every lifecycle transition.
type CloneEvent struct {
	EventID   string    `json:"event_id"`
	Type      Type      `json:"type"`
	RecordID  int64     `json:"record_id,omitempty"`
	VoiceID   string    `json:"voice_id,omitempty"`
	Status    string    `json:"status,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Count     int       `json:"count,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewCloneEvent stamps a new event with an id and the current time.
func NewCloneEvent(t Type, recordID int64) *CloneEvent {
	return &CloneEvent{
		EventID:   uuid.NewString(),
		Type:      t,
		RecordID:  recordID,
		Timestamp: time.Now().UTC(),
	}
}

// WithVoice sets the voice id.
func (e *CloneEvent) WithVoice(voiceID string) *CloneEvent {
	e.VoiceID = voiceID
	return e
}

// WithStatus sets the record status carried by the event.
func (e *CloneEvent) WithStatus(status string) *CloneEvent {
	e.Status = status
	return e
}

// WithError records err as the event detail.
func (e *CloneEvent) WithError(err error) *CloneEvent {
	if err != nil {
		e.Detail = err.Error()
	}
	return e
}

// WithCount sets the number of items affected (batch size, records updated).
func (e *CloneEvent) WithCount(n int) *CloneEvent {
	e.Count = n
	return e
}

// IsValid performs basic validation before publication.
func (e *CloneEvent) IsValid() error {
	if e.EventID == "" {
		return errors.New("event id is required")
	}
	if !e.Type.Valid() {
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.Type == TypeVoiceDeleted && e.VoiceID == "" {
		return errors.New("voice id is required for voice.deleted")
	}
	if e.Type != TypeVoiceDeleted && e.RecordID <= 0 {
		return errors.New("record id is required")
	}
	return nil
}

func (e *CloneEvent) String() string {
	return fmt.Sprintf("CloneEvent{ID: %s, Type: %s, Record: %d, Voice: %s, Status: %s}",
		e.EventID, e.Type, e.RecordID, e.VoiceID, e.Status)
}
