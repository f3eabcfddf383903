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

// Package avatar stores face photos and produces animation records for
// them. Animation is a stub: the "video" is the still image and only the
// speech track is real.
package avatar

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/loqalabs/loqa-voicemirror/internal/audiostore"
	"github.com/loqalabs/loqa-voicemirror/internal/logging"
	"github.com/loqalabs/loqa-voicemirror/internal/responses"
	"github.com/loqalabs/loqa-voicemirror/internal/security"
	"github.com/loqalabs/loqa-voicemirror/internal/storage"
	"github.com/loqalabs/loqa-voicemirror/internal/voice"
	"go.uber.org/zap"
)

// Store persists avatars and their animations.
type Store interface {
	CreateAvatar(ctx context.Context, name, imageURL string, description *string) (*storage.Avatar, error)
	GetAvatar(ctx context.Context, id int64) (*storage.Avatar, error)
	ListAvatars(ctx context.Context) ([]*storage.Avatar, error)
	CreateAnimation(ctx context.Context, animation *storage.AvatarAnimation) (*storage.AvatarAnimation, error)
	GetAnimation(ctx context.Context, id int64) (*storage.AvatarAnimation, error)
	ListAnimations(ctx context.Context, avatarID int64) ([]*storage.AvatarAnimation, error)
}

// Speaker renders text in a cloned voice.
type Speaker interface {
	Respond(ctx context.Context, text, voiceID string) (*responses.Speech, error)
}

// AnimateRequest asks for an avatar to speak text, optionally in a cloned voice.
type AnimateRequest struct {
	AvatarID int64  `json:"avatarId"`
	Text     string `json:"text"`
	VoiceID  string `json:"voiceId,omitempty"`
}

// Service manages avatars.
type Service struct {
	store   Store
	speaker Speaker
	audio   audiostore.Store
}

// NewService creates an avatar service. audio receives placeholder speech
// when an animation has no voice.
func NewService(store Store, speaker Speaker, audio audiostore.Store) *Service {
	return &Service{store: store, speaker: speaker, audio: audio}
}

// Create registers an uploaded photo.
func (s *Service) Create(ctx context.Context, name, imageURL, description string) (*storage.Avatar, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", voice.ErrValidation)
	}
	if imageURL == "" {
		return nil, fmt.Errorf("%w: image is required", voice.ErrValidation)
	}

	var desc *string
	if d := strings.TrimSpace(description); d != "" {
		desc = &d
	}

	avatar, err := s.store.CreateAvatar(ctx, name, imageURL, desc)
	if err != nil {
		return nil, fmt.Errorf("failed to create avatar: %w", err)
	}
	logInfo("Avatar created",
		zap.Int64("avatar_id", avatar.ID),
		zap.String("name", security.SanitizeLogInput(name)),
	)
	return avatar, nil
}

// List returns every avatar, newest first.
func (s *Service) List(ctx context.Context) ([]*storage.Avatar, error) {
	avatars, err := s.store.ListAvatars(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list avatars: %w", err)
	}
	return avatars, nil
}

// Get returns one avatar.
func (s *Service) Get(ctx context.Context, id int64) (*storage.Avatar, error) {
	avatar, err := s.store.GetAvatar(ctx, id)
	if err != nil {
		return nil, notFound(err, "avatar", id)
	}
	return avatar, nil
}

// Animate renders the speech track and records a completed animation whose
// video is the avatar image.
func (s *Service) Animate(ctx context.Context, req AnimateRequest) (*storage.AvatarAnimation, error) {
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		return nil, fmt.Errorf("%w: text is required", voice.ErrValidation)
	}

	avatar, err := s.Get(ctx, req.AvatarID)
	if err != nil {
		return nil, err
	}

	var (
		audioURL string
		voiceID  *string
	)
	if req.VoiceID != "" {
		speech, err := s.speaker.Respond(ctx, req.Text, req.VoiceID)
		if err != nil {
			return nil, err
		}
		audioURL = speech.AudioURL
		v := req.VoiceID
		voiceID = &v
	} else {
		audioURL, err = s.placeholderAudio(ctx, req.Text)
		if err != nil {
			return nil, err
		}
	}

	animation, err := s.store.CreateAnimation(ctx, &storage.AvatarAnimation{
		AvatarID: avatar.ID,
		AudioURL: audioURL,
		VideoURL: avatar.ImageURL,
		Text:     req.Text,
		VoiceID:  voiceID,
		Status:   storage.AnimationCompleted,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create animation: %w", err)
	}

	logInfo("Avatar animation created",
		zap.Int64("animation_id", animation.ID),
		zap.Int64("avatar_id", avatar.ID),
	)
	return animation, nil
}

func (s *Service) placeholderAudio(ctx context.Context, text string) (string, error) {
	name := audiostore.UniqueName("mock_audio", ".mp3")
	url, err := s.audio.Save(ctx, name, []byte("Mock audio for text: "+text), "audio/mpeg")
	if err != nil {
		return "", fmt.Errorf("failed to store placeholder audio: %w", err)
	}
	return url, nil
}

// Animation returns one animation.
func (s *Service) Animation(ctx context.Context, id int64) (*storage.AvatarAnimation, error) {
	animation, err := s.store.GetAnimation(ctx, id)
	if err != nil {
		return nil, notFound(err, "animation", id)
	}
	return animation, nil
}

// Animations lists the animations of one avatar, newest first.
func (s *Service) Animations(ctx context.Context, avatarID int64) ([]*storage.AvatarAnimation, error) {
	animations, err := s.store.ListAnimations(ctx, avatarID)
	if err != nil {
		return nil, fmt.Errorf("failed to list animations: %w", err)
	}
	return animations, nil
}

func notFound(err error, kind string, id int64) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s %d", voice.ErrNotFound, kind, id)
	}
	return fmt.Errorf("failed to load %s %d: %w", kind, id, err)
}

func logInfo(msg string, fields ...zap.Field) {
	if logging.Logger != nil {
		logging.Logger.Info(msg, append(fields, zap.String("component", "avatar"))...)
	}
}
