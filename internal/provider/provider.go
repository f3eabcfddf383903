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

// Package provider talks to the remote voice-cloning and text-to-speech service.
package provider

import (
	"context"
	"errors"
	"strings"
)

// MockVoicePrefix namespaces the synthetic voice IDs handed out in mock mode
const MockVoicePrefix = "mock_voice_"

// ErrNotConfigured is returned by the null provider for operations that need a real backend
var ErrNotConfigured = errors.New("voice provider API key not configured")

// Voice is a voice as reported by the provider
type Voice struct {
	VoiceID       string `json:"voice_id"`
	Name          string `json:"name"`
	Category      string `json:"category"`
	CreatedAtUnix int64  `json:"created_at_unix,omitempty"`
}

// Provider-defined voice categories
const (
	CategoryCloned    = "cloned"
	CategoryGenerated = "generated"
	CategoryPremade   = "premade"
)

// VoiceSample is the uploaded audio a voice is cloned from
type VoiceSample struct {
	Name        string
	Description string
	Filename    string
	MimeType    string
	Data        []byte
}

// VoiceSettings are passed through to the provider untouched
type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

// SynthesisOptions select the model, language and voice tuning for a synthesis call
type SynthesisOptions struct {
	ModelID      string
	LanguageCode string
	Settings     VoiceSettings
}

// DefaultSynthesisOptions returns the tuning used for Russian speech
func DefaultSynthesisOptions() SynthesisOptions {
	return SynthesisOptions{
		ModelID:      "eleven_multilingual_v2",
		LanguageCode: "ru",
		Settings: VoiceSettings{
			Stability:       0.65,
			SimilarityBoost: 0.85,
			Style:           0.3,
			UseSpeakerBoost: true,
		},
	}
}

// VoiceProvider is the remote capability used by the clone pipeline.
// Every non-success response surfaces as *Error; implementations never retry.
type VoiceProvider interface {
	ListVoices(ctx context.Context) ([]Voice, error)
	CreateVoice(ctx context.Context, sample VoiceSample) (string, error)
	DeleteVoice(ctx context.Context, voiceID string) error
	Synthesize(ctx context.Context, text, voiceID string, opts SynthesisOptions) ([]byte, error)
	// Configured reports whether calls reach a real provider
	Configured() bool
}

// IsMockVoice reports whether a voice ID belongs to the mock namespace
func IsMockVoice(voiceID string) bool {
	return strings.HasPrefix(voiceID, MockVoicePrefix)
}
