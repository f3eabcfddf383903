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

package responses

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/loqalabs/loqa-voicemirror/internal/audiostore"
	"github.com/loqalabs/loqa-voicemirror/internal/logging"
	"github.com/loqalabs/loqa-voicemirror/internal/provider"
	"github.com/loqalabs/loqa-voicemirror/internal/security"
	"github.com/loqalabs/loqa-voicemirror/internal/storage"
	"github.com/loqalabs/loqa-voicemirror/internal/textnorm"
	"go.uber.org/zap"
)

const (
	// MockCustomAudio is returned by Respond when no provider is configured
	MockCustomAudio = "mock-custom-response.mp3"
	audioMimeType   = "audio/mpeg"
)

var (
	// ErrValidation marks malformed caller input
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a voice no record knows about
	ErrNotFound = errors.New("not found")
)

// Speech is the result of an ad-hoc synthesis.
type Speech struct {
	AudioURL string `json:"audioUrl"`
	Text     string `json:"text"`
}

// ResponseStore persists rendered batch items.
type ResponseStore interface {
	Create(ctx context.Context, question, audioURL, voiceID string) (*storage.ChatResponse, error)
}

// VoiceLookup resolves a voice id to the record that produced it.
type VoiceLookup interface {
	FindByVoiceID(ctx context.Context, voiceID string) (*storage.IntakeRecord, error)
}

// Generator renders the scripted batch and ad-hoc text in a cloned voice.
type Generator struct {
	provider   provider.VoiceProvider
	audio      audiostore.Store
	responses  ResponseStore
	intakes    VoiceLookup
	normalizer *textnorm.Normalizer
	script     Script
	opts       provider.SynthesisOptions
	baseURL    string
}

// Config carries the generator dependencies.
type Config struct {
	Provider  provider.VoiceProvider
	Audio     audiostore.Store
	Responses ResponseStore
	Intakes   VoiceLookup
	Script    Script
	Options   provider.SynthesisOptions
	// BaseURL prefixes mock audio locators, which always live under /uploads/
	BaseURL string
}

// NewGenerator creates a generator. An empty script falls back to DefaultScript.
func NewGenerator(cfg Config) *Generator {
	script := cfg.Script
	if len(script.Lines) == 0 {
		script = DefaultScript()
	}
	return &Generator{
		provider:   cfg.Provider,
		audio:      cfg.Audio,
		responses:  cfg.Responses,
		intakes:    cfg.Intakes,
		normalizer: textnorm.New(),
		script:     script,
		opts:       cfg.Options,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
	}
}

// Script returns the script the generator renders.
func (g *Generator) Script() Script { return g.script }

// Generate renders every script line in voiceID and stores the results.
// A failing line is logged and skipped; the count of stored rows is returned.
func (g *Generator) Generate(ctx context.Context, voiceID string) int {
	created := 0
	for _, line := range g.script.Lines {
		if err := ctx.Err(); err != nil {
			logging.LogWarn("Batch generation interrupted", zap.String("voice_id", voiceID), zap.Error(err))
			break
		}

		url, err := g.render(ctx, line.Answer, voiceID, "response")
		if err != nil {
			logging.LogError(err, "Failed to render scripted response",
				zap.String("voice_id", voiceID),
				zap.String("question", line.Question),
			)
			continue
		}

		if _, err := g.responses.Create(ctx, line.Question, url, voiceID); err != nil {
			logging.LogError(err, "Failed to store scripted response",
				zap.String("voice_id", voiceID),
				zap.String("question", line.Question),
			)
			continue
		}
		created++
	}
	return created
}

// SeedMock stores the script with pre-recorded mock audio, without any
// provider calls.
func (g *Generator) SeedMock(ctx context.Context, voiceID string) int {
	created := 0
	for _, line := range g.script.Lines {
		url := g.uploadsURL(line.MockAudio)
		if _, err := g.responses.Create(ctx, line.Question, url, voiceID); err != nil {
			logging.LogError(err, "Failed to store mock response",
				zap.String("voice_id", voiceID),
				zap.String("question", line.Question),
			)
			continue
		}
		created++
	}
	return created
}

// Respond synthesizes arbitrary text in voiceID. The voice must belong to
// a known record or to the mock namespace.
func (g *Generator) Respond(ctx context.Context, text, voiceID string) (*Speech, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: text is required", ErrValidation)
	}
	if voiceID == "" {
		return nil, fmt.Errorf("%w: voiceId is required", ErrValidation)
	}
	if err := security.ValidateVoiceID(voiceID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	if !provider.IsMockVoice(voiceID) {
		if _, err := g.intakes.FindByVoiceID(ctx, voiceID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("%w: voice %s", ErrNotFound, voiceID)
			}
			return nil, fmt.Errorf("failed to look up voice %s: %w", voiceID, err)
		}
	}

	if !g.provider.Configured() {
		return &Speech{AudioURL: g.uploadsURL(MockCustomAudio), Text: text}, nil
	}

	url, err := g.render(ctx, text, voiceID, "custom")
	if err != nil {
		return nil, err
	}

	if logging.Sugar != nil {
		logging.Sugar.Infow("Generated custom speech",
			"voice_id", voiceID,
			"text", security.TruncateForLog(security.SanitizeLogInput(text), 80),
		)
	}
	return &Speech{AudioURL: url, Text: text}, nil
}

// render normalizes text, synthesizes it and stores the audio.
func (g *Generator) render(ctx context.Context, text, voiceID, prefix string) (string, error) {
	normalized := g.normalizer.Normalize(text)

	audio, err := g.provider.Synthesize(ctx, normalized, voiceID, g.opts)
	if err != nil {
		return "", fmt.Errorf("failed to synthesize speech: %w", err)
	}

	url, err := g.audio.Save(ctx, audiostore.UniqueName(prefix, ".mp3"), audio, audioMimeType)
	if err != nil {
		return "", fmt.Errorf("failed to store speech: %w", err)
	}
	return url, nil
}

func (g *Generator) uploadsURL(name string) string {
	return g.baseURL + "/uploads/" + name
}
