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

package voice

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/loqalabs/loqa-voicemirror/internal/events"
	"github.com/loqalabs/loqa-voicemirror/internal/logging"
	"github.com/loqalabs/loqa-voicemirror/internal/provider"
	"github.com/loqalabs/loqa-voicemirror/internal/storage"
	"go.uber.org/zap"
)

const cloneDescription = "Voice clone for VoiceMirror"

// cloneStrategy turns a processing record into a completed or errored one.
type cloneStrategy interface {
	Name() string
	Clone(ctx context.Context, run *cloneRun) error
}

// cloneRun is the state of one background clone job.
type cloneRun struct {
	record *storage.IntakeRecord
	sample Sample
	// completed is set once the record holds its voice id; later
	// failures must not move it back to error.
	completed bool
}

// providerStrategy clones through the remote provider.
type providerStrategy struct {
	svc *Service
	// strict serializes enforce+create so concurrent intakes cannot
	// overshoot the quota ceiling. Nil when not configured.
	strict *sync.Mutex
}

func (s *providerStrategy) Name() string { return "provider" }

func (s *providerStrategy) Clone(ctx context.Context, run *cloneRun) error {
	svc := s.svc
	record := run.record
	logging.LogCloneStage(record.ID, "quota")

	voiceID, err := s.createVoice(ctx, run.sample)
	if err != nil {
		svc.markFailed(record.ID, err)
		return err
	}

	if err := svc.complete(ctx, run, voiceID); err != nil {
		return err
	}

	logging.LogCloneStage(record.ID, "batch", zap.String("voice_id", voiceID))
	created := svc.generator.Generate(ctx, voiceID)
	svc.publish(events.NewCloneEvent(events.TypeBatchCompleted, record.ID).
		WithVoice(voiceID).
		WithCount(created))
	logging.LogCloneStage(record.ID, "done",
		zap.String("voice_id", voiceID),
		zap.Int("responses", created),
		zap.Int("expected", len(svc.generator.Script().Lines)),
	)
	return nil
}

func (s *providerStrategy) createVoice(ctx context.Context, sample Sample) (string, error) {
	if s.strict != nil {
		s.strict.Lock()
		defer s.strict.Unlock()
	}

	s.svc.quota.EnforceCapacity(ctx)

	voiceID, err := s.svc.provider.CreateVoice(ctx, provider.VoiceSample{
		Name:        fmt.Sprintf("voice_%d", s.svc.now().UnixMilli()),
		Description: cloneDescription,
		Filename:    sample.Filename,
		MimeType:    sample.MimeType,
		Data:        sample.Data,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create voice: %w", err)
	}
	return voiceID, nil
}

// mockStrategy completes immediately with a synthetic voice and
// pre-recorded responses.
type mockStrategy struct {
	svc *Service
}

func (s *mockStrategy) Name() string { return "mock" }

func (s *mockStrategy) Clone(ctx context.Context, run *cloneRun) error {
	svc := s.svc
	record := run.record
	voiceID := provider.MockVoicePrefix + strconv.FormatInt(record.ID, 10)

	if err := svc.complete(ctx, run, voiceID); err != nil {
		return err
	}

	created := svc.generator.SeedMock(ctx, voiceID)
	svc.publish(events.NewCloneEvent(events.TypeBatchCompleted, record.ID).
		WithVoice(voiceID).
		WithCount(created))
	logging.LogCloneStage(record.ID, "done",
		zap.String("voice_id", voiceID),
		zap.Int("responses", created),
		zap.Bool("mock", true),
	)
	return nil
}
