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

// Package voice orchestrates the voice-clone lifecycle: intake, the
// background clone pipeline, status queries and admin operations.
package voice

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/loqalabs/loqa-voicemirror/internal/events"
	"github.com/loqalabs/loqa-voicemirror/internal/logging"
	"github.com/loqalabs/loqa-voicemirror/internal/messaging"
	"github.com/loqalabs/loqa-voicemirror/internal/provider"
	"github.com/loqalabs/loqa-voicemirror/internal/quota"
	"github.com/loqalabs/loqa-voicemirror/internal/responses"
	"github.com/loqalabs/loqa-voicemirror/internal/security"
	"github.com/loqalabs/loqa-voicemirror/internal/storage"
	"github.com/loqalabs/loqa-voicemirror/internal/worker"
	"go.uber.org/zap"
)

// statusWriteTimeout bounds the final status write of a job whose own
// context has already expired.
const statusWriteTimeout = 5 * time.Second

// Sample is an uploaded voice recording already persisted at OriginalURL.
type Sample struct {
	OriginalURL string
	Filename    string
	MimeType    string
	Data        []byte
}

// IntakeStore persists intake records.
type IntakeStore interface {
	Create(ctx context.Context, originalURL string) (*storage.IntakeRecord, error)
	Get(ctx context.Context, id int64) (*storage.IntakeRecord, error)
	Update(ctx context.Context, id int64, voiceID *string, status storage.IntakeStatus) error
}

// ChatResponseLister reads rendered batch items.
type ChatResponseLister interface {
	List(ctx context.Context, voiceID string) ([]*storage.ChatResponse, error)
}

// Deps wires a Service.
type Deps struct {
	Intakes   IntakeStore
	Responses ChatResponseLister
	Provider  provider.VoiceProvider
	Quota     *quota.Manager
	Generator *responses.Generator
	Pool      *worker.Pool
	Publisher messaging.Publisher
	// Strict holds one lock around quota enforcement and voice creation
	Strict      bool
	CleanupKeep int
}

// Service is the clone orchestrator.
type Service struct {
	intakes     IntakeStore
	responses   ChatResponseLister
	provider    provider.VoiceProvider
	quota       *quota.Manager
	generator   *responses.Generator
	pool        *worker.Pool
	publisher   messaging.Publisher
	strategy    cloneStrategy
	cleanupKeep int
	now         func() time.Time
}

// New builds the orchestrator. The clone strategy is fixed here: a
// configured provider clones remotely, otherwise the mock path runs.
func New(deps Deps) *Service {
	publisher := deps.Publisher
	if publisher == nil {
		publisher = messaging.NopPublisher{}
	}

	s := &Service{
		intakes:     deps.Intakes,
		responses:   deps.Responses,
		provider:    deps.Provider,
		quota:       deps.Quota,
		generator:   deps.Generator,
		pool:        deps.Pool,
		publisher:   publisher,
		cleanupKeep: deps.CleanupKeep,
		now:         time.Now,
	}

	if deps.Provider != nil && deps.Provider.Configured() {
		ps := &providerStrategy{svc: s}
		if deps.Strict {
			ps.strict = &sync.Mutex{}
		}
		s.strategy = ps
	} else {
		s.strategy = &mockStrategy{svc: s}
	}

	if logging.Sugar != nil {
		logging.Sugar.Infow("🎙️ Clone orchestrator ready", "strategy", s.strategy.Name(), "strict_quota", deps.Strict)
	}
	return s
}

// Mode reports the active clone strategy ("provider" or "mock").
func (s *Service) Mode() string { return s.strategy.Name() }

// Intake records a new sample and schedules cloning. It returns as soon
// as the record exists; the record is processing at that point.
func (s *Service) Intake(ctx context.Context, sample Sample) (*storage.IntakeRecord, error) {
	if len(sample.Data) == 0 {
		return nil, fmt.Errorf("%w: audio file is empty", ErrValidation)
	}
	if sample.OriginalURL == "" {
		return nil, fmt.Errorf("%w: original url is required", ErrValidation)
	}

	record, err := s.intakes.Create(ctx, sample.OriginalURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create intake record: %w", err)
	}
	logging.LogCloneStage(record.ID, "intake",
		zap.String("filename", security.SanitizeLogInput(sample.Filename)),
		zap.Int("bytes", len(sample.Data)),
	)
	s.publish(events.NewCloneEvent(events.TypeIntakeCreated, record.ID).WithStatus(string(record.Status)))

	job := worker.Job{
		Name: "clone-" + strconv.FormatInt(record.ID, 10),
		Run:  s.cloneJob(record, sample),
	}
	if err := s.pool.Submit(job); err != nil {
		s.markFailed(record.ID, err)
		if errors.Is(err, worker.ErrQueueFull) || errors.Is(err, worker.ErrShutdown) {
			return nil, fmt.Errorf("%w: %v", ErrBusy, err)
		}
		return nil, fmt.Errorf("failed to schedule clone: %w", err)
	}

	return record, nil
}

// cloneJob wraps the strategy so a panic before completion still leaves
// the record in error. A completed record stays completed.
func (s *Service) cloneJob(record *storage.IntakeRecord, sample Sample) func(context.Context) error {
	return func(ctx context.Context) (err error) {
		run := &cloneRun{record: record, sample: sample}
		defer func() {
			if r := recover(); r != nil {
				if !run.completed {
					s.markFailed(record.ID, fmt.Errorf("panic: %v", r))
				}
				panic(r)
			}
		}()
		logging.LogCloneStage(record.ID, "start", zap.String("strategy", s.strategy.Name()))
		return s.strategy.Clone(ctx, run)
	}
}

// complete marks the run's record completed with voiceID. When the write
// fails the record is moved to error and the orphaned voice id is logged.
func (s *Service) complete(ctx context.Context, run *cloneRun, voiceID string) error {
	if err := s.markCompleted(ctx, run.record.ID, voiceID); err != nil {
		logging.LogWarn("Voice created but not recorded",
			zap.Int64("record_id", run.record.ID),
			zap.String("orphaned_voice_id", voiceID),
		)
		s.markFailed(run.record.ID, err)
		return err
	}
	run.completed = true
	return nil
}

// markCompleted stores the voice id. The write survives cancellation of ctx
// so a finished clone is never lost to a job deadline.
func (s *Service) markCompleted(ctx context.Context, id int64, voiceID string) error {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()

	if err := s.intakes.Update(writeCtx, id, &voiceID, storage.StatusCompleted); err != nil {
		logging.LogError(err, "Failed to mark intake completed",
			zap.Int64("record_id", id),
			zap.String("voice_id", voiceID),
		)
		return fmt.Errorf("failed to mark intake %d completed: %w", id, err)
	}

	logging.LogCloneStage(id, "completed", zap.String("voice_id", voiceID))
	s.publish(events.NewCloneEvent(events.TypeCloneCompleted, id).
		WithVoice(voiceID).
		WithStatus(string(storage.StatusCompleted)))
	return nil
}

// markFailed moves a record to error. It uses its own context because
// it runs after the job context has usually expired.
func (s *Service) markFailed(id int64, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), statusWriteTimeout)
	defer cancel()

	if provider.IsClientError(cause) {
		logging.LogWarn("Provider rejected voice sample", zap.Int64("record_id", id), zap.Error(cause))
	} else {
		logging.LogError(cause, "Voice cloning failed", zap.Int64("record_id", id))
	}
	if err := s.intakes.Update(ctx, id, nil, storage.StatusError); err != nil {
		logging.LogError(err, "Failed to mark intake errored", zap.Int64("record_id", id))
	}
	s.publish(events.NewCloneEvent(events.TypeCloneFailed, id).
		WithStatus(string(storage.StatusError)).
		WithError(cause))
}

func (s *Service) publish(event *events.CloneEvent) {
	if err := s.publisher.Publish(event); err != nil {
		logging.LogWarn("Failed to publish clone event",
			zap.String("type", string(event.Type)),
			zap.Int64("record_id", event.RecordID),
			zap.Error(err),
		)
	}
}

// GetStatus returns the current state of an intake record.
func (s *Service) GetStatus(ctx context.Context, id int64) (*storage.IntakeRecord, error) {
	record, err := s.intakes.Get(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: audio record %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to load intake %d: %w", id, err)
	}
	return record, nil
}

// ChatResponses lists rendered responses, most recent first. An empty
// voiceID lists every voice.
func (s *Service) ChatResponses(ctx context.Context, voiceID string) ([]*storage.ChatResponse, error) {
	list, err := s.responses.List(ctx, voiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat responses: %w", err)
	}
	return list, nil
}

// Respond synthesizes ad-hoc text in a cloned voice.
func (s *Service) Respond(ctx context.Context, text, voiceID string) (*responses.Speech, error) {
	return s.generator.Respond(ctx, text, voiceID)
}

// ListVoices returns the provider voices joined with local records.
func (s *Service) ListVoices(ctx context.Context) (*quota.VoiceListing, error) {
	return s.quota.ListVoices(ctx)
}

// Cleanup evicts all but keep custom voices. A negative keep uses the
// configured default.
func (s *Service) Cleanup(ctx context.Context, keep int) (*quota.CleanupResult, error) {
	if keep < 0 {
		keep = s.cleanupKeep
	}
	return s.quota.Cleanup(ctx, keep)
}

// DeleteVoice removes one voice from the provider.
func (s *Service) DeleteVoice(ctx context.Context, voiceID string) (*quota.DeleteResult, error) {
	if err := security.ValidateVoiceID(voiceID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return s.quota.DeleteVoice(ctx, voiceID)
}

// Stats exposes executor counters.
func (s *Service) Stats() worker.Stats {
	return s.pool.Stats()
}

// Shutdown stops accepting intakes and waits for running clones.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.pool.Shutdown(ctx)
}
