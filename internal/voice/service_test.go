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
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-voicemirror/internal/audiostore"
	"github.com/loqalabs/loqa-voicemirror/internal/config"
	"github.com/loqalabs/loqa-voicemirror/internal/events"
	"github.com/loqalabs/loqa-voicemirror/internal/logging"
	"github.com/loqalabs/loqa-voicemirror/internal/provider"
	"github.com/loqalabs/loqa-voicemirror/internal/quota"
	"github.com/loqalabs/loqa-voicemirror/internal/responses"
	"github.com/loqalabs/loqa-voicemirror/internal/storage"
	"github.com/loqalabs/loqa-voicemirror/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeProvider struct {
	mu         sync.Mutex
	voices     []provider.Voice
	created    int
	createErr  error
	createGate chan struct{}
	synthErr   error
	synthPanic bool
	unset      bool
}

func (f *fakeProvider) Configured() bool { return !f.unset }

func (f *fakeProvider) ListVoices(context.Context) ([]provider.Voice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.Voice(nil), f.voices...), nil
}

func (f *fakeProvider) CreateVoice(ctx context.Context, sample provider.VoiceSample) (string, error) {
	if f.createGate != nil {
		select {
		case <-f.createGate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created++
	id := fmt.Sprintf("cloned_%d", f.created)
	f.voices = append(f.voices, provider.Voice{
		VoiceID:       id,
		Name:          sample.Name,
		Category:      provider.CategoryCloned,
		CreatedAtUnix: int64(1000 + f.created),
	})
	return id, nil
}

func (f *fakeProvider) DeleteVoice(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.voices[:0]
	for _, v := range f.voices {
		if v.VoiceID != id {
			kept = append(kept, v)
		}
	}
	f.voices = kept
	return nil
}

func (f *fakeProvider) Synthesize(_ context.Context, _, voiceID string, _ provider.SynthesisOptions) ([]byte, error) {
	if f.synthPanic {
		panic("synthesizer crashed")
	}
	if f.synthErr != nil {
		return nil, f.synthErr
	}
	return []byte("mp3:" + voiceID), nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*events.CloneEvent
}

func (p *recordingPublisher) Publish(e *events.CloneEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// failingCompletion rejects the completed status write.
type failingCompletion struct {
	*storage.IntakeStore
}

func (f failingCompletion) Update(ctx context.Context, id int64, voiceID *string, status storage.IntakeStatus) error {
	if status == storage.StatusCompleted {
		return errors.New("disk I/O error")
	}
	return f.IntakeStore.Update(ctx, id, voiceID, status)
}

type harness struct {
	svc       *Service
	provider  *fakeProvider
	publisher *recordingPublisher
	intakes   *storage.IntakeStore
}

func newHarness(t *testing.T, p *fakeProvider, poolCfg worker.Config) *harness {
	t.Helper()
	return newHarnessWithIntakes(t, p, poolCfg, nil)
}

// newHarnessWithIntakes lets wrap replace the intake store seen by the service.
func newHarnessWithIntakes(t *testing.T, p *fakeProvider, poolCfg worker.Config, wrap func(*storage.IntakeStore) IntakeStore) *harness {
	t.Helper()

	dir := t.TempDir()
	db, err := storage.NewDatabase(storage.DatabaseConfig{Path: filepath.Join(dir, "voicemirror.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	audio, err := audiostore.NewLocal(filepath.Join(dir, "uploads"), "http://localhost:3000")
	require.NoError(t, err)

	intakes := storage.NewIntakeStore(db)
	chat := storage.NewChatResponseStore(db)
	pub := &recordingPublisher{}
	pool := worker.NewPool(poolCfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = pool.Shutdown(ctx)
	})

	qcfg := config.QuotaConfig{Ceiling: 5, Floor: 3, CleanupKeep: 2, NameMarker: "voicemirror"}
	var serviceIntakes IntakeStore = intakes
	if wrap != nil {
		serviceIntakes = wrap(intakes)
	}
	svc := New(Deps{
		Intakes:   serviceIntakes,
		Responses: chat,
		Provider:  p,
		Quota:     quota.NewManager(p, intakes, pub, qcfg),
		Generator: responses.NewGenerator(responses.Config{
			Provider:  p,
			Audio:     audio,
			Responses: chat,
			Intakes:   intakes,
			Options:   provider.DefaultSynthesisOptions(),
			BaseURL:   "http://localhost:3000",
		}),
		Pool:        pool,
		Publisher:   pub,
		CleanupKeep: qcfg.CleanupKeep,
	})

	return &harness{svc: svc, provider: p, publisher: pub, intakes: intakes}
}

func defaultPool() worker.Config {
	return worker.Config{Workers: 2, QueueSize: 8, JobTimeout: 10 * time.Second}
}

func sample() Sample {
	return Sample{
		OriginalURL: "http://localhost:3000/uploads/file-1.wav",
		Filename:    "me.wav",
		MimeType:    "audio/wav",
		Data:        []byte("RIFF....WAVE"),
	}
}

func waitForStatus(t *testing.T, svc *Service, id int64, want storage.IntakeStatus) *storage.IntakeRecord {
	t.Helper()
	var record *storage.IntakeRecord
	require.Eventually(t, func() bool {
		r, err := svc.GetStatus(context.Background(), id)
		if err != nil {
			return false
		}
		record = r
		return r.Status == want
	}, 5*time.Second, 10*time.Millisecond)
	return record
}

func TestIntake_ProviderFlow(t *testing.T) {
	h := newHarness(t, &fakeProvider{}, defaultPool())
	ctx := context.Background()
	assert.Equal(t, "provider", h.svc.Mode())

	record, err := h.svc.Intake(ctx, sample())
	require.NoError(t, err)
	assert.Equal(t, storage.StatusProcessing, record.Status)
	assert.Nil(t, record.VoiceID)

	done := waitForStatus(t, h.svc, record.ID, storage.StatusCompleted)
	require.NotNil(t, done.VoiceID)
	assert.Equal(t, "cloned_1", *done.VoiceID)

	require.Eventually(t, func() bool {
		list, err := h.svc.ChatResponses(ctx, "cloned_1")
		return err == nil && len(list) == 5
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(h.publisher.types()) == 3
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []events.Type{
		events.TypeIntakeCreated, events.TypeCloneCompleted, events.TypeBatchCompleted,
	}, h.publisher.types())
}

func TestIntake_CreationFailureMarksError(t *testing.T) {
	p := &fakeProvider{createErr: &provider.Error{Operation: "create voice", StatusCode: 422, Message: "bad sample"}}
	h := newHarness(t, p, defaultPool())

	record, err := h.svc.Intake(context.Background(), sample())
	require.NoError(t, err)

	failed := waitForStatus(t, h.svc, record.ID, storage.StatusError)
	assert.Nil(t, failed.VoiceID)

	list, err := h.svc.ChatResponses(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, list)
	require.Eventually(t, func() bool {
		types := h.publisher.types()
		return len(types) == 2 && types[1] == events.TypeCloneFailed
	}, 5*time.Second, 10*time.Millisecond)
}

func TestIntake_BatchFailureKeepsCompleted(t *testing.T) {
	p := &fakeProvider{synthErr: errors.New("tts down")}
	h := newHarness(t, p, defaultPool())

	record, err := h.svc.Intake(context.Background(), sample())
	require.NoError(t, err)

	done := waitForStatus(t, h.svc, record.ID, storage.StatusCompleted)
	require.NotNil(t, done.VoiceID)

	require.Eventually(t, func() bool {
		types := h.publisher.types()
		return len(types) == 3 && types[2] == events.TypeBatchCompleted
	}, 5*time.Second, 10*time.Millisecond)

	list, err := h.svc.ChatResponses(context.Background(), *done.VoiceID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestIntake_MockFlow(t *testing.T) {
	h := newHarness(t, &fakeProvider{unset: true}, defaultPool())
	assert.Equal(t, "mock", h.svc.Mode())

	record, err := h.svc.Intake(context.Background(), sample())
	require.NoError(t, err)

	done := waitForStatus(t, h.svc, record.ID, storage.StatusCompleted)
	want := fmt.Sprintf("mock_voice_%d", record.ID)
	require.NotNil(t, done.VoiceID)
	assert.Equal(t, want, *done.VoiceID)

	var list []*storage.ChatResponse
	require.Eventually(t, func() bool {
		list, err = h.svc.ChatResponses(context.Background(), want)
		return err == nil && len(list) == 5
	}, 5*time.Second, 10*time.Millisecond)
	for _, r := range list {
		assert.Regexp(t, `^http://localhost:3000/uploads/mock-response-[1-5]\.mp3$`, r.AudioURL)
	}

	speech, err := h.svc.Respond(context.Background(), "привет", want)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3000/uploads/mock-custom-response.mp3", speech.AudioURL)
}

func TestIntake_Validation(t *testing.T) {
	h := newHarness(t, &fakeProvider{}, defaultPool())

	s := sample()
	s.Data = nil
	_, err := h.svc.Intake(context.Background(), s)
	assert.ErrorIs(t, err, ErrValidation)

	s = sample()
	s.OriginalURL = ""
	_, err = h.svc.Intake(context.Background(), s)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestIntake_QueueFullReturnsBusy(t *testing.T) {
	gate := make(chan struct{})
	p := &fakeProvider{createGate: gate}
	h := newHarness(t, p, worker.Config{Workers: 1, QueueSize: 1, JobTimeout: 10 * time.Second})
	defer close(gate)

	first, err := h.svc.Intake(context.Background(), sample())
	require.NoError(t, err)

	// The single worker is parked in CreateVoice, the second intake takes
	// the only queue slot and the third is rejected.
	require.Eventually(t, func() bool { return h.svc.Stats().Active == 1 }, 5*time.Second, 10*time.Millisecond)

	_, err = h.svc.Intake(context.Background(), sample())
	require.NoError(t, err)

	_, err = h.svc.Intake(context.Background(), sample())
	assert.ErrorIs(t, err, ErrBusy)

	rejected, err := h.svc.GetStatus(context.Background(), first.ID+2)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusError, rejected.Status)
	assert.Nil(t, rejected.VoiceID)
}

func TestIntake_JobTimeoutMarksError(t *testing.T) {
	p := &fakeProvider{createGate: make(chan struct{})}
	h := newHarness(t, p, worker.Config{Workers: 1, QueueSize: 1, JobTimeout: 50 * time.Millisecond})

	record, err := h.svc.Intake(context.Background(), sample())
	require.NoError(t, err)
	waitForStatus(t, h.svc, record.ID, storage.StatusError)
}

func TestIntake_QuotaEnforcedBeforeCreate(t *testing.T) {
	p := &fakeProvider{}
	for i := 1; i <= 5; i++ {
		p.voices = append(p.voices, provider.Voice{
			VoiceID: fmt.Sprintf("old_%d", i), Name: "voice", Category: provider.CategoryCloned, CreatedAtUnix: int64(i),
		})
	}
	p.voices = append(p.voices, provider.Voice{VoiceID: "premade", Name: "Rachel", Category: provider.CategoryPremade})
	h := newHarness(t, p, defaultPool())

	record, err := h.svc.Intake(context.Background(), sample())
	require.NoError(t, err)
	waitForStatus(t, h.svc, record.ID, storage.StatusCompleted)

	remaining, err := p.ListVoices(context.Background())
	require.NoError(t, err)
	ids := make([]string, 0, len(remaining))
	for _, v := range remaining {
		ids = append(ids, v.VoiceID)
	}
	assert.ElementsMatch(t, []string{"old_3", "old_4", "old_5", "premade", "cloned_1"}, ids)
}

func TestGetStatus_NotFound(t *testing.T) {
	h := newHarness(t, &fakeProvider{}, defaultPool())

	_, err := h.svc.GetStatus(context.Background(), 404)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteVoice_MarksRecordsDeleted(t *testing.T) {
	h := newHarness(t, &fakeProvider{}, defaultPool())
	ctx := context.Background()

	record, err := h.svc.Intake(ctx, sample())
	require.NoError(t, err)
	done := waitForStatus(t, h.svc, record.ID, storage.StatusCompleted)

	result, err := h.svc.DeleteVoice(ctx, *done.VoiceID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.UpdatedRecords)

	deleted, err := h.svc.GetStatus(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusDeleted, deleted.Status)
	assert.Equal(t, *done.VoiceID, *deleted.VoiceID)

	_, err = h.svc.DeleteVoice(ctx, "bad/id")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCleanup_DefaultKeep(t *testing.T) {
	p := &fakeProvider{}
	for i := 1; i <= 4; i++ {
		p.voices = append(p.voices, provider.Voice{
			VoiceID: fmt.Sprintf("v%d", i), Category: provider.CategoryCloned, CreatedAtUnix: int64(i),
		})
	}
	h := newHarness(t, p, defaultPool())

	result, err := h.svc.Cleanup(context.Background(), -1)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Deleted)
	assert.Equal(t, 2, result.Remaining)
}

func TestShutdown_RejectsNewIntakes(t *testing.T) {
	h := newHarness(t, &fakeProvider{}, defaultPool())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.svc.Shutdown(ctx))

	_, err := h.svc.Intake(context.Background(), sample())
	assert.ErrorIs(t, err, ErrBusy)
}

func TestIntake_BatchPanicKeepsCompleted(t *testing.T) {
	p := &fakeProvider{synthPanic: true}
	h := newHarness(t, p, defaultPool())

	record, err := h.svc.Intake(context.Background(), sample())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.svc.Shutdown(ctx))

	got, err := h.svc.GetStatus(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusCompleted, got.Status)
	require.NotNil(t, got.VoiceID)
	assert.Equal(t, "cloned_1", *got.VoiceID)
	assert.NotContains(t, h.publisher.types(), events.TypeCloneFailed)
	assert.Equal(t, int64(1), h.svc.Stats().Panicked)
}

func TestIntake_CompletionWriteFailureMarksError(t *testing.T) {
	wrap := func(s *storage.IntakeStore) IntakeStore { return failingCompletion{s} }

	for _, tt := range []struct {
		name     string
		provider *fakeProvider
	}{
		{"provider", &fakeProvider{}},
		{"mock", &fakeProvider{unset: true}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarnessWithIntakes(t, tt.provider, defaultPool(), wrap)
			assert.Equal(t, tt.name, h.svc.Mode())

			record, err := h.svc.Intake(context.Background(), sample())
			require.NoError(t, err)

			failed := waitForStatus(t, h.svc, record.ID, storage.StatusError)
			assert.Nil(t, failed.VoiceID)
			require.Eventually(t, func() bool {
				types := h.publisher.types()
				return len(types) == 2 && types[1] == events.TypeCloneFailed
			}, 5*time.Second, 10*time.Millisecond)
		})
	}
}

func TestIntake_LeavesProviderLoggingToClient(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)
	logging.SetLogger(zap.New(core))
	defer logging.SetLogger(nil)

	h := newHarness(t, &fakeProvider{}, defaultPool())
	record, err := h.svc.Intake(context.Background(), sample())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.svc.Shutdown(ctx))

	got, err := h.svc.GetStatus(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusCompleted, got.Status)
	assert.Zero(t, recorded.FilterMessage("Provider operation").Len())
	assert.NotZero(t, recorded.FilterMessage("Clone pipeline").Len())
}

func TestIntake_FailureLogLevel(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		message string
		level   zapcore.Level
	}{
		{"rejected sample", &provider.Error{Operation: "create voice", StatusCode: 422, Message: "bad sample"}, "Provider rejected voice sample", zapcore.WarnLevel},
		{"provider outage", &provider.Error{Operation: "create voice", StatusCode: 503, Message: "unavailable"}, "Voice cloning failed", zapcore.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, recorded := observer.New(zapcore.DebugLevel)
			logging.SetLogger(zap.New(core))
			defer logging.SetLogger(nil)

			h := newHarness(t, &fakeProvider{createErr: tt.err}, defaultPool())
			record, err := h.svc.Intake(context.Background(), sample())
			require.NoError(t, err)
			waitForStatus(t, h.svc, record.ID, storage.StatusError)

			entries := recorded.FilterMessage(tt.message).All()
			require.Len(t, entries, 1)
			assert.Equal(t, tt.level, entries[0].Level)
		})
	}
}
