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

package quota

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/loqalabs/loqa-voicemirror/internal/config"
	"github.com/loqalabs/loqa-voicemirror/internal/events"
	"github.com/loqalabs/loqa-voicemirror/internal/logging"
	"github.com/loqalabs/loqa-voicemirror/internal/messaging"
	"github.com/loqalabs/loqa-voicemirror/internal/provider"
	"github.com/loqalabs/loqa-voicemirror/internal/security"
	"github.com/loqalabs/loqa-voicemirror/internal/storage"
	"go.uber.org/zap"
)

// ProviderVoiceLimit is the voice slot count of the provider's free tier,
// reported alongside listings.
const ProviderVoiceLimit = 10

// ErrVoiceProtected is returned when the provider refuses to delete a voice
// (system voice or voice in use).
var ErrVoiceProtected = errors.New("voice cannot be deleted")

// RecordStore is the part of the intake store the manager reconciles against.
type RecordStore interface {
	MarkVoiceDeleted(ctx context.Context, voiceID string) (int64, error)
	ListCompleted(ctx context.Context) ([]*storage.IntakeRecord, error)
}

// CleanupResult summarizes an on-demand cleanup.
type CleanupResult struct {
	Deleted   int    `json:"deleted"`
	Remaining int    `json:"remaining"`
	Total     int    `json:"total"`
	Message   string `json:"message"`
}

// DeleteResult summarizes a single voice deletion.
type DeleteResult struct {
	VoiceID        string `json:"voiceId,omitempty"`
	UpdatedRecords int64  `json:"updatedRecords"`
	Message        string `json:"message"`
}

// VoiceInfo is a remote voice joined with the local record that created it.
type VoiceInfo struct {
	provider.Voice
	DBID        *int64     `json:"dbId,omitempty"`
	CreatedAt   *time.Time `json:"createdAt,omitempty"`
	OriginalURL string     `json:"originalUrl,omitempty"`
}

// VoiceListing is the admin view of the provider account.
type VoiceListing struct {
	Voices  []VoiceInfo `json:"voices"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Message string      `json:"message"`
}

// Manager keeps the number of custom voices on the provider account
// below the configured ceiling and reconciles local records on eviction.
type Manager struct {
	provider  provider.VoiceProvider
	records   RecordStore
	publisher messaging.Publisher
	ceiling   int
	floor     int
	marker    string
}

// NewManager creates a quota manager. A nil publisher disables events.
func NewManager(p provider.VoiceProvider, records RecordStore, publisher messaging.Publisher, cfg config.QuotaConfig) *Manager {
	if publisher == nil {
		publisher = messaging.NopPublisher{}
	}
	return &Manager{
		provider:  p,
		records:   records,
		publisher: publisher,
		ceiling:   cfg.Ceiling,
		floor:     cfg.Floor,
		marker:    cfg.NameMarker,
	}
}

// Eligible reports whether v may be evicted. Premade voices never are.
func (m *Manager) Eligible(v provider.Voice) bool {
	if v.Category == provider.CategoryCloned || v.Category == provider.CategoryGenerated {
		return true
	}
	return m.marker != "" && strings.Contains(v.Name, m.marker)
}

// eligibleOldestFirst filters voices and orders them oldest first. Voices
// are sorted by creation time only when every candidate carries one;
// otherwise the provider's listing order is kept.
func (m *Manager) eligibleOldestFirst(voices []provider.Voice) []provider.Voice {
	eligible := make([]provider.Voice, 0, len(voices))
	timestamped := true
	for _, v := range voices {
		if !m.Eligible(v) {
			continue
		}
		if v.CreatedAtUnix == 0 {
			timestamped = false
		}
		eligible = append(eligible, v)
	}

	if timestamped {
		sort.SliceStable(eligible, func(i, j int) bool {
			return eligible[i].CreatedAtUnix < eligible[j].CreatedAtUnix
		})
	}
	return eligible
}

// EnforceCapacity evicts the oldest custom voices when the ceiling is
// reached, leaving the floor count. It is best-effort: failures are
// logged and never returned, so intake always proceeds.
func (m *Manager) EnforceCapacity(ctx context.Context) {
	voices, err := m.provider.ListVoices(ctx)
	if err != nil {
		logging.LogError(err, "Failed to list voices for quota enforcement")
		return
	}

	eligible := m.eligibleOldestFirst(voices)
	logging.LogQuotaAction("inspect",
		zap.Int("total", len(voices)),
		zap.Int("custom", len(eligible)),
		zap.Int("ceiling", m.ceiling),
	)
	excess := len(eligible) - m.floor
	if len(eligible) < m.ceiling || excess <= 0 {
		return
	}

	deleted := m.evict(ctx, eligible[:excess])
	logging.LogQuotaAction("enforced",
		zap.Int("deleted", deleted),
		zap.Int("remaining", len(eligible)-deleted),
	)
}

// Cleanup evicts all but the keep newest custom voices.
func (m *Manager) Cleanup(ctx context.Context, keep int) (*CleanupResult, error) {
	if !m.provider.Configured() {
		return &CleanupResult{Message: provider.ErrNotConfigured.Error()}, nil
	}
	if keep < 0 {
		keep = 0
	}

	voices, err := m.provider.ListVoices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list voices: %w", err)
	}
	eligible := m.eligibleOldestFirst(voices)

	if len(eligible) <= keep {
		return &CleanupResult{
			Deleted:   0,
			Remaining: len(eligible),
			Total:     len(voices),
			Message:   "not enough custom voices to clean up",
		}, nil
	}

	deleted := m.evict(ctx, eligible[:len(eligible)-keep])
	logging.LogQuotaAction("cleanup", zap.Int("keep", keep), zap.Int("deleted", deleted))

	return &CleanupResult{
		Deleted:   deleted,
		Remaining: len(eligible) - deleted,
		Total:     len(voices),
		Message:   fmt.Sprintf("deleted %d custom voices", deleted),
	}, nil
}

// evict deletes each voice in turn, skipping failures, and returns the
// number actually deleted.
func (m *Manager) evict(ctx context.Context, victims []provider.Voice) int {
	deleted := 0
	for _, v := range victims {
		if err := ctx.Err(); err != nil {
			logging.LogWarn("Quota eviction interrupted", zap.Error(err))
			break
		}
		if err := m.provider.DeleteVoice(ctx, v.VoiceID); err != nil {
			logging.LogWarn("Failed to delete voice, skipping",
				zap.String("voice_id", v.VoiceID),
				zap.String("name", security.SanitizeLogInput(v.Name)),
				zap.Error(err),
			)
			continue
		}
		deleted++
		m.reconcile(ctx, v.VoiceID)
		logging.LogQuotaAction("evicted",
			zap.String("voice_id", v.VoiceID),
			zap.String("name", security.SanitizeLogInput(v.Name)),
		)
	}
	return deleted
}

// reconcile marks local records of a removed voice deleted and announces it.
func (m *Manager) reconcile(ctx context.Context, voiceID string) int64 {
	updated, err := m.records.MarkVoiceDeleted(ctx, voiceID)
	if err != nil {
		logging.LogError(err, "Failed to mark records deleted", zap.String("voice_id", voiceID))
	}

	event := events.NewCloneEvent(events.TypeVoiceDeleted, 0).
		WithVoice(voiceID).
		WithStatus(string(storage.StatusDeleted)).
		WithCount(int(updated))
	if err := m.publisher.Publish(event); err != nil {
		logging.LogWarn("Failed to publish voice deletion", zap.String("voice_id", voiceID), zap.Error(err))
	}
	return updated
}

// DeleteVoice removes one voice from the provider and marks the records
// that reference it deleted. A provider 400 means the voice is protected.
func (m *Manager) DeleteVoice(ctx context.Context, voiceID string) (*DeleteResult, error) {
	if !m.provider.Configured() {
		return &DeleteResult{Message: provider.ErrNotConfigured.Error()}, nil
	}
	if err := security.ValidateVoiceID(voiceID); err != nil {
		return nil, err
	}

	if err := m.provider.DeleteVoice(ctx, voiceID); err != nil {
		if provider.IsProtectedVoice(err) {
			return nil, fmt.Errorf("%w: %s may be a system voice or in use: %v", ErrVoiceProtected, voiceID, err)
		}
		return nil, fmt.Errorf("failed to delete voice %s: %w", voiceID, err)
	}

	updated := m.reconcile(ctx, voiceID)
	logging.LogQuotaAction("deleted", zap.String("voice_id", voiceID), zap.Int64("updated_records", updated))

	return &DeleteResult{
		VoiceID:        voiceID,
		UpdatedRecords: updated,
		Message:        fmt.Sprintf("voice %s deleted", voiceID),
	}, nil
}

// ListVoices returns every remote voice joined with its completed local
// record, if any.
func (m *Manager) ListVoices(ctx context.Context) (*VoiceListing, error) {
	if !m.provider.Configured() {
		return &VoiceListing{
			Voices:  []VoiceInfo{},
			Limit:   ProviderVoiceLimit,
			Message: provider.ErrNotConfigured.Error(),
		}, nil
	}

	voices, err := m.provider.ListVoices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list voices: %w", err)
	}

	records, err := m.records.ListCompleted(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load completed records: %w", err)
	}
	byVoice := make(map[string]*storage.IntakeRecord, len(records))
	for _, r := range records {
		if r.VoiceID == nil {
			continue
		}
		if _, seen := byVoice[*r.VoiceID]; !seen {
			byVoice[*r.VoiceID] = r
		}
	}

	infos := make([]VoiceInfo, 0, len(voices))
	for _, v := range voices {
		info := VoiceInfo{Voice: v}
		if r, ok := byVoice[v.VoiceID]; ok {
			id, created := r.ID, r.CreatedAt
			info.DBID = &id
			info.CreatedAt = &created
			info.OriginalURL = r.OriginalURL
		}
		infos = append(infos, info)
	}

	return &VoiceListing{
		Voices:  infos,
		Total:   len(voices),
		Limit:   ProviderVoiceLimit,
		Message: fmt.Sprintf("found %d of %d available voices", len(voices), ProviderVoiceLimit),
	}, nil
}
