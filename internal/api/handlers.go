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

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/loqalabs/loqa-voicemirror/internal/audiostore"
	"github.com/loqalabs/loqa-voicemirror/internal/avatar"
	"github.com/loqalabs/loqa-voicemirror/internal/health"
	"github.com/loqalabs/loqa-voicemirror/internal/quota"
	"github.com/loqalabs/loqa-voicemirror/internal/responses"
	"github.com/loqalabs/loqa-voicemirror/internal/storage"
	"github.com/loqalabs/loqa-voicemirror/internal/voice"
)

// maxJSONBody bounds JSON request bodies
const maxJSONBody = 64 << 10

// VoiceService is the voice orchestration surface the handlers need
type VoiceService interface {
	Intake(ctx context.Context, sample voice.Sample) (*storage.IntakeRecord, error)
	GetStatus(ctx context.Context, id int64) (*storage.IntakeRecord, error)
	ChatResponses(ctx context.Context, voiceID string) ([]*storage.ChatResponse, error)
	Respond(ctx context.Context, text, voiceID string) (*responses.Speech, error)
	ListVoices(ctx context.Context) (*quota.VoiceListing, error)
	Cleanup(ctx context.Context, keep int) (*quota.CleanupResult, error)
	DeleteVoice(ctx context.Context, voiceID string) (*quota.DeleteResult, error)
}

// AvatarService is the avatar surface the handlers need
type AvatarService interface {
	Create(ctx context.Context, name, imageURL, description string) (*storage.Avatar, error)
	List(ctx context.Context) ([]*storage.Avatar, error)
	Get(ctx context.Context, id int64) (*storage.Avatar, error)
	Animate(ctx context.Context, req avatar.AnimateRequest) (*storage.AvatarAnimation, error)
	Animation(ctx context.Context, id int64) (*storage.AvatarAnimation, error)
	Animations(ctx context.Context, avatarID int64) ([]*storage.AvatarAnimation, error)
}

// HealthReporter returns the latest health report
type HealthReporter interface {
	Report() health.Report
}

// Handlers holds the HTTP handlers and their dependencies
type Handlers struct {
	voices  VoiceService
	avatars AvatarService
	uploads audiostore.Store
	health  HealthReporter
}

// NewHandlers creates handlers. uploads receives the raw client files.
func NewHandlers(voices VoiceService, avatars AvatarService, uploads audiostore.Store, health HealthReporter) *Handlers {
	return &Handlers{voices: voices, avatars: avatars, uploads: uploads, health: health}
}

// UploadResponse acknowledges an accepted voice sample
type UploadResponse struct {
	ID          int64                `json:"id"`
	OriginalURL string               `json:"originalUrl"`
	Status      storage.IntakeStatus `json:"status"`
	Message     string               `json:"message"`
}

// ChatResponseItem is the client view of a rendered canned answer
type ChatResponseItem struct {
	ID       int64  `json:"id"`
	Question string `json:"question"`
	AudioURL string `json:"audioUrl"`
}

// GenerateSpeechRequest asks for ad-hoc synthesis
type GenerateSpeechRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voiceId"`
}

// HandleUploadAudio accepts a voice sample and schedules cloning.
func (h *Handlers) HandleUploadAudio(w http.ResponseWriter, r *http.Request) {
	file, err := readUpload(w, r, "file", MaxAudioUpload, audioMIMETypes)
	if err != nil {
		writeUploadError(w, r, err)
		return
	}

	url, err := h.uploads.Save(r.Context(), audiostore.UploadName("file", file.Filename, ".wav"), file.Data, file.MIMEType)
	if err != nil {
		writeServiceError(w, r, fmt.Errorf("failed to store upload: %w", err))
		return
	}

	record, err := h.voices.Intake(r.Context(), voice.Sample{
		OriginalURL: url,
		Filename:    file.Filename,
		MimeType:    file.MIMEType,
		Data:        file.Data,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	WriteJSON(w, http.StatusOK, UploadResponse{
		ID:          record.ID,
		OriginalURL: record.OriginalURL,
		Status:      storage.StatusProcessing,
		Message:     "Audio uploaded, voice cloning in progress",
	})
}

// HandleGetStatus returns an intake record.
func (h *Handlers) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	record, err := h.voices.GetStatus(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, record)
}

// HandleChatResponses lists rendered canned answers, optionally for one voice.
func (h *Handlers) HandleChatResponses(w http.ResponseWriter, r *http.Request) {
	items, err := h.voices.ChatResponses(r.Context(), r.URL.Query().Get("voiceId"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	out := make([]ChatResponseItem, 0, len(items))
	for _, item := range items {
		out = append(out, ChatResponseItem{ID: item.ID, Question: item.Question, AudioURL: item.AudioURL})
	}
	WriteJSON(w, http.StatusOK, out)
}

// HandleGenerateSpeech synthesizes free text in a cloned voice.
func (h *Handlers) HandleGenerateSpeech(w http.ResponseWriter, r *http.Request) {
	var req GenerateSpeechRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	speech, err := h.voices.Respond(r.Context(), req.Text, req.VoiceID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, speech)
}

// HandleListVoices lists provider voices joined with local records.
func (h *Handlers) HandleListVoices(w http.ResponseWriter, r *http.Request) {
	listing, err := h.voices.ListVoices(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, listing)
}

// HandleCleanup evicts the oldest custom voices, keeping ?keep= newest.
func (h *Handlers) HandleCleanup(w http.ResponseWriter, r *http.Request) {
	keep := -1
	if raw := r.URL.Query().Get("keep"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			WriteError(w, http.StatusBadRequest, CodeValidation, "keep must be a non-negative integer")
			return
		}
		keep = n
	}

	result, err := h.voices.Cleanup(r.Context(), keep)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// HandleDeleteVoice deletes one remote voice.
func (h *Handlers) HandleDeleteVoice(w http.ResponseWriter, r *http.Request) {
	result, err := h.voices.DeleteVoice(r.Context(), chi.URLParam(r, "voiceId"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// HandleUploadAvatar stores a face photo and creates an avatar.
func (h *Handlers) HandleUploadAvatar(w http.ResponseWriter, r *http.Request) {
	file, err := readUpload(w, r, "image", MaxImageUpload, imageMIMETypes)
	if err != nil {
		writeUploadError(w, r, err)
		return
	}

	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		WriteError(w, http.StatusBadRequest, CodeValidation, "name is required")
		return
	}

	url, err := h.uploads.Save(r.Context(), audiostore.UploadName("image", file.Filename, ".jpg"), file.Data, file.MIMEType)
	if err != nil {
		writeServiceError(w, r, fmt.Errorf("failed to store upload: %w", err))
		return
	}

	created, err := h.avatars.Create(r.Context(), name, url, r.FormValue("description"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, created)
}

// HandleListAvatars lists avatars, newest first.
func (h *Handlers) HandleListAvatars(w http.ResponseWriter, r *http.Request) {
	list, err := h.avatars.List(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, nonNil(list))
}

// HandleGetAvatar returns one avatar.
func (h *Handlers) HandleGetAvatar(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	found, err := h.avatars.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, found)
}

// HandleAnimate pairs an avatar with speech.
func (h *Handlers) HandleAnimate(w http.ResponseWriter, r *http.Request) {
	var req avatar.AnimateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	animation, err := h.avatars.Animate(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, animation)
}

// HandleAnimationStatus returns one animation.
func (h *Handlers) HandleAnimationStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	animation, err := h.avatars.Animation(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, animation)
}

// HandleAvatarAnimations lists an avatar's animations, newest first.
func (h *Handlers) HandleAvatarAnimations(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	list, err := h.avatars.Animations(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, nonNil(list))
}

// HandleHealth reports service health. A degraded service still answers 200.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if h.health == nil {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	WriteJSON(w, http.StatusOK, h.health.Report())
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	raw := chi.URLParam(r, param)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		WriteError(w, http.StatusBadRequest, CodeValidation, fmt.Sprintf("%s must be a positive integer", param))
		return 0, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		msg := "invalid JSON body"
		if errors.Is(err, io.EOF) {
			msg = "request body is required"
		}
		WriteError(w, http.StatusBadRequest, CodeValidation, msg)
		return false
	}
	return true
}

func writeUploadError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errUpload) {
		WriteError(w, http.StatusBadRequest, CodeValidation, err.Error())
		return
	}
	writeServiceError(w, r, err)
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
