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

package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loqalabs/loqa-voicemirror/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(config.ProviderConfig{
		APIKey:        "test-key",
		BaseURL:       server.URL + "/",
		Timeout:       5 * time.Second,
		MaxConcurrent: 2,
	})
	require.NoError(t, err)
	return client
}

func TestNewClient_RequiresKey(t *testing.T) {
	_, err := NewClient(config.ProviderConfig{BaseURL: "http://x"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestListVoices(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/voices", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("xi-api-key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"voices":[
			{"voice_id":"p1","name":"Rachel","category":"premade"},
			{"voice_id":"c1","name":"voice_1","category":"cloned","created_at_unix":1700000000}
		]}`))
	})

	voices, err := client.ListVoices(context.Background())
	require.NoError(t, err)
	require.Len(t, voices, 2)
	assert.Equal(t, Voice{VoiceID: "p1", Name: "Rachel", Category: CategoryPremade}, voices[0])
	assert.Equal(t, int64(1700000000), voices[1].CreatedAtUnix)
}

func TestCreateVoice(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/voices/add", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		assert.Equal(t, "voice_123", r.FormValue("name"))
		assert.Equal(t, "Voice clone for VoiceMirror", r.FormValue("description"))

		file, header, err := r.FormFile("files")
		require.NoError(t, err)
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "sample.wav", header.Filename)
		assert.Equal(t, "audio/wav", header.Header.Get("Content-Type"))
		assert.Equal(t, []byte("RIFF"), data)

		_, _ = w.Write([]byte(`{"voice_id":"new-voice"}`))
	})

	id, err := client.CreateVoice(context.Background(), VoiceSample{
		Name:     "voice_123",
		Filename: "sample.wav",
		MimeType: "audio/wav",
		Data:     []byte("RIFF"),
	})
	require.NoError(t, err)
	assert.Equal(t, "new-voice", id)
}

func TestCreateVoice_EmptySample(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("provider must not be called for an empty sample")
	})

	_, err := client.CreateVoice(context.Background(), VoiceSample{Name: "x"})
	assert.Error(t, err)
}

func TestDeleteVoice_ProtectedVoice(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/voices/premade-1", r.URL.Path)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"detail":{"status":"voice_not_deletable","message":"Premade voices cannot be deleted"}}`))
	})

	err := client.DeleteVoice(context.Background(), "premade-1")
	require.Error(t, err)

	perr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, perr.StatusCode)
	assert.Equal(t, "Premade voices cannot be deleted", perr.Message)
	assert.Equal(t, "delete_voice", perr.Operation)
	assert.True(t, IsProtectedVoice(err))
	assert.True(t, IsClientError(err))
}

func TestSynthesize(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/text-to-speech/voice-1", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "audio/mpeg", r.Header.Get("Accept"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Привет", body["text"])
		assert.Equal(t, "eleven_multilingual_v2", body["model_id"])
		assert.Equal(t, "ru", body["language_code"])
		assert.Equal(t, []interface{}{}, body["pronunciation_dictionary_locators"])

		settings := body["voice_settings"].(map[string]interface{})
		assert.InDelta(t, 0.65, settings["stability"], 1e-9)
		assert.InDelta(t, 0.85, settings["similarity_boost"], 1e-9)
		assert.InDelta(t, 0.3, settings["style"], 1e-9)
		assert.Equal(t, true, settings["use_speaker_boost"])

		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3audio"))
	})

	audio, err := client.Synthesize(context.Background(), "Привет", "voice-1", DefaultSynthesisOptions())
	require.NoError(t, err)
	assert.Equal(t, []byte("ID3audio"), audio)
}

func TestSynthesize_ServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("upstream exploded"))
	})

	_, err := client.Synthesize(context.Background(), "text", "voice-1", DefaultSynthesisOptions())
	require.Error(t, err)

	perr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, 500, perr.StatusCode)
	assert.Equal(t, "upstream exploded", perr.Message)
	assert.False(t, IsClientError(err))
	assert.False(t, IsProtectedVoice(err))
}

func TestSynthesize_NoRetry(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := client.Synthesize(context.Background(), "text", "voice-1", DefaultSynthesisOptions())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())

	perr, _ := AsError(err)
	assert.Equal(t, "503 Service Unavailable", perr.Message)
}

func TestSynthesize_CancelledContext(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("audio"))
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Synthesize(ctx, "text", "voice-1", DefaultSynthesisOptions())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig(config.ProviderConfig{
		ModelID:         "eleven_turbo_v2",
		LanguageCode:    "en",
		Stability:       0.5,
		SimilarityBoost: 0.7,
		Style:           0.1,
		SpeakerBoost:    false,
	})

	assert.Equal(t, "eleven_turbo_v2", opts.ModelID)
	assert.Equal(t, "en", opts.LanguageCode)
	assert.Equal(t, VoiceSettings{Stability: 0.5, SimilarityBoost: 0.7, Style: 0.1}, opts.Settings)
}

func TestNullProvider(t *testing.T) {
	var p VoiceProvider = NewNull()
	ctx := context.Background()

	assert.False(t, p.Configured())

	voices, err := p.ListVoices(ctx)
	assert.NoError(t, err)
	assert.Empty(t, voices)

	assert.NoError(t, p.DeleteVoice(ctx, "anything"))

	_, err = p.CreateVoice(ctx, VoiceSample{Data: []byte("x")})
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = p.Synthesize(ctx, "text", "v", DefaultSynthesisOptions())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestIsMockVoice(t *testing.T) {
	assert.True(t, IsMockVoice("mock_voice_7"))
	assert.False(t, IsMockVoice("voice_7"))
	assert.False(t, IsMockVoice(""))
}
