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

package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-voicemirror/internal/api"
	"github.com/loqalabs/loqa-voicemirror/internal/config"
	"github.com/loqalabs/loqa-voicemirror/internal/health"
	"github.com/loqalabs/loqa-voicemirror/internal/logging"
	"github.com/loqalabs/loqa-voicemirror/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("ELEVENLABS_API_KEY", "")
	t.Setenv("VOICEMIRROR_PROVIDER_API_KEY", "")

	cfg, err := config.Load("")
	require.NoError(t, err)

	dir := t.TempDir()
	cfg.Server.UploadsDir = filepath.Join(dir, "uploads")
	cfg.Server.BaseURL = "http://voicemirror.test"
	cfg.Database.Path = filepath.Join(dir, "data", "test.db")
	cfg.Storage.Backend = "local"
	cfg.NATS.Enabled = false
	cfg.Worker.Workers = 2
	cfg.Worker.QueueSize = 4
	cfg.Worker.JobTimeout = 10 * time.Second
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	if err := logging.Initialize(); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}
	t.Cleanup(logging.Close)

	s, err := NewWithOptions(cfg, Options{})
	require.NoError(t, err)
	return s
}

func uploadSample(t *testing.T, h http.Handler) api.UploadResponse {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="me.wav"`)
	header.Set("Content-Type", "audio/wav")
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write([]byte("RIFF....WAVE"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/audio/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp api.UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func getJSON(t *testing.T, h http.Handler, path string, out interface{}) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if out != nil && rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec.Code
}

func TestServer_MockCloneFlow(t *testing.T) {
	s := newTestServer(t, testConfig(t))
	defer func() { assert.NoError(t, s.Stop()) }()
	h := s.Handler()

	uploaded := uploadSample(t, h)
	assert.Equal(t, storage.StatusProcessing, uploaded.Status)
	assert.Contains(t, uploaded.OriginalURL, "http://voicemirror.test/uploads/file_")

	var record storage.IntakeRecord
	require.Eventually(t, func() bool {
		code := getJSON(t, h, fmt.Sprintf("/api/audio/status/%d", uploaded.ID), &record)
		return code == http.StatusOK && record.Status == storage.StatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	require.NotNil(t, record.VoiceID)
	assert.Equal(t, fmt.Sprintf("mock_voice_%d", uploaded.ID), *record.VoiceID)

	var items []api.ChatResponseItem
	require.Equal(t, http.StatusOK, getJSON(t, h, "/api/audio/chat-responses?voiceId="+*record.VoiceID, &items))
	assert.Len(t, items, 5)

	// the stored sample is served back from the uploads dir
	name := uploaded.OriginalURL[len("http://voicemirror.test"):]
	assert.Equal(t, http.StatusOK, getJSON(t, h, name, nil))
}

func TestServer_HealthReport(t *testing.T) {
	s := newTestServer(t, testConfig(t))
	defer func() { assert.NoError(t, s.Stop()) }()

	var report health.Report
	require.Equal(t, http.StatusOK, getJSON(t, s.Handler(), "/health", &report))
	assert.Equal(t, "ok", report.Status)
	assert.Equal(t, "mock", report.Mode)
	assert.True(t, report.Services["database"].Available)
	_, hasProvider := report.Services["provider"]
	assert.False(t, hasProvider, "mock mode registers no provider probe")
}

func TestServer_StatusNotFound(t *testing.T) {
	s := newTestServer(t, testConfig(t))
	defer func() { assert.NoError(t, s.Stop()) }()

	assert.Equal(t, http.StatusNotFound, getJSON(t, s.Handler(), "/api/audio/status/999", nil))
}

func TestNewWithOptions_InvalidStorageBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = "ftp"

	_, err := NewWithOptions(cfg, Options{})
	assert.Error(t, err)
}

func TestServer_StartStop(t *testing.T) {
	cfg := testConfig(t)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	s := newTestServer(t, cfg)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	url := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, s.Stop())
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func TestServer_StopCheckpointsDatabase(t *testing.T) {
	cfg := testConfig(t)
	s := newTestServer(t, cfg)
	uploadSample(t, s.Handler())

	core, recorded := observer.New(zapcore.DebugLevel)
	logging.SetLogger(zap.New(core))
	defer logging.SetLogger(nil)

	require.NoError(t, s.Stop())

	var checkpoints int
	for _, entry := range recorded.FilterMessage("Database operation").All() {
		if entry.ContextMap()["operation"] == "checkpoint" {
			checkpoints++
			assert.Equal(t, cfg.Database.Path, entry.ContextMap()["path"])
		}
	}
	assert.Equal(t, 1, checkpoints)
}
