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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/loqalabs/loqa-voicemirror/internal/config"
	"github.com/loqalabs/loqa-voicemirror/internal/logging"
	"go.uber.org/zap"
)

// Header carrying the provider credential
const apiKeyHeader = "xi-api-key"

// voiceDescription is attached to every voice created by this service
const voiceDescription = "Voice clone for VoiceMirror"

type listVoicesResponse struct {
	Voices []Voice `json:"voices"`
}

type addVoiceResponse struct {
	VoiceID string `json:"voice_id"`
}

type speechRequest struct {
	Text                            string        `json:"text"`
	ModelID                         string        `json:"model_id"`
	VoiceSettings                   VoiceSettings `json:"voice_settings"`
	LanguageCode                    string        `json:"language_code,omitempty"`
	PronunciationDictionaryLocators []string      `json:"pronunciation_dictionary_locators"`
}

// errorBody matches the provider's {"detail": {...}} error envelope
type errorBody struct {
	Detail struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"detail"`
}

// Client implements VoiceProvider against the ElevenLabs REST API
type Client struct {
	baseURL   string
	apiKey    string
	client    *http.Client
	semaphore chan struct{} // Limits concurrent requests
}

// NewClient creates a provider client from configuration
func NewClient(cfg config.ProviderConfig) (*Client, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("provider base URL cannot be empty")
	}

	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	c := &Client{
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		client:    &http.Client{Timeout: cfg.Timeout},
		semaphore: make(chan struct{}, maxConcurrent),
	}

	if logging.Sugar != nil {
		logging.Sugar.Infow("🔊 Voice provider client initialized",
			"url", c.baseURL,
			"max_concurrent", maxConcurrent,
			"timeout", cfg.Timeout,
		)
	}

	return c, nil
}

// Configured always reports true for the real client
func (c *Client) Configured() bool { return true }

// ListVoices returns every voice visible to the account, in provider order
func (c *Client) ListVoices(ctx context.Context) ([]Voice, error) {
	start := time.Now()

	body, err := c.do(ctx, "list_voices", http.MethodGet, "/voices", nil, "")
	if err != nil {
		return nil, err
	}

	var result listVoicesResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode voices response: %w", err)
	}

	logging.LogProviderOperation("list_voices", time.Since(start), zap.Int("count", len(result.Voices)))
	return result.Voices, nil
}

// CreateVoice uploads a sample and returns the new voice ID
func (c *Client) CreateVoice(ctx context.Context, sample VoiceSample) (string, error) {
	if len(sample.Data) == 0 {
		return "", fmt.Errorf("voice sample cannot be empty")
	}
	start := time.Now()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	description := sample.Description
	if description == "" {
		description = voiceDescription
	}
	if err := writer.WriteField("name", sample.Name); err != nil {
		return "", fmt.Errorf("failed to write name field: %w", err)
	}
	if err := writer.WriteField("description", description); err != nil {
		return "", fmt.Errorf("failed to write description field: %w", err)
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, sample.Filename))
	mimeType := sample.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	header.Set("Content-Type", mimeType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(sample.Data); err != nil {
		return "", fmt.Errorf("failed to copy sample data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	body, err := c.do(ctx, "create_voice", http.MethodPost, "/voices/add", &buf, writer.FormDataContentType())
	if err != nil {
		return "", err
	}

	var result addVoiceResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to decode create voice response: %w", err)
	}
	if result.VoiceID == "" {
		return "", fmt.Errorf("provider returned an empty voice ID")
	}

	logging.LogProviderOperation("create_voice", time.Since(start),
		zap.String("voice_id", result.VoiceID),
		zap.String("name", sample.Name),
		zap.Int("sample_bytes", len(sample.Data)),
	)
	return result.VoiceID, nil
}

// DeleteVoice removes a voice from the account
func (c *Client) DeleteVoice(ctx context.Context, voiceID string) error {
	start := time.Now()

	if _, err := c.do(ctx, "delete_voice", http.MethodDelete, "/voices/"+url.PathEscape(voiceID), nil, ""); err != nil {
		return err
	}

	logging.LogProviderOperation("delete_voice", time.Since(start), zap.String("voice_id", voiceID))
	return nil
}

// Synthesize renders text with the given voice and returns MP3 bytes
func (c *Client) Synthesize(ctx context.Context, text, voiceID string, opts SynthesisOptions) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}
	start := time.Now()

	payload, err := json.Marshal(speechRequest{
		Text:                            text,
		ModelID:                         opts.ModelID,
		VoiceSettings:                   opts.Settings,
		LanguageCode:                    opts.LanguageCode,
		PronunciationDictionaryLocators: []string{},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal speech request: %w", err)
	}

	audio, err := c.do(ctx, "synthesize", http.MethodPost, "/text-to-speech/"+url.PathEscape(voiceID),
		bytes.NewReader(payload), "application/json")
	if err != nil {
		return nil, err
	}

	logging.LogProviderOperation("synthesize", time.Since(start),
		zap.String("voice_id", voiceID),
		zap.Int("text_length", len([]rune(text))),
		zap.Int("audio_bytes", len(audio)),
	)
	return audio, nil
}

// Close releases idle connections
func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// do performs one request and returns the response body for 2xx answers
func (c *Client) do(ctx context.Context, operation, method, path string, body io.Reader, contentType string) ([]byte, error) {
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return nil, fmt.Errorf("provider %s: %w", operation, ctx.Err())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.Header.Set(apiKeyHeader, c.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if operation == "synthesize" {
		req.Header.Set("Accept", "audio/mpeg")
	} else {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		logging.LogError(err, "Provider HTTP request failed", zap.String("operation", operation))
		return nil, fmt.Errorf("provider %s request failed: %w", operation, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read provider response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		perr := &Error{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(respBody, resp.Status),
		}
		logging.LogWarn("Provider request failed",
			zap.String("operation", operation),
			zap.Int("status_code", resp.StatusCode),
			zap.String("message", perr.Message),
		)
		return nil, perr
	}

	return respBody, nil
}

// errorMessage prefers the provider's structured detail message over the raw body
func errorMessage(body []byte, status string) string {
	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Detail.Message != "" {
		return parsed.Detail.Message
	}
	if msg := strings.TrimSpace(string(body)); msg != "" {
		return msg
	}
	return status
}

// OptionsFromConfig builds synthesis options from the provider configuration
func OptionsFromConfig(cfg config.ProviderConfig) SynthesisOptions {
	opts := DefaultSynthesisOptions()
	if cfg.ModelID != "" {
		opts.ModelID = cfg.ModelID
	}
	if cfg.LanguageCode != "" {
		opts.LanguageCode = cfg.LanguageCode
	}
	opts.Settings = VoiceSettings{
		Stability:       cfg.Stability,
		SimilarityBoost: cfg.SimilarityBoost,
		Style:           cfg.Style,
		UseSpeakerBoost: cfg.SpeakerBoost,
	}
	return opts
}
