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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/loqalabs/loqa-voicemirror/internal/api"
	"github.com/loqalabs/loqa-voicemirror/internal/quota"
	"github.com/loqalabs/loqa-voicemirror/internal/storage"
)

// Client talks to a running VoiceMirror service
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the service at baseURL
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: timeout}}
}

// ListVoices fetches the provider voice listing
func (c *Client) ListVoices(ctx context.Context) (*quota.VoiceListing, error) {
	var listing quota.VoiceListing
	if err := c.do(ctx, http.MethodGet, "/api/voices", &listing); err != nil {
		return nil, err
	}
	return &listing, nil
}

// Cleanup evicts custom voices, keeping keep newest. A negative keep uses
// the service default.
func (c *Client) Cleanup(ctx context.Context, keep int) (*quota.CleanupResult, error) {
	path := "/api/voices/cleanup"
	if keep >= 0 {
		path += "?keep=" + strconv.Itoa(keep)
	}
	var result quota.CleanupResult
	if err := c.do(ctx, http.MethodPost, path, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DeleteVoice deletes one remote voice
func (c *Client) DeleteVoice(ctx context.Context, voiceID string) (*quota.DeleteResult, error) {
	var result quota.DeleteResult
	if err := c.do(ctx, http.MethodDelete, "/api/voices/"+url.PathEscape(voiceID), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Status fetches one intake record
func (c *Client) Status(ctx context.Context, id int64) (*storage.IntakeRecord, error) {
	var record storage.IntakeRecord
	if err := c.do(ctx, http.MethodGet, "/api/audio/status/"+strconv.FormatInt(id, 10), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Responses lists rendered canned answers, optionally for one voice
func (c *Client) Responses(ctx context.Context, voiceID string) ([]api.ChatResponseItem, error) {
	path := "/api/audio/chat-responses"
	if voiceID != "" {
		path += "?voiceId=" + url.QueryEscape(voiceID)
	}
	var items []api.ChatResponseItem
	if err := c.do(ctx, http.MethodGet, path, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) do(ctx context.Context, method, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var body api.ErrorBody
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &body) == nil && body.Error.Message != "" {
			return fmt.Errorf("API returned status %d: %s", resp.StatusCode, body.Error.Message)
		}
		return fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
