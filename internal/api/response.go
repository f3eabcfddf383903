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
	"encoding/json"
	"errors"
	"net/http"

	"github.com/loqalabs/loqa-voicemirror/internal/logging"
	"github.com/loqalabs/loqa-voicemirror/internal/provider"
	"github.com/loqalabs/loqa-voicemirror/internal/security"
	"github.com/loqalabs/loqa-voicemirror/internal/voice"
	"go.uber.org/zap"
)

// Error codes carried in every error body
const (
	CodeValidation     = "validation_error"
	CodeNotFound       = "not_found"
	CodeVoiceProtected = "voice_protected"
	CodeBusy           = "busy"
	CodeProvider       = "provider_error"
	CodeInternal       = "internal_error"
)

// ErrorBody is the JSON error envelope
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes one failure
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteJSON writes the data structure as JSON.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.LogError(err, "Failed to write JSON response")
	}
}

// WriteError writes an error envelope with an explicit status and code.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, ErrorBody{Error: ErrorDetail{Code: code, Message: message}})
}

// writeServiceError maps a service error to its HTTP status. Internal
// details are logged, not returned.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := classify(err)
	if status >= http.StatusInternalServerError {
		logging.LogError(err, "Request failed",
			zap.String("method", r.Method),
			zap.String("path", security.SanitizeLogInput(r.URL.Path)),
		)
	}
	WriteError(w, status, code, message)
}

func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, voice.ErrValidation), errors.Is(err, security.ErrInvalidVoiceID):
		return http.StatusBadRequest, CodeValidation, err.Error()
	case errors.Is(err, voice.ErrNotFound):
		return http.StatusNotFound, CodeNotFound, err.Error()
	case errors.Is(err, voice.ErrVoiceProtected):
		return http.StatusBadRequest, CodeVoiceProtected, err.Error()
	case errors.Is(err, voice.ErrBusy):
		return http.StatusServiceUnavailable, CodeBusy, voice.ErrBusy.Error()
	}
	if pe, ok := provider.AsError(err); ok {
		return http.StatusInternalServerError, CodeProvider, "voice provider " + pe.Operation + " failed"
	}
	return http.StatusInternalServerError, CodeInternal, "internal server error"
}
