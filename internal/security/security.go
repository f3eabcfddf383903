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

package security

import (
	"errors"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	// ErrInvalidVoiceID is returned when a voice ID format is invalid
	ErrInvalidVoiceID = errors.New("invalid voice ID")

	// voiceIDPattern validates voice IDs before they are placed in provider URLs
	voiceIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	extensionPattern = regexp.MustCompile(`^\.[a-z0-9]{1,5}$`)
)

// maxVoiceIDLength caps identifiers accepted from clients
const maxVoiceIDLength = 128

// SanitizeLogInput removes newline characters to prevent log injection attacks
// This function should be used for all user-controlled data before logging
func SanitizeLogInput(input string) string {
	sanitized := strings.ReplaceAll(input, "\n", "")
	sanitized = strings.ReplaceAll(sanitized, "\r", "")
	return sanitized
}

// TruncateForLog sanitizes input and shortens it to at most max runes
func TruncateForLog(input string, max int) string {
	sanitized := SanitizeLogInput(input)
	runes := []rune(sanitized)
	if max <= 0 || len(runes) <= max {
		return sanitized
	}
	return string(runes[:max]) + "…"
}

// ValidateVoiceID ensures that a voice ID contains only safe characters
// and prevents path traversal attacks. Only allows alphanumeric ASCII
// characters, dashes, and underscores.
func ValidateVoiceID(voiceID string) error {
	if voiceID == "" || len(voiceID) > maxVoiceIDLength {
		return ErrInvalidVoiceID
	}

	if strings.Contains(voiceID, "/") || strings.Contains(voiceID, "\\") || strings.Contains(voiceID, "..") {
		return ErrInvalidVoiceID
	}

	if !voiceIDPattern.MatchString(voiceID) {
		return ErrInvalidVoiceID
	}

	return nil
}

// SafeExtension returns the lower-cased extension of a client supplied filename,
// or fallback when the extension is missing or contains anything unexpected.
func SafeExtension(filename, fallback string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if !extensionPattern.MatchString(ext) {
		return fallback
	}
	return ext
}
