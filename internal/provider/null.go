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

import "context"

// Null stands in for the provider when no API key is configured.
// Listings are empty and deletes are no-ops so quota administration
// degrades to reporting nothing to do.
type Null struct{}

// NewNull returns the offline provider
func NewNull() *Null { return &Null{} }

// Configured reports false
func (Null) Configured() bool { return false }

// ListVoices returns no voices
func (Null) ListVoices(context.Context) ([]Voice, error) { return nil, nil }

// CreateVoice always fails with ErrNotConfigured
func (Null) CreateVoice(context.Context, VoiceSample) (string, error) {
	return "", ErrNotConfigured
}

// DeleteVoice has nothing to delete
func (Null) DeleteVoice(context.Context, string) error { return nil }

// Synthesize always fails with ErrNotConfigured
func (Null) Synthesize(context.Context, string, string, SynthesisOptions) ([]byte, error) {
	return nil, ErrNotConfigured
}

var (
	_ VoiceProvider = (*Client)(nil)
	_ VoiceProvider = Null{}
)
