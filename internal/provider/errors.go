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
	"errors"
	"fmt"
	"net/http"
)

// Error is returned when the provider answers with a non-success status
type Error struct {
	Operation  string
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s failed (status %d): %s", e.Operation, e.StatusCode, e.Message)
}

// AsError extracts a provider *Error from err
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsClientError reports whether the provider rejected the request itself (4xx)
func IsClientError(err error) bool {
	pe, ok := AsError(err)
	return ok && pe.StatusCode >= 400 && pe.StatusCode < 500
}

// IsProtectedVoice reports whether a delete was refused because the voice is
// a system voice or still in use. The provider signals this with a 400.
func IsProtectedVoice(err error) bool {
	pe, ok := AsError(err)
	return ok && pe.StatusCode == http.StatusBadRequest
}
