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

package audiostore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-voicemirror/internal/config"
	"github.com/loqalabs/loqa-voicemirror/internal/security"
)

// ErrInvalidName is returned when an object name would escape the store root.
var ErrInvalidName = errors.New("audiostore: invalid object name")

// Store persists rendered audio and returns a publicly reachable locator.
type Store interface {
	Save(ctx context.Context, name string, data []byte, contentType string) (string, error)
	Backend() string
}

// New returns the store selected by cfg.Storage.Backend.
func New(cfg *config.Config) (Store, error) {
	switch cfg.Storage.Backend {
	case "", "local":
		return NewLocal(cfg.Server.UploadsDir, cfg.Server.BaseURL)
	case "s3":
		return NewS3FromConfig(cfg.Storage.S3)
	default:
		return nil, fmt.Errorf("audiostore: unknown backend %q", cfg.Storage.Backend)
	}
}

// UniqueName builds "<prefix>_<uuid><ext>".
func UniqueName(prefix, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return prefix + "_" + uuid.NewString() + ext
}

// UploadName builds a collision-resistant name for a client upload,
// keeping a sanitized extension from the original filename.
func UploadName(prefix, originalFilename, fallbackExt string) string {
	return UniqueName(prefix, security.SafeExtension(originalFilename, fallbackExt))
}

func validName(name string) bool {
	if name == "" || strings.Contains(name, "..") || strings.HasPrefix(name, "/") {
		return false
	}
	return !strings.ContainsAny(name, "\\\x00")
}
