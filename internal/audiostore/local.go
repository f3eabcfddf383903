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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/loqalabs/loqa-voicemirror/internal/logging"
	"go.uber.org/zap"
)

// Local writes objects into the uploads directory that the HTTP server
// exposes under /uploads/.
type Local struct {
	root    string
	baseURL string
}

// NewLocal creates the directory if needed.
func NewLocal(dir, baseURL string) (*Local, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("audiostore: resolve %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("audiostore: create %s: %w", abs, err)
	}
	return &Local{root: abs, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Save writes data atomically and returns BASE_URL/uploads/<name>.
func (l *Local) Save(ctx context.Context, name string, data []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !validName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	full := filepath.Join(l.root, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("audiostore: mkdir: %w", err)
	}

	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("audiostore: write %s: %w", name, err)
	}
	if err := os.Rename(tmp, full); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("audiostore: rename %s: %w", name, err)
	}

	if logging.Sugar != nil {
		logging.Sugar.Debugw("Stored audio object",
			zap.String("backend", "local"),
			zap.String("name", name),
			zap.Int("bytes", len(data)),
		)
	}
	return l.URL(name), nil
}

// URL is the public locator for name.
func (l *Local) URL(name string) string {
	return l.baseURL + "/uploads/" + name
}

// Root is the absolute uploads directory.
func (l *Local) Root() string { return l.root }

func (l *Local) Backend() string { return "local" }
