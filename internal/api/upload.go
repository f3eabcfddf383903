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
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"
)

const (
	// MaxAudioUpload is the largest accepted voice sample
	MaxAudioUpload = 10 << 20
	// MaxImageUpload is the largest accepted avatar photo
	MaxImageUpload = 5 << 20

	// multipartOverhead leaves room for form fields and part headers
	multipartOverhead = 1 << 20
)

var (
	audioMIMETypes = map[string]bool{
		"audio/wav":  true,
		"audio/mp3":  true,
		"audio/mpeg": true,
		"audio/m4a":  true,
	}
	imageMIMETypes = map[string]bool{
		"image/jpeg": true,
		"image/jpg":  true,
		"image/png":  true,
	}
)

var errUpload = errors.New("invalid upload")

// uploadedFile is one file part read fully into memory
type uploadedFile struct {
	Filename string
	MIMEType string
	Data     []byte
}

// readUpload extracts field from a multipart request and checks its type
// and size.
func readUpload(w http.ResponseWriter, r *http.Request, field string, maxSize int64, allowed map[string]bool) (*uploadedFile, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)
	if err := r.ParseMultipartForm(maxSize + multipartOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("%w: file too large, maximum size is %dMB", errUpload, maxSize>>20)
		}
		return nil, fmt.Errorf("%w: expected multipart/form-data", errUpload)
	}

	file, header, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, fmt.Errorf("%w: %s file is required", errUpload, field)
		}
		return nil, fmt.Errorf("%w: %v", errUpload, err)
	}
	defer func() { _ = file.Close() }()

	mimeType := partMIMEType(header)
	if !allowed[mimeType] {
		return nil, fmt.Errorf("%w: unsupported file type %q, allowed: %s", errUpload, mimeType, allowedList(allowed))
	}
	if header.Size > maxSize {
		return nil, fmt.Errorf("%w: file too large, maximum size is %dMB", errUpload, maxSize>>20)
	}

	data, err := io.ReadAll(io.LimitReader(file, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(data)) > maxSize {
		return nil, fmt.Errorf("%w: file too large, maximum size is %dMB", errUpload, maxSize>>20)
	}

	return &uploadedFile{Filename: header.Filename, MIMEType: mimeType, Data: data}, nil
}

func partMIMEType(header *multipart.FileHeader) string {
	ct := header.Header.Get("Content-Type")
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

func allowedList(allowed map[string]bool) string {
	types := make([]string, 0, len(allowed))
	for t := range allowed {
		types = append(types, t)
	}
	// map order is random; keep messages stable
	sort.Strings(types)
	return strings.Join(types, ", ")
}
