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
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates the chi router. uploadsDir, when set, is served
// under /uploads/.
func NewRouter(h *Handlers, uploadsDir string) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(CORSMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HandleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Route("/audio", func(r chi.Router) {
			r.Post("/upload", h.HandleUploadAudio)
			r.Get("/status/{id}", h.HandleGetStatus)
			r.Get("/chat-responses", h.HandleChatResponses)
			r.Post("/generate-speech", h.HandleGenerateSpeech)
		})

		r.Route("/voices", func(r chi.Router) {
			r.Get("/", h.HandleListVoices)
			r.Post("/cleanup", h.HandleCleanup)
			r.Delete("/{voiceId}", h.HandleDeleteVoice)
		})

		r.Route("/avatar", func(r chi.Router) {
			r.Post("/upload", h.HandleUploadAvatar)
			r.Post("/animate", h.HandleAnimate)
			r.Get("/", h.HandleListAvatars)
			r.Get("/animations/{id}/status", h.HandleAnimationStatus)
			r.Get("/{id}", h.HandleGetAvatar)
			r.Get("/{id}/animations", h.HandleAvatarAnimations)
		})
	})

	if uploadsDir != "" {
		r.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(uploadsDir))))
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, http.StatusNotFound, CodeNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, http.StatusMethodNotAllowed, CodeValidation, "method not allowed")
	})

	return r
}
