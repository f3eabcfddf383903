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

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/loqalabs/loqa-voicemirror/internal/api"
	"github.com/loqalabs/loqa-voicemirror/internal/audiostore"
	"github.com/loqalabs/loqa-voicemirror/internal/avatar"
	"github.com/loqalabs/loqa-voicemirror/internal/config"
	"github.com/loqalabs/loqa-voicemirror/internal/health"
	"github.com/loqalabs/loqa-voicemirror/internal/logging"
	"github.com/loqalabs/loqa-voicemirror/internal/messaging"
	"github.com/loqalabs/loqa-voicemirror/internal/provider"
	"github.com/loqalabs/loqa-voicemirror/internal/quota"
	"github.com/loqalabs/loqa-voicemirror/internal/responses"
	"github.com/loqalabs/loqa-voicemirror/internal/storage"
	"github.com/loqalabs/loqa-voicemirror/internal/voice"
	"github.com/loqalabs/loqa-voicemirror/internal/worker"
)

const (
	httpShutdownTimeout = 30 * time.Second
	drainTimeout        = 30 * time.Second
	checkpointTimeout   = 5 * time.Second
)

// Server owns every long-lived component of the VoiceMirror service
type Server struct {
	cfg    *config.Config
	server *http.Server

	db        *storage.Database
	pool      *worker.Pool
	publisher messaging.Publisher
	voices    *voice.Service
	avatars   *avatar.Service
	checker   *health.Checker

	// Server context for background services
	ctx    context.Context
	cancel context.CancelFunc
}

// Options tune construction, mostly for tests
type Options struct {
	// Provider overrides the provider built from configuration
	Provider provider.VoiceProvider
	// EnableHealthChecks starts the periodic health probes
	EnableHealthChecks bool
}

// New creates a server from configuration
func New(cfg *config.Config) (*Server, error) {
	return NewWithOptions(cfg, Options{EnableHealthChecks: true})
}

// NewWithOptions creates a server with the given options
func NewWithOptions(cfg *config.Config, opts Options) (*Server, error) {
	db, err := storage.NewDatabase(storage.DatabaseConfig{Path: cfg.Database.Path})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	audio, err := audiostore.New(cfg)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create audio store: %w", err)
	}

	// client uploads are always served locally under /uploads/
	uploads, err := audiostore.NewLocal(cfg.Server.UploadsDir, cfg.Server.BaseURL)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create uploads store: %w", err)
	}

	script, err := responses.LoadScript(cfg.Responses.ScriptFile)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to load response script: %w", err)
	}

	voiceProvider := opts.Provider
	if voiceProvider == nil {
		voiceProvider, err = buildProvider(cfg.Provider)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	intakes := storage.NewIntakeStore(db)
	chatResponses := storage.NewChatResponseStore(db)
	publisher := messaging.NewPublisher(cfg.NATS)
	pool := worker.NewPool(worker.Config{
		Workers:    cfg.Worker.Workers,
		QueueSize:  cfg.Worker.QueueSize,
		JobTimeout: cfg.Worker.JobTimeout,
	})

	generator := responses.NewGenerator(responses.Config{
		Provider:  voiceProvider,
		Audio:     audio,
		Responses: chatResponses,
		Intakes:   intakes,
		Script:    script,
		Options:   provider.OptionsFromConfig(cfg.Provider),
		BaseURL:   cfg.Server.BaseURL,
	})

	voices := voice.New(voice.Deps{
		Intakes:     intakes,
		Responses:   chatResponses,
		Provider:    voiceProvider,
		Quota:       quota.NewManager(voiceProvider, intakes, publisher, cfg.Quota),
		Generator:   generator,
		Pool:        pool,
		Publisher:   publisher,
		Strict:      cfg.Quota.Strict,
		CleanupKeep: cfg.Quota.CleanupKeep,
	})
	avatars := avatar.NewService(storage.NewAvatarStore(db), voices, audio)

	s := &Server{
		cfg:       cfg,
		db:        db,
		pool:      pool,
		publisher: publisher,
		voices:    voices,
		avatars:   avatars,
		checker:   health.NewChecker(voices.Mode(), voices.Stats),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.registerProbes(voiceProvider)

	handlers := api.NewHandlers(voices, avatars, uploads, s.checker)
	s.server = &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:      api.NewRouter(handlers, cfg.Server.UploadsDir),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	if opts.EnableHealthChecks {
		go s.checker.Start(s.ctx)
	} else {
		s.checker.Check(s.ctx)
	}

	if logging.Sugar != nil {
		logging.Sugar.Infow("🔧 Components configured",
			"mode", voices.Mode(),
			"storage_backend", audio.Backend(),
			"database", db.Path(),
			"workers", cfg.Worker.Workers,
			"nats_enabled", cfg.NATS.Enabled)
	}

	return s, nil
}

func buildProvider(cfg config.ProviderConfig) (provider.VoiceProvider, error) {
	client, err := provider.NewClient(cfg)
	if errors.Is(err, provider.ErrNotConfigured) {
		if logging.Sugar != nil {
			logging.Sugar.Warnw("⚠️ Provider API key not set, running in mock mode")
		}
		return provider.NewNull(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create voice provider: %w", err)
	}
	return client, nil
}

// registerProbes wires dependency checks into the health checker
func (s *Server) registerProbes(p provider.VoiceProvider) {
	s.checker.Register("database", true, s.db.Ping)

	if p.Configured() {
		s.checker.Register("provider", false, func(ctx context.Context) error {
			_, err := p.ListVoices(ctx)
			return err
		})
	}

	if ns, ok := s.publisher.(*messaging.NATSService); ok {
		s.checker.Register("nats", false, func(context.Context) error {
			if !ns.IsConnected() {
				return messaging.ErrNotConnected
			}
			return nil
		})
	}
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves HTTP until Stop is called
func (s *Server) Start() error {
	if logging.Sugar != nil {
		logging.Sugar.Infow("🚀 VoiceMirror starting",
			"addr", s.server.Addr,
			"mode", s.voices.Mode(),
			"base_url", s.cfg.Server.BaseURL)
	}

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	return nil
}

// Stop shuts down HTTP first, then drains clone jobs, then closes the
// broker and checkpoints and closes the database.
func (s *Server) Stop() error {
	if logging.Sugar != nil {
		logging.Sugar.Infow("🛑 Shutting down VoiceMirror")
	}

	s.cancel()

	var errs []error

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown failed: %w", err))
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), drainTimeout)
	defer cancelDrain()
	if err := s.voices.Shutdown(drainCtx); err != nil {
		errs = append(errs, fmt.Errorf("clone jobs did not drain: %w", err))
	}

	s.publisher.Close()

	checkpointCtx, cancelCheckpoint := context.WithTimeout(context.Background(), checkpointTimeout)
	defer cancelCheckpoint()
	if err := s.db.Checkpoint(checkpointCtx); err != nil {
		errs = append(errs, err)
	}

	if err := s.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("database close failed: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}

	if logging.Sugar != nil {
		logging.Sugar.Infow("✅ VoiceMirror shut down successfully")
	}
	return nil
}
