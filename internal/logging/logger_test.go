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

package logging

import (
	"errors"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitialize(t *testing.T) {
	originalLevel := os.Getenv("LOG_LEVEL")
	originalFormat := os.Getenv("LOG_FORMAT")
	defer func() {
		_ = os.Setenv("LOG_LEVEL", originalLevel)
		_ = os.Setenv("LOG_FORMAT", originalFormat)
	}()

	tests := []struct {
		name      string
		logLevel  string
		logFormat string
	}{
		{name: "Default values"},
		{name: "Info level console format", logLevel: "info", logFormat: "console"},
		{name: "Debug level JSON format", logLevel: "debug", logFormat: "json"},
		{name: "Invalid format defaults to console", logLevel: "info", logFormat: "invalid"},
		{name: "Invalid level defaults to info", logLevel: "invalid", logFormat: "console"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.logLevel != "" {
				_ = os.Setenv("LOG_LEVEL", tt.logLevel)
			} else {
				_ = os.Unsetenv("LOG_LEVEL")
			}
			if tt.logFormat != "" {
				_ = os.Setenv("LOG_FORMAT", tt.logFormat)
			} else {
				_ = os.Unsetenv("LOG_FORMAT")
			}

			if err := Initialize(); err != nil {
				t.Fatalf("Initialize() unexpected error: %v", err)
			}
			if Logger == nil || Sugar == nil {
				t.Error("Logger and Sugar should be set after initialization")
			}
			Sync()
		})
	}
}

func TestInitializeWithConfig_Level(t *testing.T) {
	if err := InitializeWithConfig(LogConfig{Level: "warn", Format: "json"}); err != nil {
		t.Fatalf("InitializeWithConfig() error: %v", err)
	}
	if Logger.Core().Enabled(zapcore.InfoLevel) {
		t.Error("info level should be disabled when level is warn")
	}
	if !Logger.Core().Enabled(zapcore.WarnLevel) {
		t.Error("warn level should be enabled")
	}
}

func fieldMap(entry observer.LoggedEntry) map[string]interface{} {
	return entry.ContextMap()
}

func TestLoggingHelpers(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	defer SetLogger(nil)

	LogCloneStage(42, "create_voice", zap.String("voice_id", "abc"))
	LogProviderOperation("synthesize", 150*time.Millisecond)
	LogQuotaAction("evict", zap.String("voice_id", "old"))
	LogNATSEvent("voicemirror.clone.completed", "publish")
	LogDatabaseOperation("insert", "intakes")
	LogHTTPRequest("GET", "/health", 200, time.Millisecond)
	LogHTTPRequest("GET", "/api/audio/status/9", 404, time.Millisecond)
	LogError(errors.New("boom"), "Something failed")
	LogWarn("Careful")

	entries := recorded.All()
	if len(entries) != 9 {
		t.Fatalf("expected 9 entries, got %d", len(entries))
	}

	clone := fieldMap(entries[0])
	if clone["component"] != "clone_pipeline" || clone["record_id"] != int64(42) || clone["stage"] != "create_voice" {
		t.Errorf("unexpected clone stage fields: %v", clone)
	}
	if fieldMap(entries[1])["operation"] != "synthesize" {
		t.Errorf("provider operation not recorded: %v", fieldMap(entries[1]))
	}
	if fieldMap(entries[2])["component"] != "quota" {
		t.Errorf("quota component missing: %v", fieldMap(entries[2]))
	}
	if entries[4].Level != zapcore.DebugLevel {
		t.Errorf("database operations should log at debug, got %v", entries[4].Level)
	}
	if entries[5].Level != zapcore.InfoLevel || entries[6].Level != zapcore.WarnLevel {
		t.Errorf("http levels wrong: %v %v", entries[5].Level, entries[6].Level)
	}
	if entries[7].Level != zapcore.ErrorLevel || fieldMap(entries[7])["error"] != "boom" {
		t.Errorf("error entry wrong: %v", fieldMap(entries[7]))
	}
	if entries[8].Level != zapcore.WarnLevel || entries[8].Message != "Careful" {
		t.Errorf("warn entry wrong: %+v", entries[8])
	}
}

func TestLoggingHelpers_NilLogger(t *testing.T) {
	SetLogger(nil)

	// None of these may panic without an initialized logger
	LogCloneStage(1, "noop")
	LogProviderOperation("noop", 0)
	LogQuotaAction("noop")
	LogNATSEvent("s", "a")
	LogDatabaseOperation("o", "t")
	LogHTTPRequest("GET", "/", 200, 0)
	LogError(errors.New("x"), "x")
	LogWarn("x")
	Sync()
	Close()
}

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("VOICEMIRROR_TEST_KEY", "value")
	if got := getEnvOrDefault("VOICEMIRROR_TEST_KEY", "fallback"); got != "value" {
		t.Errorf("got %q, want value", got)
	}
	if got := getEnvOrDefault("VOICEMIRROR_TEST_MISSING", "fallback"); got != "fallback" {
		t.Errorf("got %q, want fallback", got)
	}
}
