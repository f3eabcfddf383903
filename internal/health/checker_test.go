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

package health

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loqalabs/loqa-voicemirror/internal/logging"
	"github.com/loqalabs/loqa-voicemirror/internal/worker"
)

func TestNewChecker(t *testing.T) {
	c := NewChecker("mock", nil)

	if c.interval != 30*time.Second {
		t.Errorf("interval = %v, want 30s", c.interval)
	}
	if c.timeout != 5*time.Second {
		t.Errorf("timeout = %v, want 5s", c.timeout)
	}

	report := c.Report()
	if report.Status != StatusOK {
		t.Errorf("initial status = %s, want %s", report.Status, StatusOK)
	}
	if report.Mode != "mock" {
		t.Errorf("mode = %s, want mock", report.Mode)
	}
	if report.Hardware.CPUCores != runtime.NumCPU() {
		t.Errorf("CPU cores = %d, want %d", report.Hardware.CPUCores, runtime.NumCPU())
	}
	if report.Hardware.OS != runtime.GOOS {
		t.Errorf("OS = %s, want %s", report.Hardware.OS, runtime.GOOS)
	}
}

func TestChecker_Check(t *testing.T) {
	tests := []struct {
		name         string
		dbErr        error
		providerErr  error
		wantDegraded bool
		wantReason   string
	}{
		{name: "all healthy"},
		{name: "optional probe failing", providerErr: errors.New("timeout")},
		{name: "required probe failing", dbErr: errors.New("disk I/O error"), wantDegraded: true, wantReason: "database unavailable: disk I/O error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker("provider", func() worker.Stats { return worker.Stats{Workers: 2, Submitted: 7} })
			c.Register("database", true, func(context.Context) error { return tt.dbErr })
			c.Register("provider", false, func(context.Context) error { return tt.providerErr })

			report := c.Check(context.Background())

			if report.Degraded != tt.wantDegraded {
				t.Errorf("Degraded = %v, want %v", report.Degraded, tt.wantDegraded)
			}
			if report.DegradationReason != tt.wantReason {
				t.Errorf("DegradationReason = %q, want %q", report.DegradationReason, tt.wantReason)
			}
			if tt.wantDegraded && report.Status != StatusDegraded {
				t.Errorf("Status = %s, want %s", report.Status, StatusDegraded)
			}
			if got := report.Services["provider"].Available; got != (tt.providerErr == nil) {
				t.Errorf("provider available = %v", got)
			}
			if report.Worker.Submitted != 7 {
				t.Errorf("worker submitted = %d, want 7", report.Worker.Submitted)
			}
			if report.LastChecked.IsZero() {
				t.Error("LastChecked should be set")
			}
		})
	}
}

func TestChecker_ProbeTimeout(t *testing.T) {
	c := NewChecker("provider", nil)
	c.timeout = 20 * time.Millisecond
	c.Register("provider", true, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	report := c.Check(context.Background())
	if !report.Degraded {
		t.Fatal("expected degraded report")
	}
	if !strings.Contains(report.DegradationReason, "deadline exceeded") {
		t.Errorf("reason = %q", report.DegradationReason)
	}
}

func TestChecker_DegradationCallback(t *testing.T) {
	if err := logging.Initialize(); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logging.Close()

	c := NewChecker("provider", nil)
	c.Register("database", true, func(context.Context) error { return errors.New("locked") })

	reasons := make(chan string, 1)
	c.SetDegradationCallback(func(reason string) { reasons <- reason })
	c.Check(context.Background())

	select {
	case reason := <-reasons:
		if reason != "database unavailable: locked" {
			t.Errorf("reason = %q", reason)
		}
	case <-time.After(time.Second):
		t.Error("degradation callback should be called")
	}
}

func TestChecker_Start_ContextCancellation(t *testing.T) {
	c := NewChecker("mock", nil)
	c.SetInterval(10 * time.Millisecond)

	var calls atomic.Int32
	c.Register("database", true, func(context.Context) error {
		calls.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		c.Start(ctx)
		close(finished)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Start() should return when context is cancelled")
	}
	if calls.Load() < 2 {
		t.Errorf("probe ran %d times, want at least 2", calls.Load())
	}
}
