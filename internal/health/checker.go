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
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/loqalabs/loqa-voicemirror/internal/logging"
	"github.com/loqalabs/loqa-voicemirror/internal/worker"
	"go.uber.org/zap"
)

// Status values reported by /health
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

// Probe checks one dependency. A nil error means available.
type Probe func(ctx context.Context) error

// ServiceStatus is the last result of one probe
type ServiceStatus struct {
	Available bool          `json:"available"`
	Required  bool          `json:"required"`
	Latency   time.Duration `json:"latency_ns"`
	Error     string        `json:"error,omitempty"`
}

// HardwareInfo contains system hardware information
type HardwareInfo struct {
	CPUCores     int    `json:"cpu_cores"`
	MemoryMB     uint64 `json:"memory_mb"`
	Goroutines   int    `json:"goroutines"`
	Architecture string `json:"architecture"`
	OS           string `json:"os"`
}

// Report is the service health snapshot
type Report struct {
	Status            string                   `json:"status"`
	Mode              string                   `json:"mode"`
	Services          map[string]ServiceStatus `json:"services"`
	Worker            worker.Stats             `json:"worker"`
	Hardware          HardwareInfo             `json:"hardware"`
	Uptime            string                   `json:"uptime"`
	LastChecked       time.Time                `json:"last_checked"`
	Degraded          bool                     `json:"degraded"`
	DegradationReason string                   `json:"degradation_reason,omitempty"`
}

type registeredProbe struct {
	name     string
	required bool
	probe    Probe
}

// Checker runs dependency probes periodically and serves the cached result
type Checker struct {
	mutex    sync.RWMutex
	report   Report
	probes   []registeredProbe
	stats    func() worker.Stats
	mode     string
	started  time.Time
	interval time.Duration
	timeout  time.Duration

	onDegradation func(reason string)
}

// NewChecker creates a checker. stats may be nil.
func NewChecker(mode string, stats func() worker.Stats) *Checker {
	c := &Checker{
		stats:    stats,
		mode:     mode,
		started:  time.Now(),
		interval: 30 * time.Second,
		timeout:  5 * time.Second,
	}
	c.report = Report{
		Status:   StatusOK,
		Mode:     mode,
		Services: map[string]ServiceStatus{},
		Hardware: detectHardware(),
	}
	return c
}

// Register adds a probe. A failing required probe marks the service degraded;
// optional probes are reported only.
func (c *Checker) Register(name string, required bool, probe Probe) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.probes = append(c.probes, registeredProbe{name: name, required: required, probe: probe})
}

// SetInterval changes the detection period used by Start
func (c *Checker) SetInterval(d time.Duration) {
	if d > 0 {
		c.interval = d
	}
}

// SetDegradationCallback is invoked whenever a check ends degraded
func (c *Checker) SetDegradationCallback(callback func(reason string)) {
	c.onDegradation = callback
}

// Start performs a check immediately and then on every interval until ctx ends
func (c *Checker) Start(ctx context.Context) {
	c.Check(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Check runs every probe once and returns the fresh report
func (c *Checker) Check(ctx context.Context) Report {
	c.mutex.RLock()
	probes := append([]registeredProbe(nil), c.probes...)
	c.mutex.RUnlock()

	services := make(map[string]ServiceStatus, len(probes))
	for _, p := range probes {
		services[p.name] = c.runProbe(ctx, p)
	}
	degraded, reason := checkDegradation(services)

	report := Report{
		Status:            StatusOK,
		Mode:              c.mode,
		Services:          services,
		Hardware:          detectHardware(),
		LastChecked:       time.Now().UTC(),
		Degraded:          degraded,
		DegradationReason: reason,
	}
	if degraded {
		report.Status = StatusDegraded
	}

	c.mutex.Lock()
	c.report = report
	c.mutex.Unlock()

	if logging.Sugar != nil {
		logging.Sugar.Debugw("Health check completed",
			"degraded", degraded,
			"reason", reason,
			"services", len(services),
		)
	}
	if degraded {
		logging.LogWarn("Service degraded", zap.String("reason", reason))
		if c.onDegradation != nil {
			go c.onDegradation(reason)
		}
	}

	return c.decorate(report)
}

func (c *Checker) runProbe(ctx context.Context, p registeredProbe) ServiceStatus {
	probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := p.probe(probeCtx)
	status := ServiceStatus{
		Available: err == nil,
		Required:  p.required,
		Latency:   time.Since(start),
	}
	if err != nil {
		status.Error = err.Error()
	}
	return status
}

// checkDegradation reports the first failing required service in name order
func checkDegradation(services map[string]ServiceStatus) (bool, string) {
	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		s := services[name]
		if s.Required && !s.Available {
			return true, fmt.Sprintf("%s unavailable: %s", name, s.Error)
		}
	}
	return false, ""
}

// Report returns the last check with live worker counters
func (c *Checker) Report() Report {
	c.mutex.RLock()
	report := c.report
	c.mutex.RUnlock()
	return c.decorate(report)
}

func (c *Checker) decorate(report Report) Report {
	if c.stats != nil {
		report.Worker = c.stats()
	}
	report.Uptime = time.Since(c.started).Round(time.Second).String()
	report.Hardware.Goroutines = runtime.NumGoroutine()
	return report
}

func detectHardware() HardwareInfo {
	memStats := &runtime.MemStats{}
	runtime.ReadMemStats(memStats)

	return HardwareInfo{
		CPUCores:     runtime.NumCPU(),
		MemoryMB:     memStats.Sys / (1024 * 1024),
		Goroutines:   runtime.NumGoroutine(),
		Architecture: runtime.GOARCH,
		OS:           runtime.GOOS,
	}
}
