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

// Package worker runs detached background jobs on a bounded queue.
// Each job runs in isolation: an error or panic is logged and counted
// but never reaches the submitter or other jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-voicemirror/internal/logging"
	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned when no queue slot is free
	ErrQueueFull = errors.New("worker: queue is full")
	// ErrShutdown is returned once the pool stops accepting work
	ErrShutdown = errors.New("worker: pool is shut down")
)

// Job is a unit of background work
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Config sizes the pool
type Config struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration // Zero disables the per-job deadline
}

// Stats is a snapshot of pool counters
type Stats struct {
	Workers   int   `json:"workers"`
	Queued    int   `json:"queued"`
	Active    int64 `json:"active"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panicked  int64 `json:"panicked"`
	Rejected  int64 `json:"rejected"`
}

// Pool is a fixed set of workers draining a bounded job queue
type Pool struct {
	cfg  Config
	jobs chan Job

	// mu guards closed against concurrent Submit/Shutdown so no send hits a closed channel
	mu     sync.RWMutex
	closed bool

	workers sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	active    atomic.Int64
	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	panicked  atomic.Int64
	rejected  atomic.Int64
}

// NewPool starts cfg.Workers goroutines
func NewPool(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		cfg:    cfg,
		jobs:   make(chan Job, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}

	for i := 0; i < cfg.Workers; i++ {
		p.workers.Add(1)
		go p.worker(i)
	}

	if logging.Sugar != nil {
		logging.Sugar.Infow("🧵 Worker pool started",
			"workers", cfg.Workers,
			"queue_size", cfg.QueueSize,
			"job_timeout", cfg.JobTimeout,
		)
	}

	return p
}

// Submit enqueues a job without blocking
func (p *Pool) Submit(job Job) error {
	if job.Run == nil {
		return fmt.Errorf("worker: job %q has no Run function", job.Name)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.rejected.Add(1)
		return ErrShutdown
	}

	select {
	case p.jobs <- job:
		p.submitted.Add(1)
		return nil
	default:
		p.rejected.Add(1)
		logging.LogWarn("Worker queue full, rejecting job", zap.String("job", job.Name))
		return ErrQueueFull
	}
}

// Shutdown stops accepting jobs and waits for queued and running jobs to finish.
// If ctx expires first, running jobs are cancelled and ctx's error is returned.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
}

// Stats returns the current counters
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   p.cfg.Workers,
		Queued:    len(p.jobs),
		Active:    p.active.Load(),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Panicked:  p.panicked.Load(),
		Rejected:  p.rejected.Load(),
	}
}

func (p *Pool) worker(id int) {
	defer p.workers.Done()

	for job := range p.jobs {
		p.run(id, job)
	}
}

func (p *Pool) run(workerID int, job Job) {
	p.active.Add(1)
	defer p.active.Add(-1)

	ctx := p.ctx
	if p.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.JobTimeout)
		defer cancel()
	}

	start := time.Now()
	err := safeRun(ctx, job)
	duration := time.Since(start)

	var panicErr *panicError
	switch {
	case errors.As(err, &panicErr):
		p.panicked.Add(1)
		p.failed.Add(1)
		logging.LogError(err, "Background job panicked",
			zap.String("job", job.Name),
			zap.Int("worker", workerID),
			zap.Duration("duration", duration),
		)
	case err != nil:
		p.failed.Add(1)
		logging.LogError(err, "Background job failed",
			zap.String("job", job.Name),
			zap.Int("worker", workerID),
			zap.Duration("duration", duration),
		)
	default:
		p.completed.Add(1)
		if logging.Sugar != nil {
			logging.Sugar.Debugw("Background job completed",
				"job", job.Name,
				"worker", workerID,
				"duration", duration,
			)
		}
	}
}

type panicError struct {
	value interface{}
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}

func safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return job.Run(ctx)
}
