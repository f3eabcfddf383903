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

package messaging

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-voicemirror/internal/config"
	"github.com/loqalabs/loqa-voicemirror/internal/events"
	"github.com/loqalabs/loqa-voicemirror/internal/logging"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// ErrNotConnected is returned when publishing without a live connection.
var ErrNotConnected = errors.New("NATS connection not established")

// Publisher emits clone lifecycle events.
type Publisher interface {
	Publish(event *events.CloneEvent) error
	Close()
}

// NopPublisher drops every event. Used when NATS is disabled.
type NopPublisher struct{}

func (NopPublisher) Publish(*events.CloneEvent) error { return nil }
func (NopPublisher) Close()                           {}

// NATSService publishes lifecycle events to <prefix>.<event type>.
type NATSService struct {
	url     string
	prefix  string
	timeout time.Duration
	opts    []nats.Option

	mu   sync.RWMutex
	conn *nats.Conn
}

// NewNATSService creates a service from config. Call Connect before use.
func NewNATSService(cfg config.NATSConfig) *NATSService {
	prefix := strings.TrimSuffix(cfg.SubjectPrefix, ".")
	if prefix == "" {
		prefix = "voicemirror"
	}

	return &NATSService{
		url:     cfg.URL,
		prefix:  prefix,
		timeout: cfg.Timeout,
		opts: []nats.Option{
			nats.Name("loqa-voicemirror"),
			nats.Timeout(cfg.Timeout),
			nats.ReconnectWait(cfg.ReconnectWait),
			nats.MaxReconnects(cfg.MaxReconnect),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					logging.LogWarn("NATS disconnected", zap.Error(err))
				}
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				logging.LogNATSEvent(nc.ConnectedUrl(), "reconnected")
			}),
			nats.ClosedHandler(func(_ *nats.Conn) {
				logging.LogNATSEvent("", "closed")
			}),
		},
	}
}

// Connect establishes the connection to the NATS server.
func (ns *NATSService) Connect() error {
	conn, err := nats.Connect(ns.url, ns.opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", ns.url, err)
	}

	ns.mu.Lock()
	ns.conn = conn
	ns.mu.Unlock()

	logging.LogNATSEvent(conn.ConnectedUrl(), "connected")
	return nil
}

// Subject returns the subject an event type is published on.
func (ns *NATSService) Subject(t events.Type) string {
	return ns.prefix + "." + string(t)
}

// Publish validates and sends event as JSON.
func (ns *NATSService) Publish(event *events.CloneEvent) error {
	if err := event.IsValid(); err != nil {
		return fmt.Errorf("invalid clone event: %w", err)
	}

	ns.mu.RLock()
	conn := ns.conn
	ns.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal clone event: %w", err)
	}

	subject := ns.Subject(event.Type)
	if err := conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	logging.LogNATSEvent(subject, "published",
		zap.String("event_id", event.EventID),
		zap.Int64("record_id", event.RecordID),
		zap.String("voice_id", event.VoiceID),
	)
	return nil
}

// Subscribe delivers decoded events of type t to handler. Used by tooling
// and tests; the service itself only publishes.
func (ns *NATSService) Subscribe(t events.Type, handler func(*events.CloneEvent)) (*nats.Subscription, error) {
	ns.mu.RLock()
	conn := ns.conn
	ns.mu.RUnlock()
	if conn == nil {
		return nil, ErrNotConnected
	}

	subject := ns.Subject(t)
	return conn.Subscribe(subject, func(msg *nats.Msg) {
		var event events.CloneEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			logging.LogError(err, "Error unmarshaling clone event", zap.String("subject", subject))
			return
		}
		handler(&event)
	})
}

// Flush waits until the server has processed all buffered publications.
func (ns *NATSService) Flush() error {
	ns.mu.RLock()
	conn := ns.conn
	ns.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	if ns.timeout > 0 {
		return conn.FlushTimeout(ns.timeout)
	}
	return conn.Flush()
}

// Close drains pending messages and closes the connection.
func (ns *NATSService) Close() {
	stats := ns.GetStats()

	ns.mu.Lock()
	conn := ns.conn
	ns.conn = nil
	ns.mu.Unlock()

	if conn == nil {
		return
	}
	if err := conn.Drain(); err != nil {
		conn.Close()
	}
	logging.LogNATSEvent(ns.prefix+".>", "drained",
		zap.Uint64("out_msgs", stats.OutMsgs),
		zap.Uint64("out_bytes", stats.OutBytes),
		zap.Uint64("reconnects", stats.Reconnects),
	)
}

// IsConnected returns true if connected to NATS.
func (ns *NATSService) IsConnected() bool {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return ns.conn != nil && ns.conn.IsConnected()
}

// GetStats returns connection statistics.
func (ns *NATSService) GetStats() nats.Statistics {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	if ns.conn != nil {
		return ns.conn.Stats()
	}
	return nats.Statistics{}
}

// NewPublisher returns a connected NATSService when NATS is enabled and
// reachable, and a NopPublisher otherwise. Lifecycle events are
// best-effort, so a missing broker never blocks startup.
func NewPublisher(cfg config.NATSConfig) Publisher {
	if !cfg.Enabled {
		return NopPublisher{}
	}

	ns := NewNATSService(cfg)
	if err := ns.Connect(); err != nil {
		logging.LogWarn("NATS unavailable, lifecycle events disabled",
			zap.String("url", cfg.URL),
			zap.Error(err),
		)
		return NopPublisher{}
	}
	return ns
}
