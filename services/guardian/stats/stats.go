// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stats keeps simple named counters in a JSON file.
//
// Failures to read or write the file are logged and never returned from
// Increment; counters are advisory.
package stats

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// KeyAgentCalls counts external auditor invocations.
const KeyAgentCalls = "ai_agent_calls"

// ErrEmptyKey is returned by Add for an empty counter name.
var ErrEmptyKey = errors.New("stats key must not be empty")

// Store is a JSON object of counters on disk.
//
// # Thread Safety
//
// Safe for concurrent use within one process. Concurrent processes may
// lose increments; the last rename wins.
type Store struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewStore creates a store at path, initialising the file with
// {"ai_agent_calls": 0} when it does not exist.
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{path: path, logger: logger.With("component", "stats.Store")}
	if err := s.ensureFile(); err != nil {
		s.logger.Error("initialising stats file", "path", path, "error", err)
	}
	return s
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// Increment adds one to key. Errors are logged.
func (s *Store) Increment(key string) {
	if _, err := s.Add(key, 1); err != nil {
		s.logger.Error("incrementing stat", "key", key, "error", err)
	}
}

// Add adds delta to key and returns the new value.
func (s *Store) Add(key string, delta int64) (int64, error) {
	if key == "" {
		return 0, ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	counters, err := s.readLocked()
	if err != nil {
		s.logger.Warn("stats file unreadable, starting from zero", "path", s.path, "error", err)
		counters = map[string]int64{}
	}
	counters[key] += delta
	if err := s.writeLocked(counters); err != nil {
		return counters[key], err
	}
	s.logger.Debug("stat incremented", "key", key, "value", counters[key])
	return counters[key], nil
}

// Get returns a copy of all counters. A missing or unreadable file yields
// an empty map.
func (s *Store) Get() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	counters, err := s.readLocked()
	if err != nil {
		s.logger.Error("reading stats", "path", s.path, "error", err)
		return map[string]int64{}
	}
	return counters
}

// Keys returns the counter names in sorted order.
func Keys(counters map[string]int64) []string {
	keys := make([]string, 0, len(counters))
	for k := range counters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *Store) ensureFile() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	return s.writeLocked(map[string]int64{KeyAgentCalls: 0})
}

func (s *Store) readLocked() (map[string]int64, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]int64{}, nil
		}
		return nil, err
	}
	// Non-numeric values from hand edits are dropped.
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	counters := make(map[string]int64, len(raw))
	for k, v := range raw {
		if n, ok := v.(float64); ok {
			counters[k] = int64(n)
		}
	}
	return counters, nil
}

func (s *Store) writeLocked(counters map[string]int64) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create stats dir: %w", err)
	}
	data, err := json.MarshalIndent(counters, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write stats: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace stats: %w", err)
	}
	return nil
}
