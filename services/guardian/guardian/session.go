// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package guardian

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/AleutianAI/ChangeGuardian/services/guardian/snapshot"
)

// sessionState is the on-disk form of an open session.
type sessionState struct {
	Snapshot   snapshot.Snapshot `json:"snapshot"`
	Root       string            `json:"root"`
	PreparedAt time.Time         `json:"preparedAt"`
}

// loadSessionLocked reads the session file into g.active when no session
// is held in memory. A missing file is not an error.
func (g *Guardian) loadSessionLocked() error {
	if g.active != nil || g.sessionFile == "" {
		return nil
	}

	data, err := os.ReadFile(g.sessionFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading session: %w", err)
	}

	var state sessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("parsing session %s: %w", g.sessionFile, err)
	}
	if state.Snapshot.State == snapshot.StateConsumed {
		return nil
	}
	if state.Root != "" && state.Root != g.root {
		return fmt.Errorf("session %s belongs to %s, not %s", g.sessionFile, state.Root, g.root)
	}

	snap := state.Snapshot
	g.active = &snap
	g.logger.Debug("resumed session", "snapshot_id", snap.ID, "state", snap.State)
	return nil
}

// persistLocked writes the open session, replacing any previous file.
func (g *Guardian) persistLocked() error {
	if g.sessionFile == "" || g.active == nil {
		return nil
	}

	data, err := json.MarshalIndent(sessionState{
		Snapshot:   *g.active,
		Root:       g.root,
		PreparedAt: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(g.sessionFile), 0o750); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}

	tmp := g.sessionFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing session: %w", err)
	}
	return os.Rename(tmp, g.sessionFile)
}

func (g *Guardian) clearSessionLocked() error {
	if g.sessionFile == "" {
		return nil
	}
	if err := os.Remove(g.sessionFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing session: %w", err)
	}
	return nil
}
