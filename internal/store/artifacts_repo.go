package store

import (
	"context"
	"fmt"
	"strings"

	"shopagent/internal/core"
)

// localScheme prefixes artifact locations that point at files on this host.
const localScheme = "local://"

// RecordArtifact appends an evidence reference to a run. Plain file paths are
// stored with the local:// scheme.
func (s *Store) RecordArtifact(ctx context.Context, runID string, kind core.ArtifactType, location string) (string, error) {
	if !strings.Contains(location, "://") {
		location = localScheme + location
	}
	id := core.NewID()
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO artifacts (id, run_id, type, location, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, id, runID, kind, location, s.timestamp())
	if err != nil {
		return "", fmt.Errorf("insert artifact: %w", err)
	}
	return id, nil
}

// ListArtifacts returns the evidence recorded for a run in insertion order.
func (s *Store) ListArtifacts(ctx context.Context, runID string) ([]*core.Artifact, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, run_id, type, location, created_at
		FROM artifacts
		WHERE run_id = ?
		ORDER BY created_at ASC, id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()
	var out []*core.Artifact
	for rows.Next() {
		var (
			a         core.Artifact
			kind      string
			createdAt string
		)
		if err := rows.Scan(&a.ID, &a.RunID, &kind, &a.Location, &createdAt); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		a.Type = core.ArtifactType(kind)
		a.CreatedAt = parseTime(createdAt)
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
