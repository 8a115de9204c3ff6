// ABOUTME: Agent turn log recording how each inbound message was handled
// ABOUTME: Written by the runner after every pipeline run, read by the settings CLI

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/2389/clawswarm/internal/message"
)

// turnTimeLayout is fixed-width so lexical order matches time order.
const turnTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// RecordTurn appends a turn. Generates ID and CreatedAt if not set.
func (s *SQLiteStore) RecordTurn(ctx context.Context, t *Turn) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO agent_turns (turn_id, consumer_id, message_key, platform, channel_id, outcome, detail, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		t.ID,
		t.ConsumerID,
		t.MessageKey,
		t.Platform.String(),
		t.ChannelID,
		string(t.Outcome),
		nullString(t.Detail),
		t.Duration.Milliseconds(),
		t.CreatedAt.UTC().Format(turnTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting turn: %w", err)
	}

	s.logger.Debug("recorded turn", "id", t.ID, "message", t.MessageKey, "outcome", t.Outcome)
	return nil
}

// normalizeTurnLimit applies default (100) and cap (1000).
func normalizeTurnLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

const turnsQuery = `
	SELECT turn_id, consumer_id, message_key, platform, channel_id, outcome, detail, duration_ms, created_at
	FROM agent_turns
	WHERE (? IS NULL OR consumer_id = ?)
	  AND (? IS NULL OR outcome = ?)
	ORDER BY created_at DESC
	LIMIT ?
`

// ListTurns returns turns matching the filter, newest first.
func (s *SQLiteStore) ListTurns(ctx context.Context, f TurnFilter) ([]*Turn, error) {
	consumer := nullString(f.ConsumerID)
	outcome := nullString(string(f.Outcome))

	rows, err := s.db.QueryContext(ctx, turnsQuery,
		consumer, consumer,
		outcome, outcome,
		normalizeTurnLimit(f.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	turns := []*Turn{}
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating turns: %w", err)
	}
	return turns, nil
}

// scanTurn scans a row into a Turn.
func scanTurn(scanner interface{ Scan(dest ...any) error }) (*Turn, error) {
	var (
		t                            Turn
		platform, outcome, createdAt string
		detail                       *string
		durationMs                   int64
	)
	if err := scanner.Scan(
		&t.ID,
		&t.ConsumerID,
		&t.MessageKey,
		&platform,
		&t.ChannelID,
		&outcome,
		&detail,
		&durationMs,
		&createdAt,
	); err != nil {
		return nil, fmt.Errorf("scanning turn: %w", err)
	}

	p, err := message.ParsePlatform(platform)
	if err != nil {
		return nil, fmt.Errorf("parsing platform: %w", err)
	}
	t.Platform = p
	t.Outcome = TurnOutcome(outcome)
	t.Duration = time.Duration(durationMs) * time.Millisecond
	if detail != nil {
		t.Detail = *detail
	}
	t.CreatedAt, err = time.Parse(turnTimeLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing timestamp: %w", err)
	}
	return &t, nil
}

// nullString converts empty strings to NULL for optional columns.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
