package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Rrens/chatstream/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TranscriptRepository implements domain.TranscriptRepository on a shared
// database so several bridge instances see the same transcripts
type TranscriptRepository struct {
	pool *pgxpool.Pool
}

// NewTranscriptRepository creates a new transcript repository
func NewTranscriptRepository(pool *pgxpool.Pool) *TranscriptRepository {
	return &TranscriptRepository{pool: pool}
}

// SaveMessages upserts messages in order within one transaction
func (r *TranscriptRepository) SaveMessages(ctx context.Context, sessionID string, messages []domain.Message) error {
	query := `
		INSERT INTO transcript_messages
			(session_id, message_id, sender, category, text, is_final, is_liked, chart_data, attachments, audio_data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (session_id, message_id) DO UPDATE SET
			text = EXCLUDED.text,
			is_final = EXCLUDED.is_final,
			is_liked = EXCLUDED.is_liked,
			chart_data = EXCLUDED.chart_data
	`

	batch := &pgx.Batch{}
	for _, m := range messages {
		var attachments []byte
		if len(m.Attachments) > 0 {
			var err error
			if attachments, err = json.Marshal(m.Attachments); err != nil {
				return fmt.Errorf("failed to marshal attachments: %w", err)
			}
		}
		var chart []byte
		if len(m.ChartData) > 0 {
			chart = m.ChartData
		}

		batch.Queue(query,
			sessionID,
			m.ID,
			string(m.Sender),
			string(m.Category),
			m.Text,
			m.IsFinal,
			m.IsLiked,
			chart,
			attachments,
			m.AudioData,
			m.CreatedAt.UTC(),
		)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to save messages: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transcript: %w", err)
	}
	return nil
}

// ListBySession returns the archived messages of a session oldest first.
// A limit of zero or less returns all of them.
func (r *TranscriptRepository) ListBySession(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	query := `
		SELECT message_id, sender, category, text, is_final, is_liked, chart_data, attachments, audio_data, created_at
		FROM transcript_messages
		WHERE session_id = $1
		ORDER BY seq ASC
		LIMIT $2
	`
	// LIMIT NULL means no limit
	var lim *int
	if limit > 0 {
		lim = &limit
	}

	rows, err := r.pool.Query(ctx, query, sessionID, lim)
	if err != nil {
		return nil, fmt.Errorf("failed to list transcript: %w", err)
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var (
			m           domain.Message
			sender      string
			category    string
			chart       []byte
			attachments []byte
		)
		if err := rows.Scan(&m.ID, &sender, &category, &m.Text, &m.IsFinal, &m.IsLiked, &chart, &attachments, &m.AudioData, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}

		m.Sender = domain.Sender(sender)
		m.Category = domain.Category(category)
		if len(chart) > 0 {
			m.ChartData = json.RawMessage(chart)
		}
		if len(attachments) > 0 {
			if err := json.Unmarshal(attachments, &m.Attachments); err != nil {
				return nil, fmt.Errorf("failed to unmarshal attachments: %w", err)
			}
		}
		m.CreatedAt = m.CreatedAt.UTC()

		messages = append(messages, m)
	}

	return messages, rows.Err()
}

// DeleteSession removes the transcript of a session
func (r *TranscriptRepository) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM transcript_messages WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("failed to delete transcript: %w", err)
	}
	return nil
}

var _ domain.TranscriptRepository = (*TranscriptRepository)(nil)
