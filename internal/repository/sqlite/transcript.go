package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Rrens/chatstream/internal/domain"
)

// TranscriptRepository implements domain.TranscriptRepository
type TranscriptRepository struct {
	db *sql.DB
}

// NewTranscriptRepository creates a new transcript repository
func NewTranscriptRepository(db *DB) *TranscriptRepository {
	return &TranscriptRepository{db: db.SQL}
}

// SaveMessages upserts messages in order. A message saved again under the
// same id keeps its position and takes the new content.
func (r *TranscriptRepository) SaveMessages(ctx context.Context, sessionID string, messages []domain.Message) error {
	query := `
		INSERT INTO transcript_messages
			(session_id, message_id, sender, category, text, is_final, is_liked, chart_data, attachments, audio_data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id, message_id) DO UPDATE SET
			text = excluded.text,
			is_final = excluded.is_final,
			is_liked = excluded.is_liked,
			chart_data = excluded.chart_data
	`

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range messages {
		var attachments []byte
		if len(m.Attachments) > 0 {
			if attachments, err = json.Marshal(m.Attachments); err != nil {
				return fmt.Errorf("failed to marshal attachments: %w", err)
			}
		}

		_, err := stmt.ExecContext(ctx,
			sessionID,
			m.ID,
			string(m.Sender),
			string(m.Category),
			m.Text,
			m.IsFinal,
			nullBool(m.IsLiked),
			nullText(m.ChartData),
			nullText(attachments),
			m.AudioData,
			m.CreatedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("failed to save message %s: %w", m.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
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
		WHERE session_id = ?
		ORDER BY seq ASC
		LIMIT ?
	`
	if limit <= 0 {
		limit = -1
	}

	rows, err := r.db.QueryContext(ctx, query, sessionID, limit)
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
			liked       sql.NullBool
			chartData   sql.NullString
			attachments sql.NullString
			createdAt   string
		)
		if err := rows.Scan(&m.ID, &sender, &category, &m.Text, &m.IsFinal, &liked, &chartData, &attachments, &m.AudioData, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}

		m.Sender = domain.Sender(sender)
		m.Category = domain.Category(category)
		if liked.Valid {
			v := liked.Bool
			m.IsLiked = &v
		}
		if chartData.Valid {
			m.ChartData = json.RawMessage(chartData.String)
		}
		if attachments.Valid {
			if err := json.Unmarshal([]byte(attachments.String), &m.Attachments); err != nil {
				return nil, fmt.Errorf("failed to unmarshal attachments: %w", err)
			}
		}
		if m.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}

		messages = append(messages, m)
	}

	return messages, rows.Err()
}

// DeleteSession removes the transcript of a session
func (r *TranscriptRepository) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM transcript_messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete transcript: %w", err)
	}
	return nil
}

func nullBool(v *bool) sql.NullBool {
	if v == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *v, Valid: true}
}

func nullText(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

var _ domain.TranscriptRepository = (*TranscriptRepository)(nil)
