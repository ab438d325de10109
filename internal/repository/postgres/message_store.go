package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"room-broker/internal/domain"
)

const (
	appendMessageQuery = `
		INSERT INTO messages (room_id, id, sender_id, content, sent_at_ns)
		VALUES ($1, $2, $3, $4, $5)
	`

	roomHistoryQuery = `
		SELECT id, room_id, sender_id, content, sent_at_ns
		FROM messages
		WHERE room_id = $1
		ORDER BY sent_at_ns ASC, id ASC
	`

	messagesPrimaryKey = "messages_pkey"
)

// MessageStore implements domain.MessageStore for PostgreSQL. Timestamps are
// kept as integer nanoseconds because TIMESTAMPTZ only has microsecond
// precision and message order depends on the full value.
type MessageStore struct {
	appendStmt  *sql.Stmt
	historyStmt *sql.Stmt
}

// NewMessageStore prepares the store's statements. The schema must exist; see Migrate.
func NewMessageStore(db *sql.DB) (*MessageStore, error) {
	appendStmt, err := db.Prepare(appendMessageQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare append statement: %w", err)
	}

	historyStmt, err := db.Prepare(roomHistoryQuery)
	if err != nil {
		appendStmt.Close()
		return nil, fmt.Errorf("failed to prepare history statement: %w", err)
	}

	return &MessageStore{
		appendStmt:  appendStmt,
		historyStmt: historyStmt,
	}, nil
}

// Append inserts one message. A primary key conflict means the same message
// was already stored by an earlier attempt, which counts as success.
func (s *MessageStore) Append(ctx context.Context, msg domain.Message) error {
	if err := domain.ValidateRoomID(msg.RoomID); err != nil {
		return err
	}

	_, err := s.appendStmt.ExecContext(ctx,
		msg.RoomID,
		msg.ID,
		msg.SenderID,
		msg.Content,
		msg.Timestamp.UnixNano(),
	)
	if err != nil {
		if IsUniqueViolation(err, messagesPrimaryKey) {
			return nil
		}
		return fmt.Errorf("failed to append message: %w", classify(err))
	}
	return nil
}

// History retrieves every message of a room, oldest first
func (s *MessageStore) History(ctx context.Context, roomID string) ([]domain.Message, error) {
	if err := domain.ValidateRoomID(roomID); err != nil {
		return nil, err
	}

	rows, err := s.historyStmt.QueryContext(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", classify(err))
	}
	defer rows.Close()

	messages := make([]domain.Message, 0)
	for rows.Next() {
		var (
			msg      domain.Message
			sentAtNs int64
		)
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.SenderID, &msg.Content, &sentAtNs); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", classify(err))
		}
		msg.Timestamp = time.Unix(0, sentAtNs).UTC()
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", classify(err))
	}

	return messages, nil
}

// Close releases the prepared statements. The *sql.DB stays owned by the caller.
func (s *MessageStore) Close() error {
	s.historyStmt.Close()
	return s.appendStmt.Close()
}
