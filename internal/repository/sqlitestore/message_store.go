// Package sqlitestore is a single-file MessageStore built on GORM and a
// pure Go SQLite driver.
package sqlitestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"room-broker/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type messageModel struct {
	RoomID   string `gorm:"primaryKey;size:128;index:idx_messages_room_order,priority:1"`
	ID       string `gorm:"primaryKey;size:64;index:idx_messages_room_order,priority:3"`
	SenderID string `gorm:"size:128;not null"`
	Content  string `gorm:"not null"`
	SentAtNs int64  `gorm:"not null;index:idx_messages_room_order,priority:2"`
}

func (messageModel) TableName() string {
	return "messages"
}

// MessageStore implements domain.MessageStore on SQLite.
type MessageStore struct {
	db *gorm.DB
}

// Open opens the database file at path. SQLite allows one writer at a time,
// so the pool is limited to a single connection.
func Open(path string) (*gorm.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite at %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// NewMessageStore creates a store over db. Closing the store closes db.
func NewMessageStore(db *gorm.DB) *MessageStore {
	return &MessageStore{db: db}
}

// Migrate applies schema updates.
func (s *MessageStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&messageModel{}); err != nil {
		return fmt.Errorf("failed to migrate messages table: %w", err)
	}
	return nil
}

// Append inserts msg, ignoring a repeat of an already stored (room, id).
func (s *MessageStore) Append(ctx context.Context, msg domain.Message) error {
	if err := domain.ValidateRoomID(msg.RoomID); err != nil {
		return err
	}

	model := messageModel{
		RoomID:   msg.RoomID,
		ID:       msg.ID,
		SenderID: msg.SenderID,
		Content:  msg.Content,
		SentAtNs: msg.Timestamp.UnixNano(),
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model).Error
	if err != nil {
		return fmt.Errorf("failed to append message: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// History returns the room's messages in room order.
func (s *MessageStore) History(ctx context.Context, roomID string) ([]domain.Message, error) {
	if err := domain.ValidateRoomID(roomID); err != nil {
		return nil, err
	}

	var models []messageModel
	err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("sent_at_ns ASC").
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w: %w", domain.ErrStoreUnavailable, err)
	}

	messages := make([]domain.Message, 0, len(models))
	for _, m := range models {
		messages = append(messages, domain.Message{
			ID:        m.ID,
			RoomID:    m.RoomID,
			SenderID:  m.SenderID,
			Content:   m.Content,
			Timestamp: time.Unix(0, m.SentAtNs).UTC(),
		})
	}
	return messages, nil
}

// Close releases the underlying database connection.
func (s *MessageStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
