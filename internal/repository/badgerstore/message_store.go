// Package badgerstore is an embedded MessageStore backed by BadgerDB.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"room-broker/internal/domain"

	"github.com/dgraph-io/badger/v4"
)

// record is the on-disk value of one message.
type record struct {
	ID       string `json:"id"`
	RoomID   string `json:"room_id"`
	SenderID string `json:"sender_id"`
	Content  string `json:"content"`
	SentAtNs int64  `json:"sent_at_ns"`
}

// MessageStore keeps messages under "msg:{room}:{sent_at_ns}:{id}". The 19
// digit zero padding makes key order equal room order, so a history read is a
// single forward prefix scan.
type MessageStore struct {
	db *badger.DB
}

// Open opens (or creates) a Badger database in dir.
func Open(dir string, debug bool) (*badger.DB, error) {
	options := badger.DefaultOptions(dir)
	if debug {
		options = options.WithLoggingLevel(badger.DEBUG)
	} else {
		options = options.WithLoggingLevel(badger.ERROR)
	}

	db, err := badger.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %s: %w", dir, err)
	}
	return db, nil
}

// NewMessageStore creates a store over db. Closing the store closes db.
func NewMessageStore(db *badger.DB) *MessageStore {
	return &MessageStore{db: db}
}

func roomPrefix(roomID string) []byte {
	return []byte("msg:" + roomID + ":")
}

func messageKey(msg domain.Message) []byte {
	return fmt.Appendf(roomPrefix(msg.RoomID), "%019d:%s", msg.Timestamp.UnixNano(), msg.ID)
}

// Append writes msg unless the same key is already present.
func (s *MessageStore) Append(ctx context.Context, msg domain.Message) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	if err := domain.ValidateRoomID(msg.RoomID); err != nil {
		return err
	}

	value, err := json.Marshal(record{
		ID:       msg.ID,
		RoomID:   msg.RoomID,
		SenderID: msg.SenderID,
		Content:  msg.Content,
		SentAtNs: msg.Timestamp.UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("%w: failed to encode message: %v", domain.ErrInvalidInput, err)
	}

	key := messageKey(msg)
	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, value)
	})
	if err != nil {
		return fmt.Errorf("failed to append message: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// History scans the room prefix in key order.
func (s *MessageStore) History(ctx context.Context, roomID string) ([]domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	if err := domain.ValidateRoomID(roomID); err != nil {
		return nil, err
	}

	messages := make([]domain.Message, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := roomPrefix(roomID)
		options := badger.DefaultIteratorOptions
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var rec record
			err := item.Value(func(value []byte) error {
				return json.Unmarshal(value, &rec)
			})
			if err != nil {
				slog.Error("skipping unreadable message record",
					slog.String("error", err.Error()),
					slog.String("key", string(item.Key())))
				continue
			}
			messages = append(messages, domain.Message{
				ID:        rec.ID,
				RoomID:    rec.RoomID,
				SenderID:  rec.SenderID,
				Content:   rec.Content,
				Timestamp: time.Unix(0, rec.SentAtNs).UTC(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return messages, nil
}

func (s *MessageStore) Close() error {
	return s.db.Close()
}
