package messaging

import (
	"context"
	"fmt"
	"testing"
	"time"

	"room-broker/internal/domain"

	"github.com/stretchr/testify/assert"
)

type fakePublisher struct {
	err   error
	calls []InboundMessage
}

func (f *fakePublisher) Publish(ctx context.Context, roomID, senderID, content string) (domain.Message, error) {
	f.calls = append(f.calls, InboundMessage{RoomID: roomID, SenderID: senderID, Content: content})
	if f.err != nil {
		return domain.Message{}, f.err
	}
	at := time.Now().UTC()
	return domain.Message{ID: domain.NewMessageID(at), RoomID: roomID, SenderID: senderID, Content: content, Timestamp: at}, nil
}

func TestInboundConsumer_Process(t *testing.T) {
	tests := []struct {
		name          string
		body          string
		publishErr    error
		wantErr       error
		wantRetryable bool
		wantCalls     int
	}{
		{
			name:      "valid_message_is_published",
			body:      `{"room_id":"r1","sender_id":"stock-bot","content":"AAPL.US quote is $123.45 per share"}`,
			wantCalls: 1,
		},
		{
			name:      "malformed_json_is_dropped",
			body:      `{"room_id":`,
			wantErr:   domain.ErrInvalidInput,
			wantCalls: 0,
		},
		{
			name:       "unknown_room_is_dropped",
			body:       `{"room_id":"bad room","sender_id":"bot","content":"hi"}`,
			publishErr: fmt.Errorf("%w: %q", domain.ErrRoomNotFound, "bad room"),
			wantErr:    domain.ErrRoomNotFound,
			wantCalls:  1,
		},
		{
			name:          "store_outage_is_requeued",
			body:          `{"room_id":"r1","sender_id":"bot","content":"hi"}`,
			publishErr:    fmt.Errorf("failed to append message: %w", domain.ErrStoreUnavailable),
			wantErr:       domain.ErrStoreUnavailable,
			wantRetryable: true,
			wantCalls:     1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{err: tt.publishErr}
			c := NewInboundConsumer(nil, pub)

			err := c.process(context.Background(), []byte(tt.body))

			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, tt.wantRetryable, domain.IsRetryable(err))
			}
			assert.Len(t, pub.calls, tt.wantCalls)
		})
	}
}
