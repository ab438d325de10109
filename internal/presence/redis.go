// Package presence records which users hold open sessions in each room in
// Redis, so presence survives a broker restart and crashed sessions age out.
package presence

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
)

const presenceTTL = 120 * time.Second

// RedisTracker keeps one sorted set per room, "presence:room:{id}". Each
// member is "{session}|{user}" scored by the unix second it expires at.
// Sessions renew their entry with Refresh; Members trims expired entries, so
// sessions of a crashed instance drop out once they stop being refreshed.
type RedisTracker struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisClient parses redisURL and checks the server is reachable.
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}
	return client, nil
}

func NewRedisTracker(client *redis.Client) *RedisTracker {
	return &RedisTracker{client: client, ttl: presenceTTL, now: time.Now}
}

func roomKey(roomID string) string {
	return "presence:room:" + roomID
}

// Session ids are uuids and never contain the separator.
func memberKey(sessionID, userID string) string {
	return sessionID + "|" + userID
}

func userOf(member string) (string, bool) {
	_, userID, ok := strings.Cut(member, "|")
	return userID, ok && userID != ""
}

func (t *RedisTracker) touch(ctx context.Context, roomID, userID, sessionID string) error {
	key := roomKey(roomID)
	pipe := t.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(t.now().Add(t.ttl).Unix()),
		Member: memberKey(sessionID, userID),
	})
	pipe.Expire(ctx, key, t.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (t *RedisTracker) Join(ctx context.Context, roomID, userID, sessionID string) error {
	if err := t.touch(ctx, roomID, userID, sessionID); err != nil {
		return fmt.Errorf("failed to record presence: %w", err)
	}
	return nil
}

// Refresh pushes the session's expiry presenceTTL into the future.
func (t *RedisTracker) Refresh(ctx context.Context, roomID, userID, sessionID string) error {
	if err := t.touch(ctx, roomID, userID, sessionID); err != nil {
		return fmt.Errorf("failed to refresh presence: %w", err)
	}
	return nil
}

func (t *RedisTracker) Leave(ctx context.Context, roomID, userID, sessionID string) error {
	if err := t.client.ZRem(ctx, roomKey(roomID), memberKey(sessionID, userID)).Err(); err != nil {
		return fmt.Errorf("failed to clear presence: %w", err)
	}
	return nil
}

// Members drops expired sessions and returns the distinct users left, sorted.
func (t *RedisTracker) Members(ctx context.Context, roomID string) ([]string, error) {
	key := roomKey(roomID)
	pipe := t.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(t.now().Unix(), 10))
	live := pipe.ZRange(ctx, key, 0, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to list presence: %w", err)
	}

	members := lo.Uniq(lo.FilterMap(live.Val(), func(m string, _ int) (string, bool) {
		return userOf(m)
	}))
	slices.Sort(members)
	return members, nil
}

// Ping reports whether Redis is reachable.
func (t *RedisTracker) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}
