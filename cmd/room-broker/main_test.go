package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"room-broker/internal/broker"
	"room-broker/internal/config"
	"room-broker/internal/domain"
	"room-broker/internal/handler"
	"room-broker/internal/middleware"
	"room-broker/internal/registry"
	"room-broker/internal/repository/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Environment:       "development",
		StoreDriver:       config.DriverMemory,
		AllowedOrigins:    "http://localhost:3000",
		SessionSendBuffer: 16,
		HTTPRateLimit:     1000,
		HTTPRateBurst:     1000,
		OpenAPIValidation: "true",
	}
}

func TestNewRouter(t *testing.T) {
	store := memory.NewMessageStore()
	b := broker.New(store, registry.New())
	_, err := b.Publish(context.Background(), "general", "alice", "hello")
	require.NoError(t, err)

	limiter := middleware.NewRateLimiter(1000, 1000)
	t.Cleanup(limiter.Stop)
	router := newRouter(testConfig(), b, limiter, map[string]handler.Check{"store": handler.CheckStore(store)})

	tests := []struct {
		name   string
		target string
		user   string
		want   int
	}{
		{"health", "/health", "", http.StatusOK},
		{"ready", "/health/ready", "", http.StatusOK},
		{"metrics", "/metrics", "", http.StatusOK},
		{"history", "/api/v1/rooms/general/messages", "alice", http.StatusOK},
		{"presence", "/api/v1/rooms/general/presence", "alice", http.StatusOK},
		{"history_without_identity", "/api/v1/rooms/general/messages", "", http.StatusUnauthorized},
		{"undocumented_path", "/api/v1/chatrooms", "alice", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.user != "" {
				req.Header.Set(middleware.UserIDHeader, tt.user)
			}
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestOpenStore(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name   string
		mutate func(c *config.Config)
	}{
		{"memory", func(c *config.Config) {}},
		{"badger", func(c *config.Config) {
			c.StoreDriver = config.DriverBadger
			c.BadgerPath = filepath.Join(dir, "badger")
		}},
		{"sqlite", func(c *config.Config) {
			c.StoreDriver = config.DriverSQLite
			c.SQLitePath = filepath.Join(dir, "nested", "broker.db")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			checks := map[string]handler.Check{}

			store, closers, err := openStore(context.Background(), cfg, checks)
			require.NoError(t, err)
			defer closeAll(closers)

			now := time.Now().UTC()
			msg := domain.Message{
				ID:        domain.NewMessageID(now),
				RoomID:    "general",
				SenderID:  "alice",
				Content:   "persisted",
				Timestamp: now,
			}
			require.NoError(t, store.Append(context.Background(), msg))

			history, err := store.History(context.Background(), "general")
			require.NoError(t, err)
			require.Len(t, history, 1)
			assert.Equal(t, msg.ID, history[0].ID)

			require.Contains(t, checks, "store")
			assert.Equal(t, "up", checks["store"](context.Background()).Status)
		})
	}
}

func TestOpenStore_PostgresUnreachable(t *testing.T) {
	cfg := testConfig()
	cfg.StoreDriver = config.DriverPostgres
	cfg.DatabaseURL = "postgres://broker@127.0.0.1:1/broker?sslmode=disable&connect_timeout=1"

	_, _, err := openStore(context.Background(), cfg, map[string]handler.Check{})

	assert.Error(t, err)
}
