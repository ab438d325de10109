package handler

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"room-broker/internal/domain"
	"room-broker/internal/observability"
)

const (
	readyTimeout = 5 * time.Second
	// probeRoomID is read by the store check; it never holds messages.
	probeRoomID = "health.probe"
)

// Health returns basic health check
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// HealthCheckResult represents the result of a health check
type HealthCheckResult struct {
	Status    string         `json:"status"`
	LatencyMs int64          `json:"latency_ms,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Check probes one dependency.
type Check func(ctx context.Context) HealthCheckResult

// Ready runs every check in parallel and reports 503 if any is down
func Ready(checks map[string]Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		type named struct {
			name   string
			result HealthCheckResult
		}
		results := make(chan named, len(checks))
		for name, check := range checks {
			go func() {
				results <- named{name: name, result: check(ctx)}
			}()
		}

		report := make(map[string]HealthCheckResult, len(checks))
		allHealthy := true
		for range checks {
			res := <-results
			report[res.name] = res.result
			if res.result.Status != "up" {
				allHealthy = false
			}
		}

		response := map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"checks":    report,
		}

		if allHealthy {
			response["status"] = "ready"
			writeJSON(w, http.StatusOK, response)
			return
		}
		response["status"] = "not_ready"
		writeJSON(w, http.StatusServiceUnavailable, response)
	}
}

func timed(fn func(ctx context.Context) error) Check {
	return func(ctx context.Context) HealthCheckResult {
		start := time.Now()
		err := fn(ctx)
		latency := time.Since(start).Milliseconds()
		if err != nil {
			return HealthCheckResult{Status: "down", LatencyMs: latency, Error: err.Error()}
		}
		return HealthCheckResult{Status: "up", LatencyMs: latency}
	}
}

// CheckStore reads an empty probe room. Any store driver can serve it.
func CheckStore(store domain.MessageStore) Check {
	return timed(func(ctx context.Context) error {
		_, err := store.History(ctx, probeRoomID)
		return err
	})
}

// CheckDatabase pings the postgres pool and publishes its stats as gauges
func CheckDatabase(db *sql.DB) Check {
	return func(ctx context.Context) HealthCheckResult {
		res := timed(db.PingContext)(ctx)

		stats := db.Stats()
		observability.DBConnectionsOpen.Set(float64(stats.OpenConnections))
		observability.DBConnectionsInUse.Set(float64(stats.InUse))
		observability.DBConnectionsIdle.Set(float64(stats.Idle))

		if res.Status == "up" {
			res.Metadata = map[string]any{
				"connections_open":   stats.OpenConnections,
				"connections_in_use": stats.InUse,
				"connections_idle":   stats.Idle,
				"max_open":           stats.MaxOpenConnections,
			}
		}
		return res
	}
}

// ConnectionState is satisfied by the RabbitMQ client
type ConnectionState interface {
	IsClosed() bool
}

// CheckRabbitMQ verifies RabbitMQ connectivity
func CheckRabbitMQ(conn ConnectionState) Check {
	return timed(func(context.Context) error {
		if conn.IsClosed() {
			return errors.New("connection closed")
		}
		return nil
	})
}

// Pinger is satisfied by the redis presence tracker
type Pinger interface {
	Ping(ctx context.Context) error
}

// CheckRedis pings the presence backend
func CheckRedis(p Pinger) Check {
	return timed(p.Ping)
}
