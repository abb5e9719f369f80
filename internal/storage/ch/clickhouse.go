package ch

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"qrbot/internal/models"

	"github.com/ClickHouse/clickhouse-go/v2"
)

type ClickHouseDB struct {
	conn clickhouse.Conn
}

// NewClickHouseDB creates a new ClickHouse database connection
func NewClickHouseDB(host string, port int, database, user, password string, useTLS bool) (*ClickHouseDB, error) {
	addr := fmt.Sprintf("%s:%d", host, port)

	options := &clickhouse.Options{
		Addr:     []string{addr},
		Protocol: clickhouse.Native,
		Auth: clickhouse.Auth{
			Database: database,
			Username: user,
			Password: password,
		},
	}

	// Configure TLS if enabled
	if useTLS {
		options.TLS = &tls.Config{
			InsecureSkipVerify: false,
		}
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	// Test the connection
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &ClickHouseDB{conn: conn}, nil
}

// Initialize is a no-op - tables are managed via migrations
func (db *ClickHouseDB) Initialize(ctx context.Context) error {
	// Tables are managed via migrations (see migrations/ directory)
	return nil
}

// RecordDispatch inserts one dispatch event
func (db *ClickHouseDB) RecordDispatch(ctx context.Context, event models.DispatchEvent) error {
	err := db.conn.Exec(ctx,
		`INSERT INTO dispatch_events (update_id, route, outcome, duration_ms, at) VALUES (?, ?, ?, ?, ?)`,
		event.UpdateID, event.Route, event.Outcome, event.Duration.Milliseconds(), event.At)
	if err != nil {
		return fmt.Errorf("failed to record dispatch event: %w", err)
	}
	return nil
}

// Summary aggregates dispatch events recorded at or after since
func (db *ClickHouseDB) Summary(ctx context.Context, since time.Time) (models.DispatchSummary, error) {
	summary := models.DispatchSummary{
		Since:     since,
		ByRoute:   make(map[string]int),
		ByOutcome: make(map[string]int),
	}

	rows, err := db.conn.Query(ctx,
		`SELECT route, outcome, count() FROM dispatch_events WHERE at >= ? GROUP BY route, outcome`, since)
	if err != nil {
		return summary, fmt.Errorf("failed to query dispatch summary: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			route, outcome string
			count          uint64
		)
		if err := rows.Scan(&route, &outcome, &count); err != nil {
			return summary, fmt.Errorf("failed to scan dispatch summary: %w", err)
		}
		summary.Total += int(count)
		summary.ByRoute[route] += int(count)
		summary.ByOutcome[outcome] += int(count)
	}
	if err := rows.Err(); err != nil {
		return summary, fmt.Errorf("failed to read dispatch summary: %w", err)
	}
	return summary, nil
}

// Close closes the database connection
func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
