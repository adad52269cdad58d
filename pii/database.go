package pii

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"
)

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Enabled      bool
	Host         string
	Port         int
	Database     string
	Username     string
	Password     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
	CleanupHours int
}

// DetectionRecord is one processed request's audit entry. Only a hash of the
// text is stored, never the text itself.
type DetectionRecord struct {
	TextHash       string          `json:"text_hash"`
	Language       string          `json:"language"`
	EntityCount    int             `json:"entity_count"`
	ValidatedCount int             `json:"validated_count"`
	DurationMs     int64           `json:"duration_ms"`
	Entities       []RefinedEntity `json:"entities"`
}

// DetectionLogDB defines the interface for the detection audit log.
type DetectionLogDB interface {
	// LogDetection stores one request's outcome
	LogDetection(ctx context.Context, record DetectionRecord) error

	// GetRecentLogs retrieves the most recent log entries
	GetRecentLogs(ctx context.Context, limit int, offset int) ([]map[string]interface{}, error)

	// GetLogsCount returns the total number of log entries
	GetLogsCount(ctx context.Context) (int, error)

	// CleanupOldLogs removes entries older than the specified duration
	CleanupOldLogs(ctx context.Context, olderThan time.Duration) (int64, error)

	// Close closes the database connection
	Close() error
}

// PostgresDetectionLogDB implements DetectionLogDB for PostgreSQL
type PostgresDetectionLogDB struct {
	db *sql.DB
}

// NewPostgresDetectionLogDB creates a new PostgreSQL detection log database
func NewPostgresDetectionLogDB(config DatabaseConfig) (*PostgresDetectionLogDB, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.Username, config.Password, config.Database, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.MaxLifetime)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := createTableIfNotExists(db); err != nil {
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return &PostgresDetectionLogDB{db: db}, nil
}

// createTableIfNotExists creates the detection_logs table if it doesn't exist
func createTableIfNotExists(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS detection_logs (
		id SERIAL PRIMARY KEY,
		text_hash VARCHAR(64) NOT NULL,
		language VARCHAR(16) NOT NULL,
		entity_count INTEGER NOT NULL DEFAULT 0,
		validated_count INTEGER NOT NULL DEFAULT 0,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		entities JSONB NOT NULL DEFAULT '[]',
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	-- Create indexes for better performance
	CREATE INDEX IF NOT EXISTS idx_detection_logs_created_at ON detection_logs(created_at);
	CREATE INDEX IF NOT EXISTS idx_detection_logs_language ON detection_logs(language);
	CREATE INDEX IF NOT EXISTS idx_detection_logs_text_hash ON detection_logs(text_hash);
	`

	_, err := db.Exec(query)
	return err
}

// LogDetection stores one request's outcome
func (p *PostgresDetectionLogDB) LogDetection(ctx context.Context, record DetectionRecord) error {
	entities := record.Entities
	if entities == nil {
		entities = []RefinedEntity{}
	}
	entitiesJSON, err := json.Marshal(entities)
	if err != nil {
		return fmt.Errorf("failed to marshal entities: %w", err)
	}

	query := `
	INSERT INTO detection_logs (text_hash, language, entity_count, validated_count, duration_ms, entities, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`

	_, err = p.db.ExecContext(ctx, query,
		record.TextHash, record.Language, record.EntityCount,
		record.ValidatedCount, record.DurationMs, string(entitiesJSON))
	return err
}

// GetRecentLogs retrieves the most recent log entries
func (p *PostgresDetectionLogDB) GetRecentLogs(ctx context.Context, limit int, offset int) ([]map[string]interface{}, error) {
	query := `
	SELECT id, text_hash, language, entity_count, validated_count, duration_ms, entities, created_at
	FROM detection_logs
	ORDER BY created_at DESC
	LIMIT $1 OFFSET $2
	`

	rows, err := p.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query logs: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("[DetectionLog] Failed to close rows: %v", err)
		}
	}()

	var logs []map[string]interface{}
	for rows.Next() {
		var id int
		var textHash, language string
		var entityCount, validatedCount int
		var durationMs int64
		var entitiesJSON string
		var createdAt time.Time

		if err := rows.Scan(&id, &textHash, &language, &entityCount, &validatedCount, &durationMs, &entitiesJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan log row: %w", err)
		}

		var entities []RefinedEntity
		if err := json.Unmarshal([]byte(entitiesJSON), &entities); err != nil {
			return nil, fmt.Errorf("failed to unmarshal entities: %w", err)
		}

		logs = append(logs, map[string]interface{}{
			"id":              id,
			"text_hash":       textHash,
			"language":        language,
			"entity_count":    entityCount,
			"validated_count": validatedCount,
			"duration_ms":     durationMs,
			"entities":        entities,
			"created_at":      createdAt,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating log rows: %w", err)
	}

	return logs, nil
}

// GetLogsCount returns the total number of log entries
func (p *PostgresDetectionLogDB) GetLogsCount(ctx context.Context) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM detection_logs`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get logs count: %w", err)
	}
	return count, nil
}

// CleanupOldLogs removes entries older than the specified duration
func (p *PostgresDetectionLogDB) CleanupOldLogs(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `DELETE FROM detection_logs WHERE created_at < NOW() - $1::interval`
	interval := fmt.Sprintf("%d seconds", int(olderThan.Seconds()))

	result, err := p.db.ExecContext(ctx, query, interval)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

// Close closes the database connection
func (p *PostgresDetectionLogDB) Close() error {
	return p.db.Close()
}
