package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/connwatch/connwatch/internal/model"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath and bootstraps
// the schema.
func NewSQLiteStore(logger *zap.Logger, dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{
		logger: logger.Named("storage"),
		db:     db,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// NewSQLiteStoreWithDB wraps an existing database handle. Used by tests.
func NewSQLiteStoreWithDB(logger *zap.Logger, db *sql.DB) *SQLiteStore {
	return &SQLiteStore{logger: logger.Named("storage"), db: db}
}

func (s *SQLiteStore) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schedules (
			id TEXT PRIMARY KEY,
			application_id TEXT NOT NULL UNIQUE,
			expression TEXT NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 1,
			last_run_at DATETIME,
			last_status TEXT,
			last_message TEXT,
			last_duration INTEGER,
			next_run_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_schedules_due ON schedules(enabled, next_run_at);

		CREATE TABLE IF NOT EXISTS connections (
			id TEXT PRIMARY KEY,
			application_id TEXT,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			server TEXT,
			port INTEGER,
			database_name TEXT,
			base_url TEXT,
			username TEXT,
			password TEXT,
			connection_string TEXT,
			api_token TEXT,
			options TEXT,
			active INTEGER NOT NULL DEFAULT 1,
			last_tested_at DATETIME,
			last_status TEXT,
			last_message TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_connections_application ON connections(application_id);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// UpsertSchedule implements ScheduleStore.UpsertSchedule. On the replace
// path the existing row keeps its id and created_at; both are read back
// into the given schedule so callers always hold the surviving identity.
func (s *SQLiteStore) UpsertSchedule(ctx context.Context, schedule *model.Schedule) error {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO schedules (id, application_id, expression, enabled, next_run_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(application_id) DO UPDATE SET
			expression = excluded.expression,
			enabled = excluded.enabled,
			next_run_at = excluded.next_run_at,
			updated_at = excluded.updated_at
		RETURNING id, created_at`,
		schedule.ID,
		schedule.ApplicationID,
		schedule.Expression,
		schedule.Enabled,
		nullTime(schedule.NextRunAt),
		schedule.CreatedAt,
		schedule.UpdatedAt,
	)
	if err := row.Scan(&schedule.ID, &schedule.CreatedAt); err != nil {
		return fmt.Errorf("failed to upsert schedule: %w", err)
	}
	return nil
}

const scheduleColumns = `id, application_id, expression, enabled, last_run_at, last_status, last_message, last_duration, next_run_at, created_at, updated_at`

// GetSchedule implements ScheduleStore.GetSchedule.
func (s *SQLiteStore) GetSchedule(ctx context.Context, id string) (*model.Schedule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)
	schedule, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}
	return schedule, nil
}

// ListSchedules implements ScheduleStore.ListSchedules.
func (s *SQLiteStore) ListSchedules(ctx context.Context) ([]*model.Schedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()
	return collectSchedules(rows)
}

// ListDueSchedules implements ScheduleStore.ListDueSchedules.
func (s *SQLiteStore) ListDueSchedules(ctx context.Context, now time.Time) ([]*model.Schedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules
		 WHERE enabled = 1 AND next_run_at IS NOT NULL AND next_run_at <= ?
		 ORDER BY next_run_at`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due schedules: %w", err)
	}
	defer rows.Close()
	return collectSchedules(rows)
}

// SaveScheduleRunResult implements ScheduleStore.SaveScheduleRunResult.
func (s *SQLiteStore) SaveScheduleRunResult(ctx context.Context, scheduleID string, result RunResult) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE schedules SET
			last_run_at = ?,
			last_status = ?,
			last_message = ?,
			last_duration = ?,
			next_run_at = ?,
			updated_at = ?
		WHERE id = ?`,
		result.RanAt,
		string(result.Status),
		result.Message,
		int64(result.Duration),
		nullTime(result.NextRun),
		time.Now(),
		scheduleID,
	)
	if err != nil {
		return fmt.Errorf("failed to save schedule run result: %w", err)
	}
	return nil
}

// DeleteSchedule implements ScheduleStore.DeleteSchedule.
func (s *SQLiteStore) DeleteSchedule(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

const connectionColumns = `id, application_id, name, kind, server, port, database_name, base_url, username, password, connection_string, api_token, options, active, last_tested_at, last_status, last_message, created_at, updated_at`

// CreateConnection implements ConnectionStore.CreateConnection.
func (s *SQLiteStore) CreateConnection(ctx context.Context, conn *model.Connection) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO connections (`+connectionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		conn.ID,
		nullString(conn.ApplicationID),
		conn.Name,
		string(conn.Kind),
		nullString(conn.Server),
		conn.Port,
		nullString(conn.Database),
		nullString(conn.BaseURL),
		nullString(conn.Username),
		nullString(conn.Password),
		nullString(conn.ConnectionString),
		nullString(conn.APIToken),
		nullString(conn.Options),
		conn.Active,
		nullTime(conn.LastTestedAt),
		nullString(string(conn.LastStatus)),
		nullString(conn.LastMessage),
		conn.CreatedAt,
		conn.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create connection: %w", err)
	}
	return nil
}

// GetConnection implements ConnectionStore.GetConnection.
func (s *SQLiteStore) GetConnection(ctx context.Context, id string) (*model.Connection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+connectionColumns+` FROM connections WHERE id = ?`, id)
	conn, err := scanConnection(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return conn, nil
}

// GetConnectionsForApplication implements
// ConnectionStore.GetConnectionsForApplication.
func (s *SQLiteStore) GetConnectionsForApplication(ctx context.Context, applicationID string) ([]*model.Connection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+connectionColumns+` FROM connections WHERE application_id = ? ORDER BY created_at`,
		applicationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	var conns []*model.Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		conns = append(conns, conn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return conns, nil
}

// SaveConnectionTestResult implements
// ConnectionStore.SaveConnectionTestResult.
func (s *SQLiteStore) SaveConnectionTestResult(ctx context.Context, connectionID string, status model.RunStatus, message string, testedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE connections SET
			last_tested_at = ?,
			last_status = ?,
			last_message = ?,
			updated_at = ?
		WHERE id = ?`,
		testedAt,
		string(status),
		message,
		time.Now(),
		connectionID,
	)
	if err != nil {
		return fmt.Errorf("failed to save connection test result: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSchedule(row rowScanner) (*model.Schedule, error) {
	var schedule model.Schedule
	var lastRunAt, nextRunAt sql.NullTime
	var lastStatus, lastMessage sql.NullString
	var lastDuration sql.NullInt64

	err := row.Scan(
		&schedule.ID,
		&schedule.ApplicationID,
		&schedule.Expression,
		&schedule.Enabled,
		&lastRunAt,
		&lastStatus,
		&lastMessage,
		&lastDuration,
		&nextRunAt,
		&schedule.CreatedAt,
		&schedule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lastRunAt.Valid {
		schedule.LastRunAt = &lastRunAt.Time
	}
	if nextRunAt.Valid {
		schedule.NextRunAt = &nextRunAt.Time
	}
	if lastStatus.Valid {
		schedule.LastStatus = model.RunStatus(lastStatus.String)
	}
	if lastMessage.Valid {
		schedule.LastMessage = lastMessage.String
	}
	if lastDuration.Valid {
		schedule.LastDuration = time.Duration(lastDuration.Int64)
	}
	return &schedule, nil
}

func collectSchedules(rows *sql.Rows) ([]*model.Schedule, error) {
	var schedules []*model.Schedule
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		schedules = append(schedules, schedule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return schedules, nil
}

func scanConnection(row rowScanner) (*model.Connection, error) {
	var conn model.Connection
	var applicationID, server, database, baseURL, username, password sql.NullString
	var connectionString, apiToken, options, lastStatus, lastMessage sql.NullString
	var port sql.NullInt64
	var lastTestedAt sql.NullTime

	err := row.Scan(
		&conn.ID,
		&applicationID,
		&conn.Name,
		&conn.Kind,
		&server,
		&port,
		&database,
		&baseURL,
		&username,
		&password,
		&connectionString,
		&apiToken,
		&options,
		&conn.Active,
		&lastTestedAt,
		&lastStatus,
		&lastMessage,
		&conn.CreatedAt,
		&conn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	conn.ApplicationID = applicationID.String
	conn.Server = server.String
	conn.Database = database.String
	conn.BaseURL = baseURL.String
	conn.Username = username.String
	conn.Password = password.String
	conn.ConnectionString = connectionString.String
	conn.APIToken = apiToken.String
	conn.Options = options.String
	conn.LastStatus = model.RunStatus(lastStatus.String)
	conn.LastMessage = lastMessage.String
	if port.Valid {
		conn.Port = int(port.Int64)
	}
	if lastTestedAt.Valid {
		conn.LastTestedAt = &lastTestedAt.Time
	}
	return &conn, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
