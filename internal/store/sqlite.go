package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/pairlab/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on SQLite.
type SQLiteStore struct {
	db  *sql.DB
	hub *hub
}

// NewSQLite opens (or creates) a SQLite-backed store at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	st := &SQLiteStore{db: db, hub: newHub()}
	if err := st.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return st, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		archived INTEGER NOT NULL DEFAULT 0,
		p1_left_notified INTEGER NOT NULL DEFAULT 0,
		p2_left_notified INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_archived ON sessions(archived);

	CREATE TABLE IF NOT EXISTS presence (
		session_id TEXT NOT NULL,
		slot TEXT NOT NULL,
		online INTEGER NOT NULL DEFAULT 0,
		last_seen INTEGER NOT NULL DEFAULT 0,
		heartbeat INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, slot)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		sender TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		event_key TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, timestamp);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_event_key
		ON messages(session_id, event_key) WHERE event_key != '';

	CREATE TABLE IF NOT EXISTS interaction_logs (
		log_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		start_time INTEGER NOT NULL,
		end_time INTEGER,
		duration INTEGER,
		messages_json TEXT NOT NULL DEFAULT '[]',
		message_count INTEGER NOT NULL DEFAULT 0,
		p1_message_count INTEGER NOT NULL DEFAULT 0,
		p2_message_count INTEGER NOT NULL DEFAULT 0,
		system_message_count INTEGER NOT NULL DEFAULT 0,
		user_agent TEXT,
		platform TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_logs_start ON interaction_logs(start_time);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// Subscribe registers a change callback.
func (s *SQLiteStore) Subscribe(fn func(Event)) func() {
	return s.hub.subscribe(fn)
}

// GetSession retrieves a session document.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	query := `
		SELECT session_id, archived, p1_left_notified, p2_left_notified, created_at, updated_at
		FROM sessions WHERE session_id = ?`

	row := s.db.QueryRowContext(ctx, query, id)

	var sess domain.Session
	var createdAt, updatedAt int64
	err := row.Scan(
		&sess.ID, &sess.Archived,
		&sess.Participant1LeftNotified, &sess.Participant2LeftNotified,
		&createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	sess.CreatedAt = time.Unix(createdAt, 0)
	sess.UpdatedAt = time.Unix(updatedAt, 0)
	return &sess, nil
}

// MergeSession applies a partial update, creating the session if needed.
func (s *SQLiteStore) MergeSession(ctx context.Context, id string, patch domain.SessionPatch) error {
	if err := withWriteRetry(ctx, func() error {
		return s.mergeSession(ctx, id, patch)
	}); err != nil {
		return err
	}

	s.hub.broadcast(Event{SessionID: id, Kind: KindSession})
	return nil
}

func (s *SQLiteStore) mergeSession(ctx context.Context, id string, patch domain.SessionPatch) error {
	now := time.Now().Unix()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin merge session: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (session_id, archived, p1_left_notified, p2_left_notified, created_at, updated_at)
		 VALUES (?, 0, 0, 0, ?, ?)`, id, now, now)
	if err != nil {
		return fmt.Errorf("ensure session row: %w", err)
	}

	// COALESCE keeps stored values for fields the patch leaves nil.
	_, err = tx.ExecContext(ctx,
		`UPDATE sessions SET
			archived = COALESCE(?, archived),
			p1_left_notified = COALESCE(?, p1_left_notified),
			p2_left_notified = COALESCE(?, p2_left_notified),
			updated_at = ?
		 WHERE session_id = ?`,
		nullableBool(patch.Archived),
		nullableBool(patch.Participant1LeftNotified),
		nullableBool(patch.Participant2LeftNotified),
		now, id)
	if err != nil {
		return fmt.Errorf("merge session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit merge session: %w", err)
	}
	return nil
}

// ActiveSessions lists all sessions with archived == false.
func (s *SQLiteStore) ActiveSessions(ctx context.Context) ([]*domain.Session, error) {
	return s.listSessions(ctx, `WHERE archived = 0`)
}

// Sessions lists every session.
func (s *SQLiteStore) Sessions(ctx context.Context) ([]*domain.Session, error) {
	return s.listSessions(ctx, ``)
}

func (s *SQLiteStore) listSessions(ctx context.Context, where string) ([]*domain.Session, error) {
	query := `
		SELECT session_id, archived, p1_left_notified, p2_left_notified, created_at, updated_at
		FROM sessions ` + where + ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	var sessions []*domain.Session
	for rows.Next() {
		var sess domain.Session
		var createdAt, updatedAt int64
		if err := rows.Scan(
			&sess.ID, &sess.Archived,
			&sess.Participant1LeftNotified, &sess.Participant2LeftNotified,
			&createdAt, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sess.CreatedAt = time.Unix(createdAt, 0)
		sess.UpdatedAt = time.Unix(updatedAt, 0)
		sessions = append(sessions, &sess)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// GetPresence retrieves one slot's presence record.
func (s *SQLiteStore) GetPresence(ctx context.Context, sessionID string, slot domain.Slot) (*domain.PresenceRecord, error) {
	query := `SELECT online, last_seen, heartbeat FROM presence WHERE session_id = ? AND slot = ?`
	row := s.db.QueryRowContext(ctx, query, sessionID, string(slot))

	var rec domain.PresenceRecord
	var lastSeen int64
	err := row.Scan(&rec.Online, &lastSeen, &rec.Heartbeat)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan presence row: %w", err)
	}

	if lastSeen != 0 {
		rec.LastSeen = time.UnixMilli(lastSeen)
	}
	return &rec, nil
}

// MergePresence applies a partial update to one slot's record.
func (s *SQLiteStore) MergePresence(ctx context.Context, sessionID string, slot domain.Slot, patch domain.PresencePatch) error {
	if err := withWriteRetry(ctx, func() error {
		return s.mergePresence(ctx, sessionID, slot, patch)
	}); err != nil {
		return err
	}

	s.hub.broadcast(Event{SessionID: sessionID, Kind: KindPresence})
	return nil
}

func (s *SQLiteStore) mergePresence(ctx context.Context, sessionID string, slot domain.Slot, patch domain.PresencePatch) error {
	now := time.Now().Unix()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin merge presence: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO presence (session_id, slot, online, last_seen, heartbeat, updated_at)
		 VALUES (?, ?, 0, 0, 0, ?)`, sessionID, string(slot), now)
	if err != nil {
		return fmt.Errorf("ensure presence row: %w", err)
	}

	var lastSeen interface{}
	if patch.LastSeen != nil {
		lastSeen = patch.LastSeen.UnixMilli()
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE presence SET
			online = COALESCE(?, online),
			last_seen = COALESCE(?, last_seen),
			heartbeat = COALESCE(?, heartbeat),
			updated_at = ?
		 WHERE session_id = ? AND slot = ?`,
		nullableBool(patch.Online), lastSeen, nullableInt64(patch.Heartbeat),
		now, sessionID, string(slot))
	if err != nil {
		return fmt.Errorf("merge presence: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit merge presence: %w", err)
	}
	return nil
}

// AppendMessage appends to the transcript, deduplicating keyed events.
func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, msg domain.Message) (bool, error) {
	var rows int64
	err := withWriteRetry(ctx, func() error {
		// The partial unique index turns duplicate event keys into no-ops.
		result, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO messages (session_id, sender, content, timestamp, event_key)
			 VALUES (?, ?, ?, ?, ?)`,
			sessionID, string(msg.Sender), msg.Content, msg.Timestamp.UnixMilli(), msg.EventKey)
		if err != nil {
			return err
		}
		rows, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("append message: %w", err)
	}
	if rows == 0 {
		slog.Debug("duplicate event append suppressed",
			"session_id", sessionID, "event_key", msg.EventKey)
		return false, nil
	}

	s.hub.broadcast(Event{SessionID: sessionID, Kind: KindMessage})
	return true, nil
}

// Messages returns the ordered transcript for a session.
func (s *SQLiteStore) Messages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	query := `
		SELECT sender, content, timestamp, event_key
		FROM messages WHERE session_id = ? ORDER BY timestamp, id`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		var ts int64
		if err := rows.Scan(&m.Sender, &m.Content, &ts, &m.EventKey); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.Timestamp = time.UnixMilli(ts)
		msgs = append(msgs, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// CreateInteractionLog stores a new interaction log document.
func (s *SQLiteStore) CreateInteractionLog(ctx context.Context, log *domain.InteractionLog) error {
	messagesJSON, err := json.Marshal(log.Messages)
	if err != nil {
		return fmt.Errorf("marshal log messages: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO interaction_logs (
			log_id, session_id, start_time, end_time, duration, messages_json,
			message_count, p1_message_count, p2_message_count, system_message_count,
			user_agent, platform
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.SessionID, log.StartTime.UnixMilli(), nullableTime(log.EndTime),
		log.Duration, string(messagesJSON),
		log.MessageCount, log.Participant1MessageCount,
		log.Participant2MessageCount, log.SystemMessageCount,
		log.Metadata.UserAgent, log.Metadata.Platform)
	if err != nil {
		return fmt.Errorf("create interaction log: %w", err)
	}
	return nil
}

// GetInteractionLog retrieves an interaction log by ID.
func (s *SQLiteStore) GetInteractionLog(ctx context.Context, id string) (*domain.InteractionLog, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT log_id, session_id, start_time, end_time, duration, messages_json,
			message_count, p1_message_count, p2_message_count, system_message_count,
			user_agent, platform
		 FROM interaction_logs WHERE log_id = ?`, id)

	log, err := scanLog(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan interaction log: %w", err)
	}
	return log, nil
}

// UpdateInteractionLog replaces an interaction log document.
func (s *SQLiteStore) UpdateInteractionLog(ctx context.Context, log *domain.InteractionLog) error {
	messagesJSON, err := json.Marshal(log.Messages)
	if err != nil {
		return fmt.Errorf("marshal log messages: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE interaction_logs SET
			end_time = ?, duration = ?, messages_json = ?,
			message_count = ?, p1_message_count = ?, p2_message_count = ?,
			system_message_count = ?
		 WHERE log_id = ?`,
		nullableTime(log.EndTime), log.Duration, string(messagesJSON),
		log.MessageCount, log.Participant1MessageCount,
		log.Participant2MessageCount, log.SystemMessageCount, log.ID)
	if err != nil {
		return fmt.Errorf("update interaction log: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("interaction log not found: %s", log.ID)
	}
	return nil
}

// ListInteractionLogs returns logs ordered by start time descending.
func (s *SQLiteStore) ListInteractionLogs(ctx context.Context, q LogQuery) ([]*domain.InteractionLog, error) {
	query := `
		SELECT log_id, session_id, start_time, end_time, duration, messages_json,
			message_count, p1_message_count, p2_message_count, system_message_count,
			user_agent, platform
		FROM interaction_logs`
	var args []interface{}
	var conds []string

	if !q.Start.IsZero() {
		conds = append(conds, `start_time >= ?`)
		args = append(args, q.Start.UnixMilli())
	}
	if !q.End.IsZero() {
		conds = append(conds, `start_time <= ?`)
		args = append(args, q.End.UnixMilli())
	}
	for i, c := range conds {
		if i == 0 {
			query += ` WHERE ` + c
		} else {
			query += ` AND ` + c
		}
	}

	query += ` ORDER BY start_time DESC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query interaction logs: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close interaction log rows", "error", closeErr)
		}
	}()

	var logs []*domain.InteractionLog
	for rows.Next() {
		log, err := scanLog(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan interaction log row: %w", err)
		}
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate interaction logs: %w", err)
	}
	return logs, nil
}

func scanLog(scan func(...interface{}) error) (*domain.InteractionLog, error) {
	var log domain.InteractionLog
	var startTime int64
	var endTime, duration sql.NullInt64
	var messagesJSON string
	var userAgent, platform sql.NullString

	err := scan(
		&log.ID, &log.SessionID, &startTime, &endTime, &duration, &messagesJSON,
		&log.MessageCount, &log.Participant1MessageCount,
		&log.Participant2MessageCount, &log.SystemMessageCount,
		&userAgent, &platform,
	)
	if err != nil {
		return nil, err
	}

	log.StartTime = time.UnixMilli(startTime)
	if endTime.Valid && endTime.Int64 != 0 {
		log.EndTime = time.UnixMilli(endTime.Int64)
	}
	log.Duration = int(duration.Int64)
	log.Metadata.UserAgent = userAgent.String
	log.Metadata.Platform = platform.String

	if err := json.Unmarshal([]byte(messagesJSON), &log.Messages); err != nil {
		return nil, fmt.Errorf("unmarshal log messages: %w", err)
	}
	return &log, nil
}

func nullableBool(v *bool) interface{} {
	if v == nil {
		return nil
	}
	if *v {
		return 1
	}
	return 0
}

func nullableInt64(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}
