// Package store persists conversations and their messages in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/capitalize-ai/persona-dialogue/internal/model"
)

var (
	// ErrNotFound is returned when a conversation does not exist.
	ErrNotFound = errors.New("store: conversation not found")
	// ErrConflict is returned when an append races another writer or targets
	// a completed conversation.
	ErrConflict = errors.New("store: conversation modified concurrently")
)

// timeFormat is fixed width so that text ordering matches time ordering.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Store is a SQLite-backed conversation store.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at dsn and applies the schema.
// The DSN may be a file path or ":memory:".
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", withDefaults(dsn))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps ":memory:"
	// databases shared across calls.
	db.SetMaxOpenConns(1)

	s, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection and applies the schema.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("store migrate: %w", err)
	}
	return s, nil
}

func withDefaults(dsn string) string {
	params := []string{"_foreign_keys=on", "_busy_timeout=5000", "_txlock=immediate"}
	var missing []string
	for _, p := range params {
		key := p[:strings.Index(p, "=")]
		if !strings.Contains(dsn, key+"=") {
			missing = append(missing, p)
		}
	}
	if len(missing) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(missing, "&")
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS conversations (
			id                  TEXT PRIMARY KEY,
			agent1_personality  TEXT NOT NULL,
			agent2_personality  TEXT NOT NULL,
			topic               TEXT NOT NULL,
			conversation_length INTEGER NOT NULL,
			politeness_level    TEXT NOT NULL,
			status              TEXT NOT NULL,
			start_time          TEXT NOT NULL,
			end_time            TEXT
		);

		CREATE TABLE IF NOT EXISTS messages (
			id               TEXT PRIMARY KEY,
			conversation_id  TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			sequence         INTEGER NOT NULL,
			agent_type       TEXT NOT NULL,
			phase            TEXT NOT NULL,
			iteration_number INTEGER NOT NULL,
			content          TEXT NOT NULL,
			created_at       TEXT NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_sequence
			ON messages(conversation_id, sequence);
		CREATE INDEX IF NOT EXISTS idx_messages_created
			ON messages(conversation_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_conversations_start
			ON conversations(start_time DESC);
	`)
	return err
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateConversation inserts a conversation together with its first message.
func (s *Store) CreateConversation(ctx context.Context, conv *model.Conversation, first *model.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (
			id, agent1_personality, agent2_personality, topic,
			conversation_length, politeness_level, status, start_time, end_time
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.Agent1Personality, conv.Agent2Personality, conv.Topic,
		conv.ConversationLength, string(conv.PolitenessLevel), string(conv.Status),
		formatTime(conv.StartTime), nullableTime(conv.EndTime),
	)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}

	if first != nil {
		if err := insertMessage(ctx, tx, first); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// AppendMessage stores msg as the next message of its conversation. When
// completedAt is non-nil the conversation is marked completed in the same
// transaction. The write is rejected with ErrConflict if the conversation is
// already completed or its message count is no longer msg.Sequence-1.
func (s *Store) AppendMessage(ctx context.Context, msg *model.Message, completedAt *time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var status string
	var count int
	err = tx.QueryRowContext(ctx, `
		SELECT c.status, (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
		FROM conversations c WHERE c.id = ?`, msg.ConversationID,
	).Scan(&status, &count)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read conversation state: %w", err)
	}
	if model.Status(status) == model.StatusCompleted || count != msg.Sequence-1 {
		return ErrConflict
	}

	if err := insertMessage(ctx, tx, msg); err != nil {
		return err
	}

	if completedAt != nil {
		_, err = tx.ExecContext(ctx,
			`UPDATE conversations SET status = ?, end_time = ? WHERE id = ? AND status = ?`,
			string(model.StatusCompleted), formatTime(*completedAt),
			msg.ConversationID, string(model.StatusInProgress),
		)
		if err != nil {
			return fmt.Errorf("complete conversation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func insertMessage(ctx context.Context, tx *sql.Tx, msg *model.Message) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO messages (
			id, conversation_id, sequence, agent_type, phase,
			iteration_number, content, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.Sequence, string(msg.AgentType),
		string(msg.Phase), msg.IterationNumber, msg.Content, formatTime(msg.Timestamp),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

const conversationColumns = `
	c.id, c.agent1_personality, c.agent2_personality, c.topic,
	c.conversation_length, c.politeness_level, c.status, c.start_time, c.end_time,
	(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)`

// GetConversation returns the conversation with the given id.
func (s *Store) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations c WHERE c.id = ?`, id)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

// ListConversations returns conversations newest first along with the total count.
func (s *Store) ListConversations(ctx context.Context, limit, offset int) ([]model.Conversation, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count conversations: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations c
		ORDER BY c.start_time DESC, c.id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	convs := []model.Conversation{}
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, *conv)
	}
	return convs, total, rows.Err()
}

// DeleteConversation removes a conversation; its messages cascade.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListMessages returns the messages of a conversation in timestamp order.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, sequence, agent_type, phase,
			iteration_number, content, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at, sequence`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		var m model.Message
		var agent, phase, created string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Sequence, &agent, &phase,
			&m.IterationNumber, &m.Content, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.AgentType = model.Speaker(agent)
		m.Phase = model.ParsePhase(phase)
		if m.Timestamp, err = parseTime(created); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner) (*model.Conversation, error) {
	var c model.Conversation
	var politeness, status, start string
	var end sql.NullString
	if err := row.Scan(&c.ID, &c.Agent1Personality, &c.Agent2Personality, &c.Topic,
		&c.ConversationLength, &politeness, &status, &start, &end, &c.MessageCount); err != nil {
		return nil, err
	}
	c.PolitenessLevel = model.ParsePoliteness(politeness)
	c.Status = model.Status(status)

	var err error
	if c.StartTime, err = parseTime(start); err != nil {
		return nil, err
	}
	if end.Valid {
		t, err := parseTime(end.String)
		if err != nil {
			return nil, err
		}
		c.EndTime = &t
	}
	return &c, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}
