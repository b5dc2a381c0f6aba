// Package sqlstore keeps report messages in a SQLite3 database, as an
// alternative to the bbolt message buckets. Staff can query the file with
// ordinary SQL tooling.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/crystal-mush/mushcontrib/pkg/gamedb"
	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id      TEXT PRIMARY KEY,
	sender  INTEGER NOT NULL,
	body    TEXT NOT NULL,
	locks   TEXT NOT NULL DEFAULT '',
	created INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS message_receivers (
	msg_id   TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	receiver INTEGER NOT NULL,
	PRIMARY KEY (msg_id, receiver)
);
CREATE TABLE IF NOT EXISTS message_tags (
	msg_id   TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	tag      TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (msg_id, tag, category)
);
CREATE INDEX IF NOT EXISTS idx_receivers ON message_receivers(receiver);
CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender, created);
`

// Store manages a SQLite3 connection holding report messages.
type Store struct {
	db      *sql.DB
	mu      sync.Mutex
	path    string
	timeout time.Duration
}

// Open opens a SQLite3 database, sets WAL mode and busy timeout, and creates
// the message tables.
func Open(path string, timeoutSec int) (*Store, error) {
	if timeoutSec <= 0 {
		timeoutSec = 5
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", timeoutSec*1000),
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlstore: %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: create schema: %w", err)
	}
	return &Store{db: db, path: path, timeout: time.Duration(timeoutSec) * time.Second}, nil
}

// Close closes the SQLite3 database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the filesystem path of the SQLite database.
func (s *Store) Path() string { return s.path }

// Snapshot writes a consistent copy of the database to dest, which must not
// exist yet.
func (s *Store) Snapshot(dest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := s.ctx()
	defer cancel()
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("sqlstore: checkpoint: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		return fmt.Errorf("sqlstore: snapshot %s: %w", dest, err)
	}
	zap.L().Info("sqlstore: snapshot written", zap.String("path", dest))
	return nil
}

func (s *Store) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

// CreateMessage inserts a message with its receivers and tags.
func (s *Store) CreateMessage(msg *gamedb.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := s.ctx()
	defer cancel()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO messages (id, sender, body, locks, created) VALUES (?, ?, ?, ?, ?)`,
			msg.ID.String(), int(msg.Sender), msg.Body, msg.Locks, msg.Created.UnixNano())
		if err != nil {
			return fmt.Errorf("insert message %s: %w", msg.ID, err)
		}
		return writeRelations(ctx, tx, msg)
	})
}

// UpdateMessage replaces a message's body, locks, receivers and tags.
func (s *Store) UpdateMessage(msg *gamedb.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := s.ctx()
	defer cancel()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE messages SET body = ?, locks = ? WHERE id = ?`,
			msg.Body, msg.Locks, msg.ID.String())
		if err != nil {
			return fmt.Errorf("update message %s: %w", msg.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("update %s: %w", msg.ID, gamedb.ErrMessageNotFound)
		}
		for _, table := range []string{"message_receivers", "message_tags"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE msg_id = ?", msg.ID.String()); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		return writeRelations(ctx, tx, msg)
	})
}

func writeRelations(ctx context.Context, tx *sql.Tx, msg *gamedb.Message) error {
	for _, r := range msg.Receivers {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO message_receivers (msg_id, receiver) VALUES (?, ?)`,
			msg.ID.String(), int(r)); err != nil {
			return fmt.Errorf("insert receiver: %w", err)
		}
	}
	for _, t := range msg.Tags {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO message_tags (msg_id, tag, category) VALUES (?, ?, ?)`,
			msg.ID.String(), strings.ToLower(t.Key), t.Category); err != nil {
			return fmt.Errorf("insert tag: %w", err)
		}
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlstore: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: commit: %w", err)
	}
	return nil
}

// GetMessage loads one message by ID.
func (s *Store) GetMessage(id uuid.UUID) (*gamedb.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := s.ctx()
	defer cancel()

	msgs, err := s.query(ctx, `SELECT id, sender, body, locks, created FROM messages WHERE id = ?`, id.String())
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("sqlstore: get message %s: %w", id, gamedb.ErrMessageNotFound)
	}
	return msgs[0], nil
}

// SearchMessages returns messages matching q, newest first.
func (s *Store) SearchMessages(q gamedb.MessageQuery) ([]*gamedb.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := s.ctx()
	defer cancel()

	var where []string
	var args []any
	if q.Sender != gamedb.Nothing {
		where = append(where, "m.sender = ?")
		args = append(args, int(q.Sender))
	}
	if q.Receiver != gamedb.Nothing {
		where = append(where, "EXISTS (SELECT 1 FROM message_receivers r WHERE r.msg_id = m.id AND r.receiver = ?)")
		args = append(args, int(q.Receiver))
	}
	if q.Tag != "" {
		where = append(where, "EXISTS (SELECT 1 FROM message_tags t WHERE t.msg_id = m.id AND t.tag = ?)")
		args = append(args, strings.ToLower(q.Tag))
	}
	if q.ExcludeTag != "" {
		where = append(where, "NOT EXISTS (SELECT 1 FROM message_tags t WHERE t.msg_id = m.id AND t.tag = ?)")
		args = append(args, strings.ToLower(q.ExcludeTag))
	}

	stmt := "SELECT m.id, m.sender, m.body, m.locks, m.created FROM messages m"
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	stmt += " ORDER BY m.created DESC, m.id DESC"
	if q.Limit > 0 {
		stmt += fmt.Sprintf(" LIMIT %d", q.Limit)
	}
	return s.query(ctx, stmt, args...)
}

// query runs a message SELECT and hydrates receivers and tags.
func (s *Store) query(ctx context.Context, stmt string, args ...any) ([]*gamedb.Message, error) {
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: query: %w", err)
	}
	var out []*gamedb.Message
	for rows.Next() {
		var (
			id      string
			sender  int
			created int64
			msg     gamedb.Message
		)
		if err := rows.Scan(&id, &sender, &msg.Body, &msg.Locks, &created); err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlstore: scan: %w", err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlstore: bad message id %q: %w", id, err)
		}
		msg.ID = parsed
		msg.Sender = gamedb.DBRef(sender)
		msg.Created = time.Unix(0, created)
		out = append(out, &msg)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("sqlstore: rows: %w", err)
	}
	rows.Close()

	for _, msg := range out {
		if err := s.hydrate(ctx, msg); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) hydrate(ctx context.Context, msg *gamedb.Message) error {
	if err := s.hydrateReceivers(ctx, msg); err != nil {
		return err
	}
	return s.hydrateTags(ctx, msg)
}

func (s *Store) hydrateReceivers(ctx context.Context, msg *gamedb.Message) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT receiver FROM message_receivers WHERE msg_id = ? ORDER BY rowid`, msg.ID.String())
	if err != nil {
		return fmt.Errorf("sqlstore: receivers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var r int
		if err := rows.Scan(&r); err != nil {
			return fmt.Errorf("sqlstore: scan receiver: %w", err)
		}
		msg.Receivers = append(msg.Receivers, gamedb.DBRef(r))
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("sqlstore: receivers of %s: %w", msg.ID, err)
	}
	return nil
}

func (s *Store) hydrateTags(ctx context.Context, msg *gamedb.Message) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tag, category FROM message_tags WHERE msg_id = ? ORDER BY rowid`, msg.ID.String())
	if err != nil {
		return fmt.Errorf("sqlstore: tags: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var t gamedb.Tag
		if err := rows.Scan(&t.Key, &t.Category); err != nil {
			return fmt.Errorf("sqlstore: scan tag: %w", err)
		}
		msg.Tags = append(msg.Tags, t)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("sqlstore: tags of %s: %w", msg.ID, err)
	}
	return nil
}

// MessageCount returns the number of stored messages.
func (s *Store) MessageCount() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := s.ctx()
	defer cancel()
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlstore: count messages: %w", err)
	}
	return n, nil
}
