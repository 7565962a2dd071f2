package chat

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/zhouzirui/z-chat/internal/model/chat"
)

// SQLiteStore persists channels and messages with mattn/go-sqlite3.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// SQLiteDSNForFile builds a DSN with WAL, a busy timeout and foreign keys.
func SQLiteDSNForFile(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("sqlite store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}

// NewSQLiteStore opens the database and applies the schema.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: open")
	}
	// One writer at a time; also keeps ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS channels (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			last_seq INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS channel_members (
			channel_id INTEGER NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL,
			joined_at_ms INTEGER NOT NULL,
			PRIMARY KEY (channel_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			channel_id INTEGER NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			author_id TEXT NOT NULL,
			author_name TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL,
			UNIQUE (channel_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_channel_members_user ON channel_members(user_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return errors.Wrap(err, "sqlite store: migrate")
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func channelKey(id chat.ID) (int64, error) {
	n, ok := id.Int64()
	if !ok {
		return 0, ErrChannelNotFound
	}
	return n, nil
}

func (s *SQLiteStore) CreateChannel(ctx context.Context, name string) (chat.Channel, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return chat.Channel{}, ErrChannelName
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO channels (name) VALUES (?)`, name)
	if err != nil {
		return chat.Channel{}, errors.Wrap(err, "sqlite store: create channel")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return chat.Channel{}, errors.Wrap(err, "sqlite store: channel id")
	}
	return chat.Channel{ID: chat.NumericID(id), Name: name}, nil
}

func (s *SQLiteStore) Channel(ctx context.Context, id chat.ID) (chat.Channel, error) {
	key, err := channelKey(id)
	if err != nil {
		return chat.Channel{}, err
	}
	var name string
	err = s.db.QueryRowContext(ctx, `SELECT name FROM channels WHERE id = ?`, key).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Channel{}, ErrChannelNotFound
	}
	if err != nil {
		return chat.Channel{}, errors.Wrap(err, "sqlite store: get channel")
	}
	return chat.Channel{ID: chat.NumericID(key), Name: name}, nil
}

func (s *SQLiteStore) ChannelsOf(ctx context.Context, userID chat.ID) ([]chat.Channel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.name
		FROM channels c
		JOIN channel_members m ON m.channel_id = c.id
		WHERE m.user_id = ?
		ORDER BY c.id
	`, userID.String())
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: list channels")
	}
	defer rows.Close()

	out := []chat.Channel{}
	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, errors.Wrap(err, "sqlite store: scan channel")
		}
		out = append(out, chat.Channel{ID: chat.NumericID(id), Name: name})
	}
	return out, errors.Wrap(rows.Err(), "sqlite store: list channels")
}

func (s *SQLiteStore) Members(ctx context.Context, channelID chat.ID) ([]chat.ID, error) {
	if _, err := s.Channel(ctx, channelID); err != nil {
		return nil, err
	}
	key, _ := channelKey(channelID)
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM channel_members WHERE channel_id = ? ORDER BY joined_at_ms, user_id
	`, key)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: list members")
	}
	defer rows.Close()

	var out []chat.ID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "sqlite store: scan member")
		}
		out = append(out, chat.ID(id))
	}
	return out, errors.Wrap(rows.Err(), "sqlite store: list members")
}

func (s *SQLiteStore) AddMember(ctx context.Context, channelID, userID chat.ID) error {
	if _, err := s.Channel(ctx, channelID); err != nil {
		return err
	}
	key, _ := channelKey(channelID)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channel_members (channel_id, user_id, joined_at_ms) VALUES (?, ?, ?)
		ON CONFLICT(channel_id, user_id) DO NOTHING
	`, key, userID.String(), time.Now().UnixMilli())
	return errors.Wrap(err, "sqlite store: add member")
}

func (s *SQLiteStore) RemoveMember(ctx context.Context, channelID, userID chat.ID) error {
	if _, err := s.Channel(ctx, channelID); err != nil {
		return err
	}
	key, _ := channelKey(channelID)
	res, err := s.db.ExecContext(ctx, `DELETE FROM channel_members WHERE channel_id = ? AND user_id = ?`, key, userID.String())
	if err != nil {
		return errors.Wrap(err, "sqlite store: remove member")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotMember
	}
	return nil
}

func (s *SQLiteStore) IsMember(ctx context.Context, channelID, userID chat.ID) (bool, error) {
	if _, err := s.Channel(ctx, channelID); err != nil {
		return false, err
	}
	key, _ := channelKey(channelID)
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM channel_members WHERE channel_id = ? AND user_id = ?
	`, key, userID.String()).Scan(&n)
	if err != nil {
		return false, errors.Wrap(err, "sqlite store: check member")
	}
	return n > 0, nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, msg chat.Message) (chat.Message, error) {
	key, err := channelKey(msg.ChannelID)
	if err != nil {
		return chat.Message{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return chat.Message{}, errors.Wrap(err, "sqlite store: begin")
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE channels SET last_seq = last_seq + 1 WHERE id = ?`, key)
	if err != nil {
		return chat.Message{}, errors.Wrap(err, "sqlite store: bump seq")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return chat.Message{}, ErrChannelNotFound
	}

	var (
		seq  int64
		name string
	)
	if err := tx.QueryRowContext(ctx, `SELECT last_seq, name FROM channels WHERE id = ?`, key).Scan(&seq, &name); err != nil {
		return chat.Message{}, errors.Wrap(err, "sqlite store: read seq")
	}

	created := time.Now().UTC().Truncate(time.Millisecond)
	res, err = tx.ExecContext(ctx, `
		INSERT INTO messages (channel_id, seq, author_id, author_name, content, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?)
	`, key, seq, msg.AuthorID.String(), msg.AuthorName, msg.Content, created.UnixMilli())
	if err != nil {
		return chat.Message{}, errors.Wrap(err, "sqlite store: insert message")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return chat.Message{}, errors.Wrap(err, "sqlite store: message id")
	}
	if err := tx.Commit(); err != nil {
		return chat.Message{}, errors.Wrap(err, "sqlite store: commit")
	}

	msg.ID = chat.NumericID(id)
	msg.Seq = seq
	msg.ChannelName = name
	msg.CreatedAt = created
	return msg, nil
}

const messageColumns = `m.id, m.channel_id, c.name, m.seq, m.author_id, m.author_name, m.content, m.created_at_ms`

func scanMessages(rows *sql.Rows) ([]chat.Message, error) {
	defer rows.Close()
	out := []chat.Message{}
	for rows.Next() {
		var (
			id, channelID, seq, createdMs int64
			channelName, authorID         string
			authorName, content           string
		)
		if err := rows.Scan(&id, &channelID, &channelName, &seq, &authorID, &authorName, &content, &createdMs); err != nil {
			return nil, errors.Wrap(err, "sqlite store: scan message")
		}
		out = append(out, chat.Message{
			ID:          chat.NumericID(id),
			ChannelID:   chat.NumericID(channelID),
			ChannelName: channelName,
			AuthorID:    chat.ID(authorID),
			AuthorName:  authorName,
			Content:     content,
			Seq:         seq,
			CreatedAt:   time.UnixMilli(createdMs).UTC(),
		})
	}
	return out, errors.Wrap(rows.Err(), "sqlite store: read messages")
}

func (s *SQLiteStore) Messages(ctx context.Context, channelID chat.ID, q PageQuery) (chat.Page[chat.Message], error) {
	q = q.normalized()
	if _, err := s.Channel(ctx, channelID); err != nil {
		return chat.Page[chat.Message]{}, err
	}
	key, _ := channelKey(channelID)

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM messages WHERE channel_id = ?`, key).Scan(&total); err != nil {
		return chat.Page[chat.Message]{}, errors.Wrap(err, "sqlite store: count messages")
	}

	direction := "ASC"
	if q.Descending {
		direction = "DESC"
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages m JOIN channels c ON c.id = m.channel_id
		WHERE m.channel_id = ?
		ORDER BY m.seq `+direction+`
		LIMIT ? OFFSET ?
	`, key, q.Size, q.Page*q.Size)
	if err != nil {
		return chat.Page[chat.Message]{}, errors.Wrap(err, "sqlite store: page messages")
	}
	msgs, err := scanMessages(rows)
	if err != nil {
		return chat.Page[chat.Message]{}, err
	}
	return buildPage(msgs, total, q), nil
}

func (s *SQLiteStore) AllMessages(ctx context.Context, channelID chat.ID) ([]chat.Message, error) {
	if _, err := s.Channel(ctx, channelID); err != nil {
		return nil, err
	}
	key, _ := channelKey(channelID)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages m JOIN channels c ON c.id = m.channel_id
		WHERE m.channel_id = ?
		ORDER BY m.seq ASC
	`, key)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: list messages")
	}
	return scanMessages(rows)
}

// String describes the store for logs.
func (s *SQLiteStore) String() string { return "sqlite" }
