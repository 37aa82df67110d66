package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"
)

// sqliteIndex mirrors the store into a private in-memory SQLite database and
// answers the per-title and title-list queries. Nothing touches disk; the
// database lives as long as the store.
type sqliteIndex struct {
	db *sql.DB
}

func openIndex() (*sqliteIndex, error) {
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared&_pragma=busy_timeout(10000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// A named in-memory database disappears with its last connection.
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(0)
	db.SetConnMaxLifetime(0)

	if _, err = db.Exec(`CREATE TABLE IF NOT EXISTS messages (
        seq INTEGER PRIMARY KEY AUTOINCREMENT,
        id TEXT NOT NULL,
        title TEXT NOT NULL,
        role TEXT NOT NULL,
        content TEXT NOT NULL,
        timestamp TEXT NOT NULL,
        created_at INTEGER NOT NULL
    );`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create messages table: %w", err)
	}
	if _, err = db.Exec(`CREATE INDEX IF NOT EXISTS messages_title_seq ON messages (title, seq);`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create title index: %w", err)
	}
	return &sqliteIndex{db: db}, nil
}

// insert writes msgs in one transaction so a turn is either fully indexed or not at all.
func (x *sqliteIndex) insert(msgs []Message) error {
	tx, err := x.db.Begin()
	if err != nil {
		return err
	}
	for _, m := range msgs {
		if _, err := tx.Exec(`INSERT INTO messages (id, title, role, content, timestamp, created_at) VALUES (?,?,?,?,?,?);`,
			m.ID, m.Title, string(m.Role), m.Content, m.Timestamp, m.CreatedAt.UnixNano()); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (x *sqliteIndex) list(title string) ([]Message, error) {
	rows, err := x.db.Query(`SELECT id, title, role, content, timestamp, created_at FROM messages WHERE title = ? ORDER BY seq ASC;`, title)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m       Message
			role    string
			created int64
		)
		if err := rows.Scan(&m.ID, &m.Title, &role, &m.Content, &m.Timestamp, &created); err != nil {
			return nil, err
		}
		m.Role = Role(role)
		m.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

func (x *sqliteIndex) titles() ([]string, error) {
	rows, err := x.db.Query(`SELECT title FROM messages GROUP BY title ORDER BY MIN(seq) ASC;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (x *sqliteIndex) close() error {
	return x.db.Close()
}
