// Package sqlite persists generated posts using SQLite.
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gitscribe/gitscribe/model"
)

// Store manages post persistence in SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at the given path.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent read/write performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS posts (
			id         TEXT PRIMARY KEY,
			repository TEXT NOT NULL,
			title      TEXT NOT NULL,
			content    TEXT NOT NULL,
			format     TEXT NOT NULL DEFAULT 'markdown',
			language   TEXT NOT NULL DEFAULT '',
			tone       TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_posts_repository
			ON posts(repository);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle so other components (the snippet index)
// can share the same database file.
func (s *Store) DB() *sql.DB {
	return s.db
}

// SavePost inserts a new post. A zero CreatedAt is filled with the current time.
func (s *Store) SavePost(post *model.Post) error {
	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO posts (id, repository, title, content, format, language, tone, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		post.ID, post.Repository, post.Title, post.Content,
		post.Format, post.Language, post.Tone, post.CreatedAt,
	)
	return err
}

// GetPost retrieves a post by ID. A missing post yields model.ErrNotFound.
func (s *Store) GetPost(id string) (*model.Post, error) {
	row := s.db.QueryRow(
		`SELECT id, repository, title, content, format, language, tone, created_at
		 FROM posts WHERE id = ?`, id,
	)
	post, err := scanPost(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: post %s", model.ErrNotFound, id)
	}
	return post, err
}

// ListPosts returns posts ordered by creation time (newest first), optionally
// filtered by repository. limit <= 0 means no limit.
func (s *Store) ListPosts(repository string, limit int) ([]*model.Post, error) {
	q := `SELECT id, repository, title, content, format, language, tone, created_at
	      FROM posts`
	var args []any
	if repository != "" {
		q += " WHERE repository = ?"
		args = append(args, repository)
	}
	q += " ORDER BY created_at DESC"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []*model.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

// DeletePost removes a post by ID.
func (s *Store) DeletePost(id string) error {
	res, err := s.db.Exec(`DELETE FROM posts WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: post %s", model.ErrNotFound, id)
	}
	return nil
}

// --- Scan helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func scanPost(row scannable) (*model.Post, error) {
	post := &model.Post{}
	err := row.Scan(
		&post.ID, &post.Repository, &post.Title, &post.Content,
		&post.Format, &post.Language, &post.Tone, &post.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return post, nil
}
