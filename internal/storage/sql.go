package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/spigell/grader/internal/plagiarism"
	"github.com/spigell/grader/internal/secrets"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS reference_content (
	assignment_id TEXT NOT NULL,
	kind          TEXT NOT NULL,
	content       TEXT NOT NULL,
	updated_at    TIMESTAMP NOT NULL,
	PRIMARY KEY (assignment_id, kind)
);
CREATE TABLE IF NOT EXISTS peer_answers (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	assignment_id TEXT NOT NULL,
	peer_id       TEXT NOT NULL,
	content       TEXT NOT NULL,
	created_at    TIMESTAMP NOT NULL,
	UNIQUE (assignment_id, peer_id)
);`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS reference_content (
	assignment_id TEXT NOT NULL,
	kind          TEXT NOT NULL,
	content       TEXT NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (assignment_id, kind)
);
CREATE TABLE IF NOT EXISTS peer_answers (
	id            BIGSERIAL PRIMARY KEY,
	assignment_id TEXT NOT NULL,
	peer_id       TEXT NOT NULL,
	content       TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	UNIQUE (assignment_id, peer_id)
);`

// SQLiteOptions configures the sqlite store.
type SQLiteOptions struct {
	Path string `mapstructure:"path"`
}

// PostgresOptions configures the postgres store. DSNFile takes precedence
// over DSN, and POSTGRES_DSN is used when neither is set.
type PostgresOptions struct {
	DSN     string `mapstructure:"dsn"`
	DSNFile string `mapstructure:"dsn-file"`
}

// SQL is a Store backed by a database/sql connection.
type SQL struct {
	db       *sql.DB
	driver   string
	schema   string
	numbered bool
	logger   *zap.Logger
}

// NewSQLite opens a sqlite database file, "data/grader.db" by default.
func NewSQLite(opts SQLiteOptions, log *zap.Logger) (*SQL, error) {
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		path = filepath.Join("data", "grader.db")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// ":memory:" databases live per connection.
	db.SetMaxOpenConns(1)

	return newSQL(db, DriverSQLite, sqliteSchema, false, log), nil
}

// NewPostgres opens a postgres connection pool.
func NewPostgres(opts PostgresOptions, log *zap.Logger) (*SQL, error) {
	dsn, err := secrets.Load(secrets.Source{
		Name:  "postgres dsn",
		Value: opts.DSN,
		File:  opts.DSNFile,
		Env:   []string{"POSTGRES_DSN"},
	})
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	return newSQL(db, DriverPostgres, postgresSchema, true, log), nil
}

func newSQL(db *sql.DB, driver, schema string, numbered bool, log *zap.Logger) *SQL {
	if log == nil {
		log = zap.NewNop()
	}
	return &SQL{db: db, driver: driver, schema: schema, numbered: numbered, logger: log}
}

func (s *SQL) Init(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("connect to %s: %w", s.driver, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range strings.Split(s.schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}

	s.logger.Debug("sql store ready")
	return nil
}

func (s *SQL) SaveModelAnswer(ctx context.Context, assignmentID, content string) error {
	return s.saveReference(ctx, KindModelAnswer, assignmentID, content)
}

func (s *SQL) ModelAnswer(ctx context.Context, assignmentID string) (string, error) {
	return s.loadReference(ctx, KindModelAnswer, assignmentID)
}

func (s *SQL) SaveRubric(ctx context.Context, assignmentID, content string) error {
	return s.saveReference(ctx, KindRubric, assignmentID, content)
}

func (s *SQL) Rubric(ctx context.Context, assignmentID string) (string, error) {
	return s.loadReference(ctx, KindRubric, assignmentID)
}

func (s *SQL) AppendPeerAnswer(ctx context.Context, assignmentID, peerID, content string) error {
	if err := ValidateID(assignmentID); err != nil {
		return err
	}
	if err := ValidateID(peerID); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO peer_answers (assignment_id, peer_id, content, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (assignment_id, peer_id) DO NOTHING`),
		assignmentID, peerID, content, now(),
	)
	if err != nil {
		return fmt.Errorf("insert peer answer: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert peer answer: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("peer answer %s/%s: %w", assignmentID, peerID, ErrExists)
	}
	return nil
}

func (s *SQL) PeerAnswers(ctx context.Context, assignmentID string) ([]plagiarism.Document, error) {
	if err := ValidateID(assignmentID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT peer_id, content FROM peer_answers WHERE assignment_id = ? ORDER BY id`),
		assignmentID,
	)
	if err != nil {
		return nil, fmt.Errorf("query peer answers: %w", err)
	}
	defer rows.Close()

	docs := make([]plagiarism.Document, 0)
	for rows.Next() {
		var doc plagiarism.Document
		if err := rows.Scan(&doc.ID, &doc.Text); err != nil {
			return nil, fmt.Errorf("scan peer answer: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read peer answers: %w", err)
	}
	return docs, nil
}

func (s *SQL) Assignments(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT assignment_id FROM reference_content UNION SELECT assignment_id FROM peer_answers ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("query assignments: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQL) Close() error {
	return s.db.Close()
}

func (s *SQL) saveReference(ctx context.Context, kind Kind, assignmentID, content string) error {
	if err := ValidateID(assignmentID); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO reference_content (assignment_id, kind, content, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (assignment_id, kind) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at`),
		assignmentID, string(kind), content, now(),
	)
	if err != nil {
		return fmt.Errorf("save %s: %w", kind, err)
	}
	return nil
}

func (s *SQL) loadReference(ctx context.Context, kind Kind, assignmentID string) (string, error) {
	if err := ValidateID(assignmentID); err != nil {
		return "", err
	}

	var content string
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT content FROM reference_content WHERE assignment_id = ? AND kind = ?`),
		assignmentID, string(kind),
	).Scan(&content)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%s for %s: %w", kind, assignmentID, ErrNotFound)
		}
		return "", fmt.Errorf("load %s: %w", kind, err)
	}
	return content, nil
}

// rebind turns "?" placeholders into "$n" for drivers that need them.
func (s *SQL) rebind(query string) string {
	if !s.numbered {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
