// Package storage persists reference content and the peer answer corpus of
// every assignment.
package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/spigell/grader/internal/plagiarism"
)

var (
	// ErrNotFound is returned when the requested content was never stored.
	ErrNotFound = errors.New("not found")
	// ErrExists is returned when a peer answer with the same ID is already stored.
	ErrExists = errors.New("already exists")
	// ErrInvalidID is returned for identifiers that cannot be stored safely.
	ErrInvalidID = errors.New("invalid identifier")
)

const (
	DriverFS       = "fs"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverS3       = "s3"
)

// Kind names a piece of reference content kept per assignment.
type Kind string

const (
	KindModelAnswer Kind = "model_answer"
	KindRubric      Kind = "rubric"
)

// Store keeps model answers, rubrics and the append-only peer corpus.
type Store interface {
	// Init prepares the backing storage. It is called once at startup.
	Init(ctx context.Context) error

	SaveModelAnswer(ctx context.Context, assignmentID, content string) error
	ModelAnswer(ctx context.Context, assignmentID string) (string, error)
	SaveRubric(ctx context.Context, assignmentID, content string) error
	Rubric(ctx context.Context, assignmentID string) (string, error)

	// AppendPeerAnswer adds an answer to the corpus. Stored answers are never
	// replaced; a second answer under the same peer ID yields ErrExists.
	AppendPeerAnswer(ctx context.Context, assignmentID, peerID, content string) error
	// PeerAnswers returns the corpus of an assignment in insertion order.
	PeerAnswers(ctx context.Context, assignmentID string) ([]plagiarism.Document, error)
	// Assignments lists every assignment with stored content.
	Assignments(ctx context.Context) ([]string, error)

	Close() error
}

// Config selects a driver. Options are decoded into the driver's own options.
type Config struct {
	Driver  string         `mapstructure:"driver"`
	Options map[string]any `mapstructure:"options"`
}

// New builds the store described by cfg. The store still has to be initialised.
func New(ctx context.Context, cfg Config, log *zap.Logger) (Store, error) {
	if log == nil {
		log = zap.NewNop()
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = DriverFS
	}
	log = log.With(zap.String("storage_driver", driver))

	switch driver {
	case DriverFS:
		var opts FSOptions
		if err := decodeOptions(cfg.Options, &opts); err != nil {
			return nil, err
		}
		return NewFS(opts, log), nil
	case DriverSQLite:
		var opts SQLiteOptions
		if err := decodeOptions(cfg.Options, &opts); err != nil {
			return nil, err
		}
		return NewSQLite(opts, log)
	case DriverPostgres:
		var opts PostgresOptions
		if err := decodeOptions(cfg.Options, &opts); err != nil {
			return nil, err
		}
		return NewPostgres(opts, log)
	case DriverS3:
		var opts S3Options
		if err := decodeOptions(cfg.Options, &opts); err != nil {
			return nil, err
		}
		return NewS3(ctx, opts, log)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func decodeOptions(input map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("create options decoder: %w", err)
	}

	if err := decoder.Decode(input); err != nil {
		return fmt.Errorf("decode storage options: %w", err)
	}
	return nil
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.@-]{0,127}$`)

// ValidateID reports whether id can be used as an assignment or peer ID.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// record is the serialized form of a stored text.
type record struct {
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

var (
	clockMu sync.Mutex
	lastNow time.Time
)

// now returns strictly increasing timestamps so created_at orders appends.
func now() time.Time {
	clockMu.Lock()
	defer clockMu.Unlock()

	t := time.Now().UTC()
	if !t.After(lastNow) {
		t = lastNow.Add(time.Nanosecond)
	}
	lastNow = t
	return t
}
