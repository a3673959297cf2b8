package usage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/abia-desktop/abia/llm"
	"github.com/abia-desktop/abia/migrations"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

const tableName = "token_usage"

// Stats aggregates recorded token usage. Today and Month count from local
// midnight and the first day of the current month.
type Stats struct {
	Today     llm.Usage `json:"today"`
	Month     llm.Usage `json:"month"`
	Total     llm.Usage `json:"total"`
	Calls     int64     `json:"calls"`
	LastCall  time.Time `json:"lastCall,omitempty"`
	LastModel string    `json:"lastModel,omitempty"`
}

// Store persists token usage in sqlite.
// It implements deepseek.UsageRecorder.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time
	owned  bool
}

// Option customizes the store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps and period
// boundaries (useful for tests).
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open opens (or creates) the sqlite database at path and applies migrations.
func Open(path string, logger zerolog.Logger, opts ...Option) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create usage db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open usage db: %w", err)
	}
	// sqlite serialises writers; one connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if err := migrations.RunMigrations(db, logger); err != nil {
		_ = db.Close() //nolint:errcheck // Cleanup on error
		return nil, err
	}

	s := NewStore(db, logger, opts...)
	s.owned = true
	return s, nil
}

// NewStore wraps an already migrated database.
func NewStore(db *sql.DB, logger zerolog.Logger, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: logger.With().Str("component", "usageStore").Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close closes the database if the store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

// Record stores the token usage of one successful request.
func (s *Store) Record(ctx context.Context, model string, usage llm.Usage) error {
	query := sq.Insert(tableName).
		Columns("model", "input_tokens", "output_tokens", "created_at").
		Values(model, usage.InputTokens, usage.OutputTokens, s.now().Unix())

	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, queryStr, args...); err != nil {
		return fmt.Errorf("insert token usage: %w", err)
	}

	s.logger.Debug().
		Str("model", model).
		Int64("input_tokens", usage.InputTokens).
		Int64("output_tokens", usage.OutputTokens).
		Msg("Recorded token usage")
	return nil
}

// Stats returns usage totals for today, this month and all time, plus the
// most recent call.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	now := s.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	var stats Stats
	var err error
	if stats.Today, _, err = s.sumSince(ctx, midnight); err != nil {
		return Stats{}, err
	}
	if stats.Month, _, err = s.sumSince(ctx, monthStart); err != nil {
		return Stats{}, err
	}
	if stats.Total, stats.Calls, err = s.sumSince(ctx, time.Time{}); err != nil {
		return Stats{}, err
	}

	lastModel, lastCall, err := s.lastCall(ctx)
	if err != nil {
		return Stats{}, err
	}
	stats.LastModel = lastModel
	stats.LastCall = lastCall
	return stats, nil
}

func (s *Store) sumSince(ctx context.Context, since time.Time) (llm.Usage, int64, error) {
	query := sq.Select(
		"COALESCE(SUM(input_tokens), 0)",
		"COALESCE(SUM(output_tokens), 0)",
		"COUNT(*)",
	).From(tableName)
	if !since.IsZero() {
		query = query.Where(sq.GtOrEq{"created_at": since.Unix()})
	}

	queryStr, args, err := query.ToSql()
	if err != nil {
		return llm.Usage{}, 0, fmt.Errorf("build query: %w", err)
	}

	var u llm.Usage
	var calls int64
	if err := s.db.QueryRowContext(ctx, queryStr, args...).Scan(&u.InputTokens, &u.OutputTokens, &calls); err != nil {
		return llm.Usage{}, 0, fmt.Errorf("sum token usage: %w", err)
	}
	return u, calls, nil
}

func (s *Store) lastCall(ctx context.Context) (string, time.Time, error) {
	queryStr, args, err := sq.Select("model", "created_at").
		From(tableName).
		OrderBy("created_at DESC", "id DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("build query: %w", err)
	}

	var model string
	var createdAt int64
	err = s.db.QueryRowContext(ctx, queryStr, args...).Scan(&model, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", time.Time{}, nil
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("query last call: %w", err)
	}
	return model, time.Unix(createdAt, 0), nil
}

// Reset deletes every recorded row.
func (s *Store) Reset(ctx context.Context) error {
	queryStr, args, err := sq.Delete(tableName).ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, queryStr, args...); err != nil {
		return fmt.Errorf("reset token usage: %w", err)
	}
	s.logger.Info().Msg("Token usage reset")
	return nil
}
