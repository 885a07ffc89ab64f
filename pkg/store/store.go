// Package store persists the state the pipeline carries between runs: per-feed
// last fetch times and per-feed dedup records.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-pkgz/repeater/v2"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // pure Go SQLite driver
)

//go:embed schema.sql
var schema string

// hashDelimiter joins the ordered identity hashes of a dedup record
const hashDelimiter = ","

// Store wraps the database connection
type Store struct {
	conn *sqlx.DB
}

// New opens the database and initializes the schema
func New(dsn string) (*Store, error) {
	if dsn == "" {
		dsn = "file:rssbot.db?cache=shared&mode=rwc"
	}

	conn, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			return nil, fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	if _, err := conn.Exec(schema); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.conn.Close()
}

// LastFetchTimes returns the last successful fetch time of every known feed
func (s *Store) LastFetchTimes(ctx context.Context) (map[string]time.Time, error) {
	rows := []struct {
		Feed      string `db:"feed"`
		FetchedAt int64  `db:"fetched_at"`
	}{}
	if err := s.conn.SelectContext(ctx, &rows, `SELECT feed, fetched_at FROM last_fetch_times`); err != nil {
		return nil, fmt.Errorf("get last fetch times: %w", err)
	}
	res := make(map[string]time.Time, len(rows))
	for _, r := range rows {
		res[r.Feed] = time.Unix(r.FetchedAt, 0)
	}
	return res, nil
}

// SetLastFetchTime records a successful fetch of the feed
func (s *Store) SetLastFetchTime(ctx context.Context, feed string, ts time.Time) error {
	return s.withRetry(ctx, func() error {
		_, err := s.conn.ExecContext(ctx,
			`INSERT INTO last_fetch_times (feed, fetched_at) VALUES (?, ?)
			 ON CONFLICT(feed) DO UPDATE SET fetched_at = excluded.fetched_at`,
			feed, ts.Unix())
		if err != nil {
			return fmt.Errorf("set last fetch time: %w", err)
		}
		return nil
	})
}

// DedupRecord returns the ordered identity hashes persisted for the feed;
// empty when the feed has never delivered anything
func (s *Store) DedupRecord(ctx context.Context, feed string) ([]string, error) {
	var joined string
	err := s.conn.GetContext(ctx, &joined, `SELECT hashes FROM dedup_records WHERE feed = ?`, feed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get dedup record: %w", err)
	}
	if joined == "" {
		return nil, nil
	}
	return strings.Split(joined, hashDelimiter), nil
}

// ReplaceDedupRecord overwrites the feed's record with exactly the given
// hashes; the previous record is superseded, not extended
func (s *Store) ReplaceDedupRecord(ctx context.Context, feed string, hashes []string) error {
	return s.withRetry(ctx, func() error {
		_, err := s.conn.ExecContext(ctx,
			`INSERT INTO dedup_records (feed, hashes) VALUES (?, ?)
			 ON CONFLICT(feed) DO UPDATE SET hashes = excluded.hashes`,
			feed, strings.Join(hashes, hashDelimiter))
		if err != nil {
			return fmt.Errorf("replace dedup record: %w", err)
		}
		return nil
	})
}

// errNonRetriable marks write failures another attempt cannot help with,
// constraint violations and the like; repeater stops on it immediately
var errNonRetriable = errors.New("non-retriable")

// withRetry retries writes on sqlite lock contention, anything else fails the
// first attempt
func (s *Store) withRetry(ctx context.Context, fn func() error) error {
	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))
	return retrier.Do(ctx, func() error {
		err := fn()
		if err != nil && !isLockError(err) {
			return fmt.Errorf("%w: %w", errNonRetriable, err)
		}
		return err
	}, errNonRetriable)
}

// isLockError checks if an error is a SQLite lock/busy error
func isLockError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "SQLITE_BUSY") ||
		strings.Contains(errStr, "database is locked") ||
		strings.Contains(errStr, "database table is locked")
}
