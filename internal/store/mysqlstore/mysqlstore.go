// Package mysqlstore is the durable store.Store backend. It follows the
// teacher's sqldb options pattern (WithDSN/WithLogger over
// database/sql) and the upsert-with-conditional-update idiom from
// frontier_repository.go, translated from Postgres's ON CONFLICT to
// MySQL's INSERT IGNORE / SELECT ... FOR UPDATE / UPDATE inside one
// transaction.
package mysqlstore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/awaketai/urlfrontier/internal/store"
	"github.com/awaketai/urlfrontier/internal/types"
)

type options struct {
	logger          *zap.Logger
	dsn             string
	maxOpenConns    int
	maxIdleConns    int
	connMaxLifetime time.Duration
}

var defaultOptions = options{
	logger:          zap.NewNop(),
	maxOpenConns:    10,
	maxIdleConns:    10,
	connMaxLifetime: time.Hour,
}

// Option configures a MySQLStore.
type Option func(*options)

// WithLogger sets the structured logger used for query tracing.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithDSN sets the go-sql-driver/mysql data source name.
func WithDSN(dsn string) Option {
	return func(o *options) { o.dsn = dsn }
}

// WithPool overrides the connection pool sizing.
func WithPool(maxOpen, maxIdle int, maxLifetime time.Duration) Option {
	return func(o *options) {
		o.maxOpenConns = maxOpen
		o.maxIdleConns = maxIdle
		o.connMaxLifetime = maxLifetime
	}
}

// MySQLStore is the durable, crash-recoverable store.Store implementation.
type MySQLStore struct {
	options
	db *sql.DB
}

// New opens the database, applies the schema, and returns a ready store.
func New(ctx context.Context, opts ...Option) (*MySQLStore, error) {
	o := defaultOptions
	for _, opt := range opts {
		opt(&o)
	}

	db, err := sql.Open("mysql", o.dsn)
	if err != nil {
		return nil, fmt.Errorf("mysqlstore: open: %w", err)
	}
	db.SetMaxOpenConns(o.maxOpenConns)
	db.SetMaxIdleConns(o.maxIdleConns)
	db.SetConnMaxLifetime(o.connMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("mysqlstore: ping: %w", err)
	}

	s := &MySQLStore{options: o, db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS known_urls (
	crawl_id VARCHAR(191) NOT NULL,
	url_hash CHAR(64) NOT NULL,
	url TEXT NOT NULL,
	PRIMARY KEY (crawl_id, url_hash)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;

CREATE TABLE IF NOT EXISTS scheduled_urls (
	crawl_id VARCHAR(191) NOT NULL,
	queue_key VARCHAR(191) NOT NULL,
	url_hash CHAR(64) NOT NULL,
	url TEXT NOT NULL,
	refetchable_from DATETIME(3) NOT NULL,
	metadata_json MEDIUMTEXT,
	in_flight TINYINT(1) NOT NULL DEFAULT 0,
	seq BIGINT NOT NULL AUTO_INCREMENT,
	PRIMARY KEY (crawl_id, queue_key, url_hash),
	UNIQUE KEY scheduled_urls_seq (seq),
	KEY scheduled_urls_due (crawl_id, queue_key, refetchable_from)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;
`

func (s *MySQLStore) migrate(ctx context.Context) error {
	for _, stmt := range splitStatements(schema) {
		s.logger.Debug("migrate", zap.String("sql", stmt))
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("mysqlstore: migrate: %w", err)
		}
	}
	return nil
}

func splitStatements(schema string) []string {
	var out []string
	start := 0
	for i, r := range schema {
		if r == ';' {
			if stmt := trimSpace(schema[start:i]); stmt != "" {
				out = append(out, stmt)
			}
			start = i + 1
		}
	}
	return out
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r'
}

func urlHash(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

func encodeMetadata(m types.Metadata) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("mysqlstore: encode metadata: %w", err)
	}
	return string(b), nil
}

func decodeMetadata(raw sql.NullString) (types.Metadata, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var m types.Metadata
	if err := json.Unmarshal([]byte(raw.String), &m); err != nil {
		return nil, fmt.Errorf("mysqlstore: decode metadata: %w", err)
	}
	return m, nil
}

// PutScheduled implements store.Store.
func (s *MySQLStore) PutScheduled(
	ctx context.Context,
	crawlID, key, url string,
	kind types.ItemKind,
	refetchableFrom time.Time,
	metadata types.Metadata,
	maxQueueSize int,
) (store.PutResult, error) {
	hash := urlHash(url)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("mysqlstore: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`INSERT IGNORE INTO known_urls (crawl_id, url_hash, url) VALUES (?, ?, ?)`,
		crawlID, hash, url,
	)
	if err != nil {
		return 0, fmt.Errorf("mysqlstore: insert known: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mysqlstore: rows affected: %w", err)
	}

	var (
		existingRefetch time.Time
		existingMeta    sql.NullString
	)
	row := tx.QueryRowContext(ctx,
		`SELECT refetchable_from, metadata_json FROM scheduled_urls
		 WHERE crawl_id = ? AND queue_key = ? AND url_hash = ? FOR UPDATE`,
		crawlID, key, hash,
	)
	switch err := row.Scan(&existingRefetch, &existingMeta); {
	case err == nil:
		// A Discovered item never mutates an already-scheduled URL;
		// only a Known re-ingest may push refetchable_from forward.
		if kind != types.Known {
			if err := tx.Commit(); err != nil {
				return 0, fmt.Errorf("mysqlstore: commit: %w", err)
			}
			return store.AlreadyKnown, nil
		}

		newTime := existingRefetch
		if refetchableFrom.After(existingRefetch) {
			newTime = refetchableFrom
		}
		prevMeta, decodeErr := decodeMetadata(existingMeta)
		if decodeErr != nil {
			return 0, decodeErr
		}
		merged := prevMeta.Merge(metadata)
		encoded, encodeErr := encodeMetadata(merged)
		if encodeErr != nil {
			return 0, encodeErr
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE scheduled_urls SET refetchable_from = ?, metadata_json = ? WHERE crawl_id = ? AND queue_key = ? AND url_hash = ?`,
			newTime, sql.NullString{String: encoded, Valid: encoded != ""}, crawlID, key, hash,
		); err != nil {
			return 0, fmt.Errorf("mysqlstore: update scheduled: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return 0, fmt.Errorf("mysqlstore: commit: %w", err)
		}
		return store.Replaced, nil

	case errors.Is(err, sql.ErrNoRows):
		if inserted == 0 {
			// known but not currently scheduled: a stale duplicate.
			if err := tx.Commit(); err != nil {
				return 0, fmt.Errorf("mysqlstore: commit: %w", err)
			}
			return store.AlreadyKnown, nil
		}

		if maxQueueSize > 0 {
			var count int
			if err := tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM scheduled_urls WHERE crawl_id = ? AND queue_key = ?`,
				crawlID, key,
			).Scan(&count); err != nil {
				return 0, fmt.Errorf("mysqlstore: count: %w", err)
			}
			if count >= maxQueueSize {
				return store.Inserted, store.ErrCapacityExceeded
			}
		}

		encoded, encodeErr := encodeMetadata(metadata)
		if encodeErr != nil {
			return 0, encodeErr
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO scheduled_urls (crawl_id, queue_key, url_hash, url, refetchable_from, metadata_json, in_flight)
			 VALUES (?, ?, ?, ?, ?, ?, 0)`,
			crawlID, key, hash, url, refetchableFrom, sql.NullString{String: encoded, Valid: encoded != ""},
		); err != nil {
			return 0, fmt.Errorf("mysqlstore: insert scheduled: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return 0, fmt.Errorf("mysqlstore: commit: %w", err)
		}
		return store.Inserted, nil

	default:
		return 0, fmt.Errorf("mysqlstore: select scheduled: %w", err)
	}
}

// FetchDue implements store.Store.
func (s *MySQLStore) FetchDue(ctx context.Context, crawlID, key string, now time.Time, max int) ([]store.ScheduledEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT url, refetchable_from, metadata_json, in_flight FROM scheduled_urls
		 WHERE crawl_id = ? AND queue_key = ? AND refetchable_from <= ?
		 ORDER BY refetchable_from ASC, seq ASC LIMIT ?`,
		crawlID, key, now, max,
	)
	if err != nil {
		return nil, fmt.Errorf("mysqlstore: fetch due: %w", err)
	}
	defer rows.Close()

	var out []store.ScheduledEntry
	for rows.Next() {
		var (
			e        store.ScheduledEntry
			metaJSON sql.NullString
			inFlight bool
		)
		if err := rows.Scan(&e.URL, &e.RefetchableFrom, &metaJSON, &inFlight); err != nil {
			return nil, fmt.Errorf("mysqlstore: scan: %w", err)
		}
		meta, err := decodeMetadata(metaJSON)
		if err != nil {
			return nil, err
		}
		e.Metadata = meta
		e.InFlight = inFlight
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkInFlight implements store.Store.
func (s *MySQLStore) MarkInFlight(ctx context.Context, crawlID, key, url string, refetchableFrom time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_urls SET in_flight = 1, refetchable_from = ? WHERE crawl_id = ? AND queue_key = ? AND url_hash = ?`,
		refetchableFrom, crawlID, key, urlHash(url),
	)
	return requireRows(res, err, store.ErrQueueNotFound)
}

// MarkCompleted implements store.Store.
func (s *MySQLStore) MarkCompleted(ctx context.Context, crawlID, key, url string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM scheduled_urls WHERE crawl_id = ? AND queue_key = ? AND url_hash = ?`,
		crawlID, key, urlHash(url),
	)
	if err != nil {
		return fmt.Errorf("mysqlstore: mark completed: %w", err)
	}
	return nil
}

// Reschedule implements store.Store.
func (s *MySQLStore) Reschedule(ctx context.Context, crawlID, key, url string, newTime time.Time, metadata types.Metadata) error {
	hash := urlHash(url)
	if len(metadata) == 0 {
		res, err := s.db.ExecContext(ctx,
			`UPDATE scheduled_urls SET refetchable_from = ?, in_flight = 0 WHERE crawl_id = ? AND queue_key = ? AND url_hash = ?`,
			newTime, crawlID, key, hash,
		)
		return requireRows(res, err, store.ErrQueueNotFound)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mysqlstore: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var existing sql.NullString
	if err := tx.QueryRowContext(ctx,
		`SELECT metadata_json FROM scheduled_urls WHERE crawl_id = ? AND queue_key = ? AND url_hash = ? FOR UPDATE`,
		crawlID, key, hash,
	).Scan(&existing); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrQueueNotFound
		}
		return fmt.Errorf("mysqlstore: select for reschedule: %w", err)
	}

	prev, err := decodeMetadata(existing)
	if err != nil {
		return err
	}
	encoded, err := encodeMetadata(prev.Merge(metadata))
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE scheduled_urls SET refetchable_from = ?, metadata_json = ?, in_flight = 0 WHERE crawl_id = ? AND queue_key = ? AND url_hash = ?`,
		newTime, sql.NullString{String: encoded, Valid: encoded != ""}, crawlID, key, hash,
	); err != nil {
		return fmt.Errorf("mysqlstore: update reschedule: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mysqlstore: commit: %w", err)
	}
	return nil
}

// IsKnown implements store.Store.
func (s *MySQLStore) IsKnown(ctx context.Context, crawlID, url string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM known_urls WHERE crawl_id = ? AND url_hash = ?`,
		crawlID, urlHash(url),
	).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("mysqlstore: is known: %w", err)
	default:
		return true, nil
	}
}

// AddKnown implements store.Store.
func (s *MySQLStore) AddKnown(ctx context.Context, crawlID, url string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT IGNORE INTO known_urls (crawl_id, url_hash, url) VALUES (?, ?, ?)`,
		crawlID, urlHash(url), url,
	)
	if err != nil {
		return fmt.Errorf("mysqlstore: add known: %w", err)
	}
	return nil
}

// IterateQueues implements store.Store.
func (s *MySQLStore) IterateQueues(ctx context.Context, crawlID string) ([]types.QueueRef, error) {
	query := `SELECT DISTINCT crawl_id, queue_key FROM scheduled_urls`
	args := []any{}
	if crawlID != "" {
		query += ` WHERE crawl_id = ?`
		args = append(args, crawlID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("mysqlstore: iterate queues: %w", err)
	}
	defer rows.Close()

	var out []types.QueueRef
	for rows.Next() {
		var ref types.QueueRef
		if err := rows.Scan(&ref.CrawlID, &ref.Key); err != nil {
			return nil, fmt.Errorf("mysqlstore: scan queue ref: %w", err)
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

// QueueSize implements store.Store.
func (s *MySQLStore) QueueSize(ctx context.Context, crawlID, key string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM scheduled_urls WHERE crawl_id = ? AND queue_key = ?`,
		crawlID, key,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("mysqlstore: queue size: %w", err)
	}
	return count, nil
}

// CountInFlight implements store.Store.
func (s *MySQLStore) CountInFlight(ctx context.Context, crawlID, key string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM scheduled_urls WHERE crawl_id = ? AND queue_key = ? AND in_flight = 1`,
		crawlID, key,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("mysqlstore: count in flight: %w", err)
	}
	return count, nil
}

// DeleteQueue implements store.Store.
func (s *MySQLStore) DeleteQueue(ctx context.Context, crawlID, key string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM scheduled_urls WHERE crawl_id = ? AND queue_key = ?`,
		crawlID, key,
	)
	if err != nil {
		return 0, fmt.Errorf("mysqlstore: delete queue: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mysqlstore: rows affected: %w", err)
	}
	return int(n), nil
}

// DeleteCrawl implements store.Store.
func (s *MySQLStore) DeleteCrawl(ctx context.Context, crawlID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("mysqlstore: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `DELETE FROM scheduled_urls WHERE crawl_id = ?`, crawlID)
	if err != nil {
		return 0, fmt.Errorf("mysqlstore: delete crawl scheduled: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mysqlstore: rows affected: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM known_urls WHERE crawl_id = ?`, crawlID); err != nil {
		return 0, fmt.Errorf("mysqlstore: delete crawl known: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("mysqlstore: commit: %w", err)
	}
	return int(n), nil
}

// Checkpoint issues FLUSH TABLES on known_urls and scheduled_urls.
func (s *MySQLStore) Checkpoint(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `FLUSH TABLES known_urls, scheduled_urls`); err != nil {
		return fmt.Errorf("mysqlstore: checkpoint: %w", err)
	}
	return nil
}

// Close implements store.Store.
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

func requireRows(res sql.Result, err error, notFound error) error {
	if err != nil {
		return fmt.Errorf("mysqlstore: exec: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mysqlstore: rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
