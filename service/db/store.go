package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/solvision/service/metrics"
	"github.com/brojonat/solvision/service/wallet"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

const lookupsTable = "lookups"

// ErrLookupNotFound is returned when a session has no stored lookup.
var ErrLookupNotFound = errors.New("lookup not found")

// Store persists the most recent wallet lookup of each session.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
// If metrics is nil, no metrics will be recorded.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{
		pool:    pool,
		metrics: m,
	}
}

// Lookup is a stored wallet lookup.
type Lookup struct {
	SessionID    string
	Address      string
	Transactions []wallet.Transaction
	FetchedAt    time.Time
}

// Data returns the lookup as wallet data.
func (l *Lookup) Data() *wallet.Data {
	return &wallet.Data{
		Address:      l.Address,
		Transactions: l.Transactions,
	}
}

// EnsureSchema creates the lookups table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// SaveLookup stores data as the session's lookup, replacing any previous one.
func (s *Store) SaveLookup(ctx context.Context, sessionID string, data *wallet.Data) (lookup *Lookup, err error) {
	defer metrics.Timer(time.Now(), func(d float64) { s.record("save_lookup", d, err) })()

	if data == nil {
		return nil, errors.New("wallet data is required")
	}

	txns := data.Transactions
	if txns == nil {
		txns = []wallet.Transaction{}
	}

	lookup = &Lookup{
		SessionID:    sessionID,
		Address:      data.Address,
		Transactions: txns,
	}

	const q = `
		INSERT INTO lookups (session_id, address, transactions, fetched_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (session_id) DO UPDATE
		SET address = EXCLUDED.address,
		    transactions = EXCLUDED.transactions,
		    fetched_at = EXCLUDED.fetched_at
		RETURNING fetched_at`

	if err = s.pool.QueryRow(ctx, q, sessionID, data.Address, txns).Scan(&lookup.FetchedAt); err != nil {
		return nil, fmt.Errorf("failed to save lookup for session %s: %w", sessionID, err)
	}

	return lookup, nil
}

// GetLookup returns the session's stored lookup, or ErrLookupNotFound.
func (s *Store) GetLookup(ctx context.Context, sessionID string) (lookup *Lookup, err error) {
	defer metrics.Timer(time.Now(), func(d float64) { s.record("get_lookup", d, err) })()

	const q = `
		SELECT session_id, address, transactions, fetched_at
		FROM lookups
		WHERE session_id = $1`

	lookup = &Lookup{}
	err = s.pool.QueryRow(ctx, q, sessionID).Scan(
		&lookup.SessionID,
		&lookup.Address,
		&lookup.Transactions,
		&lookup.FetchedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		// Not finding a lookup is not a failed query.
		err = nil
		return nil, ErrLookupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lookup for session %s: %w", sessionID, err)
	}

	return lookup, nil
}

// DeleteLookup removes the session's lookup. Deleting a missing lookup is not an error.
func (s *Store) DeleteLookup(ctx context.Context, sessionID string) (err error) {
	defer metrics.Timer(time.Now(), func(d float64) { s.record("delete_lookup", d, err) })()

	if _, err = s.pool.Exec(ctx, `DELETE FROM lookups WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("failed to delete lookup for session %s: %w", sessionID, err)
	}
	return nil
}

// LookupSummary is a stored lookup without its transactions.
type LookupSummary struct {
	SessionID        string    `json:"session_id"`
	Address          string    `json:"address"`
	TransactionCount int       `json:"transaction_count"`
	FetchedAt        time.Time `json:"fetched_at"`
}

// ListLookups returns stored lookups, most recent first.
func (s *Store) ListLookups(ctx context.Context, limit int32) (summaries []LookupSummary, err error) {
	defer metrics.Timer(time.Now(), func(d float64) { s.record("list_lookups", d, err) })()

	const q = `
		SELECT session_id, address, jsonb_array_length(transactions), fetched_at
		FROM lookups
		ORDER BY fetched_at DESC
		LIMIT $1`

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list lookups: %w", err)
	}
	defer rows.Close()

	summaries = make([]LookupSummary, 0)
	for rows.Next() {
		var ls LookupSummary
		if err = rows.Scan(&ls.SessionID, &ls.Address, &ls.TransactionCount, &ls.FetchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan lookup: %w", err)
		}
		summaries = append(summaries, ls)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list lookups: %w", err)
	}

	return summaries, nil
}

// PruneLookups deletes lookups fetched before cutoff and returns how many were removed.
func (s *Store) PruneLookups(ctx context.Context, cutoff time.Time) (n int64, err error) {
	defer metrics.Timer(time.Now(), func(d float64) { s.record("prune_lookups", d, err) })()

	tag, err := s.pool.Exec(ctx, `DELETE FROM lookups WHERE fetched_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune lookups: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) record(operation string, duration float64, err error) {
	if s.metrics != nil {
		s.metrics.RecordDBQuery(operation, lookupsTable, duration, err)
	}
}
