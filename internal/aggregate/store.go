package aggregate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no aggregate is stored for a user/repository pair
var ErrNotFound = errors.New("aggregate not found")

// StoreError reports a failed write. Callers may still serve the aggregate
// they tried to persist.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Store persists aggregates as JSONB documents keyed by (user login, repository name)
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new aggregate store
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Read loads the aggregate for a user's repository
func (s *Store) Read(ctx context.Context, login, repo string) (*Aggregate, error) {
	query := `
		SELECT document
		FROM aggregates
		WHERE user_login = $1 AND repo_name = $2
	`

	var document []byte
	err := s.pool.QueryRow(ctx, query, login, repo).Scan(&document)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s/%s: %w", login, repo, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read aggregate: %w", err)
	}

	var agg Aggregate
	if err := json.Unmarshal(document, &agg); err != nil {
		return nil, fmt.Errorf("failed to decode aggregate %s/%s: %w", login, repo, err)
	}

	return &agg, nil
}

// Upsert stores the aggregate, replacing any previous document for the same key.
// The single-row upsert is the arbiter of concurrent writers for a key.
func (s *Store) Upsert(ctx context.Context, login, repo string, agg *Aggregate) error {
	document, err := json.Marshal(agg)
	if err != nil {
		return &StoreError{Op: "encode aggregate", Err: err}
	}

	query := `
		INSERT INTO aggregates (user_login, repo_name, full_name, snapshot, document, updated_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, NOW())
		ON CONFLICT (user_login, repo_name) DO UPDATE
		SET full_name = EXCLUDED.full_name,
			snapshot = EXCLUDED.snapshot,
			document = EXCLUDED.document,
			updated_at = NOW()
	`

	if _, err := s.pool.Exec(ctx, query, login, repo, agg.FullName, agg.Snapshot, document); err != nil {
		return &StoreError{Op: "upsert aggregate", Err: err}
	}

	return nil
}

// Evict removes the aggregate so the next request rebuilds it from scratch.
// Evicting a missing aggregate is not an error.
func (s *Store) Evict(ctx context.Context, login, repo string) error {
	query := `DELETE FROM aggregates WHERE user_login = $1 AND repo_name = $2`
	if _, err := s.pool.Exec(ctx, query, login, repo); err != nil {
		return &StoreError{Op: "evict aggregate", Err: err}
	}
	return nil
}

// SaveUser stores the profile of a tracked user
func (s *Store) SaveUser(ctx context.Context, user *User) error {
	info, err := json.Marshal(user)
	if err != nil {
		return &StoreError{Op: "encode user", Err: err}
	}

	query := `
		INSERT INTO tracked_users (login, github_id, info, updated_at)
		VALUES ($1, $2, $3::jsonb, NOW())
		ON CONFLICT (login) DO UPDATE
		SET github_id = EXCLUDED.github_id,
			info = EXCLUDED.info,
			updated_at = NOW()
	`

	if _, err := s.pool.Exec(ctx, query, user.Login, user.ID, info); err != nil {
		return &StoreError{Op: "save user", Err: err}
	}
	return nil
}

// Snapshots lists the stored cursor per repository for a user
func (s *Store) Snapshots(ctx context.Context, login string) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT repo_name, snapshot FROM aggregates WHERE user_login = $1`, login)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := make(map[string]string)
	for rows.Next() {
		var repo, snapshot string
		if err := rows.Scan(&repo, &snapshot); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snapshots[repo] = snapshot
	}
	return snapshots, rows.Err()
}
