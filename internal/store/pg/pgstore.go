// Package pg persists chain-space state in PostgreSQL.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"chainspace.org/internal/space"
)

type Store struct {
	db *sql.DB
}

var _ space.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle. Used by tests and tooling that
// manage the pool themselves.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) GetSpace(ctx context.Context, id string) (space.SpaceDetails, error) {
	var d space.SpaceDetails
	err := s.db.QueryRowContext(ctx, `
		select code, creator, parent, txn_capacity, txn_reserve, txn_count, approved, archive
		from spaces where id=$1
	`, id).Scan(&d.Code, &d.Creator, &d.Parent, &d.TxnCapacity, &d.TxnReserve, &d.TxnCount, &d.Approved, &d.Archive)
	if errors.Is(err, sql.ErrNoRows) {
		return space.SpaceDetails{}, space.ErrSpaceNotFound
	}
	if err != nil {
		return space.SpaceDetails{}, err
	}
	return d, nil
}

func (s *Store) HasSpace(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `select exists(select 1 from spaces where id=$1)`, id).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (s *Store) GetAuthorization(ctx context.Context, id string) (space.SpaceAuthorization, error) {
	var a space.SpaceAuthorization
	var perms uint32
	err := s.db.QueryRowContext(ctx, `
		select space_id, delegate, delegator, permissions
		from space_authorizations where id=$1
	`, id).Scan(&a.SpaceID, &a.Delegate, &a.Delegator, &perms)
	if errors.Is(err, sql.ErrNoRows) {
		return space.SpaceAuthorization{}, space.ErrAuthorizationNotFound
	}
	if err != nil {
		return space.SpaceAuthorization{}, err
	}
	a.Permissions = space.Permissions(perms)
	return a, nil
}

func (s *Store) HasAuthorization(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `select exists(select 1 from space_authorizations where id=$1)`, id).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (s *Store) GetDelegates(ctx context.Context, spaceID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select delegate from space_delegates
		where space_id=$1 order by position
	`, spaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Apply lands one engine batch in a single database transaction.
func (s *Store) Apply(ctx context.Context, b space.Batch) error {
	if b.IsEmpty() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for id, d := range b.Spaces {
		if _, err := tx.ExecContext(ctx, `
			insert into spaces(id, code, creator, parent, txn_capacity, txn_reserve, txn_count, approved, archive)
			values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			on conflict (id) do update set
				txn_capacity = excluded.txn_capacity,
				txn_reserve  = excluded.txn_reserve,
				txn_count    = excluded.txn_count,
				approved     = excluded.approved,
				archive      = excluded.archive
		`, id, d.Code, d.Creator, d.Parent, d.TxnCapacity, d.TxnReserve, d.TxnCount, d.Approved, d.Archive); err != nil {
			return err
		}
	}

	for id, a := range b.Authorizations {
		if _, err := tx.ExecContext(ctx, `
			insert into space_authorizations(id, space_id, delegate, delegator, permissions)
			values ($1,$2,$3,$4,$5)
			on conflict (id) do update set permissions = excluded.permissions
		`, id, a.SpaceID, a.Delegate, a.Delegator, uint32(a.Permissions)); err != nil {
			return err
		}
	}

	for _, id := range b.AuthorizationDeletes {
		if _, err := tx.ExecContext(ctx, `delete from space_authorizations where id=$1`, id); err != nil {
			return err
		}
	}

	for spaceID, registry := range b.Delegates {
		if _, err := tx.ExecContext(ctx, `delete from space_delegates where space_id=$1`, spaceID); err != nil {
			return err
		}
		for pos, delegate := range registry {
			if _, err := tx.ExecContext(ctx, `
				insert into space_delegates(space_id, position, delegate)
				values ($1,$2,$3)
			`, spaceID, pos, delegate); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

// Ping verifies database connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
