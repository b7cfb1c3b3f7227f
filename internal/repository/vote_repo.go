package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tierd/tierd-go/internal/model"
)

// Postgres error codes the ledger reacts to.
const (
	pgUniqueViolation      = "23505"
	pgForeignKeyViolation  = "23503"
	pgCheckViolation       = "23514"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// errVoteRaced means the row changed between the conditional upsert and the
// guarded delete. The whole cast is retried once.
var errVoteRaced = errors.New("vote row changed concurrently")

type VoteRepo struct {
	pool *pgxpool.Pool
}

func NewVoteRepo(pool *pgxpool.Pool) *VoteRepo {
	return &VoteRepo{pool: pool}
}

// CastVote applies one vote to the ledger with toggle semantics:
//
//	no row          -> insert, applied = direction
//	same direction  -> delete, applied = none
//	other direction -> flip in place, applied = direction
//
// The decision is made by the database through the (voter_id, product_id)
// primary key and a conditional upsert, never by a read-then-write in Go.
// A conflicting concurrent write is retried exactly once.
func (r *VoteRepo) CastVote(ctx context.Context, voterID, productID string, dir model.Direction) (model.Transition, error) {
	if !dir.Valid() {
		return model.Transition{}, model.ErrInvalidDirection
	}

	t, err := r.castOnce(ctx, voterID, productID, dir)
	if err == nil || !isRetryable(err) {
		return t, err
	}

	t, err = r.castOnce(ctx, voterID, productID, dir)
	if err != nil && isRetryable(err) {
		return model.Transition{}, fmt.Errorf("%w: %v", model.ErrLedgerConflict, err)
	}
	return t, err
}

func (r *VoteRepo) castOnce(ctx context.Context, voterID, productID string, dir model.Direction) (model.Transition, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Transition{}, err
	}
	defer tx.Rollback(ctx)

	t := model.Transition{Requested: dir}

	// The WHERE on the conflict branch makes the upsert a no-op when the stored
	// direction already matches; the row stays locked for the delete below.
	var inserted bool
	err = tx.QueryRow(ctx, `
		INSERT INTO votes (voter_id, product_id, direction, cast_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (voter_id, product_id) DO UPDATE
		SET direction = EXCLUDED.direction, cast_at = EXCLUDED.cast_at
		WHERE votes.direction <> EXCLUDED.direction
		RETURNING (xmax = 0)`,
		voterID, productID, string(dir)).Scan(&inserted)

	switch {
	case err == nil && inserted:
		t.Previous, t.Applied = model.DirectionNone, dir
	case err == nil:
		t.Previous, t.Applied = dir.Opposite(), dir
	case errors.Is(err, pgx.ErrNoRows):
		tag, err := tx.Exec(ctx, `
			DELETE FROM votes
			WHERE voter_id = $1 AND product_id = $2 AND direction = $3`,
			voterID, productID, string(dir))
		if err != nil {
			return model.Transition{}, mapLedgerError(err)
		}
		if tag.RowsAffected() == 0 {
			return model.Transition{}, errVoteRaced
		}
		t.Previous, t.Applied = dir, model.DirectionNone
	default:
		return model.Transition{}, mapLedgerError(err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO vote_events (voter_id, product_id, previous, applied)
		VALUES ($1, $2, $3, $4)`,
		voterID, productID, string(t.Previous), string(t.Applied))
	if err != nil {
		return model.Transition{}, mapLedgerError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Transition{}, mapLedgerError(err)
	}
	return t, nil
}

// VoteStatus returns the voter's current direction on a product, or none.
func (r *VoteRepo) VoteStatus(ctx context.Context, voterID, productID string) (model.Direction, error) {
	var dir string
	err := r.pool.QueryRow(ctx, `
		SELECT direction FROM votes WHERE voter_id = $1 AND product_id = $2`,
		voterID, productID).Scan(&dir)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.DirectionNone, nil
	}
	if err != nil {
		return "", err
	}
	return model.Direction(dir), nil
}

// CountVoterEvents counts ledger mutations made by voterID after since and
// returns the timestamp of the oldest one (zero when there are none).
func (r *VoteRepo) CountVoterEvents(ctx context.Context, voterID string, since time.Time) (int, time.Time, error) {
	var count int
	var oldest *time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*), MIN(at)
		FROM vote_events
		WHERE voter_id = $1 AND at > $2`,
		voterID, since).Scan(&count, &oldest)
	if err != nil {
		return 0, time.Time{}, err
	}
	if oldest == nil {
		return count, time.Time{}, nil
	}
	return count, *oldest, nil
}

// ProductVotes returns every ledger row for a product. Used by integrity checks.
func (r *VoteRepo) ProductVotes(ctx context.Context, productID string) ([]model.Vote, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT voter_id, product_id, direction, cast_at
		FROM votes
		WHERE product_id = $1
		ORDER BY voter_id`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var votes []model.Vote
	for rows.Next() {
		var v model.Vote
		var dir string
		if err := rows.Scan(&v.VoterID, &v.ProductID, &dir, &v.CastAt); err != nil {
			return nil, err
		}
		v.Direction = model.Direction(dir)
		votes = append(votes, v)
	}
	return votes, rows.Err()
}

func isRetryable(err error) bool {
	if errors.Is(err, errVoteRaced) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation, pgSerializationFailure, pgDeadlockDetected:
			return true
		}
	}
	return false
}

func mapLedgerError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgForeignKeyViolation:
			return model.ErrProductNotFound
		case pgCheckViolation:
			return model.ErrInvalidDirection
		}
	}
	return err
}
