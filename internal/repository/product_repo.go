package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tierd/tierd-go/internal/model"
)

// ProductRepo owns the denormalized vote counters stored on products.
type ProductRepo struct {
	pool *pgxpool.Pool
}

func NewProductRepo(pool *pgxpool.Pool) *ProductRepo {
	return &ProductRepo{pool: pool}
}

// ApplyDelta adjusts the counters for one ledger transition in a single
// UPDATE. Counters are floored at zero; reconcile repairs any drift.
func (r *ProductRepo) ApplyDelta(ctx context.Context, productID string, previous, next model.Direction) (model.ProductVoteCounts, error) {
	dUp, dDown := model.CounterDelta(previous, next)

	var c model.ProductVoteCounts
	err := r.pool.QueryRow(ctx, `
		UPDATE products
		SET upvotes           = GREATEST(upvotes + $2, 0),
		    downvotes         = GREATEST(downvotes + $3, 0),
		    score             = GREATEST(upvotes + $2, 0) - GREATEST(downvotes + $3, 0),
		    vote_version      = vote_version + 1,
		    last_vote_at      = NOW(),
		    counts_updated_at = NOW()
		WHERE id = $1
		RETURNING id, upvotes, downvotes, score, vote_version, counts_updated_at`,
		productID, dUp, dDown).Scan(&c.ProductID, &c.Upvotes, &c.Downvotes, &c.Score, &c.Version, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ProductVoteCounts{}, model.ErrProductNotFound
	}
	return c, err
}

// Counts returns the stored counters for a product.
func (r *ProductRepo) Counts(ctx context.Context, productID string) (model.ProductVoteCounts, error) {
	var c model.ProductVoteCounts
	err := r.pool.QueryRow(ctx, `
		SELECT id, upvotes, downvotes, score, vote_version, counts_updated_at
		FROM products
		WHERE id = $1`, productID).Scan(&c.ProductID, &c.Upvotes, &c.Downvotes, &c.Score, &c.Version, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ProductVoteCounts{}, model.ErrProductNotFound
	}
	return c, err
}

// Reconcile recounts the ledger for a product and overwrites the counters only
// when they disagree. Safe to run concurrently with live votes: the overwrite
// is a single conditional UPDATE and the last writer wins.
func (r *ProductRepo) Reconcile(ctx context.Context, productID string) (model.ReconcileResult, error) {
	res := model.ReconcileResult{ProductID: productID}

	err := r.pool.QueryRow(ctx, `
		SELECT upvotes, downvotes, vote_version FROM products WHERE id = $1`,
		productID).Scan(&res.StoredUpvotes, &res.StoredDownvotes, &res.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return res, model.ErrProductNotFound
	}
	if err != nil {
		return res, err
	}

	err = r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE direction = 'up'),
		       COUNT(*) FILTER (WHERE direction = 'down')
		FROM votes
		WHERE product_id = $1`, productID).Scan(&res.Upvotes, &res.Downvotes)
	if err != nil {
		return res, err
	}
	res.Score = res.Upvotes - res.Downvotes

	err = r.pool.QueryRow(ctx, `
		UPDATE products
		SET upvotes = $2, downvotes = $3, score = $2 - $3,
		    vote_version = vote_version + 1, counts_updated_at = NOW()
		WHERE id = $1 AND (upvotes <> $2 OR downvotes <> $3 OR score <> $2 - $3)
		RETURNING vote_version`,
		productID, res.Upvotes, res.Downvotes).Scan(&res.Version)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return res, nil
	case err != nil:
		return res, err
	}
	res.Corrected = true
	return res, nil
}

// ListProductIDs returns every product id in stable order.
func (r *ProductRepo) ListProductIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM products ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ChangedSince returns counters positioned after the cursor in
// (counts_updated_at, id) order, at most limit rows.
func (r *ProductRepo) ChangedSince(ctx context.Context, after model.SyncCursor, limit int) ([]model.ProductVoteCounts, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, upvotes, downvotes, score, vote_version, counts_updated_at
		FROM products
		WHERE (counts_updated_at, id) > ($1, $2)
		ORDER BY counts_updated_at, id
		LIMIT $3`, after.UpdatedAt, after.ProductID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ProductVoteCounts
	for rows.Next() {
		var c model.ProductVoteCounts
		if err := rows.Scan(&c.ProductID, &c.Upvotes, &c.Downvotes, &c.Score, &c.Version, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const candidateQuery = `
	SELECT p.id, p.name, p.upvotes, p.downvotes,
	       COALESCE(e.recent, 0),
	       COALESCE(p.last_vote_at, p.created_at)
	FROM products p
	LEFT JOIN (
		SELECT product_id, COUNT(*) AS recent
		FROM vote_events
		WHERE at > $1 AND applied <> 'none'
		GROUP BY product_id
	) e ON e.product_id = p.id`

// RankingCandidate returns the ranking signals for one product. Recent votes
// are ledger mutations after since that left a vote in place.
func (r *ProductRepo) RankingCandidate(ctx context.Context, productID string, since time.Time) (model.RankingCandidate, error) {
	var c model.RankingCandidate
	err := r.pool.QueryRow(ctx, candidateQuery+` WHERE p.id = $2`, since, productID).Scan(
		&c.ProductID, &c.Name, &c.Upvotes, &c.Downvotes, &c.RecentVotes, &c.LastActivity)
	if errors.Is(err, pgx.ErrNoRows) {
		return c, model.ErrProductNotFound
	}
	return c, err
}

// RankingCandidates returns the ranking signals for every product.
func (r *ProductRepo) RankingCandidates(ctx context.Context, since time.Time) ([]model.RankingCandidate, error) {
	rows, err := r.pool.Query(ctx, candidateQuery+` ORDER BY p.id`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RankingCandidate
	for rows.Next() {
		var c model.RankingCandidate
		if err := rows.Scan(&c.ProductID, &c.Name, &c.Upvotes, &c.Downvotes, &c.RecentVotes, &c.LastActivity); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Upsert registers a product so it can receive votes. Catalog CRUD lives
// elsewhere; this exists for seeding and tests.
func (r *ProductRepo) Upsert(ctx context.Context, productID, name string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO products (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`, productID, name)
	return err
}
