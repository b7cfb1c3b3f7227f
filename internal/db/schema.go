package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the ledger tables and the counter columns on products.
// Safe to call multiple times: every statement is IF NOT EXISTS.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Schema is the DDL for everything the vote core owns. The products table is
// owned by the catalog; only the counter columns are ours.
const Schema = `
CREATE TABLE IF NOT EXISTS products (
    id                VARCHAR(64) PRIMARY KEY,
    name              TEXT        NOT NULL DEFAULT '',
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

ALTER TABLE products ADD COLUMN IF NOT EXISTS upvotes           INTEGER     NOT NULL DEFAULT 0;
ALTER TABLE products ADD COLUMN IF NOT EXISTS downvotes         INTEGER     NOT NULL DEFAULT 0;
ALTER TABLE products ADD COLUMN IF NOT EXISTS score             INTEGER     NOT NULL DEFAULT 0;
ALTER TABLE products ADD COLUMN IF NOT EXISTS vote_version      BIGINT      NOT NULL DEFAULT 0;
ALTER TABLE products ADD COLUMN IF NOT EXISTS last_vote_at      TIMESTAMPTZ;
ALTER TABLE products ADD COLUMN IF NOT EXISTS counts_updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW();

CREATE INDEX IF NOT EXISTS idx_products_counts_updated_at ON products(counts_updated_at, id);

-- One row per (voter, product): the ledger's core invariant.
CREATE TABLE IF NOT EXISTS votes (
    voter_id   VARCHAR(80) NOT NULL,
    product_id VARCHAR(64) NOT NULL REFERENCES products(id) ON DELETE CASCADE,
    direction  VARCHAR(4)  NOT NULL CHECK (direction IN ('up', 'down')),
    cast_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (voter_id, product_id)
);

CREATE INDEX IF NOT EXISTS idx_votes_product_direction ON votes(product_id, direction);

CREATE TABLE IF NOT EXISTS vote_events (
    id         BIGSERIAL   PRIMARY KEY,
    voter_id   VARCHAR(80) NOT NULL,
    product_id VARCHAR(64) NOT NULL,
    previous   VARCHAR(4)  NOT NULL,
    applied    VARCHAR(4)  NOT NULL,
    at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_vote_events_voter_at   ON vote_events(voter_id, at);
CREATE INDEX IF NOT EXISTS idx_vote_events_product_at ON vote_events(product_id, at);
`
