package storage

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
)

const schema = `
CREATE TABLE IF NOT EXISTS substrate_blocks (
	hash         TEXT PRIMARY KEY,
	number       BIGINT NOT NULL,
	parent_hash  TEXT NOT NULL,
	spec_version BIGINT NOT NULL DEFAULT 0,
	source       TEXT NOT NULL,
	header       JSONB NOT NULL,
	canonical    BOOLEAN NOT NULL DEFAULT false,
	recorded_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS substrate_blocks_canonical_number
	ON substrate_blocks (number) WHERE canonical;

CREATE TABLE IF NOT EXISTS substrate_extrinsics (
	hash         TEXT NOT NULL,
	block_hash   TEXT NOT NULL REFERENCES substrate_blocks (hash) ON DELETE CASCADE,
	block_number BIGINT NOT NULL,
	idx          INTEGER NOT NULL,
	pallet       TEXT,
	call         TEXT,
	signed       BOOLEAN NOT NULL DEFAULT false,
	raw          BYTEA NOT NULL,
	decoded      JSONB,
	canonical    BOOLEAN NOT NULL DEFAULT false,
	PRIMARY KEY (block_hash, idx)
);
CREATE INDEX IF NOT EXISTS substrate_extrinsics_hash ON substrate_extrinsics (hash);
`

// BlockchainRepo holds the block persistence and canonical chain queries.
// It is decoupled from the concrete Postgres implementation via the DB interface.
type BlockchainRepo struct {
	db DB
}

func NewBlockchainRepo(db DB) *BlockchainRepo {
	return &BlockchainRepo{db: db}
}

type CanonicalHead struct {
	Number uint64
	Hash   string
}

// EnsureSchema creates the tables when they do not exist yet.
func (r *BlockchainRepo) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, schema)
	return err
}

func (r *BlockchainRepo) GetCanonicalHead(ctx context.Context) (CanonicalHead, error) {
	var number int64
	var hash string
	err := r.db.QueryRow(ctx, `
		SELECT number, hash
		FROM substrate_blocks
		WHERE canonical = true
		ORDER BY number DESC
		LIMIT 1
	`).Scan(&number, &hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CanonicalHead{}, nil
		}
		return CanonicalHead{}, err
	}
	if number < 0 {
		number = 0
	}
	return CanonicalHead{Number: uint64(number), Hash: hash}, nil
}

func (r *BlockchainRepo) GetCanonicalHashByNumber(ctx context.Context, number uint64) (string, bool, error) {
	var hash string
	err := r.db.QueryRow(ctx, `
		SELECT hash
		FROM substrate_blocks
		WHERE canonical = true AND number = $1
		LIMIT 1
	`, int64(number)).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return hash, true, nil
}

type ExtrinsicInsert struct {
	Index  int
	Hash   string
	Pallet string
	Call   string
	Signed bool
	Raw    []byte
	// Decoded is the plain JSON form, nil for undecoded extrinsics.
	Decoded json.RawMessage
}

type BlockInsert struct {
	Number      uint64
	Hash        string
	ParentHash  string
	SpecVersion uint32
	Source      string
	Header      json.RawMessage
	Canonical   bool
	Extrinsics  []ExtrinsicInsert
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func (r *BlockchainRepo) UpsertBlock(ctx context.Context, b BlockInsert) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO substrate_blocks (hash, number, parent_hash, spec_version, source, header, canonical)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (hash) DO UPDATE SET
			number = EXCLUDED.number,
			parent_hash = EXCLUDED.parent_hash,
			spec_version = EXCLUDED.spec_version,
			source = EXCLUDED.source,
			header = EXCLUDED.header,
			canonical = EXCLUDED.canonical
	`, b.Hash, int64(b.Number), b.ParentHash, int64(b.SpecVersion), b.Source, b.Header, b.Canonical)
	if err != nil {
		return err
	}

	for _, x := range b.Extrinsics {
		var decoded interface{}
		if len(x.Decoded) > 0 {
			decoded = x.Decoded
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO substrate_extrinsics (hash, block_hash, block_number, idx, pallet, call, signed, raw, decoded, canonical)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (block_hash, idx) DO UPDATE SET
				hash = EXCLUDED.hash,
				pallet = EXCLUDED.pallet,
				call = EXCLUDED.call,
				signed = EXCLUDED.signed,
				raw = EXCLUDED.raw,
				decoded = EXCLUDED.decoded,
				canonical = EXCLUDED.canonical
		`, x.Hash, b.Hash, int64(b.Number), x.Index, nullable(x.Pallet), nullable(x.Call), x.Signed, x.Raw, decoded, b.Canonical)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// RollbackFrom marks all canonical blocks and extrinsics with number >= forkPoint as non-canonical.
func (r *BlockchainRepo) RollbackFrom(ctx context.Context, forkPoint uint64) (int64, int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	res1, err := tx.Exec(ctx, `
		UPDATE substrate_blocks
		SET canonical = false
		WHERE canonical = true AND number >= $1
	`, int64(forkPoint))
	if err != nil {
		return 0, 0, err
	}
	res2, err := tx.Exec(ctx, `
		UPDATE substrate_extrinsics
		SET canonical = false
		WHERE canonical = true AND block_number >= $1
	`, int64(forkPoint))
	if err != nil {
		return 0, 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, err
	}
	return res1.RowsAffected(), res2.RowsAffected(), nil
}
