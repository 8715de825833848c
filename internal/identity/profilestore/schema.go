package profilestore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// DDL — enrolled speaker profiles
// ─────────────────────────────────────────────────────────────────────────────

const ddlProfiles = `
CREATE TABLE IF NOT EXISTS speaker_profiles (
    name              TEXT              PRIMARY KEY,
    threshold         DOUBLE PRECISION  NOT NULL,
    self_consistency  DOUBLE PRECISION  NOT NULL,
    enrollment_method TEXT              NOT NULL DEFAULT '',
    created_at        TIMESTAMPTZ       NOT NULL DEFAULT now(),
    updated_at        TIMESTAMPTZ       NOT NULL DEFAULT now()
);
`

const ddlProfileEmbeddings = `
CREATE TABLE IF NOT EXISTS profile_embeddings (
    id           BIGSERIAL   PRIMARY KEY,
    profile_name TEXT        NOT NULL REFERENCES speaker_profiles(name) ON DELETE CASCADE,
    embedding    vector(%d)  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_profile_embeddings_name
    ON profile_embeddings (profile_name);
`

// ─────────────────────────────────────────────────────────────────────────────
// DDL — unknown-speaker candidate clusters
// ─────────────────────────────────────────────────────────────────────────────

const ddlCandidates = `
CREATE TABLE IF NOT EXISTS candidates (
    cluster_id        TEXT              PRIMARY KEY,
    sample_count      INTEGER           NOT NULL DEFAULT 0,
    variance          DOUBLE PRECISION  NOT NULL DEFAULT 0,
    self_consistency  DOUBLE PRECISION  NOT NULL DEFAULT 0,
    transcript_refs   TEXT[]            NOT NULL DEFAULT '{}',
    created_at        TIMESTAMPTZ       NOT NULL DEFAULT now(),
    last_seen_at      TIMESTAMPTZ       NOT NULL DEFAULT now()
);
`

const ddlCandidateEmbeddings = `
CREATE TABLE IF NOT EXISTS candidate_embeddings (
    id         BIGSERIAL   PRIMARY KEY,
    cluster_id TEXT        NOT NULL REFERENCES candidates(cluster_id) ON DELETE CASCADE,
    embedding  vector(%d)  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_candidate_embeddings_cluster
    ON candidate_embeddings (cluster_id);
`

// Migrate creates the pgvector extension and all required tables. It is
// idempotent and safe to run on every startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool, dimensions int) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector;`,
		ddlProfiles,
		fmt.Sprintf(ddlProfileEmbeddings, dimensions),
		ddlCandidates,
		fmt.Sprintf(ddlCandidateEmbeddings, dimensions),
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
