package profilestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// Compile-time interface check.
var _ Store = (*Postgres)(nil)

// Postgres is a PostgreSQL-backed Store. Embeddings live in pgvector columns
// so future nearest-neighbour queries can run server-side; today the engine
// scans per profile, which is fine at household scale.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to the database at dsn, registers pgvector types on
// every connection, and runs [Migrate]. dimensions must match the embedding
// model's output width; changing it after the first migration requires a
// manual schema change.
func NewPostgres(ctx context.Context, dsn string, dimensions int) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("profilestore: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("profilestore: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("profilestore: ping: %w", err)
	}
	if err := Migrate(ctx, pool, dimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("profilestore: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Postgres) Close() {
	s.pool.Close()
}

// Ping reports database reachability, for health checks.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// GetProfile implements Store.
func (s *Postgres) GetProfile(ctx context.Context, name string) (*Profile, error) {
	p := &Profile{Name: name}
	err := s.pool.QueryRow(ctx,
		`SELECT threshold, self_consistency, enrollment_method, created_at, updated_at
		   FROM speaker_profiles WHERE name = $1`, name,
	).Scan(&p.Threshold, &p.SelfConsistency, &p.EnrollmentMethod, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("profile %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get profile %q: %w", name, err)
	}

	p.Embeddings, err = s.embeddingsFor(ctx,
		`SELECT embedding FROM profile_embeddings WHERE profile_name = $1 ORDER BY id`, name)
	if err != nil {
		return nil, fmt.Errorf("get profile %q: %w", name, err)
	}
	return p, nil
}

// ListProfiles implements Store.
func (s *Postgres) ListProfiles(ctx context.Context) ([]*Profile, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, threshold, self_consistency, enrollment_method, created_at, updated_at
		   FROM speaker_profiles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var out []*Profile
	for rows.Next() {
		p := &Profile{}
		if err := rows.Scan(&p.Name, &p.Threshold, &p.SelfConsistency, &p.EnrollmentMethod, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("list profiles: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}

	for _, p := range out {
		p.Embeddings, err = s.embeddingsFor(ctx,
			`SELECT embedding FROM profile_embeddings WHERE profile_name = $1 ORDER BY id`, p.Name)
		if err != nil {
			return nil, fmt.Errorf("list profiles: %w", err)
		}
	}
	return out, nil
}

// PutProfile implements Store. The profile row and its embedding list are
// replaced in a single transaction.
func (s *Postgres) PutProfile(ctx context.Context, p *Profile) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("put profile %q: %w", p.Name, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO speaker_profiles (name, threshold, self_consistency, enrollment_method, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (name) DO UPDATE SET
		   threshold = EXCLUDED.threshold,
		   self_consistency = EXCLUDED.self_consistency,
		   enrollment_method = EXCLUDED.enrollment_method,
		   updated_at = EXCLUDED.updated_at`,
		p.Name, p.Threshold, p.SelfConsistency, p.EnrollmentMethod, p.CreatedAt, p.UpdatedAt,
	); err != nil {
		return fmt.Errorf("put profile %q: %w", p.Name, err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM profile_embeddings WHERE profile_name = $1`, p.Name); err != nil {
		return fmt.Errorf("put profile %q: %w", p.Name, err)
	}
	for _, emb := range p.Embeddings {
		if _, err := tx.Exec(ctx,
			`INSERT INTO profile_embeddings (profile_name, embedding) VALUES ($1, $2)`,
			p.Name, pgvector.NewVector(emb),
		); err != nil {
			return fmt.Errorf("put profile %q: %w", p.Name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("put profile %q: %w", p.Name, err)
	}
	return nil
}

// GetCandidate implements Store.
func (s *Postgres) GetCandidate(ctx context.Context, clusterID string) (*Candidate, error) {
	c := &Candidate{ClusterID: clusterID}
	err := s.pool.QueryRow(ctx,
		`SELECT sample_count, variance, self_consistency, transcript_refs, created_at, last_seen_at
		   FROM candidates WHERE cluster_id = $1`, clusterID,
	).Scan(&c.SampleCount, &c.Variance, &c.SelfConsistency, &c.SampleTranscriptRefs, &c.CreatedAt, &c.LastSeenAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("candidate %q: %w", clusterID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get candidate %q: %w", clusterID, err)
	}

	c.Embeddings, err = s.embeddingsFor(ctx,
		`SELECT embedding FROM candidate_embeddings WHERE cluster_id = $1 ORDER BY id`, clusterID)
	if err != nil {
		return nil, fmt.Errorf("get candidate %q: %w", clusterID, err)
	}
	return c, nil
}

// ListCandidates implements Store.
func (s *Postgres) ListCandidates(ctx context.Context) ([]*Candidate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT cluster_id, sample_count, variance, self_consistency, transcript_refs, created_at, last_seen_at
		   FROM candidates ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	defer rows.Close()

	var out []*Candidate
	for rows.Next() {
		c := &Candidate{}
		if err := rows.Scan(&c.ClusterID, &c.SampleCount, &c.Variance, &c.SelfConsistency, &c.SampleTranscriptRefs, &c.CreatedAt, &c.LastSeenAt); err != nil {
			return nil, fmt.Errorf("list candidates: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}

	for _, c := range out {
		c.Embeddings, err = s.embeddingsFor(ctx,
			`SELECT embedding FROM candidate_embeddings WHERE cluster_id = $1 ORDER BY id`, c.ClusterID)
		if err != nil {
			return nil, fmt.Errorf("list candidates: %w", err)
		}
	}
	return out, nil
}

// PutCandidate implements Store.
func (s *Postgres) PutCandidate(ctx context.Context, c *Candidate) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("put candidate %q: %w", c.ClusterID, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO candidates (cluster_id, sample_count, variance, self_consistency, transcript_refs, created_at, last_seen_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (cluster_id) DO UPDATE SET
		   sample_count = EXCLUDED.sample_count,
		   variance = EXCLUDED.variance,
		   self_consistency = EXCLUDED.self_consistency,
		   transcript_refs = EXCLUDED.transcript_refs,
		   last_seen_at = EXCLUDED.last_seen_at`,
		c.ClusterID, c.SampleCount, c.Variance, c.SelfConsistency, c.SampleTranscriptRefs, c.CreatedAt, c.LastSeenAt,
	); err != nil {
		return fmt.Errorf("put candidate %q: %w", c.ClusterID, err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM candidate_embeddings WHERE cluster_id = $1`, c.ClusterID); err != nil {
		return fmt.Errorf("put candidate %q: %w", c.ClusterID, err)
	}
	for _, emb := range c.Embeddings {
		if _, err := tx.Exec(ctx,
			`INSERT INTO candidate_embeddings (cluster_id, embedding) VALUES ($1, $2)`,
			c.ClusterID, pgvector.NewVector(emb),
		); err != nil {
			return fmt.Errorf("put candidate %q: %w", c.ClusterID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("put candidate %q: %w", c.ClusterID, err)
	}
	return nil
}

// DeleteCandidate implements Store.
func (s *Postgres) DeleteCandidate(ctx context.Context, clusterID string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM candidates WHERE cluster_id = $1`, clusterID); err != nil {
		return fmt.Errorf("delete candidate %q: %w", clusterID, err)
	}
	return nil
}

func (s *Postgres) embeddingsFor(ctx context.Context, query, key string) ([][]float32, error) {
	rows, err := s.pool.Query(ctx, query, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][]float32
	for rows.Next() {
		var v pgvector.Vector
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v.Slice())
	}
	return out, rows.Err()
}
