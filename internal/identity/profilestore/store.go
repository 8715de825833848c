// Package profilestore persists enrolled speaker profiles and
// unknown-speaker candidate clusters. Two implementations are provided: an
// in-memory store for tests and single-node setups without persistence, and
// a PostgreSQL store using pgvector for the embedding columns.
//
// Stores only persist; per-key write serialization is the identity engine's
// job, so concurrent Put calls for the same key must still be safe, last
// writer wins.
package profilestore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a profile or candidate does not exist.
var ErrNotFound = errors.New("profilestore: not found")

// Profile is an enrolled speaker.
type Profile struct {
	// Name is the unique key.
	Name string

	// Embeddings is a bounded list; the identity engine drops the oldest on
	// overflow.
	Embeddings [][]float32

	// Threshold is the adaptive match threshold, recomputed whenever
	// Embeddings changes.
	Threshold float64

	// SelfConsistency is the average pairwise cosine distance among this
	// profile's own embeddings.
	SelfConsistency float64

	// EnrollmentMethod records how the profile came to exist, e.g. "manual"
	// or "candidate-promotion".
	EnrollmentMethod string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Candidate is an unknown-speaker cluster awaiting enough samples to become
// eligible for promotion.
type Candidate struct {
	// ClusterID is the unique key.
	ClusterID string

	// Embeddings is a bounded list; oldest dropped on overflow.
	Embeddings [][]float32

	// SampleTranscriptRefs holds segment IDs whose audio contributed
	// embeddings, bounded like Embeddings.
	SampleTranscriptRefs []string

	// SampleCount is the total number of samples ever appended, which can
	// exceed len(Embeddings) once the bounded list starts dropping.
	SampleCount int

	// Variance measures the spread of the cluster's embeddings.
	Variance float64

	// SelfConsistency is the average pairwise cosine distance among the
	// cluster's embeddings.
	SelfConsistency float64

	CreatedAt  time.Time
	LastSeenAt time.Time
}

// Store is the persistence boundary for profiles and candidates.
type Store interface {
	// GetProfile returns the profile for name, or ErrNotFound.
	GetProfile(ctx context.Context, name string) (*Profile, error)

	// ListProfiles returns every enrolled profile.
	ListProfiles(ctx context.Context) ([]*Profile, error)

	// PutProfile inserts or replaces a profile.
	PutProfile(ctx context.Context, p *Profile) error

	// GetCandidate returns the candidate for clusterID, or ErrNotFound.
	GetCandidate(ctx context.Context, clusterID string) (*Candidate, error)

	// ListCandidates returns every tracked candidate.
	ListCandidates(ctx context.Context) ([]*Candidate, error)

	// PutCandidate inserts or replaces a candidate.
	PutCandidate(ctx context.Context, c *Candidate) error

	// DeleteCandidate removes a candidate; deleting a missing candidate is
	// not an error.
	DeleteCandidate(ctx context.Context, clusterID string) error
}
