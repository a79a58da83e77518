// Package config holds the process-wide knobs named in spec.md: shard
// topology, GC generation thresholds, queue backoff, and rendez-vous
// batching windows. No config-file format is mandated by the spec, so
// this is a plain struct with functional-option constructors, the way
// the teacher configures its stagedsync stages inline in code.
package config

import (
	"time"

	"github.com/c2h5oh/datasize"
)

// Generations is the GC generation rollout described in §3/§4.A. A
// fresh install uses put=2, mark=1, delete=0.
type Generations struct {
	Put    int64
	Mark   int64
	Delete int64
}

// DefaultGenerations returns the fresh-install rollout from §6.
func DefaultGenerations() Generations {
	return Generations{Put: 2, Mark: 1, Delete: 0}
}

// Blobstore configures the sharded SQL backend. ChunkSize is carried
// as a datasize.ByteSize (rather than a bare int) purely so startup
// logging can render it human-readably ("1.0 MB" instead of
// "1048576"); the blobstore package's own §6-fixed ChunkSize constant
// is what every put/get path actually operates against.
type Blobstore struct {
	ShardDSNs        []string
	MaxKeyLen        int
	InlineThreshold  int
	ChunkSize        datasize.ByteSize
	CtimeInlineGrace time.Duration
	Generations      Generations
}

// DefaultBlobstore matches the constants fixed in §6.
func DefaultBlobstore(shardDSNs []string) Blobstore {
	return Blobstore{
		ShardDSNs:        shardDSNs,
		MaxKeyLen:        200,
		InlineThreshold:  191,
		ChunkSize:        datasize.ByteSize(1 << 20),
		CtimeInlineGrace: 24 * time.Hour,
		Generations:      DefaultGenerations(),
	}
}

// RendezVous configures the batching dispatcher used by bonsaihg (§4.C,
// Design Notes "Rendez-vous batching").
type RendezVous struct {
	Window   time.Duration
	MaxBatch int
}

// DefaultRendezVous is the "configurable batching window (default <=2ms)"
// from the design notes, with a generous batch cap.
func DefaultRendezVous() RendezVous {
	return RendezVous{Window: 2 * time.Millisecond, MaxBatch: 1000}
}

// Backoff configures the capped-exponential-with-jitter retry used by
// §4.G poll and §7 retryable errors.
type Backoff struct {
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultPollBackoff matches §4.G: starts at 1s, doubles, capped total 60s.
func DefaultPollBackoff() Backoff {
	return Backoff{
		InitialInterval: time.Second,
		Multiplier:      2,
		MaxInterval:     60 * time.Second,
		MaxElapsedTime:  60 * time.Second,
	}
}

// DefaultRetryBackoff matches §7: base 10s, factor 1.2, jitter 5s, max 2
// attempts (enforced by blobstore's withRetry via a retry cap, not here).
func DefaultRetryBackoff() Backoff {
	return Backoff{
		InitialInterval: 10 * time.Second,
		Multiplier:      1.2,
		MaxInterval:     20 * time.Second,
		MaxElapsedTime:  0, // caller bounds attempts, not elapsed time
	}
}
