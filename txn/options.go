// Package txn implements the transactional context spec.md §4.6
// describes: the tracked-document table, the four write operations,
// the five-step commit sequence, retry with exponential backoff, and
// the POST_COMMIT/TX_FAILED event emitter.
//
// The package is grounded on store/store.go's Create/Update/Delete
// transact-item orchestration, generalized from DynamoDB-specific item
// assembly to the driver-agnostic four-case write dispatch model.Instance
// produces.
package txn

import (
	"time"

	"github.com/jacentio/strata/errs"
)

// Options configures a Run call, per spec.md §4.6's table.
type Options struct {
	// ReadOnly, if true, rejects every write operation; a read
	// transaction may still be used (see ConsistentReads).
	ReadOnly bool

	// ConsistentReads, if true, makes multi-document reads share one
	// snapshot. Illegal to set false while ReadOnly is also false — a
	// context that writes is always transactional.
	ConsistentReads bool

	// Retries is the maximum number of additional attempts after the
	// first failure. Must be >= 0.
	Retries int

	// InitialBackoff is the first retry's sleep duration, before
	// jitter. Must be >= 1ms.
	InitialBackoff time.Duration

	// MaxBackoff caps the pre-jitter backoff interval across retries; the
	// ±10% jitter is applied after the cap.
	// Must be >= 200ms.
	MaxBackoff time.Duration

	// CacheModels, if true, makes Get on an already-tracked path return
	// the cached instance instead of raising ModelTrackedTwice.
	CacheModels bool

	// UniqueConstraintCollection names the driver collection holding
	// unique-field shadow records — the hierarchical-relationship domain
	// extension's (SPEC_FULL.md §4.9) per-parent uniqueness mechanism.
	// Defaults to "_unique_constraints" when empty.
	UniqueConstraintCollection string

	// NumShards is the number of partitions a parent's relationship
	// records are spread across — store/config.go's Config.NumShards,
	// carried onto Options since strata has no separate store-level
	// config of its own. 1 (the default) keeps every child of a given
	// parent under one partition; raise it only once a single parent's
	// child-create throughput outgrows one partition's write budget.
	NumShards int
}

// DefaultOptions returns spec.md §4.6's documented defaults.
func DefaultOptions() Options {
	return Options{
		ReadOnly:                   false,
		ConsistentReads:            true,
		Retries:                    4,
		InitialBackoff:             500 * time.Millisecond,
		MaxBackoff:                 10 * time.Second,
		CacheModels:                false,
		UniqueConstraintCollection: "_unique_constraints",
		NumShards:                  1,
	}
}

// validate enforces the legal-range and illegal-combination rules.
// Unlike the source's dynamically-keyed options bag, Go's static
// Options struct can't receive an "unknown option name" at all — the
// compiler rejects that before validate ever runs, which is strictly
// stronger than spec.md's runtime InvalidOptions check for that case.
func (o Options) validate() error {
	if !o.ReadOnly && !o.ConsistentReads {
		return errs.New(errs.KindInvalidOptions, "illegal combination: readOnly=false and consistentReads=false")
	}
	if o.Retries < 0 {
		return errs.New(errs.KindInvalidOptions, "retries must be >= 0, got %d", o.Retries)
	}
	if o.InitialBackoff < time.Millisecond {
		return errs.New(errs.KindInvalidOptions, "initialBackoff must be >= 1ms, got %s", o.InitialBackoff)
	}
	if o.MaxBackoff < 200*time.Millisecond {
		return errs.New(errs.KindInvalidOptions, "maxBackoff must be >= 200ms, got %s", o.MaxBackoff)
	}
	if o.NumShards < 1 || o.NumShards > 256 {
		return errs.New(errs.KindInvalidOptions, "numShards must be between 1 and 256, got %d", o.NumShards)
	}
	return nil
}
