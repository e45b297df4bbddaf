// Package driver defines the contract strata's core depends on for talking
// to a remote document store. strata never implements a driver itself —
// see dynamodriver for the DynamoDB-backed adapter — the core only
// depends on this package's interfaces, per spec.md §9's note that the
// source's "monkey-patching the driver transaction object" should become
// an explicit adapter interface.
package driver

import "context"

// Ref addresses a single document: a collection name plus its encoded
// identifier.
type Ref struct {
	Collection string
	ID         string
}

// String renders ref in the "collection/id" wire form the hierarchical-
// relationship domain extension (SPEC_FULL.md §4.9) uses for its
// parent_ref/child bookkeeping attributes.
func (r Ref) String() string {
	return r.Collection + "/" + r.ID
}

// ParentRefAttr and UniquePKsAttr are the document attribute names the
// hierarchical-relationship domain extension stamps on a child document
// at create time — carried over verbatim from store.go's entity fields
// of the same name (SPEC_FULL.md §6) so a cascade-delete stream handler
// can read them directly off a stream record's new image without a
// round trip through the model layer.
const (
	ParentRefAttr = "parent_ref"
	UniquePKsAttr = "_unique_pks"
)

// ChildCollectionAttr and ChildIDAttr name the two fields a
// relationship-pointer record's Data carries, letting a
// RelationshipQuerier recover the child document's own Ref from a raw
// pointer item — store.go's child_table/child_key, narrowed to the two
// strings driver.Ref needs instead of a full table name plus DynamoDB key
// map.
const (
	ChildCollectionAttr = "child_collection"
	ChildIDAttr         = "child_id"
)

// DeleteSentinel is the field-deletion sentinel value spec.md §6 requires
// the driver to expose. A field.Field's WriteValue returns this when the
// wire representation of a document should have the attribute removed.
type DeleteSentinel struct{}

// Increment is the atomic-increment sentinel value spec.md §6 requires.
// A field.Field's WriteValue returns this when the driver should apply
// the delta natively rather than the core performing read-modify-write.
type Increment struct {
	Delta float64
}

// Doc is a retrieved document.
type Doc interface {
	// Exists reports whether the driver found a document at the
	// requested ref.
	Exists() bool

	// Data returns the document's non-key attributes as a plain map.
	// Only valid when Exists() is true.
	Data() map[string]any
}

// Handle is the seam between strata's core and a concrete store. It is
// implemented both by a direct (non-transactional) client and by a
// transaction object, so the core can use either uniformly.
type Handle interface {
	// Get retrieves a single document.
	Get(ctx context.Context, ref Ref) (Doc, error)

	// GetAll retrieves multiple documents as a single consistent read
	// when the handle is transactional.
	GetAll(ctx context.Context, refs []Ref) ([]Doc, error)

	// Create writes a new document, failing if one already exists at ref.
	Create(ctx context.Context, ref Ref, data map[string]any) error

	// Set writes ref unconditionally, replacing any existing document
	// (merge controls whether unspecified fields are preserved).
	Set(ctx context.Context, ref Ref, data map[string]any, merge bool) error

	// Update applies a partial write. Values that are DeleteSentinel are
	// removed; values that are Increment are applied atomically.
	Update(ctx context.Context, ref Ref, data map[string]any) error

	// Delete removes ref unconditionally.
	Delete(ctx context.Context, ref Ref) error
}

// TransactionOptions configures a RunTransaction call.
type TransactionOptions struct {
	ReadOnly    bool
	MaxAttempts int
}

// TransactionRunner opens a driver-native transaction and runs fn with a
// transactional Handle. Implementations decide whether the transaction
// is optimistic or pessimistic; strata's core is agnostic to which.
type TransactionRunner interface {
	RunTransaction(ctx context.Context, opts TransactionOptions, fn func(ctx context.Context, tx Handle) error) error
}

// Client is the process-wide entry point: usable directly as a Handle
// (non-transactional path) and as a TransactionRunner (transactional
// path), matching spec.md §6's "both as a standalone client and as a
// transaction object" requirement.
type Client interface {
	Handle
	TransactionRunner
}

// ParentCheck names a document that must exist (and not be soft-deleted)
// for a create to proceed, checked atomically alongside the create
// itself. Part of the hierarchical-relationship domain extension
// (SPEC_FULL.md §4.9) — generalizes store.ConditionCheck's parent
// validation without tying the core to DynamoDB's transact-item shape.
type ParentCheck struct {
	Ref Ref
}

// UniqueConstraint names a shadow document that must not already exist,
// written atomically alongside the owning document's create — the
// per-parent uniqueness mechanism SPEC_FULL.md §4.9 describes
// (store.go's "_unique_pks" shadow records, generalized).
type UniqueConstraint struct {
	Ref  Ref
	Data map[string]any
}

// ConstrainedCreator is implemented by drivers that can fold a parent
// existence check and unique-constraint shadow writes into the same
// atomic operation as Create. A driver without this capability still
// satisfies Handle; txn falls back to a plain Create and the
// relationship/uniqueness domain extension is simply unenforced.
type ConstrainedCreator interface {
	CreateWithConstraints(ctx context.Context, ref Ref, data map[string]any, parent *ParentCheck, unique []UniqueConstraint) error
}

// ChildRef is one relationship-pointer record a RelationshipQuerier
// returns: the child document's own ref, paired with the ref the
// pointer record itself is filed under (so a caller can clear the
// pointer independently of the child document it names).
type ChildRef struct {
	Ref      Ref
	ShardRef Ref
}

// RelationshipQuerier is implemented by drivers that can enumerate and
// probe the relationship-pointer records ConstrainedCreator writes
// alongside a child's create — store.go's QueryAllChildren/
// HasActiveChildren, generalized away from a dedicated RelationshipTable
// onto whatever addressing scheme the driver files pointer records
// under. Callers compute the sharded partition keys (shard.AllPKs) and
// pass them in; the driver stays unaware of the sharding scheme itself.
type RelationshipQuerier interface {
	// QueryChildren returns every relationship-pointer record filed
	// under any of shardPKs, including ones whose child has since been
	// soft-deleted (cascade delete needs those too).
	QueryChildren(ctx context.Context, shardPKs []string) ([]ChildRef, error)

	// HasActiveChildren reports whether any shardPK has a pointer record
	// whose child is not soft-deleted. Used for orphan protection.
	HasActiveChildren(ctx context.Context, shardPKs []string) (bool, error)
}
