package txn_test

import (
	"context"
	"strings"
	"sync"

	"github.com/jacentio/strata/driver"
	"github.com/jacentio/strata/errs"
)

// fakeDoc is the minimal driver.Doc implementation backing fakeDB reads.
type fakeDoc struct {
	exists bool
	data   map[string]any
}

func (d *fakeDoc) Exists() bool            { return d.exists }
func (d *fakeDoc) Data() map[string]any    { return d.data }

// fakeDB is an in-memory document table shared by every handle/client
// built against it, standing in for a real driver in these unit tests —
// the teacher tests store.Store against a real (or emulated) DynamoDB
// instance instead, which this module's build constraints (no Go
// toolchain invocations) rule out here.
type fakeDB struct {
	mu   sync.Mutex
	docs map[string]map[string]any

	// lockFailuresRemaining, when > 0, makes the next that many
	// RunTransaction calls run the closure against a throwaway copy of
	// docs and then fail the commit with a retryable lock-timeout error,
	// discarding its writes — used to exercise txn.Run's retry loop.
	lockFailuresRemaining int
}

func newFakeDB() *fakeDB { return &fakeDB{docs: make(map[string]map[string]any)} }

func refKey(ref driver.Ref) string { return ref.Collection + "/" + ref.ID }

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// fakeHandle implements driver.Handle directly against a fakeDB.
type fakeHandle struct{ db *fakeDB }

func (h *fakeHandle) Get(_ context.Context, ref driver.Ref) (driver.Doc, error) {
	h.db.mu.Lock()
	defer h.db.mu.Unlock()
	d, ok := h.db.docs[refKey(ref)]
	if !ok {
		return &fakeDoc{exists: false}, nil
	}
	return &fakeDoc{exists: true, data: cloneMap(d)}, nil
}

func (h *fakeHandle) GetAll(ctx context.Context, refs []driver.Ref) ([]driver.Doc, error) {
	out := make([]driver.Doc, len(refs))
	for i, ref := range refs {
		d, err := h.Get(ctx, ref)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}

func (h *fakeHandle) Create(_ context.Context, ref driver.Ref, data map[string]any) error {
	h.db.mu.Lock()
	defer h.db.mu.Unlock()
	key := refKey(ref)
	if _, exists := h.db.docs[key]; exists {
		return errs.New(errs.KindModelAlreadyExists, "document %q already exists", key)
	}
	h.db.docs[key] = cloneMap(data)
	return nil
}

func (h *fakeHandle) Set(_ context.Context, ref driver.Ref, data map[string]any, _ bool) error {
	h.db.mu.Lock()
	defer h.db.mu.Unlock()
	h.db.docs[refKey(ref)] = cloneMap(data)
	return nil
}

func (h *fakeHandle) Update(_ context.Context, ref driver.Ref, data map[string]any) error {
	h.db.mu.Lock()
	defer h.db.mu.Unlock()
	key := refKey(ref)
	merged := cloneMap(h.db.docs[key])
	for name, v := range data {
		switch sentinel := v.(type) {
		case driver.DeleteSentinel:
			delete(merged, name)
		case driver.Increment:
			cur, _ := merged[name].(float64)
			merged[name] = cur + sentinel.Delta
		default:
			merged[name] = v
		}
	}
	h.db.docs[key] = merged
	return nil
}

func (h *fakeHandle) Delete(_ context.Context, ref driver.Ref) error {
	h.db.mu.Lock()
	defer h.db.mu.Unlock()
	delete(h.db.docs, refKey(ref))
	return nil
}

// fakeClient implements driver.Client: a fakeHandle plus a
// TransactionRunner that optionally injects lock-contention failures.
type fakeClient struct {
	*fakeHandle
	db *fakeDB
}

func newFakeClient() *fakeClient {
	db := newFakeDB()
	return &fakeClient{fakeHandle: &fakeHandle{db: db}, db: db}
}

func (c *fakeClient) RunTransaction(ctx context.Context, _ driver.TransactionOptions, fn func(context.Context, driver.Handle) error) error {
	c.db.mu.Lock()
	if c.db.lockFailuresRemaining > 0 {
		c.db.lockFailuresRemaining--
		scratch := newFakeDB()
		for k, v := range c.db.docs {
			scratch.docs[k] = cloneMap(v)
		}
		c.db.mu.Unlock()
		if err := fn(ctx, &fakeHandle{db: scratch}); err != nil {
			return err
		}
		return errs.New(errs.KindTransactionLockTimeout, "simulated lock contention")
	}
	c.db.mu.Unlock()
	return fn(ctx, c.fakeHandle)
}

// constrainedFakeHandle extends fakeHandle with driver.ConstrainedCreator
// and driver.RelationshipQuerier support, standing in for dynamodriver's
// real parent-check/unique-shadow/relationship-pointer enforcement. The
// plain fakeHandle above deliberately omits these so most tests exercise
// the capability-interface fallback path instead; this one exists for
// the tests that need the hierarchical-relationship extension itself.
type constrainedFakeHandle struct {
	*fakeHandle
}

func (h *constrainedFakeHandle) CreateWithConstraints(ctx context.Context, ref driver.Ref, data map[string]any, parent *driver.ParentCheck, unique []driver.UniqueConstraint) error {
	h.db.mu.Lock()
	if parent != nil {
		if _, ok := h.db.docs[refKey(parent.Ref)]; !ok {
			h.db.mu.Unlock()
			return errs.New(errs.KindGenericModel, "parent %q does not exist", refKey(parent.Ref))
		}
	}
	for _, u := range unique {
		if _, exists := h.db.docs[refKey(u.Ref)]; exists {
			h.db.mu.Unlock()
			return errs.New(errs.KindModelAlreadyExists, "constraint %q already exists", refKey(u.Ref))
		}
	}
	h.db.mu.Unlock()

	for _, u := range unique {
		if err := h.Set(ctx, u.Ref, u.Data, false); err != nil {
			return err
		}
	}
	return h.Create(ctx, ref, data)
}

// QueryChildren scans the fake's flat map for documents filed under one
// of shardPKs, mirroring dynamodriver's per-shard Query without the
// DynamoDB pagination it has no equivalent of here.
func (h *constrainedFakeHandle) QueryChildren(ctx context.Context, shardPKs []string) ([]driver.ChildRef, error) {
	h.db.mu.Lock()
	defer h.db.mu.Unlock()
	var out []driver.ChildRef
	for _, pk := range shardPKs {
		prefix := pk + "/"
		for key, doc := range h.db.docs {
			if !strings.HasPrefix(key, prefix) {
				continue
			}
			collection, _ := doc[driver.ChildCollectionAttr].(string)
			id, _ := doc[driver.ChildIDAttr].(string)
			out = append(out, driver.ChildRef{
				Ref:      driver.Ref{Collection: collection, ID: id},
				ShardRef: driver.Ref{Collection: pk, ID: strings.TrimPrefix(key, prefix)},
			})
		}
	}
	return out, nil
}

// HasActiveChildren reports whether any pointer's named child document
// still exists in the fake's map — the fake hard-deletes on Delete, so
// "exists" is all the soft-delete distinction real DynamoDB TTL
// filtering collapses to here.
func (h *constrainedFakeHandle) HasActiveChildren(ctx context.Context, shardPKs []string) (bool, error) {
	children, err := h.QueryChildren(ctx, shardPKs)
	if err != nil {
		return false, err
	}
	h.db.mu.Lock()
	defer h.db.mu.Unlock()
	for _, child := range children {
		if _, exists := h.db.docs[refKey(child.Ref)]; exists {
			return true, nil
		}
	}
	return false, nil
}

// constrainedFakeClient is fakeClient's counterpart wired to a
// constrainedFakeHandle instead of a plain fakeHandle.
type constrainedFakeClient struct {
	*constrainedFakeHandle
	db *fakeDB
}

func newConstrainedFakeClient() *constrainedFakeClient {
	db := newFakeDB()
	return &constrainedFakeClient{
		constrainedFakeHandle: &constrainedFakeHandle{fakeHandle: &fakeHandle{db: db}},
		db:                    db,
	}
}

func (c *constrainedFakeClient) RunTransaction(ctx context.Context, _ driver.TransactionOptions, fn func(context.Context, driver.Handle) error) error {
	return fn(ctx, c.constrainedFakeHandle)
}
