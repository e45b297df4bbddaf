package txn

import (
	"context"
	"reflect"

	"github.com/jacentio/strata/driver"
	"github.com/jacentio/strata/errs"
	"github.com/jacentio/strata/model"
	"github.com/jacentio/strata/shard"
)

type slotState int

const (
	// slotLive holds a model instance awaiting commit-time dispatch
	// (new, fetched, or mutated).
	slotLive slotState = iota
	// slotAbsent records a get miss without createIfMissing — the
	// source's "undefined" sentinel.
	slotAbsent
	// slotDeleted records a delete — the source's "null" sentinel.
	slotDeleted
	// slotDispatched records an updateWithoutRead already written to
	// the driver; it is not revisited at commit.
	slotDispatched
)

type slot struct {
	path     string
	state    slotState
	instance *model.Instance
	ref      driver.Ref
}

// Context is the per-attempt transactional context spec.md §4.6
// describes: the tracked-document table plus the driver handle bound
// for the current attempt. A Context exists only for the duration of
// one Run call and is never shared across goroutines; Run reuses it for
// every attempt, resetting its per-attempt state at the start of each.
type Context struct {
	opts   Options
	events *eventEmitter

	goCtx  context.Context
	handle driver.Handle

	tracked map[string]*slot
	order   []*slot
}

// reset clears per-attempt state; called once per Run attempt,
// including the first. Event handlers are attempt-scoped too — a
// retried attempt re-runs fn from scratch, so a handler registered
// before the failure that triggered the retry must not fire twice.
func (c *Context) reset() {
	c.tracked = make(map[string]*slot)
	c.order = nil
	c.events = newEventEmitter()
}

func (c *Context) path(meta *model.Meta, encodedID string) string {
	return meta.CollectionName() + "/" + encodedID
}

func (c *Context) track(path string, s *slot) {
	c.tracked[path] = s
	c.order = append(c.order, s)
}

// GetOptions configures a Get/GetAll call.
type GetOptions struct {
	// CreateIfMissing requires every target to be a *model.Data; a miss
	// materializes a new (IsNew=true) instance from its Values instead
	// of tracking the path as fetched-absent.
	CreateIfMissing bool
}

// Get fetches the single document ref addresses. ref must be a
// *model.Key (CreateIfMissing false) or a *model.Data (CreateIfMissing
// true). A miss without CreateIfMissing returns (nil, nil).
func (c *Context) Get(ref any, opts GetOptions) (*model.Instance, error) {
	results, err := c.GetAll([]any{ref}, opts)
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// GetAll batches the same read across multiple targets. Inside a
// transactional attempt this is a single consistent snapshot (the
// driver.Handle.GetAll contract).
func (c *Context) GetAll(refs []any, opts GetOptions) ([]*model.Instance, error) {
	if len(refs) == 0 {
		return nil, nil
	}

	keys := make([]*model.Key, len(refs))
	values := make([]map[string]any, len(refs))
	for i, r := range refs {
		switch v := r.(type) {
		case *model.Key:
			if opts.CreateIfMissing {
				return nil, errs.New(errs.KindInvalidParameter, "createIfMissing requires every target to be a *model.Data")
			}
			keys[i] = v
		case *model.Data:
			if !opts.CreateIfMissing {
				return nil, errs.New(errs.KindInvalidParameter, "every target must be a *model.Key unless createIfMissing is set")
			}
			keys[i] = &v.Key
			values[i] = v.Values
		default:
			return nil, errs.New(errs.KindInvalidParameter, "Get target must be *model.Key or *model.Data")
		}
	}

	results := make([]*model.Instance, len(refs))
	toFetch := make([]int, 0, len(refs))
	driverRefs := make([]driver.Ref, 0, len(refs))

	for i, k := range keys {
		path := c.path(k.Class, k.EncodedID)
		if existing, ok := c.tracked[path]; ok {
			if !c.opts.CacheModels {
				return nil, errs.New(errs.KindModelTrackedTwice, "path %q already tracked in this context", path)
			}
			if existing.state == slotLive {
				results[i] = existing.instance
			}
			continue
		}
		toFetch = append(toFetch, i)
		driverRefs = append(driverRefs, k.Ref())
	}

	if len(toFetch) > 0 {
		docs, err := c.handle.GetAll(c.goCtx, driverRefs)
		if err != nil {
			return nil, err
		}
		for j, i := range toFetch {
			k := keys[i]
			path := c.path(k.Class, k.EncodedID)
			doc := docs[j]

			if doc.Exists() {
				inst, err := model.New(k.Class, model.NewOptions{
					IsNew:  false,
					Key:    k.Components,
					Values: doc.Data(),
				})
				if err != nil {
					return nil, err
				}
				c.track(path, &slot{path: path, state: slotLive, instance: inst, ref: k.Ref()})
				results[i] = inst
				continue
			}

			if opts.CreateIfMissing {
				inst, err := model.New(k.Class, model.NewOptions{
					IsNew:  true,
					Key:    k.Components,
					Values: values[i],
				})
				if err != nil {
					return nil, err
				}
				c.track(path, &slot{path: path, state: slotLive, instance: inst, ref: k.Ref()})
				results[i] = inst
				continue
			}

			c.track(path, &slot{path: path, state: slotAbsent, ref: k.Ref()})
			results[i] = nil
		}
	}

	return results, nil
}

// Create constructs a new, local-only model: the write is deferred to
// commit. Raises ModelTrackedTwice if meta's key (derived from values)
// is already tracked, unless CacheModels is enabled.
func (c *Context) Create(meta *model.Meta, values map[string]any) (*model.Instance, error) {
	return c.createInternal(meta, values, false)
}

// CreateOrOverwrite is Create, except the eventual write replaces any
// existing document rather than failing if one exists.
func (c *Context) CreateOrOverwrite(meta *model.Meta, values map[string]any) (*model.Instance, error) {
	return c.createInternal(meta, values, true)
}

func (c *Context) createInternal(meta *model.Meta, values map[string]any, isSet bool) (*model.Instance, error) {
	data, err := model.DataOf(meta, values)
	if err != nil {
		return nil, err
	}
	path := c.path(meta, data.EncodedID)

	if existing, tracked := c.tracked[path]; tracked {
		if !c.opts.CacheModels {
			return nil, errs.New(errs.KindModelTrackedTwice, "path %q already tracked in this context", path)
		}
		if existing.state == slotLive {
			return existing.instance, nil
		}
	}

	inst, err := model.New(meta, model.NewOptions{
		IsNew:  true,
		IsSet:  isSet,
		Key:    data.Components,
		Values: data.Values,
	})
	if err != nil {
		return nil, err
	}
	c.track(path, &slot{path: path, state: slotLive, instance: inst, ref: data.Ref()})
	return inst, nil
}

// UpdateWithoutRead constructs a partial model addressed by key and
// dispatches the update to the driver immediately — spec.md §4.6
// describes this operation as "synchronous-in-intent", unlike every
// other operation here, whose writes are deferred to commit. values
// must not name any of key's key attributes (DESIGN.md's resolution
// of spec.md §9's open question on this point) and must supply at
// least one non-key change.
func (c *Context) UpdateWithoutRead(key *model.Key, values map[string]any) (*model.Instance, error) {
	meta := key.Class
	for name := range values {
		if meta.IsKeyAttr(name) {
			return nil, errs.New(errs.KindInvalidParameter, "updateWithoutRead values must not include key attribute %q", name)
		}
		if !meta.HasAttr(name) {
			return nil, errs.New(errs.KindInvalidParameter, "unknown attribute %q on %q", name, meta.Name())
		}
	}
	if len(values) == 0 {
		return nil, errs.New(errs.KindInvalidParameter, "updateWithoutRead requires at least one non-key value to change")
	}

	path := c.path(meta, key.EncodedID)
	if _, tracked := c.tracked[path]; tracked {
		if !c.opts.CacheModels {
			return nil, errs.New(errs.KindModelTrackedTwice, "path %q already tracked in this context", path)
		}
	}

	inst, err := model.New(meta, model.NewOptions{
		IsNew:     false,
		IsPartial: true,
		Key:       key.Components,
		Values:    values,
	})
	if err != nil {
		return nil, err
	}

	w, err := inst.Dispatch(c.goCtx)
	if err != nil {
		return nil, err
	}
	if c.opts.ReadOnly {
		return nil, errs.New(errs.KindWriteAttemptedInReadOnlyTx, "updateWithoutRead attempted in a read-only context")
	}
	if err := c.handle.Update(c.goCtx, w.Ref, w.Data); err != nil {
		return nil, err
	}

	c.track(path, &slot{path: path, state: slotDispatched, instance: inst, ref: w.Ref})
	return inst, nil
}

// resolveKey extracts the *model.Key a Delete target names. t must be a
// *model.Key or a *model.Instance.
func resolveKey(t any) (*model.Key, error) {
	switch v := t.(type) {
	case *model.Key:
		return v, nil
	case *model.Instance:
		return v.Key()
	default:
		return nil, errs.New(errs.KindInvalidParameter, "Delete target must be *model.Key or *model.Instance")
	}
}

// Delete marks each target's slot deleted. Targets may be a *model.Key
// or a *model.Instance. The driver delete is issued at commit (the
// teacher's transactional-write-ordering requirement applies equally
// here); tracking itself happens eagerly, so a repeated delete of the
// same key within one context raises DeletedTwice immediately.
func (c *Context) Delete(targets ...any) error {
	for _, t := range targets {
		key, err := resolveKey(t)
		if err != nil {
			return err
		}

		path := c.path(key.Class, key.EncodedID)
		if existing, tracked := c.tracked[path]; tracked && existing.state == slotDeleted {
			return errs.New(errs.KindDeletedTwice, "path %q already deleted in this context", path)
		}
		c.track(path, &slot{path: path, state: slotDeleted, ref: key.Ref()})
	}
	return nil
}

// DeleteOptions configures a single-target Delete — store.go's
// DeleteOptions, preserved verbatim (SPEC_FULL.md §4.9).
type DeleteOptions struct {
	// Cascade is documentation-only here: cascading the TTL down to
	// children is cascade.Handler's job, driven by the DynamoDB Streams
	// trigger the TTL write produces, not anything Context.Delete itself
	// does differently. Kept so call sites can state intent the same way
	// store.Delete's did.
	Cascade bool

	// OrphanProtect fails the delete with errs.KindGenericModel if target
	// currently has any active (non-soft-deleted) child.
	OrphanProtect bool
}

// DeleteWithOptions is Delete for a single target, with store.Delete's
// OrphanProtect check folded in — a driver without driver.RelationshipQuerier
// simply never enforces it, the same fallback every hierarchical-relationship
// capability in this package uses.
func (c *Context) DeleteWithOptions(target any, opts DeleteOptions) error {
	key, err := resolveKey(target)
	if err != nil {
		return err
	}

	if opts.OrphanProtect {
		if rq, ok := c.handle.(driver.RelationshipQuerier); ok {
			shardPKs := shard.AllPKs(key.Ref().String(), c.opts.NumShards)
			hasChildren, err := rq.HasActiveChildren(c.goCtx, shardPKs)
			if err != nil {
				return err
			}
			if hasChildren {
				return errs.New(errs.KindGenericModel, "cannot delete %q: active children exist", key.Ref())
			}
		}
	}

	return c.Delete(key)
}

// MakeReadOnly toggles ReadOnly for the remainder of this attempt.
func (c *Context) MakeReadOnly() { c.opts.ReadOnly = true }

// EnableModelCache toggles CacheModels for the remainder of this attempt.
func (c *Context) EnableModelCache() { c.opts.CacheModels = true }

// AddEventHandler registers a single-fire handler on event. name is
// optional, for diagnostics only.
func (c *Context) AddEventHandler(event Event, fn EventHandler, name ...string) error {
	n := ""
	if len(name) > 0 {
		n = name[0]
	}
	return c.events.add(event, fn, n)
}

// ModelDiff is one tracked model's before/after/diff snapshot.
type ModelDiff struct {
	Before map[string]any
	After  map[string]any
	Diff   map[string]any
}

// GetModelDiffs returns a ModelDiff per tracked, non-deleted slot with
// a live instance, in tracking order. filter, if given, restricts the
// result to instances whose Meta it accepts. Deleted and fetched-absent
// slots are omitted entirely (DESIGN.md's resolution of spec.md §9's
// open question on this point).
func (c *Context) GetModelDiffs(filter func(*model.Meta) bool) ([]ModelDiff, error) {
	var diffs []ModelDiff
	for _, s := range c.order {
		if s.state != slotLive && s.state != slotDispatched {
			continue
		}
		if filter != nil && !filter(s.instance.Meta()) {
			continue
		}
		before, err := s.instance.Snapshot(model.SnapshotOptions{Initial: true})
		if err != nil {
			return nil, err
		}
		after, err := s.instance.Snapshot(model.SnapshotOptions{Initial: false})
		if err != nil {
			return nil, err
		}
		diff := make(map[string]any)
		for name, av := range after {
			if bv, ok := before[name]; !ok || !reflect.DeepEqual(bv, av) {
				diff[name] = av
			}
		}
		diffs = append(diffs, ModelDiff{Before: before, After: after, Diff: diff})
	}
	return diffs, nil
}

// runClosureAndCommit runs fn against c, then commits every tracked
// slot per spec.md §4.6's commit sequence steps 2-4.
func (c *Context) runClosureAndCommit(fn func(*Context) error) error {
	if err := fn(c); err != nil {
		return err
	}
	return c.commit()
}

// commit walks tracked slots in insertion order, dispatching a write
// for each live-and-(new-or-mutated) slot and a delete for each
// deleted slot.
func (c *Context) commit() error {
	for _, s := range c.order {
		switch s.state {
		case slotDispatched, slotAbsent:
			continue

		case slotDeleted:
			if c.opts.ReadOnly {
				return errs.New(errs.KindWriteAttemptedInReadOnlyTx, "delete attempted in a read-only context")
			}
			if err := c.handle.Delete(c.goCtx, s.ref); err != nil {
				return err
			}

		case slotLive:
			if !s.instance.IsNew() && !s.instance.HasPendingChanges() {
				continue
			}
			if c.opts.ReadOnly {
				return errs.New(errs.KindWriteAttemptedInReadOnlyTx, "write attempted in a read-only context")
			}
			w, err := s.instance.Dispatch(c.goCtx)
			if err != nil {
				return err
			}
			switch w.Op {
			case model.WriteCreate:
				err = c.createWithConstraints(s.instance.Meta(), w)
			case model.WriteOverwrite:
				err = c.handle.Set(c.goCtx, w.Ref, w.Data, false)
			case model.WriteUpdate:
				err = c.handle.Update(c.goCtx, w.Ref, w.Data)
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// createWithConstraints issues w's create, folding in a parent-existence
// check, unique-field shadow writes, and a relationship-pointer shadow
// write when meta declares a parent — the hierarchical-relationship
// domain extension (SPEC_FULL.md §4.9). A driver that doesn't implement
// driver.ConstrainedCreator (the fake test driver, for instance) simply
// never enforces these; a plain Create still runs.
func (c *Context) createWithConstraints(meta *model.Meta, w *model.Write) error {
	if w.ParentRef == "" && len(w.UniqueValues) == 0 {
		return c.handle.Create(c.goCtx, w.Ref, w.Data)
	}

	cc, ok := c.handle.(driver.ConstrainedCreator)
	if !ok {
		return c.handle.Create(c.goCtx, w.Ref, w.Data)
	}

	var parent *driver.ParentCheck
	var unique []driver.UniqueConstraint

	if len(w.UniqueValues) > 0 {
		collection := c.opts.UniqueConstraintCollection
		if collection == "" {
			collection = "_unique_constraints"
		}
		pks := make([]string, 0, len(w.UniqueValues))
		for field, value := range w.UniqueValues {
			pk := shard.UniqueConstraintPK(w.ParentRef, meta.Name(), field, value)
			pks = append(pks, pk)
			unique = append(unique, driver.UniqueConstraint{
				Ref: driver.Ref{Collection: collection, ID: pk},
				Data: map[string]any{
					"parent_ref":  w.ParentRef,
					"entity_type": meta.Name(),
					"field_name":  field,
					"field_value": value,
					"entity_ref":  w.Ref.String(),
				},
			})
		}
		// Recorded on the entity itself (store.go's "_unique_pks") so a
		// cascade-delete stream handler can clear every shadow record
		// straight off the stream's new image, without recomputing which
		// fields were declared unique.
		w.Data[driver.UniquePKsAttr] = pks
	}

	if w.ParentRef != "" {
		parentRef := driver.Ref{Collection: meta.ParentClass.CollectionName(), ID: w.ParentRef}
		parent = &driver.ParentCheck{Ref: parentRef}
		w.Data[driver.ParentRefAttr] = parentRef.String()

		// Keyed on parentRef.String() (not the bare w.ParentRef) so that this
		// matches the PK DeleteWithOptions and cascade.Handler recompute from
		// a parent's own Ref and from the stored parent_ref attribute,
		// respectively — both work from the full "collection/id" form.
		shardPK := shard.RelationshipPK(parentRef.String(), w.Ref.String(), c.opts.NumShards)
		unique = append(unique, driver.UniqueConstraint{
			Ref: driver.Ref{Collection: shardPK, ID: w.Ref.String()},
			Data: map[string]any{
				driver.ChildCollectionAttr: w.Ref.Collection,
				driver.ChildIDAttr:         w.Ref.ID,
			},
		})
	}

	return cc.CreateWithConstraints(c.goCtx, w.Ref, w.Data, parent, unique)
}
