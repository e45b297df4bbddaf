package txn_test

import (
	"context"
	"testing"
	"time"

	"github.com/jacentio/strata/descriptor"
	"github.com/jacentio/strata/errs"
	"github.com/jacentio/strata/model"
	"github.com/jacentio/strata/shard"
	"github.com/jacentio/strata/txn"
)

func orderMeta(t *testing.T) *model.Meta {
	t.Helper()
	key := map[string]descriptor.Descriptor{
		"id": descriptor.Field(descriptor.TypeString, descriptor.Immutable()),
	}
	fields := map[string]descriptor.Descriptor{
		"product":  descriptor.Field(descriptor.TypeString),
		"quantity": descriptor.Field(descriptor.TypeInteger),
	}
	meta, err := model.Compile("Order", key, fields, "", nil, "", nil, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return meta
}

func fastOptions() txn.Options {
	opts := txn.DefaultOptions()
	opts.InitialBackoff = time.Millisecond
	opts.MaxBackoff = 200 * time.Millisecond
	return opts
}

func TestRun_NoWriteWhenClosureTouchesNothing(t *testing.T) {
	client := newFakeClient()
	err := txn.Run(context.Background(), client, fastOptions(), func(c *txn.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(client.db.docs) != 0 {
		t.Errorf("expected no writes, got %v", client.db.docs)
	}
}

func TestRun_CreateThenReadRoundTrip(t *testing.T) {
	meta := orderMeta(t)
	client := newFakeClient()

	err := txn.Run(context.Background(), client, fastOptions(), func(c *txn.Context) error {
		_, err := c.Create(meta, map[string]any{"id": "A1", "product": "coffee", "quantity": 1})
		return err
	})
	if err != nil {
		t.Fatalf("Run (create): %v", err)
	}

	var got *model.Instance
	err = txn.Run(context.Background(), client, fastOptions(), func(c *txn.Context) error {
		key, err := model.KeyOf(meta, "A1")
		if err != nil {
			return err
		}
		got, err = c.Get(key, txn.GetOptions{})
		return err
	})
	if err != nil {
		t.Fatalf("Run (get): %v", err)
	}
	if got == nil {
		t.Fatal("expected a hit, got nil")
	}
	if got.IsNew() {
		t.Error("expected IsNew false for a fetched document")
	}
	product, _ := got.Get("product")
	if product != "coffee" {
		t.Errorf("expected product 'coffee', got %v", product)
	}
}

func TestRun_ReadOnlyRejectsWrite(t *testing.T) {
	meta := orderMeta(t)
	client := newFakeClient()

	opts := fastOptions()
	opts.ReadOnly = true

	err := txn.Run(context.Background(), client, opts, func(c *txn.Context) error {
		_, err := c.Create(meta, map[string]any{"id": "A1", "product": "coffee", "quantity": 1})
		return err
	})
	if err == nil {
		t.Fatal("expected an error for a write attempted in a read-only context")
	}
	if !errs.Is(err, errs.KindTransactionFailed) {
		t.Errorf("expected a wrapped TransactionFailed, got %v", err)
	}
}

func TestRun_ContentionRetrySucceedsOnThirdAttempt(t *testing.T) {
	meta := orderMeta(t)
	client := newFakeClient()
	client.db.lockFailuresRemaining = 2

	attempts := 0
	opts := fastOptions()
	opts.Retries = 4

	err := txn.Run(context.Background(), client, opts, func(c *txn.Context) error {
		attempts++
		_, err := c.Create(meta, map[string]any{"id": "A1", "product": "coffee", "quantity": 1})
		return err
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRun_RetriesExhausted(t *testing.T) {
	meta := orderMeta(t)
	_ = meta
	client := newFakeClient()
	client.db.lockFailuresRemaining = 100

	opts := fastOptions()
	opts.Retries = 2

	attempts := 0
	err := txn.Run(context.Background(), client, opts, func(c *txn.Context) error {
		attempts++
		return nil
	})
	if err == nil {
		t.Fatal("expected an error after retries are exhausted")
	}
	if attempts != 3 {
		t.Errorf("expected retries+1 = 3 attempts, got %d", attempts)
	}
}

func TestRun_PostCommitFiresExactlyOnce(t *testing.T) {
	meta := orderMeta(t)
	client := newFakeClient()
	client.db.lockFailuresRemaining = 2

	fired := 0
	opts := fastOptions()
	opts.Retries = 4

	err := txn.Run(context.Background(), client, opts, func(c *txn.Context) error {
		if err := c.AddEventHandler(txn.EventPostCommit, func(ctx context.Context, err error) {
			fired++
		}); err != nil {
			return err
		}
		_, err := c.Create(meta, map[string]any{"id": "A1", "product": "coffee", "quantity": 1})
		return err
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if fired != 1 {
		t.Errorf("expected POST_COMMIT to fire exactly once, got %d", fired)
	}
}

func TestContext_CacheModels_ReturnsSameInstance(t *testing.T) {
	meta := orderMeta(t)
	client := newFakeClient()

	err := txn.Run(context.Background(), client, fastOptions(), func(c *txn.Context) error {
		_, err := c.Create(meta, map[string]any{"id": "A1", "product": "coffee", "quantity": 1})
		return err
	})
	if err != nil {
		t.Fatalf("Run (seed): %v", err)
	}

	opts := fastOptions()
	opts.CacheModels = true
	err = txn.Run(context.Background(), client, opts, func(c *txn.Context) error {
		key, err := model.KeyOf(meta, "A1")
		if err != nil {
			return err
		}
		first, err := c.Get(key, txn.GetOptions{})
		if err != nil {
			return err
		}
		second, err := c.Get(key, txn.GetOptions{})
		if err != nil {
			return err
		}
		if first != second {
			t.Errorf("expected cacheModels to return the same instance, got distinct instances")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run (cached get): %v", err)
	}
}

func TestContext_WithoutCacheModels_SecondGetRaisesTrackedTwice(t *testing.T) {
	meta := orderMeta(t)
	client := newFakeClient()

	err := txn.Run(context.Background(), client, fastOptions(), func(c *txn.Context) error {
		_, err := c.Create(meta, map[string]any{"id": "A1", "product": "coffee", "quantity": 1})
		return err
	})
	if err != nil {
		t.Fatalf("Run (seed): %v", err)
	}

	err = txn.Run(context.Background(), client, fastOptions(), func(c *txn.Context) error {
		key, err := model.KeyOf(meta, "A1")
		if err != nil {
			return err
		}
		if _, err := c.Get(key, txn.GetOptions{}); err != nil {
			return err
		}
		_, err = c.Get(key, txn.GetOptions{})
		return err
	})
	if err == nil {
		t.Fatal("expected ModelTrackedTwice on the second Get of the same key")
	}
}

func TestContext_Delete_DeletedTwiceRaises(t *testing.T) {
	meta := orderMeta(t)
	client := newFakeClient()

	err := txn.Run(context.Background(), client, fastOptions(), func(c *txn.Context) error {
		key, err := model.KeyOf(meta, "A1")
		if err != nil {
			return err
		}
		if err := c.Delete(key); err != nil {
			return err
		}
		return c.Delete(key)
	})
	if err == nil {
		t.Fatal("expected DeletedTwice for deleting the same key twice in one context")
	}
}

func TestContext_UpdateWithoutRead_RejectsKeyAttribute(t *testing.T) {
	meta := orderMeta(t)
	client := newFakeClient()

	err := txn.Run(context.Background(), client, fastOptions(), func(c *txn.Context) error {
		key, err := model.KeyOf(meta, "A1")
		if err != nil {
			return err
		}
		_, err = c.UpdateWithoutRead(key, map[string]any{"id": "A2"})
		return err
	})
	if err == nil {
		t.Fatal("expected an error for updateWithoutRead naming a key attribute")
	}
}

func TestContext_UpdateWithoutRead_AppliesImmediately(t *testing.T) {
	meta := orderMeta(t)
	client := newFakeClient()

	err := txn.Run(context.Background(), client, fastOptions(), func(c *txn.Context) error {
		_, err := c.Create(meta, map[string]any{"id": "A1", "product": "coffee", "quantity": 1})
		return err
	})
	if err != nil {
		t.Fatalf("Run (seed): %v", err)
	}

	err = txn.Run(context.Background(), client, fastOptions(), func(c *txn.Context) error {
		key, err := model.KeyOf(meta, "A1")
		if err != nil {
			return err
		}
		_, err = c.UpdateWithoutRead(key, map[string]any{"quantity": 5})
		return err
	})
	if err != nil {
		t.Fatalf("Run (update): %v", err)
	}

	if got := client.db.docs["Order/A1"]["quantity"]; got != 5 {
		t.Errorf("expected quantity 5 after updateWithoutRead, got %v", got)
	}
}

func TestOptions_IllegalCombinationRaises(t *testing.T) {
	client := newFakeClient()
	opts := txn.Options{ReadOnly: false, ConsistentReads: false}
	err := txn.Run(context.Background(), client, opts, func(c *txn.Context) error { return nil })
	if err == nil {
		t.Fatal("expected InvalidOptions for readOnly=false, consistentReads=false")
	}
}

func parentChildMeta(t *testing.T) (*model.Meta, *model.Meta) {
	t.Helper()
	parentKey := map[string]descriptor.Descriptor{
		"id": descriptor.Field(descriptor.TypeString, descriptor.Immutable()),
	}
	parent, err := model.Compile("Account", parentKey, nil, "", nil, "", nil, nil)
	if err != nil {
		t.Fatalf("Compile (parent): %v", err)
	}

	childKey := map[string]descriptor.Descriptor{
		"id": descriptor.Field(descriptor.TypeString, descriptor.Immutable()),
	}
	childFields := map[string]descriptor.Descriptor{
		"accountId": descriptor.Field(descriptor.TypeString, descriptor.Immutable()),
		"email":     descriptor.Field(descriptor.TypeString),
	}
	child, err := model.Compile("User", childKey, childFields, "", parent, "accountId", []string{"email"}, nil)
	if err != nil {
		t.Fatalf("Compile (child): %v", err)
	}
	return parent, child
}

func TestContext_CreateWithConstraints_StampsParentRefAndUniquePKs(t *testing.T) {
	parentMeta, childMeta := parentChildMeta(t)
	client := newConstrainedFakeClient()

	err := txn.Run(context.Background(), client, fastOptions(), func(c *txn.Context) error {
		_, err := c.Create(parentMeta, map[string]any{"id": "acct-1"})
		return err
	})
	if err != nil {
		t.Fatalf("Run (seed parent): %v", err)
	}

	err = txn.Run(context.Background(), client, fastOptions(), func(c *txn.Context) error {
		_, err := c.Create(childMeta, map[string]any{"id": "u1", "accountId": "acct-1", "email": "a@example.com"})
		return err
	})
	if err != nil {
		t.Fatalf("Run (create child): %v", err)
	}

	doc, ok := client.db.docs["User/u1"]
	if !ok {
		t.Fatal("expected child document to exist")
	}
	if got := doc["parent_ref"]; got != "Account/acct-1" {
		t.Errorf("expected parent_ref %q, got %v", "Account/acct-1", got)
	}
	pks, ok := doc["_unique_pks"].([]string)
	if !ok || len(pks) != 1 {
		t.Fatalf("expected exactly one unique PK recorded, got %v", doc["_unique_pks"])
	}

	if _, exists := client.db.docs["_unique_constraints/"+pks[0]]; !exists {
		t.Errorf("expected a unique-constraint shadow record at %q", pks[0])
	}

	shardPK := shard.RelationshipPK("Account/acct-1", "User/u1", 1)
	if _, exists := client.db.docs[shardPK+"/User/u1"]; !exists {
		t.Errorf("expected a relationship-pointer record at %q", shardPK+"/User/u1")
	}
}

func TestContext_CreateWithConstraints_RejectsMissingParent(t *testing.T) {
	_, childMeta := parentChildMeta(t)
	client := newConstrainedFakeClient()

	err := txn.Run(context.Background(), client, fastOptions(), func(c *txn.Context) error {
		_, err := c.Create(childMeta, map[string]any{"id": "u1", "accountId": "does-not-exist", "email": "a@example.com"})
		return err
	})
	if err == nil {
		t.Fatal("expected an error when the declared parent does not exist")
	}
}

func TestContext_DeleteWithOptions_OrphanProtectAllowsWhenNoChildren(t *testing.T) {
	parentMeta, _ := parentChildMeta(t)
	client := newConstrainedFakeClient()

	err := txn.Run(context.Background(), client, fastOptions(), func(c *txn.Context) error {
		_, err := c.Create(parentMeta, map[string]any{"id": "acct-1"})
		return err
	})
	if err != nil {
		t.Fatalf("Run (seed parent): %v", err)
	}

	err = txn.Run(context.Background(), client, fastOptions(), func(c *txn.Context) error {
		key, err := model.KeyOf(parentMeta, "acct-1")
		if err != nil {
			return err
		}
		return c.DeleteWithOptions(key, txn.DeleteOptions{OrphanProtect: true})
	})
	if err != nil {
		t.Fatalf("expected delete to succeed with no children: %v", err)
	}
}

func TestContext_DeleteWithOptions_OrphanProtectRejectsWhenChildrenExist(t *testing.T) {
	parentMeta, childMeta := parentChildMeta(t)
	client := newConstrainedFakeClient()

	err := txn.Run(context.Background(), client, fastOptions(), func(c *txn.Context) error {
		_, err := c.Create(parentMeta, map[string]any{"id": "acct-1"})
		return err
	})
	if err != nil {
		t.Fatalf("Run (seed parent): %v", err)
	}

	err = txn.Run(context.Background(), client, fastOptions(), func(c *txn.Context) error {
		_, err := c.Create(childMeta, map[string]any{"id": "u1", "accountId": "acct-1", "email": "a@example.com"})
		return err
	})
	if err != nil {
		t.Fatalf("Run (create child): %v", err)
	}

	err = txn.Run(context.Background(), client, fastOptions(), func(c *txn.Context) error {
		key, err := model.KeyOf(parentMeta, "acct-1")
		if err != nil {
			return err
		}
		return c.DeleteWithOptions(key, txn.DeleteOptions{OrphanProtect: true})
	})
	if err == nil {
		t.Fatal("expected an error when active children exist")
	}
	if !errs.Is(err, errs.KindGenericModel) {
		t.Errorf("expected a wrapped GenericModel error, got %v", err)
	}
}
