// Package cascade implements the DynamoDB Streams handler that
// propagates a soft-delete's TTL down to a document's children, its own
// relationship-pointer record, and its unique-constraint shadow
// records — the hierarchical-relationship domain extension's
// cascade-delete path (SPEC_FULL.md §4.10).
//
// Grounded on stream/cascade.go's Handler/HandleCascadeDelete/
// processRecord wholesale, adapted from *store.Store's dedicated
// RelationshipTable/UniqueTable onto dynamodriver's single-table
// addressing: every shadow record this package clears is just another
// driver.Ref, reached through driver.Handle.Delete and
// driver.RelationshipQuerier.QueryChildren instead of store-specific
// SetTTLByKey/SetRelationshipTTL/SetUniqueConstraintTTL methods.
package cascade

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/strata/driver"
	"github.com/jacentio/strata/registry"
	"github.com/jacentio/strata/shard"
)

// Client is what cascade needs from a driver: a driver.Handle (for the
// soft-delete on an arbitrary ref) and the relationship-pointer lookup
// ConstrainedCreator's writes make possible. It does not require
// driver.TransactionRunner, so a test double doesn't have to fake
// transactions.
type Client interface {
	driver.Handle
	driver.RelationshipQuerier
}

// Handler processes DynamoDB stream events for cascade deletes.
type Handler struct {
	client     Client
	registry   *registry.Registry
	numShards  int
	uniqueColl string
	logger     *slog.Logger
}

// NewHandler builds a Handler. reg is stored but not read by the
// cascade; nothing about the cascade depends on a class being
// registered, since every pointer/shadow record
// it clears is addressed directly off the stream image. numShards must
// match the value txn.Options.NumShards was configured with when the
// deleted document's children were created — a mismatch means some
// shards go unqueried. uniqueConstraintCollection defaults to
// "_unique_constraints" when empty, matching txn.DefaultOptions.
func NewHandler(client Client, reg *registry.Registry, numShards int, uniqueConstraintCollection string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if numShards < 1 {
		numShards = 1
	}
	if uniqueConstraintCollection == "" {
		uniqueConstraintCollection = "_unique_constraints"
	}
	return &Handler{
		client:     client,
		registry:   reg,
		numShards:  numShards,
		uniqueColl: uniqueConstraintCollection,
		logger:     logger,
	}
}

// HandleCascadeDelete processes DynamoDB stream events to propagate TTL
// to children. Designed to be used as an AWS Lambda handler.
func (h *Handler) HandleCascadeDelete(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err // Will retry, eventually DLQ
		}
	}
	return nil
}

// processRecord processes a single DynamoDB stream record.
func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	if record.EventName != "MODIFY" {
		return nil
	}

	oldTTL := getNumberAttr(record.Change.OldImage, attrTTL)
	newTTL := getNumberAttr(record.Change.NewImage, attrTTL)

	// Only process when TTL is newly set (was absent/0, now present)
	if oldTTL != 0 || newTTL == 0 {
		return nil
	}

	entityRef := driver.Ref{
		Collection: getStringAttr(record.Change.NewImage, attrPK),
		ID:         getStringAttr(record.Change.NewImage, attrSK),
	}
	parentRef := getStringAttr(record.Change.NewImage, driver.ParentRefAttr)
	uniquePKs := getStringListAttr(record.Change.NewImage, driver.UniquePKsAttr)

	h.logger.Info("processing cascade delete",
		"entityRef", entityRef,
		"parentRef", parentRef,
		"ttl", newTTL,
	)

	// 1. Query all children (including already-deleted ones - idempotent)
	shardPKs := shard.AllPKs(entityRef.String(), h.numShards)
	children, err := h.client.QueryChildren(ctx, shardPKs)
	if err != nil {
		return fmt.Errorf("query children: %w", err)
	}

	h.logger.Info("found children to cascade",
		"entityRef", entityRef,
		"childCount", len(children),
	)

	// 2. Soft-delete every child via client.Delete, which stamps its own
	//    TTL (triggers their own cascade via this same stream handler,
	//    reacting to their own MODIFY record).
	for _, child := range children {
		if err := h.client.Delete(ctx, child.Ref); err != nil {
			h.logger.Warn("failed to cascade delete to child",
				"child", child.Ref,
				"error", err,
			)
			// Continue - idempotent, will retry on next cascade pass.
		}
	}

	// 3. Clear this entity's own relationship-pointer record (it was
	//    someone's child) - parent_ref from the stream record means no
	//    registry lookup is needed to recompute the shard.
	if parentRef != "" {
		shardPK := shard.RelationshipPK(parentRef, entityRef.String(), h.numShards)
		if err := h.client.Delete(ctx, driver.Ref{Collection: shardPK, ID: entityRef.String()}); err != nil {
			h.logger.Warn("failed to clear relationship pointer",
				"entity", entityRef,
				"parent", parentRef,
				"error", err,
			)
		}
	}

	// 4. Clear this entity's unique-constraint shadow records.
	for _, pk := range uniquePKs {
		if err := h.client.Delete(ctx, driver.Ref{Collection: h.uniqueColl, ID: pk}); err != nil {
			h.logger.Warn("failed to clear unique constraint shadow",
				"pk", pk,
				"error", err,
			)
		}
	}

	h.logger.Info("cascade delete completed",
		"entityRef", entityRef,
		"childrenProcessed", len(children),
		"uniqueConstraints", len(uniquePKs),
	)

	return nil
}

// attrPK/attrSK/attrTTL name the stream image attributes cascade reads
// directly, mirroring dynamodriver's unexported bookkeeping attribute
// names (kept as local literals rather than an import — cascade reads
// raw stream images, not live driver.Doc values, so it has no other
// reason to depend on the dynamodriver package at all).
const (
	attrPK  = "pk"
	attrSK  = "sk"
	attrTTL = "ttl"
)

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok {
		return v.String()
	}
	return ""
}

// getNumberAttr extracts a number attribute from a DynamoDB stream image.
func getNumberAttr(image map[string]events.DynamoDBAttributeValue, key string) int64 {
	if v, ok := image[key]; ok {
		if v.DataType() == events.DataTypeNumber {
			n, _ := strconv.ParseInt(v.Number(), 10, 64)
			return n
		}
	}
	return 0
}

// getStringListAttr extracts a string list attribute from a DynamoDB stream image.
func getStringListAttr(image map[string]events.DynamoDBAttributeValue, key string) []string {
	if v, ok := image[key]; ok {
		if v.DataType() == events.DataTypeList {
			var result []string
			for _, item := range v.List() {
				if item.DataType() == events.DataTypeString {
					result = append(result, item.String())
				}
			}
			return result
		}
	}
	return nil
}
