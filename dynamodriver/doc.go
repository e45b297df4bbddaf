// Package dynamodriver implements driver.Client against DynamoDB: a
// single generic table keyed by (pk=collection, sk=encoded id), plus the
// ORM-managed bookkeeping fields (version, created_at, updated_at, ttl)
// the teacher's store.go stamps on every write.
//
// Grounded on store/store.go wholesale: the transact-item assembly in
// Create/updateWithUniqueConstraints, the TTL-filtered Get/Query, and the
// sharded HasActiveChildren/QueryAllChildren fan-out are all kept and
// adapted to satisfy driver.Handle instead of being *Store methods bound
// to entity-specific tables.
//
// Unlike the teacher, which spreads entities across one DynamoDB table
// per class, strata addresses documents generically by
// driver.Ref{Collection, ID} — so every class, and the unique-constraint
// shadow records, share one physical table distinguished by partition
// key.
package dynamodriver

import (
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/strata/driver"
)

// Bookkeeping attribute names stamped by this package, never settable
// through model.Instance.Set — store/store.go's "managed fields" list,
// generalized from entity-specific names (entity_ref, parent_ref) to the
// generic collection/ID addressing scheme.
const (
	attrPK        = "pk"
	attrSK        = "sk"
	attrVersion   = "version"
	attrCreatedAt = "created_at"
	attrUpdatedAt = "updated_at"
	attrTTL       = "ttl"
)

// managedAttrs lists every bookkeeping attribute name Update must not let
// a caller-supplied value collide with — store/store.go's updateSimple
// skip-list, generalized. driver.ParentRefAttr/UniquePKsAttr are written
// by txn, not dynamodriver, but are stripped from Data() here the same
// as any other bookkeeping field: the hierarchical-relationship domain
// extension's wire fields are invisible to model code, same as version
// or ttl.
var managedAttrs = map[string]bool{
	attrPK: true, attrSK: true, attrVersion: true,
	attrCreatedAt: true, attrUpdatedAt: true, attrTTL: true,
	driver.ParentRefAttr: true, driver.UniquePKsAttr: true,
}

func nowISO() string { return time.Now().UTC().Format(time.RFC3339) }

// isDeleted reports whether raw carries an expired TTL — store/ttl.go's
// IsDeleted, kept verbatim.
func isDeleted(raw map[string]types.AttributeValue) bool {
	ttlAttr, exists := raw[attrTTL]
	if !exists {
		return false
	}
	ttlNum, ok := ttlAttr.(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	ttl, err := strconv.ParseInt(ttlNum.Value, 10, 64)
	if err != nil {
		return false
	}
	return ttl <= time.Now().Unix()
}

// ttlFilterExpr excludes soft-deleted items from a Query/Scan —
// store/ttl.go's TTLFilterExpr, kept verbatim.
func ttlFilterExpr() string {
	return "attribute_not_exists(#ttl) OR #ttl > :now"
}

// parentExistsCondition is the ConditionCheck expression for a parent
// validated at create time — store/ttl.go's ParentExistsCondition, kept
// verbatim.
func parentExistsCondition() string {
	return "attribute_exists(pk) AND (attribute_not_exists(#ttl) OR #ttl > :now)"
}
