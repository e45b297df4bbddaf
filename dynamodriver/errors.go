package dynamodriver

import (
	"errors"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/strata/errs"
)

// errReadOnly guards Tx's write methods in case a caller reaches them
// directly rather than through txn.Context, which already rejects writes
// under readOnly before any driver.Handle method is invoked.
var errReadOnly = errs.New(errs.KindWriteAttemptedInReadOnlyTx, "write attempted against a read-only transaction")

// mapPutError classifies a single PutItem/UpdateItem call's error —
// store/store.go's ConditionalCheckFailedException handling, generalized
// to the generic errs.Kind taxonomy instead of trellis's sentinel errors.
func mapPutError(err error, alreadyExistsOnConflict bool) error {
	if err == nil {
		return nil
	}
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		if alreadyExistsOnConflict {
			return errs.New(errs.KindModelAlreadyExists, "document already exists")
		}
		return errs.New(errs.KindTransactionLockTimeout, "condition failed: document was modified or deleted concurrently")
	}
	return err
}

// transactItemRole records what a TransactWriteItem at a given index was
// for, so mapTransactionError can classify a ConditionalCheckFailed
// cancellation reason back into the right errs.Kind — store/store.go's
// mapCreateTransactionError/mapUpdateTransactionError, generalized across
// an arbitrary mix of parent checks, unique constraints, and the main
// write rather than the teacher's fixed two-or-three-item shape.
type transactItemRole int

const (
	roleParentCheck transactItemRole = iota
	roleUniqueConstraint
	roleCreate
	roleUpdate
)

// mapTransactionError classifies a TransactWriteItems failure using
// roles, one per transact item in the same order they were submitted.
func mapTransactionError(err error, roles []transactItemRole) error {
	if err == nil {
		return nil
	}
	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for i, reason := range txErr.CancellationReasons {
			if reason.Code == nil || *reason.Code != "ConditionalCheckFailed" {
				continue
			}
			if i >= len(roles) {
				return errs.Wrap(errs.KindTransactionFailed, err, "transaction canceled")
			}
			switch roles[i] {
			case roleParentCheck:
				return errs.New(errs.KindInvalidParameter, "parent entity not found or deleted")
			case roleUniqueConstraint:
				return errs.New(errs.KindModelAlreadyExists, "unique field value already in use")
			case roleCreate:
				return errs.New(errs.KindModelAlreadyExists, "document already exists")
			case roleUpdate:
				return errs.New(errs.KindTransactionLockTimeout, "document was modified or deleted concurrently")
			}
		}
		return errs.Wrap(errs.KindTransactionFailed, err, "transaction canceled")
	}
	return err
}
