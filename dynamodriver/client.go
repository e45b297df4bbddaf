package dynamodriver

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/strata/driver"
	"github.com/jacentio/strata/errs"
)

// Client implements driver.Client against a single DynamoDB table —
// store.Store generalized from one table per entity type to a single
// table addressed generically by driver.Ref.
type Client struct {
	ddb    *dynamodb.Client
	config Config
}

// New builds a Client from an already-configured AWS SDK DynamoDB client —
// store.New, narrowed to one table.
func New(ddb *dynamodb.Client, config Config) *Client {
	config.validate()
	return &Client{ddb: ddb, config: config}
}

// Get retrieves a single document directly (no transaction) —
// store.Store.Get, generalized off entity-specific tables.
func (c *Client) Get(ctx context.Context, ref driver.Ref) (driver.Doc, error) {
	out, err := c.ddb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.config.TableName),
		Key:            keyOf(ref),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	return unmarshalItem(out.Item)
}

// GetAll retrieves several documents with individual GetItem calls. A
// direct Client has no cross-item consistency to offer — spec.md §5's
// non-transactional isolation mode: "each is individually consistent but
// the set is not a snapshot."
func (c *Client) GetAll(ctx context.Context, refs []driver.Ref) ([]driver.Doc, error) {
	docs := make([]driver.Doc, len(refs))
	for i, ref := range refs {
		d, err := c.Get(ctx, ref)
		if err != nil {
			return nil, err
		}
		docs[i] = d
	}
	return docs, nil
}

// Create writes ref only if no document (live or soft-deleted) already
// exists there — store.Store.Create's entity Put condition, without the
// parent/unique transact items a plain Create never needs.
func (c *Client) Create(ctx context.Context, ref driver.Ref, data map[string]any) error {
	av, err := marshalDocument(ref, data)
	if err != nil {
		return err
	}
	_, err = c.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.config.TableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	})
	return mapPutError(err, true)
}

// CreateWithConstraints folds a parent existence check and unique-field
// shadow writes into the same TransactWriteItems call as the entity Put —
// store.Store.Create's full six-step assembly, generalized across an
// arbitrary table via driver.Ref.
func (c *Client) CreateWithConstraints(ctx context.Context, ref driver.Ref, data map[string]any, parent *driver.ParentCheck, unique []driver.UniqueConstraint) error {
	var items []types.TransactWriteItem
	var roles []transactItemRole

	if parent != nil {
		items = append(items, types.TransactWriteItem{
			ConditionCheck: &types.ConditionCheck{
				TableName:           aws.String(c.config.TableName),
				Key:                 keyOf(parent.Ref),
				ConditionExpression: aws.String(parentExistsCondition()),
				ExpressionAttributeNames: map[string]string{
					"#ttl": attrTTL,
				},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(nowUnix(), 10)},
				},
			},
		})
		roles = append(roles, roleParentCheck)
	}

	for _, u := range unique {
		av, err := attributevalue.MarshalMap(u.Data)
		if err != nil {
			return err
		}
		for k, v := range keyOf(u.Ref) {
			av[k] = v
		}
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(c.config.TableName),
				Item:                av,
				ConditionExpression: aws.String("attribute_not_exists(pk)"),
			},
		})
		roles = append(roles, roleUniqueConstraint)
	}

	av, err := marshalDocument(ref, data)
	if err != nil {
		return err
	}
	items = append(items, types.TransactWriteItem{
		Put: &types.Put{
			TableName:           aws.String(c.config.TableName),
			Item:                av,
			ConditionExpression: aws.String("attribute_not_exists(pk)"),
		},
	})
	roles = append(roles, roleCreate)

	_, err = c.ddb.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	return mapTransactionError(err, roles)
}

// Set writes ref unconditionally. merge=false replaces the document
// outright (still via PutItem, so bookkeeping attributes are restamped);
// merge=true applies data as a partial Update instead.
func (c *Client) Set(ctx context.Context, ref driver.Ref, data map[string]any, merge bool) error {
	if merge {
		return c.Update(ctx, ref, data)
	}
	av, err := marshalDocument(ref, data)
	if err != nil {
		return err
	}
	_, err = c.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.config.TableName),
		Item:      av,
	})
	return err
}

// Update applies a partial write, honoring driver.DeleteSentinel and
// driver.Increment — store.Store.updateSimple's hand-built SET/REMOVE
// expression, replaced with the expression builder and generalized to a
// mixed-op update with no expectedVersion (the direct, non-transactional
// path has no prior read to condition on).
func (c *Client) Update(ctx context.Context, ref driver.Ref, data map[string]any) error {
	expr, err := expression.NewBuilder().
		WithUpdate(buildUpdate(data)).
		WithCondition(expression.Name(attrPK).AttributeExists()).
		Build()
	if err != nil {
		return err
	}

	_, err = c.ddb.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(c.config.TableName),
		Key:                       keyOf(ref),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return errs.New(errs.KindGenericModel, "update against nonexistent document")
		}
		return err
	}
	return nil
}

// Delete soft-deletes ref by setting its TTL attribute in the past —
// store.Store/store.SetTTL's soft-delete, which the generic
// driver.Handle.Delete contract hides from txn/model entirely. A second
// Delete on an already-deleted ref is idempotent: the condition simply
// fails and is swallowed, matching store.SetTTL's behavior.
func (c *Client) Delete(ctx context.Context, ref driver.Ref) error {
	_, err := c.ddb.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.config.TableName),
		Key:                 keyOf(ref),
		UpdateExpression:    aws.String("SET #ttl = :ttl, #version = #version + :one"),
		ConditionExpression: aws.String("attribute_not_exists(#ttl)"),
		ExpressionAttributeNames: map[string]string{
			"#ttl":     attrTTL,
			"#version": attrVersion,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ttl": &types.AttributeValueMemberN{Value: strconv.FormatInt(nowUnix()-1, 10)},
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return nil
		}
		return err
	}
	return nil
}

// RunTransaction opens a buffering Tx, runs fn against it, and flushes
// its accumulated writes as a single TransactWriteItems call —
// store.Store has no equivalent (the teacher never exposed a generic
// transaction object to callers); grounded instead on spec.md §6's driver
// contract and txn.Run's expectation of a driver.Handle scoped to one
// attempt.
func (c *Client) RunTransaction(ctx context.Context, opts driver.TransactionOptions, fn func(ctx context.Context, tx driver.Handle) error) error {
	tx := newTx(c, opts)
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if opts.ReadOnly || len(tx.items) == 0 {
		return nil
	}
	_, err := c.ddb.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: tx.items})
	return mapTransactionError(err, tx.roles)
}

func nowUnix() int64 { return time.Now().Unix() }
