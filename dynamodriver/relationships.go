package dynamodriver

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/strata/driver"
)

// QueryChildren fans a paginated Query out across every shardPK and
// collects every relationship-pointer record found there, including
// ones whose child has since been soft-deleted — store.go's
// QueryAllChildren, generalized off its dedicated RelationshipTable onto
// this package's single-table addressing. The single-shard case (the
// default) skips the goroutine fan-out entirely.
func (c *Client) QueryChildren(ctx context.Context, shardPKs []string) ([]driver.ChildRef, error) {
	if len(shardPKs) == 1 {
		return c.queryChildrenShard(ctx, shardPKs[0])
	}

	var (
		mu  sync.Mutex
		all []driver.ChildRef
		wg  sync.WaitGroup
	)
	errCh := make(chan error, len(shardPKs))

	for _, pk := range shardPKs {
		wg.Add(1)
		go func(pk string) {
			defer wg.Done()
			found, err := c.queryChildrenShard(ctx, pk)
			if err != nil {
				errCh <- fmt.Errorf("shard %s: %w", pk, err)
				return
			}
			mu.Lock()
			all = append(all, found...)
			mu.Unlock()
		}(pk)
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return nil, err
		}
	}
	return all, nil
}

func (c *Client) queryChildrenShard(ctx context.Context, shardPK string) ([]driver.ChildRef, error) {
	var children []driver.ChildRef
	paginator := dynamodb.NewQueryPaginator(c.ddb, &dynamodb.QueryInput{
		TableName:              aws.String(c.config.TableName),
		KeyConditionExpression: aws.String("#pk = :pk"),
		ExpressionAttributeNames: map[string]string{
			"#pk": attrPK,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: shardPK},
		},
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range page.Items {
			children = append(children, unmarshalChildRef(raw, shardPK))
		}
	}
	return children, nil
}

// unmarshalChildRef converts a raw relationship-pointer item into a
// driver.ChildRef — store.go's unmarshalChildRef, generalized from
// child_table/child_key to driver.ChildCollectionAttr/ChildIDAttr.
func unmarshalChildRef(raw map[string]types.AttributeValue, shardPK string) driver.ChildRef {
	ref := driver.ChildRef{ShardRef: driver.Ref{Collection: shardPK}}
	if v, ok := raw[attrSK].(*types.AttributeValueMemberS); ok {
		ref.ShardRef.ID = v.Value
	}
	if v, ok := raw[driver.ChildCollectionAttr].(*types.AttributeValueMemberS); ok {
		ref.Ref.Collection = v.Value
	}
	if v, ok := raw[driver.ChildIDAttr].(*types.AttributeValueMemberS); ok {
		ref.Ref.ID = v.Value
	}
	return ref
}

// HasActiveChildren reports whether any shardPK has a pointer record
// whose child is not soft-deleted — store.go's HasActiveChildren,
// generalized the same way as QueryChildren. Each shard query is
// TTL-filtered and capped at one result; the multi-shard fan-out cancels
// every other goroutine as soon as one shard reports a hit.
func (c *Client) HasActiveChildren(ctx context.Context, shardPKs []string) (bool, error) {
	if len(shardPKs) == 1 {
		return c.hasActiveChildrenShard(ctx, shardPKs[0])
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	found := make(chan bool, 1)
	errCh := make(chan error, len(shardPKs))
	var wg sync.WaitGroup

	for _, pk := range shardPKs {
		wg.Add(1)
		go func(pk string) {
			defer wg.Done()
			select {
			case <-ctx.Done():
				return
			default:
			}
			hit, err := c.hasActiveChildrenShard(ctx, pk)
			if err != nil {
				errCh <- err
				return
			}
			if hit {
				select {
				case found <- true:
					cancel()
				default:
				}
			}
		}(pk)
	}

	go func() {
		wg.Wait()
		close(found)
		close(errCh)
	}()

	select {
	case v, ok := <-found:
		// found is closed once every goroutine finishes; a receive on
		// the closed channel with no value sent must not read as a hit.
		if ok && v {
			return true, nil
		}
	case err := <-errCh:
		if err != nil {
			return false, err
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			return false, err
		}
	}
	return false, nil
}

func (c *Client) hasActiveChildrenShard(ctx context.Context, shardPK string) (bool, error) {
	result, err := c.ddb.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.config.TableName),
		KeyConditionExpression: aws.String("#pk = :pk"),
		FilterExpression:       aws.String(ttlFilterExpr()),
		ExpressionAttributeNames: map[string]string{
			"#pk":  attrPK,
			"#ttl": attrTTL,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":  &types.AttributeValueMemberS{Value: shardPK},
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(nowUnix(), 10)},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return false, err
	}
	return len(result.Items) > 0, nil
}
