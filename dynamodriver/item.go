package dynamodriver

import (
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/strata/driver"
)

// item implements driver.Doc over a raw DynamoDB GetItem/Query result.
type item struct {
	exists bool
	data   map[string]any
}

func (i *item) Exists() bool         { return i.exists }
func (i *item) Data() map[string]any { return i.data }

func missingItem() *item { return &item{exists: false} }

// keyOf builds the primary key for ref: pk=Collection, sk=ID.
func keyOf(ref driver.Ref) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: ref.Collection},
		attrSK: &types.AttributeValueMemberS{Value: ref.ID},
	}
}

// unmarshalItem converts a raw DynamoDB item into a *item, stripping
// bookkeeping attributes from Data() — callers only ever see the
// document's own fields, per driver.Doc's contract.
func unmarshalItem(raw map[string]types.AttributeValue) (*item, error) {
	if raw == nil || isDeleted(raw) {
		return missingItem(), nil
	}
	var data map[string]any
	if err := attributevalue.UnmarshalMap(raw, &data); err != nil {
		return nil, err
	}
	for attr := range managedAttrs {
		delete(data, attr)
	}
	return &item{exists: true, data: data}, nil
}

// marshalDocument builds the full DynamoDB item for a Create/Set:
// ref's key, every field in data, and fresh bookkeeping.
func marshalDocument(ref driver.Ref, data map[string]any) (map[string]types.AttributeValue, error) {
	av, err := attributevalue.MarshalMap(data)
	if err != nil {
		return nil, err
	}
	for k, v := range keyOf(ref) {
		av[k] = v
	}
	now := nowISO()
	av[attrVersion] = &types.AttributeValueMemberN{Value: "1"}
	av[attrCreatedAt] = &types.AttributeValueMemberS{Value: now}
	av[attrUpdatedAt] = &types.AttributeValueMemberS{Value: now}
	return av, nil
}
