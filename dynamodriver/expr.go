package dynamodriver

import (
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"

	"github.com/jacentio/strata/driver"
)

// buildUpdate turns a partial-write data map into an expression.UpdateBuilder,
// translating driver.DeleteSentinel into a REMOVE clause and
// driver.Increment into an atomic if_not_exists(...)+delta SET clause —
// store.updateSimple's hand-built "#attrN = :valN" SET expression,
// replaced with the idiomatic expression builder (go-ycsb's dynamodb
// driver uses the same package for its UpdateItem calls) and extended to
// cover the sentinel values model/field.go's WriteValue can produce that
// the teacher's update path never had to.
func buildUpdate(data map[string]any) expression.UpdateBuilder {
	upd := expression.UpdateBuilder{}
	for k, v := range data {
		if managedAttrs[k] {
			continue
		}
		switch sv := v.(type) {
		case driver.DeleteSentinel:
			upd = upd.Remove(expression.Name(k))
		case driver.Increment:
			upd = upd.Set(expression.Name(k),
				expression.Plus(expression.IfNotExists(expression.Name(k), expression.Value(0)), expression.Value(sv.Delta)))
		default:
			upd = upd.Set(expression.Name(k), expression.Value(v))
		}
	}
	upd = upd.Set(expression.Name(attrUpdatedAt), expression.Value(nowISO())).
		Set(expression.Name(attrVersion), expression.Name(attrVersion).Plus(expression.Value(1)))
	return upd
}
