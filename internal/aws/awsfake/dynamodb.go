// Package awsfake provides in-memory stand-ins for the AWS clients in internal/aws.
// The DynamoDB fake understands only the expression shapes the stores in this module emit:
// equality, attribute_exists and attribute_not_exists conditions joined by AND, SET updates
// with placeholder values, projections, and single-equality key conditions on a table or index.
package awsfake

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

type Item = map[string]types.AttributeValue

type keySchema struct {
	hash, rng string
}

type table struct {
	key     keySchema
	indexes map[string]keySchema
	items   map[string]Item
}

// DynamoDB is a concurrency-safe in-memory DynamoDB.
type DynamoDB struct {
	mu     sync.Mutex
	tables map[string]*table

	// Injected failures, returned before any state change.
	PutErr    error
	GetErr    error
	UpdateErr error
	QueryErr  error
	// QueryErrAfter makes every Query after the first n succeed calls fail with QueryErr.
	QueryErrAfter int

	PutCalls    int
	GetCalls    int
	UpdateCalls int
	QueryCalls  int
}

func NewDynamoDB() *DynamoDB {
	return &DynamoDB{tables: map[string]*table{}}
}

// CreateTable registers a table. rangeKey may be empty.
func (d *DynamoDB) CreateTable(name, hashKey, rangeKey string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tables[name] = &table{
		key:     keySchema{hash: hashKey, rng: rangeKey},
		indexes: map[string]keySchema{},
		items:   map[string]Item{},
	}
}

// CreateIndex registers a global secondary index on an existing table.
func (d *DynamoDB) CreateIndex(tableName, index, hashKey, rangeKey string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mustTable(tableName).indexes[index] = keySchema{hash: hashKey, rng: rangeKey}
}

// Item returns a copy of the stored item, or nil.
func (d *DynamoDB) Item(tableName string, key Item) Item {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := d.mustTable(tableName)
	it, ok := t.items[t.keyOf(key)]
	if !ok {
		return nil
	}
	return copyItem(it)
}

// Len returns the number of items in a table.
func (d *DynamoDB) Len(tableName string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.mustTable(tableName).items)
}

func (d *DynamoDB) PutItem(ctx context.Context, in *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.PutCalls++
	if d.PutErr != nil {
		return nil, d.PutErr
	}
	t, err := d.table(in.TableName)
	if err != nil {
		return nil, err
	}
	k := t.keyOf(in.Item)
	if in.ConditionExpression != nil {
		ok, err := evalCondition(*in.ConditionExpression, t.items[k], in.ExpressionAttributeNames, in.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, conditionFailed(t.items[k], in.ReturnValuesOnConditionCheckFailure)
		}
	}
	t.items[k] = copyItem(in.Item)
	return &dyn.PutItemOutput{}, nil
}

func (d *DynamoDB) GetItem(ctx context.Context, in *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.GetCalls++
	if d.GetErr != nil {
		return nil, d.GetErr
	}
	t, err := d.table(in.TableName)
	if err != nil {
		return nil, err
	}
	it, ok := t.items[t.keyOf(in.Key)]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: project(it, in.ProjectionExpression, in.ExpressionAttributeNames)}, nil
}

func (d *DynamoDB) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.UpdateCalls++
	if d.UpdateErr != nil {
		return nil, d.UpdateErr
	}
	t, err := d.table(in.TableName)
	if err != nil {
		return nil, err
	}
	k := t.keyOf(in.Key)
	current := t.items[k]
	if in.ConditionExpression != nil {
		ok, err := evalCondition(*in.ConditionExpression, current, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, conditionFailed(current, in.ReturnValuesOnConditionCheckFailure)
		}
	}

	next := copyItem(current)
	if next == nil {
		next = copyItem(in.Key)
	}
	if in.UpdateExpression != nil {
		if err := applySet(next, *in.UpdateExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues); err != nil {
			return nil, err
		}
	}
	t.items[k] = next
	return &dyn.UpdateItemOutput{Attributes: copyItem(next)}, nil
}

func (d *DynamoDB) Query(ctx context.Context, in *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.QueryCalls++
	if d.QueryErr != nil && d.QueryCalls > d.QueryErrAfter {
		return nil, d.QueryErr
	}
	t, err := d.table(in.TableName)
	if err != nil {
		return nil, err
	}
	schema := t.key
	if in.IndexName != nil {
		s, ok := t.indexes[*in.IndexName]
		if !ok {
			return nil, fmt.Errorf("awsfake: unknown index %q", *in.IndexName)
		}
		schema = s
	}
	if in.KeyConditionExpression == nil {
		return nil, errors.New("awsfake: query requires a key condition")
	}
	attr, want, err := parseEquality(*in.KeyConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if attr != schema.hash {
		return nil, fmt.Errorf("awsfake: key condition on %q, want hash key %q", attr, schema.hash)
	}

	var matched []Item
	for _, it := range t.items {
		if !equalAV(it[attr], want) {
			continue
		}
		if schema.rng != "" && it[schema.rng] == nil {
			continue // sparse index
		}
		matched = append(matched, it)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if schema.rng != "" {
			if c := compareAV(matched[i][schema.rng], matched[j][schema.rng]); c != 0 {
				return c < 0
			}
		}
		return t.keyOf(matched[i]) < t.keyOf(matched[j])
	})
	if in.ScanIndexForward != nil && !*in.ScanIndexForward {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}

	startAt := 0
	if len(in.ExclusiveStartKey) > 0 {
		last := t.keyOf(in.ExclusiveStartKey)
		for i, it := range matched {
			if t.keyOf(it) == last {
				startAt = i + 1
				break
			}
		}
	}
	end := len(matched)
	if in.Limit != nil && int(*in.Limit) < end-startAt {
		end = startAt + int(*in.Limit)
	}

	out := &dyn.QueryOutput{}
	for _, it := range matched[startAt:end] {
		out.Items = append(out.Items, project(it, in.ProjectionExpression, in.ExpressionAttributeNames))
	}
	out.Count = int32(len(out.Items))
	if end < len(matched) && end > startAt {
		lastItem := matched[end-1]
		lek := Item{t.key.hash: lastItem[t.key.hash]}
		if t.key.rng != "" {
			lek[t.key.rng] = lastItem[t.key.rng]
		}
		lek[schema.hash] = lastItem[schema.hash]
		if schema.rng != "" {
			lek[schema.rng] = lastItem[schema.rng]
		}
		out.LastEvaluatedKey = lek
	}
	return out, nil
}

func (d *DynamoDB) table(name *string) (*table, error) {
	if name == nil {
		return nil, errors.New("awsfake: missing table name")
	}
	t, ok := d.tables[*name]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: awsString("table not found: " + *name)}
	}
	return t, nil
}

func (d *DynamoDB) mustTable(name string) *table {
	t, ok := d.tables[name]
	if !ok {
		panic("awsfake: unknown table " + name)
	}
	return t
}

func (t *table) keyOf(it Item) string {
	k := avString(it[t.key.hash])
	if t.key.rng != "" {
		k += "\x00" + avString(it[t.key.rng])
	}
	return k
}

// conditionFailed builds the error DynamoDB returns for a failed condition, carrying the
// existing item when ALL_OLD was requested.
func conditionFailed(current Item, rv types.ReturnValuesOnConditionCheckFailure) error {
	ccf := &types.ConditionalCheckFailedException{Message: awsString("The conditional request failed")}
	if rv == types.ReturnValuesOnConditionCheckFailureAllOld {
		ccf.Item = copyItem(current)
	}
	return ccf
}

func evalCondition(expr string, it Item, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	for _, clause := range strings.Split(expr, " AND ") {
		clause = strings.TrimSpace(clause)
		switch {
		case strings.HasPrefix(clause, "attribute_not_exists(") && strings.HasSuffix(clause, ")"):
			name := resolve(strings.TrimSuffix(strings.TrimPrefix(clause, "attribute_not_exists("), ")"), names)
			if it != nil && it[name] != nil {
				return false, nil
			}
		case strings.HasPrefix(clause, "attribute_exists(") && strings.HasSuffix(clause, ")"):
			name := resolve(strings.TrimSuffix(strings.TrimPrefix(clause, "attribute_exists("), ")"), names)
			if it == nil || it[name] == nil {
				return false, nil
			}
		default:
			attr, want, err := parseEquality(clause, names, values)
			if err != nil {
				return false, err
			}
			if it == nil || !equalAV(it[attr], want) {
				return false, nil
			}
		}
	}
	return true, nil
}

func parseEquality(expr string, names map[string]string, values map[string]types.AttributeValue) (string, types.AttributeValue, error) {
	lhs, rhs, ok := strings.Cut(expr, "=")
	if !ok {
		return "", nil, fmt.Errorf("awsfake: unsupported expression %q", expr)
	}
	v, ok := values[strings.TrimSpace(rhs)]
	if !ok {
		return "", nil, fmt.Errorf("awsfake: missing value for %q", strings.TrimSpace(rhs))
	}
	return resolve(strings.TrimSpace(lhs), names), v, nil
}

func applySet(it Item, expr string, names map[string]string, values map[string]types.AttributeValue) error {
	body, ok := strings.CutPrefix(strings.TrimSpace(expr), "SET ")
	if !ok {
		return fmt.Errorf("awsfake: unsupported update %q", expr)
	}
	for _, assignment := range strings.Split(body, ",") {
		attr, v, err := parseEquality(assignment, names, values)
		if err != nil {
			return err
		}
		it[attr] = v
	}
	return nil
}

func project(it Item, expr *string, names map[string]string) Item {
	if expr == nil || *expr == "" {
		return copyItem(it)
	}
	out := Item{}
	for _, p := range strings.Split(*expr, ",") {
		name := resolve(strings.TrimSpace(p), names)
		if v, ok := it[name]; ok {
			out[name] = v
		}
	}
	return out
}

func resolve(name string, names map[string]string) string {
	if strings.HasPrefix(name, "#") {
		if n, ok := names[name]; ok {
			return n
		}
	}
	return name
}

func avString(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return v.Value
	default:
		return ""
	}
}

func equalAV(a, b types.AttributeValue) bool {
	if a == nil || b == nil {
		return false
	}
	if an, ok := a.(*types.AttributeValueMemberN); ok {
		bn, ok := b.(*types.AttributeValueMemberN)
		return ok && compareAV(an, bn) == 0
	}
	as, aok := a.(*types.AttributeValueMemberS)
	bs, bok := b.(*types.AttributeValueMemberS)
	return aok && bok && as.Value == bs.Value
}

func compareAV(a, b types.AttributeValue) int {
	an, aok := a.(*types.AttributeValueMemberN)
	bn, bok := b.(*types.AttributeValueMemberN)
	if aok && bok {
		return decimal.RequireFromString(an.Value).Cmp(decimal.RequireFromString(bn.Value))
	}
	return strings.Compare(avString(a), avString(b))
}

func copyItem(it Item) Item {
	if it == nil {
		return nil
	}
	out := make(Item, len(it))
	for k, v := range it {
		out[k] = v
	}
	return out
}

func awsString(s string) *string { return &s }
