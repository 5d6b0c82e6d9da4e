package dynamo_test

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const scanPageSize = 2

// fakeDynamo understands the two condition expressions the engine writes.
type fakeDynamo struct {
	mu     sync.Mutex
	tables map[string]map[string]map[string]types.AttributeValue

	// putHook runs before a put is applied, letting tests race a writer.
	putHook func(input *dynamodb.PutItemInput)
	// putErr fails the next put.
	putErr error
	scans   int
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{tables: make(map[string]map[string]map[string]types.AttributeValue)}
}

func idOf(item map[string]types.AttributeValue) string {
	if v, ok := item["id"].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func (f *fakeDynamo) table(name string) (map[string]map[string]types.AttributeValue, error) {
	t, ok := f.tables[name]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("table not found: " + name)}
	}
	return t, nil
}

func (f *fakeDynamo) CreateTable(_ context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(in.TableName)
	if _, ok := f.tables[name]; ok {
		return nil, &types.ResourceInUseException{Message: aws.String("table exists")}
	}
	f.tables[name] = make(map[string]map[string]types.AttributeValue)
	return &dynamodb.CreateTableOutput{}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	t, err := f.table(aws.ToString(in.TableName))
	if err != nil {
		return nil, err
	}
	item, ok := t[idOf(in.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: item}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if f.putHook != nil {
		hook := f.putHook
		f.putHook = nil
		hook(in)
	}
	if f.putErr != nil {
		err := f.putErr
		f.putErr = nil
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	t, err := f.table(aws.ToString(in.TableName))
	if err != nil {
		return nil, err
	}
	id := idOf(in.Item)
	existing, exists := t[id]

	switch aws.ToString(in.ConditionExpression) {
	case "":
	case "attribute_not_exists(#id)":
		if exists {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("exists")}
		}
	case "#rev = :rev":
		want := in.ExpressionAttributeValues[":rev"].(*types.AttributeValueMemberS).Value
		got, _ := existing["rev"].(*types.AttributeValueMemberS)
		if !exists || got == nil || got.Value != want {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("rev mismatch")}
		}
	default:
		return nil, errors.New("fake: unsupported condition " + aws.ToString(in.ConditionExpression))
	}

	t[id] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans++

	t, err := f.table(aws.ToString(in.TableName))
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	// Reverse order so the engine has to sort.
	slices.Sort(ids)
	slices.Reverse(ids)

	start := 0
	if in.ExclusiveStartKey != nil {
		start = slices.Index(ids, idOf(in.ExclusiveStartKey)) + 1
	}
	end := min(start+scanPageSize, len(ids))

	out := &dynamodb.ScanOutput{}
	for _, id := range ids[start:end] {
		out.Items = append(out.Items, t[id])
	}
	if end < len(ids) {
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: ids[end-1]},
		}
	}
	return out, nil
}
