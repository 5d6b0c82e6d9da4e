// Package dynamo keeps each shelfdb store in its own DynamoDB table.
// Revision checks are conditional writes; the change feed is in-process
// and only sees writes made through this process.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/shelfdb/shelfdb.go/pkg/engine"
	"github.com/shelfdb/shelfdb.go/pkg/logger"
)

const (
	attrID      = "id"
	attrRev     = "rev"
	attrDeleted = "deleted"
	attrDoc     = "doc"

	condCreate = "attribute_not_exists(#id)"
	condRev    = "#rev = :rev"
)

// API is the part of *dynamodb.Client the engine uses.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// Config names the tables. Each store maps to TablePrefix + store name.
type Config struct {
	TablePrefix string
	// CreateTables creates a missing table when a store is opened.
	CreateTables bool
	Logger       logger.Logger
}

type Engine struct {
	client API
	table  string
	hub    *engine.Hub
	logger logger.Logger

	seq atomic.Int64

	mu     sync.Mutex
	closed bool
}

// New returns the engine of one store. With cfg.CreateTables the table is
// created on demand.
func New(ctx context.Context, client API, store string, cfg Config) (*Engine, error) {
	l := cfg.Logger
	if l == nil {
		l = logger.Nop()
	}
	e := &Engine{
		client: client,
		table:  cfg.TablePrefix + store,
		hub:    engine.NewHub(),
		logger: logger.With(l, "component", "dynamo", "store", store),
	}
	if cfg.CreateTables {
		if err := e.ensureTable(ctx); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Opener adapts New to the registry's constructor signature.
func Opener(client API, cfg Config) func(ctx context.Context, name string) (engine.Engine, error) {
	return func(ctx context.Context, name string) (engine.Engine, error) {
		return New(ctx, client, name, cfg)
	}
}

func (e *Engine) ensureTable(ctx context.Context) error {
	_, err := e.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(e.table),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(attrID), KeyType: types.KeyTypeHash},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(attrID), AttributeType: types.ScalarAttributeTypeS},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	var inUse *types.ResourceInUseException
	if err != nil && !errors.As(err, &inUse) {
		return fmt.Errorf("create table %s: %w", e.table, err)
	}
	return nil
}

func (e *Engine) BulkDocs(ctx context.Context, docs []engine.Doc) ([]engine.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, engine.ErrClosed
	}

	results := make([]engine.Result, len(docs))
	for i, doc := range docs {
		res, err := e.write(ctx, doc)
		if err != nil {
			return nil, err
		}
		results[i] = res
	}
	return results, nil
}

func (e *Engine) write(ctx context.Context, doc engine.Doc) (engine.Result, error) {
	var current *engine.State
	if doc.ID() != "" {
		item, err := e.getItem(ctx, doc.ID())
		if err != nil {
			return engine.Result{}, err
		}
		if item != nil {
			current = stateOf(item)
		}
	}

	w, planErr := engine.Plan(current, doc)
	if planErr != nil {
		return planErr.Result(), nil
	}

	body := map[string]types.AttributeValue{}
	if !w.Deleted {
		var err error
		body, err = attributevalue.MarshalMap(doc.Body())
		if err != nil {
			return engine.BadRequest(err.Error()).Result(), nil
		}
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(e.table),
		Item: map[string]types.AttributeValue{
			attrID:      &types.AttributeValueMemberS{Value: w.ID},
			attrRev:     &types.AttributeValueMemberS{Value: w.Rev},
			attrDeleted: &types.AttributeValueMemberBOOL{Value: w.Deleted},
			attrDoc:     &types.AttributeValueMemberM{Value: body},
		},
	}
	if current == nil {
		input.ConditionExpression = aws.String(condCreate)
		input.ExpressionAttributeNames = map[string]string{"#id": attrID}
	} else {
		input.ConditionExpression = aws.String(condRev)
		input.ExpressionAttributeNames = map[string]string{"#rev": attrRev}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":rev": &types.AttributeValueMemberS{Value: current.Rev},
		}
	}

	if _, err := e.client.PutItem(ctx, input); err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			// Someone else wrote between our read and our put.
			return engine.Conflict().Result(), nil
		}
		// Client faults such as an oversized item only fail this document.
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorFault() == smithy.FaultClient {
			return engine.BadRequest(apiErr.ErrorCode() + ": " + apiErr.ErrorMessage()).Result(), nil
		}
		return engine.Result{}, fmt.Errorf("put %s: %w", w.ID, err)
	}

	change := engine.Change{Seq: e.seq.Add(1), ID: w.ID, Rev: w.Rev, Action: w.Action}
	if w.Deleted {
		change.Doc = engine.Tombstone(w.ID, w.Rev)
	} else if d, err := decode(input.Item); err == nil {
		change.Doc = d
	}
	e.hub.Publish(change)

	e.logger.Debug("document written", "id", w.ID, "rev", w.Rev, "action", string(w.Action))
	return engine.Written(w.ID, w.Rev), nil
}

func (e *Engine) getItem(ctx context.Context, id string) (map[string]types.AttributeValue, error) {
	out, err := e.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(e.table),
		Key: map[string]types.AttributeValue{
			attrID: &types.AttributeValueMemberS{Value: id},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	return out.Item, nil
}

func stateOf(item map[string]types.AttributeValue) *engine.State {
	st := &engine.State{}
	if v, ok := item[attrRev].(*types.AttributeValueMemberS); ok {
		st.Rev = v.Value
	}
	if v, ok := item[attrDeleted].(*types.AttributeValueMemberBOOL); ok {
		st.Deleted = v.Value
	}
	return st
}

func decode(item map[string]types.AttributeValue) (engine.Doc, error) {
	doc := engine.Doc{}
	if m, ok := item[attrDoc].(*types.AttributeValueMemberM); ok {
		if err := attributevalue.UnmarshalMap(m.Value, (*map[string]any)(&doc)); err != nil {
			return nil, err
		}
	}
	if doc == nil {
		doc = engine.Doc{}
	}
	if v, ok := item[attrID].(*types.AttributeValueMemberS); ok {
		doc[engine.FieldID] = v.Value
	}
	if v, ok := item[attrRev].(*types.AttributeValueMemberS); ok {
		doc[engine.FieldRev] = v.Value
	}
	return doc, nil
}

func (e *Engine) Get(ctx context.Context, id string) (engine.Doc, error) {
	if e.isClosed() {
		return nil, engine.ErrClosed
	}

	item, err := e.getItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, engine.NotFound(engine.ReasonMissing)
	}
	if stateOf(item).Deleted {
		return nil, engine.NotFound(engine.ReasonDeleted)
	}
	return decode(item)
}

func (e *Engine) AllDocs(ctx context.Context, includeDocs bool) ([]engine.Row, error) {
	if e.isClosed() {
		return nil, engine.ErrClosed
	}

	rows := []engine.Row{}
	paginator := dynamodb.NewScanPaginator(e.client, &dynamodb.ScanInput{
		TableName:      aws.String(e.table),
		ConsistentRead: aws.Bool(true),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", e.table, err)
		}
		for _, item := range page.Items {
			st := stateOf(item)
			if st.Deleted {
				continue
			}
			id, _ := item[attrID].(*types.AttributeValueMemberS)
			if id == nil {
				continue
			}
			row := engine.Row{ID: id.Value, Rev: st.Rev}
			if includeDocs {
				doc, err := decode(item)
				if err != nil {
					return nil, fmt.Errorf("decode %s: %w", id.Value, err)
				}
				row.Doc = doc
			}
			rows = append(rows, row)
		}
	}

	slices.SortFunc(rows, func(a, b engine.Row) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return rows, nil
}

func (e *Engine) Remove(ctx context.Context, id, rev string) (engine.Result, error) {
	res, err := e.BulkDocs(ctx, []engine.Doc{engine.Tombstone(id, rev)})
	if err != nil {
		return engine.Result{}, err
	}
	if err := res[0].Err(); err != nil {
		return engine.Result{}, err
	}
	return res[0], nil
}

func (e *Engine) Changes(ctx context.Context) (engine.Feed, error) {
	if e.isClosed() {
		return nil, engine.ErrClosed
	}
	return e.hub.Subscribe(ctx)
}

func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.hub.Close()
	return nil
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
