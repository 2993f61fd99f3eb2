// Package dynamokv implements kv.Store on a DynamoDB table.
//
// Table layout: partition key "path" (S), attributes "parent" (S) and
// "value" (B), and a global secondary index named by ParentIndex on
// "parent" serving Children. Index reads are eventually consistent.
package dynamokv

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/emoelevate/notesledger/internal/kv"
)

const ParentIndex = "parent-index"

// API is the subset of *dynamodb.Client used by Store.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Item is the stored shape of one node.
type Item struct {
	Path   string `dynamodbav:"path"`
	Parent string `dynamodbav:"parent"`
	Value  []byte `dynamodbav:"value"`
}

// Condition expressions.
const (
	condAbsent = "attribute_not_exists(#path)"
	condEquals = "#value = :expected"
)

type Store struct {
	client API
	table  string
}

func New(client API, table string) *Store {
	return &Store{client: client, table: table}
}

func pathKey(p string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"path": &types.AttributeValueMemberS{Value: p}}
}

func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	p, err := kv.Clean(path)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            pathKey(p),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb get %s: %w", p, err)
	}
	if len(out.Item) == 0 {
		return nil, kv.ErrNotFound
	}

	var it Item
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", p, err)
	}
	if it.Value == nil {
		it.Value = []byte{}
	}
	return it.Value, nil
}

func (s *Store) Children(ctx context.Context, path string) (map[string][]byte, error) {
	p, err := kv.Clean(path)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]byte)
	var start map[string]types.AttributeValue
	for {
		page, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                aws.String(s.table),
			IndexName:                aws.String(ParentIndex),
			KeyConditionExpression:   aws.String("#parent = :parent"),
			ExpressionAttributeNames: map[string]string{"#parent": "parent"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":parent": &types.AttributeValueMemberS{Value: p},
			},
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, fmt.Errorf("dynamodb query %s: %w", p, err)
		}

		var items []Item
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("unmarshal children of %s: %w", p, err)
		}
		for _, it := range items {
			if it.Value == nil {
				it.Value = []byte{}
			}
			out[kv.Base(it.Path)] = it.Value
		}

		if len(page.LastEvaluatedKey) == 0 {
			return out, nil
		}
		start = page.LastEvaluatedKey
	}
}

type condition struct {
	expr   *string
	names  map[string]string
	values map[string]types.AttributeValue
}

func conditionFor(w kv.Write) condition {
	switch w.Cond {
	case kv.IfAbsent:
		return condition{
			expr:  aws.String(condAbsent),
			names: map[string]string{"#path": "path"},
		}
	case kv.IfEquals:
		return condition{
			expr:   aws.String(condEquals),
			names:  map[string]string{"#value": "value"},
			values: map[string]types.AttributeValue{":expected": &types.AttributeValueMemberB{Value: w.Expected}},
		}
	}
	return condition{}
}

// Commit uses a single conditional PutItem/DeleteItem for one write and
// TransactWriteItems for several.
func (s *Store) Commit(ctx context.Context, writes ...kv.Write) error {
	ws, err := kv.Prepare(writes...)
	if err != nil {
		return err
	}
	if len(ws) == 0 {
		return nil
	}
	if len(ws) == 1 {
		return s.commitOne(ctx, ws[0])
	}

	items := make([]types.TransactWriteItem, 0, len(ws))
	for _, w := range ws {
		if w.Delete {
			items = append(items, types.TransactWriteItem{Delete: &types.Delete{
				TableName: aws.String(s.table),
				Key:       pathKey(w.Path),
			}})
			continue
		}
		av, err := attributevalue.MarshalMap(Item{Path: w.Path, Parent: kv.Parent(w.Path), Value: w.Value})
		if err != nil {
			return fmt.Errorf("marshal %s: %w", w.Path, err)
		}
		c := conditionFor(w)
		items = append(items, types.TransactWriteItem{Put: &types.Put{
			TableName:                 aws.String(s.table),
			Item:                      av,
			ConditionExpression:       c.expr,
			ExpressionAttributeNames:  c.names,
			ExpressionAttributeValues: c.values,
		}})
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err == nil {
		return nil
	}

	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		for i, r := range canceled.CancellationReasons {
			code := aws.ToString(r.Code)
			if code == "ConditionalCheckFailed" && i < len(ws) {
				return kv.ConflictError(ws[i])
			}
			if code == "TransactionConflict" {
				return fmt.Errorf("%w: concurrent transaction", kv.ErrConflict)
			}
		}
	}
	return fmt.Errorf("dynamodb transact: %w", err)
}

func (s *Store) commitOne(ctx context.Context, w kv.Write) error {
	var err error
	if w.Delete {
		_, err = s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(s.table),
			Key:       pathKey(w.Path),
		})
	} else {
		av, merr := attributevalue.MarshalMap(Item{Path: w.Path, Parent: kv.Parent(w.Path), Value: w.Value})
		if merr != nil {
			return fmt.Errorf("marshal %s: %w", w.Path, merr)
		}
		c := conditionFor(w)
		_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:                 aws.String(s.table),
			Item:                      av,
			ConditionExpression:       c.expr,
			ExpressionAttributeNames:  c.names,
			ExpressionAttributeValues: c.values,
		})
	}
	if err == nil {
		return nil
	}

	var failed *types.ConditionalCheckFailedException
	if errors.As(err, &failed) {
		return kv.ConflictError(w)
	}
	return fmt.Errorf("dynamodb write %s: %w", w.Path, err)
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (s *Store) Close() error {
	return nil
}
