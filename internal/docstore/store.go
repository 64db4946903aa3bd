// Package docstore adapts a single DynamoDB table to the path-addressed
// document model the clinic data uses (clinics/{id}/appointments/{id}, ...).
//
// Every item stores its collection path in "pk", its document id in "sk" and
// its collection id in "cg". A global secondary index keyed on cg + email
// serves collection-group lookups such as invites across all clinics.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/wolfman30/clinic-functions/pkg/logging"
)

const (
	attrPK    = "pk"
	attrSK    = "sk"
	attrGroup = "cg"
)

// ErrNotFound indicates the requested document does not exist.
var ErrNotFound = errors.New("docstore: document not found")

type dynamoAPI interface {
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(context.Context, *dynamodb.DeleteItemInput, ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Document is a decoded item with its bookkeeping keys removed.
type Document struct {
	Path   string
	ID     string
	Fields map[string]any
}

// Bool reports the field's value and whether it is stored as a boolean.
func (d *Document) Bool(field string) (value, isBool bool) {
	value, isBool = d.Fields[field].(bool)
	return value, isBool
}

// String returns the field as a string, or "" for any other shape.
func (d *Document) String(field string) string {
	s, _ := d.Fields[field].(string)
	return s
}

// Store reads and writes documents in one DynamoDB table.
type Store struct {
	client     dynamoAPI
	table      string
	groupIndex string
	logger     *logging.Logger
}

// New builds a store backed by the provided DynamoDB client.
func New(client dynamoAPI, table, groupIndex string, logger *logging.Logger) *Store {
	if client == nil {
		panic("docstore: dynamodb client cannot be nil")
	}
	if table == "" {
		panic("docstore: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{
		client:     client,
		table:      table,
		groupIndex: groupIndex,
		logger:     logger,
	}
}

// Get loads one document. Missing documents return ErrNotFound.
func (s *Store) Get(ctx context.Context, path string) (*Document, error) {
	key, collection, id, err := keyFor(path)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("docstore: get %s: %w", path, err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	fields, err := DecodeItem(out.Item)
	if err != nil {
		return nil, fmt.Errorf("docstore: decode %s: %w", path, err)
	}
	return &Document{Path: Join(collection, id), ID: id, Fields: fields}, nil
}

// Set replaces the document at path with fields.
func (s *Store) Set(ctx context.Context, path string, fields map[string]any) error {
	key, collection, _, err := keyFor(path)
	if err != nil {
		return err
	}
	item, err := attributevalue.MarshalMap(fields)
	if err != nil {
		return fmt.Errorf("docstore: marshal %s: %w", path, err)
	}
	for k, v := range key {
		item[k] = v
	}
	item[attrGroup] = &types.AttributeValueMemberS{Value: CollectionID(collection)}

	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("docstore: put %s: %w", path, err)
	}
	return nil
}

// Merge upserts fields into the document at path, leaving other fields as
// they are. Nil values are stored as NULL.
func (s *Store) Merge(ctx context.Context, path string, fields map[string]any) error {
	key, collection, _, err := keyFor(path)
	if err != nil {
		return err
	}
	names := map[string]string{"#cg": attrGroup}
	values := map[string]types.AttributeValue{
		":cg": &types.AttributeValueMemberS{Value: CollectionID(collection)},
	}
	expr := "SET #cg = :cg"

	for i, field := range sortedKeys(fields) {
		if field == attrPK || field == attrSK || field == attrGroup {
			return fmt.Errorf("docstore: field %q is reserved", field)
		}
		av, err := attributevalue.Marshal(fields[field])
		if err != nil {
			return fmt.Errorf("docstore: marshal %s.%s: %w", path, field, err)
		}
		n, v := "#f"+strconv.Itoa(i), ":f"+strconv.Itoa(i)
		names[n] = field
		values[v] = av
		expr += ", " + n + " = " + v
	}

	if _, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       key,
		UpdateExpression:          aws.String(expr),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}); err != nil {
		return fmt.Errorf("docstore: merge %s: %w", path, err)
	}
	return nil
}

// Delete removes the document at path. It returns ErrNotFound when there
// was nothing to delete; callers treating deletion as idempotent ignore it.
func (s *Store) Delete(ctx context.Context, path string) error {
	key, _, _, err := keyFor(path)
	if err != nil {
		return err
	}
	out, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(s.table),
		Key:          key,
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return fmt.Errorf("docstore: delete %s: %w", path, err)
	}
	if len(out.Attributes) == 0 {
		return ErrNotFound
	}
	return nil
}

// DecodeItem converts a raw DynamoDB item into document fields, dropping
// the bookkeeping keys.
func DecodeItem(item map[string]types.AttributeValue) (map[string]any, error) {
	fields := map[string]any{}
	if err := attributevalue.UnmarshalMap(item, &fields); err != nil {
		return nil, err
	}
	delete(fields, attrPK)
	delete(fields, attrSK)
	delete(fields, attrGroup)
	return fields, nil
}

func keyFor(path string) (map[string]types.AttributeValue, string, string, error) {
	collection, id, err := Split(path)
	if err != nil {
		return nil, "", "", err
	}
	return map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: collection},
		attrSK: &types.AttributeValueMemberS{Value: id},
	}, collection, id, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
