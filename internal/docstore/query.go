package docstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Op is a comparison operator usable in a filter.
type Op string

const (
	OpEqual        Op = "="
	OpNotEqual     Op = "<>"
	OpLess         Op = "<"
	OpLessEqual    Op = "<="
	OpGreater      Op = ">"
	OpGreaterEqual Op = ">="
)

// Filter narrows a query by comparing a field to a value.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Where builds a Filter.
func Where(field string, op Op, value any) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

// Query selects documents from one collection, or from every collection
// sharing a collection id when Group is set. Group queries go through the
// collection-group index and must pin IndexField to IndexValue.
type Query struct {
	Collection string
	Group      string
	IndexField string
	IndexValue string
	Filters    []Filter
	// Limit caps the number of matching documents returned; 0 means all.
	Limit int
}

// Query runs q, following pagination until Limit matches are collected or
// the result set is exhausted.
func (s *Store) Query(ctx context.Context, q Query) ([]Document, error) {
	input, err := s.buildQuery(q)
	if err != nil {
		return nil, err
	}

	var docs []Document
	for {
		out, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("docstore: query %s: %w", q.describe(), err)
		}
		for _, item := range out.Items {
			doc, err := documentFromItem(item)
			if err != nil {
				return nil, fmt.Errorf("docstore: decode %s: %w", q.describe(), err)
			}
			docs = append(docs, doc)
			if q.Limit > 0 && len(docs) >= q.Limit {
				return docs, nil
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			return docs, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (s *Store) buildQuery(q Query) (*dynamodb.QueryInput, error) {
	names := map[string]string{}
	values := map[string]types.AttributeValue{}
	input := &dynamodb.QueryInput{TableName: aws.String(s.table)}

	switch {
	case q.Group != "":
		if s.groupIndex == "" {
			return nil, errors.New("docstore: collection-group index not configured")
		}
		if q.IndexField == "" {
			return nil, errors.New("docstore: group query requires an index field")
		}
		names["#cg"] = attrGroup
		names["#ik"] = q.IndexField
		values[":cg"] = &types.AttributeValueMemberS{Value: q.Group}
		values[":ik"] = &types.AttributeValueMemberS{Value: q.IndexValue}
		input.IndexName = aws.String(s.groupIndex)
		input.KeyConditionExpression = aws.String("#cg = :cg AND #ik = :ik")
	case q.Collection != "":
		names["#pk"] = attrPK
		values[":pk"] = &types.AttributeValueMemberS{Value: strings.Trim(q.Collection, "/")}
		input.KeyConditionExpression = aws.String("#pk = :pk")
		input.ConsistentRead = aws.Bool(true)
	default:
		return nil, errors.New("docstore: query needs a collection or group")
	}

	var clauses []string
	for i, f := range q.Filters {
		switch f.Op {
		case OpEqual, OpNotEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		default:
			return nil, fmt.Errorf("docstore: unsupported operator %q", f.Op)
		}
		av, err := attributevalue.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("docstore: marshal filter %s: %w", f.Field, err)
		}
		n, v := "#w"+strconv.Itoa(i), ":w"+strconv.Itoa(i)
		names[n] = f.Field
		values[v] = av
		clauses = append(clauses, n+" "+string(f.Op)+" "+v)
	}
	if len(clauses) > 0 {
		input.FilterExpression = aws.String(strings.Join(clauses, " AND "))
	}
	input.ExpressionAttributeNames = names
	input.ExpressionAttributeValues = values
	return input, nil
}

func (q Query) describe() string {
	if q.Group != "" {
		return "group " + q.Group
	}
	return q.Collection
}

func documentFromItem(item map[string]types.AttributeValue) (Document, error) {
	var collection, id string
	if pk, ok := item[attrPK].(*types.AttributeValueMemberS); ok {
		collection = pk.Value
	}
	if sk, ok := item[attrSK].(*types.AttributeValueMemberS); ok {
		id = sk.Value
	}
	fields, err := DecodeItem(item)
	if err != nil {
		return Document{}, err
	}
	return Document{Path: Join(collection, id), ID: id, Fields: fields}, nil
}
