package docstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
)

// Memory is an in-process document store with the same semantics as Store.
// Values are normalized through the DynamoDB attribute encoding, so what
// reads back matches what the table would return.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]map[string]any
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{docs: map[string]map[string]any{}}
}

// Get loads one document.
func (m *Memory) Get(_ context.Context, path string) (*Document, error) {
	collection, id, err := Split(path)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	fields, ok := m.docs[Join(collection, id)]
	if !ok {
		return nil, ErrNotFound
	}
	return &Document{Path: Join(collection, id), ID: id, Fields: copyFields(fields)}, nil
}

// Set replaces the document at path.
func (m *Memory) Set(_ context.Context, path string, fields map[string]any) error {
	collection, id, err := Split(path)
	if err != nil {
		return err
	}
	normalized, err := normalize(fields)
	if err != nil {
		return fmt.Errorf("docstore: marshal %s: %w", path, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[Join(collection, id)] = normalized
	return nil
}

// Merge upserts fields into the document at path.
func (m *Memory) Merge(_ context.Context, path string, fields map[string]any) error {
	collection, id, err := Split(path)
	if err != nil {
		return err
	}
	for field := range fields {
		if field == attrPK || field == attrSK || field == attrGroup {
			return fmt.Errorf("docstore: field %q is reserved", field)
		}
	}
	normalized, err := normalize(fields)
	if err != nil {
		return fmt.Errorf("docstore: marshal %s: %w", path, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := Join(collection, id)
	existing, ok := m.docs[key]
	if !ok {
		existing = map[string]any{}
	}
	for k, v := range normalized {
		existing[k] = v
	}
	m.docs[key] = existing
	return nil
}

// Delete removes the document at path, returning ErrNotFound if absent.
func (m *Memory) Delete(_ context.Context, path string) error {
	collection, id, err := Split(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := Join(collection, id)
	if _, ok := m.docs[key]; !ok {
		return ErrNotFound
	}
	delete(m.docs, key)
	return nil
}

// Query evaluates q against the stored documents in path order.
func (m *Memory) Query(_ context.Context, q Query) ([]Document, error) {
	if q.Group == "" && q.Collection == "" {
		return nil, fmt.Errorf("docstore: query needs a collection or group")
	}
	filters := q.Filters
	if q.Group != "" {
		if q.IndexField == "" {
			return nil, fmt.Errorf("docstore: group query requires an index field")
		}
		filters = append([]Filter{Where(q.IndexField, OpEqual, q.IndexValue)}, filters...)
	}
	normalizedFilters := make([]Filter, len(filters))
	for i, f := range filters {
		v, err := normalizeValue(f.Value)
		if err != nil {
			return nil, fmt.Errorf("docstore: marshal filter %s: %w", f.Field, err)
		}
		normalizedFilters[i] = Filter{Field: f.Field, Op: f.Op, Value: v}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	paths := make([]string, 0, len(m.docs))
	for p := range m.docs {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var out []Document
	for _, p := range paths {
		collection, id, _ := Split(p)
		if q.Group != "" && CollectionID(collection) != q.Group {
			continue
		}
		if q.Group == "" && collection != strings.Trim(q.Collection, "/") {
			continue
		}
		fields := m.docs[p]
		matched := true
		for _, f := range normalizedFilters {
			ok, err := compare(fields[f.Field], f.Op, f.Value)
			if err != nil {
				return nil, err
			}
			if !ok {
				matched = false
				break
			}
		}
		if !matched {
			continue
		}
		out = append(out, Document{Path: p, ID: id, Fields: copyFields(fields)})
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

// compare mirrors DynamoDB filter semantics: operands of different types
// never match, and only strings and numbers are ordered.
func compare(have any, op Op, want any) (bool, error) {
	switch op {
	case OpEqual:
		return scalarEqual(have, want), nil
	case OpNotEqual:
		return have != nil && !scalarEqual(have, want), nil
	case OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
	default:
		return false, fmt.Errorf("docstore: unsupported operator %q", op)
	}
	var c int
	switch h := have.(type) {
	case string:
		w, ok := want.(string)
		if !ok {
			return false, nil
		}
		c = strings.Compare(h, w)
	case float64:
		w, ok := want.(float64)
		if !ok {
			return false, nil
		}
		switch {
		case h < w:
			c = -1
		case h > w:
			c = 1
		}
	default:
		return false, nil
	}
	switch op {
	case OpLess:
		return c < 0, nil
	case OpLessEqual:
		return c <= 0, nil
	case OpGreater:
		return c > 0, nil
	default:
		return c >= 0, nil
	}
}

func scalarEqual(a, b any) bool {
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		return ok && x == y
	case float64:
		y, ok := b.(float64)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	}
	return false
}

func normalize(fields map[string]any) (map[string]any, error) {
	item, err := attributevalue.MarshalMap(fields)
	if err != nil {
		return nil, err
	}
	return DecodeItem(item)
}

func normalizeValue(v any) (any, error) {
	av, err := attributevalue.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := attributevalue.Unmarshal(av, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
