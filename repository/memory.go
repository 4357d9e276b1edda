package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/mailio/go-mailio-datawallet/types"
	"github.com/mailio/go-mailio-datawallet/util"
)

// MemoryRepository implements Repository in memory with the same revision semantics as CouchDB.
// Used by tests and for local development (database.type: memory).
type MemoryRepository struct {
	mu     sync.RWMutex
	dbName string
	docs   map[string][]byte
	revs   map[string]string
	seq    map[string]int
}

func NewMemoryRepository(dbName string) Repository {
	return &MemoryRepository{
		dbName: dbName,
		docs:   make(map[string][]byte),
		revs:   make(map[string]string),
		seq:    make(map[string]int),
	}
}

func (m *MemoryRepository) GetByID(ctx context.Context, id string) (interface{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	out := make([]byte, len(doc))
	copy(out, doc)
	return out, nil
}

// Find supports equality selectors on (dot separated) fields and the $eq and $in operators
func (m *MemoryRepository) Find(ctx context.Context, selector map[string]interface{}, limit int) ([]interface{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	normalized, err := normalize(selector)
	if err != nil {
		return nil, err
	}
	sel, _ := normalized.(map[string]interface{})

	ids := make([]string, 0, len(m.docs))
	for id := range m.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := []interface{}{}
	for _, id := range ids {
		var doc map[string]interface{}
		if err := json.Unmarshal(m.docs[id], &doc); err != nil {
			return nil, err
		}
		if !matches(doc, sel) {
			continue
		}
		raw := make([]byte, len(m.docs[id]))
		copy(raw, m.docs[id])
		out = append(out, json.RawMessage(raw))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryRepository) Save(ctx context.Context, docID string, data interface{}) (string, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("%w: document must be a json object", types.ErrBadRequest)
	}
	rev, _ := doc["_rev"].(string)

	m.mu.Lock()
	defer m.mu.Unlock()
	if current, exists := m.revs[docID]; exists {
		if rev != current {
			return "", types.ErrConflict
		}
	} else if rev != "" {
		return "", types.ErrConflict
	}

	next := m.seq[docID] + 1
	delete(doc, "_rev")
	doc["_id"] = docID
	withoutRev, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	newRev := strconv.Itoa(next) + "-" + util.Sha256Hex(withoutRev)[:16]
	doc["_rev"] = newRev
	stored, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	m.docs[docID] = stored
	m.revs[docID] = newRev
	m.seq[docID] = next
	return newRev, nil
}

func (m *MemoryRepository) GetDBName() string {
	return m.dbName
}

func (m *MemoryRepository) GetClient() interface{} {
	return nil
}

func normalize(v interface{}) (interface{}, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	err = json.Unmarshal(b, &out)
	return out, err
}

func lookup(doc map[string]interface{}, path string) (interface{}, bool) {
	var current interface{} = doc
	for _, p := range strings.Split(path, ".") {
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = obj[p]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func matches(doc map[string]interface{}, selector map[string]interface{}) bool {
	for field, expected := range selector {
		value, found := lookup(doc, field)
		if op, isOp := expected.(map[string]interface{}); isOp {
			if eq, ok := op["$eq"]; ok {
				if !found || !reflect.DeepEqual(value, eq) {
					return false
				}
			}
			if in, ok := op["$in"].([]interface{}); ok {
				hit := false
				for _, candidate := range in {
					if found && reflect.DeepEqual(value, candidate) {
						hit = true
						break
					}
				}
				if !hit {
					return false
				}
			}
			continue
		}
		if !found || !reflect.DeepEqual(value, expected) {
			return false
		}
	}
	return true
}
