package database

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/google/uuid"

	"classroomhub/pkg/interfaces"
	"classroomhub/pkg/types"
)

var _ interfaces.Store = (*MemoryStore)(nil)

// Store operation names reported to failure hooks.
const (
	OpGet    = "get"
	OpQuery  = "query"
	OpCreate = "create"
	OpSet    = "set"
	OpBatch  = "batch"
)

// FailureFunc decides whether an operation on collection should fail.
// Returning nil lets the operation proceed.
type FailureFunc func(op, collection string) error

// MemoryStore is an in-process Store. Records are copied through their JSON
// form on every read and write so callers never share maps with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	data    map[string]map[string]types.Record
	failure FailureFunc
	calls   map[string]int
	closed  bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:  make(map[string]map[string]types.Record),
		calls: make(map[string]int),
	}
}

// SetFailure installs a failure hook; nil clears it.
func (s *MemoryStore) SetFailure(fn FailureFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = fn
}

// Calls returns how many times op was invoked.
func (s *MemoryStore) Calls(op string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[op]
}

// Count returns the number of documents in collection.
func (s *MemoryStore) Count(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data[collection])
}

// check records the call and consults the failure hook. Caller holds s.mu.
func (s *MemoryStore) check(ctx context.Context, op, collection string) error {
	s.calls[op]++
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed {
		return ErrManagerClosed
	}
	if collection == "" && op != OpBatch {
		return ErrEmptyCollection
	}
	if s.failure != nil {
		if err := s.failure(op, collection); err != nil {
			return internal(op, collection, err)
		}
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, collection, id string) (types.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, OpGet, collection); err != nil {
		return nil, false, err
	}

	rec, ok := s.data[collection][id]
	if !ok {
		return nil, false, nil
	}
	out, err := clone(rec)
	return out, err == nil, err
}

func (s *MemoryStore) Query(ctx context.Context, collection string, predicates ...types.Predicate) ([]types.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, OpQuery, collection); err != nil {
		return nil, err
	}

	for _, p := range predicates {
		if !fieldRegex.MatchString(p.Field) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidField, p.Field)
		}
	}

	docs := s.data[collection]
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []types.Record
	for _, id := range ids {
		rec := docs[id]
		if !matches(rec, predicates) {
			continue
		}
		c, err := clone(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *MemoryStore) Create(ctx context.Context, collection string, record types.Record) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, OpCreate, collection); err != nil {
		return "", err
	}

	id, rec, err := normalize(record, "")
	if err != nil {
		return "", err
	}
	if _, exists := s.data[collection][id]; exists {
		return "", internal(OpCreate, collection, fmt.Errorf("document %s already exists", id))
	}
	s.put(collection, id, rec)
	return id, nil
}

func (s *MemoryStore) Set(ctx context.Context, collection, id string, record types.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, OpSet, collection); err != nil {
		return err
	}

	id, rec, err := normalize(record, id)
	if err != nil {
		return err
	}
	s.put(collection, id, rec)
	return nil
}

// BatchWrite validates the whole batch before applying any of it.
func (s *MemoryStore) BatchWrite(ctx context.Context, ops []types.WriteOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, OpBatch, ""); err != nil {
		return err
	}

	type staged struct {
		op  types.WriteOp
		id  string
		rec types.Record
	}
	batch := make([]staged, 0, len(ops))
	created := make(map[string]bool)
	for _, op := range ops {
		if op.Collection == "" {
			return ErrEmptyCollection
		}
		if s.failure != nil {
			if err := s.failure(OpBatch, op.Collection); err != nil {
				return internal(OpBatch, op.Collection, err)
			}
		}
		st := staged{op: op, id: op.ID}
		switch op.Kind {
		case types.WriteCreate, types.WriteSet:
			id, rec, err := normalize(op.Record, op.ID)
			if err != nil {
				return err
			}
			st.id, st.rec = id, rec
			key := op.Collection + "/" + id
			if op.Kind == types.WriteCreate {
				if _, exists := s.data[op.Collection][id]; exists || created[key] {
					return internal(OpBatch, op.Collection, fmt.Errorf("document %s already exists", id))
				}
			}
			created[key] = true
		case types.WriteDelete:
		default:
			return fmt.Errorf("%w: %q", ErrUnknownWriteOp, op.Kind)
		}
		batch = append(batch, st)
	}

	for _, st := range batch {
		if st.op.Kind == types.WriteDelete {
			delete(s.data[st.op.Collection], st.id)
			continue
		}
		s.put(st.op.Collection, st.id, st.rec)
	}
	return nil
}

func (s *MemoryStore) HealthCheck(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrManagerClosed
	}
	return ctx.Err()
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MemoryStore) put(collection, id string, rec types.Record) {
	docs, ok := s.data[collection]
	if !ok {
		docs = make(map[string]types.Record)
		s.data[collection] = docs
	}
	docs[id] = rec
}

func normalize(record types.Record, id string) (string, types.Record, error) {
	if id == "" {
		if v, ok := record["id"].(string); ok && v != "" {
			id = v
		} else {
			id = uuid.NewString()
		}
	}
	rec, err := clone(record)
	if err != nil {
		return "", nil, err
	}
	if rec == nil {
		rec = types.Record{}
	}
	rec["id"] = id
	return id, rec, nil
}

func clone(rec types.Record) (types.Record, error) {
	return types.ToRecord(rec)
}

func matches(rec types.Record, predicates []types.Predicate) bool {
	for _, p := range predicates {
		got, ok := rec[p.Field]
		if !ok || !reflect.DeepEqual(got, types.NormalizeValue(p.Value)) {
			return false
		}
	}
	return true
}
