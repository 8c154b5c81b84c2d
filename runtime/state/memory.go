package state

import (
	"sync"
)

// MemoryStore is the reference Manager implementation: a process-local store
// for tests and single-node deployments without persistence.
type MemoryStore struct {
	mu     sync.RWMutex
	kv     map[string]any
	tables map[string][]map[string]any
	nextID map[string]int64
}

var _ Manager = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		kv:     make(map[string]any),
		tables: make(map[string][]map[string]any),
		nextID: make(map[string]int64),
	}
}

func (s *MemoryStore) Get(key string, scope Scope) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.kv[scopedKey(scope, key)], nil
}

func (s *MemoryStore) Set(key string, value any, scope Scope) error {
	s.mu.Lock()
	s.kv[scopedKey(scope, key)] = value
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(key string, scope Scope) error {
	s.mu.Lock()
	delete(s.kv, scopedKey(scope, key))
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Increment(key string, delta float64, scope Scope) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := scopedKey(scope, key)
	current, err := toFloat(s.kv[k])
	if err != nil {
		return 0, err
	}
	next := current + delta
	s.kv[k] = next
	return next, nil
}

func (s *MemoryStore) Decrement(key string, delta float64, scope Scope) (float64, error) {
	return s.Increment(key, -delta, scope)
}

func (s *MemoryStore) Insert(table string, row map[string]any) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make(map[string]any, len(row)+1)
	for k, v := range row {
		stored[k] = v
	}
	if _, ok := stored["_id"]; !ok {
		s.nextID[table]++
		stored["_id"] = s.nextID[table]
	}

	s.tables[table] = append(s.tables[table], stored)
	return projectRow(stored, nil), nil
}

func (s *MemoryStore) Update(table string, where, patch map[string]any, upsert bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	affected := 0
	for _, row := range s.tables[table] {
		if !matchWhere(row, where) {
			continue
		}
		for k, v := range patch {
			row[k] = v
		}
		affected++
	}

	if affected == 0 && upsert {
		merged := make(map[string]any, len(where)+len(patch)+1)
		for k, v := range where {
			merged[k] = v
		}
		for k, v := range patch {
			merged[k] = v
		}
		if _, ok := merged["_id"]; !ok {
			s.nextID[table]++
			merged["_id"] = s.nextID[table]
		}
		s.tables[table] = append(s.tables[table], merged)
		return 1, nil
	}
	return affected, nil
}

func (s *MemoryStore) DeleteRows(table string, where map[string]any) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.tables[table]
	kept := rows[:0]
	deleted := 0
	for _, row := range rows {
		if matchWhere(row, where) {
			deleted++
			continue
		}
		kept = append(kept, row)
	}
	s.tables[table] = kept
	return deleted, nil
}

func (s *MemoryStore) Query(table string, q Query) ([]map[string]any, error) {
	s.mu.RLock()
	var matched []map[string]any
	for _, row := range s.tables[table] {
		if matchWhere(row, q.Where) {
			matched = append(matched, projectRow(row, nil))
		}
	}
	s.mu.RUnlock()

	sortRows(matched, q.OrderBy, q.Desc)
	matched = pageRows(matched, q.Limit, q.Offset)

	out := make([]map[string]any, len(matched))
	for i, row := range matched {
		out[i] = projectRow(row, q.Select)
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
