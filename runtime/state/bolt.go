package state

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/Jeffail/gabs/v2"
	bolt "go.etcd.io/bbolt"
)

var (
	kvBucket     = []byte("kv")
	tablesBucket = []byte("tables")
)

// BoltStore is the persistent Manager implementation backed by a bbolt
// database file. Scoped values live in one flat bucket; each table gets a
// nested bucket keyed by a big-endian row id.
type BoltStore struct {
	db *bolt.DB
}

var _ Manager = (*BoltStore)(nil)

func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("error opening state database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(kvBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(tablesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing state database: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

// Values are stored wrapped in a {"v": ...} envelope so scalar values remain
// valid JSON documents.

func encodeValue(v any) ([]byte, error) {
	c := gabs.New()
	if _, err := c.Set(v, "v"); err != nil {
		return nil, fmt.Errorf("error encoding value: %w", err)
	}
	return c.Bytes(), nil
}

func decodeValue(data []byte) (any, error) {
	if data == nil {
		return nil, nil
	}
	c, err := gabs.ParseJSON(data)
	if err != nil {
		return nil, fmt.Errorf("error decoding value: %w", err)
	}
	return c.Path("v").Data(), nil
}

func (s *BoltStore) Get(key string, scope Scope) (any, error) {
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if data := tx.Bucket(kvBucket).Get([]byte(scopedKey(scope, key))); data != nil {
			raw = append([]byte(nil), data...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return decodeValue(raw)
}

func (s *BoltStore) Set(key string, value any, scope Scope) error {
	data, err := encodeValue(value)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(kvBucket).Put([]byte(scopedKey(scope, key)), data)
	})
}

func (s *BoltStore) Delete(key string, scope Scope) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(kvBucket).Delete([]byte(scopedKey(scope, key)))
	})
}

func (s *BoltStore) Increment(key string, delta float64, scope Scope) (float64, error) {
	var next float64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(kvBucket)
		k := []byte(scopedKey(scope, key))

		current, err := decodeValue(b.Get(k))
		if err != nil {
			return err
		}
		cf, err := toFloat(current)
		if err != nil {
			return err
		}

		next = cf + delta
		data, err := encodeValue(next)
		if err != nil {
			return err
		}
		return b.Put(k, data)
	})
	return next, err
}

func (s *BoltStore) Decrement(key string, delta float64, scope Scope) (float64, error) {
	return s.Increment(key, -delta, scope)
}

func rowKey(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}

func (s *BoltStore) Insert(table string, row map[string]any) (map[string]any, error) {
	stored := make(map[string]any, len(row)+1)
	for k, v := range row {
		stored[k] = v
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(tablesBucket).CreateBucketIfNotExists([]byte(table))
		if err != nil {
			return err
		}

		var id uint64
		if raw, ok := stored["_id"]; ok {
			f, err := toFloat(raw)
			if err != nil {
				return fmt.Errorf("row _id must be numeric: %w", err)
			}
			id = uint64(f)
		} else {
			id, err = b.NextSequence()
			if err != nil {
				return err
			}
			stored["_id"] = int64(id)
		}

		return b.Put(rowKey(id), gabs.Wrap(stored).Bytes())
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// forEachRow decodes every row of a table inside a transaction.
func forEachRow(tx *bolt.Tx, table string, fn func(key []byte, row map[string]any) error) error {
	b := tx.Bucket(tablesBucket).Bucket([]byte(table))
	if b == nil {
		return nil
	}
	return b.ForEach(func(k, v []byte) error {
		c, err := gabs.ParseJSON(v)
		if err != nil {
			return fmt.Errorf("error decoding row: %w", err)
		}
		row, ok := c.Data().(map[string]any)
		if !ok {
			return fmt.Errorf("row is not an object")
		}
		return fn(k, row)
	})
}

func (s *BoltStore) Update(table string, where, patch map[string]any, upsert bool) (int, error) {
	affected := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(tablesBucket).Bucket([]byte(table))

		type pending struct {
			key []byte
			row map[string]any
		}
		var updates []pending

		if b != nil {
			if err := forEachRow(tx, table, func(k []byte, row map[string]any) error {
				if !matchWhere(row, where) {
					return nil
				}
				for col, v := range patch {
					row[col] = v
				}
				updates = append(updates, pending{key: append([]byte(nil), k...), row: row})
				return nil
			}); err != nil {
				return err
			}
			for _, u := range updates {
				if err := b.Put(u.key, gabs.Wrap(u.row).Bytes()); err != nil {
					return err
				}
			}
			affected = len(updates)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if affected == 0 && upsert {
		merged := make(map[string]any, len(where)+len(patch))
		for k, v := range where {
			merged[k] = v
		}
		for k, v := range patch {
			merged[k] = v
		}
		if _, err := s.Insert(table, merged); err != nil {
			return 0, err
		}
		return 1, nil
	}
	return affected, nil
}

func (s *BoltStore) DeleteRows(table string, where map[string]any) (int, error) {
	deleted := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(tablesBucket).Bucket([]byte(table))
		if b == nil {
			return nil
		}

		var keys [][]byte
		if err := forEachRow(tx, table, func(k []byte, row map[string]any) error {
			if matchWhere(row, where) {
				keys = append(keys, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}

		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		deleted = len(keys)
		return nil
	})
	return deleted, err
}

func (s *BoltStore) Query(table string, q Query) ([]map[string]any, error) {
	var matched []map[string]any
	err := s.db.View(func(tx *bolt.Tx) error {
		return forEachRow(tx, table, func(_ []byte, row map[string]any) error {
			if matchWhere(row, q.Where) {
				matched = append(matched, row)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sortRows(matched, q.OrderBy, q.Desc)
	matched = pageRows(matched, q.Limit, q.Offset)

	out := make([]map[string]any, len(matched))
	for i, row := range matched {
		out[i] = projectRow(row, q.Select)
	}
	return out, nil
}
