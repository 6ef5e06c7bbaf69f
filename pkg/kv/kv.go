// Package kv is the durable key/value substrate the rest of the broker is
// built on: named buckets ("trees") on top of go.etcd.io/bbolt, each opened
// once at startup, with prefix scan and an atomic cross-bucket transaction
// primitive used by the durable task store's assign-promotion and the
// API-key registry's revoke-and-archive move. bbolt commits to disk
// before a write transaction returns, and every View/Update runs against a
// consistent snapshot, so both guarantees required of the substrate — atomic
// remove-then-insert, and a stable view for prefix scans — fall out of using
// a single bbolt transaction for each.
package kv

import (
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

// Store wraps a single bbolt database file and the set of buckets it opened
// at construction time.
type Store struct {
	db *bolt.DB
}

// Open creates or opens the database file name inside dataDir, creating
// every bucket in buckets if not already present.
func Open(dataDir, name string, buckets ...[]byte) (*Store, error) {
	dbPath := filepath.Join(dataDir, name)

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("kv: open %s: %w", dbPath, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put writes value under key in bucket.
func (s *Store) Put(bucket []byte, key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(key), value)
	})
}

// Get reads the value stored under key in bucket. ok is false if the key is
// absent; the returned slice is a copy, safe to use after the call returns.
func (s *Store) Get(bucket []byte, key string) (value []byte, ok bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucket).Get([]byte(key))
		if v == nil {
			return nil
		}
		ok = true
		value = append([]byte(nil), v...)
		return nil
	})
	return value, ok, err
}

// Delete removes key from bucket. Deleting an absent key is not an error.
func (s *Store) Delete(bucket []byte, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(key))
	})
}

// ForEach calls fn for every key/value pair in bucket, in key order, against
// a single consistent snapshot. fn's byte slices are only valid for the
// duration of the call.
func (s *Store) ForEach(bucket []byte, fn func(key, value []byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).ForEach(fn)
	})
}

// PrefixScan calls fn for every key/value pair in bucket whose key starts
// with prefix, in key order, against a single consistent snapshot.
func (s *Store) PrefixScan(bucket []byte, prefix string, fn func(key, value []byte) error) error {
	p := []byte(prefix)
	return s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucket).Cursor()
		for k, v := c.Seek(p); k != nil && hasPrefix(k, p); k, v = c.Next() {
			if err := fn(k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Move atomically deletes fromKey from fromBucket and puts toValue under
// toKey in toBucket, in a single bbolt transaction: either both happen or
// neither does. It returns ok=false without mutating anything if fromKey is
// not present in fromBucket, which the caller should treat as a conflict.
func (s *Store) Move(fromBucket []byte, fromKey string, toBucket []byte, toKey string, toValue []byte) (ok bool, err error) {
	err = s.db.Update(func(tx *bolt.Tx) error {
		from := tx.Bucket(fromBucket)
		existing := from.Get([]byte(fromKey))
		if existing == nil {
			return nil
		}
		if err := from.Delete([]byte(fromKey)); err != nil {
			return err
		}
		ok = true
		return tx.Bucket(toBucket).Put([]byte(toKey), toValue)
	})
	return ok, err
}

// Txn runs fn inside a single read-write bbolt transaction, giving callers
// that need more than Move's remove/insert shape (e.g. a conditional update
// plus a secondary index write) the same atomicity guarantee.
func (s *Store) Txn(fn func(tx *bolt.Tx) error) error {
	return s.db.Update(fn)
}
