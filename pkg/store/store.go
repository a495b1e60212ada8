// Package store persists build artefacts that are expensive to recreate (optimized images) between runs.
package store

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	bolt "go.etcd.io/bbolt"
)

type txCtxKey struct{}

var (
	imageBucket = []byte("images")
	statsBucket = []byte("stats")
)

// Store wraps the bolt database in the cache directory
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the database file at path
func Open(ctx context.Context, path string) (*Store, error) {
	err := os.MkdirAll(filepath.Dir(path), 0770)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to create %s", filepath.Dir(path))
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "failed to open %s", path)
	}

	buckets := [][]byte{imageBucket, statsBucket}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range buckets {
			_, err := tx.CreateBucketIfNotExists(bucket)
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, eris.Wrap(err, "failed to initialize buckets")
	}

	return &Store{db: db}, nil
}

// Close releases the database file
func (s *Store) Close() error {
	return s.db.Close()
}

func CtxWithTx(ctx context.Context, tx *bolt.Tx) context.Context {
	return context.WithValue(ctx, txCtxKey{}, tx)
}

func TxFromCtx(ctx context.Context) *bolt.Tx {
	val := ctx.Value(txCtxKey{})
	if val == nil {
		return nil
	}
	return val.(*bolt.Tx)
}

// BatchUpdate runs callback inside a shared write transaction. Concurrent callers are coalesced by bolt.
func (s *Store) BatchUpdate(ctx context.Context, callback func(context.Context) error) error {
	return s.db.Batch(func(tx *bolt.Tx) error {
		return callback(CtxWithTx(ctx, tx))
	})
}

// GetImage returns the cached optimized content for key or nil if there is none
func (s *Store) GetImage(ctx context.Context, key string) ([]byte, error) {
	tx := TxFromCtx(ctx)
	if tx == nil {
		var result []byte
		err := s.db.View(func(tx *bolt.Tx) error {
			var err error
			result, err = s.GetImage(CtxWithTx(ctx, tx), key)
			return err
		})
		return result, err
	}

	item := tx.Bucket(imageBucket).Get([]byte(key))
	if item == nil {
		return nil, nil
	}

	// bolt's memory is only valid for the lifetime of the transaction
	result := make([]byte, len(item))
	copy(result, item)
	return result, nil
}

// PutImage stores the optimized content for key
func (s *Store) PutImage(ctx context.Context, key string, content []byte) error {
	tx := TxFromCtx(ctx)
	if tx == nil {
		return s.BatchUpdate(ctx, func(ctx context.Context) error {
			return s.PutImage(ctx, key, content)
		})
	}

	err := tx.Bucket(imageBucket).Put([]byte(key), content)
	if err != nil {
		return err
	}

	return addStat(tx, "images_stored", 1)
}

// ImageCount returns the number of cached images
func (s *Store) ImageCount() (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(imageBucket).Stats().KeyN
		return nil
	})
	return count, err
}

// Clear drops all cached entries
func (s *Store) Clear(ctx context.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{imageBucket, statsBucket} {
			err := tx.DeleteBucket(bucket)
			if err != nil && err != bolt.ErrBucketNotFound {
				return err
			}

			_, err = tx.CreateBucket(bucket)
			if err != nil {
				return err
			}
		}

		return nil
	})
}

func addStat(tx *bolt.Tx, name string, delta uint64) error {
	bucket := tx.Bucket(statsBucket)
	value := delta
	if current := bucket.Get([]byte(name)); len(current) == 8 {
		value += binary.BigEndian.Uint64(current)
	}

	encoded := make([]byte, 8)
	binary.BigEndian.PutUint64(encoded, value)
	return bucket.Put([]byte(name), encoded)
}

// Stat returns the counter stored under name
func (s *Store) Stat(name string) (uint64, error) {
	var value uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		if current := tx.Bucket(statsBucket).Get([]byte(name)); len(current) == 8 {
			value = binary.BigEndian.Uint64(current)
		}
		return nil
	})
	return value, err
}
