package store

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"journeysync/journey"
)

var (
	boltDocumentsBucket = []byte("documents")
	boltHistoriesBucket = []byte("histories")
)

// BoltStorage is a bbolt-backed storage adapter. It gives a client process a
// single-file local store that survives restarts, which is what makes
// documents editable while disconnected.
type BoltStorage struct {
	db *bolt.DB
}

// OpenBoltStorage opens (or creates) the bbolt database at path.
func OpenBoltStorage(path string) (*BoltStorage, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open bolt database %s", path)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{boltDocumentsBucket, boltHistoriesBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create buckets")
	}

	return &BoltStorage{db: db}, nil
}

// Get loads a document by id.
func (s *BoltStorage) Get(ctx context.Context, id string) (*journey.Map, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(boltDocumentsBucket).Get([]byte(id)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to read document")
	}
	if data == nil {
		return nil, errors.Wrapf(ErrNotFound, "document %s", id)
	}

	var m journey.Map
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "failed to decode document")
	}
	return &m, nil
}

// Put stores a document.
func (s *BoltStorage) Put(ctx context.Context, m *journey.Map) error {
	data, err := json.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "failed to encode document")
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltDocumentsBucket).Put([]byte(m.ID), data)
	})
	return errors.Wrap(err, "failed to write document")
}

// Delete removes a document and its history.
func (s *BoltStorage) Delete(ctx context.Context, id string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(boltDocumentsBucket).Delete([]byte(id)); err != nil {
			return err
		}
		return tx.Bucket(boltHistoriesBucket).Delete([]byte(id))
	})
	return errors.Wrap(err, "failed to delete document")
}

// GetHistory loads a document's operation history.
func (s *BoltStorage) GetHistory(ctx context.Context, id string) (*History, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(boltHistoriesBucket).Get([]byte(id)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to read history")
	}
	if data == nil {
		return nil, errors.Wrapf(ErrNotFound, "history %s", id)
	}

	var h History
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, errors.Wrap(err, "failed to decode history")
	}
	return &h, nil
}

// PutHistory stores a document's operation history.
func (s *BoltStorage) PutHistory(ctx context.Context, id string, h *History) error {
	data, err := json.Marshal(h)
	if err != nil {
		return errors.Wrap(err, "failed to encode history")
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltHistoriesBucket).Put([]byte(id), data)
	})
	return errors.Wrap(err, "failed to write history")
}

// Close closes the underlying database.
func (s *BoltStorage) Close() error {
	return s.db.Close()
}
