package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/ringtail/che/internal/models"
)

// BadgerStore implements Store with Badger DB.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens a store under path, or in memory when path is empty.
func NewBadgerStore(path string) (*BadgerStore, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(filepath.Clean(path))
		opts = opts.WithValueLogFileSize(1 << 20)
	}
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

const (
	machinePrefix = "machine:"
	eventPrefix   = "event:"
)

func machineKey(id string) []byte {
	return []byte(machinePrefix + id)
}

func eventPrefixFor(machineID string) []byte {
	return []byte(eventPrefix + machineID + ":")
}

// eventKey sorts a machine's records by sequence number, then record id.
func eventKey(rec models.EventRecord) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", eventPrefix, rec.MachineID, rec.Seq, rec.ID))
}

func (s *BadgerStore) SaveMachine(ctx context.Context, m *models.Machine) error {
	return s.db.Update(func(txn *badger.Txn) error {
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		return txn.Set(machineKey(m.ID), data)
	})
}

func (s *BadgerStore) GetMachine(ctx context.Context, id string) (*models.Machine, error) {
	var out models.Machine
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(machineKey(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &out)
		})
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *BadgerStore) DeleteMachine(ctx context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(machineKey(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return txn.Delete(machineKey(id))
	})
}

func (s *BadgerStore) ListMachines(ctx context.Context) ([]*models.Machine, error) {
	var out []*models.Machine
	err := s.db.View(func(txn *badger.Txn) error {
		return iteratePrefix(txn, []byte(machinePrefix), func(v []byte) error {
			var m models.Machine
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			out = append(out, &m)
			return nil
		})
	})
	return out, err
}

func (s *BadgerStore) AppendEvent(ctx context.Context, rec models.EventRecord) error {
	return s.db.Update(func(txn *badger.Txn) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return txn.Set(eventKey(rec), data)
	})
}

func (s *BadgerStore) ListEvents(ctx context.Context, machineID string, limit int) ([]models.EventRecord, error) {
	var out []models.EventRecord
	err := s.db.View(func(txn *badger.Txn) error {
		return iteratePrefix(txn, eventPrefixFor(machineID), func(v []byte) error {
			var rec models.EventRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return tail(out, limit), nil
}

func iteratePrefix(txn *badger.Txn, prefix []byte, fn func(v []byte) error) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if err := it.Item().Value(fn); err != nil {
			return err
		}
	}
	return nil
}
