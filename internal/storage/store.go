// Package storage persists last-known machine records and the journal of
// applied lifecycle transitions.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/ringtail/che/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
)

// Store interface (kept minimal, allows swapping implementations).
type Store interface {
	SaveMachine(ctx context.Context, m *models.Machine) error
	GetMachine(ctx context.Context, id string) (*models.Machine, error)
	DeleteMachine(ctx context.Context, id string) error
	ListMachines(ctx context.Context) ([]*models.Machine, error)

	// AppendEvent adds rec to the machine's history.
	AppendEvent(ctx context.Context, rec models.EventRecord) error
	// ListEvents returns the newest limit records of machineID, oldest first.
	// limit <= 0 returns everything.
	ListEvents(ctx context.Context, machineID string, limit int) ([]models.EventRecord, error)

	Close() error
}

const (
	DriverBadger = "badger"
	DriverSQLite = "sqlite"
)

// Open opens the store selected by driver. An empty badger path keeps the
// data in memory.
func Open(driver, path string) (Store, error) {
	switch driver {
	case "", DriverBadger:
		s, err := NewBadgerStore(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverSQLite:
		s, err := NewSQLiteStore(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

func tail(recs []models.EventRecord, limit int) []models.EventRecord {
	if limit > 0 && len(recs) > limit {
		return recs[len(recs)-limit:]
	}
	return recs
}
