package frontier

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"link-auditor/pkg/log"
	"link-auditor/pkg/utils"
)

const maxConflictRetries = 10

// BadgerStore implements the Store interface on BadgerDB, persisting
// the seen set under dir. Keys are normalized URLs with empty values;
// membership is the only state.
type BadgerStore struct {
	db  *badger.DB
	log *logrus.Entry
}

// NewBadgerStore opens (or creates) the frontier database at dir. When
// resume is false any existing database is removed first, so the run
// starts from an empty seen set exactly like the memory backend.
func NewBadgerStore(dir string, resume bool, logger *logrus.Entry) (*BadgerStore, error) {
	if !resume {
		logger.Warnf("Resume flag is false. Removing existing frontier state: %s", dir)
		if err := os.RemoveAll(dir); err != nil {
			// Badger may still recover or recreate files, so keep going
			logger.Errorf("Failed to remove frontier state %s: %v", dir, err)
		}
	}

	logger.Infof("Opening frontier database at: %s (resume: %v)", dir, resume)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create frontier directory %s: %w", dir, err)
	}

	opts := badger.DefaultOptions(dir).
		WithLogger(log.NewBadgerAdapter(logger.WithField("component", "badgerdb"))).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open frontier database at %s: %w", dir, err)
	}

	store := &BadgerStore{db: db, log: logger}

	if resume {
		count, err := store.countKeys()
		if err != nil {
			logger.Warnf("Failed to count existing frontier keys on resume: %v", err)
		} else {
			logger.Infof("Resumed frontier with %d previously seen URLs", count)
		}
	}

	return store, nil
}

// countKeys performs a one-time full key scan (used only when resuming).
func (s *BadgerStore) countKeys() (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction
// conflicts. Concurrent MVCC transactions on overlapping keys can
// return badger.ErrConflict; these resolve in microseconds, so a tight
// retry loop is sufficient.
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := 0; i < maxConflictRetries; i++ {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// MarkURLSeen implements the Store interface.
func (s *BadgerStore) MarkURLSeen(normalizedURL string) (bool, error) {
	if s.db == nil {
		return false, errors.New("frontier database not initialized")
	}
	added := false
	key := []byte(normalizedURL)

	err := s.dbUpdate(func(txn *badger.Txn) error {
		_, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			errSet := txn.SetEntry(badger.NewEntry(key, []byte{}))
			if errSet == nil {
				added = true
			}
			return errSet
		}
		// Key already exists, or Get failed for another reason
		return errGet
	})

	if err != nil {
		s.log.WithField("url", normalizedURL).Errorf("DB update error in MarkURLSeen: %v", err)
		return false, fmt.Errorf("%w: marking URL '%s': %w", utils.ErrDatabase, normalizedURL, err)
	}

	return added, nil
}

// RunGC runs BadgerDB's value log garbage collection periodically until
// ctx is canceled. Intended to be started as a goroutine for long
// resumable audits; interval <= 0 selects a 10 minute default.
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Debug("Frontier GC goroutine started")

	for {
		select {
		case <-ticker.C:
			if s.db == nil || s.db.IsClosed() {
				continue
			}
			var err error
			// Loop until GC reports nothing left to rewrite
			for {
				err = s.db.RunValueLogGC(0.5)
				if err != nil {
					break
				}
			}
			if !errors.Is(err, badger.ErrNoRewrite) {
				s.log.Errorf("Frontier GC error: %v", err)
			}
		case <-ctx.Done():
			s.log.Debugf("Stopping frontier GC goroutine: %v", ctx.Err())
			return
		}
	}
}

// Close implements the Store interface.
func (s *BadgerStore) Close() error {
	if s.db != nil && !s.db.IsClosed() {
		s.log.Debug("Closing frontier database")
		if err := s.db.Close(); err != nil {
			s.log.Errorf("Error closing frontier database: %v", err)
			return err
		}
	}
	return nil
}
