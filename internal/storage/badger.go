package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// ErrLocked is returned by BeginRun while another run holds the marker.
var ErrLocked = errors.New("a pipeline run is already in progress")

var (
	lockKey          = []byte("lock:active")
	lastCompletedKey = []byte("last:completed")
	runPrefix        = []byte("run:")
)

// BadgerRunLog implements the RunLog interface using BadgerDB.
type BadgerRunLog struct {
	db  *badger.DB
	log logrus.FieldLogger
}

// NewBadgerRunLog opens the run ledger at the specified path.
func NewBadgerRunLog(dbPath string, logger logrus.FieldLogger) (*BadgerRunLog, error) {
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = &badgerLogger{logger.WithField("component", "badgerdb")}

	db, err := badger.Open(opts)
	if err != nil {
		logger.WithError(err).Error("Failed to open BadgerDB")
		return nil, fmt.Errorf("failed to open badger db at %s: %w", dbPath, err)
	}
	logger.WithField("path", dbPath).Debug("BadgerDB opened")

	return &BadgerRunLog{
		db:  db,
		log: logger.WithField("component", "runlog"),
	}, nil
}

// Close closes the BadgerDB database connection.
func (r *BadgerRunLog) Close() error {
	if err := r.db.Close(); err != nil {
		r.log.WithError(err).Error("Error closing BadgerDB")
		return err
	}
	return nil
}

// runKey orders runs by start time: run:{unix seconds, zero padded}:{id}
func runKey(run Run) []byte {
	return []byte(fmt.Sprintf("run:%020d:%s", run.StartedAt.Unix(), run.ID))
}

// BeginRun writes the in-progress marker with a TTL, so a crashed run cannot
// block the ledger for longer than ttl.
func (r *BadgerRunLog) BeginRun(ctx context.Context, id string, ttl time.Duration) error {
	log := r.log.WithField("run_id", id)

	err := r.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(lockKey)
		switch {
		case err == nil:
			holder, _ := item.ValueCopy(nil)
			log.WithField("holder", string(holder)).Warn("Run marker already held")
			return ErrLocked
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		return txn.SetEntry(badger.NewEntry(lockKey, []byte(id)).WithTTL(ttl))
	})
	if errors.Is(err, ErrLocked) {
		return ErrLocked
	}
	if err != nil {
		log.WithError(err).Error("Failed to write run marker")
		return fmt.Errorf("failed to begin run %s: %w", id, err)
	}

	log.WithField("ttl", ttl).Debug("Run marker taken")
	return nil
}

// FinishRun stores run, updates the last completed pointer on success and
// releases the marker if run still holds it.
func (r *BadgerRunLog) FinishRun(ctx context.Context, run Run) error {
	log := r.log.WithFields(logrus.Fields{
		"run_id": run.ID,
		"status": run.Status,
	})

	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now().UTC()
	}
	runBytes, err := json.Marshal(run)
	if err != nil {
		log.WithError(err).Error("Failed to marshal run to JSON")
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(runKey(run), runBytes); err != nil {
			return err
		}
		if run.Status == RunSucceeded {
			if err := txn.Set(lastCompletedKey, runBytes); err != nil {
				return err
			}
		}

		item, err := txn.Get(lockKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		holder, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if string(holder) != run.ID {
			log.WithField("holder", string(holder)).Warn("Run marker held by another run, leaving it")
			return nil
		}
		return txn.Delete(lockKey)
	})
	if err != nil {
		log.WithError(err).Error("Failed to record run")
		return fmt.Errorf("failed to finish run %s: %w", run.ID, err)
	}

	log.Info("Run recorded")
	return nil
}

// LastCompleted returns the latest successful run, or nil if there is none.
func (r *BadgerRunLog) LastCompleted(ctx context.Context) (*Run, error) {
	var run *Run
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(lastCompletedKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			run = new(Run)
			return json.Unmarshal(val, run)
		})
	})
	if err != nil {
		r.log.WithError(err).Error("Failed to read last completed run")
		return nil, fmt.Errorf("failed to read last completed run: %w", err)
	}
	return run, nil
}

// Runs retrieves every recorded run, newest first.
func (r *BadgerRunLog) Runs(ctx context.Context) ([]Run, error) {
	var runs []Run

	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(runPrefix); it.ValidForPrefix(runPrefix); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var run Run
				if err := json.Unmarshal(val, &run); err != nil {
					return fmt.Errorf("failed to unmarshal run data for key %s: %w", string(item.Key()), err)
				}
				runs = append(runs, run)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		r.log.WithError(err).Error("Failed to retrieve runs from BadgerDB")
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs, nil
}

// badgerLogger adapts logrus.FieldLogger to Badger's logger interface.
type badgerLogger struct {
	logger logrus.FieldLogger
}

func (l *badgerLogger) Errorf(f string, v ...interface{}) {
	l.logger.Errorf(f, v...)
}
func (l *badgerLogger) Warningf(f string, v ...interface{}) {
	l.logger.Warningf(f, v...)
}
func (l *badgerLogger) Infof(f string, v ...interface{}) {
	l.logger.Debugf(f, v...)
}
func (l *badgerLogger) Debugf(f string, v ...interface{}) {
	l.logger.Debugf(f, v...)
}
