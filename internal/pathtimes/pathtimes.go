// Package pathtimes is the flat path to mtime index used for single-path
// staleness queries. Unlike pathdb it has no trigger grouping.
//
// The index lives in a BadgerDB directory. Keys are the raw path bytes and
// values are the mtime encoded as a big-endian int64.
package pathtimes

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"

	"systrigger/internal/pathdb"
)

// Config selects where the index lives.
type Config struct {
	// Path is the BadgerDB directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps the index in memory only. Used by tests.
	InMemory bool

	// Logger receives BadgerDB's own diagnostics. Nil silences them.
	Logger *slog.Logger
}

// Store is an open index. It is safe for concurrent use.
type Store struct {
	db *badger.DB
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Open opens (creating if needed) the index described by cfg.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("pathtimes: path is required for a persistent index")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("create pathtimes directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open pathtimes: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func encode(mtime int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(mtime))
	return b[:]
}

func decode(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("pathtimes: corrupt value of %d bytes", len(b))
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

// Get returns the recorded mtime of path. ok is false when path is unknown.
func (s *Store) Get(path string) (mtime int64, ok bool, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(path))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			v, derr := decode(val)
			if derr != nil {
				return derr
			}
			mtime, ok = v, true
			return nil
		})
	})
	if err != nil {
		return 0, false, fmt.Errorf("pathtimes get %s: %w", path, err)
	}
	return mtime, ok, nil
}

// Update records mtime for path.
func (s *Store) Update(path string, mtime int64) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(path), encode(mtime))
	})
	if err != nil {
		return fmt.Errorf("pathtimes update %s: %w", path, err)
	}
	return nil
}

// Delete forgets path. Deleting an unknown path is not an error.
func (s *Store) Delete(path string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(path))
	})
	if err != nil {
		return fmt.Errorf("pathtimes delete %s: %w", path, err)
	}
	return nil
}

// Record stores every file of retained and forgets every removed path in a
// single batch.
func (s *Store) Record(retained []pathdb.File, removed []string) error {
	if len(retained) == 0 && len(removed) == 0 {
		return nil
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, f := range retained {
		if err := wb.Set([]byte(f.Path), encode(f.Mtime)); err != nil {
			return fmt.Errorf("pathtimes record %s: %w", f.Path, err)
		}
	}
	for _, p := range removed {
		if err := wb.Delete([]byte(p)); err != nil {
			return fmt.Errorf("pathtimes forget %s: %w", p, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("pathtimes flush: %w", err)
	}
	return nil
}

// Len counts the recorded paths.
func (s *Store) Len() (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}
