package db

import (
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// syncedWrites forces every Put through an fsync so a tracked pending entry
// survives a crash. Collections are small and rewritten whole, so the extra
// latency per write is negligible.
var syncedWrites = &opt.WriteOptions{Sync: true}

// LevelDB wraps a LevelDB instance
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB creates a new LevelDB instance
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{
		ErrorIfMissing: false,
		// the store holds a handful of per-address collections, not a
		// write-heavy log; keep the memory footprint small
		WriteBuffer:            1 * opt.MiB,
		OpenFilesCacheCapacity: 16,
	})
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

// Put stores a key-value pair in the database
func (l *LevelDB) Put(key, value []byte) error {
	return l.db.Put(key, value, syncedWrites)
}

// Get retrieves a value by key from the database. A missing key returns
// (nil, nil).
func (l *LevelDB) Get(key []byte) ([]byte, error) {
	data, err := l.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	return data, err
}

// Close shuts down the database connection
func (l *LevelDB) Close() error {
	return l.db.Close()
}
