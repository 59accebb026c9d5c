package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	ldb_opt "github.com/syndtr/goleveldb/leveldb/opt"
)

// LevelDB is an embedded backend for single-host deployments.
type LevelDB struct {
	db *leveldb.DB
}

func NewLevelDB(path string) (*LevelDB, error) {
	opt := &ldb_opt.Options{
		ErrorIfExist:   false,
		ErrorIfMissing: false,
	}
	db, err := leveldb.OpenFile(path, opt)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb at %s: %w", path, err)
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) Get(ctx context.Context, address string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, err := l.db.Get([]byte(address), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("leveldb get: %w", err)
	}
	return v, nil
}

func (l *LevelDB) Put(ctx context.Context, address string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := l.db.Put([]byte(address), value, nil); err != nil {
		return fmt.Errorf("leveldb put: %w", err)
	}
	return nil
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}
