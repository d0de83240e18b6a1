// Copyright 2025 Certen Protocol
//
// LevelDB-backed KV store, adapted from the CometBFT KV adapter to serve the
// sidechain's document-store collections instead of consensus metadata.

package kvstore

import (
	dbm "github.com/cometbft/cometbft-db"
)

// LevelDB wraps a CometBFT dbm.DB (goleveldb by default) and implements KV.
type LevelDB struct {
	db dbm.DB
}

// OpenLevelDB opens (or creates) a goleveldb database at dir/name.
func OpenLevelDB(name, dir string) (*LevelDB, error) {
	db, err := dbm.NewDB(name, dbm.GoLevelDBBackend, dir)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

// NewLevelDB wraps an already-open dbm.DB. Exposed for tests that want an
// in-memory CometBFT backend (dbm.NewMemDB()) without touching disk.
func NewLevelDB(db dbm.DB) *LevelDB {
	return &LevelDB{db: db}
}

func (l *LevelDB) Get(key []byte) ([]byte, error) {
	if l.db == nil {
		return nil, nil
	}
	v, err := l.db.Get(key)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (l *LevelDB) Set(key, value []byte) error {
	if l.db == nil {
		return nil
	}
	return l.db.SetSync(key, value)
}

func (l *LevelDB) Delete(key []byte) error {
	if l.db == nil {
		return nil
	}
	return l.db.DeleteSync(key)
}

func (l *LevelDB) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	if l.db == nil {
		return nil
	}
	it, err := l.db.Iterator(prefix, dbm.PrefixEndBytes(prefix))
	if err != nil {
		return err
	}
	defer it.Close()

	for ; it.Valid(); it.Next() {
		k := make([]byte, len(it.Key()))
		copy(k, it.Key())
		v := make([]byte, len(it.Value()))
		copy(v, it.Value())
		if !fn(k, v) {
			break
		}
	}
	return it.Error()
}

// Close closes the underlying database.
func (l *LevelDB) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}
