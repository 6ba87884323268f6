package storage

import (
	"errors"

	"github.com/cockroachdb/pebble"
)

// PebbleDB is a persistent key-value store backed by Pebble. Every write is
// synced before returning.
type PebbleDB struct {
	db *pebble.DB
}

// NewPebbleDB opens (or creates) a Pebble store rooted at dir.
func NewPebbleDB(dir string) (*PebbleDB, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleDB{db: db}, nil
}

func (p *PebbleDB) Put(key []byte, value []byte) error {
	return p.db.Set(key, value, pebble.Sync)
}

func (p *PebbleDB) Get(key []byte) ([]byte, error) {
	value, closer, err := p.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), value...), nil
}

func (p *PebbleDB) Has(key []byte) (bool, error) {
	_, err := p.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (p *PebbleDB) Delete(key []byte) error {
	return p.db.Delete(key, pebble.Sync)
}

func (p *PebbleDB) NewBatch() Batch {
	return &pebbleBatch{batch: p.db.NewBatch()}
}

func (p *PebbleDB) Close() {
	_ = p.db.Close()
}

type pebbleBatch struct {
	batch *pebble.Batch
	count int
}

func (b *pebbleBatch) Put(key []byte, value []byte) {
	_ = b.batch.Set(key, value, nil)
	b.count++
}

func (b *pebbleBatch) Delete(key []byte) {
	_ = b.batch.Delete(key, nil)
	b.count++
}

func (b *pebbleBatch) Len() int { return b.count }

func (b *pebbleBatch) Write() error {
	if err := b.batch.Commit(pebble.Sync); err != nil {
		return err
	}
	b.count = 0
	return b.batch.Close()
}
