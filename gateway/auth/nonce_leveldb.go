package auth

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Two keyspaces are kept in step:
//
//	u/<signer>\x00<nonce>                 -> observed unix nanos (8 bytes BE)
//	t/<observed nanos BE><signer>\x00<nonce> -> empty
//
// The second orders entries by observation time so hydration and pruning are
// plain range scans.
var (
	usedPrefix = []byte("u/")
	timePrefix = []byte("t/")
)

var errNoncePersistenceClosed = errors.New("auth: nonce persistence not open")

// LevelDBNoncePersistence keeps envelope nonces on disk so a restarted node
// still rejects replays inside the skew window.
type LevelDBNoncePersistence struct {
	mu   sync.Mutex
	db   *leveldb.DB
	sync bool
}

// NewLevelDBNoncePersistence opens the nonce database under dir, creating it
// when missing.
func NewLevelDBNoncePersistence(dir string) (*LevelDBNoncePersistence, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("auth: nonce directory required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("auth: nonce directory: %w", err)
	}
	db, err := leveldb.OpenFile(abs, &opt.Options{NoSync: false})
	if err != nil {
		return nil, fmt.Errorf("auth: open nonce db %s: %w", abs, err)
	}
	return &LevelDBNoncePersistence{db: db, sync: true}, nil
}

func (p *LevelDBNoncePersistence) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}

// EnsureNonce stores record and reports whether the signer had already used
// the nonce. A repeat observation moves the entry forward in time so it is not
// pruned while replays keep arriving.
func (p *LevelDBNoncePersistence) EnsureNonce(ctx context.Context, record NonceRecord) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	id, err := nonceID(record.Signer, record.Nonce)
	if err != nil {
		return false, err
	}
	at := record.ObservedAt
	if at.IsZero() {
		at = time.Now()
	}
	nanos := at.UTC().UnixNano()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db == nil {
		return false, errNoncePersistenceClosed
	}

	usedKey := append(append([]byte{}, usedPrefix...), id...)
	prev, err := p.db.Get(usedKey, nil)
	if err != nil && !errors.Is(err, leveldb.ErrNotFound) {
		return false, fmt.Errorf("auth: read nonce: %w", err)
	}
	seen := err == nil && len(prev) == 8

	batch := new(leveldb.Batch)
	if seen {
		prevNanos := int64(binary.BigEndian.Uint64(prev))
		if nanos <= prevNanos {
			return true, nil
		}
		batch.Delete(timeKey(prevNanos, id))
	}
	batch.Put(usedKey, nanoBytes(nanos))
	batch.Put(timeKey(nanos, id), nil)
	if err := p.db.Write(batch, &opt.WriteOptions{Sync: p.sync}); err != nil {
		return false, fmt.Errorf("auth: write nonce: %w", err)
	}
	return seen, nil
}

// RecentNonces lists every nonce observed at or after since, oldest first.
func (p *LevelDBNoncePersistence) RecentNonces(ctx context.Context, since time.Time) ([]NonceRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db == nil {
		return nil, errNoncePersistenceClosed
	}
	rng := util.BytesPrefix(timePrefix)
	rng.Start = timeKey(since.UTC().UnixNano(), nil)
	iter := p.db.NewIterator(rng, nil)
	defer iter.Release()

	var out []NonceRecord
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		nanos, signer, nonce, ok := splitTimeKey(iter.Key())
		if !ok {
			continue
		}
		out = append(out, NonceRecord{Signer: signer, Nonce: nonce, ObservedAt: time.Unix(0, nanos).UTC()})
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("auth: scan nonces: %w", err)
	}
	return out, nil
}

// PruneNonces drops every nonce last observed before cutoff.
func (p *LevelDBNoncePersistence) PruneNonces(ctx context.Context, cutoff time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db == nil {
		return errNoncePersistenceClosed
	}
	iter := p.db.NewIterator(&util.Range{Start: timePrefix, Limit: timeKey(cutoff.UTC().UnixNano(), nil)}, nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		key := iter.Key()
		if len(key) < len(timePrefix)+8 {
			continue
		}
		id := key[len(timePrefix)+8:]
		batch.Delete(append([]byte{}, key...))
		batch.Delete(append(append([]byte{}, usedPrefix...), id...))
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("auth: scan nonces: %w", err)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := p.db.Write(batch, &opt.WriteOptions{Sync: p.sync}); err != nil {
		return fmt.Errorf("auth: prune nonces: %w", err)
	}
	return nil
}

func nonceID(signer, nonce string) ([]byte, error) {
	signer = strings.TrimSpace(signer)
	nonce = strings.TrimSpace(nonce)
	if signer == "" || nonce == "" {
		return nil, fmt.Errorf("auth: nonce record missing signer or nonce")
	}
	if strings.IndexByte(signer, 0) >= 0 {
		return nil, fmt.Errorf("auth: signer contains NUL byte")
	}
	id := make([]byte, 0, len(signer)+1+len(nonce))
	id = append(id, signer...)
	id = append(id, 0)
	return append(id, nonce...), nil
}

func timeKey(nanos int64, id []byte) []byte {
	key := make([]byte, 0, len(timePrefix)+8+len(id))
	key = append(key, timePrefix...)
	key = append(key, nanoBytes(nanos)...)
	return append(key, id...)
}

func splitTimeKey(key []byte) (int64, string, string, bool) {
	if !bytes.HasPrefix(key, timePrefix) || len(key) < len(timePrefix)+8 {
		return 0, "", "", false
	}
	body := key[len(timePrefix):]
	nanos := int64(binary.BigEndian.Uint64(body[:8]))
	signer, nonce, ok := bytes.Cut(body[8:], []byte{0})
	if !ok {
		return 0, "", "", false
	}
	return nanos, string(signer), string(nonce), true
}

func nanoBytes(nanos int64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(nanos))
	return buf[:]
}
