package state

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"peerescrow/core/types"
	"peerescrow/crypto"
	"peerescrow/native/bank"
	"peerescrow/storage"
)

const lockStripes = 256

var (
	ErrReadOnly = errors.New("state: write attempted in read-only view")
	ErrClosed   = errors.New("state: ledger closed")
)

// Ledger is the account-addressed ledger the escrow engine runs on. Updates
// lock every record they touch, read through a private write overlay and
// commit the overlay as one storage batch.
type Ledger struct {
	db      storage.Database
	stripes [lockStripes]sync.Mutex

	mu     sync.RWMutex
	closed bool
}

// NewLedger wraps db.
func NewLedger(db storage.Database) *Ledger {
	return &Ledger{db: db}
}

func stripeFor(id crypto.Identity) int {
	h := fnv.New32a()
	_, _ = h.Write(id[:])
	return int(h.Sum32() % lockStripes)
}

// stripesFor returns the sorted, de-duplicated stripe indices for locks so
// concurrent updates always acquire in the same order.
func stripesFor(locks []crypto.Identity) []int {
	seen := make(map[int]struct{}, len(locks))
	out := make([]int, 0, len(locks))
	for _, id := range locks {
		idx := stripeFor(id)
		if _, ok := seen[idx]; ok {
			continue
		}
		seen[idx] = struct{}{}
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

// Update runs fn with write locks held on every identity in locks. Writes made
// through the Tx are committed atomically when fn returns nil and discarded
// otherwise.
func (l *Ledger) Update(ctx context.Context, locks []crypto.Identity, fn func(*Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	held := stripesFor(locks)
	for _, idx := range held {
		l.stripes[idx].Lock()
	}
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			l.stripes[held[i]].Unlock()
		}
	}()
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := newTx(l.db, true)
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

// View runs fn against committed state. Writes fail with ErrReadOnly.
func (l *Ledger) View(ctx context.Context, fn func(*Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	return fn(newTx(l.db, false))
}

// Mint credits funds outside the escrow rules. It backs the development faucet.
func (l *Ledger) Mint(ctx context.Context, to crypto.Identity, asset types.AssetRef, amount uint64) error {
	return l.Update(ctx, []crypto.Identity{to}, func(tx *Tx) error {
		return bank.Mint(tx, to, asset, amount)
	})
}

// Close marks the ledger closed and closes the backing database once in-flight
// operations drain.
func (l *Ledger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.db.Close()
}

// Tx is a transactional view over the ledger.
type Tx struct {
	db       storage.Database
	writable bool
	writes   map[string][]byte
	order    []string
}

func newTx(db storage.Database, writable bool) *Tx {
	return &Tx{db: db, writable: writable, writes: make(map[string][]byte)}
}

func (tx *Tx) getRaw(key []byte) ([]byte, bool, error) {
	if value, ok := tx.writes[string(key)]; ok {
		return value, true, nil
	}
	value, err := tx.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (tx *Tx) putRaw(key, value []byte) error {
	if !tx.writable {
		return ErrReadOnly
	}
	k := string(key)
	if _, ok := tx.writes[k]; !ok {
		tx.order = append(tx.order, k)
	}
	tx.writes[k] = value
	return nil
}

// KVPut stores value under key using RLP encoding.
func (tx *Tx) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return tx.putRaw(key, encoded)
}

// KVGet decodes the value stored under key into out. The boolean reports
// whether the key existed.
func (tx *Tx) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, ok, err := tx.getRaw(key)
	if err != nil || !ok {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("kv: decode: %w", err)
	}
	return true, nil
}

// Pending reports the number of staged writes.
func (tx *Tx) Pending() int { return len(tx.order) }

func (tx *Tx) commit() error {
	if tx.Pending() == 0 {
		return nil
	}
	batch := tx.db.NewBatch()
	for _, k := range tx.order {
		batch.Put([]byte(k), tx.writes[k])
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("state: commit batch: %w", err)
	}
	return nil
}
