// Package cache is the read-through cache in front of ledger reads.
//
// It only ever holds raw ledger tuples. Decryption and derived values are
// computed by callers after a read.
package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/david-nichamoff/fizit-demo-sub001/backend/model"
	"golang.org/x/sync/singleflight"
)

const (
	EntityContract    = "contract"
	EntityParty       = "party"
	EntityTransaction = "transaction"
	EntitySettlement  = "settlement"
	EntityArtifact    = "artifact"
	EntityCount       = "count"
)

// Key identifies one cached list. Count keys have no index.
type Key struct {
	Entity       string
	ContractType model.Kind
	ContractIdx  int
}

func (k Key) String() string {
	if k.Entity == EntityCount {
		return fmt.Sprintf("count_%s", k.ContractType)
	}
	return fmt.Sprintf("%s_%s_%d", k.Entity, k.ContractType, k.ContractIdx)
}

func ContractKey(kind model.Kind, idx int) Key {
	return Key{Entity: EntityContract, ContractType: kind, ContractIdx: idx}
}

func PartyKey(kind model.Kind, idx int) Key {
	return Key{Entity: EntityParty, ContractType: kind, ContractIdx: idx}
}

func TransactionKey(kind model.Kind, idx int) Key {
	return Key{Entity: EntityTransaction, ContractType: kind, ContractIdx: idx}
}

func SettlementKey(kind model.Kind, idx int) Key {
	return Key{Entity: EntitySettlement, ContractType: kind, ContractIdx: idx}
}

func ArtifactKey(kind model.Kind, idx int) Key {
	return Key{Entity: EntityArtifact, ContractType: kind, ContractIdx: idx}
}

func CountKey(kind model.Kind) Key {
	return Key{Entity: EntityCount, ContractType: kind}
}

// AllKeys lists every key of one contract.
func AllKeys(kind model.Kind, idx int) []Key {
	return []Key{
		ContractKey(kind, idx),
		PartyKey(kind, idx),
		TransactionKey(kind, idx),
		SettlementKey(kind, idx),
		ArtifactKey(kind, idx),
	}
}

// Store is a byte-level backend. A zero ttl means no expiry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type Observer interface {
	CacheHit(entity string)
	CacheMiss(entity string)
}

// Loader reads a list from the ledger on a miss.
type Loader func(ctx context.Context) ([]model.Tuple, error)

type Layer struct {
	store Store
	obs   Observer
	group singleflight.Group

	mu  sync.Mutex
	gen map[string]uint64
}

func New(store Store, obs Observer) *Layer {
	return &Layer{store: store, obs: obs, gen: make(map[string]uint64)}
}

// GetOrLoad returns the cached tuples for key, calling load on a miss.
// Concurrent misses for the same key share one load. A load that overlaps
// an Invalidate of its key is returned to its callers but not left stored.
func (l *Layer) GetOrLoad(ctx context.Context, key Key, ttl time.Duration, load Loader) ([]model.Tuple, error) {
	k := key.String()

	data, ok, err := l.store.Get(ctx, k)
	if err != nil {
		slog.Error("cache get failed", "key", k, "error", err)
	}
	if ok {
		tuples, err := decode(data)
		if err == nil {
			l.hit(key.Entity)
			slog.Debug("cache hit", "key", k)
			return tuples, nil
		}
		slog.Warn("cache entry unreadable, reloading", "key", k, "error", err)
	}
	l.miss(key.Entity)
	slog.Debug("cache miss", "key", k)

	v, err, _ := l.group.Do(k, func() (any, error) {
		gen := l.generation(k)
		tuples, err := load(ctx)
		if err != nil {
			return nil, err
		}
		encoded, err := json.Marshal(tuples)
		if err != nil {
			return nil, fmt.Errorf("encode cache entry %s: %w", k, err)
		}
		if l.generation(k) != gen {
			return encoded, nil
		}
		if err := l.store.Set(ctx, k, encoded, ttl); err != nil {
			slog.Error("cache set failed", "key", k, "error", err)
			return encoded, nil
		}
		// An Invalidate may have deleted k between the check and the Set.
		if l.generation(k) != gen {
			if err := l.store.Delete(ctx, k); err != nil {
				slog.Error("cache delete of overtaken entry failed", "key", k, "error", err)
			}
		}
		return encoded, nil
	})
	if err != nil {
		return nil, err
	}
	// Each caller decodes its own copy.
	return decode(v.([]byte))
}

// Invalidate removes keys. It must run after the write that changed them
// and before that write is reported as done.
func (l *Layer) Invalidate(ctx context.Context, keys ...Key) error {
	if len(keys) == 0 {
		return nil
	}
	names := make([]string, len(keys))
	l.mu.Lock()
	for i, key := range keys {
		names[i] = key.String()
		l.gen[names[i]]++
	}
	l.mu.Unlock()

	for _, name := range names {
		l.group.Forget(name)
	}
	if err := l.store.Delete(ctx, names...); err != nil {
		return fmt.Errorf("invalidate %v: %w", names, err)
	}
	slog.Debug("cache invalidated", "keys", names)
	return nil
}

func (l *Layer) generation(k string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gen[k]
}

func (l *Layer) hit(entity string) {
	if l.obs != nil {
		l.obs.CacheHit(entity)
	}
}

func (l *Layer) miss(entity string) {
	if l.obs != nil {
		l.obs.CacheMiss(entity)
	}
}

func decode(data []byte) ([]model.Tuple, error) {
	var tuples []model.Tuple
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&tuples); err != nil {
		return nil, err
	}
	if tuples == nil {
		tuples = []model.Tuple{}
	}
	return tuples, nil
}
