package storage

import (
	"context"
	"errors"
	"sort"

	"github.com/redis/go-redis/v9"
)

type batchOp func(ctx context.Context, pipe redis.Pipeliner)

// WriteBatch collects writes that are applied all-or-nothing by
// TransactWrite or TransactGuarded.
//
// Every queued operation is a type-safe hash or sorted set command on fields
// the batch owns, so EXEC never applies a partial batch.
type WriteBatch struct {
	table *Table
	ops   []batchOp
}

func (t *Table) NewBatch() *WriteBatch {
	return &WriteBatch{table: t}
}

// Adds each delta to its field, creating the item when missing
func (b *WriteBatch) Add(key ItemKey, deltas map[string]int64) *WriteBatch {
	itemKey := b.table.itemKey(key)
	b.ops = append(b.ops, func(ctx context.Context, pipe redis.Pipeliner) {
		for _, name := range sortedDeltas(deltas) {
			pipe.HIncrBy(ctx, itemKey, name, deltas[name])
		}
	})
	b.index(key)
	return b
}

// Overwrites the given fields, leaving the rest of the item untouched
func (b *WriteBatch) Set(key ItemKey, fields map[string]interface{}) *WriteBatch {
	if len(fields) == 0 {
		return b
	}

	itemKey := b.table.itemKey(key)
	values := make([]interface{}, 0, 2*len(fields))
	for _, name := range sortedFields(fields) {
		values = append(values, name, fields[name])
	}

	b.ops = append(b.ops, func(ctx context.Context, pipe redis.Pipeliner) {
		pipe.HSet(ctx, itemKey, values...)
	})
	b.index(key)
	return b
}

// Writes field only when the item does not hold it yet
func (b *WriteBatch) SetIfAbsent(key ItemKey, field string, value interface{}) *WriteBatch {
	itemKey := b.table.itemKey(key)
	b.ops = append(b.ops, func(ctx context.Context, pipe redis.Pipeliner) {
		pipe.HSetNX(ctx, itemKey, field, value)
	})
	b.index(key)
	return b
}

// Moves member up a secondary ordering index by delta
func (b *WriteBatch) Rank(index, partition, member string, delta int64) *WriteBatch {
	indexKey := b.table.indexKey(index, partition)
	b.ops = append(b.ops, func(ctx context.Context, pipe redis.Pipeliner) {
		pipe.ZIncrBy(ctx, indexKey, float64(delta), member)
	})
	return b
}

// Number of queued operations
func (b *WriteBatch) Len() int {
	return len(b.ops)
}

func (b *WriteBatch) index(key ItemKey) {
	if key.SK == "" {
		return
	}

	partitionKey := b.table.partitionKey(key.PK)
	b.ops = append(b.ops, func(ctx context.Context, pipe redis.Pipeliner) {
		pipe.ZAdd(ctx, partitionKey, redis.Z{Score: 0, Member: key.SK})
	})
}

func (b *WriteBatch) apply(ctx context.Context, pipe redis.Pipeliner) {
	for _, op := range b.ops {
		op(ctx, pipe)
	}
}

// TransactWrite applies the batch atomically
func (t *Table) TransactWrite(ctx context.Context, b *WriteBatch) error {
	if b == nil || b.Len() == 0 {
		return nil
	}

	ctx, cancel := t.redis.withTimeout(ctx)
	defer cancel()

	_, err := t.redis.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		b.apply(ctx, pipe)
		return nil
	})
	return err
}

// Guard is the read side of a guarded transaction. Reads made through it
// observe the guarded item; any concurrent write to that item aborts the
// transaction unless the guard is released first.
type Guard struct {
	tx    *redis.Tx
	table *Table
	key   ItemKey
}

// Loads the guarded item into dst, returning ErrNotFound when it is absent
func (g *Guard) Get(ctx context.Context, dst interface{}) error {
	cmd := g.tx.HGetAll(ctx, g.table.itemKey(g.key))
	fields, err := cmd.Result()
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return ErrNotFound
	}
	return cmd.Scan(dst)
}

// Stops watching the guarded item, the batch then commits unconditionally
func (g *Guard) Release(ctx context.Context) error {
	return g.tx.Unwatch(ctx).Err()
}

// TransactGuarded watches guard, lets build read it and prepare a batch, then
// commits the batch atomically. If the guarded item changed in between, no
// write is applied and ErrConditionFailed is returned.
func (t *Table) TransactGuarded(ctx context.Context, guard ItemKey, build func(ctx context.Context, g *Guard) (*WriteBatch, error)) error {
	ctx, cancel := t.redis.withTimeout(ctx)
	defer cancel()

	err := t.redis.client.Watch(ctx, func(tx *redis.Tx) error {
		batch, err := build(ctx, &Guard{tx: tx, table: t, key: guard})
		if err != nil {
			return err
		}
		if batch == nil || batch.Len() == 0 {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			batch.apply(ctx, pipe)
			return nil
		})
		return err
	}, t.itemKey(guard))

	if errors.Is(err, redis.TxFailedErr) {
		return ErrConditionFailed
	}
	return err
}

func sortedDeltas(deltas map[string]int64) []string {
	names := make([]string, 0, len(deltas))
	for name := range deltas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
