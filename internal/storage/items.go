package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Identifies an item by partition and sort key. Single-key records leave SK empty.
type ItemKey struct {
	PK string
	SK string
}

func (k ItemKey) String() string {
	if k.SK == "" {
		return k.PK
	}
	return k.PK + "|" + k.SK
}

// A raw item as stored in its hash
type Item struct {
	Key    ItemKey
	Fields map[string]string
}

// Decodes the item into a struct with redis tags
func (i Item) Scan(dst interface{}) error {
	return redis.NewMapStringStringResult(i.Fields, nil).Scan(dst)
}

// Returns a numeric field, absent or malformed values read as 0
func (i Item) Int64(field string) int64 {
	v, err := strconv.ParseInt(i.Fields[field], 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// An entry of a secondary ordering index
type RankEntry struct {
	Member string
	Score  int64
}

// Precedes reports whether e ranks ahead of other in a Rank read
func (e RankEntry) Precedes(other RankEntry) bool {
	if e.Score != other.Score {
		return e.Score > other.Score
	}
	return e.Member > other.Member
}

// Table groups items under one key prefix, the way a table groups items in a
// wide-column store. Items with a sort key are also registered in a per
// partition index so they can be range-read.
type Table struct {
	name  string
	redis *RedisClient
}

func (t *Table) Name() string {
	return t.name
}

func (t *Table) itemKey(k ItemKey) string {
	return t.name + ":" + k.String()
}

func (t *Table) partitionKey(pk string) string {
	return t.name + ":pk:" + pk
}

func (t *Table) indexKey(index, partition string) string {
	return t.name + ":gsi:" + index + ":" + partition
}

// GetItem loads an item into dst. It returns ErrNotFound when the item does
// not exist.
func (t *Table) GetItem(ctx context.Context, key ItemKey, consistent bool, dst interface{}) error {
	ctx, cancel := t.redis.withTimeout(ctx)
	defer cancel()

	cmd := t.redis.reader(consistent).HGetAll(ctx, t.itemKey(key))
	fields, err := cmd.Result()
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return ErrNotFound
	}

	return cmd.Scan(dst)
}

type putOptions struct {
	mode       string
	guardField string
	guardValue string
	expireAt   time.Time
}

type PutOption func(*putOptions)

// Only writes when the item does not exist yet
func IfNotExists() PutOption {
	return func(o *putOptions) { o.mode = "absent" }
}

// Only writes when field currently holds value
func IfEquals(field string, value interface{}) PutOption {
	return func(o *putOptions) {
		o.mode = "equals"
		o.guardField = field
		o.guardValue = fmt.Sprint(value)
	}
}

// Lets the store garbage-collect the item at t
func ExpireAt(t time.Time) PutOption {
	return func(o *putOptions) { o.expireAt = t }
}

// PutItem replaces the whole item. A failed guard returns ErrConditionFailed.
func (t *Table) PutItem(ctx context.Context, key ItemKey, fields map[string]interface{}, opts ...PutOption) error {
	if len(fields) == 0 {
		return errors.New("put requires at least one field")
	}

	var o putOptions
	for _, opt := range opts {
		opt(&o)
	}

	var expireAt int64
	if !o.expireAt.IsZero() {
		expireAt = o.expireAt.Unix()
	}

	keys := []string{t.itemKey(key)}
	if key.SK != "" {
		keys = append(keys, t.partitionKey(key.PK))
	}

	args := []interface{}{o.mode, o.guardField, o.guardValue, expireAt, key.SK}
	for _, name := range sortedFields(fields) {
		args = append(args, name, fields[name])
	}

	ctx, cancel := t.redis.withTimeout(ctx)
	defer cancel()

	applied, err := putItemScript.Run(ctx, t.redis.client, keys, args...).Int64()
	if err != nil {
		return err
	}
	if applied == 0 {
		return ErrConditionFailed
	}

	return nil
}

type updateOptions struct {
	guardField string
	threshold  int64
}

type UpdateOption func(*updateOptions)

// Only applies the update while field > n
func IfGreaterThan(field string, n int64) UpdateOption {
	return func(o *updateOptions) {
		o.guardField = field
		o.threshold = n
	}
}

// UpdateItem atomically adds each delta to its field, treating absent fields
// as 0, and returns the new values. A failed guard returns ErrConditionFailed.
func (t *Table) UpdateItem(ctx context.Context, key ItemKey, deltas map[string]int64, opts ...UpdateOption) (map[string]int64, error) {
	if len(deltas) == 0 {
		return nil, errors.New("update requires at least one field")
	}

	var o updateOptions
	for _, opt := range opts {
		opt(&o)
	}

	keys := []string{t.itemKey(key)}
	if key.SK != "" {
		keys = append(keys, t.partitionKey(key.PK))
	}

	names := sortedDeltas(deltas)

	args := []interface{}{o.guardField, o.threshold, key.SK}
	for _, name := range names {
		args = append(args, name, deltas[name])
	}

	ctx, cancel := t.redis.withTimeout(ctx)
	defer cancel()

	reply, err := updateItemScript.Run(ctx, t.redis.client, keys, args...).Int64Slice()
	if err != nil {
		return nil, err
	}
	if len(reply) == 0 || reply[0] == 0 {
		return nil, ErrConditionFailed
	}

	values := make(map[string]int64, len(names))
	for i, name := range names {
		if i+1 < len(reply) {
			values[name] = reply[i+1]
		}
	}

	return values, nil
}

// Query returns every item of a partition whose sort key starts with prefix,
// in sort key order.
func (t *Table) Query(ctx context.Context, pk, prefix string) ([]Item, error) {
	ctx, cancel := t.redis.withTimeout(ctx)
	defer cancel()

	min, max := "-", "+"
	if prefix != "" {
		min = "[" + prefix
		max = "[" + prefix + "\xff"
	}

	sortKeys, err := t.redis.client.ZRangeByLex(ctx, t.partitionKey(pk), &redis.ZRangeBy{
		Min: min,
		Max: max,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(sortKeys) == 0 {
		return []Item{}, nil
	}

	keys := make([]ItemKey, 0, len(sortKeys))
	for _, sk := range sortKeys {
		keys = append(keys, ItemKey{PK: pk, SK: sk})
	}

	found, err := t.batchGet(ctx, t.redis.client, keys)
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(keys))
	for _, k := range keys {
		if item, ok := found[k]; ok {
			items = append(items, item)
		}
	}

	return items, nil
}

// BatchGetItem reads several items in one round trip. Missing items are
// simply absent from the result.
func (t *Table) BatchGetItem(ctx context.Context, keys []ItemKey, consistent bool) (map[ItemKey]Item, error) {
	if len(keys) == 0 {
		return map[ItemKey]Item{}, nil
	}

	ctx, cancel := t.redis.withTimeout(ctx)
	defer cancel()

	return t.batchGet(ctx, t.redis.reader(consistent), keys)
}

func (t *Table) batchGet(ctx context.Context, client *redis.Client, keys []ItemKey) (map[ItemKey]Item, error) {
	pipe := client.Pipeline()

	cmds := make([]*redis.MapStringStringCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.HGetAll(ctx, t.itemKey(k))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	items := make(map[ItemKey]Item, len(keys))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		items[keys[i]] = Item{Key: keys[i], Fields: fields}
	}

	return items, nil
}

// Rank reads up to limit entries of a secondary ordering index, highest
// score first and ties by descending member. A nil after starts at the top;
// otherwise the page begins with the first entry ranked below after. Entries
// whose score changes between two reads move across the cursor, so a paged
// walk never returns the same member twice.
func (t *Table) Rank(ctx context.Context, index, partition string, after *RankEntry, limit int64) ([]RankEntry, error) {
	if limit <= 0 {
		return []RankEntry{}, nil
	}

	ctx, cancel := t.redis.withTimeout(ctx)
	defer cancel()

	by := &redis.ZRangeBy{Min: "-inf", Max: "+inf", Count: limit}
	if after != nil {
		by.Max = strconv.FormatInt(after.Score, 10)
	}

	entries := make([]RankEntry, 0, limit)
	for int64(len(entries)) < limit {
		members, err := t.redis.client.ZRevRangeByScoreWithScores(ctx, t.indexKey(index, partition), by).Result()
		if err != nil {
			return nil, err
		}

		for _, m := range members {
			member, ok := m.Member.(string)
			if !ok {
				continue
			}
			entry := RankEntry{Member: member, Score: int64(m.Score)}
			// Ties with the cursor score include the cursor and those ahead of it
			if after != nil && !after.Precedes(entry) {
				continue
			}
			entries = append(entries, entry)
			if int64(len(entries)) == limit {
				break
			}
		}

		if int64(len(members)) < by.Count {
			break
		}
		by.Offset += by.Count
	}

	return entries, nil
}

func sortedFields(fields map[string]interface{}) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
