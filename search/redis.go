// Package search stores denormalized documents in Redis and answers
// full-text queries over them.
package search

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

// Client is the index contract consumed by the indexing pipeline.
type Client interface {
	Index(ctx context.Context, index string, doc Document) error
	IndexMany(ctx context.Context, index string, docs []Document) error
	Delete(ctx context.Context, index string, id int64) error
	DeleteMany(ctx context.Context, index string, ids []int64) error
	IDs(ctx context.Context, index string) ([]int64, error)
	IndexExists(ctx context.Context, index string) (bool, error)
	CreateIndexIfNotExist(ctx context.Context, index string) (bool, error)
}

// Redis keeps each index as a hash of id -> JSON document plus a meta key
// that marks the index as created.
type Redis struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ Client = (*Redis)(nil)

func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "search"
	}
	return &Redis{client: client, prefix: prefix, now: time.Now}
}

func (r *Redis) docsKey(index string) string { return r.prefix + ":" + index + ":docs" }
func (r *Redis) metaKey(index string) string { return r.prefix + ":" + index + ":meta" }

// Encode returns the stored form of doc. Encoding is deterministic so an
// unchanged entity always produces identical bytes.
func Encode(doc Document) ([]byte, error) {
	return sonic.ConfigStd.Marshal(doc)
}

func (r *Redis) Index(ctx context.Context, index string, doc Document) error {
	b, err := Encode(doc)
	if err != nil {
		return fmt.Errorf("encode %s/%d: %w", index, doc.DocumentID(), err)
	}
	return r.client.HSet(ctx, r.docsKey(index), strconv.FormatInt(doc.DocumentID(), 10), b).Err()
}

func (r *Redis) IndexMany(ctx context.Context, index string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	values := make([]any, 0, len(docs)*2)
	for _, doc := range docs {
		b, err := Encode(doc)
		if err != nil {
			return fmt.Errorf("encode %s/%d: %w", index, doc.DocumentID(), err)
		}
		values = append(values, strconv.FormatInt(doc.DocumentID(), 10), b)
	}
	return r.client.HSet(ctx, r.docsKey(index), values...).Err()
}

// Delete removes a document. A missing document is not an error.
func (r *Redis) Delete(ctx context.Context, index string, id int64) error {
	return r.client.HDel(ctx, r.docsKey(index), strconv.FormatInt(id, 10)).Err()
}

func (r *Redis) DeleteMany(ctx context.Context, index string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	fields := make([]string, len(ids))
	for i, id := range ids {
		fields[i] = strconv.FormatInt(id, 10)
	}
	return r.client.HDel(ctx, r.docsKey(index), fields...).Err()
}

// IDs lists the indexed document ids in ascending order.
func (r *Redis) IDs(ctx context.Context, index string) ([]int64, error) {
	keys, err := r.client.HKeys(ctx, r.docsKey(index)).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(keys))
	for _, k := range keys {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("index %s: bad document id %q", index, k)
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *Redis) IndexExists(ctx context.Context, index string) (bool, error) {
	n, err := r.client.Exists(ctx, r.metaKey(index)).Result()
	return n == 1, err
}

// CreateIndexIfNotExist reports whether this call created the index.
func (r *Redis) CreateIndexIfNotExist(ctx context.Context, index string) (bool, error) {
	return r.client.HSetNX(ctx, r.metaKey(index), "created", r.now().UTC().Format(time.RFC3339Nano)).Result()
}

// Raw returns the stored bytes of a document.
func (r *Redis) Raw(ctx context.Context, index string, id int64) ([]byte, bool, error) {
	b, err := r.client.HGet(ctx, r.docsKey(index), strconv.FormatInt(id, 10)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (r *Redis) all(ctx context.Context, index string) ([]string, error) {
	m, err := r.client.HGetAll(ctx, r.docsKey(index)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out, nil
}
