// Package indexing projects write-model entities into search documents.
package indexing

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"rfq-sync/search"
)

const rebuildChunk = 100

// BuildFunc loads an entity with its relations and projects it. found is
// false when the entity no longer exists.
type BuildFunc func(ctx context.Context, id int64) (doc search.Document, found bool, err error)

// ListFunc enumerates every id currently in the write model.
type ListFunc func(ctx context.Context) ([]int64, error)

// Pipeline indexes one entity kind. All operations are idempotent; failures
// are returned so that message redelivery can retry them.
type Pipeline struct {
	index  string
	client search.Client
	build  BuildFunc
	list   ListFunc
	logger log.FieldLogger

	mu      sync.Mutex
	ensured bool
}

func NewPipeline(index string, client search.Client, build BuildFunc, list ListFunc, logger log.FieldLogger) *Pipeline {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Pipeline{
		index:  index,
		client: client,
		build:  build,
		list:   list,
		logger: logger.WithField("index", index),
	}
}

func (p *Pipeline) Index() string { return p.index }

// EnsureIndexExists creates the index once per process.
func (p *Pipeline) EnsureIndexExists(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ensured {
		return nil
	}
	created, err := p.client.CreateIndexIfNotExist(ctx, p.index)
	if err != nil {
		return fmt.Errorf("ensure index %s: %w", p.index, err)
	}
	if created {
		p.logger.Info("search index created")
	}
	p.ensured = true
	return nil
}

// IndexOne upserts the document for id, or deletes it when the entity is gone.
func (p *Pipeline) IndexOne(ctx context.Context, id int64) error {
	if err := p.EnsureIndexExists(ctx); err != nil {
		return err
	}
	doc, found, err := p.build(ctx, id)
	if err != nil {
		return fmt.Errorf("build %s/%d: %w", p.index, id, err)
	}
	if !found {
		p.logger.WithField("id", id).Debug("entity not found, removing document")
		return p.Delete(ctx, id)
	}
	if err := p.client.Index(ctx, p.index, doc); err != nil {
		return fmt.Errorf("index %s/%d: %w", p.index, id, err)
	}
	return nil
}

// IndexMany upserts the documents for ids in one call and deletes those
// whose entities are gone.
func (p *Pipeline) IndexMany(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := p.EnsureIndexExists(ctx); err != nil {
		return err
	}
	docs := make([]search.Document, 0, len(ids))
	var missing []int64
	for _, id := range ids {
		doc, found, err := p.build(ctx, id)
		if err != nil {
			return fmt.Errorf("build %s/%d: %w", p.index, id, err)
		}
		if !found {
			missing = append(missing, id)
			continue
		}
		docs = append(docs, doc)
	}
	if err := p.client.IndexMany(ctx, p.index, docs); err != nil {
		return fmt.Errorf("index %d %s documents: %w", len(docs), p.index, err)
	}
	if len(missing) > 0 {
		if err := p.client.DeleteMany(ctx, p.index, missing); err != nil {
			return fmt.Errorf("delete %d %s documents: %w", len(missing), p.index, err)
		}
	}
	return nil
}

// RebuildAll reindexes every entity and removes documents whose ids are no
// longer in the write model, so a stale index ends up fully replaced.
func (p *Pipeline) RebuildAll(ctx context.Context) error {
	if err := p.EnsureIndexExists(ctx); err != nil {
		return err
	}
	ids, err := p.list(ctx)
	if err != nil {
		return fmt.Errorf("list %s ids: %w", p.index, err)
	}
	live := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		live[id] = struct{}{}
	}
	for start := 0; start < len(ids); start += rebuildChunk {
		end := min(start+rebuildChunk, len(ids))
		if err := p.IndexMany(ctx, ids[start:end]); err != nil {
			return err
		}
	}

	indexed, err := p.client.IDs(ctx, p.index)
	if err != nil {
		return fmt.Errorf("list indexed %s ids: %w", p.index, err)
	}
	var stale []int64
	for _, id := range indexed {
		if _, ok := live[id]; !ok {
			stale = append(stale, id)
		}
	}
	if err := p.client.DeleteMany(ctx, p.index, stale); err != nil {
		return fmt.Errorf("delete stale %s documents: %w", p.index, err)
	}
	p.logger.WithFields(log.Fields{"indexed": len(ids), "removed": len(stale)}).Info("search index rebuilt")
	return nil
}

// Delete removes the document for id. Deleting a missing document is a no-op.
func (p *Pipeline) Delete(ctx context.Context, id int64) error {
	if err := p.client.Delete(ctx, p.index, id); err != nil {
		return fmt.Errorf("delete %s/%d: %w", p.index, id, err)
	}
	return nil
}
