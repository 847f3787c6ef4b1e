package db

import (
	"context"

	"github.com/google/uuid"

	"github.com/atomdb/atomdb/atomdb"
)

// Entry is one key/value pair produced by a collection scan.
type Entry struct {
	Key   atomdb.Value
	Value atomdb.Value
}

// QueryPlan is the execution contract over a collection. Optimize may
// return a cheaper equivalent plan; Execute streams entries to yield until
// exhaustion or yield returns false.
type QueryPlan interface {
	Optimize(ctx context.Context) (QueryPlan, error)
	Execute(ctx context.Context, yield func(Entry) (bool, error)) error
}

// Collection is implemented by the persistent collection atoms.
type Collection interface {
	// Count returns the number of entries.
	Count(ctx context.Context) (int, error)

	// AsQueryPlan returns a scan plan over the collection.
	AsQueryPlan() QueryPlan
}

// dictionaryScan is the base plan for a Dictionary: a full ordered scan.
type dictionaryScan struct {
	source *Dictionary
}

func (p *dictionaryScan) Optimize(ctx context.Context) (QueryPlan, error) { return p, nil }

func (p *dictionaryScan) Execute(ctx context.Context, yield func(Entry) (bool, error)) error {
	return p.source.Each(ctx, func(key string, value atomdb.Value) (bool, error) {
		return yield(Entry{Key: key, Value: value})
	})
}

// hashDictionaryScan is the base plan for a HashDictionary: an unordered
// full scan.
type hashDictionaryScan struct {
	source *HashDictionary
}

func (p *hashDictionaryScan) Optimize(ctx context.Context) (QueryPlan, error) { return p, nil }

func (p *hashDictionaryScan) Execute(ctx context.Context, yield func(Entry) (bool, error)) error {
	return p.source.Each(ctx, func(key uuid.UUID, value atomdb.Value) (bool, error) {
		return yield(Entry{Key: key.String(), Value: value})
	})
}

// Count implements Collection.
func (d *Dictionary) Count(ctx context.Context) (int, error) { return d.Len(ctx) }

// AsQueryPlan implements Collection.
func (d *Dictionary) AsQueryPlan() QueryPlan { return &dictionaryScan{source: d} }

// Count implements Collection.
func (h *HashDictionary) Count(ctx context.Context) (int, error) { return h.Len(ctx) }

// AsQueryPlan implements Collection.
func (h *HashDictionary) AsQueryPlan() QueryPlan { return &hashDictionaryScan{source: h} }
