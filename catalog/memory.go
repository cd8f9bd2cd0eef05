package catalog

import (
	"context"
	"fmt"
	"sync"

	"github.com/ruteri/s3-resource-publisher/interfaces"
)

// Memory is a Catalog kept in process memory.
type Memory struct {
	mu        sync.RWMutex
	resources []interfaces.Resource
}

// NewMemory returns an empty in-memory catalog.
func NewMemory() *Memory {
	return &Memory{}
}

// Add records res under its collection.
func (m *Memory) Add(ctx context.Context, res interfaces.Resource) error {
	if err := res.Digest.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources = append(m.resources, res)
	return nil
}

// Remove drops one record of res.Digest from res.Collection.
func (m *Memory) Remove(ctx context.Context, res interfaces.Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.resources {
		if r.Digest == res.Digest && r.Collection == res.Collection {
			m.resources = append(m.resources[:i], m.resources[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s in collection %q", interfaces.ErrContentNotFound, res.Digest, res.Collection)
}

// FindByCollection returns the records of collection, oldest first. An
// empty collection selects every record.
func (m *Memory) FindByCollection(ctx context.Context, collection string) ([]interfaces.Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]interfaces.Resource, 0, len(m.resources))
	for _, r := range m.resources {
		if collection == "" || r.Collection == collection {
			out = append(out, r)
		}
	}
	return out, nil
}

// FindByDigest returns the first record holding digest.
func (m *Memory) FindByDigest(ctx context.Context, digest interfaces.Digest) (*interfaces.Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.resources {
		if r.Digest == digest {
			res := r
			return &res, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", interfaces.ErrContentNotFound, digest)
}

// CountByDigest returns how many records hold digest across all collections.
func (m *Memory) CountByDigest(ctx context.Context, digest interfaces.Digest) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.resources {
		if r.Digest == digest {
			n++
		}
	}
	return n, nil
}
