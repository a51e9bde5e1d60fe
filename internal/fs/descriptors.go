package fs

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/gitindexfs/gitindexfs/internal/metrics"
	"github.com/gitindexfs/gitindexfs/pkg/types"
)

// ObjectStore loads blob content from the repository.
type ObjectStore interface {
	// Fetch returns the full content of the object.
	Fetch(ctx context.Context, id types.ObjectID) ([]byte, error)

	// Size returns the raw length of the object without loading it.
	Size(ctx context.Context, id types.ObjectID) (int64, error)
}

// handleTable maps open handles to the object they were opened against.
// Not safe for concurrent use; guarded by descriptorManager.mu.
type handleTable struct {
	last    types.Handle
	handles map[types.Handle]types.ObjectID
}

func newHandleTable() *handleTable {
	return &handleTable{handles: make(map[types.Handle]types.ObjectID)}
}

// allocate returns a fresh handle bound to id. Handle 0 is never issued.
func (t *handleTable) allocate(id types.ObjectID) types.Handle {
	t.last++
	t.handles[t.last] = id
	return t.last
}

func (t *handleTable) lookup(h types.Handle) (types.ObjectID, bool) {
	id, ok := t.handles[h]
	return id, ok
}

func (t *handleTable) remove(h types.Handle) (types.ObjectID, bool) {
	id, ok := t.handles[h]
	if ok {
		delete(t.handles, h)
	}
	return id, ok
}

func (t *handleTable) len() int {
	return len(t.handles)
}

// cacheEntry is the loaded content of one object and the number of open
// handles referencing it.
type cacheEntry struct {
	data []byte
	refs int
}

// contentCache holds object content while at least one handle is open on
// it. Not safe for concurrent use; guarded by descriptorManager.mu.
type contentCache struct {
	entries map[types.ObjectID]*cacheEntry
	bytes   int64
}

func newContentCache() *contentCache {
	return &contentCache{entries: make(map[types.ObjectID]*cacheEntry)}
}

func (c *contentCache) get(id types.ObjectID) (*cacheEntry, bool) {
	e, ok := c.entries[id]
	return e, ok
}

// insert installs data for id unless an entry already exists, in which
// case the existing entry wins.
func (c *contentCache) insert(id types.ObjectID, data []byte) *cacheEntry {
	if e, ok := c.entries[id]; ok {
		return e
	}
	e := &cacheEntry{data: data}
	c.entries[id] = e
	c.bytes += int64(len(data))
	return e
}

// unref drops one reference and evicts the entry when none remain.
func (c *contentCache) unref(id types.ObjectID) (evicted bool) {
	e, ok := c.entries[id]
	if !ok {
		return false
	}
	e.refs--
	if e.refs > 0 {
		return false
	}
	delete(c.entries, id)
	c.bytes -= int64(len(e.data))
	return true
}

func (c *contentCache) len() int {
	return len(c.entries)
}

// descriptorManager owns the handle table and the content cache. Both are
// mutated under mu so that a handle never exists without its content.
type descriptorManager struct {
	store ObjectStore

	mu      sync.RWMutex
	handles *handleTable
	cache   *contentCache

	loads singleflight.Group
}

func newDescriptorManager(store ObjectStore) *descriptorManager {
	return &descriptorManager{
		store:   store,
		handles: newHandleTable(),
		cache:   newContentCache(),
	}
}

// open allocates a handle for id, loading the object into the cache if no
// other handle holds it. A failed load leaves no state behind.
func (m *descriptorManager) open(ctx context.Context, id types.ObjectID) (types.Handle, error) {
	missed := false
	for {
		m.mu.Lock()
		if e, ok := m.cache.get(id); ok {
			e.refs++
			h := m.handles.allocate(id)
			m.publishLocked()
			m.mu.Unlock()

			if missed {
				metrics.RecordCacheMiss()
			} else {
				metrics.RecordCacheHit()
			}
			return h, nil
		}
		m.mu.Unlock()

		missed = true
		if err := m.load(ctx, id); err != nil {
			return 0, err
		}
		// The entry may have been evicted again before we re-took the lock
		// if every other handle on it was released meanwhile; retry.
	}
}

// load fetches id and installs it in the cache. Concurrent loads of the same
// object share one fetch. The entry is installed before the shared call
// returns, so a caller arriving after it completes finds the entry instead of
// fetching again.
func (m *descriptorManager) load(ctx context.Context, id types.ObjectID) error {
	_, err, _ := m.loads.Do(id.String(), func() (interface{}, error) {
		m.mu.RLock()
		_, ok := m.cache.get(id)
		m.mu.RUnlock()
		if ok {
			return nil, nil
		}

		// The fetch is shared by every waiting opener, so one caller's
		// interrupt must not cancel it for the others.
		data, err := m.store.Fetch(context.WithoutCancel(ctx), id)
		metrics.RecordFetch(len(data), err)
		if err != nil {
			return nil, &types.BackingStoreError{ObjectID: id, Err: err}
		}

		m.mu.Lock()
		m.cache.insert(id, data)
		m.publishLocked()
		m.mu.Unlock()
		return nil, nil
	})
	return err
}

// read returns up to size bytes at off from the content behind h.
func (m *descriptorManager) read(h types.Handle, size int, off int64) ([]byte, error) {
	if size < 0 || off < 0 {
		return nil, types.ErrInvalidArgument
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.handles.lookup(h)
	if !ok {
		return nil, types.ErrInvalidHandle
	}
	e, ok := m.cache.get(id)
	if !ok {
		return nil, types.ErrInvalidHandle
	}

	n := int64(len(e.data))
	if off >= n {
		return []byte{}, nil
	}
	end := off + int64(size)
	if end > n {
		end = n
	}
	return e.data[off:end], nil
}

// release drops h and evicts its content when it was the last handle.
func (m *descriptorManager) release(h types.Handle) (id types.ObjectID, evicted bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.handles.remove(h)
	if !ok {
		return id, false, types.ErrInvalidHandle
	}
	evicted = m.cache.unref(id)
	m.publishLocked()
	return id, evicted, nil
}

// cached returns the cached content of id, if any handle holds it.
func (m *descriptorManager) cached(id types.ObjectID) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.cache.get(id)
	if !ok {
		return nil, false
	}
	return e.data, true
}

// stats returns the number of open handles and cached objects.
func (m *descriptorManager) stats() (handles, objects int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handles.len(), m.cache.len()
}

func (m *descriptorManager) publishLocked() {
	metrics.SetOpenHandles(m.handles.len())
	metrics.SetCacheSize(m.cache.len(), m.cache.bytes)
}
