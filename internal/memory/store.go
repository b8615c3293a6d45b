// Package memory implements the shared swarm memory store: a namespaced,
// versioned key-value store with lazy TTL expiry, tombstoned deletes, and
// optional write-through persistence and replication.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned by Get when a key is absent, tombstoned, or expired.
var ErrNotFound = errors.New("memory: not found")

// Entry is a single versioned record. Versions are monotonic per
// (namespace, key); deletes write a tombstone at a higher version instead of
// removing the record, so a stale write can never resurrect an older value.
type Entry struct {
	// Namespace groups related keys, typically per objective.
	Namespace string `json:"namespace"`
	// Key identifies the record within its namespace.
	Key string `json:"key"`
	// Value is the stored payload. Empty for tombstones.
	Value []byte `json:"value,omitempty"`
	// Version increases by one on every write to the key, deletes included.
	Version uint64 `json:"version"`
	// Owner is the agent that produced the write, when known.
	Owner string `json:"owner,omitempty"`
	// Tombstone marks a deleted record.
	Tombstone bool `json:"tombstone,omitempty"`
	// UpdatedAt is when the write was applied.
	UpdatedAt time.Time `json:"updated_at"`
	// ExpiresAt is the TTL deadline; zero means no expiry.
	ExpiresAt time.Time `json:"expires_at"`
}

func (e *Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Journal persists every applied write and restores the store on open.
type Journal interface {
	Load() ([]Entry, error)
	Apply(Entry) error
	Close() error
}

// Replica receives applied writes asynchronously. Implementations must keep
// the highest version per key and ignore lower-versioned writes.
type Replica interface {
	Apply(ctx context.Context, e Entry) error
	Close() error
}

// Stats summarizes store contents at a point in time.
type Stats struct {
	// Namespaces is the number of namespaces holding any record.
	Namespaces int `json:"namespaces"`
	// Entries is the number of live (non-tombstoned, non-expired) records.
	Entries int `json:"entries"`
	// Tombstones is the number of deleted records still holding a version.
	Tombstones int `json:"tombstones"`
	// Bytes is the total size of live values.
	Bytes int64 `json:"bytes"`
}

// Options configures a Store. All fields are optional.
type Options struct {
	// Journal enables write-through persistence, replayed on open.
	Journal Journal
	// Replica receives asynchronous copies of every write.
	Replica Replica
	// Sealer encrypts values in the journal, replica, and snapshots.
	Sealer *Sealer
}

const opQueueSize = 256

type op struct {
	entry Entry
	flush chan struct{} // non-nil marks a flush barrier
}

// Store is the in-process swarm memory. Reads may observe stale data but
// per-key versions never decrease; records are never physically removed
// during a run, so the version floor survives expiry and deletion.
type Store struct {
	mu      sync.RWMutex
	entries map[string]map[string]*Entry // namespace -> key -> entry

	journal Journal
	replica Replica
	sealer  *Sealer

	opsMu  sync.RWMutex // guards ops send against close
	ops    chan op
	closed bool
	done   chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// NewStore creates a Store, replaying the journal when one is configured.
func NewStore(opts Options) (*Store, error) {
	s := &Store{
		entries: make(map[string]map[string]*Entry),
		journal: opts.Journal,
		replica: opts.Replica,
		sealer:  opts.Sealer,
		done:    make(chan struct{}),
	}

	if s.journal != nil {
		loaded, err := s.journal.Load()
		if err != nil {
			return nil, fmt.Errorf("memory: load journal: %w", err)
		}
		for _, e := range loaded {
			if s.sealer != nil && len(e.Value) > 0 {
				plain, err := s.sealer.Open(e.Value)
				if err != nil {
					return nil, fmt.Errorf("memory: unseal %s/%s: %w", e.Namespace, e.Key, err)
				}
				e.Value = plain
			}
			s.setIfNewer(e)
		}
	}

	if s.journal != nil || s.replica != nil {
		s.ops = make(chan op, opQueueSize)
		go s.applyLoop()
	} else {
		close(s.done)
	}
	return s, nil
}

// Put stores value under (namespace, key) with an optional TTL and returns
// the new version. A ttl of zero means no expiry.
func (s *Store) Put(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) (uint64, error) {
	return s.PutOwned(ctx, namespace, key, value, ttl, "")
}

// PutOwned is Put with the writing agent recorded on the entry.
func (s *Store) PutOwned(ctx context.Context, namespace, key string, value []byte, ttl time.Duration, owner string) (uint64, error) {
	if namespace == "" || key == "" {
		return 0, errors.New("memory: namespace and key are required")
	}

	now := time.Now()
	e := Entry{
		Namespace: namespace,
		Key:       key,
		Value:     append([]byte(nil), value...),
		Owner:     owner,
		UpdatedAt: now,
	}
	if ttl > 0 {
		e.ExpiresAt = now.Add(ttl)
	}

	s.mu.Lock()
	e.Version = s.nextVersionLocked(namespace, key)
	s.setLocked(e)
	s.mu.Unlock()

	s.enqueue(ctx, e)
	return e.Version, nil
}

// Get returns the value and version for (namespace, key). Tombstoned and
// expired entries report ErrNotFound; expiry is evaluated lazily at read
// time, there is no background sweep.
func (s *Store) Get(ctx context.Context, namespace, key string) ([]byte, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.lookupLocked(namespace, key)
	if !ok || e.Tombstone || e.expired(time.Now()) {
		return nil, 0, ErrNotFound
	}
	return append([]byte(nil), e.Value...), e.Version, nil
}

// Delete writes a tombstone at the next version and returns it. Deleting an
// absent key still records a tombstone so a later stale write stays dead.
func (s *Store) Delete(ctx context.Context, namespace, key string) (uint64, error) {
	if namespace == "" || key == "" {
		return 0, errors.New("memory: namespace and key are required")
	}

	e := Entry{
		Namespace: namespace,
		Key:       key,
		Tombstone: true,
		UpdatedAt: time.Now(),
	}

	s.mu.Lock()
	e.Version = s.nextVersionLocked(namespace, key)
	s.setLocked(e)
	s.mu.Unlock()

	s.enqueue(ctx, e)
	return e.Version, nil
}

// Keys lists the live keys in a namespace, sorted.
func (s *Store) Keys(ctx context.Context, namespace string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	var keys []string
	for k, e := range s.entries[namespace] {
		if e.Tombstone || e.expired(now) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Stats reports a point-in-time summary of the store.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	var st Stats
	for _, ns := range s.entries {
		st.Namespaces++
		for _, e := range ns {
			switch {
			case e.Tombstone:
				st.Tombstones++
			case e.expired(now):
				// expired but not yet tombstoned: counts as neither
			default:
				st.Entries++
				st.Bytes += int64(len(e.Value))
			}
		}
	}
	return st
}

// Flush blocks until every write enqueued before the call has reached the
// journal and replica, or until ctx is done.
func (s *Store) Flush(ctx context.Context) error {
	if s.ops == nil {
		return nil
	}

	tok := make(chan struct{})
	s.opsMu.RLock()
	if s.closed {
		s.opsMu.RUnlock()
		return nil
	}
	select {
	case s.ops <- op{flush: tok}:
		s.opsMu.RUnlock()
	case <-ctx.Done():
		s.opsMu.RUnlock()
		return ctx.Err()
	}

	select {
	case <-tok:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains pending writes and releases the journal and replica.
// Idempotent; the store stays readable afterwards.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		if s.ops != nil {
			s.opsMu.Lock()
			s.closed = true
			close(s.ops)
			s.opsMu.Unlock()
		}
		<-s.done

		if s.journal != nil {
			if err := s.journal.Close(); err != nil && s.closeErr == nil {
				s.closeErr = err
			}
		}
		if s.replica != nil {
			if err := s.replica.Close(); err != nil && s.closeErr == nil {
				s.closeErr = err
			}
		}
	})
	return s.closeErr
}

func (s *Store) lookupLocked(namespace, key string) (*Entry, bool) {
	ns, ok := s.entries[namespace]
	if !ok {
		return nil, false
	}
	e, ok := ns[key]
	return e, ok
}

func (s *Store) nextVersionLocked(namespace, key string) uint64 {
	if e, ok := s.lookupLocked(namespace, key); ok {
		return e.Version + 1
	}
	return 1
}

func (s *Store) setLocked(e Entry) {
	ns, ok := s.entries[e.Namespace]
	if !ok {
		ns = make(map[string]*Entry)
		s.entries[e.Namespace] = ns
	}
	ns[e.Key] = &e
}

// setIfNewer applies e only when it carries a higher version than the stored
// record. Used by journal replay and snapshot import.
func (s *Store) setIfNewer(e Entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.lookupLocked(e.Namespace, e.Key); ok && cur.Version >= e.Version {
		return false
	}
	s.setLocked(e)
	return true
}

// enqueue hands a write to the apply loop. The send blocks when the queue is
// full (backpressure) unless ctx expires first.
func (s *Store) enqueue(ctx context.Context, e Entry) {
	if s.ops == nil {
		return
	}
	s.opsMu.RLock()
	defer s.opsMu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ops <- op{entry: e}:
	case <-ctx.Done():
		log.Printf("[memory] dropped write-through of %s/%s: %v", e.Namespace, e.Key, ctx.Err())
	}
}

// applyLoop is the single consumer of the ops queue. Backend errors are
// logged, never propagated: the in-process store is authoritative.
func (s *Store) applyLoop() {
	defer close(s.done)
	for o := range s.ops {
		if o.flush != nil {
			close(o.flush)
			continue
		}

		e := o.entry
		if s.sealer != nil && len(e.Value) > 0 {
			sealed, err := s.sealer.Seal(e.Value)
			if err != nil {
				log.Printf("[memory] seal %s/%s: %v", e.Namespace, e.Key, err)
				continue
			}
			e.Value = sealed
		}
		if s.journal != nil {
			if err := s.journal.Apply(e); err != nil {
				log.Printf("[memory] journal %s/%s: %v", e.Namespace, e.Key, err)
			}
		}
		if s.replica != nil {
			if err := s.replica.Apply(context.Background(), e); err != nil {
				log.Printf("[memory] replicate %s/%s: %v", e.Namespace, e.Key, err)
			}
		}
	}
}
