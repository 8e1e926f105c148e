package kv

import (
	"context"
	"path"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory Store with the same expiry semantics as Redis.
// It exists for tests: Now is swappable so TTL behavior can be exercised
// without sleeping.
type MemStore struct {
	mu   sync.Mutex
	vals map[string]*memEntry
	Now  func() time.Time
}

type memEntry struct {
	val      string
	set      map[string]struct{}
	list     []string
	expireAt time.Time // zero = no expiry
}

func NewMemStore() *MemStore {
	return &MemStore{vals: make(map[string]*memEntry), Now: time.Now}
}

// live returns the entry for key, lazily dropping it when expired.
// Callers must hold mu.
func (m *MemStore) live(key string) *memEntry {
	e, ok := m.vals[key]
	if !ok {
		return nil
	}
	if !e.expireAt.IsZero() && !m.Now().Before(e.expireAt) {
		delete(m.vals, key)
		return nil
	}
	return e
}

func (m *MemStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil {
		return "", ErrNil
	}
	return e.val, nil
}

func (m *MemStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := &memEntry{val: value}
	if ttl > 0 {
		e.expireAt = m.Now().Add(ttl)
	}
	m.vals[key] = e
	return nil
}

func (m *MemStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live(key) != nil {
		return false, nil
	}
	e := &memEntry{val: value}
	if ttl > 0 {
		e.expireAt = m.Now().Add(ttl)
	}
	m.vals[key] = e
	return true, nil
}

func (m *MemStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.vals, k)
	}
	return nil
}

func (m *MemStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live(key) != nil, nil
}

func (m *MemStore) TTL(_ context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil {
		return 0, ErrNil
	}
	if e.expireAt.IsZero() {
		return 0, nil
	}
	return e.expireAt.Sub(m.Now()), nil
}

func (m *MemStore) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil {
		return false, nil
	}
	e.expireAt = m.Now().Add(ttl)
	return true, nil
}

func (m *MemStore) SAdd(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil {
		e = &memEntry{set: make(map[string]struct{})}
		m.vals[key] = e
	}
	if e.set == nil {
		e.set = make(map[string]struct{})
	}
	for _, mem := range members {
		e.set[mem] = struct{}{}
	}
	return nil
}

func (m *MemStore) SRem(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil || e.set == nil {
		return nil
	}
	for _, mem := range members {
		delete(e.set, mem)
	}
	if len(e.set) == 0 {
		delete(m.vals, key)
	}
	return nil
}

func (m *MemStore) SMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil || e.set == nil {
		return nil, nil
	}
	out := make([]string, 0, len(e.set))
	for mem := range e.set {
		out = append(out, mem)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemStore) LPush(_ context.Context, key string, values ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil {
		e = &memEntry{}
		m.vals[key] = e
	}
	for _, v := range values {
		e.list = append([]string{v}, e.list...)
	}
	return nil
}

func (m *MemStore) LTrim(_ context.Context, key string, start, stop int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil {
		return nil
	}
	lo, hi := clampRange(start, stop, int64(len(e.list)))
	if lo > hi {
		delete(m.vals, key)
		return nil
	}
	e.list = e.list[lo : hi+1]
	return nil
}

func (m *MemStore) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil {
		return nil, nil
	}
	lo, hi := clampRange(start, stop, int64(len(e.list)))
	if lo > hi {
		return nil, nil
	}
	out := make([]string, hi+1-lo)
	copy(out, e.list[lo:hi+1])
	return out, nil
}

func (m *MemStore) LRem(_ context.Context, key string, count int64, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil {
		return nil
	}
	removed := int64(0)
	kept := e.list[:0]
	for _, v := range e.list {
		if v == value && (count == 0 || removed < count) {
			removed++
			continue
		}
		kept = append(kept, v)
	}
	e.list = kept
	if len(e.list) == 0 && e.set == nil && e.val == "" {
		delete(m.vals, key)
	}
	return nil
}

func (m *MemStore) MGet(_ context.Context, keys ...string) ([]*string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*string, len(keys))
	for i, k := range keys {
		if e := m.live(k); e != nil {
			v := e.val
			out[i] = &v
		}
	}
	return out, nil
}

func (m *MemStore) Scan(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.vals {
		if m.live(k) == nil {
			continue
		}
		if ok, _ := path.Match(pattern, k); ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// clampRange maps Redis start/stop (inclusive, negatives from the tail)
// onto [0, n).
func clampRange(start, stop, n int64) (int64, int64) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	return start, stop
}
