package localstore

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

// ErrQuotaExceeded is returned by a Medium when a write does not fit.
// Store treats it as recoverable.
var ErrQuotaExceeded = errors.New("localstore: quota exceeded")

// Medium is the raw key/value storage underneath a Store. Implementations
// must be safe for concurrent use and must not block for long: reads and
// writes to the local cache are on the critical path of every UI read.
type Medium interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Remove(key string) error
	Keys(prefix string) ([]string, error)
}

// MemoryMedium is a goroutine-safe in-memory Medium. A positive quota
// rejects any single value longer than quota bytes.
type MemoryMedium struct {
	mu     sync.RWMutex
	values map[string]string
	quota  int
}

func NewMemoryMedium(quota int) *MemoryMedium {
	return &MemoryMedium{values: make(map[string]string), quota: quota}
}

func (m *MemoryMedium) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryMedium) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.quota > 0 && len(value) > m.quota {
		return ErrQuotaExceeded
	}
	m.values[key] = value
	return nil
}

func (m *MemoryMedium) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *MemoryMedium) Keys(prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.values))
	for k := range m.values {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

// SetQuota changes the per-value quota.
func (m *MemoryMedium) SetQuota(quota int) {
	m.mu.Lock()
	m.quota = quota
	m.mu.Unlock()
}
