package localstore

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/suPer8Hu/sportlens/internal/logger"
)

// ErrStorageCleared means a collection could not be written even after
// trimming and was removed so the medium is left empty rather than stale.
var ErrStorageCleared = errors.New("localstore: collection cleared after quota failures")

// Logical keys. Every key is stored under "<namespace>:<key>".
const (
	KeyChats           = "chats"
	KeyLegacyMessages  = "messages"
	KeyCurrentChat     = "current_chat_id"
	KeyGuestTasks      = "guest_tasks"
	KeyTasks           = "tasks"
	KeyDevMode         = "dev_mode"
	KeyIDMigrationDone = "chat_id_migration_v1"
	KeyChatTombstones  = "chat_tombstones"
)

// SettingsKey returns the key holding per-feature settings.
func SettingsKey(feature string) string {
	return "settings:" + feature
}

type NotifyMode int

const (
	// Notify publishes a Change to subscribers after the write.
	Notify NotifyMode = iota
	// Silent skips publishing; used for programmatic writes that would
	// otherwise feed back into the subscriber that caused them.
	Silent
)

type Change struct {
	Key string
}

// Limits bound what a record collection may occupy.
type Limits struct {
	MaxRecords  int // FIFO record-count ceiling
	MaxBytes    int // byte budget for one collection
	RecordBytes int // fixed per-record cost used to derive a count from MaxBytes
}

func DefaultLimits() Limits {
	return Limits{MaxRecords: 100, MaxBytes: 4608 * 1024, RecordBytes: 48 * 1024}
}

// Cap returns the tighter of the record-count and byte-derived ceilings;
// 0 means unbounded.
func (l Limits) Cap() int {
	c := l.MaxRecords
	if l.MaxBytes > 0 && l.RecordBytes > 0 {
		byBytes := l.MaxBytes / l.RecordBytes
		if c <= 0 || byBytes < c {
			c = byBytes
		}
	}
	return c
}

type Store struct {
	medium    Medium
	namespace string
	limits    Limits
	log       *logger.Logger

	txMu sync.Mutex

	pendMu    sync.Mutex
	deferring bool
	pending   []Change

	subMu  sync.RWMutex
	subs   map[int]func(Change)
	nextID int
}

func New(medium Medium, namespace string, limits Limits, log *logger.Logger) *Store {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = "sportlens"
	}
	return &Store{
		medium:    medium,
		namespace: namespace,
		limits:    limits,
		log:       log.With("service", "LocalStore", "namespace", namespace),
		subs:      make(map[int]func(Change)),
	}
}

func (s *Store) Limits() Limits { return s.limits }

func (s *Store) key(k string) string {
	return s.namespace + ":" + k
}

// Atomically runs fn while holding the store's read-modify-write lock.
// Notifications raised inside fn are delivered after the lock is released,
// so subscribers may read or write the store. fn must not call Atomically.
func (s *Store) Atomically(fn func() error) error {
	s.txMu.Lock()
	s.pendMu.Lock()
	s.deferring = true
	s.pendMu.Unlock()

	err := fn()

	s.pendMu.Lock()
	pending := s.pending
	s.pending = nil
	s.deferring = false
	s.pendMu.Unlock()
	s.txMu.Unlock()

	for _, c := range pending {
		s.deliver(c)
	}
	return err
}

// Subscribe registers fn for change notifications. The returned func
// removes the subscription.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) publish(key string, mode NotifyMode) {
	if mode == Silent {
		return
	}
	s.pendMu.Lock()
	if s.deferring {
		s.pending = append(s.pending, Change{Key: key})
		s.pendMu.Unlock()
		return
	}
	s.pendMu.Unlock()
	s.deliver(Change{Key: key})
}

func (s *Store) deliver(c Change) {
	s.subMu.RLock()
	fns := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.RUnlock()

	for _, fn := range fns {
		fn(c)
	}
}

// GetString returns a plain string value (pointer or flag).
func (s *Store) GetString(key string) (string, bool) {
	v, ok, err := s.medium.Get(s.key(key))
	if err != nil {
		s.log.Error("local read failed", "key", key, "error", err)
		return "", false
	}
	return v, ok
}

func (s *Store) SetString(key, value string, mode NotifyMode) error {
	if err := s.medium.Set(s.key(key), value); err != nil {
		s.log.Error("local write failed", "key", key, "error", err)
		return err
	}
	s.publish(key, mode)
	return nil
}

func (s *Store) Remove(key string, mode NotifyMode) error {
	if err := s.medium.Remove(s.key(key)); err != nil {
		s.log.Error("local remove failed", "key", key, "error", err)
		return err
	}
	s.publish(key, mode)
	return nil
}

// GetJSON decodes key into v. A missing key reports false with no error.
func (s *Store) GetJSON(key string, v any) (bool, error) {
	raw, ok := s.GetString(key)
	if !ok || raw == "" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) SetJSON(key string, v any, mode NotifyMode) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.SetString(key, string(b), mode)
}

// Keys lists the logical keys present in this namespace.
func (s *Store) Keys() ([]string, error) {
	prefix := s.namespace + ":"
	raw, err := s.medium.Keys(prefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(raw))
	for _, k := range raw {
		out = append(out, strings.TrimPrefix(k, prefix))
	}
	return out, nil
}

// LoadAll decodes the collection stored at key. It never fails: a missing
// key or an unreadable payload yields an empty collection.
func LoadAll[T any](s *Store, key string) []T {
	raw, ok := s.GetString(key)
	if !ok || raw == "" {
		return []T{}
	}
	var out []T
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		s.log.Error("local collection unreadable, treating as empty", "key", key, "bytes", len(raw), "error", err)
		return []T{}
	}
	if out == nil {
		out = []T{}
	}
	return out
}

// SaveAll writes records (already ordered newest first) to key, trimming
// the oldest records when the medium runs out of room. It returns how many
// records were persisted.
func SaveAll[T any](s *Store, key string, records []T, mode NotifyMode) (int, error) {
	keep := len(records)
	if c := s.limits.Cap(); c > 0 && keep > c {
		s.log.Debug("trimming collection to ceiling", "key", key, "records", keep, "ceiling", c)
		keep = c
	}

	payload, err := json.Marshal(records[:keep])
	if err != nil {
		return 0, err
	}
	err = s.medium.Set(s.key(key), string(payload))
	if err == nil {
		s.publish(key, mode)
		return keep, nil
	}
	if !errors.Is(err, ErrQuotaExceeded) {
		s.log.Error("local write failed", "key", key, "error", err)
		return 0, err
	}

	// size-estimate trim: fit the newest records into half the byte budget
	n := 0
	if keep > 0 {
		avg := len(payload) / keep
		if avg < 1 {
			avg = 1
		}
		budget := s.limits.MaxBytes / 2
		if budget <= 0 {
			budget = len(payload) / 2
		}
		n = budget / avg
		if n >= keep {
			n = keep - 1
		}
		s.log.Warn("quota exceeded, retrying with fewer records", "key", key, "from", keep, "to", n)
		if ok := trySave(s, key, records[:n], mode); ok {
			return n, nil
		}
	}

	if half := s.limits.MaxRecords / 2; half < n {
		s.log.Warn("quota exceeded, retrying at half the record ceiling", "key", key, "from", n, "to", half)
		if ok := trySave(s, key, records[:half], mode); ok {
			return half, nil
		}
	}

	s.log.Error("quota exceeded after trimming, clearing collection", "key", key)
	if err := s.medium.Remove(s.key(key)); err != nil {
		s.log.Error("failed to clear collection", "key", key, "error", err)
	}
	s.publish(key, mode)
	return 0, ErrStorageCleared
}

func trySave[T any](s *Store, key string, records []T, mode NotifyMode) bool {
	payload, err := json.Marshal(records)
	if err != nil {
		return false
	}
	if err := s.medium.Set(s.key(key), string(payload)); err != nil {
		return false
	}
	s.publish(key, mode)
	return true
}
