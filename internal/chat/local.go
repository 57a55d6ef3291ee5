package chat

import (
	"sort"

	"github.com/suPer8Hu/sportlens/internal/localstore"
)

// LocalChats is the chat collection in the local cache store. It is the
// source of truth for reads; every method works offline.
type LocalChats struct {
	store *localstore.Store
}

func NewLocalChats(store *localstore.Store) *LocalChats {
	return &LocalChats{store: store}
}

func (l *LocalChats) Store() *localstore.Store { return l.store }

// LoadAll returns every cached chat, newest first.
func (l *LocalChats) LoadAll() []Chat {
	return l.loadAll()
}

func (l *LocalChats) Get(id string) (Chat, bool) {
	for _, c := range l.loadAll() {
		if c.ID == id {
			return c, true
		}
	}
	return Chat{}, false
}

// Upsert replaces the chat with the same id or inserts it.
func (l *LocalChats) Upsert(c Chat, mode localstore.NotifyMode) error {
	return l.update(func(all []Chat) []Chat {
		return upsertInto(all, c)
	}, mode)
}

func (l *LocalChats) Delete(id string, mode localstore.NotifyMode) error {
	return l.update(func(all []Chat) []Chat {
		return removeFrom(all, id)
	}, mode)
}

func (l *LocalChats) CurrentID() string {
	v, _ := l.store.GetString(localstore.KeyCurrentChat)
	return v
}

// SetCurrentID points the current-chat pointer at id; "" clears it.
func (l *LocalChats) SetCurrentID(id string) error {
	if id == "" {
		return l.store.Remove(localstore.KeyCurrentChat, localstore.Notify)
	}
	return l.store.SetString(localstore.KeyCurrentChat, id, localstore.Notify)
}

func (l *LocalChats) update(fn func([]Chat) []Chat, mode localstore.NotifyMode) error {
	return l.store.Atomically(func() error {
		return l.saveAll(fn(l.loadAll()), mode)
	})
}

func (l *LocalChats) loadAll() []Chat {
	stored := localstore.LoadAll[storedChat](l.store, localstore.KeyChats)
	out := make([]Chat, 0, len(stored))
	for _, s := range stored {
		if s.ID == "" {
			continue
		}
		out = append(out, decodeChat(s))
	}
	sortNewestFirst(out)
	return out
}

func (l *LocalChats) saveAll(all []Chat, mode localstore.NotifyMode) error {
	sortNewestFirst(all)
	stored := make([]storedChat, 0, len(all))
	for _, c := range all {
		stored = append(stored, encodeChat(c))
	}
	_, err := localstore.SaveAll(l.store, localstore.KeyChats, stored, mode)
	return err
}

func (l *LocalChats) tombstones() []string {
	return localstore.LoadAll[string](l.store, localstore.KeyChatTombstones)
}

func (l *LocalChats) setTombstones(ids []string) error {
	if len(ids) == 0 {
		return l.store.Remove(localstore.KeyChatTombstones, localstore.Silent)
	}
	_, err := localstore.SaveAll(l.store, localstore.KeyChatTombstones, ids, localstore.Silent)
	return err
}

func (l *LocalChats) addTombstone(id string) error {
	return l.store.Atomically(func() error {
		ids := l.tombstones()
		for _, t := range ids {
			if t == id {
				return nil
			}
		}
		return l.setTombstones(append([]string{id}, ids...))
	})
}

func upsertInto(all []Chat, c Chat) []Chat {
	for i := range all {
		if all[i].ID == c.ID {
			all[i] = c
			return all
		}
	}
	return append(all, c)
}

func removeFrom(all []Chat, id string) []Chat {
	out := all[:0]
	for _, c := range all {
		if c.ID != id {
			out = append(out, c)
		}
	}
	return out
}

// sortNewestFirst orders by creation time, newest first, breaking ties by
// id so the order is stable across loads.
func sortNewestFirst(all []Chat) {
	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})
}
