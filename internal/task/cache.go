package task

import (
	"context"

	"github.com/suPer8Hu/sportlens/internal/auth"
	"github.com/suPer8Hu/sportlens/internal/localstore"
)

// Cache is the local copy of the signed-in user's tasks.
type Cache struct {
	store *localstore.Store
}

func NewCache(store *localstore.Store) *Cache {
	return &Cache{store: store}
}

func (c *Cache) List() []Task {
	all := localstore.LoadAll[Task](c.store, localstore.KeyTasks)
	for i := range all {
		all[i] = all[i].Normalize()
	}
	SortNewestFirst(all)
	return all
}

func (c *Cache) Get(id string) (Task, bool) {
	for _, t := range c.List() {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

// Active returns the tasks a poller still has to watch.
func (c *Cache) Active() []Task {
	var out []Task
	for _, t := range c.List() {
		if t.Status.Active() {
			out = append(out, t)
		}
	}
	return out
}

// Put inserts t or replaces the record with the same id.
func (c *Cache) Put(t Task) error {
	return c.store.Atomically(func() error {
		all := c.List()
		for i := range all {
			if all[i].ID == t.ID {
				all[i] = t
				return c.save(all)
			}
		}
		return c.save(append([]Task{t}, all...))
	})
}

// ReplaceAll swaps the records named in updates. Records no longer cached
// are ignored.
func (c *Cache) ReplaceAll(updates []Task) error {
	if len(updates) == 0 {
		return nil
	}
	byID := make(map[string]Task, len(updates))
	for _, t := range updates {
		byID[t.ID] = t
	}
	return c.store.Atomically(func() error {
		all := c.List()
		for i := range all {
			if t, ok := byID[all[i].ID]; ok {
				all[i] = t
			}
		}
		return c.save(all)
	})
}

func (c *Cache) Remove(id string) error {
	return c.store.Atomically(func() error {
		all := c.List()
		for i := range all {
			if all[i].ID == id {
				return c.save(append(all[:i], all[i+1:]...))
			}
		}
		return nil
	})
}

func (c *Cache) Clear() error {
	return c.store.Remove(localstore.KeyTasks, localstore.Notify)
}

// Refresh replaces the cache with the backend's list.
func (c *Cache) Refresh(ctx context.Context, backend Backend, sessions auth.Source) ([]Task, error) {
	sess, err := sessions.Active(ctx)
	if err != nil {
		return nil, err
	}
	tasks, err := backend.List(ctx, sess.AccessToken)
	if err != nil {
		return nil, err
	}
	SortNewestFirst(tasks)
	if err := c.store.Atomically(func() error { return c.save(tasks) }); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (c *Cache) save(all []Task) error {
	_, err := localstore.SaveAll(c.store, localstore.KeyTasks, all, localstore.Notify)
	return err
}
