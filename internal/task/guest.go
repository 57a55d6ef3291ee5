package task

import (
	"time"

	"github.com/suPer8Hu/sportlens/internal/localstore"
)

// GuestStore keeps signed-out users' tasks in the local cache. It never
// talks to the backend.
type GuestStore struct {
	store *localstore.Store
	now   func() time.Time
}

func NewGuestStore(store *localstore.Store) *GuestStore {
	return &GuestStore{store: store, now: time.Now}
}

func (g *GuestStore) SetClock(now func() time.Time) { g.now = now }

// List returns guest tasks, newest first.
func (g *GuestStore) List() []Task {
	return g.load()
}

func (g *GuestStore) Get(id string) (Task, bool) {
	for _, t := range g.load() {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

func (g *GuestStore) Create(in NewTask) (Task, error) {
	t, err := NewGuestTask(in, g.now())
	if err != nil {
		return Task{}, err
	}
	err = g.store.Atomically(func() error {
		return g.save(append([]Task{t}, g.load()...))
	})
	if err != nil {
		return Task{}, err
	}
	return t, nil
}

// Update replaces the stored task with the same id. Identity, provenance
// and creation time cannot change.
func (g *GuestStore) Update(t Task) (Task, error) {
	var out Task
	err := g.store.Atomically(func() error {
		all := g.load()
		for i := range all {
			if all[i].ID != t.ID {
				continue
			}
			t.Provenance = ProvenanceGuest
			t.CreatedAt = all[i].CreatedAt
			t.UpdatedAt = g.now()
			if !t.Status.Active() && all[i].Status.Active() && t.CompletedAt == nil {
				done := t.UpdatedAt
				t.CompletedAt = &done
			}
			all[i] = t.Normalize()
			out = all[i]
			return g.save(all)
		}
		return ErrNotFound
	})
	return out, err
}

func (g *GuestStore) Delete(id string) error {
	return g.store.Atomically(func() error {
		all := g.load()
		for i := range all {
			if all[i].ID == id {
				return g.save(append(all[:i], all[i+1:]...))
			}
		}
		return ErrNotFound
	})
}

func (g *GuestStore) Clear() error {
	return g.store.Remove(localstore.KeyGuestTasks, localstore.Notify)
}

func (g *GuestStore) load() []Task {
	all := localstore.LoadAll[Task](g.store, localstore.KeyGuestTasks)
	for i := range all {
		all[i] = all[i].Normalize()
		all[i].Provenance = ProvenanceGuest
	}
	SortNewestFirst(all)
	return all
}

func (g *GuestStore) save(all []Task) error {
	_, err := localstore.SaveAll(g.store, localstore.KeyGuestTasks, all, localstore.Notify)
	return err
}
