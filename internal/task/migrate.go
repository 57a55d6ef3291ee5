package task

import (
	"context"
	"fmt"

	"github.com/suPer8Hu/sportlens/internal/auth"
	"github.com/suPer8Hu/sportlens/internal/localstore"
	"github.com/suPer8Hu/sportlens/internal/logger"
)

// Backend is the part of the task API the background components use.
type Backend interface {
	List(ctx context.Context, token string) ([]Task, error)
	Status(ctx context.Context, token, id string) (*Task, error)
	BatchCreate(ctx context.Context, token string, tasks []Task) (int, error)
}

// MigrateGuestTasks copies every guest task to the signed-in account in a
// single batch request. Guest tasks are removed locally only after that
// request succeeds; on any failure they stay for the next attempt.
func MigrateGuestTasks(ctx context.Context, guests *GuestStore, backend Backend, sessions auth.Source, log *logger.Logger) (int, error) {
	pending := guests.List()
	if len(pending) == 0 {
		return 0, nil
	}
	sess, err := sessions.Active(ctx)
	if err != nil {
		return 0, err
	}

	created, err := backend.BatchCreate(ctx, sess.AccessToken, pending)
	if err != nil {
		log.Warn("guest task migration failed, keeping guest tasks", "count", len(pending), "error", err)
		return 0, fmt.Errorf("migrate guest tasks: %w", err)
	}

	migrated := make(map[string]struct{}, len(pending))
	for _, t := range pending {
		migrated[t.ID] = struct{}{}
	}
	// tasks created while the batch was in flight are not part of it
	err = guests.store.Atomically(func() error {
		left := make([]Task, 0)
		for _, t := range guests.load() {
			if _, ok := migrated[t.ID]; !ok {
				left = append(left, t)
			}
		}
		if len(left) == 0 {
			return guests.store.Remove(localstore.KeyGuestTasks, localstore.Notify)
		}
		return guests.save(left)
	})
	if err != nil {
		return created, err
	}
	log.Info("guest tasks migrated", "user_id", sess.UserID, "sent", len(pending), "created", created)
	return created, nil
}
