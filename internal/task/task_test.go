package task

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/sportlens/internal/auth"
	"github.com/suPer8Hu/sportlens/internal/localstore"
	"github.com/suPer8Hu/sportlens/internal/logger"
)

var t0 = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func newStore() *localstore.Store {
	return localstore.New(localstore.NewMemoryMedium(0), "test", localstore.DefaultLimits(), logger.Nop())
}

func eta(v float64) *float64 { return &v }

// fakeBackend records calls and answers from canned state.
type fakeBackend struct {
	mu       sync.Mutex
	statuses map[string]Status
	statusFn func(id string) error
	batchErr error
	batches  [][]Task
	list     []Task
	tokens   []string
}

func (b *fakeBackend) List(_ context.Context, token string) ([]Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = append(b.tokens, token)
	return append([]Task(nil), b.list...), nil
}

func (b *fakeBackend) Status(_ context.Context, token, id string) (*Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = append(b.tokens, token)
	if b.statusFn != nil {
		if err := b.statusFn(id); err != nil {
			return nil, err
		}
	}
	st, ok := b.statuses[id]
	if !ok {
		return nil, errors.New("unknown task")
	}
	return &Task{ID: id, Provenance: ProvenanceAuthenticated, Status: st, CreatedAt: t0}, nil
}

func (b *fakeBackend) BatchCreate(_ context.Context, token string, tasks []Task) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = append(b.tokens, token)
	b.batches = append(b.batches, tasks)
	if b.batchErr != nil {
		return 0, b.batchErr
	}
	return len(tasks), nil
}

type stubRefresher struct {
	calls int
}

func (r *stubRefresher) Refresh(context.Context, string) (*auth.Session, error) {
	r.calls++
	return &auth.Session{UserID: "u1", AccessToken: "fresh", RefreshToken: "r2"}, nil
}

func signedIn(r auth.Refresher) *auth.Manager {
	m := auth.NewManager(r, logger.Nop())
	m.SignIn(&auth.Session{UserID: "u1", AccessToken: "tok", RefreshToken: "r1"})
	return m
}

func TestRemaining_NegativeEstimateIsTimeLeft(t *testing.T) {
	task := Task{Status: StatusProcessing, CreatedAt: t0, EstimatedComputeTime: eta(-45)}
	rem, ok := task.Remaining(t0.Add(10 * time.Second))
	require.True(t, ok)
	assert.Equal(t, 45*time.Second, rem)
	assert.False(t, task.Overdue(t0.Add(10*time.Second)))
}

func TestRemaining_PositiveEstimateIsTotal(t *testing.T) {
	task := Task{Status: StatusPending, CreatedAt: t0, EstimatedComputeTime: eta(120)}

	rem, ok := task.Remaining(t0.Add(30 * time.Second))
	require.True(t, ok)
	assert.Equal(t, 90*time.Second, rem)

	rem, ok = task.Remaining(t0.Add(130 * time.Second))
	require.True(t, ok)
	assert.Equal(t, -10*time.Second, rem)
	assert.True(t, task.Overdue(t0.Add(130*time.Second)))
}

func TestRemaining_TerminalOrUnknown(t *testing.T) {
	_, ok := Task{Status: StatusCompleted, EstimatedComputeTime: eta(10)}.Remaining(t0)
	assert.False(t, ok)
	_, ok = Task{Status: StatusProcessing}.Remaining(t0)
	assert.False(t, ok)
}

func TestNormalize_DerivesProvenanceOnce(t *testing.T) {
	assert.Equal(t, ProvenanceGuest, Task{ID: "guest-01hx"}.Normalize().Provenance)
	assert.Equal(t, ProvenanceSample, Task{ID: "sample-tennis"}.Normalize().Provenance)
	assert.Equal(t, ProvenanceAuthenticated, Task{ID: "8f1c"}.Normalize().Provenance)

	// an explicit provenance wins over the id
	assert.Equal(t, ProvenanceAuthenticated, Task{ID: "guest-x", Provenance: ProvenanceAuthenticated}.Normalize().Provenance)
	assert.Equal(t, StatusPending, Task{ID: "x", Status: "weird"}.Normalize().Status)
}

func TestNewGuestTask(t *testing.T) {
	g, err := NewGuestTask(NewTask{Sport: " tennis "}, t0)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(g.ID, GuestPrefix))
	assert.Equal(t, ProvenanceGuest, g.Provenance)
	assert.Equal(t, "tennis", g.Sport)
	assert.Equal(t, "analysis", g.Type)
	assert.Equal(t, StatusPending, g.Status)
}
