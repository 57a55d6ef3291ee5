package task

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/suPer8Hu/sportlens/internal/auth"
	"github.com/suPer8Hu/sportlens/internal/logger"
	"golang.org/x/sync/errgroup"
)

const DefaultPollInterval = 30 * time.Second

// Event reports a status change picked up by the poller.
type Event struct {
	TaskID string    `json:"task_id"`
	UserID string    `json:"user_id"`
	Prev   Status    `json:"prev_status"`
	Status Status    `json:"status"`
	At     time.Time `json:"at"`
}

type EventPublisher interface {
	PublishTaskEvent(ctx context.Context, e Event) error
}

// Poller watches active cached tasks until none are left.
type Poller struct {
	cache    *Cache
	backend  Backend
	sessions auth.Source
	events   EventPublisher
	interval time.Duration
	log      *logger.Logger
	now      func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewPoller(cache *Cache, backend Backend, sessions auth.Source, events EventPublisher, interval time.Duration, log *logger.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		cache:    cache,
		backend:  backend,
		sessions: sessions,
		events:   events,
		interval: interval,
		log:      log.With("service", "TaskPoller"),
		now:      time.Now,
	}
}

// Start begins polling unless a loop is already running. The first check
// runs immediately. The loop ends on its own once no cached task is active.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.running = true
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx, p.done)
}

// Stop ends the loop and waits for it to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer func() {
		p.mu.Lock()
		if p.cancel != nil {
			p.cancel()
		}
		p.running = false
		p.cancel = nil
		p.mu.Unlock()
		close(done)
	}()

	if !p.tick(ctx) {
		return
	}
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if !p.tick(ctx) {
				return
			}
		}
	}
}

// tick runs one cycle and reports whether polling should continue.
func (p *Poller) tick(ctx context.Context) bool {
	if _, err := p.Check(ctx); err != nil {
		if errors.Is(err, auth.ErrNoSession) {
			p.log.Info("no session, polling stopped")
			return false
		}
		if ctx.Err() != nil {
			return false
		}
		p.log.Warn("poll cycle abandoned", "error", err)
	}
	active := len(p.cache.Active())
	if active == 0 {
		p.log.Debug("no active tasks, polling stopped")
	}
	return active > 0
}

// Check asks the backend for the status of every active task and stores
// the ones that changed. An unauthorized answer triggers one session
// refresh and drops the whole cycle, leaving every record untouched.
func (p *Poller) Check(ctx context.Context) (int, error) {
	active := p.cache.Active()
	if len(active) == 0 {
		return 0, nil
	}
	sess, err := p.sessions.Active(ctx)
	if err != nil {
		return 0, err
	}

	fresh := make([]*Task, len(active))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, t := range active {
		g.Go(func() error {
			got, err := p.backend.Status(gctx, sess.AccessToken, t.ID)
			if errors.Is(err, ErrUnauthorized) {
				return err
			}
			if err != nil {
				p.log.Warn("status check failed", "task_id", t.ID, "error", err)
				return nil
			}
			fresh[i] = got
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, ErrUnauthorized) {
			if _, rerr := p.sessions.Refresh(ctx); rerr != nil {
				p.log.Warn("session refresh after unauthorized poll failed", "error", rerr)
			}
		}
		return 0, err
	}

	var changed []Task
	for i, t := range active {
		got := fresh[i]
		if got == nil || got.Status == t.Status {
			continue
		}
		changed = append(changed, *got)
	}
	if err := p.cache.ReplaceAll(changed); err != nil {
		return 0, err
	}

	for _, t := range changed {
		prev := active[indexOf(active, t.ID)].Status
		p.log.Info("task status changed", "task_id", t.ID, "from", prev, "to", t.Status)
		if p.events == nil {
			continue
		}
		e := Event{TaskID: t.ID, UserID: sess.UserID, Prev: prev, Status: t.Status, At: p.now()}
		if err := p.events.PublishTaskEvent(ctx, e); err != nil {
			p.log.Warn("publish task event failed", "task_id", t.ID, "error", err)
		}
	}
	return len(changed), nil
}

func indexOf(ts []Task, id string) int {
	for i := range ts {
		if ts[i].ID == id {
			return i
		}
	}
	return -1
}
