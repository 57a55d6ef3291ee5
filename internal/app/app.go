package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/suPer8Hu/sportlens/internal/ai"
	"github.com/suPer8Hu/sportlens/internal/auth"
	"github.com/suPer8Hu/sportlens/internal/chat"
	"github.com/suPer8Hu/sportlens/internal/config"
	"github.com/suPer8Hu/sportlens/internal/db"
	"github.com/suPer8Hu/sportlens/internal/localstore"
	"github.com/suPer8Hu/sportlens/internal/logger"
	"github.com/suPer8Hu/sportlens/internal/media"
	"github.com/suPer8Hu/sportlens/internal/store/rabbitmq"
	"github.com/suPer8Hu/sportlens/internal/store/redisstore"
	"github.com/suPer8Hu/sportlens/internal/task"
	"gorm.io/gorm"
)

// App owns one profile's local cache and everything that reads or syncs it.
type App struct {
	Cfg      config.Config
	Log      *logger.Logger
	DB       *gorm.DB
	Store    *localstore.Store
	Sessions *auth.Manager

	Chats   *chat.Service
	Replies *chat.Responder // nil when no AI provider is configured
	titler  chat.Titler

	TaskAPI   *task.Client
	Guests    *task.GuestStore
	TaskCache *task.Cache
	Poller    *task.Poller
	Signer    task.Signer
	signCache *media.Cached

	// Publisher is nil when no broker is configured or reachable.
	Publisher *rabbitmq.Publisher

	bgCtx   context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closers []func() error
}

type Options struct {
	// Queue enables the RabbitMQ publisher.
	Queue bool
}

func New(ctx context.Context, cfg config.Config, log *logger.Logger, opts Options) (*App, error) {
	a := &App{Cfg: cfg, Log: log}
	a.bgCtx, a.cancel = context.WithCancel(context.Background())

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("init db: %w", err)
	}
	if err := chat.AutoMigrate(gdb); err != nil {
		return nil, fmt.Errorf("automigrate: %w", err)
	}
	a.DB = gdb
	if sqlDB, err := gdb.DB(); err == nil {
		a.closers = append(a.closers, sqlDB.Close)
	}

	medium, err := a.openMedium()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = localstore.New(medium, cfg.StoreNamespace, localstore.Limits{
		MaxRecords:  cfg.MaxRecords,
		MaxBytes:    cfg.MaxBytes,
		RecordBytes: cfg.RecordBytes,
	}, log)

	var refresher auth.Refresher
	if strings.TrimSpace(cfg.AuthRefreshURL) != "" {
		refresher = auth.NewHTTPRefresher(cfg.AuthRefreshURL, cfg.JWTSecret)
	}
	a.Sessions = auth.NewManager(refresher, log)

	a.titler = chat.HeuristicTitler{}
	var provider ai.Provider
	if cfg.AIProvider != "" {
		provider, err = ai.NewRegistryFromConfig(cfg).Get(ctx, cfg.AIProvider, "")
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init ai provider: %w", err)
		}
		a.titler = chat.AITitler{Provider: provider}
	}
	a.Chats = a.newChatService(a.Sessions)
	if provider != nil {
		a.Replies = chat.NewResponder(a.Chats, provider, cfg.ChatContextWindowSize, log)
	}

	a.TaskAPI = task.NewClient(cfg.TaskAPIBaseURL)
	a.Guests = task.NewGuestStore(a.Store)
	a.TaskCache = task.NewCache(a.Store)

	var signer task.Signer = media.BackendSigner{Client: a.TaskAPI, Sessions: a.Sessions}
	if cfg.GCSBucket != "" {
		gcs, err := media.NewGCSSigner(ctx, cfg.GCSBucket, cfg.SignedURLExpiry)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, gcs.Close)
		signer = gcs
	}
	a.signCache = media.NewCached(signer, cfg.SignedURLExpiry)
	a.Signer = a.signCache

	var events task.EventPublisher
	if opts.Queue && cfg.RabbitURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue, cfg.RabbitEventQueue)
		if err != nil {
			log.Warn("rabbitmq unavailable, syncing inline", "error", err)
		} else {
			a.Publisher = pub
			a.closers = append(a.closers, pub.Close)
			events = pub
		}
	}
	a.Poller = task.NewPoller(a.TaskCache, a.TaskAPI, a.Sessions, events, cfg.PollInterval, log)

	a.Sessions.OnChange(a.onSessionChange)
	return a, nil
}

func (a *App) openMedium() (localstore.Medium, error) {
	switch a.Cfg.StoreMedium {
	case "", "memory":
		return localstore.NewMemoryMedium(a.Cfg.StoreQuota), nil
	case "redis":
		m, err := redisstore.New(redisstore.Options{
			Addr:          a.Cfg.RedisAddr,
			Password:      a.Cfg.RedisPassword,
			DB:            a.Cfg.RedisDB,
			MaxValueBytes: a.Cfg.StoreQuota,
		})
		if err != nil {
			return nil, fmt.Errorf("init redis medium: %w", err)
		}
		a.closers = append(a.closers, m.Close)
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported STORE_MEDIUM=%q", a.Cfg.StoreMedium)
	}
}

// newChatService builds a sync engine over the shared local cache for the
// given session source.
func (a *App) newChatService(sessions auth.Source) *chat.Service {
	repo := chat.NewRepo(a.DB, sessions, a.Log)
	return chat.NewService(chat.NewLocalChats(a.Store), repo, sessions, a.titler, a.Log)
}

// MigrateLegacyIDs rewrites timestamp chat ids once per profile.
func (a *App) MigrateLegacyIDs() (chat.MigrationReport, error) {
	return chat.MigrateLegacyIDs(a.Store, uuid.NewString, a.Log)
}

func (a *App) onSessionChange(tr auth.Transition) {
	if tr.Next == nil {
		a.Poller.Stop()
		a.signCache.Forget()
		if err := a.TaskCache.Clear(); err != nil {
			a.Log.Warn("clear task cache on sign-out failed", "error", err)
		}
		return
	}
	if !tr.SignedIn() {
		return
	}
	sess := *tr.Next
	a.signCache.Forget()
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.afterSignIn(a.bgCtx, &sess)
	}()
}

// afterSignIn hands the chat reconciliation to the worker when a queue is
// available and runs it inline otherwise. Task state is always refreshed
// here since the local API serves it directly.
func (a *App) afterSignIn(ctx context.Context, sess *auth.Session) {
	queued := false
	if a.Publisher != nil {
		err := a.Publisher.PublishSyncRequest(ctx, rabbitmq.SyncRequest{
			UserID:       sess.UserID,
			AccessToken:  sess.AccessToken,
			RefreshToken: sess.RefreshToken,
			Reason:       "sign_in",
		})
		if err != nil {
			a.Log.Warn("enqueue sync failed, syncing inline", "user_id", sess.UserID, "error", err)
		} else {
			queued = true
		}
	}
	if !queued {
		if err := a.SyncAll(ctx, a.Chats, a.Sessions); err != nil {
			a.Log.Warn("sign-in sync incomplete", "user_id", sess.UserID, "error", err)
		}
	}

	if _, err := a.TaskCache.Refresh(ctx, a.TaskAPI, a.Sessions); err != nil {
		a.Log.Warn("task list refresh failed", "user_id", sess.UserID, "error", err)
		return
	}
	a.Poller.Start(a.bgCtx)
}

// StartPolling resumes status polling for the signed-in user's active tasks.
func (a *App) StartPolling() { a.Poller.Start(a.bgCtx) }

// Tasks returns the combined task view: the signed-in user's cached tasks,
// this profile's guest tasks and the samples with freshly signed URLs.
func (a *App) Tasks(ctx context.Context) []task.Task {
	var owned []task.Task
	if _, ok := a.Sessions.Current(); ok {
		owned = a.TaskCache.List()
	}
	samples := task.RefreshSampleURLs(ctx, a.Signer, task.Samples(), a.Log)
	return task.Combine(owned, a.Guests.List(), samples)
}

// SyncAll migrates guest tasks and reconciles chats for sessions' user.
func (a *App) SyncAll(ctx context.Context, chats *chat.Service, sessions auth.Source) error {
	var errs []error
	if _, err := task.MigrateGuestTasks(ctx, a.Guests, a.TaskAPI, sessions, a.Log); err != nil {
		errs = append(errs, err)
	}
	if _, out := chats.SyncFromRemote(ctx); out.Kind == chat.OutcomeFailed {
		errs = append(errs, out.Err)
	}
	return errors.Join(errs...)
}

// SyncFor runs a full sync for a session that arrived from the queue,
// independent of whoever is signed in locally.
func (a *App) SyncFor(ctx context.Context, sess *auth.Session) error {
	var refresher auth.Refresher
	if strings.TrimSpace(a.Cfg.AuthRefreshURL) != "" {
		refresher = auth.NewHTTPRefresher(a.Cfg.AuthRefreshURL, a.Cfg.JWTSecret)
	}
	sessions := auth.NewManager(refresher, a.Log)
	sessions.SignIn(sess)
	return a.SyncAll(ctx, a.newChatService(sessions), sessions)
}

// Close stops background work and releases connections.
func (a *App) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.Poller != nil {
		a.Poller.Stop()
	}
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		a.Log.Warn("background sync still running at shutdown")
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Log.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}
