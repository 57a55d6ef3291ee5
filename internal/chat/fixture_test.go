package chat

import (
	"context"
	"strings"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/sportlens/internal/auth"
	"github.com/suPer8Hu/sportlens/internal/localstore"
	"github.com/suPer8Hu/sportlens/internal/logger"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	dsn := "file:" + name + "?mode=memory&cache=shared&_pragma=foreign_keys(1)"
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

type fixture struct {
	db       *gorm.DB
	medium   *localstore.MemoryMedium
	store    *localstore.Store
	local    *LocalChats
	repo     *Repo
	sessions *auth.Manager
	svc      *Service
	clock    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithDB(t, openTestDB(t))
}

// newFixtureWithDB builds a fresh local cache over an existing remote
// database, like a second device for the same account.
func newFixtureWithDB(t *testing.T, db *gorm.DB) *fixture {
	t.Helper()
	log := logger.Nop()
	f := &fixture{
		db:       db,
		medium:   localstore.NewMemoryMedium(0),
		sessions: auth.NewManager(nil, log),
		clock:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.store = localstore.New(f.medium, "test", localstore.DefaultLimits(), log)
	f.local = NewLocalChats(f.store)
	f.repo = NewRepo(db, f.sessions, log)
	f.svc = NewService(f.local, f.repo, f.sessions, nil, log)
	f.svc.SetClock(func() time.Time { return f.clock })
	return f
}

func (f *fixture) advance(d time.Duration) { f.clock = f.clock.Add(d) }

func sessionFor(userID string) *auth.Session {
	return &auth.Session{UserID: userID, AccessToken: "token-" + userID}
}

func (f *fixture) signIn(t *testing.T, userID string) {
	t.Helper()
	f.sessions.SignIn(sessionFor(userID))
	require.NoError(t, f.repo.EnsureProfile(context.Background(), userID))
}

func (f *fixture) remoteChat(t *testing.T, id string) (chatRow, bool) {
	t.Helper()
	var rows []chatRow
	require.NoError(t, f.db.Where("id = ?", id).Find(&rows).Error)
	if len(rows) == 0 {
		return chatRow{}, false
	}
	return rows[0], true
}

func (f *fixture) remoteMessages(t *testing.T, chatID string) []messageRow {
	t.Helper()
	var rows []messageRow
	require.NoError(t, f.db.Where("chat_id = ?", chatID).Order("sequence ASC").Find(&rows).Error)
	return rows
}

func userMsg(id, text string) Message {
	return Message{ID: id, Role: RoleUser, Content: text}
}

func assistantMsg(id, text string) Message {
	return Message{ID: id, Role: RoleAssistant, Content: text}
}
