package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/suPer8Hu/sportlens/internal/auth"
	"github.com/suPer8Hu/sportlens/internal/localstore"
	"github.com/suPer8Hu/sportlens/internal/logger"
)

// Remote is the remote persistence the engine mirrors chats into.
type Remote interface {
	EnsureProfile(ctx context.Context, userID string) error
	UpsertChat(ctx context.Context, c Chat, userID string) error
	UpsertMessages(ctx context.Context, chatID string, msgs []Message) error
	DeleteChat(ctx context.Context, chatID string) error
	LoadChatListMetadataOnly(ctx context.Context) ([]Chat, error)
	LoadChatWithMessages(ctx context.Context, chatID string) (Chat, error)
}

// Service answers reads from the local cache and mirrors writes to the
// remote store on a best-effort basis. A remote failure never undoes a
// local write.
type Service struct {
	local    *LocalChats
	remote   Remote
	sessions auth.Source
	titler   Titler
	log      *logger.Logger
	now      func() time.Time

	// serializes remote writes so the remote converges on the latest local state
	remoteMu sync.Mutex
}

func NewService(local *LocalChats, remote Remote, sessions auth.Source, titler Titler, log *logger.Logger) *Service {
	if titler == nil {
		titler = HeuristicTitler{}
	}
	return &Service{
		local:    local,
		remote:   remote,
		sessions: sessions,
		titler:   titler,
		log:      log.With("service", "ChatSync"),
		now:      time.Now,
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Patch is a partial update. Nil fields are left alone; an empty Title
// hands the title back to the heuristic.
type Patch struct {
	Title    *string
	Messages *[]Message
	Settings *Settings
}

func (s *Service) ListChats() []Chat {
	return s.local.LoadAll()
}

func (s *Service) GetChat(id string) (Chat, bool) {
	return s.local.Get(id)
}

func (s *Service) CurrentChatID() string {
	return s.local.CurrentID()
}

func (s *Service) SetCurrentChat(id string) error {
	if id != "" {
		if _, ok := s.local.Get(id); !ok {
			return ErrChatNotFound
		}
	}
	return s.local.SetCurrentID(id)
}

func (s *Service) authenticated() (*auth.Session, bool) {
	if s.sessions == nil {
		return nil, false
	}
	return s.sessions.Current()
}

// CreateChat starts an empty local chat and makes it current. Empty chats
// never reach the remote store.
func (s *Service) CreateChat(ctx context.Context, settings Settings) (Chat, Outcome, error) {
	now := s.now()
	c := Chat{
		ID:         uuid.NewString(),
		Title:      PlaceholderTitle,
		TitleAuto:  true,
		CreatedAt:  now,
		UpdatedAt:  now,
		Messages:   []Message{},
		Settings:   settings.Normalize(),
		SyncStatus: SyncLocalOnly,
	}
	if err := s.local.Upsert(c, localstore.Notify); err != nil {
		return Chat{}, Outcome{}, err
	}
	if err := s.local.SetCurrentID(c.ID); err != nil {
		return Chat{}, Outcome{}, err
	}
	s.log.Debug("chat created", "chat_id", c.ID)
	return c, s.pushRemote(ctx, c.ID, false), nil
}

// SaveChat writes c locally, then mirrors it remotely. The returned error is
// only ever a local failure; remote results are in the Outcome.
func (s *Service) SaveChat(ctx context.Context, c Chat) (Chat, Outcome, error) {
	var next Chat
	err := s.local.store.Atomically(func() error {
		all := s.local.loadAll()
		var prev *Chat
		for i := range all {
			if all[i].ID == c.ID && c.ID != "" {
				p := all[i]
				prev = &p
				break
			}
		}
		next = s.prepare(prev, c)
		return s.local.saveAll(upsertInto(all, next), localstore.Notify)
	})
	if err != nil {
		s.log.Error("local save failed", "chat_id", next.ID, "error", err)
		return Chat{}, Outcome{}, err
	}
	return next, s.pushRemote(ctx, next.ID, anyStreaming(c.Messages)), nil
}

// prepare derives the record to store from the caller's copy and the
// stored one. Creation time and sync state always come from the stored
// record; UpdatedAt and auto titles only move when content changed.
func (s *Service) prepare(prev *Chat, in Chat) Chat {
	now := s.now()
	next := in.Clone()
	if next.ID == "" {
		next.ID = uuid.NewString()
	}
	if next.Messages == nil {
		next.Messages = []Message{}
	}
	renumber(next.Messages, now)
	next.Settings = next.Settings.Normalize()
	next.Title = strings.TrimSpace(next.Title)

	if prev == nil {
		if next.CreatedAt.IsZero() {
			next.CreatedAt = now
		}
		next.UpdatedAt = now
		if next.Title == "" || next.Title == PlaceholderTitle {
			next.TitleAuto = true
		}
		if next.TitleAuto {
			next.Title = HeuristicTitle(next.Messages)
		}
		next.SyncStatus = SyncLocalOnly
		next.Partial = false
		next.Dirty = true
		return next
	}

	next.CreatedAt = prev.CreatedAt
	next.SyncStatus = prev.SyncStatus
	next.Partial = prev.Partial
	next.Dirty = prev.Dirty

	if next.Title == "" || next.Title == prev.Title {
		next.Title = prev.Title
		next.TitleAuto = prev.TitleAuto
	} else {
		next.TitleAuto = false
	}

	if contentChanged(prev.Messages, next.Messages) {
		next.UpdatedAt = now
		if next.TitleAuto {
			next.Title = HeuristicTitle(next.Messages)
		}
	} else {
		next.UpdatedAt = prev.UpdatedAt
	}

	if metadataChanged(*prev, next) || persistedChanged(prev.Messages, next.Messages) {
		next.Dirty = true
	}
	return next
}

// UpdateChat applies p to the stored chat and mirrors the result.
func (s *Service) UpdateChat(ctx context.Context, id string, p Patch) (Chat, Outcome, error) {
	var next Chat
	err := s.local.store.Atomically(func() error {
		all := s.local.loadAll()
		idx := indexOf(all, id)
		if idx < 0 {
			return ErrChatNotFound
		}
		cur := all[idx]
		next = cur.Clone()

		if p.Settings != nil {
			next.Settings = p.Settings.Normalize()
		}
		if p.Messages != nil {
			msgs := cloneMessages(*p.Messages)
			renumber(msgs, s.now())
			next.Messages = msgs
			if contentChanged(cur.Messages, msgs) {
				next.UpdatedAt = s.now()
				if next.TitleAuto {
					next.Title = HeuristicTitle(msgs)
				}
			}
		}
		if p.Title != nil {
			if t := strings.TrimSpace(*p.Title); t == "" {
				next.TitleAuto = true
				next.Title = HeuristicTitle(next.Messages)
			} else {
				next.Title = t
				next.TitleAuto = false
			}
		}

		if metadataChanged(cur, next) || persistedChanged(cur.Messages, next.Messages) {
			next.Dirty = true
		}
		all[idx] = next
		return s.local.saveAll(all, localstore.Notify)
	})
	if err != nil {
		return Chat{}, Outcome{}, err
	}
	return next, s.pushRemote(ctx, id, p.Messages != nil && anyStreaming(*p.Messages)), nil
}

// DeleteChat removes the chat locally, clears the current pointer if it
// named the chat, and deletes the remote copy. A remote delete that cannot
// run now is remembered and retried on the next sync.
func (s *Service) DeleteChat(ctx context.Context, id string) (Outcome, error) {
	var prev Chat
	found := false
	err := s.local.store.Atomically(func() error {
		all := s.local.loadAll()
		idx := indexOf(all, id)
		if idx < 0 {
			return nil
		}
		prev, found = all[idx], true
		if err := s.local.saveAll(removeFrom(all, id), localstore.Notify); err != nil {
			return err
		}
		if s.local.CurrentID() == id {
			return s.local.store.Remove(localstore.KeyCurrentChat, localstore.Notify)
		}
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	if !found {
		return outcomeSkipped("not found"), nil
	}
	if prev.SyncStatus == SyncLocalOnly {
		return outcomeSkipped("local only"), nil
	}
	if _, ok := s.authenticated(); !ok {
		s.tombstone(id)
		return outcomeSkipped("not authenticated"), nil
	}

	s.remoteMu.Lock()
	defer s.remoteMu.Unlock()
	if err := s.remote.DeleteChat(ctx, id); err != nil {
		s.log.Warn("remote delete failed, will retry on sync", "chat_id", id, "error", err)
		s.tombstone(id)
		return outcomeFailed(err), nil
	}
	return outcomeOK(), nil
}

func (s *Service) tombstone(id string) {
	if err := s.local.addTombstone(id); err != nil {
		s.log.Error("failed to record pending remote delete", "chat_id", id, "error", err)
	}
}

// OpenChat returns the local chat, first fetching its message bodies when
// they only exist remotely.
func (s *Service) OpenChat(ctx context.Context, id string) (Chat, error) {
	c, ok := s.local.Get(id)
	if !ok {
		return Chat{}, ErrChatNotFound
	}
	if !needsBodies(c) {
		return c, nil
	}
	if _, ok := s.authenticated(); !ok {
		return c, nil
	}

	remote, err := s.remote.LoadChatWithMessages(ctx, id)
	if err != nil {
		s.log.Warn("could not load remote messages", "chat_id", id, "error", err)
		return c, nil
	}

	var out Chat
	err = s.local.update(func(all []Chat) []Chat {
		idx := indexOf(all, id)
		if idx < 0 {
			return all
		}
		cur := &all[idx]
		merged, extra := mergeMessages(remote.Messages, cur.Messages, s.now())
		cur.Messages = merged
		cur.Partial = false
		if extra {
			cur.Dirty = true
		}
		out = cur.Clone()
		return all
	}, localstore.Notify)
	if err != nil {
		return c, err
	}
	if out.ID == "" {
		return Chat{}, ErrChatNotFound
	}
	return out, nil
}

func needsBodies(c Chat) bool {
	return c.Partial || (len(c.Messages) == 0 && c.SyncStatus == SyncSynced)
}

// RefineTitle replaces an automatic title with one from the configured
// Titler. The refined title is kept from then on.
func (s *Service) RefineTitle(ctx context.Context, id string) (Chat, Outcome, error) {
	c, ok := s.local.Get(id)
	if !ok {
		return Chat{}, Outcome{}, ErrChatNotFound
	}
	if !c.TitleAuto {
		return c, outcomeSkipped("title set manually"), nil
	}
	if len(c.Messages) == 0 {
		return c, outcomeSkipped("no messages"), nil
	}

	title, err := s.titler.Title(ctx, c.Messages)
	if err != nil {
		s.log.Warn("title generation failed, using fallback", "chat_id", id, "error", err)
	}
	title = strings.TrimSpace(title)
	if title == "" || title == c.Title {
		return c, outcomeSkipped("unchanged"), nil
	}

	var next Chat
	err = s.local.update(func(all []Chat) []Chat {
		idx := indexOf(all, id)
		if idx < 0 || !all[idx].TitleAuto {
			return all
		}
		all[idx].Title = title
		all[idx].TitleAuto = false
		all[idx].Dirty = true
		next = all[idx].Clone()
		return all
	}, localstore.Notify)
	if err != nil {
		return Chat{}, Outcome{}, err
	}
	if next.ID == "" {
		c, _ = s.local.Get(id)
		return c, outcomeSkipped("title changed concurrently"), nil
	}
	return next, s.pushRemote(ctx, id, false), nil
}

// SyncFromRemote merges the remote chat list into the local cache and
// returns the merged collection. The remote list is fetched before the
// local one is read so chats created during the round trip are kept.
func (s *Service) SyncFromRemote(ctx context.Context) ([]Chat, Outcome) {
	if _, ok := s.authenticated(); !ok {
		return s.local.LoadAll(), outcomeSkipped("not authenticated")
	}

	remote, err := s.remote.LoadChatListMetadataOnly(ctx)
	if err != nil {
		s.log.Warn("remote chat list unavailable", "error", err)
		return s.local.LoadAll(), outcomeFailed(err)
	}

	var tombs []string
	err = s.local.store.Atomically(func() error {
		tombs = s.local.tombstones()
		merged := mergeChats(s.local.loadAll(), remote, tombs)
		return s.local.saveAll(merged, localstore.Notify)
	})
	if err != nil {
		s.log.Error("failed to store merged chats", "error", err)
		return s.local.LoadAll(), outcomeFailed(err)
	}

	s.retryTombstones(ctx, tombs)
	for _, c := range s.local.LoadAll() {
		switch {
		case c.SyncStatus == SyncPendingDelete:
			s.pushRemote(ctx, c.ID, false)
		case c.SyncStatus == SyncSynced && c.Dirty && len(c.Messages) > 0:
			s.pushRemote(ctx, c.ID, false)
		}
	}

	out := s.local.LoadAll()
	s.log.Info("chats synced", "remote", len(remote), "local", len(out))
	return out, outcomeOK()
}

func (s *Service) retryTombstones(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	s.remoteMu.Lock()
	var done []string
	for _, id := range ids {
		if err := s.remote.DeleteChat(ctx, id); err != nil {
			s.log.Warn("pending remote delete failed again", "chat_id", id, "error", err)
			continue
		}
		done = append(done, id)
	}
	s.remoteMu.Unlock()

	if len(done) == 0 {
		return
	}
	err := s.local.store.Atomically(func() error {
		var keep []string
		for _, id := range s.local.tombstones() {
			if !contains(done, id) {
				keep = append(keep, id)
			}
		}
		return s.local.setTombstones(keep)
	})
	if err != nil {
		s.log.Error("failed to clear pending remote deletes", "error", err)
	}
}

// mergeChats combines the remote metadata list with local records. Remote
// metadata wins for chats on both sides but local message bodies are kept;
// local-only chats are never dropped.
func mergeChats(local, remote []Chat, tombs []string) []Chat {
	byID := make(map[string]Chat, len(local))
	for _, c := range local {
		byID[c.ID] = c
	}

	out := make([]Chat, 0, len(local)+len(remote))
	seen := make(map[string]bool, len(remote))
	for _, r := range remote {
		if contains(tombs, r.ID) || seen[r.ID] {
			continue
		}
		seen[r.ID] = true

		l, ok := byID[r.ID]
		if !ok {
			r.Messages = []Message{}
			r.TitleAuto = false
			r.SyncStatus = SyncSynced
			r.Partial = true
			r.Dirty = false
			out = append(out, r)
			continue
		}

		m := l.Clone()
		m.TitleAuto = l.TitleAuto && l.Title == r.Title
		m.Title = r.Title
		m.CreatedAt = r.CreatedAt
		m.UpdatedAt = r.UpdatedAt
		m.Settings = r.Settings
		if l.SyncStatus != SyncPendingDelete {
			m.SyncStatus = SyncSynced
		}
		out = append(out, m)
	}

	for _, l := range local {
		if seen[l.ID] {
			continue
		}
		if l.SyncStatus != SyncLocalOnly {
			// the remote copy is gone; whatever remains here is local truth
			l.SyncStatus = SyncLocalOnly
			l.Partial = false
		}
		out = append(out, l)
	}
	sortNewestFirst(out)
	return out
}

// mergeMessages appends local messages missing from remote to the remote
// list. extra reports whether any were appended.
func mergeMessages(remote, local []Message, now time.Time) ([]Message, bool) {
	out := cloneMessages(remote)
	have := make(map[string]bool, len(out))
	for _, m := range out {
		have[m.ID] = true
	}
	extra := false
	for _, m := range local {
		if have[m.ID] {
			continue
		}
		out = append(out, m)
		extra = true
	}
	renumber(out, now)
	return out, extra
}

// pushRemote mirrors the current local state of chat id. Remote writes are
// serialized and always read the latest local record. streaming reports
// whether the caller's copy still had a reply in flight; the cache does not
// keep that flag.
func (s *Service) pushRemote(ctx context.Context, id string, streaming bool) Outcome {
	s.remoteMu.Lock()
	defer s.remoteMu.Unlock()

	c, ok := s.local.Get(id)
	if !ok {
		return outcomeSkipped("deleted locally")
	}

	if len(c.Messages) == 0 {
		switch {
		case c.Partial && c.SyncStatus == SyncSynced:
			return s.pushMetadata(ctx, c)
		case c.SyncStatus != SyncLocalOnly:
			return s.retireRemote(ctx, c)
		default:
			return outcomeSkipped("no messages")
		}
	}

	if streaming {
		return outcomeSkipped("message streaming")
	}
	sess, ok := s.authenticated()
	if !ok {
		return outcomeSkipped("not authenticated")
	}
	if c.SyncStatus == SyncSynced && !c.Dirty && !c.Partial {
		return outcomeSkipped("unchanged")
	}

	pushed := c.Clone()
	if c.Partial {
		remote, err := s.remote.LoadChatWithMessages(ctx, c.ID)
		switch {
		case err == nil:
			pushed.Messages, _ = mergeMessages(remote.Messages, c.Messages, s.now())
		case errors.Is(err, ErrChatNotFound):
		default:
			s.log.Warn("could not load remote messages before upsert", "chat_id", c.ID, "error", err)
			return outcomeFailed(err)
		}
	}

	if err := s.upsertRemote(ctx, sess.UserID, pushed); err != nil {
		s.log.Warn("remote upsert failed", "chat_id", c.ID, "error", err)
		return outcomeFailed(err)
	}
	s.markSynced(c, pushed.Messages)
	return outcomeOK()
}

func (s *Service) upsertRemote(ctx context.Context, userID string, c Chat) error {
	err := s.remote.UpsertChat(ctx, c, userID)
	if errors.Is(err, ErrProfileMissing) {
		s.log.Info("owner profile missing, provisioning", "user_id", userID)
		if perr := s.remote.EnsureProfile(ctx, userID); perr != nil {
			return perr
		}
		err = s.remote.UpsertChat(ctx, c, userID)
	}
	if err != nil {
		return err
	}
	return s.remote.UpsertMessages(ctx, c.ID, c.Messages)
}

// pushMetadata updates the remote row of a chat whose bodies have not been
// fetched locally.
func (s *Service) pushMetadata(ctx context.Context, c Chat) Outcome {
	if !c.Dirty {
		return outcomeSkipped("unchanged")
	}
	sess, ok := s.authenticated()
	if !ok {
		return outcomeSkipped("not authenticated")
	}
	if err := s.remote.UpsertChat(ctx, c, sess.UserID); err != nil {
		s.log.Warn("remote metadata update failed", "chat_id", c.ID, "error", err)
		return outcomeFailed(err)
	}
	s.markSynced(c, c.Messages)
	return outcomeOK()
}

// retireRemote deletes the remote copy of a chat that has become empty.
func (s *Service) retireRemote(ctx context.Context, c Chat) Outcome {
	s.setStatus(c.ID, SyncPendingDelete)
	if _, ok := s.authenticated(); !ok {
		return outcomeSkipped("not authenticated")
	}
	if err := s.remote.DeleteChat(ctx, c.ID); err != nil {
		s.log.Warn("remote delete of empty chat failed", "chat_id", c.ID, "error", err)
		return outcomeFailed(err)
	}
	s.setStatus(c.ID, SyncLocalOnly)
	return outcomeOK()
}

// markSynced records a successful push of pushed, whose remote message set
// is msgs. Dirty is cleared only if the record was not edited while the
// push was in flight.
func (s *Service) markSynced(pushed Chat, msgs []Message) {
	err := s.local.store.Atomically(func() error {
		all := s.local.loadAll()
		idx := indexOf(all, pushed.ID)
		if idx < 0 {
			return nil
		}
		cur := &all[idx]
		if len(cur.Messages) == 0 && !cur.Partial {
			return nil
		}
		cur.SyncStatus = SyncSynced
		mode := localstore.Silent
		if !metadataChanged(*cur, pushed) && !persistedChanged(cur.Messages, pushed.Messages) {
			if pushed.Partial && len(msgs) > 0 {
				cur.Messages = cloneMessages(msgs)
				cur.Partial = false
				mode = localstore.Notify
			}
			cur.Dirty = false
		}
		return s.local.saveAll(all, mode)
	})
	if err != nil {
		s.log.Error("failed to record sync status", "chat_id", pushed.ID, "error", err)
	}
}

func (s *Service) setStatus(id string, status SyncStatus) {
	err := s.local.update(func(all []Chat) []Chat {
		idx := indexOf(all, id)
		if idx < 0 {
			return all
		}
		if status == SyncLocalOnly && len(all[idx].Messages) > 0 {
			return all
		}
		all[idx].SyncStatus = status
		if status == SyncLocalOnly {
			all[idx].Dirty = false
		}
		return all
	}, localstore.Silent)
	if err != nil {
		s.log.Error("failed to record sync status", "chat_id", id, "error", err)
	}
}

func renumber(msgs []Message, now time.Time) {
	for i := range msgs {
		msgs[i].Sequence = i
		if msgs[i].CreatedAt.IsZero() {
			msgs[i].CreatedAt = now
		}
	}
}

func indexOf(all []Chat, id string) int {
	for i := range all {
		if all[i].ID == id {
			return i
		}
	}
	return -1
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
