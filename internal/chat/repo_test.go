package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func sampleChat(id string, created time.Time) Chat {
	return Chat{
		ID:        id,
		Title:     "Serve mechanics",
		CreatedAt: created,
		UpdatedAt: created,
		Settings:  DefaultSettings(),
	}
}

func TestRepo_RequiresSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.repo.UpsertChat(ctx, sampleChat("c1", f.clock), "u1")
	require.ErrorIs(t, err, ErrNoSession)

	_, err = f.repo.LoadChatListMetadataOnly(ctx)
	require.ErrorIs(t, err, ErrNoSession)
}

func TestRepo_UpsertChatRejectsOtherUser(t *testing.T) {
	f := newFixture(t)
	f.signIn(t, "u1")

	err := f.repo.UpsertChat(context.Background(), sampleChat("c1", f.clock), "u2")
	require.ErrorIs(t, err, ErrUserMismatch)

	_, found := f.remoteChat(t, "c1")
	require.False(t, found)
}

func TestRepo_OwnershipConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signIn(t, "u1")
	require.NoError(t, f.repo.UpsertChat(ctx, sampleChat("shared-id", f.clock), "u1"))

	f.signIn(t, "u2")
	c := sampleChat("shared-id", f.clock)
	c.Title = "hijacked"
	err := f.repo.UpsertChat(ctx, c, "u2")
	require.ErrorIs(t, err, ErrOwnershipConflict)

	var re *RemoteError
	require.True(t, errors.As(err, &re))
	require.Equal(t, "upsert_chat", re.Op)

	row, found := f.remoteChat(t, "shared-id")
	require.True(t, found)
	require.Equal(t, "u1", row.UserID)
	require.Equal(t, "Serve mechanics", row.Title)

	err = f.repo.UpsertMessages(ctx, "shared-id", []Message{userMsg("m1", "hi")})
	require.ErrorIs(t, err, ErrOwnershipConflict)
}

func TestRepo_MissingProfileIsReported(t *testing.T) {
	f := newFixture(t)
	f.sessions.SignIn(sessionFor("fresh-user"))

	err := f.repo.UpsertChat(context.Background(), sampleChat("c1", f.clock), "fresh-user")
	require.ErrorIs(t, err, ErrProfileMissing)

	require.NoError(t, f.repo.EnsureProfile(context.Background(), "fresh-user"))
	require.NoError(t, f.repo.UpsertChat(context.Background(), sampleChat("c1", f.clock), "fresh-user"))
}

func TestRepo_UpsertMessagesReconcilesSet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signIn(t, "u1")
	require.NoError(t, f.repo.UpsertChat(ctx, sampleChat("c1", f.clock), "u1"))

	require.NoError(t, f.repo.UpsertMessages(ctx, "c1", []Message{
		userMsg("m1", "one"), assistantMsg("m2", "two"), userMsg("m3", "three"),
	}))
	require.Len(t, f.remoteMessages(t, "c1"), 3)

	require.NoError(t, f.repo.UpsertMessages(ctx, "c1", []Message{
		userMsg("m3", "three, edited"), userMsg("m1", "one"),
	}))
	rows := f.remoteMessages(t, "c1")
	require.Len(t, rows, 2)
	require.Equal(t, "m3", rows[0].ID)
	require.Equal(t, 0, rows[0].Sequence)
	require.Equal(t, "three, edited", rows[0].Content)
	require.Equal(t, "m1", rows[1].ID)
	require.Equal(t, 1, rows[1].Sequence)

	// an empty set never wipes a chat
	require.NoError(t, f.repo.UpsertMessages(ctx, "c1", nil))
	require.Len(t, f.remoteMessages(t, "c1"), 2)
}

func TestRepo_UpsertChatKeepsOwnerAndUpdatesMetadata(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signIn(t, "u1")
	c := sampleChat("c1", f.clock)
	require.NoError(t, f.repo.UpsertChat(ctx, c, "u1"))

	c.Title = "Footwork drills"
	c.Settings.ThinkingMode = ThinkingHigh
	c.UpdatedAt = f.clock.Add(time.Minute)
	require.NoError(t, f.repo.UpsertChat(ctx, c, "u1"))

	got, err := f.repo.LoadChatWithMessages(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, "Footwork drills", got.Title)
	require.Equal(t, ThinkingHigh, got.Settings.ThinkingMode)
	require.True(t, got.CreatedAt.Equal(f.clock))
	require.Empty(t, got.Messages)
}

func TestRepo_LoadsScopedToUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signIn(t, "u1")
	require.NoError(t, f.repo.UpsertChat(ctx, sampleChat("old", f.clock), "u1"))
	require.NoError(t, f.repo.UpsertChat(ctx, sampleChat("new", f.clock.Add(time.Hour)), "u1"))
	require.NoError(t, f.repo.UpsertMessages(ctx, "new", []Message{userMsg("m1", "hello")}))

	f.signIn(t, "u2")
	require.NoError(t, f.repo.UpsertChat(ctx, sampleChat("theirs", f.clock), "u2"))

	list, err := f.repo.LoadChatListMetadataOnly(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "theirs", list[0].ID)

	_, err = f.repo.LoadChatWithMessages(ctx, "new")
	require.ErrorIs(t, err, ErrChatNotFound)

	f.signIn(t, "u1")
	list, err = f.repo.LoadChatListMetadataOnly(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"new", "old"}, []string{list[0].ID, list[1].ID})
	require.Empty(t, list[0].Messages)
	require.Equal(t, SyncSynced, list[0].SyncStatus)

	full, err := f.repo.LoadChatWithMessages(ctx, "new")
	require.NoError(t, err)
	require.Len(t, full.Messages, 1)
	require.Equal(t, "hello", full.Messages[0].Content)
}

func TestRepo_DeleteChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signIn(t, "u1")
	require.NoError(t, f.repo.UpsertChat(ctx, sampleChat("c1", f.clock), "u1"))
	require.NoError(t, f.repo.UpsertMessages(ctx, "c1", []Message{userMsg("m1", "a"), userMsg("m2", "b")}))

	require.NoError(t, f.repo.DeleteChat(ctx, "c1"))
	_, found := f.remoteChat(t, "c1")
	require.False(t, found)
	require.Empty(t, f.remoteMessages(t, "c1"))

	require.NoError(t, f.repo.DeleteChat(ctx, "never-existed"))
}

func TestRepo_TelemetryRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signIn(t, "u1")
	require.NoError(t, f.repo.UpsertChat(ctx, sampleChat("c1", f.clock), "u1"))

	in, out := 120, 340
	ttft := int64(250)
	m := assistantMsg("m1", "Your elbow drops early.")
	m.InputTokens, m.OutputTokens, m.TTFTMS = &in, &out, &ttft
	m.Aux = []byte(`{"frames":[12,48]}`)
	m.MediaKey = "uploads/u1/serve.mp4"
	m.MediaURL = "blob:http://localhost/123"
	require.NoError(t, f.repo.UpsertMessages(ctx, "c1", []Message{m}))

	got, err := f.repo.LoadChatWithMessages(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	g := got.Messages[0]
	require.Equal(t, 120, *g.InputTokens)
	require.Equal(t, 340, *g.OutputTokens)
	require.Equal(t, int64(250), *g.TTFTMS)
	require.Nil(t, g.ResponseMS)
	require.JSONEq(t, `{"frames":[12,48]}`, string(g.Aux))
	require.Equal(t, "uploads/u1/serve.mp4", g.MediaKey)
	require.Empty(t, g.MediaURL)
}
