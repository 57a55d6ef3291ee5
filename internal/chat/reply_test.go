package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/sportlens/internal/ai"
	"github.com/suPer8Hu/sportlens/internal/logger"
)

type fakeProvider struct {
	reply ai.Completion
	err   error
	last  []ai.Message
}

func (p *fakeProvider) Chat(_ context.Context, msgs []ai.Message) (ai.Completion, error) {
	p.last = msgs
	return p.reply, p.err
}

type fakeStreamProvider struct {
	fakeProvider
	chunks []ai.Chunk
}

func (p *fakeStreamProvider) StreamChat(_ context.Context, msgs []ai.Message) (<-chan ai.Chunk, <-chan error) {
	p.last = msgs
	out := make(chan ai.Chunk, len(p.chunks))
	errs := make(chan error, 1)
	for _, c := range p.chunks {
		out <- c
	}
	if p.err != nil {
		errs <- p.err
	}
	close(out)
	close(errs)
	return out, errs
}

func TestReply_StreamsLocallyThenSyncsOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.signIn(t, "u1")

	c, _, err := f.svc.CreateChat(ctx, DefaultSettings())
	require.NoError(t, err)

	p := &fakeStreamProvider{chunks: []ai.Chunk{
		{Text: "Bend "},
		{Text: "your knees."},
		{Usage: &ai.Usage{InputTokens: 11, OutputTokens: 4}},
	}}
	r := NewResponder(f.svc, p, 20, logger.Nop())
	r.FlushEvery = 0

	var deltas []string
	got, out, err := r.Reply(ctx, c.ID, "how do I land softer?", func(d string) {
		deltas = append(deltas, d)
		if len(deltas) == 2 {
			local, _ := f.svc.GetChat(c.ID)
			require.Len(t, local.Messages, 2)
			require.Equal(t, "Bend ", local.Messages[1].Content)
			require.Len(t, f.remoteMessages(t, c.ID), 1, "streaming reply must not reach the remote store")
		}
	})
	require.NoError(t, err)
	require.True(t, out.OK())
	require.Equal(t, []string{"Bend ", "your knees."}, deltas)

	require.Len(t, got.Messages, 2)
	reply := got.Messages[1]
	require.Equal(t, RoleAssistant, reply.Role)
	require.Equal(t, "Bend your knees.", reply.Content)
	require.False(t, reply.IsStreaming)
	require.NotNil(t, reply.ResponseMS)
	require.NotNil(t, reply.TTFTMS)
	require.Equal(t, 4, *reply.OutputTokens)
	require.Equal(t, "how do I land softer?", got.Title)

	rows := f.remoteMessages(t, c.ID)
	require.Len(t, rows, 2)
	require.Equal(t, "Bend your knees.", rows[1].Content)
	require.Equal(t, 11, *rows[1].InputTokens)

	require.Equal(t, "system", p.last[0].Role)
	require.Equal(t, "how do I land softer?", p.last[len(p.last)-1].Content)
}

func TestReply_FailureDropsEmptyAssistantMessage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	c, _, err := f.svc.CreateChat(ctx, DefaultSettings())
	require.NoError(t, err)

	r := NewResponder(f.svc, &fakeStreamProvider{fakeProvider: fakeProvider{err: errors.New("model overloaded")}}, 20, logger.Nop())
	_, _, err = r.Reply(ctx, c.ID, "hello", nil)
	require.ErrorContains(t, err, "model overloaded")

	local, ok := f.svc.GetChat(c.ID)
	require.True(t, ok)
	require.Len(t, local.Messages, 1)
	require.Equal(t, RoleUser, local.Messages[0].Role)
}

func TestReply_CompletionProviderUsesContextWindow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	c, _, err := f.svc.SaveChat(ctx, Chat{
		Settings: Settings{DomainExpertise: ExpertiseCoach},
		Messages: []Message{
			userMsg("m1", "first"),
			assistantMsg("m2", "answer one"),
			userMsg("m3", "second"),
			assistantMsg("m4", "answer two"),
		},
	})
	require.NoError(t, err)

	p := &fakeProvider{reply: ai.Completion{Content: "Shorten your backswing."}}
	r := NewResponder(f.svc, p, 3, logger.Nop())
	got, _, err := r.Reply(ctx, c.ID, "third", nil)
	require.NoError(t, err)
	require.Equal(t, "Shorten your backswing.", got.Messages[5].Content)
	require.Nil(t, got.Messages[5].OutputTokens)

	require.Len(t, p.last, 4)
	require.Equal(t, expertisePrompts[ExpertiseCoach], p.last[0].Content)
	require.Equal(t, []string{"second", "answer two", "third"}, []string{p.last[1].Content, p.last[2].Content, p.last[3].Content})
}

func TestReply_RejectsEmptyText(t *testing.T) {
	f := newFixture(t)
	r := NewResponder(f.svc, &fakeProvider{}, 0, logger.Nop())
	_, _, err := r.Reply(context.Background(), "x", "   ", nil)
	require.Error(t, err)
}
