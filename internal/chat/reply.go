package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/suPer8Hu/sportlens/internal/ai"
	"github.com/suPer8Hu/sportlens/internal/logger"
)

const defaultFlushEvery = 500 * time.Millisecond

var expertisePrompts = map[DomainExpertise]string{
	ExpertiseGeneral: "You are a helpful sports assistant.",
	ExpertiseCoach:   "You are an experienced coach. Give concrete drills and corrections.",
	ExpertiseAnalyst: "You are a performance analyst. Be precise and cite the numbers you are given.",
	ExpertiseAthlete: "You are a fellow athlete. Keep advice practical and encouraging.",
}

// Responder appends a user turn to a chat and fills in the assistant turn
// from a model. While the reply streams, the partial text is written to the
// local cache; the remote copy is only written once the reply is complete.
type Responder struct {
	svc      *Service
	provider ai.Provider
	window   int
	log      *logger.Logger

	// FlushEvery throttles local writes of a streaming reply.
	FlushEvery time.Duration
}

func NewResponder(svc *Service, provider ai.Provider, contextWindowSize int, log *logger.Logger) *Responder {
	if contextWindowSize <= 0 || contextWindowSize > 100 {
		contextWindowSize = 20
	}
	return &Responder{
		svc:        svc,
		provider:   provider,
		window:     contextWindowSize,
		log:        log.With("service", "ChatReply"),
		FlushEvery: defaultFlushEvery,
	}
}

// Reply sends text as a user message in chat id and stores the model's
// answer. onDelta, when set, receives each streamed fragment. A failed
// generation that produced no text leaves no assistant message behind.
func (r *Responder) Reply(ctx context.Context, id, text string, onDelta func(string)) (Chat, Outcome, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Chat{}, Outcome{}, errors.New("chat: empty message")
	}
	if r.provider == nil {
		return Chat{}, Outcome{}, errors.New("chat: no ai provider configured")
	}

	c, err := r.svc.OpenChat(ctx, id)
	if err != nil {
		return Chat{}, Outcome{}, err
	}
	c.Messages = append(c.Messages, Message{ID: uuid.NewString(), Role: RoleUser, Content: text})
	if c, _, err = r.svc.SaveChat(ctx, c); err != nil {
		return Chat{}, Outcome{}, err
	}

	prompt := r.context(c)
	c.Messages = append(c.Messages, Message{ID: uuid.NewString(), Role: RoleAssistant, IsStreaming: true})
	if c, _, err = r.svc.SaveChat(ctx, c); err != nil {
		return Chat{}, Outcome{}, err
	}
	idx := len(c.Messages) - 1

	start := time.Now()
	lastFlush := start
	var ttft *int64
	var b strings.Builder
	usage, genErr := r.generate(ctx, prompt, func(delta string) {
		if ttft == nil {
			ms := time.Since(start).Milliseconds()
			ttft = &ms
		}
		b.WriteString(delta)
		if onDelta != nil {
			onDelta(delta)
		}
		if time.Since(lastFlush) < r.FlushEvery {
			return
		}
		lastFlush = time.Now()
		c.Messages[idx].Content = b.String()
		if saved, _, err := r.svc.SaveChat(ctx, c); err == nil {
			c = saved
		}
	})

	// the stream may have ended because ctx did; the final write still has to land
	final := context.WithoutCancel(ctx)
	reply := &c.Messages[idx]
	reply.IsStreaming = false
	reply.Content = b.String()
	if genErr != nil && reply.Content == "" {
		r.log.Warn("reply failed", "chat_id", id, "error", genErr)
		c.Messages = c.Messages[:idx]
		saved, out, err := r.svc.SaveChat(final, c)
		if err != nil {
			return Chat{}, Outcome{}, err
		}
		return saved, out, genErr
	}

	elapsed := time.Since(start).Milliseconds()
	reply.ResponseMS = &elapsed
	reply.TTFTMS = ttft
	if usage != nil {
		in, outTokens := usage.InputTokens, usage.OutputTokens
		reply.InputTokens = &in
		reply.OutputTokens = &outTokens
	}
	saved, out, err := r.svc.SaveChat(final, c)
	if err != nil {
		return Chat{}, Outcome{}, err
	}
	if genErr != nil {
		r.log.Warn("reply interrupted", "chat_id", id, "chars", len(reply.Content), "error", genErr)
	}
	return saved, out, genErr
}

// context builds the provider prompt: a system line for the chat's
// expertise followed by the most recent turns, oldest first.
func (r *Responder) context(c Chat) []ai.Message {
	msgs := c.Messages
	if len(msgs) > r.window {
		msgs = msgs[len(msgs)-r.window:]
	}
	out := make([]ai.Message, 0, len(msgs)+1)
	if p, ok := expertisePrompts[c.Settings.Normalize().DomainExpertise]; ok {
		out = append(out, ai.Message{Role: "system", Content: p})
	}
	for _, m := range msgs {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, ai.Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}

// generate streams when the provider can and falls back to a single
// completion otherwise.
func (r *Responder) generate(ctx context.Context, prompt []ai.Message, emit func(string)) (*ai.Usage, error) {
	sp, ok := r.provider.(ai.StreamProvider)
	if !ok {
		reply, err := r.provider.Chat(ctx, prompt)
		if err != nil {
			return nil, err
		}
		emit(reply.Content)
		return reply.Usage, nil
	}

	chunks, errs := sp.StreamChat(ctx, prompt)
	var usage *ai.Usage
	for c := range chunks {
		if c.Usage != nil {
			usage = c.Usage
		}
		if c.Text != "" {
			emit(c.Text)
		}
	}
	return usage, <-errs
}
