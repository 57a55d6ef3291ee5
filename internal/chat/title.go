package chat

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/suPer8Hu/sportlens/internal/ai"
)

const maxTitleRunes = 50

// HeuristicTitle derives a title from the first user message. It returns
// PlaceholderTitle when there is nothing to derive from.
func HeuristicTitle(msgs []Message) string {
	for _, m := range msgs {
		if m.Role != RoleUser {
			continue
		}
		t := strings.Join(strings.Fields(m.Content), " ")
		if t == "" {
			continue
		}
		if utf8.RuneCountInString(t) > maxTitleRunes {
			t = strings.TrimSpace(string([]rune(t)[:maxTitleRunes])) + "..."
		}
		return t
	}
	return PlaceholderTitle
}

// Titler produces a title for a conversation.
type Titler interface {
	Title(ctx context.Context, msgs []Message) (string, error)
}

type HeuristicTitler struct{}

func (HeuristicTitler) Title(_ context.Context, msgs []Message) (string, error) {
	return HeuristicTitle(msgs), nil
}

const titlePrompt = "Write a short title (at most six words) for the conversation below. Reply with the title only, no quotes or punctuation at the end."

// AITitler asks a model for a title and falls back to HeuristicTitle when
// the model fails or answers with nothing usable.
type AITitler struct {
	Provider ai.Provider
}

func (t AITitler) Title(ctx context.Context, msgs []Message) (string, error) {
	if t.Provider == nil {
		return HeuristicTitle(msgs), nil
	}

	in := []ai.Message{{Role: "system", Content: titlePrompt}}
	for _, m := range msgs {
		if len(in) > 6 {
			break
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		in = append(in, ai.Message{Role: string(m.Role), Content: m.Content})
	}
	if len(in) == 1 {
		return PlaceholderTitle, nil
	}

	reply, err := t.Provider.Chat(ctx, in)
	if err != nil {
		return HeuristicTitle(msgs), err
	}
	title := strings.Trim(strings.Join(strings.Fields(reply.Content), " "), "\"'.")
	if title == "" {
		return HeuristicTitle(msgs), nil
	}
	if utf8.RuneCountInString(title) > maxTitleRunes {
		title = strings.TrimSpace(string([]rune(title)[:maxTitleRunes])) + "..."
	}
	return title, nil
}
