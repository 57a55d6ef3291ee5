package chat

import (
	"encoding/json"
	"strings"
	"time"
)

// storedMessage is the local cache shape of a Message. Transient handles
// and the streaming flag are not part of it.
type storedMessage struct {
	ID           string          `json:"id"`
	Role         Role            `json:"role"`
	Content      string          `json:"content"`
	MediaURL     string          `json:"mediaUrl,omitempty"`
	MediaKey     string          `json:"mediaKey,omitempty"`
	InputTokens  *int            `json:"inputTokens,omitempty"`
	OutputTokens *int            `json:"outputTokens,omitempty"`
	ResponseMS   *int64          `json:"responseMs,omitempty"`
	TTFTMS       *int64          `json:"ttftMs,omitempty"`
	Aux          json.RawMessage `json:"aux,omitempty"`
	AuxKey       string          `json:"auxKey,omitempty"`
	Sequence     int             `json:"sequence"`
	CreatedAt    time.Time       `json:"createdAt"`
}

type storedChat struct {
	ID         string          `json:"id"`
	Title      string          `json:"title"`
	TitleAuto  bool            `json:"titleAuto"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
	Messages   []storedMessage `json:"messages"`
	Settings   Settings        `json:"settings"`
	SyncStatus SyncStatus      `json:"syncStatus,omitempty"`
	Partial    bool            `json:"partial,omitempty"`
	Dirty      bool            `json:"dirty,omitempty"`
}

// persistableURL drops page-local object URLs, which are meaningless once
// the process that minted them is gone.
func persistableURL(u string) string {
	if strings.HasPrefix(u, "blob:") {
		return ""
	}
	return u
}

func encodeChat(c Chat) storedChat {
	msgs := make([]storedMessage, 0, len(c.Messages))
	for _, m := range c.Messages {
		msgs = append(msgs, storedMessage{
			ID:           m.ID,
			Role:         m.Role,
			Content:      m.Content,
			MediaURL:     persistableURL(m.MediaURL),
			MediaKey:     m.MediaKey,
			InputTokens:  m.InputTokens,
			OutputTokens: m.OutputTokens,
			ResponseMS:   m.ResponseMS,
			TTFTMS:       m.TTFTMS,
			Aux:          m.Aux,
			AuxKey:       m.AuxKey,
			Sequence:     m.Sequence,
			CreatedAt:    m.CreatedAt,
		})
	}
	status := c.SyncStatus
	if status == "" {
		status = SyncLocalOnly
	}
	return storedChat{
		ID:         c.ID,
		Title:      c.Title,
		TitleAuto:  c.TitleAuto,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
		Messages:   msgs,
		Settings:   c.Settings,
		SyncStatus: status,
		Partial:    c.Partial,
		Dirty:      c.Dirty,
	}
}

func decodeChat(s storedChat) Chat {
	msgs := make([]Message, 0, len(s.Messages))
	for _, m := range s.Messages {
		msgs = append(msgs, Message{
			ID:           m.ID,
			Role:         m.Role,
			Content:      m.Content,
			MediaURL:     m.MediaURL,
			MediaKey:     m.MediaKey,
			InputTokens:  m.InputTokens,
			OutputTokens: m.OutputTokens,
			ResponseMS:   m.ResponseMS,
			TTFTMS:       m.TTFTMS,
			Aux:          m.Aux,
			AuxKey:       m.AuxKey,
			Sequence:     m.Sequence,
			CreatedAt:    m.CreatedAt,
		})
	}
	status := s.SyncStatus
	switch status {
	case SyncLocalOnly, SyncSynced, SyncPendingDelete:
	default:
		status = SyncLocalOnly
	}
	return Chat{
		ID:         s.ID,
		Title:      s.Title,
		TitleAuto:  s.TitleAuto,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
		Messages:   msgs,
		Settings:   s.Settings.Normalize(),
		SyncStatus: status,
		Partial:    s.Partial,
		Dirty:      s.Dirty,
	}
}
