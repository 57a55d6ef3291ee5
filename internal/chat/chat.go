package chat

import (
	"bytes"
	"encoding/json"
	"io"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type ThinkingMode string

const (
	ThinkingOff  ThinkingMode = "off"
	ThinkingLow  ThinkingMode = "low"
	ThinkingHigh ThinkingMode = "high"
)

type MediaResolution string

const (
	MediaResolutionLow    MediaResolution = "low"
	MediaResolutionMedium MediaResolution = "medium"
	MediaResolutionHigh   MediaResolution = "high"
)

type DomainExpertise string

const (
	ExpertiseGeneral DomainExpertise = "general"
	ExpertiseCoach   DomainExpertise = "coach"
	ExpertiseAnalyst DomainExpertise = "analyst"
	ExpertiseAthlete DomainExpertise = "athlete"
)

type Settings struct {
	ThinkingMode    ThinkingMode    `json:"thinkingMode"`
	MediaResolution MediaResolution `json:"mediaResolution"`
	DomainExpertise DomainExpertise `json:"domainExpertise"`
}

func DefaultSettings() Settings {
	return Settings{
		ThinkingMode:    ThinkingOff,
		MediaResolution: MediaResolutionLow,
		DomainExpertise: ExpertiseGeneral,
	}
}

// Normalize replaces unknown enum values with the defaults.
func (s Settings) Normalize() Settings {
	d := DefaultSettings()
	switch s.ThinkingMode {
	case ThinkingOff, ThinkingLow, ThinkingHigh:
	default:
		s.ThinkingMode = d.ThinkingMode
	}
	switch s.MediaResolution {
	case MediaResolutionLow, MediaResolutionMedium, MediaResolutionHigh:
	default:
		s.MediaResolution = d.MediaResolution
	}
	switch s.DomainExpertise {
	case ExpertiseGeneral, ExpertiseCoach, ExpertiseAnalyst, ExpertiseAthlete:
	default:
		s.DomainExpertise = d.DomainExpertise
	}
	return s
}

// SyncStatus records what the remote store is known to hold for a chat.
type SyncStatus string

const (
	// SyncLocalOnly: no remote copy (empty chat, signed out, or not yet pushed).
	SyncLocalOnly SyncStatus = "local-only"
	// SyncSynced: a remote copy exists. Remote copies always carry messages.
	SyncSynced SyncStatus = "synced"
	// SyncPendingDelete: the chat became empty and its remote copy still has to go.
	SyncPendingDelete SyncStatus = "pending-delete"
)

const PlaceholderTitle = "New Chat"

type Message struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// MediaKey is the durable identity of attached media; MediaURL is a
	// time-limited URL derived from it.
	MediaURL string `json:"mediaUrl,omitempty"`
	MediaKey string `json:"mediaKey,omitempty"`

	// Transient handles. Never persisted.
	File    io.Reader `json:"-"`
	BlobURL string    `json:"-"`

	IsStreaming bool `json:"isStreaming,omitempty"`

	InputTokens  *int   `json:"inputTokens,omitempty"`
	OutputTokens *int   `json:"outputTokens,omitempty"`
	ResponseMS   *int64 `json:"responseMs,omitempty"`
	TTFTMS       *int64 `json:"ttftMs,omitempty"`

	Aux    json.RawMessage `json:"aux,omitempty"`
	AuxKey string          `json:"auxKey,omitempty"`

	Sequence  int       `json:"sequence"`
	CreatedAt time.Time `json:"createdAt"`
}

type Chat struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	TitleAuto bool      `json:"titleAuto"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Messages  []Message `json:"messages"`
	Settings  Settings  `json:"settings"`

	SyncStatus SyncStatus `json:"syncStatus"`
	// Partial marks a chat whose message bodies live remotely but have not
	// been fetched yet.
	Partial bool `json:"partial,omitempty"`
	// Dirty marks local changes the remote store has not confirmed.
	Dirty bool `json:"dirty,omitempty"`
}

// Clone returns a copy that shares no slices with c.
func (c Chat) Clone() Chat {
	out := c
	out.Messages = cloneMessages(c.Messages)
	return out
}

func cloneMessages(in []Message) []Message {
	out := make([]Message, len(in))
	for i, m := range in {
		out[i] = m
		if m.Aux != nil {
			out[i].Aux = append(json.RawMessage(nil), m.Aux...)
		}
	}
	return out
}

// contentChanged reports whether the conversation itself differs: message
// count, or the id, role or text of any message. Rewritten URLs and
// telemetry do not count.
func contentChanged(a, b []Message) bool {
	if len(a) != len(b) {
		return true
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Role != b[i].Role || a[i].Content != b[i].Content {
			return true
		}
	}
	return false
}

// persistedChanged reports whether anything the remote store keeps differs.
// MediaURL is derived from MediaKey and is deliberately excluded.
func persistedChanged(a, b []Message) bool {
	if contentChanged(a, b) {
		return true
	}
	for i := range a {
		x, y := a[i], b[i]
		if x.MediaKey != y.MediaKey || x.AuxKey != y.AuxKey ||
			!intPtrEqual(x.InputTokens, y.InputTokens) || !intPtrEqual(x.OutputTokens, y.OutputTokens) ||
			!int64PtrEqual(x.ResponseMS, y.ResponseMS) || !int64PtrEqual(x.TTFTMS, y.TTFTMS) ||
			!bytes.Equal(x.Aux, y.Aux) {
			return true
		}
	}
	return false
}

func metadataChanged(a, b Chat) bool {
	return a.Title != b.Title || a.Settings != b.Settings
}

func anyStreaming(msgs []Message) bool {
	for _, m := range msgs {
		if m.IsStreaming {
			return true
		}
	}
	return false
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func int64PtrEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
