package chat

import (
	"time"

	"gorm.io/datatypes"
)

// profileRow is the remote owner record chats hang off. A chat insert
// without one fails the foreign key.
type profileRow struct {
	ID        string    `gorm:"type:varchar(64);primaryKey"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (profileRow) TableName() string { return "profiles" }

type chatRow struct {
	ID              string      `gorm:"type:varchar(64);primaryKey"`
	UserID          string      `gorm:"type:varchar(64);index;not null"`
	Owner           *profileRow `gorm:"foreignKey:UserID;references:ID;constraint:OnDelete:CASCADE"`
	Title           string      `gorm:"type:varchar(255);not null"`
	ThinkingMode    string      `gorm:"type:varchar(16);not null"`
	MediaResolution string      `gorm:"type:varchar(16);not null"`
	DomainExpertise string      `gorm:"type:varchar(32);not null"`
	CreatedAt       time.Time   `gorm:"autoCreateTime:false"`
	UpdatedAt       time.Time   `gorm:"autoUpdateTime:false;index"`
}

func (chatRow) TableName() string { return "chats" }

type messageRow struct {
	ID           string         `gorm:"type:varchar(64);primaryKey"`
	ChatID       string         `gorm:"type:varchar(64);not null;index:idx_messages_chat_seq,priority:1"`
	Chat         *chatRow       `gorm:"foreignKey:ChatID;references:ID;constraint:OnDelete:CASCADE"`
	Sequence     int            `gorm:"not null;index:idx_messages_chat_seq,priority:2"`
	Role         string         `gorm:"type:varchar(16);not null"`
	Content      string         `gorm:"type:text;not null"`
	MediaURL     string         `gorm:"column:media_url;type:text"`
	MediaKey     string         `gorm:"type:varchar(512)"`
	InputTokens  *int           `gorm:"column:input_tokens"`
	OutputTokens *int           `gorm:"column:output_tokens"`
	ResponseMS   *int64         `gorm:"column:response_ms"`
	TTFTMS       *int64         `gorm:"column:ttft_ms"`
	Aux          datatypes.JSON `gorm:"column:aux"`
	AuxKey       string         `gorm:"column:aux_key;type:varchar(512)"`
	CreatedAt    time.Time      `gorm:"autoCreateTime:false"`
}

func (messageRow) TableName() string { return "messages" }

func chatToRow(userID string, c Chat) chatRow {
	s := c.Settings.Normalize()
	return chatRow{
		ID:              c.ID,
		UserID:          userID,
		Title:           c.Title,
		ThinkingMode:    string(s.ThinkingMode),
		MediaResolution: string(s.MediaResolution),
		DomainExpertise: string(s.DomainExpertise),
		CreatedAt:       c.CreatedAt.UTC(),
		UpdatedAt:       c.UpdatedAt.UTC(),
	}
}

// rowToChat builds list metadata; Messages is left empty.
func rowToChat(r chatRow) Chat {
	return Chat{
		ID:        r.ID,
		Title:     r.Title,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		Messages:  []Message{},
		Settings: Settings{
			ThinkingMode:    ThinkingMode(r.ThinkingMode),
			MediaResolution: MediaResolution(r.MediaResolution),
			DomainExpertise: DomainExpertise(r.DomainExpertise),
		}.Normalize(),
		SyncStatus: SyncSynced,
	}
}

func messageToRow(chatID string, seq int, m Message) messageRow {
	row := messageRow{
		ID:           m.ID,
		ChatID:       chatID,
		Sequence:     seq,
		Role:         string(m.Role),
		Content:      m.Content,
		MediaURL:     persistableURL(m.MediaURL),
		MediaKey:     m.MediaKey,
		InputTokens:  m.InputTokens,
		OutputTokens: m.OutputTokens,
		ResponseMS:   m.ResponseMS,
		TTFTMS:       m.TTFTMS,
		AuxKey:       m.AuxKey,
		CreatedAt:    m.CreatedAt.UTC(),
	}
	if len(m.Aux) > 0 {
		row.Aux = datatypes.JSON(m.Aux)
	}
	return row
}

func rowToMessage(r messageRow) Message {
	m := Message{
		ID:           r.ID,
		Role:         Role(r.Role),
		Content:      r.Content,
		MediaURL:     r.MediaURL,
		MediaKey:     r.MediaKey,
		InputTokens:  r.InputTokens,
		OutputTokens: r.OutputTokens,
		ResponseMS:   r.ResponseMS,
		TTFTMS:       r.TTFTMS,
		AuxKey:       r.AuxKey,
		Sequence:     r.Sequence,
		CreatedAt:    r.CreatedAt,
	}
	if len(r.Aux) > 0 {
		m.Aux = append([]byte(nil), r.Aux...)
	}
	return m
}
