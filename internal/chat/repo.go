package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/suPer8Hu/sportlens/internal/auth"
	"github.com/suPer8Hu/sportlens/internal/logger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repo persists chats and messages in the relational store. Every call is
// scoped to the active session's user.
type Repo struct {
	db       *gorm.DB
	sessions auth.Source
	log      *logger.Logger
}

func NewRepo(db *gorm.DB, sessions auth.Source, log *logger.Logger) *Repo {
	return &Repo{db: db, sessions: sessions, log: log.With("service", "ChatRepo")}
}

// AutoMigrate creates the profiles, chats and messages tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&profileRow{}, &chatRow{}, &messageRow{})
}

func (r *Repo) user(ctx context.Context) (string, error) {
	s, err := r.sessions.Active(ctx)
	if err != nil {
		return "", err
	}
	return s.UserID, nil
}

// owner resolves the active user and requires it to be userID.
func (r *Repo) owner(ctx context.Context, userID string) (string, error) {
	uid, err := r.user(ctx)
	if err != nil {
		return "", err
	}
	if uid != userID {
		r.log.Warn("refusing write for another user", "session_user", uid, "user", userID)
		return "", ErrUserMismatch
	}
	return uid, nil
}

// EnsureProfile creates the owner row for userID if it is missing.
func (r *Repo) EnsureProfile(ctx context.Context, userID string) error {
	uid, err := r.owner(ctx, userID)
	if err != nil {
		return err
	}
	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&profileRow{ID: uid}).Error
	if err != nil {
		return remoteErr("ensure_profile", "", err)
	}
	return nil
}

// UpsertChat writes chat metadata for userID. The owner column is set on
// insert and never rewritten.
func (r *Repo) UpsertChat(ctx context.Context, c Chat, userID string) error {
	uid, err := r.owner(ctx, userID)
	if err != nil {
		return err
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkOwner(tx, uid, c.ID); err != nil && !errors.Is(err, ErrChatNotFound) {
			return remoteErr("upsert_chat", c.ID, err)
		}
		row := chatToRow(uid, c)
		err := tx.Omit(clause.Associations).
			Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"title", "thinking_mode", "media_resolution", "domain_expertise", "updated_at",
				}),
			}).
			Create(&row).Error
		if err != nil {
			return remoteErr("upsert_chat", c.ID, err)
		}
		return nil
	})
}

// UpsertMessages makes the remote message set of chatID equal msgs: rows
// are upserted with sequence equal to their index, and rows not in msgs
// are removed. An empty msgs removes nothing.
func (r *Repo) UpsertMessages(ctx context.Context, chatID string, msgs []Message) error {
	uid, err := r.user(ctx)
	if err != nil {
		return err
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkOwner(tx, uid, chatID); err != nil {
			return remoteErr("upsert_messages", chatID, err)
		}
		if len(msgs) == 0 {
			return nil
		}

		rows := make([]messageRow, 0, len(msgs))
		ids := make([]string, 0, len(msgs))
		for i, m := range msgs {
			rows = append(rows, messageToRow(chatID, i, m))
			ids = append(ids, m.ID)
		}

		err := tx.Omit(clause.Associations).
			Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"sequence", "role", "content", "media_url", "media_key",
					"input_tokens", "output_tokens", "response_ms", "ttft_ms",
					"aux", "aux_key",
				}),
			}).
			Create(&rows).Error
		if err != nil {
			return remoteErr("upsert_messages", chatID, err)
		}

		if err := tx.Where("chat_id = ? AND id NOT IN ?", chatID, ids).
			Delete(&messageRow{}).Error; err != nil {
			return remoteErr("upsert_messages", chatID, err)
		}
		return nil
	})
}

// DeleteChat removes the chat and its messages. A chat that does not exist
// for this user is not an error.
func (r *Repo) DeleteChat(ctx context.Context, chatID string) error {
	uid, err := r.user(ctx)
	if err != nil {
		return err
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := checkOwner(tx, uid, chatID)
		if errors.Is(err, ErrChatNotFound) {
			return nil
		}
		if err != nil {
			return remoteErr("delete_chat", chatID, err)
		}
		if err := tx.Where("chat_id = ?", chatID).Delete(&messageRow{}).Error; err != nil {
			return remoteErr("delete_chat", chatID, err)
		}
		if err := tx.Where("id = ? AND user_id = ?", chatID, uid).Delete(&chatRow{}).Error; err != nil {
			return remoteErr("delete_chat", chatID, err)
		}
		return nil
	})
}

// LoadChatListMetadataOnly lists the user's chats without message bodies,
// newest first.
func (r *Repo) LoadChatListMetadataOnly(ctx context.Context) ([]Chat, error) {
	uid, err := r.user(ctx)
	if err != nil {
		return nil, err
	}

	var rows []chatRow
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", uid).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, remoteErr("list_chats", "", err)
	}

	out := make([]Chat, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowToChat(row))
	}
	return out, nil
}

// LoadChatWithMessages returns one chat with its messages ordered by sequence.
func (r *Repo) LoadChatWithMessages(ctx context.Context, chatID string) (Chat, error) {
	uid, err := r.user(ctx)
	if err != nil {
		return Chat{}, err
	}

	var row chatRow
	err = r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", chatID, uid).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Chat{}, remoteErr("load_chat", chatID, ErrChatNotFound)
	}
	if err != nil {
		return Chat{}, remoteErr("load_chat", chatID, err)
	}

	var rows []messageRow
	if err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("sequence ASC").
		Find(&rows).Error; err != nil {
		return Chat{}, remoteErr("load_chat", chatID, err)
	}

	c := rowToChat(row)
	c.Messages = make([]Message, 0, len(rows))
	for _, m := range rows {
		c.Messages = append(c.Messages, rowToMessage(m))
	}
	return c, nil
}

// checkOwner returns ErrChatNotFound when the id is free and
// ErrOwnershipConflict when another user holds it.
func checkOwner(tx *gorm.DB, uid, chatID string) error {
	var row chatRow
	err := tx.Select("id", "user_id").Where("id = ?", chatID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrChatNotFound
	}
	if err != nil {
		return err
	}
	if row.UserID != uid {
		return ErrOwnershipConflict
	}
	return nil
}

func remoteErr(op, chatID string, err error) error {
	var re *RemoteError
	if errors.As(err, &re) {
		return err
	}
	switch {
	case errors.Is(err, ErrChatNotFound), errors.Is(err, ErrOwnershipConflict), errors.Is(err, ErrProfileMissing):
		return &RemoteError{Op: op, ChatID: chatID, Err: err}
	case isForeignKeyViolation(err):
		return &RemoteError{Op: op, ChatID: chatID, Code: "foreign_key", Err: fmt.Errorf("%w: %v", ErrProfileMissing, err)}
	}
	return &RemoteError{Op: op, ChatID: chatID, Err: err}
}

func isForeignKeyViolation(err error) bool {
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "FOREIGN KEY constraint failed") ||
		strings.Contains(msg, "SQLSTATE 23503") ||
		strings.Contains(msg, "Error 1452")
}
