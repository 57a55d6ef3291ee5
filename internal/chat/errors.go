package chat

import (
	"errors"
	"fmt"

	"github.com/suPer8Hu/sportlens/internal/auth"
)

var (
	ErrNoSession      = auth.ErrNoSession
	ErrSessionExpired = auth.ErrSessionExpired

	// ErrUserMismatch: the chat being written carries a different owner than the session.
	ErrUserMismatch = errors.New("chat: session user does not match chat owner")
	// ErrOwnershipConflict: the id already exists remotely under another user.
	ErrOwnershipConflict = errors.New("chat: id owned by another user")
	// ErrProfileMissing: the remote owner profile row does not exist.
	ErrProfileMissing = errors.New("chat: owner profile missing")
	ErrChatNotFound   = errors.New("chat: not found")
)

// RemoteError carries the failing operation and the remote error code, if
// any, alongside the classified cause.
type RemoteError struct {
	Op     string
	ChatID string
	Code   string
	Err    error
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s %s: [%s] %v", e.Op, e.ChatID, e.Code, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.ChatID, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }
