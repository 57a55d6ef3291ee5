package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/suPer8Hu/sportlens/internal/logger"
)

var (
	ErrNoSession      = errors.New("auth: no session")
	ErrSessionExpired = errors.New("auth: session expired")
)

type Session struct {
	UserID       string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Expired reports whether the access token is past its expiry. A zero
// ExpiresAt never expires.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Source is what storage and sync components need from the auth subsystem.
type Source interface {
	// Current returns the session without validating expiry.
	Current() (*Session, bool)
	// Active returns a non-expired session, refreshing once if needed.
	Active(ctx context.Context) (*Session, error)
	// Refresh forces a token refresh.
	Refresh(ctx context.Context) (*Session, error)
}

type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*Session, error)
}

// Transition is delivered to listeners when the signed-in user changes.
type Transition struct {
	Prev *Session
	Next *Session
}

func (t Transition) SignedIn() bool {
	return t.Next != nil && (t.Prev == nil || t.Prev.UserID != t.Next.UserID)
}

type Manager struct {
	mu        sync.RWMutex
	current   *Session
	refresher Refresher
	now       func() time.Time
	log       *logger.Logger

	lmu       sync.Mutex
	listeners []func(Transition)
}

func NewManager(refresher Refresher, log *logger.Logger) *Manager {
	return &Manager{
		refresher: refresher,
		now:       time.Now,
		log:       log.With("service", "AuthManager"),
	}
}

// SetClock overrides the time source.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// OnChange registers fn for sign-in / sign-out transitions.
func (m *Manager) OnChange(fn func(Transition)) {
	m.lmu.Lock()
	m.listeners = append(m.listeners, fn)
	m.lmu.Unlock()
}

func (m *Manager) SignIn(s *Session) {
	m.set(s)
}

func (m *Manager) SignOut() {
	m.set(nil)
}

func (m *Manager) set(s *Session) {
	m.mu.Lock()
	prev := m.current
	m.current = s
	m.mu.Unlock()

	changed := (prev == nil) != (s == nil) || (prev != nil && s != nil && prev.UserID != s.UserID)
	if !changed {
		return
	}
	m.lmu.Lock()
	listeners := append([]func(Transition){}, m.listeners...)
	m.lmu.Unlock()
	for _, fn := range listeners {
		fn(Transition{Prev: prev, Next: s})
	}
}

func (m *Manager) Current() (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return nil, false
	}
	cp := *m.current
	return &cp, true
}

func (m *Manager) Active(ctx context.Context) (*Session, error) {
	m.mu.RLock()
	cur := m.current
	now := m.now()
	m.mu.RUnlock()

	if cur == nil {
		return nil, ErrNoSession
	}
	if !cur.Expired(now) {
		cp := *cur
		return &cp, nil
	}
	s, err := m.Refresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}
	return s, nil
}

func (m *Manager) Refresh(ctx context.Context) (*Session, error) {
	m.mu.RLock()
	cur := m.current
	m.mu.RUnlock()

	if cur == nil {
		return nil, ErrNoSession
	}
	if m.refresher == nil || cur.RefreshToken == "" {
		return nil, ErrSessionExpired
	}
	next, err := m.refresher.Refresh(ctx, cur.RefreshToken)
	if err != nil {
		m.log.Warn("session refresh failed", "user_id", cur.UserID, "error", err)
		return nil, err
	}
	if next.UserID != cur.UserID {
		m.log.Warn("refreshed session belongs to another user", "prev_user_id", cur.UserID, "next_user_id", next.UserID)
	}

	m.mu.Lock()
	m.current = next
	m.mu.Unlock()

	cp := *next
	return &cp, nil
}

// HTTPRefresher exchanges a refresh token at a token endpoint that answers
// {"access_token": "...", "refresh_token": "..."}.
type HTTPRefresher struct {
	URL    string
	Secret string
	Client *http.Client
}

func NewHTTPRefresher(url, secret string) *HTTPRefresher {
	return &HTTPRefresher{URL: url, Secret: secret, Client: &http.Client{Timeout: 15 * time.Second}}
}

type refreshResp struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func (r *HTTPRefresher) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	if strings.TrimSpace(r.URL) == "" {
		return nil, errors.New("auth: refresh url not configured")
	}
	b, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return nil, fmt.Errorf("auth refresh: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded refreshResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, err
	}
	next := decoded.RefreshToken
	if next == "" {
		next = refreshToken
	}
	return SessionFromToken(decoded.AccessToken, next, r.Secret)
}
