package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/sportlens/internal/logger"
)

type stubRefresher struct {
	next  *Session
	err   error
	calls int
}

func (r *stubRefresher) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	r.calls++
	return r.next, r.err
}

func TestSessionFromToken_VerifiesSignature(t *testing.T) {
	tok, err := SignJWT("user-1", "s3cret", time.Hour)
	require.NoError(t, err)

	s, err := SessionFromToken(tok, "r1", "s3cret")
	require.NoError(t, err)
	require.Equal(t, "user-1", s.UserID)
	require.False(t, s.Expired(time.Now()))

	_, err = SessionFromToken(tok, "r1", "other")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestSessionFromToken_ExpiredTokenStillParses(t *testing.T) {
	tok, err := SignJWT("user-1", "s3cret", -time.Minute)
	require.NoError(t, err)

	s, err := SessionFromToken(tok, "", "s3cret")
	require.NoError(t, err)
	require.True(t, s.Expired(time.Now()))
}

func TestManager_ActiveRefreshesExpired(t *testing.T) {
	ref := &stubRefresher{next: &Session{UserID: "u1", AccessToken: "new", ExpiresAt: time.Now().Add(time.Hour)}}
	m := NewManager(ref, logger.Nop())
	m.SignIn(&Session{UserID: "u1", AccessToken: "old", RefreshToken: "r", ExpiresAt: time.Now().Add(-time.Second)})

	s, err := m.Active(context.Background())
	require.NoError(t, err)
	require.Equal(t, "new", s.AccessToken)
	require.Equal(t, 1, ref.calls)

	cur, ok := m.Current()
	require.True(t, ok)
	require.Equal(t, "new", cur.AccessToken)
}

func TestManager_ActiveFailsWhenRefreshFails(t *testing.T) {
	ref := &stubRefresher{err: errors.New("boom")}
	m := NewManager(ref, logger.Nop())
	m.SignIn(&Session{UserID: "u1", RefreshToken: "r", ExpiresAt: time.Now().Add(-time.Second)})

	_, err := m.Active(context.Background())
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestManager_NoSession(t *testing.T) {
	m := NewManager(nil, logger.Nop())
	_, err := m.Active(context.Background())
	require.ErrorIs(t, err, ErrNoSession)
}

func TestManager_TransitionsFireOnUserChangeOnly(t *testing.T) {
	m := NewManager(nil, logger.Nop())
	var got []Transition
	m.OnChange(func(tr Transition) { got = append(got, tr) })

	m.SignIn(&Session{UserID: "u1", AccessToken: "a"})
	m.SignIn(&Session{UserID: "u1", AccessToken: "b"})
	m.SignOut()

	require.Len(t, got, 2)
	require.True(t, got[0].SignedIn())
	require.False(t, got[1].SignedIn())
	require.Nil(t, got[1].Next)
}

func TestHTTPRefresher(t *testing.T) {
	tok, err := SignJWT("u9", "k", time.Hour)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"` + tok + `"}`))
	}))
	defer srv.Close()

	s, err := NewHTTPRefresher(srv.URL, "k").Refresh(context.Background(), "old-refresh")
	require.NoError(t, err)
	require.Equal(t, "u9", s.UserID)
	require.Equal(t, "old-refresh", s.RefreshToken)
}
