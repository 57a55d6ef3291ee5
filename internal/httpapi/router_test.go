package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/sportlens/internal/ai"
	"github.com/suPer8Hu/sportlens/internal/app"
	"github.com/suPer8Hu/sportlens/internal/auth"
	"github.com/suPer8Hu/sportlens/internal/chat"
	"github.com/suPer8Hu/sportlens/internal/config"
	"github.com/suPer8Hu/sportlens/internal/logger"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

// taskBackend is an in-memory stand-in for the analysis backend.
type taskBackend struct {
	mu      sync.Mutex
	tasks   []map[string]any
	batches int
}

func (b *taskBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /tasks", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"tasks": b.tasks})
	})
	mux.HandleFunc("POST /tasks", func(w http.ResponseWriter, r *http.Request) {
		var in map[string]any
		_ = json.NewDecoder(r.Body).Decode(&in)
		b.mu.Lock()
		defer b.mu.Unlock()
		t := map[string]any{
			"id":         fmt.Sprintf("srv-%d", len(b.tasks)+1),
			"sport":      in["sport"],
			"status":     "pending",
			"created_at": time.Now().UTC(),
		}
		b.tasks = append(b.tasks, t)
		_ = json.NewEncoder(w).Encode(t)
	})
	mux.HandleFunc("GET /tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"id": r.PathValue("id"), "status": "processing"})
	})
	mux.HandleFunc("POST /tasks/batch", func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Tasks []map[string]any `json:"tasks"`
		}
		_ = json.NewDecoder(r.Body).Decode(&in)
		b.mu.Lock()
		defer b.mu.Unlock()
		b.batches++
		for _, t := range in.Tasks {
			t["id"] = strings.TrimPrefix(t["id"].(string), "guest-")
			b.tasks = append(b.tasks, t)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"created": len(in.Tasks)})
	})
	mux.HandleFunc("POST /media/sign", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	return mux
}

func (b *taskBackend) batchCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.batches
}

func newTestApp(t *testing.T) (*app.App, *gin.Engine, *taskBackend) {
	t.Helper()
	backend := &taskBackend{}
	srv := httptest.NewServer(backend.handler())
	t.Cleanup(srv.Close)

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	cfg := config.Config{
		Env:                   "test",
		DBDSN:                 "sqlite:file:" + name + "?mode=memory&cache=shared",
		StoreMedium:           "memory",
		StoreNamespace:        "test",
		StoreQuota:            5 * 1024 * 1024,
		MaxRecords:            100,
		MaxBytes:              4608 * 1024,
		RecordBytes:           48 * 1024,
		JWTSecret:             testSecret,
		TaskAPIBaseURL:        srv.URL,
		PollInterval:          time.Hour,
		SignedURLExpiry:       time.Hour,
		ChatContextWindowSize: 20,
	}
	a, err := app.New(context.Background(), cfg, logger.Nop(), app.Options{})
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a, NewRouter(a), backend
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func call(t *testing.T, r http.Handler, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func signIn(t *testing.T, r http.Handler, userID string) {
	t.Helper()
	token, err := auth.SignJWT(userID, testSecret, time.Hour)
	require.NoError(t, err)
	w, _ := call(t, r, http.MethodPost, "/session", gin.H{"access_token": token, "refresh_token": "r"})
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_PingAndFallbacks(t *testing.T) {
	_, r, _ := newTestApp(t)

	w, env := call(t, r, http.MethodGet, "/ping", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, env.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w, env = call(t, r, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 40400, env.Code)

	w, env = call(t, r, http.MethodPost, "/ping", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, 40500, env.Code)
}

func TestChats_SignedOutLifecycle(t *testing.T) {
	_, r, _ := newTestApp(t)

	w, env := call(t, r, http.MethodPost, "/chats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	created := decode[struct {
		Chat    chat.Chat    `json:"chat"`
		Outcome chat.Outcome `json:"outcome"`
	}](t, env.Data)
	id := created.Chat.ID
	require.NotEmpty(t, id)
	assert.Equal(t, chat.OutcomeSkipped, created.Outcome.Kind)

	msgs := []chat.Message{{ID: "m1", Role: chat.RoleUser, Content: "How do I fix my backhand grip?"}}
	w, env = call(t, r, http.MethodPatch, "/chats/"+id, gin.H{"messages": msgs})
	require.Equal(t, http.StatusOK, w.Code)
	patched := decode[struct {
		Chat chat.Chat `json:"chat"`
	}](t, env.Data)
	require.Len(t, patched.Chat.Messages, 1)

	w, _ = call(t, r, http.MethodPut, "/current-chat", gin.H{"chat_id": id})
	require.Equal(t, http.StatusOK, w.Code)

	_, env = call(t, r, http.MethodGet, "/chats", nil)
	list := decode[struct {
		Chats         []chat.Chat `json:"chats"`
		CurrentChatID string      `json:"current_chat_id"`
	}](t, env.Data)
	require.Len(t, list.Chats, 1)
	assert.Equal(t, id, list.CurrentChatID)

	w, env = call(t, r, http.MethodGet, "/chats/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 40401, env.Code)

	w, _ = call(t, r, http.MethodDelete, "/chats/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	_, env = call(t, r, http.MethodGet, "/chats", nil)
	list = decode[struct {
		Chats         []chat.Chat `json:"chats"`
		CurrentChatID string      `json:"current_chat_id"`
	}](t, env.Data)
	assert.Empty(t, list.Chats)
}

type taskList struct {
	Tasks []struct {
		ID         string `json:"id"`
		Provenance string `json:"provenance"`
		Sport      string `json:"sport"`
	} `json:"tasks"`
}

func TestTasks_GuestAndSampleRules(t *testing.T) {
	_, r, _ := newTestApp(t)

	w, env := call(t, r, http.MethodPost, "/tasks", gin.H{"sport": "tennis"})
	require.Equal(t, http.StatusOK, w.Code)
	created := decode[struct {
		Task struct {
			ID         string `json:"id"`
			Provenance string `json:"provenance"`
		} `json:"task"`
	}](t, env.Data)
	assert.True(t, strings.HasPrefix(created.Task.ID, "guest-"))
	assert.Equal(t, "guest", created.Task.Provenance)

	_, env = call(t, r, http.MethodGet, "/tasks", nil)
	all := decode[taskList](t, env.Data)
	require.Len(t, all.Tasks, 4)

	_, env = call(t, r, http.MethodGet, "/tasks?provenance=sample", nil)
	samples := decode[taskList](t, env.Data)
	require.Len(t, samples.Tasks, 3)

	w, env = call(t, r, http.MethodDelete, "/tasks/"+samples.Tasks[0].ID, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, 40301, env.Code)

	w, _ = call(t, r, http.MethodDelete, "/tasks/"+created.Task.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, env = call(t, r, http.MethodDelete, "/tasks/"+created.Task.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 40402, env.Code)

	w, _ = call(t, r, http.MethodPost, "/tasks", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code, "sport is required")
}

func TestSession_SignInMigratesGuestTasks(t *testing.T) {
	a, r, backend := newTestApp(t)

	for _, s := range []string{"tennis", "golf"} {
		w, _ := call(t, r, http.MethodPost, "/tasks", gin.H{"sport": s})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w, _ := call(t, r, http.MethodPost, "/sync", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	signIn(t, r, "u1")
	require.Eventually(t, func() bool {
		return backend.batchCount() == 1 && len(a.Guests.List()) == 0 && len(a.TaskCache.List()) == 2 && a.Poller.Running()
	}, 2*time.Second, 10*time.Millisecond)

	_, env := call(t, r, http.MethodGet, "/tasks?provenance=authenticated", nil)
	owned := decode[taskList](t, env.Data)
	assert.Len(t, owned.Tasks, 2)

	w, env = call(t, r, http.MethodPost, "/tasks", gin.H{"sport": "soccer"})
	require.Equal(t, http.StatusOK, w.Code)
	created := decode[struct {
		Task struct {
			ID         string `json:"id"`
			Provenance string `json:"provenance"`
		} `json:"task"`
	}](t, env.Data)
	assert.Equal(t, "srv-3", created.Task.ID)
	assert.Equal(t, "authenticated", created.Task.Provenance)
	assert.True(t, a.Poller.Running())

	w, _ = call(t, r, http.MethodPost, "/sync", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, env = call(t, r, http.MethodDelete, "/session", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, a.TaskCache.List(), "signing out drops the cached task list")
	assert.False(t, a.Poller.Running())

	_, env = call(t, r, http.MethodGet, "/session", nil)
	assert.JSONEq(t, `{"signed_in":false}`, string(env.Data))
}

func TestSession_RejectsBadToken(t *testing.T) {
	_, r, _ := newTestApp(t)
	token, err := auth.SignJWT("u1", "other-secret", time.Hour)
	require.NoError(t, err)

	w, env := call(t, r, http.MethodPost, "/session", gin.H{"access_token": token})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 40102, env.Code)
}

func TestDevRoutes_GatedByFlag(t *testing.T) {
	_, r, _ := newTestApp(t)

	w, _ := call(t, r, http.MethodGet, "/dev/store", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = call(t, r, http.MethodPut, "/dev/mode", gin.H{"enabled": true})
	require.Equal(t, http.StatusOK, w.Code)

	w, env := call(t, r, http.MethodGet, "/dev/store", nil)
	require.Equal(t, http.StatusOK, w.Code)
	keys := decode[struct {
		Keys []string `json:"keys"`
	}](t, env.Data)
	assert.Contains(t, keys.Keys, "dev_mode")

	w, env = call(t, r, http.MethodPost, "/dev/migrate-ids", nil)
	require.Equal(t, http.StatusOK, w.Code)
	report := decode[struct {
		Report chat.MigrationReport `json:"report"`
	}](t, env.Data)
	assert.Empty(t, report.Report.Mapping)
}

func TestSettings_RoundTripPerFeature(t *testing.T) {
	_, r, _ := newTestApp(t)

	_, env := call(t, r, http.MethodGet, "/settings/video", nil)
	assert.JSONEq(t, `{"feature":"video","settings":null}`, string(env.Data))

	w, _ := call(t, r, http.MethodPut, "/settings/video", gin.H{"autoplay": true})
	require.Equal(t, http.StatusOK, w.Code)

	_, env = call(t, r, http.MethodGet, "/settings/video", nil)
	assert.JSONEq(t, `{"feature":"video","settings":{"autoplay":true}}`, string(env.Data))
}

type scriptedStream struct{ chunks []string }

func (s scriptedStream) Chat(context.Context, []ai.Message) (ai.Completion, error) {
	return ai.Completion{Content: strings.Join(s.chunks, "")}, nil
}

func (s scriptedStream) StreamChat(context.Context, []ai.Message) (<-chan ai.Chunk, <-chan error) {
	out := make(chan ai.Chunk, len(s.chunks))
	errs := make(chan error)
	for _, c := range s.chunks {
		out <- ai.Chunk{Text: c}
	}
	close(out)
	close(errs)
	return out, errs
}

func TestSendMessageStream_WritesEvents(t *testing.T) {
	a, r, _ := newTestApp(t)

	w, _ := call(t, r, http.MethodPost, "/chats/x/messages", gin.H{"message": "hi"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	a.Replies = chat.NewResponder(a.Chats, scriptedStream{chunks: []string{"Keep ", "your ", "wrist loose."}}, 20, logger.Nop())

	_, env := call(t, r, http.MethodPost, "/chats", nil)
	id := decode[struct {
		Chat chat.Chat `json:"chat"`
	}](t, env.Data).Chat.ID

	req := httptest.NewRequest(http.MethodPost, "/chats/"+id+"/messages/stream", strings.NewReader(`{"message":"serve tips?"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Equal(t, 3, strings.Count(body, "event: chunk"))
	assert.Contains(t, body, "event: done")

	got, ok := a.Chats.GetChat(id)
	require.True(t, ok)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "Keep your wrist loose.", got.Messages[1].Content)
	assert.False(t, got.Messages[1].IsStreaming)
}

func TestStoreEvents_StreamsChanges(t *testing.T) {
	_, r, _ := newTestApp(t)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	sc := bufio.NewScanner(resp.Body)
	next := func() (event, data string) {
		for sc.Scan() {
			line := sc.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				return event, strings.TrimPrefix(line, "data: ")
			}
		}
		return "", ""
	}

	event, _ := next()
	require.Equal(t, "ready", event)

	w, _ := call(t, r, http.MethodPost, "/chats", nil)
	require.Equal(t, http.StatusOK, w.Code)

	event, data := next()
	assert.Equal(t, "change", event)
	assert.JSONEq(t, `{"type":"change","key":"chats"}`, data)
}
