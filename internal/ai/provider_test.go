package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/sportlens/internal/config"
)

func collect(t *testing.T, chunks <-chan Chunk, errs <-chan error) (string, *Usage) {
	t.Helper()
	var b strings.Builder
	var usage *Usage
	for c := range chunks {
		b.WriteString(c.Text)
		if c.Usage != nil {
			usage = c.Usage
		}
	}
	require.NoError(t, <-errs)
	return b.String(), usage
}

func TestOllama_ChatReportsUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		var req ollamaChatReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.False(t, req.Stream)
		require.Len(t, req.Messages, 1)
		fmt.Fprint(w, `{"message":{"role":"assistant","content":"Keep your wrist loose."},"done":true,"prompt_eval_count":12,"eval_count":5}`)
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "llama3")
	got, err := p.Chat(context.Background(), []Message{{Role: "user", Content: "tips?"}})
	require.NoError(t, err)
	require.Equal(t, "Keep your wrist loose.", got.Content)
	require.Equal(t, &Usage{InputTokens: 12, OutputTokens: 5}, got.Usage)
}

func TestOllama_StreamChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"Bend "},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"your knees."},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true,"prompt_eval_count":7,"eval_count":3}`)
	}))
	defer srv.Close()

	chunks, errs := NewOllamaProvider(srv.URL, "llama3").StreamChat(context.Background(), nil)
	text, usage := collect(t, chunks, errs)
	require.Equal(t, "Bend your knees.", text)
	require.Equal(t, 3, usage.OutputTokens)
}

func TestOllama_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewOllamaProvider(srv.URL, "llama3").Chat(context.Background(), nil)
	require.ErrorContains(t, err, "status 502")
}

func TestOpenRouter_ChatAndStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		var req openRouterChatReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if !req.Stream {
			fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"Split step earlier."}}],"usage":{"prompt_tokens":9,"completion_tokens":4}}`)
			return
		}
		require.NotNil(t, req.StreamOptions)
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Split \"}}]}\n\n")
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"step.\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":9,\"completion_tokens\":2}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := NewOpenRouterProvider(srv.URL, "k", "m", "", "")
	got, err := p.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	require.Equal(t, "Split step earlier.", got.Content)
	require.Equal(t, 9, got.Usage.InputTokens)

	chunks, errs := p.StreamChat(context.Background(), nil)
	text, usage := collect(t, chunks, errs)
	require.Equal(t, "Split step.", text)
	require.Equal(t, 2, usage.OutputTokens)
}

func TestOpenRouter_RequiresKey(t *testing.T) {
	_, err := NewOpenRouterProvider("", "", "m", "", "").Chat(context.Background(), nil)
	require.ErrorContains(t, err, "api key")
}

func TestRegistryFromConfig(t *testing.T) {
	r := NewRegistryFromConfig(config.Config{OllamaBaseURL: "http://x", OllamaModel: "llama3"})
	require.Equal(t, []string{"ollama", "openrouter"}, r.Names())

	p, err := r.Get(context.Background(), "Ollama", "")
	require.NoError(t, err)
	require.Equal(t, "llama3", p.(*OllamaProvider).Model)

	_, err = r.Get(context.Background(), "openrouter", "")
	require.Error(t, err)
	_, err = r.Get(context.Background(), "nope", "")
	require.ErrorContains(t, err, "unknown ai provider")
}
