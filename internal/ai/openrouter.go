package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type OpenRouterProvider struct {
	BaseURL string
	APIKey  string
	Model   string
	SiteURL string
	AppName string
	Client  *http.Client
}

func NewOpenRouterProvider(baseURL, apiKey, model, siteURL, appName string) *OpenRouterProvider {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	return &OpenRouterProvider{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		SiteURL: siteURL,
		AppName: appName,
		Client:  &http.Client{Timeout: 90 * time.Second},
	}
}

type openRouterMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openRouterStreamOpts struct {
	IncludeUsage bool `json:"include_usage"`
}

type openRouterChatReq struct {
	Model         string                `json:"model"`
	Messages      []openRouterMsg       `json:"messages"`
	Stream        bool                  `json:"stream"`
	StreamOptions *openRouterStreamOpts `json:"stream_options,omitempty"`
}

type openRouterUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type openRouterError struct {
	Message string `json:"message"`
}

// openRouterResp covers both the completion body and a streamed SSE event;
// streams fill Delta, completions fill Message.
type openRouterResp struct {
	Choices []struct {
		Message openRouterMsg `json:"message"`
		Delta   openRouterMsg `json:"delta"`
	} `json:"choices"`
	Usage *openRouterUsage `json:"usage,omitempty"`
	Error *openRouterError `json:"error,omitempty"`
}

func (r openRouterResp) usage() *Usage {
	if r.Usage == nil {
		return nil
	}
	return &Usage{InputTokens: r.Usage.PromptTokens, OutputTokens: r.Usage.CompletionTokens}
}

func (r openRouterResp) err() error {
	if r.Error != nil && r.Error.Message != "" {
		return errors.New(r.Error.Message)
	}
	return nil
}

func (p *OpenRouterProvider) post(ctx context.Context, messages []Message, stream bool) (*http.Response, error) {
	if p.Client == nil {
		return nil, errors.New("openrouter: http client is nil")
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return nil, errors.New("openrouter: api key is required")
	}
	model := strings.TrimSpace(p.Model)
	if model == "" {
		return nil, errors.New("openrouter: model is required")
	}

	body := openRouterChatReq{Model: model, Stream: stream, Messages: make([]openRouterMsg, 0, len(messages))}
	if stream {
		body.StreamOptions = &openRouterStreamOpts{IncludeUsage: true}
	}
	for _, m := range messages {
		body.Messages = append(body.Messages, openRouterMsg{Role: m.Role, Content: m.Content})
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/chat/completions", strings.TrimRight(p.BaseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	if p.SiteURL != "" {
		req.Header.Set("HTTP-Referer", p.SiteURL)
	}
	if p.AppName != "" {
		req.Header.Set("X-Title", p.AppName)
	}

	client := p.Client
	if stream && client.Timeout > 0 {
		c := *client
		c.Timeout = 0
		client = &c
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		msg := strings.TrimSpace(string(raw))
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("openrouter: %s", msg)
	}
	return resp, nil
}

func (p *OpenRouterProvider) Chat(ctx context.Context, messages []Message) (Completion, error) {
	resp, err := p.post(ctx, messages, false)
	if err != nil {
		return Completion{}, err
	}
	defer resp.Body.Close()

	var decoded openRouterResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Completion{}, err
	}
	if err := decoded.err(); err != nil {
		return Completion{}, err
	}
	if len(decoded.Choices) == 0 || decoded.Choices[0].Message.Content == "" {
		return Completion{}, ErrEmptyReply
	}
	return Completion{Content: decoded.Choices[0].Message.Content, Usage: decoded.usage()}, nil
}

// StreamChat streams assistant content chunks via SSE. The usage event
// that closes an OpenRouter stream arrives as a text-less Chunk.
func (p *OpenRouterProvider) StreamChat(ctx context.Context, messages []Message) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		resp, err := p.post(ctx, messages, true)
		if err != nil {
			errs <- err
			return
		}
		defer resp.Body.Close()

		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}
			var decoded openRouterResp
			if err := json.Unmarshal([]byte(data), &decoded); err != nil {
				errs <- err
				return
			}
			if err := decoded.err(); err != nil {
				errs <- err
				return
			}
			c := Chunk{Usage: decoded.usage()}
			if len(decoded.Choices) > 0 {
				c.Text = decoded.Choices[0].Delta.Content
			}
			if c.Text == "" && c.Usage == nil {
				continue
			}
			select {
			case chunks <- c:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
		if err := sc.Err(); err != nil {
			errs <- err
		}
	}()

	return chunks, errs
}
