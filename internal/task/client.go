package task

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	ErrUnauthorized    = errors.New("task: unauthorized")
	ErrStillProcessing = errors.New("task: result not ready")
)

// UserError is a backend failure worth showing to the user as is.
type UserError struct {
	Op      string
	Status  int
	Message string
}

func (e *UserError) Error() string { return e.Message }

// Client talks to the task backend. Every call carries the caller's bearer
// token; the client itself holds no session.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

type listResp struct {
	Tasks []Task `json:"tasks"`
}

type batchReq struct {
	Tasks []Task `json:"tasks"`
}

type batchResp struct {
	Created int `json:"created"`
}

type signReq struct {
	Key string `json:"key"`
}

type signResp struct {
	URL string `json:"url"`
}

func (c *Client) List(ctx context.Context, token string) ([]Task, error) {
	var out listResp
	if _, err := c.do(ctx, "list tasks", http.MethodGet, "/tasks", token, nil, &out); err != nil {
		return nil, err
	}
	return owned(out.Tasks), nil
}

func (c *Client) Status(ctx context.Context, token, id string) (*Task, error) {
	var t Task
	if _, err := c.do(ctx, "check task status", http.MethodGet, "/tasks/"+url.PathEscape(id), token, nil, &t); err != nil {
		return nil, err
	}
	t = owned([]Task{t})[0]
	return &t, nil
}

func (c *Client) Create(ctx context.Context, token string, in NewTask) (*Task, error) {
	var t Task
	if _, err := c.do(ctx, "create task", http.MethodPost, "/tasks", token, in, &t); err != nil {
		return nil, err
	}
	t = owned([]Task{t})[0]
	return &t, nil
}

func (c *Client) Delete(ctx context.Context, token, id string) error {
	_, err := c.do(ctx, "delete task", http.MethodDelete, "/tasks/"+url.PathEscape(id), token, nil, nil)
	return err
}

// FetchResult returns the analysis document of a finished task, or
// ErrStillProcessing while the backend answers 202.
func (c *Client) FetchResult(ctx context.Context, token, id string) (json.RawMessage, error) {
	var raw json.RawMessage
	status, err := c.do(ctx, "fetch result", http.MethodPost, "/tasks/"+url.PathEscape(id)+"/result", token, struct{}{}, &raw)
	if err != nil {
		return nil, err
	}
	if status == http.StatusAccepted {
		return nil, ErrStillProcessing
	}
	return raw, nil
}

// BatchCreate creates all tasks in one request and returns how many the
// backend stored.
func (c *Client) BatchCreate(ctx context.Context, token string, tasks []Task) (int, error) {
	var out batchResp
	if _, err := c.do(ctx, "migrate tasks", http.MethodPost, "/tasks/batch", token, batchReq{Tasks: tasks}, &out); err != nil {
		return 0, err
	}
	return out.Created, nil
}

func (c *Client) SignURL(ctx context.Context, token, key string) (string, error) {
	var out signResp
	if _, err := c.do(ctx, "sign url", http.MethodPost, "/media/sign", token, signReq{Key: key}, &out); err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", fmt.Errorf("sign url: empty url for %q", key)
	}
	return out.URL, nil
}

func (c *Client) do(ctx context.Context, op, method, path, token string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return 0, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return resp.StatusCode, ErrUnauthorized
	case resp.StatusCode == http.StatusAccepted:
		return resp.StatusCode, nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return resp.StatusCode, &UserError{Op: op, Status: resp.StatusCode, Message: errorMessage(op, resp.StatusCode, raw)}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("%s: decode: %w", op, err)
	}
	return resp.StatusCode, nil
}

// errorMessage prefers the backend's own wording.
func errorMessage(op string, status int, raw []byte) string {
	var body struct {
		Error   string `json:"error"`
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil {
		for _, m := range []string{body.Detail, body.Error, body.Message} {
			if strings.TrimSpace(m) != "" {
				return fmt.Sprintf("Failed to %s: %s", op, m)
			}
		}
	}
	return fmt.Sprintf("Failed to %s (status %d)", op, status)
}

func owned(ts []Task) []Task {
	for i := range ts {
		ts[i].Provenance = ProvenanceAuthenticated
		ts[i] = ts[i].Normalize()
	}
	if ts == nil {
		ts = []Task{}
	}
	return ts
}
