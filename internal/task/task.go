package task

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/suPer8Hu/sportlens/internal/common"
)

var ErrNotFound = errors.New("task: not found")

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Active reports whether the task is still being worked on.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusProcessing
}

func (s Status) valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Provenance says which store a task came from. It is fixed when the
// record is built and decides how the record is persisted.
type Provenance string

const (
	ProvenanceAuthenticated Provenance = "authenticated"
	ProvenanceGuest         Provenance = "guest"
	ProvenanceSample        Provenance = "sample"
)

const (
	GuestPrefix  = "guest-"
	SamplePrefix = "sample-"
)

type Task struct {
	ID         string     `json:"id"`
	Provenance Provenance `json:"provenance,omitempty"`

	Type  string `json:"type"`
	Sport string `json:"sport"`
	JobID string `json:"job_id,omitempty"`

	// *Key fields are durable storage keys; the matching URL is a signed,
	// expiring view of the same object.
	VideoURL     string  `json:"video_url,omitempty"`
	VideoKey     string  `json:"video_key,omitempty"`
	ThumbnailURL string  `json:"thumbnail_url,omitempty"`
	ThumbnailKey string  `json:"thumbnail_key,omitempty"`
	DurationSec  float64 `json:"duration_sec,omitempty"`

	Status Status `json:"status"`
	// EstimatedComputeTime is in seconds. Negative values are the time
	// still remaining; positive values are the total expected runtime.
	EstimatedComputeTime *float64 `json:"estimated_compute_time,omitempty"`
	ResultKey            string   `json:"result_key,omitempty"`
	Error                string   `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewTask is the user input for a task.
type NewTask struct {
	Type         string  `json:"type"`
	Sport        string  `json:"sport" binding:"required"`
	VideoURL     string  `json:"video_url"`
	VideoKey     string  `json:"video_key"`
	ThumbnailURL string  `json:"thumbnail_url"`
	ThumbnailKey string  `json:"thumbnail_key"`
	DurationSec  float64 `json:"duration_sec"`
}

// NewGuestTask builds a local-only task for a signed-out user.
func NewGuestTask(in NewTask, now time.Time) (Task, error) {
	id, err := common.NewULID()
	if err != nil {
		return Task{}, fmt.Errorf("guest task id: %w", err)
	}
	t := Task{
		ID:           GuestPrefix + strings.ToLower(id),
		Provenance:   ProvenanceGuest,
		Type:         in.Type,
		Sport:        strings.TrimSpace(in.Sport),
		VideoURL:     in.VideoURL,
		VideoKey:     in.VideoKey,
		ThumbnailURL: in.ThumbnailURL,
		ThumbnailKey: in.ThumbnailKey,
		DurationSec:  in.DurationSec,
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if t.Type == "" {
		t.Type = "analysis"
	}
	return t, nil
}

// Normalize fills fields older local records may lack. Records written
// before provenance was stored derive it once from the id prefix.
func (t Task) Normalize() Task {
	if t.Provenance == "" {
		switch {
		case strings.HasPrefix(t.ID, GuestPrefix):
			t.Provenance = ProvenanceGuest
		case strings.HasPrefix(t.ID, SamplePrefix):
			t.Provenance = ProvenanceSample
		default:
			t.Provenance = ProvenanceAuthenticated
		}
	}
	if !t.Status.valid() {
		t.Status = StatusPending
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	return t
}

// Remaining is the expected time left for an active task. ok is false when
// the task is terminal or carries no estimate. The result is negative once
// the task has run past its estimate.
func (t Task) Remaining(now time.Time) (time.Duration, bool) {
	if !t.Status.Active() || t.EstimatedComputeTime == nil {
		return 0, false
	}
	eta := *t.EstimatedComputeTime
	if eta < 0 {
		return seconds(-eta), true
	}
	start := t.CreatedAt
	if start.IsZero() {
		return seconds(eta), true
	}
	return seconds(eta) - now.Sub(start), true
}

func (t Task) Overdue(now time.Time) bool {
	rem, ok := t.Remaining(now)
	return ok && rem < 0
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
