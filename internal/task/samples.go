package task

import (
	"context"
	"time"

	"github.com/suPer8Hu/sportlens/internal/logger"
	"golang.org/x/sync/errgroup"
)

// Signer turns a durable storage key into a time-limited URL.
type Signer interface {
	SignURL(ctx context.Context, key string) (string, error)
}

var sampleEpoch = time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

var samples = []Task{
	{
		ID:           SamplePrefix + "tennis-serve",
		Type:         "analysis",
		Sport:        "tennis",
		VideoURL:     "https://storage.googleapis.com/sportlens-samples/tennis-serve.mp4",
		VideoKey:     "samples/tennis-serve.mp4",
		ThumbnailURL: "https://storage.googleapis.com/sportlens-samples/tennis-serve.jpg",
		ThumbnailKey: "samples/tennis-serve.jpg",
		DurationSec:  42,
		ResultKey:    "samples/tennis-serve.result.json",
	},
	{
		ID:           SamplePrefix + "basketball-jumpshot",
		Type:         "analysis",
		Sport:        "basketball",
		VideoURL:     "https://storage.googleapis.com/sportlens-samples/basketball-jumpshot.mp4",
		VideoKey:     "samples/basketball-jumpshot.mp4",
		ThumbnailURL: "https://storage.googleapis.com/sportlens-samples/basketball-jumpshot.jpg",
		ThumbnailKey: "samples/basketball-jumpshot.jpg",
		DurationSec:  28,
		ResultKey:    "samples/basketball-jumpshot.result.json",
	},
	{
		ID:           SamplePrefix + "soccer-penalty",
		Type:         "analysis",
		Sport:        "soccer",
		VideoURL:     "https://storage.googleapis.com/sportlens-samples/soccer-penalty.mp4",
		ThumbnailURL: "https://storage.googleapis.com/sportlens-samples/soccer-penalty.jpg",
		DurationSec:  19,
	},
}

// Samples returns a fresh copy of the built-in demo tasks.
func Samples() []Task {
	out := make([]Task, len(samples))
	for i, s := range samples {
		s.Provenance = ProvenanceSample
		s.Status = StatusCompleted
		s.CreatedAt = sampleEpoch.Add(-time.Duration(i) * time.Hour)
		s.UpdatedAt = s.CreatedAt
		done := s.CreatedAt
		s.CompletedAt = &done
		out[i] = s
	}
	return out
}

// RefreshSampleURLs re-signs every durable key in parallel. A key that
// fails to sign keeps the URL it already had.
func RefreshSampleURLs(ctx context.Context, signer Signer, in []Task, log *logger.Logger) []Task {
	out := make([]Task, len(in))
	copy(out, in)
	if signer == nil {
		return out
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i := range out {
		t := &out[i]
		if t.VideoKey != "" {
			g.Go(func() error {
				if u, ok := sign(gctx, signer, t.VideoKey, log); ok {
					t.VideoURL = u
				}
				return nil
			})
		}
		if t.ThumbnailKey != "" {
			g.Go(func() error {
				if u, ok := sign(gctx, signer, t.ThumbnailKey, log); ok {
					t.ThumbnailURL = u
				}
				return nil
			})
		}
	}
	_ = g.Wait()
	return out
}

func sign(ctx context.Context, signer Signer, key string, log *logger.Logger) (string, bool) {
	u, err := signer.SignURL(ctx, key)
	if err != nil || u == "" {
		log.Warn("sample url refresh failed", "key", key, "error", err)
		return "", false
	}
	return u, true
}
