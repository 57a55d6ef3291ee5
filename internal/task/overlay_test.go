package task

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/sportlens/internal/logger"
)

func TestCombine_UnionsAndSorts(t *testing.T) {
	authTasks := []Task{{ID: "a1", Sport: "tennis", Status: StatusProcessing, CreatedAt: t0.Add(2 * time.Hour)}}
	guest := []Task{{ID: "guest-1", Sport: "Tennis", Status: StatusPending, CreatedAt: t0.Add(3 * time.Hour)}}
	all := Combine(authTasks, guest, Samples())

	require.Len(t, all, 2+len(Samples()))
	assert.Equal(t, "guest-1", all[0].ID)
	assert.Equal(t, "a1", all[1].ID)
	assert.Equal(t, ProvenanceAuthenticated, all[1].Provenance)
	assert.Equal(t, ProvenanceSample, all[len(all)-1].Provenance)

	tennis := FilterTasks(all, Filter{Sport: "tennis"})
	assert.Len(t, tennis, 3)

	onlyGuest := FilterTasks(all, Filter{Provenance: ProvenanceGuest})
	require.Len(t, onlyGuest, 1)
	assert.Equal(t, "guest-1", onlyGuest[0].ID)

	done := FilterTasks(all, Filter{Status: StatusCompleted})
	assert.Len(t, done, len(Samples()))
}

func TestCombine_ProvenanceNotIDDecidesSource(t *testing.T) {
	// a backend id that happens to look like a guest id stays authenticated
	all := Combine([]Task{{ID: "guest-lookalike", CreatedAt: t0}}, nil, nil)
	require.Len(t, all, 1)
	assert.Equal(t, ProvenanceAuthenticated, all[0].Provenance)
}

func TestSortNewestFirst_TieBreaksOnProvenance(t *testing.T) {
	ts := []Task{
		{ID: "s", Provenance: ProvenanceSample, CreatedAt: t0},
		{ID: "g", Provenance: ProvenanceGuest, CreatedAt: t0},
		{ID: "a", Provenance: ProvenanceAuthenticated, CreatedAt: t0},
	}
	SortNewestFirst(ts)
	assert.Equal(t, []string{"a", "g", "s"}, []string{ts[0].ID, ts[1].ID, ts[2].ID})
}

type keySigner struct {
	calls atomic.Int32
}

func (s *keySigner) SignURL(_ context.Context, key string) (string, error) {
	s.calls.Add(1)
	if strings.Contains(key, "basketball") {
		return "", errors.New("forbidden")
	}
	return "https://signed.example/" + key + "?sig=1", nil
}

func TestRefreshSampleURLs_KeepsOldURLOnFailure(t *testing.T) {
	in := Samples()
	signer := &keySigner{}
	out := RefreshSampleURLs(context.Background(), signer, in, logger.Nop())

	require.Len(t, out, len(in))
	assert.Equal(t, int32(4), signer.calls.Load(), "two keyed samples with two keys each")

	assert.Equal(t, "https://signed.example/samples/tennis-serve.mp4?sig=1", out[0].VideoURL)
	assert.Equal(t, "https://signed.example/samples/tennis-serve.jpg?sig=1", out[0].ThumbnailURL)
	assert.Equal(t, in[1].VideoURL, out[1].VideoURL)
	assert.Equal(t, in[2], out[2], "samples without keys are untouched")

	// the fixed list itself is never modified
	assert.Equal(t, in[0].VideoURL, Samples()[0].VideoURL)
}
