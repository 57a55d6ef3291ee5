package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, 5*time.Second, retryDelay(0))
	assert.Equal(t, 10*time.Second, retryDelay(1))
	assert.Equal(t, 40*time.Second, retryDelay(3))
	assert.Equal(t, 5*time.Minute, retryDelay(10))
}

func TestWorkerConcurrency(t *testing.T) {
	t.Setenv("WORKER_CONCURRENCY", "")
	assert.Equal(t, 2, workerConcurrency())
	t.Setenv("WORKER_CONCURRENCY", "8")
	assert.Equal(t, 8, workerConcurrency())
	t.Setenv("WORKER_CONCURRENCY", "500")
	assert.Equal(t, 50, workerConcurrency())
	t.Setenv("WORKER_CONCURRENCY", "x")
	assert.Equal(t, 2, workerConcurrency())
}
