package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/sportlens/internal/app"
	"github.com/suPer8Hu/sportlens/internal/auth"
	"github.com/suPer8Hu/sportlens/internal/config"
	"github.com/suPer8Hu/sportlens/internal/logger"
	"github.com/suPer8Hu/sportlens/internal/store/rabbitmq"
)

const maxAttempts = 5

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

// retryDelay backs off exponentially from 5s, capped at 5m.
func retryDelay(attempt int) time.Duration {
	d := 5 * time.Second
	for i := 0; i < attempt && d < 5*time.Minute; i++ {
		d *= 2
	}
	return min(d, 5*time.Minute)
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	lg, err := logger.New(cfg.LogMode)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer lg.Sync()
	lg = lg.With("service", "SyncWorker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, lg, app.Options{Queue: true})
	if err != nil {
		lg.Fatal("init app failed", "error", err)
	}
	defer a.Close()
	if a.Publisher == nil {
		lg.Fatal("worker needs a reachable RABBIT_URL")
	}

	// strict concurrency control
	concurrency := workerConcurrency()

	consumer, msgs, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, cfg.RabbitEventQueue, concurrency)
	if err != nil {
		lg.Fatal("consume failed", "error", err)
	}
	defer consumer.Close()

	lg.Info("worker started", "queue", cfg.RabbitQueue, "concurrency", concurrency)

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				handleDelivery(ctx, a, lg.With("worker", workerID), d)
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			lg.Info("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				lg.Error("delivery channel closed")
				close(jobs)
				wg.Wait()
				return
			}
			jobs <- d
		}
	}
}

// handleDelivery runs one sync request. Failures are parked on the retry
// queue until maxAttempts, then dead-lettered.
func handleDelivery(ctx context.Context, a *app.App, lg *logger.Logger, d amqp.Delivery) {
	req, err := rabbitmq.DecodeSyncRequest(d.Body)
	if err != nil {
		lg.Warn("bad message", "error", err)
		_ = d.Nack(false, false)
		return
	}
	sess, err := auth.SessionFromToken(req.AccessToken, req.RefreshToken, a.Cfg.JWTSecret)
	if err != nil || sess.UserID != req.UserID {
		lg.Warn("sync request token rejected", "user_id", req.UserID, "error", err)
		_ = d.Nack(false, false)
		return
	}

	start := time.Now()
	err = a.SyncFor(ctx, sess)
	if err == nil {
		if err := d.Ack(false); err != nil {
			lg.Warn("ack failed", "user_id", req.UserID, "error", err)
		}
		if cost := time.Since(start); cost > 2*time.Second {
			lg.Info("sync slow", "user_id", req.UserID, "reason", req.Reason, "cost", cost)
		}
		return
	}

	attempt := rabbitmq.Attempt(d)
	lg.Warn("sync failed", "user_id", req.UserID, "attempt", attempt, "cost", time.Since(start), "error", err)
	if attempt+1 >= maxAttempts {
		_ = d.Nack(false, false)
		return
	}
	if err := a.Publisher.Retry(ctx, d, retryDelay(attempt)); err != nil {
		lg.Error("schedule retry failed", "user_id", req.UserID, "error", err)
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}
