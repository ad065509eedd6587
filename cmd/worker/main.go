package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sabaipics/pipeline/internal/classify"
	"github.com/sabaipics/pipeline/internal/cleanup"
	"github.com/sabaipics/pipeline/internal/config"
	"github.com/sabaipics/pipeline/internal/database"
	"github.com/sabaipics/pipeline/internal/indexing"
	"github.com/sabaipics/pipeline/internal/logger"
	"github.com/sabaipics/pipeline/internal/observability"
	"github.com/sabaipics/pipeline/internal/provider"
	"github.com/sabaipics/pipeline/internal/provider/rekognition"
	"github.com/sabaipics/pipeline/internal/queue"
	"github.com/sabaipics/pipeline/internal/ratelimiter"
	"github.com/sabaipics/pipeline/internal/repositories"
	"github.com/sabaipics/pipeline/internal/storage"
	"github.com/sabaipics/pipeline/internal/upload"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config: ", err)
	}

	log := logger.Init("sabaipics-pipeline", cfg.Env, logger.ParseLevelFromEnv())

	shutdownOTel, err := observability.InitOTel(context.Background(), "sabaipics-pipeline")
	if err != nil {
		log.Warn("failed to initialize OpenTelemetry", "error", err)
		shutdownOTel = func(context.Context) error { return nil }
	}
	defer func() {
		if err := shutdownOTel(context.Background()); err != nil {
			log.Error("otel shutdown failed", "error", err)
		}
	}()

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	log.Info("connected to postgres")

	rdb, err := queue.NewRedisClient(cfg.RedisURL)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()
	log.Info("connected to redis")

	objectStore, err := storage.NewR2Client(storage.Config{
		AccountID: cfg.R2AccountID, AccessKeyID: cfg.R2AccessKeyID,
		SecretAccessKey: cfg.R2SecretAccessKey, BucketName: cfg.R2BucketName, PublicURL: cfg.R2PublicURL,
	})
	if err != nil {
		log.Error("failed to init object store", "error", err)
		os.Exit(1)
	}

	faceProvider := mustBuildProvider(cfg, db.DB.DB, log)

	rl := ratelimiter.New(cfg.RateLimiter.TPS, cfg.RateLimiter.SafeIntervalMs())

	photographers := repositories.NewPhotographerRepository(db)
	ledger := repositories.NewCreditLedgerRepository(db)
	photos := repositories.NewPhotoRepository(db)
	intents := repositories.NewUploadIntentRepository(db)
	events := repositories.NewEventRepository(db)
	faces := repositories.NewFaceRepository(db)

	uploadStore := repositories.NewTransactionalUploadStore(db, photographers, ledger, photos, intents)
	indexStore := repositories.NewTransactionalIndexStore(db, photos, faces)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	uploadCounters, err := observability.NewPipelineCounters("upload")
	if err != nil {
		log.Error("failed to register upload metrics", "error", err)
		os.Exit(1)
	}
	indexCounters, err := observability.NewPipelineCounters("indexing")
	if err != nil {
		log.Error("failed to register indexing metrics", "error", err)
		os.Exit(1)
	}
	cleanupCounters, err := observability.NewPipelineCounters("cleanup")
	if err != nil {
		log.Error("failed to register cleanup metrics", "error", err)
		os.Exit(1)
	}

	uploadsStream, err := queue.NewStream(ctx, rdb, queue.StreamUploadsNotify, queue.GroupUploadProcessor)
	if err != nil {
		log.Error("failed to bind uploads-notify stream", "error", err)
		os.Exit(1)
	}
	indexStream, err := queue.NewStream(ctx, rdb, queue.StreamPhotoIndexing, queue.GroupIndexProcessor)
	if err != nil {
		log.Error("failed to bind photo-indexing stream", "error", err)
		os.Exit(1)
	}
	cleanupStream, err := queue.NewStream(ctx, rdb, queue.StreamEventCleanup, queue.GroupCleanupEngine)
	if err != nil {
		log.Error("failed to bind event-cleanup stream", "error", err)
		os.Exit(1)
	}

	uploadProcessor := upload.New(objectStore, intents, photos, uploadStore, indexStream, upload.Config{
		MaxFileSize: cfg.MaxFileSize, NormalizeMaxDim: cfg.Normalize.MaxDim, NormalizeQuality: cfg.Normalize.Quality,
	}, log)

	indexProcessor := indexing.New(objectStore, events, faceProvider, indexStore, photos, faces, rl, indexing.Config{
		ProviderMaxBytes: cfg.ProviderMaxBytes, MaxFacesPerImage: cfg.MaxFacesPerImage, QualityFilter: cfg.QualityFilter,
	}, log)

	reconciler := cleanup.NewReconciler(events, photos, faceProvider, log)
	scanner := cleanup.NewScanner(events, cleanupStream, cfg.CleanupBatchSize, log)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		runUploadLoop(ctx, uploadsStream, uploadProcessor, uploadCounters, cfg.Backoff, log)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runIndexLoop(ctx, indexStream, indexProcessor, indexCounters, cfg.Backoff, log)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runCleanupLoop(ctx, cleanupStream, reconciler, cleanupCounters, cfg.Backoff, log)
	}()

	c := cron.New()
	_, err = c.AddFunc("@daily", func() {
		cutoff := cfg.RetentionCutoff(time.Now())
		if _, err := scanner.Run(ctx, cutoff, time.Now()); err != nil {
			log.Error("cleanup scan failed", "error", err)
		}
	})
	if err != nil {
		log.Error("failed to schedule cleanup scan", "error", err)
		os.Exit(1)
	}
	c.Start()
	defer c.Stop()

	log.Info("pipeline worker started", "env", cfg.Env, "provider", cfg.ProviderKind)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down pipeline worker")

	cancel()
	waitWithTimeout(&wg, 30*time.Second, log)
	log.Info("pipeline worker exited")
}

func mustBuildProvider(cfg *config.Config, sqlDB *sql.DB, log *slog.Logger) provider.Provider {
	switch cfg.ProviderKind {
	case "selfhosted":
		log.Error("selfhosted provider requires a configured Detector; wire one at startup before enabling FACE_PROVIDER=selfhosted")
		os.Exit(1)
		return nil
	default:
		return rekognition.New(rekognition.Config{
			Region: os.Getenv("AWS_REGION"), AccessKeyID: os.Getenv("AWS_ACCESS_KEY_ID"), SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		})
	}
}

const (
	consumerName   = "worker-1"
	claimMinIdle   = 60 * time.Second
	batchBlockTime = 5 * time.Second
	readErrorPause = 2 * time.Second
)

func runUploadLoop(ctx context.Context, s *queue.Stream, p *upload.Processor, counters *observability.PipelineCounters, backoff config.Backoff, log *slog.Logger) {
	for {
		if ctx.Err() != nil {
			return
		}
		msgs, err := nextBatch(ctx, s, 10)
		if err != nil {
			log.Error("upload: read batch failed", "error", err)
			sleepOrDone(ctx, readErrorPause)
			continue
		}
		for _, m := range msgs {
			var ev queue.ObjectEvent
			if err := json.Unmarshal(m.Payload, &ev); err != nil {
				log.Error("upload: malformed message, acking", "id", m.ID, "error", err)
				_ = s.Ack(ctx, m.ID)
				continue
			}
			err := p.Handle(ctx, ev)
			ackOrLog(ctx, s, m, err, counters, backoff, log, "upload")
		}
	}
}

func runIndexLoop(ctx context.Context, s *queue.Stream, p *indexing.Processor, counters *observability.PipelineCounters, backoff config.Backoff, log *slog.Logger) {
	for {
		if ctx.Err() != nil {
			return
		}
		msgs, err := nextBatch(ctx, s, 10)
		if err != nil {
			log.Error("indexing: read batch failed", "error", err)
			sleepOrDone(ctx, readErrorPause)
			continue
		}
		if len(msgs) == 0 {
			continue
		}

		jobs := make([]queue.PhotoJob, 0, len(msgs))
		byIndex := make([]queue.Message, 0, len(msgs))
		for _, m := range msgs {
			var job queue.PhotoJob
			if err := json.Unmarshal(m.Payload, &job); err != nil {
				log.Error("indexing: malformed message, acking", "id", m.ID, "error", err)
				_ = s.Ack(ctx, m.ID)
				continue
			}
			jobs = append(jobs, job)
			byIndex = append(byIndex, m)
		}

		outcomes := p.ProcessBatch(ctx, jobs)
		for i, outcome := range outcomes {
			ackOrLog(ctx, s, byIndex[i], outcome.Err, counters, backoff, log, "indexing")
		}
	}
}

func runCleanupLoop(ctx context.Context, s *queue.Stream, r *cleanup.Reconciler, counters *observability.PipelineCounters, backoff config.Backoff, log *slog.Logger) {
	for {
		if ctx.Err() != nil {
			return
		}
		msgs, err := nextBatch(ctx, s, 10)
		if err != nil {
			log.Error("cleanup: read batch failed", "error", err)
			sleepOrDone(ctx, readErrorPause)
			continue
		}
		for _, m := range msgs {
			var job queue.CleanupJob
			if err := json.Unmarshal(m.Payload, &job); err != nil {
				log.Error("cleanup: malformed message, acking", "id", m.ID, "error", err)
				_ = s.Ack(ctx, m.ID)
				continue
			}
			err := r.Reconcile(ctx, job.EventID)
			ackOrLog(ctx, s, m, err, counters, backoff, log, "cleanup")
		}
	}
}

// nextBatch reads new messages, falling back to stale reclaimed ones when
// nothing new has arrived, so a crashed worker's in-flight messages are
// eventually redelivered (spec section 5).
func nextBatch(ctx context.Context, s *queue.Stream, count int64) ([]queue.Message, error) {
	msgs, err := s.ReadBatch(ctx, consumerName, count, batchBlockTime)
	if err != nil {
		return nil, err
	}
	if len(msgs) > 0 {
		return msgs, nil
	}
	return s.ClaimStale(ctx, consumerName, claimMinIdle, count)
}

// ackOrLog decides ack vs retry for one message's outcome. A retryable or
// throttle classification is left pending for Redis's own stale-claim
// redelivery (spec section 5), but first pauses this consumer's loop for
// the classified kind's backoff shape (spec section 4.5/§7: "retry with
// getBackoffDelay" / "retry with getThrottleBackoffDelay"), keyed by the
// message's redelivery count (queue.Message.Attempts) so later attempts
// wait longer.
func ackOrLog(ctx context.Context, s *queue.Stream, msg queue.Message, err error, counters *observability.PipelineCounters, backoff config.Backoff, log *slog.Logger, component string) {
	classified, ok := err.(*classify.Error)
	if err != nil && !ok {
		classified = classify.Retryable("unclassified", "", err)
	}
	if classify.Ack(classified) {
		if ackErr := s.Ack(ctx, msg.ID); ackErr != nil {
			log.Error(fmt.Sprintf("%s: ack failed", component), "id", msg.ID, "error", ackErr)
			return
		}
		if classified != nil && classified.Kind == classify.KindTerminal {
			counters.Failed(ctx)
		} else {
			counters.Processed(ctx)
		}
		return
	}
	counters.Retried(ctx)
	log.Warn(fmt.Sprintf("%s: message left pending for retry", component), "id", msg.ID, "error", err)
	sleepOrDone(ctx, retryBackoffDelay(classified, msg.Attempts, backoff))
}

// retryBackoffDelay picks the normal or throttle backoff curve by the
// classified kind.
func retryBackoffDelay(classified *classify.Error, attempts int, backoff config.Backoff) time.Duration {
	if classified != nil && classified.Kind == classify.KindThrottle {
		return secondsToDuration(classify.ThrottleBackoffDelay(attempts, backoff.ThrottleBaseSeconds, backoff.CapSeconds))
	}
	return secondsToDuration(classify.BackoffDelay(attempts, backoff.BaseSeconds, backoff.CapSeconds))
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// sleepOrDone pauses between read retries, returning early if the worker is
// shutting down instead of sleeping the full interval.
func sleepOrDone(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

func waitWithTimeout(wg *sync.WaitGroup, timeout time.Duration, log *slog.Logger) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		log.Warn("shutdown timed out waiting for consumer loops")
	}
}
