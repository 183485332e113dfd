package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/visionquest-ai/backend/internal/answer"
	"github.com/visionquest-ai/backend/internal/config"
	"github.com/visionquest-ai/backend/internal/db"
	"github.com/visionquest-ai/backend/internal/dedup"
	"github.com/visionquest-ai/backend/internal/etl"
	"github.com/visionquest-ai/backend/internal/events"
	"github.com/visionquest-ai/backend/internal/extract"
	"github.com/visionquest-ai/backend/internal/jobs"
	"github.com/visionquest-ai/backend/internal/logger"
	"github.com/visionquest-ai/backend/internal/pipeline"
	speechsvc "github.com/visionquest-ai/backend/internal/speech"
	"github.com/visionquest-ai/backend/internal/storage"
	"github.com/visionquest-ai/backend/internal/vision"
)

const maxRetries = 3

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.Mode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatal("db connect", "err", err)
	}
	repo := jobs.NewRepo(gdb)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewGCSStore(ctx, log)
	if err != nil {
		log.Fatal("storage client", "err", err)
	}
	defer store.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	guard := dedup.NewGuard(rdb, cfg.ClaimTTL)

	reg := answer.NewRegistry()
	reg.Register("ollama", func(_ context.Context, model string) (answer.Provider, error) {
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.AIModel
		}
		return answer.NewOllamaProvider(cfg.OllamaBaseURL, m), nil
	})
	reg.Register("openrouter", func(_ context.Context, model string) (answer.Provider, error) {
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.AIModel
		}
		return answer.NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey,
			m, cfg.OpenRouterSiteURL, cfg.OpenRouterAppName), nil
	})
	engine := answer.NewEngine(answer.NewKBClient(cfg.KBBaseURL), reg, cfg.AIProvider, cfg.AIModel, cfg.KBTopK)

	docs, err := extract.New(ctx, log, extract.Config{
		ProjectID:    cfg.GCPProjectID,
		Location:     cfg.DocAILocation,
		ProcessorID:  cfg.DocAIProcessorID,
		SyncMaxBytes: cfg.DocSyncMaxBytes,
		MaxPages:     cfg.DocMaxPages,
		Timeout:      cfg.DocTimeout,
	})
	if err != nil {
		log.Fatal("documentai client", "err", err)
	}
	defer docs.Close()

	audio, err := speechsvc.New(ctx, log, speechsvc.Config{
		Language: cfg.SpeechLanguage,
		Timeout:  cfg.SpeechTimeout,
	})
	if err != nil {
		log.Fatal("speech client", "err", err)
	}
	defer audio.Close()

	images, err := vision.New(ctx, log, cfg.VisionTimeout)
	if err != nil {
		log.Fatal("vision client", "err", err)
	}
	defer images.Close()

	proc := pipeline.NewProcessor(log, repo, store, docs, audio, images, engine)
	translator := etl.NewWorker(log, store, engine, etl.NewAudit(gdb))

	pub, err := events.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Fatal("rabbit connect", "err", err)
	}
	defer pub.Close()

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatal("rabbit dial", "err", err)
	}
	defer conn.Close()
	ch, err := conn.Channel()
	if err != nil {
		log.Fatal("rabbit channel", "err", err)
	}
	defer ch.Close()

	concurrency := cfg.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 2
	}
	if concurrency > 50 {
		concurrency = 50
	}
	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatal("qos", "err", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatal("consume", "err", err)
	}

	log.Info("worker started", "queue", cfg.RabbitQueue, "concurrency", concurrency)

	w := &worker{
		log:        log,
		cfg:        cfg,
		proc:       proc,
		translator: translator,
		guard:      guard,
		pub:        pub,
	}

	deliveries := make(chan amqp.Delivery, concurrency*2)
	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(id int) {
			defer wg.Done()
			for d := range deliveries {
				w.handle(ctx, id, d)
			}
		}(i)
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			close(deliveries)
			wg.Wait()
			return
		case d, ok := <-msgs:
			if !ok {
				log.Warn("delivery channel closed")
				time.Sleep(time.Second)
				continue
			}
			deliveries <- d
		}
	}
}

// jobProcessor is the slice of the pipeline the dispatch loop needs.
type jobProcessor interface {
	Process(ctx context.Context, ref events.ObjectRef) error
	Abandon(ctx context.Context, ref events.ObjectRef, cause error)
}

type kbHandler interface {
	Handle(ctx context.Context, ref events.ObjectRef) error
}

type claimGuard interface {
	Claim(ctx context.Context, jobID string) (bool, error)
	Release(ctx context.Context, jobID string)
}

type retryPublisher interface {
	PublishRetry(ctx context.Context, ev events.StorageEvent, attempt int) error
}

type worker struct {
	log        *logger.Logger
	cfg        config.Config
	proc       jobProcessor
	translator kbHandler
	guard      claimGuard
	pub        retryPublisher
}

func (w *worker) handle(ctx context.Context, id int, d amqp.Delivery) {
	log := w.log.With("worker", id)

	refs, skipped, err := events.Decode(d.Body)
	if err != nil {
		log.Error("undecodable event", "err", err)
		_ = d.Nack(false, false)
		return
	}
	if skipped > 0 {
		log.Warn("event carried malformed records", "skipped", skipped)
	}

	// Refs that can never succeed are closed out right away; only
	// transient failures are candidates for another round.
	var retryable []events.ObjectRef
	var retryErr error
	var abandoned bool
	for _, ref := range refs {
		err := w.handleRef(ctx, log, ref)
		if err == nil {
			continue
		}
		if pipeline.IsTransient(err) {
			retryable = append(retryable, ref)
			retryErr = err
			continue
		}
		w.proc.Abandon(ctx, ref, err)
		abandoned = true
	}

	if len(retryable) == 0 {
		if abandoned {
			_ = d.Nack(false, false)
		} else {
			_ = d.Ack(false)
		}
		return
	}

	attempt := events.RetryAttempt(d.Headers) + 1
	if attempt > maxRetries {
		// budget spent; close the tickets out so pollers see FAILED
		// instead of a job cycling through the retry queue forever
		for _, ref := range retryable {
			w.proc.Abandon(ctx, ref, retryErr)
		}
		_ = d.Nack(false, false)
		return
	}

	if err := w.pub.PublishRetry(ctx, rebuild(retryable), attempt); err != nil {
		log.Error("retry publish failed", "err", err)
		_ = d.Nack(false, false)
		return
	}
	log.Info("event scheduled for retry", "attempt", attempt, "refs", len(retryable))
	_ = d.Ack(false)
}

func (w *worker) handleRef(ctx context.Context, log *logger.Logger, ref events.ObjectRef) error {
	start := time.Now()

	if ref.Bucket == w.cfg.KnowledgeBucket {
		err := w.translator.Handle(ctx, ref)
		log.Info("etl event handled", "key", ref.Key, "cost", time.Since(start), "err", err)
		return err
	}

	jobID := storage.JobIDFromKey(ref.Key)
	if jobID != "" {
		claimed, err := w.guard.Claim(ctx, jobID)
		if err != nil {
			log.Warn("claim check failed, continuing", "job_id", jobID, "err", err)
		}
		if !claimed {
			log.Info("duplicate delivery skipped", "job_id", jobID)
			return nil
		}
	}

	err := w.proc.Process(ctx, ref)
	if err != nil && jobID != "" {
		// let a later redelivery claim the job again
		w.guard.Release(ctx, jobID)
	}
	log.Info("event handled", "key", ref.Key, "cost", time.Since(start), "err", err)
	return err
}

// rebuild re-wraps the decoded refs for the retry queue.
func rebuild(refs []events.ObjectRef) events.StorageEvent {
	ev := events.NewStorageEvent(refs[0].Bucket, refs[0].Key)
	for _, ref := range refs[1:] {
		extra := events.NewStorageEvent(ref.Bucket, ref.Key)
		ev.Records = append(ev.Records, extra.Records...)
	}
	return ev
}
