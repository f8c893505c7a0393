package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/morphly-app/morphly/internal/ai"
	"github.com/morphly-app/morphly/internal/chat"
	"github.com/morphly-app/morphly/internal/config"
	"github.com/morphly-app/morphly/internal/db"
	"github.com/morphly-app/morphly/internal/metrics"
	"github.com/morphly-app/morphly/internal/store/rabbitmq"
)

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

func main() {
	setupLogger(os.Getenv("LOG_LEVEL"))

	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)

	repo := chat.NewRepo(gdb)

	reg := ai.NewRegistry()
	reg.Register("openrouter", func(model string) (ai.Provider, error) {
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.TitleModel
		}
		return ai.NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, m, cfg.OpenRouterSiteURL, cfg.OpenRouterAppName), nil
	})

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatal().Err(err).Msg("rabbit dial")
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatal().Err(err).Msg("rabbit channel")
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		log.Fatal().Err(err).Msg("queue declare")
	}

	concurrency := workerConcurrency()

	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatal().Err(err).Msg("qos")
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("consume")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("queue", cfg.RabbitQueue).Int("concurrency", concurrency).Msg("title worker started")

	m := metrics.Global()

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				var job rabbitmq.TitleJob
				if err := json.Unmarshal(d.Body, &job); err != nil || job.ChatID == "" {
					log.Error().Int("worker", workerID).Err(err).Msg("bad message")
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				if err := handleTitleJob(ctx, reg, repo, cfg, job); err != nil {
					log.Error().
						Int("worker", workerID).
						Str("chat_id", job.ChatID).
						Dur("cost", time.Since(start)).
						Err(err).
						Msg("title job failed")
					_ = d.Nack(false, false)
					continue
				}
				m.TitleJobs.Inc()

				if err := d.Ack(false); err != nil {
					log.Error().Int("worker", workerID).Str("chat_id", job.ChatID).Err(err).Msg("ack failed")
				}
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Warn().Msg("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			jobs <- d
		}
	}
}

func handleTitleJob(ctx context.Context, reg *ai.Registry, repo *chat.Repo, cfg config.Config, job rabbitmq.TitleJob) error {
	cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	provider, err := reg.Get(cfg.AIProvider, cfg.TitleModel)
	if err != nil {
		return err
	}

	title, err := provider.Chat(cctx, []ai.Message{
		{Role: "system", Content: ai.TitlePrompt},
		{Role: "user", Content: job.Prompt},
	})
	if err != nil {
		return err
	}

	title = chat.ClampTitle(strings.Trim(strings.TrimSpace(title), `"`))
	if title == "" {
		return nil
	}

	return repo.UpdateChatTitle(cctx, job.ChatID, title)
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	default:
		return zerolog.InfoLevel
	}
}
