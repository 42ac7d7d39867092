package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/refset/insurance-support-agent/internal/api"
	"github.com/refset/insurance-support-agent/internal/classify"
	"github.com/refset/insurance-support-agent/internal/config"
	"github.com/refset/insurance-support-agent/internal/feedback"
	"github.com/refset/insurance-support-agent/internal/guardrails"
	"github.com/refset/insurance-support-agent/internal/kafka"
	"github.com/refset/insurance-support-agent/internal/llm"
	"github.com/refset/insurance-support-agent/internal/notify"
	"github.com/refset/insurance-support-agent/internal/rag"
	"github.com/refset/insurance-support-agent/internal/router"
	"github.com/refset/insurance-support-agent/internal/store"
)

const shutdownTimeout = 10 * time.Second

// Pipeline wires the ticket router to Kafka, Postgres, Redis and the
// HTTP API.
type Pipeline struct {
	cfg      *config.Config
	pool     *pgxpool.Pool
	redis    *redis.Client
	producer *kafka.Producer
	router   *router.Router
	server   *http.Server
	handler  *Handler
	log      *zap.Logger
}

// New connects to every backing service and builds the pipeline.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	pool, err := store.Connect(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, err
	}
	db := store.NewPostgres(pool)
	if err := db.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	vectors := rag.NewPgVectorStore(pool, cfg.Retrieval.EmbeddingDimension)
	if err := vectors.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	rdb, err := store.NewRedis(ctx, cfg.Redis)
	if err != nil {
		pool.Close()
		return nil, err
	}

	model, err := llm.NewGenAIModel(ctx, cfg.GenAI, logger.Named("llm"))
	if err != nil {
		pool.Close()
		_ = rdb.Close()
		return nil, err
	}
	embedder, err := rag.NewGenAIEmbedder(ctx, cfg.GenAI, cfg.Retrieval.EmbeddingDimension)
	if err != nil {
		pool.Close()
		_ = rdb.Close()
		return nil, err
	}

	var filter guardrails.PolicyFilter
	if cfg.Guardrails.PolicyFilterURL != "" {
		filter = guardrails.NewHTTPPolicyFilter(cfg.Guardrails.PolicyFilterURL, cfg.Guardrails.PolicyFilterTimeout)
	}

	var sender router.Sender = notify.NewLogSender(logger.Named("notify"))
	if cfg.Email.SMTPHost != "" {
		sender = notify.NewSMTPSender(cfg.Email, logger.Named("notify"))
	}

	producer := kafka.NewProducer(cfg.Kafka, logger.Named("kafka"))

	rt := router.New(router.Deps{
		Classifier: classify.NewClassifier(model, cfg.HITL, logger.Named("classify")),
		Retriever:  rag.NewRetriever(embedder, vectors, cfg.Retrieval, logger.Named("rag")),
		Generator:  llm.NewGenerator(model, cfg.GenAI, logger.Named("generate")),
		Validator:  guardrails.NewValidator(llm.NewJudge(model), filter, cfg.Guardrails, logger.Named("guardrails")),
		Tickets:    db,
		Reviews:    db,
		Queue:      producer,
		Events:     producer,
		Sender:     sender,
		Guard:      store.NewRedisSendGuard(rdb),
	}, cfg.HITL, cfg.Retry, logger.Named("router"))

	fb := feedback.NewHandler(db, producer, producer, logger.Named("feedback"))
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.NewServer(rt, fb, producer, logger.Named("api")).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return &Pipeline{
		cfg:      cfg,
		pool:     pool,
		redis:    rdb,
		producer: producer,
		router:   rt,
		server:   srv,
		handler:  NewHandler(db, rt, logger),
		log:      logger,
	}, nil
}

// Run consumes tickets, review callbacks and reopen requests, serves the
// HTTP API and sweeps expired reviews until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.log.Info("starting support pipeline",
		zap.Strings("kafka_brokers", p.cfg.Kafka.Brokers),
		zap.String("http_addr", p.cfg.HTTP.Addr),
		zap.Int("workers", p.cfg.Workers),
		zap.Duration("sweep_interval", p.cfg.HITL.SweepInterval))
	defer p.close()

	consumers, err := p.consumers()
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range consumers {
			_ = c.consumer.Close()
		}
	}()

	g, ctx := errgroup.WithContext(ctx)
	for _, c := range consumers {
		g.Go(func() error { return c.consumer.Run(ctx, c.handle) })
	}

	g.Go(func() error {
		p.log.Info("http api listening", zap.String("addr", p.server.Addr))
		if err := p.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return p.server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		p.sweep(ctx)
		return nil
	})

	err = g.Wait()
	p.log.Info("shutting down pipeline")
	return err
}

type boundConsumer struct {
	consumer *kafka.Consumer
	handle   kafka.Handler
}

// consumers opens one reader per worker on the inbound topic, plus one
// each for callbacks and reopen requests.
func (p *Pipeline) consumers() ([]boundConsumer, error) {
	newConsumer := func(topic string) (*kafka.Consumer, error) {
		return kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers: p.cfg.Kafka.Brokers,
			Topic:   topic,
			GroupID: p.cfg.Kafka.GroupID,
		}, p.log.Named("consumer"))
	}

	var out []boundConsumer
	add := func(topic string, handle kafka.Handler) error {
		c, err := newConsumer(topic)
		if err != nil {
			for _, bc := range out {
				_ = bc.consumer.Close()
			}
			return err
		}
		out = append(out, boundConsumer{consumer: c, handle: handle})
		return nil
	}

	for i := 0; i < p.cfg.Workers; i++ {
		if err := add(p.cfg.Kafka.TicketsTopic, p.handler.TicketMessage); err != nil {
			return nil, err
		}
	}
	if err := add(p.cfg.Kafka.CallbackTopic, p.callbackMessage); err != nil {
		return nil, err
	}
	if err := add(p.cfg.Kafka.ReopenTopic, p.handler.ReopenMessage); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Pipeline) callbackMessage(ctx context.Context, msg kafkago.Message) error {
	var cb router.Callback
	if err := json.Unmarshal(msg.Value, &cb); err != nil {
		return fmt.Errorf("decode review callback: %w", err)
	}
	out, err := p.router.Resume(ctx, cb)
	if err != nil {
		return err
	}
	p.log.Info("review callback processed",
		zap.String("ticket_id", out.TicketID),
		zap.String("state", string(out.State)))
	return nil
}

func (p *Pipeline) sweep(ctx context.Context) {
	interval := p.cfg.HITL.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			outcomes, err := p.router.ExpireStale(ctx, time.Now().UTC())
			if err != nil {
				if ctx.Err() == nil {
					p.log.Error("review sweep failed", zap.Error(err))
				}
				continue
			}
			if len(outcomes) > 0 {
				p.log.Info("expired stale reviews", zap.Int("count", len(outcomes)))
			}
		}
	}
}

func (p *Pipeline) close() {
	if err := p.producer.Close(); err != nil {
		p.log.Warn("kafka producer close failed", zap.Error(err))
	}
	if err := p.redis.Close(); err != nil {
		p.log.Warn("redis close failed", zap.Error(err))
	}
	p.pool.Close()
}
