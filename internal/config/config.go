package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Postgres   PostgresConfig   `yaml:"postgres"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Redis      RedisConfig      `yaml:"redis"`
	GenAI      GenAIConfig      `yaml:"genai"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	HITL       HITLConfig       `yaml:"hitl"`
	Guardrails GuardrailsConfig `yaml:"guardrails"`
	Retry      RetryConfig      `yaml:"retry"`
	Email      EmailConfig      `yaml:"email"`
	HTTP       HTTPConfig       `yaml:"http"`
	Workers    int              `yaml:"workers"`
	LogLevel   string           `yaml:"log_level"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	GroupID       string   `yaml:"group_id"`
	TicketsTopic  string   `yaml:"tickets_topic"`
	ReviewTopic   string   `yaml:"review_topic"`
	CallbackTopic string   `yaml:"callback_topic"`
	EventsTopic   string   `yaml:"events_topic"`
	FeedbackTopic string   `yaml:"feedback_topic"`
	ReopenTopic   string   `yaml:"reopen_topic"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type GenAIConfig struct {
	APIKey            string  `yaml:"api_key"`
	GenerationModel   string  `yaml:"generation_model"`
	EmbeddingModel    string  `yaml:"embedding_model"`
	Temperature       float32 `yaml:"temperature"`
	MaxTokens         int32   `yaml:"max_tokens"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

type RetrievalConfig struct {
	Indices             []string `yaml:"indices"`
	TopK                int      `yaml:"top_k"`
	SimilarityThreshold float64  `yaml:"similarity_threshold"`
	StrictMode          bool     `yaml:"strict_mode"`
	EmbeddingDimension  int      `yaml:"embedding_dimension"`
	ChunkSize           int      `yaml:"chunk_size"`
	ChunkOverlap        int      `yaml:"chunk_overlap"`
}

type HITLConfig struct {
	AutoApproveConfidence float64       `yaml:"auto_approve_confidence"`
	EscalationKeywords    []string      `yaml:"escalation_keywords"`
	ReviewTimeout         time.Duration `yaml:"review_timeout"`
	SweepInterval         time.Duration `yaml:"sweep_interval"`
}

type GuardrailsConfig struct {
	PolicyFilterURL     string        `yaml:"policy_filter_url"`
	PolicyFilterTimeout time.Duration `yaml:"policy_filter_timeout"`
	HallucinationCheck  bool          `yaml:"hallucination_check"`
}

type RetryConfig struct {
	MaxRetries      int           `yaml:"max_retries"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	BackoffRate     float64       `yaml:"backoff_rate"`
}

type EmailConfig struct {
	SMTPHost string `yaml:"smtp_host"`
	SMTPPort int    `yaml:"smtp_port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	return &Config{
		Postgres: PostgresConfig{
			DSN: "postgres://localhost:5432/support?sslmode=disable",
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			GroupID:       "support-agent",
			TicketsTopic:  "tickets-inbound",
			ReviewTopic:   "hitl-review",
			CallbackTopic: "hitl-callbacks",
			EventsTopic:   "ticket-events",
			FeedbackTopic: "feedback-records",
			ReopenTopic:   "tickets-reopened",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		GenAI: GenAIConfig{
			GenerationModel:   "gemini-2.5-flash",
			EmbeddingModel:    "gemini-embedding-001",
			Temperature:       0.2,
			MaxTokens:         2048,
			RequestsPerSecond: 5,
		},
		Retrieval: RetrievalConfig{
			Indices:             []string{"policy-documents", "historical-tickets", "compliance-rules"},
			TopK:                5,
			SimilarityThreshold: 0.7,
			StrictMode:          true,
			EmbeddingDimension:  768,
			ChunkSize:           512,
			ChunkOverlap:        64,
		},
		HITL: HITLConfig{
			AutoApproveConfidence: 0.90,
			EscalationKeywords: []string{
				"lawyer", "sue", "fraud", "mis-sold", "misselling",
				"mis-selling", "legal", "ombudsman", "regulator",
				"compensation", "negligence",
			},
			ReviewTimeout: 24 * time.Hour,
			SweepInterval: time.Minute,
		},
		Guardrails: GuardrailsConfig{
			PolicyFilterTimeout: 3 * time.Second,
			HallucinationCheck:  true,
		},
		Retry: RetryConfig{
			MaxRetries:      3,
			InitialInterval: 5 * time.Second,
			BackoffRate:     2.0,
		},
		Email: EmailConfig{
			SMTPPort: 587,
			From:     "support@insurance-ai.example.com",
		},
		HTTP: HTTPConfig{
			Addr: ":8090",
		},
		Workers:  8,
		LogLevel: "info",
	}
}

func Load() (*Config, error) {
	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		path = "config.yaml"
	}
	return LoadFile(path)
}

// LoadFile reads defaults, then path if it exists, then the environment.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	// Load from YAML if exists
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.GenAI.APIKey = v
	}
	if v := os.Getenv("GENERATION_MODEL"); v != "" {
		c.GenAI.GenerationModel = v
	}
	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		c.GenAI.EmbeddingModel = v
	}
	if v := os.Getenv("SIMILARITY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Retrieval.SimilarityThreshold = f
		}
	}
	if v := os.Getenv("STRICT_RAG_MODE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Retrieval.StrictMode = b
		}
	}
	if v := os.Getenv("POLICY_FILTER_URL"); v != "" {
		c.Guardrails.PolicyFilterURL = v
	}
	if v := os.Getenv("SMTP_HOST"); v != "" {
		c.Email.SMTPHost = v
	}
	if v := os.Getenv("SMTP_USERNAME"); v != "" {
		c.Email.Username = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		c.Email.Password = v
	}
	if v := os.Getenv("SES_SENDER_EMAIL"); v != "" {
		c.Email.From = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		c.HTTP.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.SimilarityThreshold < 0 || c.Retrieval.SimilarityThreshold > 1 {
		return fmt.Errorf("retrieval.similarity_threshold must be within [0,1], got %v", c.Retrieval.SimilarityThreshold)
	}
	if len(c.Retrieval.Indices) == 0 {
		return fmt.Errorf("retrieval.indices must not be empty")
	}
	if c.HITL.AutoApproveConfidence < 0 || c.HITL.AutoApproveConfidence > 1 {
		return fmt.Errorf("hitl.auto_approve_confidence must be within [0,1], got %v", c.HITL.AutoApproveConfidence)
	}
	if c.HITL.ReviewTimeout <= 0 {
		return fmt.Errorf("hitl.review_timeout must be positive")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative")
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
