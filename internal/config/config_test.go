package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.True(t, cfg.Retrieval.StrictMode)
	assert.Equal(t, 0.7, cfg.Retrieval.SimilarityThreshold)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.Equal(t, 0.90, cfg.HITL.AutoApproveConfidence)
	assert.Equal(t, 24*time.Hour, cfg.HITL.ReviewTimeout)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.Retry.InitialInterval)
	assert.Contains(t, cfg.HITL.EscalationKeywords, "ombudsman")
}

func TestLoadFileYAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlDoc := `
retrieval:
  similarity_threshold: 0.55
  strict_mode: false
  top_k: 3
hitl:
  review_timeout: 12h
  escalation_keywords: ["solicitor"]
kafka:
  review_topic: reviews
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o600))

	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("SIMILARITY_THRESHOLD", "0.65")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 0.65, cfg.Retrieval.SimilarityThreshold)
	assert.False(t, cfg.Retrieval.StrictMode)
	assert.Equal(t, 3, cfg.Retrieval.TopK)
	assert.Equal(t, 12*time.Hour, cfg.HITL.ReviewTimeout)
	assert.Equal(t, []string{"solicitor"}, cfg.HITL.EscalationKeywords)
	assert.Equal(t, "reviews", cfg.Kafka.ReviewTopic)
	assert.Equal(t, "ticket-events", cfg.Kafka.EventsTopic)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Retrieval.SimilarityThreshold = 1.5
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Retrieval.Indices = nil
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.HITL.ReviewTimeout = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Workers = 0
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1, cfg.Workers)
}

func TestLoadFileRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retrieval: [unclosed"), 0o600))
	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "debug"
	logger, err := cfg.NewLogger()
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(-1))

	cfg.LogLevel = "loud"
	_, err = cfg.NewLogger()
	assert.Error(t, err)
}
