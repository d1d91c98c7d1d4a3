package app

import (
	"strings"
	"time"

	"github.com/yungbote/studysync/internal/pkg/envutil"
	"github.com/yungbote/studysync/internal/pkg/logger"
)

const (
	TransportLoopback  = "loopback"
	TransportSSE       = "sse"
	TransportWebSocket = "websocket"
	TransportRedis     = "redis"
)

type Config struct {
	APIBaseURL string
	APIToken   string

	Transport   string
	StreamURL   string
	RedisAddr   string
	RedisPass   string
	RedisDB     int
	RedisPrefix string

	GradingTimeout       time.Duration
	ReconnectMaxInterval time.Duration
	WriteRetries         int

	StoreDSN  string
	LearnerID string

	HTTPAddr       string
	AllowedOrigins []string
}

func LoadConfig(log *logger.Logger) Config {
	cfg := Config{
		APIBaseURL:           envutil.String("STUDYSYNC_API_BASE_URL", ""),
		APIToken:             envutil.String("STUDYSYNC_API_TOKEN", ""),
		Transport:            strings.ToLower(envutil.String("STUDYSYNC_TRANSPORT", TransportLoopback)),
		StreamURL:            envutil.String("STUDYSYNC_STREAM_URL", ""),
		RedisAddr:            envutil.String("REDIS_ADDR", ""),
		RedisPass:            envutil.String("REDIS_PASSWORD", ""),
		RedisDB:              envutil.Int("REDIS_DB", 0),
		RedisPrefix:          envutil.String("STUDYSYNC_REDIS_PREFIX", "studysync:"),
		GradingTimeout:       envutil.Duration("STUDYSYNC_GRADING_TIMEOUT", 30*time.Second),
		ReconnectMaxInterval: envutil.Duration("STUDYSYNC_RECONNECT_MAX_INTERVAL", 30*time.Second),
		WriteRetries:         envutil.Int("STUDYSYNC_WRITE_RETRIES", 3),
		StoreDSN:             envutil.String("STUDYSYNC_STORE_DSN", ""),
		LearnerID:            envutil.String("STUDYSYNC_LEARNER_ID", "local"),
		HTTPAddr:             envutil.String("STUDYSYNC_HTTP_ADDR", ":8080"),
	}
	cfg.AllowedOrigins = envutil.List("STUDYSYNC_ALLOWED_ORIGINS")
	log.Info("Config loaded",
		"transport", cfg.Transport,
		"api_base_url", cfg.APIBaseURL,
		"api_auth_configured", cfg.APIToken != "",
		"stream_url", cfg.StreamURL,
		"store", cfg.StoreDSN != "",
		"grading_timeout", cfg.GradingTimeout,
		"write_retries", cfg.WriteRetries,
	)
	return cfg
}
