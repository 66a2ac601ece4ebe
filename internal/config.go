package internal

import (
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
)

type Config struct {
	Environment string `env:"ENVIRONMENT,default=development"`
	Host        string `env:"HOST,default=localhost"`
	Port        int    `env:"PORT,default=8080"`
	LogLevel    string `env:"LOG_LEVEL,default=INFO"`

	BadgerFilepath   string `env:"BADGER_FILEPATH,required=true"`
	BadgerSyncWrites bool   `env:"BADGER_SYNC_WRITES,default=true"`

	JWTSecret string `env:"JWT_SECRET,required=true"`
	JWTIssuer string `env:"JWT_ISSUER"`

	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,default=64"`
	SinkTimeout          time.Duration `env:"SINK_TIMEOUT,default=1s"`
	WriteTimeout         time.Duration `env:"WRITE_TIMEOUT,default=10s"`
	PongWait             time.Duration `env:"PONG_WAIT,default=60s"`
	PingInterval         time.Duration `env:"PING_INTERVAL,default=30s"`
	AuthTimeout          time.Duration `env:"AUTH_TIMEOUT,default=10s"`
	MaxFrameSize         int64         `env:"MAX_FRAME_SIZE,default=65536"`
	AllowedOrigins       string        `env:"ALLOWED_ORIGINS"`

	MaxContentLength    int `env:"MAX_CONTENT_LENGTH,default=4000"`
	HistoryDefaultLimit int `env:"HISTORY_DEFAULT_LIMIT,default=50"`
	HistoryMaxLimit     int `env:"HISTORY_MAX_LIMIT,default=100"`

	RestartInterval time.Duration `env:"RESTART_INTERVAL,default=1s"`
	MetricInterval  time.Duration `env:"METRIC_INTERVAL,default=5s"`

	RedisAddr         string        `env:"REDIS_ADDR"`
	RedisPassword     string        `env:"REDIS_PASSWORD"`
	RedisDB           int           `env:"REDIS_DB,default=0"`
	PublishRateLimit  int           `env:"PUBLISH_RATE_LIMIT,default=20"`
	PublishRateWindow time.Duration `env:"PUBLISH_RATE_WINDOW,default=1s"`
}

// Origins splits ALLOWED_ORIGINS on commas. Empty means every origin is accepted.
func (c Config) Origins() []string {
	origins := lo.Map(strings.Split(c.AllowedOrigins, ","), func(o string, _ int) string {
		return strings.TrimSpace(o)
	})
	return lo.Compact(origins)
}

// Validate checks the relations go-env cannot express.
func (c Config) Validate() error {
	switch {
	case c.PingInterval >= c.PongWait:
		return fmt.Errorf("PING_INTERVAL (%s) must be lower than PONG_WAIT (%s)", c.PingInterval, c.PongWait)
	case c.HistoryDefaultLimit > c.HistoryMaxLimit:
		return fmt.Errorf("HISTORY_DEFAULT_LIMIT (%d) exceeds HISTORY_MAX_LIMIT (%d)", c.HistoryDefaultLimit, c.HistoryMaxLimit)
	case c.ConnectionBufferSize <= 0:
		return fmt.Errorf("CONNECTION_BUFFER_SIZE must be positive, got %d", c.ConnectionBufferSize)
	case c.PublishRateLimit > 0 && c.PublishRateWindow <= 0:
		return fmt.Errorf("PUBLISH_RATE_WINDOW must be positive when PUBLISH_RATE_LIMIT is set")
	}
	return nil
}

func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
