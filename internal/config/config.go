package config

import (
	"fmt"

	"github.com/Netflix/go-env"
)

// Config is built once at process start and passed into constructors.
type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`

	// Static pre-shared role keys: data-owner and content-owner.
	DataAPIKey    string `env:"M_API_KEY,required=true"`
	ContentAPIKey string `env:"C_API_KEY,required=true"`

	MailgunAPIKey  string `env:"MAILGUN_API_KEY,required=true"`
	MailgunDomain  string `env:"MAILGUN_DOMAIN,required=true"`
	MailgunBaseURL string `env:"MAILGUN_BASE_URL,default=https://api.mailgun.net/v3"`
	FromEmail      string `env:"FROM_EMAIL,required=true"`

	// ReplyDomain hosts the reply+<token> mailboxes on the Reply-To header.
	ReplyDomain string `env:"REPLY_DOMAIN,required=true"`

	// RedisURL is optional; when empty the send rate limiter is disabled.
	RedisURL        string `env:"REDIS_URL"`
	SendRatePerSec  int    `env:"SEND_RATE_PER_SEC,default=100"`
	SendConcurrency int    `env:"SEND_CONCURRENCY,default=4"`

	APIPort  int    `env:"API_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
