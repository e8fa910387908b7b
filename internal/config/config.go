package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
)

// MaxHints is the number of hint slots a question can carry.
const MaxHints = 3

type Config struct {
	HTTPAddr string     `env:"HTTP_ADDR" envDefault:":8080"`
	DBPath   string     `env:"DB_PATH" envDefault:"data/quest.db"`
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	MediaDir string     `env:"MEDIA_DIR" envDefault:"media"`

	RedisURL  string `env:"REDIS_URL"`
	AMQPURL   string `env:"AMQP_URL"`
	AMQPQueue string `env:"AMQP_QUEUE" envDefault:"quest.notifications"`

	FixturesPath string `env:"FIXTURES_PATH"`

	QuestionTimeLimitMinutes int             `env:"QUESTION_TIME_LIMIT" envDefault:"5"`
	HintOffsets              []time.Duration `env:"HINT_OFFSETS" envSeparator:"," envDefault:"1m,2m,3m"`
	CountdownTick            time.Duration   `env:"COUNTDOWN_TICK" envDefault:"1s"`
	ConflictRetries          int             `env:"CONFLICT_RETRIES" envDefault:"3"`

	CaptainPasswordHash string `env:"CAPTAIN_PASSWORD_HASH"`
	AdminPasswordHash   string `env:"ADMIN_PASSWORD_HASH"`

	TransferTTL           time.Duration `env:"TRANSFER_TTL" envDefault:"10m"`
	TransferSweepInterval time.Duration `env:"TRANSFER_SWEEP_INTERVAL" envDefault:"5m"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// QuestionTimeLimit is the answer window granted for every issued question.
func (c *Config) QuestionTimeLimit() time.Duration {
	return time.Duration(c.QuestionTimeLimitMinutes) * time.Minute
}

func (c *Config) validate() error {
	var errs []error
	if c.QuestionTimeLimitMinutes <= 0 {
		errs = append(errs, errors.New("QUESTION_TIME_LIMIT must be positive"))
	}
	if len(c.HintOffsets) > MaxHints {
		errs = append(errs, fmt.Errorf("HINT_OFFSETS accepts at most %d values, got %d", MaxHints, len(c.HintOffsets)))
	}
	for i, d := range c.HintOffsets {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("HINT_OFFSETS[%d] must be positive", i))
		}
		if i > 0 && d <= c.HintOffsets[i-1] {
			errs = append(errs, fmt.Errorf("HINT_OFFSETS[%d] must be greater than the previous offset", i))
		}
	}
	if c.CountdownTick <= 0 {
		errs = append(errs, errors.New("COUNTDOWN_TICK must be positive"))
	}
	if c.ConflictRetries < 1 {
		errs = append(errs, errors.New("CONFLICT_RETRIES must be at least 1"))
	}
	if c.TransferTTL <= 0 {
		errs = append(errs, errors.New("TRANSFER_TTL must be positive"))
	}
	if c.TransferSweepInterval <= 0 {
		errs = append(errs, errors.New("TRANSFER_SWEEP_INTERVAL must be positive"))
	}
	return errors.Join(errs...)
}
