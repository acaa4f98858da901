package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config is the process configuration, read from the environment.
type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis (rate limiting; optional)
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// AWS channel providers
	AWSRegion    string
	SESFromEmail string
	SNSRegion    string

	// Invocation trigger
	CronSecret   string // shared secret for the cron endpoint; dev-mode bypass when empty outside production
	CronSchedule string // optional in-process trigger schedule, cron syntax

	// Engine bounds
	LookaheadHours         int
	MaxRetries             int
	RetryMaxAgeHours       int
	DispatchTimeoutSeconds int
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		DBHost:    "localhost",
		DBPort:    5432,
		DBUser:    "ajopool",
		DBName:    "ajopool",
		DBSSLMode: "disable",

		RedisHost: "localhost",
		RedisPort: 6379,

		AWSRegion: "us-east-1",

		LookaheadHours:         24,
		MaxRetries:             3,
		RetryMaxAgeHours:       24,
		DispatchTimeoutSeconds: 30,
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	if from := os.Getenv("SES_FROM_EMAIL"); from != "" {
		cfg.SESFromEmail = from
	}

	if region := os.Getenv("SNS_REGION"); region != "" {
		cfg.SNSRegion = region
	} else {
		cfg.SNSRegion = cfg.AWSRegion
	}

	if secret := os.Getenv("CRON_SECRET"); secret != "" {
		cfg.CronSecret = secret
	}

	if schedule := os.Getenv("CRON_SCHEDULE"); schedule != "" {
		cfg.CronSchedule = schedule
	}

	if hours := os.Getenv("LOOKAHEAD_HOURS"); hours != "" {
		h, err := strconv.Atoi(hours)
		if err != nil || h <= 0 {
			return nil, fmt.Errorf("invalid LOOKAHEAD_HOURS: %q", hours)
		}
		cfg.LookaheadHours = h
	}

	if retries := os.Getenv("MAX_RETRIES"); retries != "" {
		n, err := strconv.Atoi(retries)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid MAX_RETRIES: %q", retries)
		}
		cfg.MaxRetries = n
	}

	if hours := os.Getenv("RETRY_MAX_AGE_HOURS"); hours != "" {
		h, err := strconv.Atoi(hours)
		if err != nil || h <= 0 {
			return nil, fmt.Errorf("invalid RETRY_MAX_AGE_HOURS: %q", hours)
		}
		cfg.RetryMaxAgeHours = h
	}

	if secs := os.Getenv("DISPATCH_TIMEOUT_SECONDS"); secs != "" {
		s, err := strconv.Atoi(secs)
		if err != nil || s <= 0 {
			return nil, fmt.Errorf("invalid DISPATCH_TIMEOUT_SECONDS: %q", secs)
		}
		cfg.DispatchTimeoutSeconds = s
	}

	if cfg.Env == "production" && cfg.CronSecret == "" {
		return nil, fmt.Errorf("CRON_SECRET is required in production")
	}

	return cfg, nil
}
