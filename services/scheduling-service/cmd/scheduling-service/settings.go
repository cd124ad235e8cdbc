package main

import (
	"time"

	"github.com/md-rashed-zaman/clinicsched/libs/config"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/booking"
)

type settings struct {
	Port                string
	GRPCPort            string
	DatabaseURL         string
	Migrate             bool
	StatementTimeout    time.Duration
	RedisAddr           string
	RedisPassword       string
	RedisDB             int
	CalendarCacheTTL    time.Duration
	KafkaBrokers        string
	JWTSecret           string
	JWKSURL             string
	JWKSCacheTTL        time.Duration
	TrustGatewayHeaders bool
	RateLimitPerMinute  int
	RequestTimeout      time.Duration
	Location            *time.Location
	Rules               booking.Rules
}

// loadSettings reads the environment once at startup; nothing below main reads it again.
func loadSettings() (settings, error) {
	var s settings
	var err error
	if s.Port, err = config.Port("PORT", "8080"); err != nil {
		return s, err
	}
	if s.GRPCPort, err = config.Port("GRPC_PORT", "9090"); err != nil {
		return s, err
	}
	s.DatabaseURL = config.String("DATABASE_URL", "")
	s.Migrate = config.Bool("DB_MIGRATE", true)
	s.RedisAddr = config.String("REDIS_ADDR", "")
	s.RedisPassword = config.String("REDIS_PASSWORD", "")
	if s.RedisDB, err = config.Int("REDIS_DB", 0, 0); err != nil {
		return s, err
	}
	cacheSeconds, err := config.Int("CALENDAR_CACHE_SECONDS", 60, 1)
	if err != nil {
		return s, err
	}
	s.CalendarCacheTTL = time.Duration(cacheSeconds) * time.Second
	s.KafkaBrokers = config.String("KAFKA_BROKERS", "")
	s.JWTSecret = config.String("JWT_SECRET", "")
	s.JWKSURL = config.String("JWKS_URL", "")
	jwksSeconds, err := config.Int("JWKS_CACHE_SECONDS", 300, 1)
	if err != nil {
		return s, err
	}
	s.JWKSCacheTTL = time.Duration(jwksSeconds) * time.Second
	s.TrustGatewayHeaders = config.Bool("TRUST_GATEWAY_HEADERS", false)
	if s.RateLimitPerMinute, err = config.Int("RATE_LIMIT_PER_MINUTE", 120, 1); err != nil {
		return s, err
	}
	timeoutSeconds, err := config.Int("REQUEST_TIMEOUT_SECONDS", 10, 1)
	if err != nil {
		return s, err
	}
	s.RequestTimeout = time.Duration(timeoutSeconds) * time.Second
	s.StatementTimeout = s.RequestTimeout
	if s.Location, err = config.Location("SCHEDULING_TIMEZONE", "UTC"); err != nil {
		return s, err
	}
	if s.Rules.MinBookAhead, err = config.Minutes("MIN_BOOK_AHEAD_MINUTES", 60); err != nil {
		return s, err
	}
	if s.Rules.MinCancelAhead, err = config.Minutes("MIN_CANCEL_AHEAD_MINUTES", 120); err != nil {
		return s, err
	}
	return s, nil
}
