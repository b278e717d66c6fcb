package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvPort         = "PORT"
	EnvStoreBackend = "STORE_BACKEND"
	EnvDatabaseURL  = "DATABASE_URL"
	EnvRedisAddr    = "REDIS_ADDR"

	EnvReservationTTL = "RESERVATION_TTL_SECONDS"
	EnvSweepInterval  = "SWEEP_INTERVAL_SECONDS"
	EnvRetention      = "RETENTION_SECONDS"

	EnvCORSOrigins     = "CORS_ORIGINS"
	EnvAppointmentsURL = "APPOINTMENTS_URL"

	EnvKafkaBrokers = "KAFKA_BROKERS"
	EnvKafkaTopic   = "KAFKA_TOPIC"

	EnvReserveRateRPS   = "RESERVE_RATE_RPS"
	EnvReserveRateBurst = "RESERVE_RATE_BURST"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type Config struct {
	Port         string
	StoreBackend string
	DatabaseURL  string
	RedisAddr    string

	ReservationTTL time.Duration
	SweepInterval  time.Duration
	Retention      time.Duration

	CORSOrigins     []string
	AppointmentsURL string

	KafkaBrokers []string
	KafkaTopic   string

	ReserveRateRPS   float64
	ReserveRateBurst int
}

// Load reads the environment (and an optional .env file) with defaults. The
// sweep interval is clamped to half the TTL so an abandoned hold is never
// visible much past its deadline.
func Load(logger *log.Logger) Config {
	if logger == nil {
		logger = log.Default()
	}
	_ = godotenv.Load()

	cfg := Config{
		Port:             getenv(EnvPort, "8080"),
		StoreBackend:     strings.ToLower(getenv(EnvStoreBackend, BackendMemory)),
		DatabaseURL:      os.Getenv(EnvDatabaseURL),
		RedisAddr:        os.Getenv(EnvRedisAddr),
		ReservationTTL:   getenvSeconds(logger, EnvReservationTTL, 300),
		SweepInterval:    getenvSeconds(logger, EnvSweepInterval, 30),
		Retention:        getenvSeconds(logger, EnvRetention, 86400),
		CORSOrigins:      splitCSV(os.Getenv(EnvCORSOrigins)),
		AppointmentsURL:  os.Getenv(EnvAppointmentsURL),
		KafkaBrokers:     splitCSV(os.Getenv(EnvKafkaBrokers)),
		KafkaTopic:       getenv(EnvKafkaTopic, "reservation-events"),
		ReserveRateRPS:   getenvFloat(logger, EnvReserveRateRPS, 5),
		ReserveRateBurst: getenvInt(logger, EnvReserveRateBurst, 10),
	}

	if cfg.SweepInterval > cfg.ReservationTTL/2 {
		clamped := cfg.ReservationTTL / 2
		logger.Printf("WARN: %s longer than half the TTL, clamping to %s", EnvSweepInterval, clamped)
		cfg.SweepInterval = clamped
	}

	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvSeconds(logger *log.Logger, key string, fallback int) time.Duration {
	return time.Duration(getenvInt(logger, key, fallback)) * time.Second
}

func getenvInt(logger *log.Logger, key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		logger.Printf("WARN: invalid %s=%q, using default %d", key, v, fallback)
		return fallback
	}
	return n
}

func getenvFloat(logger *log.Logger, key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		logger.Printf("WARN: invalid %s=%q, using default %g", key, v, fallback)
		return fallback
	}
	return f
}

func splitCSV(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
