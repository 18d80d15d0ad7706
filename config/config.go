// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/warp/lending-engine/lending"
)

// Config holds the application configuration.
type Config struct {
	Port   int
	DBPath string

	RedisAddr string
	RedisPass string
	RedisDB   int

	ReservationFee        string
	LateFeePerDay         string
	LoanPeriodDays        int
	MaxActiveReservations int
}

// Load reads configuration from the environment, with a .env file as
// fallback. Missing variables fall back to the stock fee policy.
func Load() *Config {
	_ = godotenv.Load()

	defaults := lending.DefaultFeeSchedule()
	return &Config{
		Port:                  envInt("PORT", 8080),
		DBPath:                envStr("DB_PATH", "lending.db"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPass:             os.Getenv("REDIS_PASS"),
		RedisDB:               envInt("REDIS_DB", 0),
		ReservationFee:        envStr("RESERVATION_FEE", defaults.ReservationFee.String()),
		LateFeePerDay:         envStr("LATE_FEE_PER_DAY", defaults.LateFeePerDay.String()),
		LoanPeriodDays:        envInt("BOOK_RETURN_DUE_DATE_DAYS", defaults.LoanPeriodDays),
		MaxActiveReservations: envInt("MAX_ACTIVE_RESERVATIONS", defaults.MaxActiveReservations),
	}
}

// FeeSchedule converts the configured strings into the engine's fee policy.
// Unparseable amounts fall back to the defaults.
func (c *Config) FeeSchedule() lending.FeeSchedule {
	fees := lending.DefaultFeeSchedule()
	if fee, err := lending.ParseMoney(c.ReservationFee); err == nil {
		fees.ReservationFee = fee
	}
	if perDay, err := lending.ParseMoney(c.LateFeePerDay); err == nil {
		fees.LateFeePerDay = perDay
	}
	if c.LoanPeriodDays > 0 {
		fees.LoanPeriodDays = c.LoanPeriodDays
	}
	if c.MaxActiveReservations > 0 {
		fees.MaxActiveReservations = c.MaxActiveReservations
	}
	return fees
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
