package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

const (
	defaultAPIPort         = 8728
	defaultAPITimeout      = 30 * time.Second
	defaultRadiusAuthPort  = 1812
	defaultRadiusAcctPort  = 1813
	defaultNetwatchEvery   = "1m"
	defaultNetwatchTimeout = "1s"
	defaultDBPath          = "./radsync.db"
)

// Config stores runtime settings loaded once at process start. It is
// injected into the components that need it and never mutated afterwards.
type Config struct {
	// RADIUS server used when a router has no associated NAS record.
	RadiusServer   string
	RadiusAuthPort int
	RadiusAcctPort int

	// NetWatch probe defaults (RouterOS duration strings).
	NetwatchInterval string
	NetwatchTimeout  string

	// Router API connection defaults.
	APIPort    int
	APITimeout time.Duration

	// Default local-address stamped onto ppp profiles created by sync.
	PPPLocalAddress string

	// Path of the sqlite database backing import/migration bookkeeping.
	DBPath string

	LogLevel zerolog.Level
}

// Load builds Config from environment variables, reading a .env file first
// when one is present in the working directory.
func Load() Config {
	// Missing .env is fine; explicit environment always wins.
	_ = godotenv.Load()

	return Config{
		RadiusServer:     getenv("RADSYNC_RADIUS_SERVER", ""),
		RadiusAuthPort:   parseInt("RADSYNC_RADIUS_AUTH_PORT", defaultRadiusAuthPort),
		RadiusAcctPort:   parseInt("RADSYNC_RADIUS_ACCT_PORT", defaultRadiusAcctPort),
		NetwatchInterval: getenv("RADSYNC_NETWATCH_INTERVAL", defaultNetwatchEvery),
		NetwatchTimeout:  getenv("RADSYNC_NETWATCH_TIMEOUT", defaultNetwatchTimeout),
		APIPort:          parseInt("RADSYNC_API_PORT", defaultAPIPort),
		APITimeout:       parseDuration("RADSYNC_API_TIMEOUT", defaultAPITimeout),
		PPPLocalAddress:  getenv("RADSYNC_PPP_LOCAL_ADDRESS", ""),
		DBPath:           getenv("RADSYNC_DB_PATH", defaultDBPath),
		LogLevel:         parseLogLevel(getenv("RADSYNC_LOG_LEVEL", "info")),
	}
}

func getenv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func parseInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func parseDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func parseLogLevel(raw string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
