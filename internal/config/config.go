package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config carries the environment-driven settings for the relay daemon
// and the monitoring clients.
type Config struct {
	// ListenAddr is the relay daemon's bind address.
	ListenAddr string
	// SignalEndpoint is the ws URL monitoring clients dial.
	SignalEndpoint string
	// BackendURL is the REST persistence collaborator.
	BackendURL string
	// ConnectTimeout bounds the signaling handshake.
	ConnectTimeout time.Duration
	// ConnectDeadline bounds negotiation-to-connected before an ICE restart.
	ConnectDeadline time.Duration
	// MaxReconnects caps automatic channel reconnect attempts.
	MaxReconnects int
}

// Load reads .env if present, then the environment, with defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found")
	}

	return Config{
		ListenAddr:      getString("LISTEN_ADDR", ":8080"),
		SignalEndpoint:  getString("SIGNAL_ENDPOINT", "ws://localhost:8080/ws"),
		BackendURL:      getString("BACKEND_URL", "http://localhost:3000/api"),
		ConnectTimeout:  getDuration("CONNECT_TIMEOUT", 5*time.Second),
		ConnectDeadline: getDuration("CONNECT_DEADLINE", 10*time.Second),
		MaxReconnects:   getInt("MAX_RECONNECTS", 5),
	}
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid integer in environment, using default")
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid duration in environment, using default")
		return fallback
	}
	return d
}
