package config // package config loads application configuration from environment variables

import (
    "fmt"     // fmt builds the missing-variables error
    "os"      // os provides access to environment variables
    "strings" // strings joins the names of missing variables
    "time"    // time parses the booking durations
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  Durations are parsed with time.ParseDuration
// ("10m", "200ms").
type Config struct {
    Env       string // application environment (e.g. "dev", "prod")
    Port      string // HTTP port to listen on
    JWTSecret string // secret used to verify patron JWTs
    LogLevel  string // debug, info, warn or error

    BackendURL     string        // root URL of the reservation backend
    BackendToken   string        // optional service bearer token for the backend
    BackendTimeout time.Duration // per request timeout towards the backend

    HoldTTL              time.Duration // local lifetime of a seat hold
    MaxTickets           int           // tickets allowed per booking
    ReleaseAttempts      int           // attempts per hold release
    ReleaseBackoff       time.Duration // pause between release attempts
    SessionIdleTTL       time.Duration // idle sessions older than this are abandoned
    SessionSweepInterval time.Duration // how often idle sessions are swept

    DBUser string // receipt database user (optional)
    DBPass string // receipt database password (optional)
    DBHost string // receipt database host; receipts are disabled when empty
    DBPort string // receipt database port
    DBName string // receipt database name

    AMQPURL string // RabbitMQ URL; booking events are disabled when empty
}

// ReceiptsEnabled reports whether a receipt database is configured.
func (c Config) ReceiptsEnabled() bool { return c.DBHost != "" }

// EventsEnabled reports whether booking events go to RabbitMQ.
func (c Config) EventsEnabled() bool { return c.AMQPURL != "" }

// Load reads configuration values from environment variables and returns a
// Config.  Required variables are enforced by must(); every missing one is
// named in the returned error so the operator can fix them in one go.
func Load() (Config, error) {
    var missing []string
    must := func(key string) string {
        v, ok := os.LookupEnv(key)
        if !ok || v == "" {
            missing = append(missing, key)
        }
        return v
    }

    cfg := Config{
        Env:       must("APP_ENV"),    // environment (dev/test/prod)
        Port:      must("APP_PORT"),   // port to bind the HTTP server
        JWTSecret: must("JWT_SECRET"), // secret shared with the auth service
        LogLevel:  envStr("LOG_LEVEL", "info"),

        BackendURL:     must("BACKEND_URL"),
        BackendToken:   os.Getenv("BACKEND_TOKEN"),
        BackendTimeout: envDur("BACKEND_TIMEOUT", 5*time.Second),

        HoldTTL:              envDur("HOLD_TTL", 10*time.Minute),
        MaxTickets:           envInt("MAX_TICKETS", 8),
        ReleaseAttempts:      envInt("RELEASE_ATTEMPTS", 3),
        ReleaseBackoff:       envDur("RELEASE_BACKOFF", 200*time.Millisecond),
        SessionIdleTTL:       envDur("SESSION_IDLE_TTL", 30*time.Minute),
        SessionSweepInterval: envDur("SESSION_SWEEP_INTERVAL", time.Minute),

        DBUser: os.Getenv("DB_USER"),
        DBPass: os.Getenv("DB_PASS"), // empty allowed
        DBHost: os.Getenv("DB_HOST"),
        DBPort: envStr("DB_PORT", "3306"),
        DBName: os.Getenv("DB_NAME"),

        AMQPURL: envStr("RABBITMQ_URL", os.Getenv("AMQP_URL")),
    }
    if len(missing) > 0 {
        return Config{}, fmt.Errorf("missing required env var: %s", strings.Join(missing, ", "))
    }
    if cfg.ReceiptsEnabled() && (cfg.DBUser == "" || cfg.DBName == "") {
        return Config{}, fmt.Errorf("DB_HOST is set but DB_USER or DB_NAME is missing")
    }
    if cfg.MaxTickets < 1 {
        return Config{}, fmt.Errorf("invalid MAX_TICKETS: %d", cfg.MaxTickets)
    }
    if cfg.ReleaseAttempts < 1 {
        cfg.ReleaseAttempts = 1
    }
    return cfg, nil
}
