package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config adds tripguard-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string
	ActorHeader           string

	DatabaseURL     string
	DBMaxConns      int
	SlowQuery       time.Duration
	DBLogQueryArgs  bool
	RegionFile      string
	StaleMinutes    int
	SlackWebhookURL string

	SMSGatewayURL   string
	SMSGatewayToken string
	SMSSenderID     string

	GeocoderURL       string
	GeocoderCacheSize int
	GeocoderTimeout   time.Duration
	GeocoderLanguage  string

	KafkaBrokers string
	KafkaTopic   string

	DispatchConcurrency    int
	DispatchRetries        int
	DispatchBaseDelay      time.Duration
	DispatchMaxDelay       time.Duration
	DispatchAttemptTimeout time.Duration
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on every API request")
	fs.StringVar(&c.ActorHeader, "actor-header", "X-Actor-Id", "request header carrying the authenticated caller identity")

	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.IntVar(&c.DBMaxConns, "db-max-conns", 10, "maximum PostgreSQL pool connections (1..200)")
	fs.DurationVar(&c.SlowQuery, "db-slow-query", 200*time.Millisecond, "log queries slower than this")
	fs.BoolVar(&c.DBLogQueryArgs, "db-log-query-args", false, "include bind arguments in query logs (arguments carry phone numbers)")
	fs.StringVar(&c.RegionFile, "region-file", "", "YAML file describing the operating region (empty = built-in)")
	fs.IntVar(&c.StaleMinutes, "stale-minutes", 120, "default age in minutes after which an ACTIVE alert is stale (1..10080)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for the emergency desk (empty = disabled)")

	fs.StringVar(&c.SMSGatewayURL, "sms-gateway-url", "", "SMS gateway send endpoint")
	fs.StringVar(&c.SMSGatewayToken, "sms-gateway-token", "", "bearer token for the SMS gateway")
	fs.StringVar(&c.SMSSenderID, "sms-sender-id", "TripGuard", "sender ID shown on outgoing SMS")

	fs.StringVar(&c.GeocoderURL, "geocoder-url", "", "Nominatim-compatible base URL for reverse geocoding (empty = disabled)")
	fs.IntVar(&c.GeocoderCacheSize, "geocoder-cache-size", 4096, "reverse geocoding cache entries (0 = no cache)")
	fs.DurationVar(&c.GeocoderTimeout, "geocoder-timeout", 3*time.Second, "reverse geocoding budget per trigger")
	fs.StringVar(&c.GeocoderLanguage, "geocoder-language", "fr", "Accept-Language sent to the geocoder (empty = service default)")

	fs.StringVar(&c.KafkaBrokers, "kafka-brokers", "", "comma-separated Kafka brokers for lifecycle events (empty = disabled)")
	fs.StringVar(&c.KafkaTopic, "kafka-topic", "tripguard.alerts", "Kafka topic for lifecycle events")

	fs.IntVar(&c.DispatchConcurrency, "dispatch-concurrency", 8, "maximum in-flight notification sends (1..256)")
	fs.IntVar(&c.DispatchRetries, "dispatch-retries", 3, "retries per notification after the first attempt (0..10)")
	fs.DurationVar(&c.DispatchBaseDelay, "dispatch-base-delay", time.Second, "initial delay between notification attempts")
	fs.DurationVar(&c.DispatchMaxDelay, "dispatch-max-delay", 30*time.Second, "maximum delay between notification attempts")
	fs.DurationVar(&c.DispatchAttemptTimeout, "dispatch-attempt-timeout", 10*time.Second, "timeout for a single notification attempt")
}

// KafkaBrokerList splits KafkaBrokers into trimmed, non-empty addresses.
func (c *Config) KafkaBrokerList() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}
	if c.APIToken == "" {
		errs = append(errs, errors.New("API_TOKEN is required"))
	}
	if strings.TrimSpace(c.ActorHeader) == "" {
		errs = append(errs, errors.New("ACTOR_HEADER is required"))
	}

	if c.DBMaxConns <= 0 || c.DBMaxConns > 200 {
		errs = append(errs, fmt.Errorf("invalid DB_MAX_CONNS %d (must be 1..200)", c.DBMaxConns))
	}
	if c.StaleMinutes <= 0 || c.StaleMinutes > 7*24*60 {
		errs = append(errs, fmt.Errorf("invalid STALE_MINUTES %d (must be 1..10080)", c.StaleMinutes))
	}

	// contacts cannot be notified without a gateway
	if err := checkURL("SMS_GATEWAY_URL", c.SMSGatewayURL, true); err != nil {
		errs = append(errs, err)
	}
	if err := checkURL("SLACK_WEBHOOK_URL", c.SlackWebhookURL, false); err != nil {
		errs = append(errs, err)
	}
	if err := checkURL("GEOCODER_URL", c.GeocoderURL, false); err != nil {
		errs = append(errs, err)
	}
	if c.GeocoderCacheSize < 0 {
		errs = append(errs, fmt.Errorf("invalid GEOCODER_CACHE_SIZE %d (must be >= 0)", c.GeocoderCacheSize))
	}
	if c.GeocoderTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid GEOCODER_TIMEOUT %s (must be > 0)", c.GeocoderTimeout))
	}

	if len(c.KafkaBrokerList()) > 0 && strings.TrimSpace(c.KafkaTopic) == "" {
		errs = append(errs, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set"))
	}

	if c.DispatchConcurrency <= 0 || c.DispatchConcurrency > 256 {
		errs = append(errs, fmt.Errorf("invalid DISPATCH_CONCURRENCY %d (must be 1..256)", c.DispatchConcurrency))
	}
	if c.DispatchRetries < 0 || c.DispatchRetries > 10 {
		errs = append(errs, fmt.Errorf("invalid DISPATCH_RETRIES %d (must be 0..10)", c.DispatchRetries))
	}
	if c.DispatchBaseDelay <= 0 || c.DispatchMaxDelay < c.DispatchBaseDelay {
		errs = append(errs, fmt.Errorf("DISPATCH_BASE_DELAY %s must be > 0 and not exceed DISPATCH_MAX_DELAY %s", c.DispatchBaseDelay, c.DispatchMaxDelay))
	}
	if c.DispatchAttemptTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid DISPATCH_ATTEMPT_TIMEOUT %s (must be > 0)", c.DispatchAttemptTimeout))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func checkURL(name, raw string, required bool) error {
	if raw == "" {
		if required {
			return fmt.Errorf("%s is required", name)
		}
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid %s %q (must be an http(s) URL)", name, raw)
	}
	return nil
}
