package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 45 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultEnvironment          = "local"
	defaultCurrency             = "INR"
	defaultTaxRate              = "0.18"
	defaultFreeShippingAbove    = "1000"
	defaultFlatShippingFee      = "50"
	defaultPromoCodes           = "WELCOME10=10"
	defaultReservationTTL       = 15 * time.Minute
	defaultReservationSweep     = time.Minute
	defaultReservationBatch     = 200
	defaultPlacementTimeout     = 30 * time.Second
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 10 * time.Minute
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
	defaultRetryAttempts        = 3
	defaultRetryInitial         = 100 * time.Millisecond
	defaultRetryMax             = 2 * time.Second
	defaultStockChangedRetries  = 1
	defaultCartCacheTTL         = 30 * time.Minute
	defaultCartCacheCapacity    = 10000
	defaultNotifyDriver         = NotifyDriverLog
	defaultNotifyTopic          = "order-notifications"
	defaultSessionHeader        = "X-Session-ID"
)

// Notification sink drivers accepted by API_NOTIFY_DRIVER.
const (
	NotifyDriverLog    = "log"
	NotifyDriverPubSub = "pubsub"
	NotifyDriverKafka  = "kafka"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Environment string
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Pricing     PricingConfig
	Promotions  PromotionConfig
	Inventory   InventoryConfig
	Placement   PlacementConfig
	Cart        CartConfig
	Notify      NotifyConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port          string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
	SessionHeader string
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PricingConfig holds the totals policy constants.
type PricingConfig struct {
	Currency              string
	TaxRate               decimal.Decimal
	FreeShippingThreshold decimal.Decimal
	FlatShippingFee       decimal.Decimal
}

// PromotionConfig maps exact promo codes to discount percentages.
type PromotionConfig struct {
	Codes map[string]int
}

// InventoryConfig controls reservation holds.
type InventoryConfig struct {
	ReservationTTL   time.Duration
	SweepInterval    time.Duration
	SweepBatchSize   int
	LowStockWarnFrom int
}

// PlacementConfig controls the order placement unit of work.
type PlacementConfig struct {
	Timeout             time.Duration
	RetryAttempts       int
	RetryInitial        time.Duration
	RetryMax            time.Duration
	StockChangedRetries int
}

// CartConfig controls the local cart cache.
type CartConfig struct {
	CacheTTL      time.Duration
	CacheCapacity int
}

// NotifyConfig selects and configures the notification sink.
type NotifyConfig struct {
	Driver       string
	PubSubTopic  string
	KafkaBrokers []string
	KafkaTopic   string
}

// IdempotencyConfig controls placement dedupe behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// Load assembles the application configuration by combining defaults, .env overrides and
// environment variables.
func Load(_ context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	var invalid []string
	decimalField := func(key, fallback, name string) decimal.Decimal {
		raw := stringWithDefault(lookup, key, fallback)
		value, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil || value.IsNegative() {
			invalid = append(invalid, name)
			return decimal.RequireFromString(fallback)
		}
		return value
	}

	cfg := Config{
		Environment: strings.ToLower(stringWithDefault(lookup, "API_ENVIRONMENT", defaultEnvironment)),
		Server: ServerConfig{
			Port:          stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:   durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:  durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:   durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			SessionHeader: stringWithDefault(lookup, "API_SERVER_SESSION_HEADER", defaultSessionHeader),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Pricing: PricingConfig{
			Currency:              strings.ToUpper(stringWithDefault(lookup, "API_PRICING_CURRENCY", defaultCurrency)),
			TaxRate:               decimalField("API_PRICING_TAX_RATE", defaultTaxRate, "Pricing.TaxRate"),
			FreeShippingThreshold: decimalField("API_PRICING_FREE_SHIPPING_ABOVE", defaultFreeShippingAbove, "Pricing.FreeShippingThreshold"),
			FlatShippingFee:       decimalField("API_PRICING_FLAT_SHIPPING_FEE", defaultFlatShippingFee, "Pricing.FlatShippingFee"),
		},
		Inventory: InventoryConfig{
			ReservationTTL:   durationWithDefault(lookup, "API_INVENTORY_RESERVATION_TTL", defaultReservationTTL),
			SweepInterval:    durationWithDefault(lookup, "API_INVENTORY_SWEEP_INTERVAL", defaultReservationSweep),
			SweepBatchSize:   intWithDefault(lookup, "API_INVENTORY_SWEEP_BATCH", defaultReservationBatch),
			LowStockWarnFrom: intWithDefault(lookup, "API_INVENTORY_LOW_STOCK_WARN", 0),
		},
		Placement: PlacementConfig{
			Timeout:             durationWithDefault(lookup, "API_PLACEMENT_TIMEOUT", defaultPlacementTimeout),
			RetryAttempts:       intWithDefault(lookup, "API_PLACEMENT_RETRY_ATTEMPTS", defaultRetryAttempts),
			RetryInitial:        durationWithDefault(lookup, "API_PLACEMENT_RETRY_INITIAL", defaultRetryInitial),
			RetryMax:            durationWithDefault(lookup, "API_PLACEMENT_RETRY_MAX", defaultRetryMax),
			StockChangedRetries: intWithDefault(lookup, "API_PLACEMENT_STOCK_CHANGED_RETRIES", defaultStockChangedRetries),
		},
		Cart: CartConfig{
			CacheTTL:      durationWithDefault(lookup, "API_CART_CACHE_TTL", defaultCartCacheTTL),
			CacheCapacity: intWithDefault(lookup, "API_CART_CACHE_CAPACITY", defaultCartCacheCapacity),
		},
		Notify: NotifyConfig{
			Driver:       strings.ToLower(stringWithDefault(lookup, "API_NOTIFY_DRIVER", defaultNotifyDriver)),
			PubSubTopic:  stringWithDefault(lookup, "API_NOTIFY_PUBSUB_TOPIC", defaultNotifyTopic),
			KafkaBrokers: csvWithDefault(lookup, "API_NOTIFY_KAFKA_BROKERS"),
			KafkaTopic:   stringWithDefault(lookup, "API_NOTIFY_KAFKA_TOPIC", defaultNotifyTopic),
		},
		Idempotency: IdempotencyConfig{
			Header:           stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: intWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
	}

	codes, err := parsePromoCodes(stringWithDefault(lookup, "API_PROMO_CODES", defaultPromoCodes))
	if err != nil {
		invalid = append(invalid, "Promotions.Codes")
	}
	cfg.Promotions = PromotionConfig{Codes: codes}

	// Firestore project defaults to Firebase project when unspecified.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}

	if err := validateConfig(cfg, invalid); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg Config, invalid []string) error {
	missing := append([]string(nil), invalid...)

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Firebase.ProjectID == "" {
		missing = append(missing, "Firebase.ProjectID")
	}
	if cfg.Firestore.ProjectID == "" {
		missing = append(missing, "Firestore.ProjectID")
	}
	if _, err := currency.ParseISO(cfg.Pricing.Currency); err != nil {
		missing = append(missing, "Pricing.Currency")
	}
	if cfg.Pricing.TaxRate.GreaterThan(decimal.NewFromInt(1)) {
		missing = append(missing, "Pricing.TaxRate")
	}
	if cfg.Inventory.ReservationTTL <= 0 {
		missing = append(missing, "Inventory.ReservationTTL")
	}
	if cfg.Placement.Timeout <= 0 {
		missing = append(missing, "Placement.Timeout")
	}
	if cfg.Placement.RetryAttempts <= 0 {
		missing = append(missing, "Placement.RetryAttempts")
	}
	if cfg.Placement.StockChangedRetries < 0 {
		missing = append(missing, "Placement.StockChangedRetries")
	}
	switch cfg.Notify.Driver {
	case NotifyDriverLog:
	case NotifyDriverPubSub:
		if strings.TrimSpace(cfg.Notify.PubSubTopic) == "" {
			missing = append(missing, "Notify.PubSubTopic")
		}
	case NotifyDriverKafka:
		if len(cfg.Notify.KafkaBrokers) == 0 {
			missing = append(missing, "Notify.KafkaBrokers")
		}
		if strings.TrimSpace(cfg.Notify.KafkaTopic) == "" {
			missing = append(missing, "Notify.KafkaTopic")
		}
	default:
		missing = append(missing, "Notify.Driver")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 {
		missing = append(missing, "Idempotency.CleanupInterval")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		missing = append(missing, "Idempotency.CleanupBatchSize")
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return &ValidationError{fields: missing}
	}
	return nil
}

// parsePromoCodes reads CODE=percent pairs. Codes keep their case because lookups are exact.
func parsePromoCodes(raw string) (map[string]int, error) {
	codes := make(map[string]int)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			return codes, fmt.Errorf("config: promo entry %q must be CODE=percent", entry)
		}
		code := strings.TrimSpace(parts[0])
		percent, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if code == "" || err != nil || percent < 0 || percent > 100 {
			return codes, fmt.Errorf("config: promo entry %q is invalid", entry)
		}
		codes[code] = percent
	}
	return codes, nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(parts[1]), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
