package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "shop-dev",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Firestore.ProjectID != "shop-dev" {
		t.Errorf("expected firestore project to default to firebase project, got %s", cfg.Firestore.ProjectID)
	}
	if cfg.Pricing.Currency != "INR" {
		t.Errorf("expected default currency INR, got %s", cfg.Pricing.Currency)
	}
	if cfg.Pricing.TaxRate.String() != "0.18" {
		t.Errorf("unexpected tax rate %s", cfg.Pricing.TaxRate)
	}
	if cfg.Pricing.FreeShippingThreshold.String() != "1000" || cfg.Pricing.FlatShippingFee.String() != "50" {
		t.Errorf("unexpected shipping policy %s/%s", cfg.Pricing.FreeShippingThreshold, cfg.Pricing.FlatShippingFee)
	}
	if got := cfg.Promotions.Codes["WELCOME10"]; got != 10 {
		t.Errorf("expected WELCOME10 to grant 10%%, got %d", got)
	}
	if cfg.Inventory.ReservationTTL != 15*time.Minute {
		t.Errorf("unexpected reservation ttl %s", cfg.Inventory.ReservationTTL)
	}
	if cfg.Placement.Timeout != 30*time.Second {
		t.Errorf("unexpected placement timeout %s", cfg.Placement.Timeout)
	}
	if cfg.Placement.StockChangedRetries != 1 {
		t.Errorf("expected one stock-changed retry, got %d", cfg.Placement.StockChangedRetries)
	}
	if cfg.Notify.Driver != NotifyDriverLog {
		t.Errorf("expected log notify driver, got %s", cfg.Notify.Driver)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader {
		t.Errorf("expected default idempotency header, got %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.TTL != defaultIdempotencyTTL {
		t.Errorf("unexpected default idempotency ttl: %s", cfg.Idempotency.TTL)
	}
	if cfg.Idempotency.CleanupBatchSize != defaultIdempotencyBatchSize {
		t.Errorf("unexpected default cleanup batch size: %d", cfg.Idempotency.CleanupBatchSize)
	}
}

func TestLoadWithOverrides(t *testing.T) {
	env := map[string]string{
		"API_ENVIRONMENT":                 "PROD",
		"API_SERVER_PORT":                 "9090",
		"API_SERVER_READ_TIMEOUT":         "20s",
		"API_FIREBASE_PROJECT_ID":         "shop-prod",
		"API_FIRESTORE_PROJECT_ID":        "shop-fire",
		"API_PRICING_CURRENCY":            "usd",
		"API_PRICING_TAX_RATE":            "0.07",
		"API_PRICING_FREE_SHIPPING_ABOVE": "75",
		"API_PRICING_FLAT_SHIPPING_FEE":   "5.99",
		"API_PROMO_CODES":                 "Spring25=25, VIP=40",
		"API_INVENTORY_RESERVATION_TTL":   "5m",
		"API_PLACEMENT_TIMEOUT":           "10s",
		"API_NOTIFY_DRIVER":               "kafka",
		"API_NOTIFY_KAFKA_BROKERS":        "kafka-1:9092, kafka-2:9092",
		"API_NOTIFY_KAFKA_TOPIC":          "orders",
		"API_CART_CACHE_CAPACITY":         "50",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Environment != "prod" {
		t.Errorf("expected lowercased environment, got %s", cfg.Environment)
	}
	if cfg.Server.Port != "9090" || cfg.Server.ReadTimeout != 20*time.Second {
		t.Errorf("unexpected server config %+v", cfg.Server)
	}
	if cfg.Firestore.ProjectID != "shop-fire" {
		t.Errorf("expected explicit firestore project, got %s", cfg.Firestore.ProjectID)
	}
	if cfg.Pricing.Currency != "USD" {
		t.Errorf("expected upper-cased currency, got %s", cfg.Pricing.Currency)
	}
	if cfg.Pricing.FlatShippingFee.String() != "5.99" {
		t.Errorf("unexpected flat fee %s", cfg.Pricing.FlatShippingFee)
	}
	if cfg.Promotions.Codes["Spring25"] != 25 || cfg.Promotions.Codes["VIP"] != 40 {
		t.Errorf("unexpected promo codes %v", cfg.Promotions.Codes)
	}
	if _, ok := cfg.Promotions.Codes["SPRING25"]; ok {
		t.Errorf("promo codes must keep their case")
	}
	if cfg.Inventory.ReservationTTL != 5*time.Minute {
		t.Errorf("unexpected reservation ttl %s", cfg.Inventory.ReservationTTL)
	}
	if !slices.Equal(cfg.Notify.KafkaBrokers, []string{"kafka-1:9092", "kafka-2:9092"}) {
		t.Errorf("unexpected brokers %v", cfg.Notify.KafkaBrokers)
	}
	if cfg.Cart.CacheCapacity != 50 {
		t.Errorf("unexpected cache capacity %d", cfg.Cart.CacheCapacity)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "# local overrides\nexport API_SERVER_PORT=7070\nAPI_FIREBASE_PROJECT_ID=\"shop-dot\"\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv 7070, got %s", cfg.Server.Port)
	}
	if cfg.Firebase.ProjectID != "shop-dot" {
		t.Errorf("expected firebase project from dotenv, got %s", cfg.Firebase.ProjectID)
	}
}

func TestLoadEnvMapOverridesDotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("API_FIREBASE_PROJECT_ID=from-file\nAPI_SERVER_PORT=7000\n"), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(),
		WithEnvFile(envPath),
		WithEnvMap(map[string]string{"API_FIREBASE_PROJECT_ID": "from-map"}),
		WithoutSystemEnv(),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Firebase.ProjectID != "from-map" {
		t.Errorf("expected env map to win, got %s", cfg.Firebase.ProjectID)
	}
	if cfg.Server.Port != "7000" {
		t.Errorf("expected dotenv port, got %s", cfg.Server.Port)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if !slices.Contains(validationErr.Fields(), "Firebase.ProjectID") {
		t.Errorf("expected Firebase.ProjectID in %v", validationErr.Fields())
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "shop-dev",
		"API_PRICING_CURRENCY":    "dollars",
		"API_PRICING_TAX_RATE":    "-0.1",
		"API_PROMO_CODES":         "BROKEN",
		"API_NOTIFY_DRIVER":       "kafka",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	fields := validationErr.Fields()
	for _, want := range []string{"Pricing.Currency", "Pricing.TaxRate", "Promotions.Codes", "Notify.KafkaBrokers"} {
		if !slices.Contains(fields, want) {
			t.Errorf("expected %s in %v", want, fields)
		}
	}
}

func TestLoadRejectsUnknownNotifyDriver(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "shop-dev",
		"API_NOTIFY_DRIVER":       "smtp",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if !slices.Contains(validationErr.Fields(), "Notify.Driver") {
		t.Errorf("expected Notify.Driver in %v", validationErr.Fields())
	}
}

func TestParsePromoCodesSkipsBlankEntries(t *testing.T) {
	codes, err := parsePromoCodes(" WELCOME10=10, ,FLASH=100 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(codes) != 2 || codes["FLASH"] != 100 {
		t.Fatalf("unexpected codes %v", codes)
	}
	if _, err := parsePromoCodes("TOO_MUCH=101"); err == nil {
		t.Fatalf("expected error for percentage above 100")
	}
}
