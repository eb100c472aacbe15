package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hanko-field/commerce/internal/platform/requestctx"
)

func TestEventLoggerMapsLevelsAndFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logEvent := EventLogger(zap.New(core))

	logEvent(context.Background(), "placement.rollback_failed", map[string]any{
		"level":   "error",
		"orderID": "ord_1",
		"error":   errors.New("restock failed"),
	})
	logEvent(context.Background(), "inventory.decrement", map[string]any{"quantity": 2})
	logEvent(context.Background(), "cart.debug", map[string]any{"level": "debug"})

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected debug entry filtered, got %d entries", len(entries))
	}
	if entries[0].Level != zapcore.ErrorLevel || entries[0].Message != "placement.rollback_failed" {
		t.Fatalf("unexpected first entry %+v", entries[0].Entry)
	}
	fields := entries[0].ContextMap()
	if fields["orderID"] != "ord_1" || fields["event"] != "placement.rollback_failed" {
		t.Fatalf("unexpected fields %#v", fields)
	}
	if _, ok := fields["level"]; ok {
		t.Fatalf("level must not be logged as a field")
	}
	if entries[1].Level != zapcore.InfoLevel || entries[1].ContextMap()["quantity"] != int64(2) {
		t.Fatalf("unexpected second entry %+v", entries[1])
	}
}

func TestEventLoggerUsesRequestLogger(t *testing.T) {
	baseCore, baseLogs := observer.New(zapcore.InfoLevel)
	reqCore, reqLogs := observer.New(zapcore.InfoLevel)
	logEvent := EventLogger(zap.New(baseCore))

	ctx := requestctx.WithLogger(context.Background(), zap.New(reqCore))
	logEvent(ctx, "cart.item_added", nil)

	if baseLogs.Len() != 0 || reqLogs.Len() != 1 {
		t.Fatalf("expected entry on request logger, base=%d request=%d", baseLogs.Len(), reqLogs.Len())
	}
}

func TestParseCloudTraceContext(t *testing.T) {
	sc, ok := parseCloudTraceContext("105445aa7843bc8bf206b12000100000/1;o=1")
	if !ok {
		t.Fatalf("expected header to parse")
	}
	if sc.TraceID().String() != "105445aa7843bc8bf206b12000100000" || !sc.IsSampled() || !sc.IsRemote() {
		t.Fatalf("unexpected span context %+v", sc)
	}
	if got := formatCloudTraceHeader(sc); got != "105445aa7843bc8bf206b12000100000/1;o=1" {
		t.Fatalf("unexpected round trip %q", got)
	}
	for _, bad := range []string{"", "abc", "105445aa7843bc8bf206b12000100000/xyz", "zz/1"} {
		if _, ok := parseCloudTraceContext(bad); ok {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestRequestLoggerRecordsRouteAndStatus(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	router := chi.NewRouter()
	router.Use(TraceMiddleware("demo-project"))
	router.Use(RequestLoggerMiddleware(zap.New(core)))
	router.Use(RecoveryMiddleware(zap.New(core)))
	router.Get("/orders/{orderId}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	router.Get("/panic", func(http.ResponseWriter, *http.Request) { panic("boom") })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/ord_1", nil))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 after panic, got %d", rec.Code)
	}

	var completed []observer.LoggedEntry
	for _, entry := range logs.All() {
		if entry.Message == "request completed" {
			completed = append(completed, entry)
		}
	}
	if len(completed) != 2 {
		t.Fatalf("expected 2 completion entries, got %d", len(completed))
	}
	if route := completed[0].ContextMap()["route"]; route != "/orders/{orderId}" {
		t.Fatalf("expected route pattern, got %v", route)
	}
	if completed[1].Level != zapcore.ErrorLevel {
		t.Fatalf("expected panic request logged at error, got %s", completed[1].Level)
	}
	if !strings.Contains(logs.All()[1].Message+logs.All()[2].Message, "panic recovered") {
		t.Fatalf("expected panic to be logged")
	}
}
