//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/commerce/internal/domain"
	pconfig "github.com/hanko-field/commerce/internal/platform/config"
	pfirestore "github.com/hanko-field/commerce/internal/platform/firestore"
	"github.com/hanko-field/commerce/internal/repositories"
)

func newEmulatorProvider(t *testing.T, projectID string) *pfirestore.Provider {
	t.Helper()
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })
	waitForEndpoint(t, endpoint, 30*time.Second)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: projectID, EmulatorHost: endpoint})
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})
	return provider
}

func TestInventoryRepositoryIntegration(t *testing.T) {
	provider := newEmulatorProvider(t, "inventory-test")
	repo, err := NewInventoryRepository(provider)
	if err != nil {
		t.Fatalf("new inventory repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Second)
	if err := repo.UpsertProduct(ctx, domain.Product{
		ID:       "tee",
		Name:     "Logo Tee",
		Price:    decimal.RequireFromString("499.50"),
		Variants: map[string]int{"M": 4, "L": 1},
		Active:   true,
	}); err != nil {
		t.Fatalf("upsert product: %v", err)
	}

	product, err := repo.GetProduct(ctx, "tee")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if !product.Price.Equal(decimal.RequireFromString("499.5")) || product.Variants["M"] != 4 {
		t.Fatalf("unexpected product %+v", product)
	}

	medium := domain.StockKey{ProductID: "tee", VariantKey: "M"}

	// Concurrent holds on four units never exceed the ledger.
	var wg sync.WaitGroup
	var mu sync.Mutex
	held := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.Reserve(ctx, repositories.ReserveRequest{
				Reservation: domain.Reservation{
					ID:         fmt.Sprintf("rsv_%d", i),
					ProductID:  "tee",
					VariantKey: "M",
					Quantity:   1,
					OwnerID:    "user:u1",
					ExpiresAt:  now.Add(15 * time.Minute),
				},
				Now: now,
			})
			if err == nil {
				mu.Lock()
				held++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if held != 4 {
		t.Fatalf("expected 4 holds, got %d", held)
	}
	sum, err := repo.HeldQuantity(ctx, medium, now)
	if err != nil || sum != 4 {
		t.Fatalf("expected held 4, got %d err=%v", sum, err)
	}

	// Supersede one hold after decrementing the ledger.
	if _, err := repo.TryDecrement(ctx, medium, 1, now); err != nil {
		t.Fatalf("decrement: %v", err)
	}
	var reservedID string
	for i := 0; i < 8 && reservedID == ""; i++ {
		id := fmt.Sprintf("rsv_%d", i)
		res, changed, err := repo.Close(ctx, id, domain.ReservationStatusSuperseded, now)
		if err != nil {
			continue
		}
		if changed && res.Status == domain.ReservationStatusSuperseded {
			reservedID = id
		}
	}
	if reservedID == "" {
		t.Fatalf("expected to supersede one reservation")
	}
	if available, _ := repo.GetAvailable(ctx, medium); available != 3 {
		t.Fatalf("expected 3 available, got %d", available)
	}

	_, err = repo.TryDecrement(ctx, domain.StockKey{ProductID: "tee", VariantKey: "L"}, 2, now)
	var invErr *repositories.InventoryError
	if !errors.As(err, &invErr) || invErr.Code != repositories.InventoryErrorInsufficientStock || invErr.Available != 1 {
		t.Fatalf("expected insufficient stock with 1 available, got %v", err)
	}

	if _, err := repo.Increment(ctx, medium, 2, now); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if available, _ := repo.GetAvailable(ctx, medium); available != 5 {
		t.Fatalf("expected 5 available after restock, got %d", available)
	}

	expired, err := repo.ExpireDue(ctx, now.Add(16*time.Minute), 50)
	if err != nil {
		t.Fatalf("expire due: %v", err)
	}
	if expired != 3 {
		t.Fatalf("expected 3 expired holds, got %d", expired)
	}
	if sum, _ := repo.HeldQuantity(ctx, medium, now); sum != 0 {
		t.Fatalf("expected no live holds, got %d", sum)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	addr, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer addr.Close()
	return addr.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	args := []string{
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	}

	cmd := exec.Command("docker", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatalf("docker returned empty container id")
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "info")
	if err := cmd.Run(); err != nil {
		t.Fatalf("docker daemon not available: %v", err)
	}
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "stop", id)
	_ = cmd.Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("firestore emulator at %s did not become ready within %s", endpoint, timeout)
}

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"
